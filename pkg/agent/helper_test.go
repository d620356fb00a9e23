package agent

import (
	"testing"

	"github.com/psantana5/mp4fit/internal/fakeff"
)

// TestHelperProcess is not a real test; fakeff re-executes the test binary
// with it selected to impersonate ffmpeg.
func TestHelperProcess(t *testing.T) {
	fakeff.Main()
}
