package agent

import (
	"strings"
	"testing"

	"github.com/psantana5/mp4fit/pkg/models"
)

func TestClassifyFailure(t *testing.T) {
	tests := []struct {
		name     string
		stderr   string
		hardware bool
		want     models.FailureKind
	}{
		{"libcuda on hardware", "[h264_nvenc @ 0x1] Cannot load libcuda.so.1", true, models.FailureHardwareDriver},
		{"libcuda on software", "[h264_nvenc @ 0x1] Cannot load libcuda.so.1", false, models.FailureEncodeGeneric},
		{"no nvenc device", "No NVENC capable devices found", true, models.FailureHardwareDriver},
		{"session open", "OpenEncodeSessionEx failed: out of memory (10)", true, models.FailureHardwareDriver},
		{"vaapi init", "Failed to initialise VAAPI connection: -1", true, models.FailureHardwareDriver},
		{"permission", "/out/x.mp4: Permission denied", false, models.FailurePermissionDenied},
		{"invalid data", "in.mp4: Invalid data found when processing input", false, models.FailureCorruptInput},
		{"missing file", "in.mp4: No such file or directory", false, models.FailureCorruptInput},
		{"moov", "moov atom not found", false, models.FailureCorruptInput},
		{"unknown encoder", "Unknown encoder 'libx264'", false, models.FailureUnsupportedCodec},
		{"decoder", "Decoder (codec av1) not found for input stream #0:0", false, models.FailureUnsupportedCodec},
		{"generic", "Conversion failed!", false, models.FailureEncodeGeneric},
		{"hardware non-driver", "in.mp4: Invalid data found when processing input", true, models.FailureCorruptInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyFailure(tt.stderr, tt.hardware); got != tt.want {
				t.Errorf("classifyFailure(%q, %v) = %s, want %s", tt.stderr, tt.hardware, got, tt.want)
			}
		})
	}
}

func TestEncodeErrorCarriesKindAndDetail(t *testing.T) {
	err := &EncodeError{FailureKind: models.FailureUnsupportedCodec, Encoder: "libx264", ExitCode: 1, Stderr: "Unknown encoder"}
	if models.KindOf(err) != models.FailureUnsupportedCodec {
		t.Errorf("KindOf = %s", models.KindOf(err))
	}
	if models.DetailOf(err) != "Unknown encoder" {
		t.Errorf("DetailOf = %q", models.DetailOf(err))
	}
	if !strings.Contains(err.Error(), "exit 1") {
		t.Errorf("Error() = %q", err.Error())
	}
	if err.Recoverable() {
		t.Error("codec failures are not recoverable")
	}
}
