package agent

import (
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"

	"github.com/psantana5/mp4fit/pkg/models"
)

// detailLimit bounds the diagnostic excerpt carried by an EncodeError
const detailLimit = 512

// EncodeError is a classified encoder failure
type EncodeError struct {
	FailureKind models.FailureKind
	Encoder     string
	ExitCode    int
	Stderr      string // last detailLimit bytes of diagnostics
	Err         error
}

func (e *EncodeError) Error() string {
	msg := fmt.Sprintf("encode with %s failed: %s", e.Encoder, e.FailureKind)
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" (exit %d)", e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *EncodeError) Unwrap() error { return e.Err }

func (e *EncodeError) Kind() models.FailureKind { return e.FailureKind }

func (e *EncodeError) Detail() string { return e.Stderr }

// Recoverable reports whether a software retry may fix this failure
func (e *EncodeError) Recoverable() bool {
	return e.FailureKind == models.FailureHardwareDriver
}

// Signatures of a hardware runtime that failed to load. They are only
// meaningful when the attempt used a hardware encoder.
var hardwareDriverSignatures = []string{
	"cannot load libcuda",
	"libcuda.so",
	"cannot load libnvidia-encode",
	"no nvenc capable devices found",
	"openencodesessionex failed",
	"driver does not support the required nvenc api version",
	"failed to initialise vaapi connection",
	"no va display found",
	"error initializing an mfx session",
	"error creating a mfx session",
}

var permissionSignatures = []string{
	"permission denied",
	"operation not permitted",
}

var corruptInputSignatures = []string{
	"invalid data found when processing input",
	"no such file or directory",
	"moov atom not found",
	"end of file",
	"could not find codec parameters",
}

var codecSignatures = []string{
	"unknown encoder",
	"unknown decoder",
	"decoder not found",
	"decoder (codec",
	"codec not currently supported",
	"unsupported codec",
	"no decoder for",
}

// classifyFailure maps diagnostic text to a failure kind. Hardware driver
// signatures are ignored for software attempts so that a software retry
// can never be classified as recoverable.
func classifyFailure(stderr string, hardware bool) models.FailureKind {
	lower := strings.ToLower(stderr)
	if hardware && containsAny(lower, hardwareDriverSignatures) {
		return models.FailureHardwareDriver
	}
	switch {
	case containsAny(lower, permissionSignatures):
		return models.FailurePermissionDenied
	case containsAny(lower, corruptInputSignatures):
		return models.FailureCorruptInput
	case containsAny(lower, codecSignatures):
		return models.FailureUnsupportedCodec
	default:
		return models.FailureEncodeGeneric
	}
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// isToolUnavailable reports start errors caused by a missing or
// non-executable binary
func isToolUnavailable(err error) bool {
	return errors.Is(err, exec.ErrNotFound) ||
		errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, fs.ErrPermission)
}
