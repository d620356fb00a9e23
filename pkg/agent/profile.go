package agent

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// CommandFunc builds an external process. Components default to
// exec.CommandContext; tests substitute a re-exec of the test binary.
type CommandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// EncoderType identifies the encoder family used for a job
type EncoderType string

const (
	EncoderSoftware EncoderType = "none"
	EncoderNVENC    EncoderType = "nvenc"
	EncoderQSV      EncoderType = "qsv"
	EncoderVAAPI    EncoderType = "vaapi"
)

// Preference is the operator's hardware acceleration choice
type Preference string

const (
	PreferenceAuto  Preference = "auto"
	PreferenceNVENC Preference = "nvenc"
	PreferenceQSV   Preference = "qsv"
	PreferenceVAAPI Preference = "vaapi"
	PreferenceNone  Preference = "none"
)

// ParsePreference validates a configured hwaccel value
func ParsePreference(s string) (Preference, error) {
	switch p := Preference(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PreferenceAuto, nil
	case PreferenceAuto, PreferenceNVENC, PreferenceQSV, PreferenceVAAPI, PreferenceNone:
		return p, nil
	default:
		return "", fmt.Errorf("invalid hwaccel preference %q (want auto, nvenc, qsv, vaapi or none)", s)
	}
}

// h264Encoders maps each hardware type to its ffmpeg H.264 encoder, in
// detection priority order.
var h264Encoders = []struct {
	Type    EncoderType
	Encoder string
}{
	{EncoderNVENC, "h264_nvenc"},
	{EncoderQSV, "h264_qsv"},
	{EncoderVAAPI, "h264_vaapi"},
}

// SoftwareEncoder is the always-available fallback
const SoftwareEncoder = "libx264"

// EncodeOptions are the tunables shared by every profile
type EncodeOptions struct {
	SoftwarePreset string // libx264 preset, or "auto"
	VideoBitrate   string // constant bitrate for software encodes
	AudioBitrate   string
	HWQuality      int    // -cq / -global_quality
	HWMaxRate      string // peak bitrate for hardware VBR
	HWBufSize      string
	VAAPIDevice    string
}

// DefaultEncodeOptions returns the stock profile knobs
func DefaultEncodeOptions() EncodeOptions {
	return EncodeOptions{
		SoftwarePreset: "fast",
		VideoBitrate:   "5000k",
		AudioBitrate:   "192k",
		HWQuality:      23,
		HWMaxRate:      "8M",
		HWBufSize:      "16M",
		VAAPIDevice:    "/dev/dri/renderD128",
	}
}

// EncoderProfile is the encoder choice for one job. It is a value type; the
// only permitted change is Downgrade, which returns a new software profile.
type EncoderProfile struct {
	Type       EncoderType   `json:"type"`
	Codec      string        `json:"codec"`
	IsHardware bool          `json:"is_hardware"`
	Options    EncodeOptions `json:"-"`
}

// ErrAlreadySoftware is returned when downgrading a software profile
var ErrAlreadySoftware = errors.New("encoder profile is already software")

// SoftwareProfile returns the libx264 profile
func SoftwareProfile(opts EncodeOptions) EncoderProfile {
	return EncoderProfile{
		Type:    EncoderSoftware,
		Codec:   SoftwareEncoder,
		Options: opts,
	}
}

// ProfileFor selects the profile matching a detected capability
func ProfileFor(capability EncoderCapability, opts EncodeOptions) EncoderProfile {
	if capability.Type == EncoderSoftware || capability.Encoder == "" || !capability.FunctionallyVerified {
		return SoftwareProfile(opts)
	}
	return EncoderProfile{
		Type:       capability.Type,
		Codec:      capability.Encoder,
		IsHardware: true,
		Options:    opts,
	}
}

// Downgrade performs the single hardware to software transition
func (p EncoderProfile) Downgrade() (EncoderProfile, error) {
	if !p.IsHardware {
		return p, ErrAlreadySoftware
	}
	return SoftwareProfile(p.Options), nil
}

func (p EncoderProfile) String() string {
	if p.IsHardware {
		return fmt.Sprintf("%s (%s)", p.Codec, p.Type)
	}
	return fmt.Sprintf("%s (preset %s)", p.Codec, p.Options.SoftwarePreset)
}
