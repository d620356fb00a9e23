package agent

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/psantana5/mp4fit/internal/fakeff"
)

func newFakeDetector(t *testing.T, scenario string, pref Preference) (*Detector, string) {
	t.Helper()
	calls := filepath.Join(t.TempDir(), "calls")
	d := NewDetector("ffmpeg", pref, 5*time.Second, nil)
	d.Command = fakeff.Command(scenario, calls)
	return d, calls
}

func TestDetectEncoders(t *testing.T) {
	tests := []struct {
		name       string
		scenario   string
		pref       Preference
		wantType   EncoderType
		wantEnc    string
		verified   bool
		wantReason string
	}{
		{"no hardware advertised", "encoders=none", PreferenceAuto, EncoderSoftware, "libx264", false, "No hardware encoders available"},
		{"nvenc usable", "encoders=nvenc", PreferenceAuto, EncoderNVENC, "h264_nvenc", true, "NVIDIA NVENC"},
		{"nvenc advertised but driver missing", "encoders=nvenc-broken", PreferenceAuto, EncoderSoftware, "libx264", false, "CUDA runtime not available"},
		{"vaapi after broken nvenc", "encoders=vaapi", PreferenceAuto, EncoderVAAPI, "h264_vaapi", true, "VAAPI"},
		{"preference restricts to nvenc", "encoders=vaapi", PreferenceNVENC, EncoderSoftware, "libx264", false, "h264_nvenc"},
		{"hardware disabled", "encoders=nvenc", PreferenceNone, EncoderSoftware, "libx264", false, "disabled"},
		{"listing fails", "encoders=fail", PreferenceAuto, EncoderSoftware, "libx264", false, "libx264"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _ := newFakeDetector(t, tt.scenario, tt.pref)
			caps := d.Detect(context.Background())

			if caps.Type != tt.wantType || caps.Encoder != tt.wantEnc {
				t.Errorf("Detect() = %s/%s, want %s/%s", caps.Type, caps.Encoder, tt.wantType, tt.wantEnc)
			}
			if caps.FunctionallyVerified != tt.verified {
				t.Errorf("FunctionallyVerified = %v, want %v", caps.FunctionallyVerified, tt.verified)
			}
			if !strings.Contains(caps.Reason(), tt.wantReason) {
				t.Errorf("Reason() = %q, want substring %q", caps.Reason(), tt.wantReason)
			}
		})
	}
}

func TestDetectIsMemoized(t *testing.T) {
	d, calls := newFakeDetector(t, "encoders=nvenc", PreferenceAuto)
	var results int
	d.OnResult = func(EncoderCapability) { results++ }

	first := d.Detect(context.Background())
	second := d.Detect(context.Background())
	if first.Encoder != second.Encoder {
		t.Errorf("cached result changed: %s vs %s", first.Encoder, second.Encoder)
	}
	// One listing plus one functional test
	if n := len(fakeff.Calls(calls)); n != 2 {
		t.Errorf("expected 2 tool invocations, got %d: %v", n, fakeff.Calls(calls))
	}
	if results != 1 {
		t.Errorf("OnResult called %d times, want 1", results)
	}

	d.Revalidate(context.Background())
	if n := len(fakeff.Calls(calls)); n != 4 {
		t.Errorf("Revalidate should re-run detection, got %d invocations", n)
	}
	if results != 2 {
		t.Errorf("OnResult called %d times after Revalidate, want 2", results)
	}
}

func TestDetectCanceledContextStillCaches(t *testing.T) {
	d, _ := newFakeDetector(t, "encoders=nvenc", PreferenceAuto)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	caps := d.Detect(ctx)
	if caps.Encoder != "h264_nvenc" {
		t.Errorf("detection must not depend on the caller's cancellation, got %s (%s)", caps.Encoder, caps.Reason())
	}
	if _, ok := d.Cached(); !ok {
		t.Error("expected cached result")
	}
}

func TestParseEncoderList(t *testing.T) {
	out := `Encoders:
 V..... = Video
 A..... = Audio
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC (codec h264)
 V....D h264_nvenc           NVIDIA NVENC H.264 encoder (codec h264)
 A....D aac                  AAC (Advanced Audio Coding)
`
	got := parseEncoderList(out)
	for _, want := range []string{"libx264", "h264_nvenc", "aac"} {
		if !got[want] {
			t.Errorf("expected %s in %v", want, got)
		}
	}
	if got["="] || len(got) != 3 {
		t.Errorf("legend lines must be skipped: %v", got)
	}
}

func TestTestFailureReason(t *testing.T) {
	tests := []struct {
		stderr string
		want   string
	}{
		{"[h264_nvenc] Cannot load libcuda.so.1", "CUDA runtime"},
		{"No NVENC capable devices found", "no NVENC-capable GPU"},
		{"Failed to initialise VAAPI connection: -1 (unknown libva error).", "VAAPI device"},
		{"Error initializing an MFX session: -9.", "Intel Media SDK"},
		{"Unknown encoder 'h264_qsv'", "not recognized"},
		{"something else", "encode test failed"},
	}
	for _, tt := range tests {
		if got := testFailureReason(tt.stderr, context.Canceled); !strings.Contains(got, tt.want) {
			t.Errorf("testFailureReason(%q) = %q, want substring %q", tt.stderr, got, tt.want)
		}
	}
}
