package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/psantana5/mp4fit/pkg/logging"
)

// EncoderCapability is the detected hardware encoder for this host
type EncoderCapability struct {
	Type                 EncoderType `json:"type" yaml:"type"`
	Encoder              string      `json:"encoder" yaml:"encoder"`
	FunctionallyVerified bool        `json:"functionally_verified" yaml:"functionally_verified"`
	Preference           Preference  `json:"preference" yaml:"preference"`

	// Advertised lists the hardware H.264 encoders `ffmpeg -encoders` reported
	Advertised []string `json:"advertised" yaml:"advertised"`
	// Usable holds the functional test results; Reasons explains rejections
	Usable     map[string]bool   `json:"usable" yaml:"usable"`
	Reasons    map[string]string `json:"reasons,omitempty" yaml:"reasons,omitempty"`
	DetectedAt time.Time         `json:"detected_at" yaml:"detected_at"`
}

// Reason returns a human-readable explanation for the selection
func (c EncoderCapability) Reason() string {
	switch c.Type {
	case EncoderNVENC:
		return "NVIDIA NVENC hardware encoder (runtime-validated)"
	case EncoderQSV:
		return "Intel Quick Sync Video hardware encoder (runtime-validated)"
	case EncoderVAAPI:
		return "VAAPI hardware encoder (runtime-validated)"
	}

	if c.Preference == PreferenceNone {
		return "Hardware acceleration disabled, using software encoder (libx264)"
	}
	var failed []string
	for _, enc := range c.Advertised {
		if c.Usable[enc] {
			continue
		}
		reason := c.Reasons[enc]
		if reason == "" {
			reason = "runtime validation failed"
		}
		failed = append(failed, fmt.Sprintf("%s (%s)", enc, reason))
	}
	if len(failed) > 0 {
		return "Using software encoder libx264 - hardware encoders unavailable: " + strings.Join(failed, "; ")
	}
	if reason := c.Reasons["ffmpeg"]; reason != "" {
		return "Using software encoder libx264 - " + reason
	}
	return "No hardware encoders available, using software encoder (libx264)"
}

// Detector discovers a usable hardware encoder. The listing from
// `ffmpeg -encoders` is only a candidate set; each candidate must complete a
// one-frame encode before it is selected.
//
// The result is computed once and shared; Revalidate recomputes it.
type Detector struct {
	FFmpegPath  string
	Preference  Preference
	Timeout     time.Duration // per functional test
	VAAPIDevice string
	Command     CommandFunc
	Logger      *logging.Logger

	// OnResult is called after every fresh detection (metrics hook)
	OnResult func(EncoderCapability)

	mu     sync.Mutex
	cached atomic.Pointer[EncoderCapability]
}

// NewDetector creates a detector for the given ffmpeg binary
func NewDetector(ffmpegPath string, pref Preference, timeout time.Duration, logger *logging.Logger) *Detector {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Detector{
		FFmpegPath:  ffmpegPath,
		Preference:  pref,
		Timeout:     timeout,
		VAAPIDevice: DefaultEncodeOptions().VAAPIDevice,
		Command:     exec.CommandContext,
		Logger:      logger,
	}
}

// Detect returns the memoized capability, running detection on first use.
// It never fails: any detection error degrades to the software encoder.
func (d *Detector) Detect(ctx context.Context) EncoderCapability {
	if c := d.cached.Load(); c != nil {
		return *c
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if c := d.cached.Load(); c != nil {
		return *c
	}
	return d.refresh(ctx)
}

// Revalidate discards the cached result and detects again
func (d *Detector) Revalidate(ctx context.Context) EncoderCapability {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.refresh(ctx)
}

// Cached returns the current result without triggering detection
func (d *Detector) Cached() (EncoderCapability, bool) {
	if c := d.cached.Load(); c != nil {
		return *c, true
	}
	return EncoderCapability{}, false
}

func (d *Detector) refresh(ctx context.Context) EncoderCapability {
	// A canceled request must not poison the process-wide cache
	c := d.detect(context.WithoutCancel(ctx))
	d.cached.Store(&c)
	if d.OnResult != nil {
		d.OnResult(c)
	}
	return c
}

func (d *Detector) detect(ctx context.Context) EncoderCapability {
	caps := EncoderCapability{
		Type:       EncoderSoftware,
		Encoder:    SoftwareEncoder,
		Preference: d.Preference,
		Advertised: []string{},
		Usable:     map[string]bool{SoftwareEncoder: true},
		Reasons:    map[string]string{},
		DetectedAt: time.Now(),
	}

	if d.Preference == PreferenceNone {
		d.Logger.Info("Hardware acceleration disabled by configuration")
		return caps
	}

	available, err := d.listEncoders(ctx)
	if err != nil {
		caps.Reasons["ffmpeg"] = err.Error()
		d.Logger.Warn("Encoder listing failed, using software encoder", logging.Fields{"error": err.Error()})
		return caps
	}

	for _, candidate := range h264Encoders {
		if d.Preference != PreferenceAuto && string(candidate.Type) != string(d.Preference) {
			continue
		}
		if !available[candidate.Encoder] {
			continue
		}
		caps.Advertised = append(caps.Advertised, candidate.Encoder)
		d.Logger.Debug("Running functional test", logging.Fields{"encoder": candidate.Encoder})

		usable, reason := d.testEncoder(ctx, candidate.Type, candidate.Encoder)
		caps.Usable[candidate.Encoder] = usable
		if !usable {
			caps.Reasons[candidate.Encoder] = reason
			d.Logger.Warn("Hardware encoder not usable", logging.Fields{
				"encoder": candidate.Encoder,
				"reason":  reason,
			})
			continue
		}
		if caps.Type == EncoderSoftware {
			caps.Type = candidate.Type
			caps.Encoder = candidate.Encoder
			caps.FunctionallyVerified = true
		}
	}

	d.Logger.Info("Encoder detection complete", logging.Fields{
		"encoder": caps.Encoder,
		"reason":  caps.Reason(),
	})
	return caps
}

// listEncoders queries `ffmpeg -encoders`
func (d *Detector) listEncoders(ctx context.Context) (map[string]bool, error) {
	ctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	cmd := d.command(ctx, d.FFmpegPath, "-hide_banner", "-encoders")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &bytes.Buffer{}

	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("ffmpeg not found: %w", err)
		}
		return nil, fmt.Errorf("failed to list encoders: %w", err)
	}
	return parseEncoderList(stdout.String()), nil
}

// parseEncoderList extracts names from lines like " V....D h264_nvenc  NVIDIA NVENC H.264 encoder"
func parseEncoderList(out string) map[string]bool {
	encoders := make(map[string]bool)
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "---") || strings.HasPrefix(line, "Encoders:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || len(fields[0]) != 6 {
			continue
		}
		switch fields[0][0] {
		case 'V', 'A', 'S':
			// The legend lines (" V..... = Video") have "=" as the name
			if fields[1] != "=" {
				encoders[fields[1]] = true
			}
		}
	}
	return encoders
}

// testEncoder runs a one-frame encode from a synthetic source into the null muxer
func (d *Detector) testEncoder(ctx context.Context, typ EncoderType, encoder string) (bool, string) {
	ctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	args := []string{"-hide_banner", "-nostdin"}
	if typ == EncoderVAAPI {
		args = append(args, "-vaapi_device", d.VAAPIDevice)
	}
	args = append(args,
		"-f", "lavfi",
		"-i", "testsrc2=size=256x256:rate=1",
		"-frames:v", "1",
	)
	if typ == EncoderVAAPI {
		args = append(args, "-vf", "format=nv12,hwupload")
	}
	args = append(args, "-c:v", encoder, "-f", "null", "-")

	cmd := d.command(ctx, d.FFmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return false, "validation timeout (encoder may be hung)"
		}
		return false, testFailureReason(stderr.String(), err)
	}
	return true, ""
}

// testFailureReason maps functional-test stderr to a short reason
func testFailureReason(stderr string, err error) string {
	switch {
	case strings.Contains(stderr, "Cannot load libcuda") || strings.Contains(stderr, "libcuda.so"):
		return "CUDA runtime not available (libcuda.so.1 not found)"
	case strings.Contains(stderr, "No NVENC capable devices found"):
		return "no NVENC-capable GPU found"
	case strings.Contains(stderr, "Driver does not support the required nvenc API version"):
		return "NVIDIA driver too old for this ffmpeg build"
	case strings.Contains(stderr, "Failed to initialise VAAPI connection") || strings.Contains(stderr, "No VA display found"):
		return "VAAPI device could not be opened"
	case strings.Contains(stderr, "Error initializing an MFX session") || strings.Contains(stderr, "MFX session"):
		return "Intel Media SDK session could not be created"
	case strings.Contains(stderr, "Cannot load"):
		return "required library not available"
	case strings.Contains(stderr, "Unknown encoder"):
		return "encoder not recognized by FFmpeg"
	default:
		return fmt.Sprintf("encode test failed: %v", err)
	}
}

func (d *Detector) command(ctx context.Context, name string, args ...string) *exec.Cmd {
	if d.Command != nil {
		return d.Command(ctx, name, args...)
	}
	return exec.CommandContext(ctx, name, args...)
}
