package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strconv"
	"strings"

	"github.com/psantana5/mp4fit/pkg/logging"
	"github.com/psantana5/mp4fit/pkg/models"
)

// Error is returned by Probe. It carries one of the probe failure kinds and
// a bounded excerpt of the tool's diagnostics.
type Error struct {
	FailureKind models.FailureKind
	Path        string
	Stderr      string
	Err         error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("probe %s: %s", e.Path, e.FailureKind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }
func (e *Error) Kind() models.FailureKind { return e.FailureKind }
func (e *Error) Detail() string { return e.Stderr }

// maxStderr bounds the diagnostic excerpt kept on an Error
const maxStderr = 512

// Prober extracts metadata with ffprobe
type Prober struct {
	// Path to the ffprobe binary
	Path string

	// Fallback supplies width/height when the stream does not report them,
	// which yields a no-op geometry downstream.
	Fallback models.Target

	// Command builds the process; defaults to exec.CommandContext
	Command func(ctx context.Context, name string, args ...string) *exec.Cmd

	Logger *logging.Logger
}

// New creates a prober for the given ffprobe binary
func New(path string, fallback models.Target, logger *logging.Logger) *Prober {
	if path == "" {
		path = "ffprobe"
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Prober{
		Path:     path,
		Fallback: fallback,
		Command:  exec.CommandContext,
		Logger:   logger,
	}
}

// ffprobeOutput mirrors the subset of `ffprobe -print_format json` we read
type ffprobeOutput struct {
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		Size       string `json:"size"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		Duration  string `json:"duration"`
	} `json:"streams"`
}

// Probe reads container and stream metadata from path. It has no side effects.
func (p *Prober) Probe(ctx context.Context, path string) (*models.MediaProbe, error) {
	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	command := p.Command
	if command == nil {
		command = exec.CommandContext
	}
	cmd := command(ctx, p.Path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if isToolUnavailable(err) {
			return nil, &Error{FailureKind: models.FailureToolUnavailable, Path: path, Err: err}
		}
		if ctx.Err() != nil {
			return nil, &Error{FailureKind: models.FailureCanceled, Path: path, Err: ctx.Err()}
		}
		return nil, &Error{
			FailureKind: models.FailureMalformedInput,
			Path:        path,
			Stderr:      models.Tail(stderr.String(), maxStderr),
			Err:         err,
		}
	}

	result, err := p.parse(stdout.Bytes())
	if err != nil {
		var perr *Error
		if errors.As(err, &perr) {
			perr.Path = path
			return nil, perr
		}
		return nil, err
	}

	if result.IsWebM() {
		p.Logger.Info("WebM-family input detected", logging.Fields{
			"path":   path,
			"codec":  result.VideoCodec,
			"format": result.FormatName,
		})
	}
	return result, nil
}

func (p *Prober) parse(data []byte) (*models.MediaProbe, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &Error{FailureKind: models.FailureMalformedInput, Err: fmt.Errorf("decode ffprobe output: %w", err)}
	}

	result := &models.MediaProbe{FormatName: out.Format.FormatName}
	videoFound := false
	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if videoFound {
				continue
			}
			videoFound = true
			result.VideoCodec = s.CodecName
			result.Width = s.Width
			result.Height = s.Height
			if d := parseSeconds(s.Duration); d > 0 && result.DurationSeconds == 0 {
				result.DurationSeconds = d
			}
		case "audio":
			if !result.HasAudio {
				result.HasAudio = true
				result.AudioCodec = s.CodecName
			}
		}
	}
	if !videoFound {
		return nil, &Error{FailureKind: models.FailureNoVideoStream, Err: errors.New("no video stream found")}
	}

	// Container duration wins over the stream duration when both exist
	if d := parseSeconds(out.Format.Duration); d > 0 {
		result.DurationSeconds = d
	}
	if size, err := strconv.ParseInt(out.Format.Size, 10, 64); err == nil {
		result.SizeBytes = size
	}

	if result.Width <= 0 || result.Height <= 0 {
		p.Logger.Warn("Video stream has no dimensions, using target", logging.Fields{
			"target": p.Fallback.String(),
		})
		result.Width = p.Fallback.Width
		result.Height = p.Fallback.Height
	}
	return result, nil
}

// parseSeconds converts ffprobe's decimal seconds; "N/A" and garbage yield 0
func parseSeconds(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func isToolUnavailable(err error) bool {
	return errors.Is(err, exec.ErrNotFound) ||
		errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, fs.ErrPermission)
}
