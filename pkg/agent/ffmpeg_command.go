package agent

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/psantana5/mp4fit/pkg/models"
)

// EncodePlan is a complete, ready-to-run ffmpeg invocation for one attempt
type EncodePlan struct {
	Input    string
	Output   string
	Args     []string
	Filter   string
	Profile  EncoderProfile
	Geometry Geometry
	HasAudio bool
}

// ErrNoVideoDestination is returned when a plan would produce no video stream
var ErrNoVideoDestination = errors.New("encode plan requires a video stream and an output path")

// BuildPlan assembles the ffmpeg arguments for probe + geometry + profile.
// It is deterministic: the same inputs always yield the same argv.
func BuildPlan(input, output string, probe *models.MediaProbe, geom Geometry, profile EncoderProfile) (*EncodePlan, error) {
	if probe == nil || output == "" || input == "" {
		return nil, ErrNoVideoDestination
	}
	if geom.TargetW <= 0 || geom.TargetH <= 0 {
		return nil, fmt.Errorf("invalid target geometry %dx%d", geom.TargetW, geom.TargetH)
	}

	opts := profile.Options
	plan := &EncodePlan{
		Input:    input,
		Output:   output,
		Profile:  profile,
		Geometry: geom,
		HasAudio: probe.HasAudio,
		Filter:   videoFilter(geom, profile),
	}

	args := []string{
		"-hide_banner",
		"-nostdin", // never block on the terminal
		"-y",
		"-stats", // keep time= progress markers on stderr
	}

	// VAAPI needs the device opened before the input
	if profile.Type == EncoderVAAPI {
		args = append(args, "-vaapi_device", opts.VAAPIDevice)
	}

	args = append(args, "-i", input, "-map", "0:v:0")
	if probe.HasAudio {
		args = append(args, "-map", "0:a:0")
	}

	if plan.Filter != "" {
		args = append(args, "-vf", plan.Filter)
	}

	args = append(args, "-c:v", profile.Codec)
	args = append(args, rateControlArgs(profile)...)

	// VAAPI selects its own surface format through the hwupload chain
	if profile.Type != EncoderVAAPI {
		args = append(args, "-pix_fmt", "yuv420p")
	}

	if probe.HasAudio {
		args = append(args,
			"-c:a", "aac",
			"-b:a", opts.AudioBitrate,
			"-ac", "2",
		)
	} else {
		args = append(args, "-an")
	}

	args = append(args,
		"-movflags", "+faststart", // moov atom up front for progressive playback
		output,
	)

	plan.Args = args
	return plan, nil
}

func videoFilter(geom Geometry, profile EncoderProfile) string {
	var chain []string
	if f := geom.Filter(); f != "" {
		chain = append(chain, f)
	}
	if profile.Type == EncoderVAAPI {
		chain = append(chain, "format=nv12", "hwupload")
	}
	return strings.Join(chain, ",")
}

// rateControlArgs returns the video rate-control flags for a profile.
// Hardware encoders use a quality target bounded by a peak rate; software
// uses a constant bitrate plus a speed preset.
func rateControlArgs(profile EncoderProfile) []string {
	opts := profile.Options
	quality := strconv.Itoa(opts.HWQuality)

	switch profile.Type {
	case EncoderNVENC:
		return []string{
			"-preset", "p4",
			"-rc", "vbr",
			"-cq", quality,
			"-b:v", "0",
			"-maxrate", opts.HWMaxRate,
			"-bufsize", opts.HWBufSize,
		}
	case EncoderQSV:
		return []string{
			"-preset", "medium",
			"-global_quality", quality,
			"-maxrate", opts.HWMaxRate,
			"-bufsize", opts.HWBufSize,
		}
	case EncoderVAAPI:
		return []string{
			"-rc_mode", "QVBR",
			"-global_quality", quality,
			"-b:v", opts.VideoBitrate,
			"-maxrate", opts.HWMaxRate,
			"-bufsize", opts.HWBufSize,
		}
	default:
		return []string{
			"-b:v", opts.VideoBitrate,
			"-preset", opts.SoftwarePreset,
			"-threads", "0",
		}
	}
}

// CommandLine renders the plan for logs
func (p *EncodePlan) CommandLine(binary string) string {
	return binary + " " + strings.Join(p.Args, " ")
}
