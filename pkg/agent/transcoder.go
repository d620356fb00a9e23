package agent

import (
	"context"
	"errors"
	"os"

	"github.com/psantana5/mp4fit/pkg/logging"
	"github.com/psantana5/mp4fit/pkg/models"
)

// TranscodeRequest is everything needed to encode one input
type TranscodeRequest struct {
	Input        string
	Output       string
	Probe        *models.MediaProbe
	Geometry     Geometry
	Profile      EncoderProfile
	DurationHint float64
	OnProgress   ProgressFunc
}

// TranscodeResult is the outcome of the final attempt
type TranscodeResult struct {
	*RunResult
	Profile  EncoderProfile `json:"profile"`
	FellBack bool           `json:"fell_back"`
	Attempts int            `json:"attempts"`
}

// Transcoder runs a request with at most one hardware to software downgrade.
// The second attempt is a fresh run of the software plan; its failure is
// terminal whatever the diagnostics say.
type Transcoder struct {
	Runner *Runner
	Logger *logging.Logger

	// OnFallback is called when a hardware attempt is abandoned for software
	OnFallback func(from EncoderProfile, cause error)
}

// NewTranscoder wraps a runner
func NewTranscoder(runner *Runner, logger *logging.Logger) *Transcoder {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Transcoder{Runner: runner, Logger: logger}
}

// Transcode builds and runs the plan for req
func (t *Transcoder) Transcode(ctx context.Context, req TranscodeRequest) (*TranscodeResult, error) {
	progress := monotonic(req.OnProgress)

	plan, err := BuildPlan(req.Input, req.Output, req.Probe, req.Geometry, req.Profile)
	if err != nil {
		return nil, err
	}

	res := &TranscodeResult{Profile: req.Profile, Attempts: 1}
	run, err := t.Runner.Run(ctx, plan, req.DurationHint, progress)
	res.RunResult = run
	if err == nil || run.State != StateFailedRecoverable {
		return res, err
	}

	software, derr := req.Profile.Downgrade()
	if derr != nil {
		// Only hardware attempts can be recoverable; treat as fatal
		run.State = StateFailedFatal
		return res, err
	}

	t.Logger.Warn("Hardware encoder failed to load, retrying with software encoder", logging.Fields{
		"encoder": req.Profile.Codec,
		"detail":  models.DetailOf(err),
	})
	if t.OnFallback != nil {
		t.OnFallback(req.Profile, err)
	}
	if rmErr := os.Remove(req.Output); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		t.Logger.Warn("Failed to remove partial output", logging.Fields{"path": req.Output, "error": rmErr.Error()})
	}

	plan, err = BuildPlan(req.Input, req.Output, req.Probe, req.Geometry, software)
	if err != nil {
		return res, err
	}
	res.Profile = software
	res.FellBack = true
	res.Attempts = 2

	run, err = t.Runner.Run(ctx, plan, req.DurationHint, progress)
	res.RunResult = run
	if err != nil && run.State == StateFailedRecoverable {
		run.State = StateFailedFatal
	}
	return res, err
}

// monotonic clamps percentages to the highest one already delivered, so a
// restarted attempt does not move progress backwards.
func monotonic(fn ProgressFunc) ProgressFunc {
	if fn == nil {
		return nil
	}
	best := -1.0
	return func(p models.Progress) {
		if p.Percent != nil {
			if *p.Percent < best {
				clamped := best
				p.Percent = &clamped
			} else {
				best = *p.Percent
			}
		}
		fn(p)
	}
}
