package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/psantana5/mp4fit/pkg/logging"
	"github.com/psantana5/mp4fit/pkg/models"
)

// RunState is the state of a single encode attempt
type RunState string

const (
	StateNotStarted        RunState = "not_started"
	StateRunning           RunState = "running"
	StateSucceeded         RunState = "succeeded"
	StateFailedRecoverable RunState = "failed_recoverable"
	StateFailedFatal       RunState = "failed_fatal"
)

var runTransitions = map[RunState][]RunState{
	StateNotStarted: {StateRunning, StateFailedFatal},
	StateRunning:    {StateSucceeded, StateFailedRecoverable, StateFailedFatal},
}

// attempt tracks the state of one process execution
type attempt struct {
	state RunState
}

func (a *attempt) transition(to RunState) error {
	for _, allowed := range runTransitions[a.state] {
		if allowed == to {
			a.state = to
			return nil
		}
	}
	return fmt.Errorf("invalid run transition from %s to %s", a.state, to)
}

// stderrTail is how much diagnostic output is retained for classification
const stderrTail = 64 << 10

// RunResult describes a finished attempt
type RunResult struct {
	State    RunState      `json:"state"`
	Encoder  string        `json:"encoder"`
	Output   string        `json:"output"`
	Duration time.Duration `json:"duration"`
}

// Runner executes encode plans with ffmpeg
type Runner struct {
	FFmpegPath       string
	ProgressInterval time.Duration
	Command          CommandFunc
	Logger           *logging.Logger
}

// NewRunner creates a runner for the given ffmpeg binary
func NewRunner(ffmpegPath string, progressInterval time.Duration, logger *logging.Logger) *Runner {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Runner{
		FFmpegPath:       ffmpegPath,
		ProgressInterval: progressInterval,
		Command:          exec.CommandContext,
		Logger:           logger,
	}
}

// Run executes plan once. durationHint is the input duration in seconds
// (0 when unknown). The returned result is non-nil even on failure; on
// failure the error is an *EncodeError.
func (r *Runner) Run(ctx context.Context, plan *EncodePlan, durationHint float64, onProgress ProgressFunc) (*RunResult, error) {
	a := &attempt{state: StateNotStarted}
	result := &RunResult{State: a.state, Encoder: plan.Profile.Codec, Output: plan.Output}
	started := time.Now()
	defer func() {
		result.State = a.state
		result.Duration = time.Since(started)
	}()

	command := r.Command
	if command == nil {
		command = exec.CommandContext
	}
	cmd := command(ctx, r.FFmpegPath, plan.Args...)
	cmd.WaitDelay = 5 * time.Second

	stderr, err := cmd.StderrPipe()
	if err != nil {
		a.transition(StateFailedFatal)
		return result, &EncodeError{FailureKind: models.FailureInternal, Encoder: plan.Profile.Codec, Err: err}
	}

	if err := cmd.Start(); err != nil {
		a.transition(StateFailedFatal)
		kind := models.FailureEncodeGeneric
		if isToolUnavailable(err) {
			kind = models.FailureToolUnavailable
		}
		return result, &EncodeError{FailureKind: kind, Encoder: plan.Profile.Codec, Err: err}
	}
	a.transition(StateRunning)

	log := r.Logger.WithField("encoder", plan.Profile.Codec)
	log.Debug("ffmpeg started", logging.Fields{"command": plan.CommandLine(r.FFmpegPath)})

	var emit ProgressFunc
	if onProgress != nil {
		relay := newProgressRelay(onProgress)
		defer relay.close()
		emit = relay.send
	}
	tracker := newProgressTracker(durationHint, r.ProgressInterval, emit)
	tail := newTailBuffer(stderrTail)

	// Drain stderr concurrently with the process; Wait must only be
	// called once the pipe has been read to EOF.
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		scanner.Split(splitStatsLines)
		for scanner.Scan() {
			line := scanner.Bytes()
			tail.WriteLine(line)
			if elapsed, ok := parseElapsed(string(line)); ok {
				tracker.observe(elapsed)
			}
		}
		// Keep the pipe empty if the scanner stopped early
		io.Copy(io.Discard, stderr)
	}()

	<-drained
	waitErr := cmd.Wait()

	if waitErr == nil {
		a.transition(StateSucceeded)
		tracker.complete()
		return result, nil
	}

	encErr := &EncodeError{
		Encoder: plan.Profile.Codec,
		Stderr:  models.Tail(tail.String(), detailLimit),
		Err:     waitErr,
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		encErr.ExitCode = exitErr.ExitCode()
	}

	if ctx.Err() != nil {
		encErr.FailureKind = models.FailureCanceled
		encErr.Err = ctx.Err()
		a.transition(StateFailedFatal)
		return result, encErr
	}

	encErr.FailureKind = classifyFailure(tail.String(), plan.Profile.IsHardware)
	if encErr.Recoverable() {
		a.transition(StateFailedRecoverable)
	} else {
		a.transition(StateFailedFatal)
	}
	log.Warn("ffmpeg failed", logging.Fields{
		"kind":      string(encErr.FailureKind),
		"exit_code": encErr.ExitCode,
	})
	return result, encErr
}
