package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/psantana5/mp4fit/pkg/agent"
	"github.com/psantana5/mp4fit/pkg/logging"
	"github.com/psantana5/mp4fit/pkg/models"
	"github.com/psantana5/mp4fit/pkg/resources"
	"github.com/psantana5/mp4fit/pkg/retry"
	"github.com/psantana5/mp4fit/pkg/tracing"
)

// detailLimit bounds the diagnostic excerpt of a failed result
const detailLimit = 512

// job is the orchestrator's private state for one registered conversion
type job struct {
	mu    sync.Mutex
	model models.ConversionJob

	id        string
	name      string
	inputSize int64
	sink      safeSink
	cancel    context.CancelFunc
	done      chan struct{}
	inputOnce sync.Once
}

func (j *job) snapshot() models.ConversionJob {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.model.Snapshot()
}

// transition records a status change and forwards it to the sink
func (j *job) transition(to models.JobStatus, reason string) error {
	j.mu.Lock()
	err := j.model.TransitionTo(to, reason)
	j.mu.Unlock()
	if err != nil {
		return err
	}
	j.sink.OnTransition(j.model.Key, to)
	return nil
}

func (j *job) setEncoder(encoder string) {
	j.mu.Lock()
	j.model.Encoder = encoder
	j.mu.Unlock()
}

func (j *job) setProgress(p models.Progress) {
	if p.Percent == nil {
		return
	}
	j.mu.Lock()
	j.model.Progress = *p.Percent
	j.mu.Unlock()
}

// stageError attaches a failure kind to errors raised by the orchestrator
// itself rather than by a pipeline component.
type stageError struct {
	kind  models.FailureKind
	stage string
	err   error
}

func (e *stageError) Error() string { return e.stage + ": " + e.err.Error() }

func (e *stageError) Unwrap() error { return e.err }

func (e *stageError) Kind() models.FailureKind { return e.kind }

func failure(kind models.FailureKind, stage string, err error) error {
	return &stageError{kind: kind, stage: stage, err: err}
}

// run drives one job to a terminal result. Whatever happens in the
// pipeline, including a panic, finish runs exactly once.
func (o *Orchestrator) run(ctx context.Context, j *job) {
	key := j.model.Key
	logger := o.logger.WithField("job", key.String())
	ctx, span := o.tracing.StartSpan(ctx, "conversion", attribute.String("job.key", key.String()))
	started := time.Now()

	var result models.Result
	var runErr error
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Job panicked", logging.Fields{"panic": fmt.Sprint(r), "stack": string(debug.Stack())})
			runErr = failure(models.FailureInternal, string(j.snapshot().Status), fmt.Errorf("panic: %v", r))
		}
		o.finish(ctx, j, &result, runErr, started, logger)
		tracing.EndSpan(span, runErr)
	}()

	j.sink.OnTransition(key, models.JobStatusQueued)
	result, runErr = o.execute(ctx, j, logger)
}

func (o *Orchestrator) execute(ctx context.Context, j *job, logger *logging.Logger) (models.Result, error) {
	var result models.Result
	key := j.model.Key

	if o.slots != nil {
		waitStart := time.Now()
		select {
		case o.slots <- struct{}{}:
			defer func() { <-o.slots }()
		case <-ctx.Done():
			return result, failure(models.FailureCanceled, "queued", ctx.Err())
		}
		o.metrics.ObserveQueueWait(time.Since(waitStart))
	}
	if err := ctx.Err(); err != nil {
		return result, failure(models.FailureCanceled, "queued", err)
	}

	if err := j.transition(models.JobStatusProbing, ""); err != nil {
		return result, failure(models.FailureInternal, "probing", err)
	}
	if err := o.checkDisk(j, logger); err != nil {
		return result, err
	}

	stageCtx, span := o.tracing.StartSpan(ctx, "probe")
	prober := *o.prober
	prober.Fallback = j.model.Target
	info, err := prober.Probe(stageCtx, j.model.InputPath)
	tracing.EndSpan(span, err)
	if err != nil {
		return result, err
	}
	logger.Info("Probe complete", logging.Fields{
		"format":    info.FormatName,
		"codec":     info.VideoCodec,
		"width":     info.Width,
		"height":    info.Height,
		"duration":  info.DurationSeconds,
		"has_audio": info.HasAudio,
	})

	capability := o.detector.Detect(ctx)
	profile := agent.ProfileFor(capability, o.cfg.Encode)
	target := j.model.Target
	geom := agent.PlanGeometry(info.Width, info.Height, target.Width, target.Height)
	logger = logger.WithField("encoder", profile.Codec)
	j.setEncoder(profile.Codec)
	result.Encoder = profile.Codec

	if err := j.transition(models.JobStatusEncoding, profile.Codec); err != nil {
		return result, failure(models.FailureInternal, "encoding", err)
	}
	stageCtx, span = o.tracing.StartSpan(ctx, "encode", attribute.String("encoder", profile.Codec))
	res, err := o.transcoder.Transcode(stageCtx, agent.TranscodeRequest{
		Input:        j.model.InputPath,
		Output:       j.model.OutputPath,
		Probe:        info,
		Geometry:     geom,
		Profile:      profile,
		DurationHint: info.DurationSeconds,
		OnProgress: func(p models.Progress) {
			j.setProgress(p)
			j.sink.OnProgress(key, p)
		},
	})
	tracing.EndSpan(span, err)
	if res != nil {
		result.Encoder = res.Profile.Codec
		result.FellBack = res.FellBack
		j.setEncoder(res.Profile.Codec)
		if res.FellBack {
			o.metrics.HardwareFallback(profile.Codec)
		}
	}
	if err != nil {
		return result, err
	}
	o.metrics.ObserveEncode(result.Encoder, res.Duration)

	if err := j.transition(models.JobStatusFinalizing, ""); err != nil {
		return result, failure(models.FailureInternal, "finalizing", err)
	}
	artifact, note, err := o.finalize(ctx, j, logger)
	if err != nil {
		return result, err
	}
	result.Succeeded = true
	result.Artifact = artifact
	result.DeliveryNote = note
	return result, nil
}

// checkDisk fails the job when the work directory cannot hold the output.
// A failing filesystem query is logged and ignored.
func (o *Orchestrator) checkDisk(j *job, logger *logging.Logger) error {
	required := o.cfg.MinFreeMB + uint64((j.inputSize+(1<<20)-1)>>20)
	info, err := resources.EnsureSufficientDiskSpace(o.cfg.WorkDir, required)
	if err != nil {
		var diskErr *resources.InsufficientDiskError
		if errors.As(err, &diskErr) {
			return err
		}
		logger.Warn("Disk space check failed", logging.Fields{"error": err.Error()})
		return nil
	}
	if info.UsedPercent > 90 {
		logger.Warn("Work directory disk usage is high", logging.Fields{
			"used_percent": fmt.Sprintf("%.1f", info.UsedPercent),
			"available_mb": info.AvailableMB,
		})
	}
	return nil
}

// finalize validates the output and places it for delivery. A failed
// durable copy still succeeds; the transient output is then kept and the
// result carries a delivery note.
func (o *Orchestrator) finalize(ctx context.Context, j *job, logger *logging.Logger) (*models.Artifact, string, error) {
	out := j.model.OutputPath
	info, err := os.Stat(out)
	if err != nil {
		return nil, "", failure(models.FailureEncodeGeneric, "finalizing", fmt.Errorf("output missing: %w", err))
	}
	if info.Size() == 0 {
		return nil, "", failure(models.FailureEncodeGeneric, "finalizing", errors.New("output is empty"))
	}

	ceiling := j.model.SizeCeilingBytes
	artifact := &models.Artifact{
		Path:      out,
		SizeBytes: info.Size(),
		LinkOnly:  ceiling > 0 && info.Size() > ceiling,
	}
	o.metrics.ObserveOutputSize(info.Size())
	if artifact.LinkOnly {
		logger.Info("Output exceeds size ceiling, delivering as link", logging.Fields{
			"size_bytes":    info.Size(),
			"ceiling_bytes": ceiling,
		})
	}

	if o.cfg.PublicDir == "" {
		return artifact, "", nil
	}

	var dest string
	err = retry.Do(ctx, o.cfg.CopyRetry, func() error {
		var perr error
		dest, perr = publish(out, o.cfg.PublicDir, publicNames(j.name, j.id))
		return perr
	})
	if err != nil {
		o.metrics.CleanupFailure("publish")
		logger.Warn("Durable copy failed, keeping transient output", logging.Fields{"dir": o.cfg.PublicDir, "error": err.Error()})
		return artifact, "durable copy failed; the file is only available until delivery is confirmed", nil
	}
	o.removeFile(out, "output", logger)

	artifact.Path = dest
	artifact.Durable = true
	if o.cfg.PublicBaseURL != "" {
		artifact.PublicURL = strings.TrimRight(o.cfg.PublicBaseURL, "/") + "/converted/" + url.PathEscape(filepath.Base(dest))
	}
	return artifact, "", nil
}

// publicNames lists the names tried in the public directory: the requested
// one, then one made unique with the job id.
func publicNames(name, id string) []string {
	ext := filepath.Ext(name)
	short := id
	if len(short) > 8 {
		short = short[:8]
	}
	return []string{name, strings.TrimSuffix(name, ext) + "-" + short + ext}
}

// publish copies src into dir under the first of names that is free and
// returns the path it used. The copy is written to a temporary file and
// hard-linked into place, so an existing file is never replaced.
func publish(src, dir string, names []string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("open output: %w", err))
	}
	defer in.Close()

	tmp, err := os.CreateTemp(dir, ".mp4fit-*.part")
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return "", retry.Permanent(err)
		}
		return "", err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return "", fmt.Errorf("copy: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return "", err
	}

	for _, name := range names {
		dest := filepath.Join(dir, name)
		err := os.Link(tmpName, dest)
		if err == nil {
			return dest, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", err
		}
	}
	return "", retry.Permanent(fmt.Errorf("no free name in %s for %s", dir, names[0]))
}

// finish produces the terminal result: partial output and input removed,
// registry entry dropped, sink told last.
func (o *Orchestrator) finish(ctx context.Context, j *job, result *models.Result, err error, started time.Time, logger *logging.Logger) {
	defer o.wg.Done()
	defer close(j.done)

	key := j.model.Key
	result.Key = key
	result.Duration = time.Since(started)

	status := models.JobStatusSucceeded
	reason := ""
	if err != nil {
		kind := models.KindOf(err)
		if ctx.Err() != nil {
			kind = models.FailureCanceled
		}
		result.Succeeded = false
		result.Artifact = nil
		result.DeliveryNote = ""
		result.FailureKind = kind
		result.Detail = models.Tail(models.DetailOf(err), detailLimit)
		status = models.JobStatusFailed
		reason = string(kind)
		o.removeFile(j.model.OutputPath, "output", logger)
	}

	o.removeInput(j, logger)
	if terr := j.transition(status, reason); terr != nil {
		logger.Error("Invalid terminal transition", logging.Fields{"error": terr.Error()})
	}
	o.unregister(j)
	j.cancel()

	o.metrics.JobFinished(result.Succeeded, string(result.FailureKind))
	j.sink.OnTerminal(key, *result)
}

// removeInput deletes the job's input exactly once
func (o *Orchestrator) removeInput(j *job, logger *logging.Logger) {
	j.inputOnce.Do(func() {
		o.removeFile(j.model.InputPath, "input", logger)
	})
}

func (o *Orchestrator) removeFile(path, stage string, logger *logging.Logger) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		o.metrics.CleanupFailure(stage)
		logger.Warn("Failed to remove file", logging.Fields{"path": path, "stage": stage, "error": err.Error()})
	}
}
