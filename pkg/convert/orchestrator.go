package convert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/psantana5/mp4fit/pkg/agent"
	"github.com/psantana5/mp4fit/pkg/logging"
	"github.com/psantana5/mp4fit/pkg/metrics"
	"github.com/psantana5/mp4fit/pkg/models"
	"github.com/psantana5/mp4fit/pkg/probe"
	"github.com/psantana5/mp4fit/pkg/retry"
	"github.com/psantana5/mp4fit/pkg/tracing"
)

var (
	// ErrDuplicateJob is returned by Submit while a job with the same key is active
	ErrDuplicateJob = errors.New("a conversion for this input is already running")
	// ErrJobNotFound is returned for keys with no active job
	ErrJobNotFound = errors.New("conversion job not found")
	// ErrShuttingDown is returned by Submit after Shutdown has started
	ErrShuttingDown = errors.New("orchestrator is shutting down")
	// ErrForeignArtifact is returned by ConfirmDelivery for paths outside the work directory
	ErrForeignArtifact = errors.New("artifact is outside the work directory")
)

// Config holds the orchestrator tunables
type Config struct {
	// WorkDir holds transient outputs until delivery
	WorkDir string
	// PublicDir, when set, receives a durable copy of every artifact
	PublicDir     string
	PublicBaseURL string

	Target           models.Target
	SizeCeilingBytes int64

	// MaxConcurrentJobs bounds running jobs; 0 means unbounded
	MaxConcurrentJobs int
	// MinFreeMB is the free space kept in WorkDir on top of the input size
	MinFreeMB uint64

	Encode    agent.EncodeOptions
	CopyRetry retry.Config
}

// DefaultConfig returns the defaults used by the CLI
func DefaultConfig() Config {
	return Config{
		WorkDir:           filepath.Join(os.TempDir(), "mp4fit"),
		Target:            models.DefaultTarget,
		MaxConcurrentJobs: 2,
		MinFreeMB:         512,
		Encode:            agent.DefaultEncodeOptions(),
		CopyRetry:         retry.DefaultConfig(),
	}
}

// Dependencies are the pipeline components an orchestrator drives
type Dependencies struct {
	Prober     *probe.Prober
	Detector   *agent.Detector
	Transcoder *agent.Transcoder
	Metrics    *metrics.Metrics
	Tracing    *tracing.Provider
	Logger     *logging.Logger
}

// SubmitRequest describes one conversion
type SubmitRequest struct {
	Key       models.JobKey
	InputPath string
	// OutputName is the delivered file name; defaults to a generated one
	OutputName string
	// Target overrides the configured canvas when non-zero
	Target models.Target
	// SizeCeilingBytes overrides the configured ceiling when non-nil; 0 disables it
	SizeCeilingBytes *int64
	Sink             StatusSink
}

// Orchestrator owns the active-job registry and runs each job on its own
// goroutine. A job is registered from Submit until its terminal result has
// been produced; the input file belongs to the orchestrator for that time.
type Orchestrator struct {
	cfg        Config
	prober     *probe.Prober
	detector   *agent.Detector
	transcoder *agent.Transcoder
	metrics    *metrics.Metrics
	tracing    *tracing.Provider
	logger     *logging.Logger

	slots chan struct{}

	mu      sync.Mutex
	jobs    map[models.JobKey]*job
	closing bool
	wg      sync.WaitGroup
}

// New creates an orchestrator
func New(cfg Config, deps Dependencies) (*Orchestrator, error) {
	if deps.Prober == nil || deps.Detector == nil || deps.Transcoder == nil {
		return nil, fmt.Errorf("prober, detector and transcoder are required")
	}
	if cfg.WorkDir == "" {
		return nil, fmt.Errorf("work directory is required")
	}
	if cfg.Target == (models.Target{}) {
		cfg.Target = models.DefaultTarget
	}
	if !cfg.Target.Valid() {
		return nil, fmt.Errorf("invalid target %s: dimensions must be positive and even", cfg.Target)
	}
	if err := os.MkdirAll(cfg.WorkDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	if cfg.PublicDir != "" {
		if err := os.MkdirAll(cfg.PublicDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create public directory: %w", err)
		}
	}

	o := &Orchestrator{
		cfg:        cfg,
		prober:     deps.Prober,
		detector:   deps.Detector,
		transcoder: deps.Transcoder,
		metrics:    deps.Metrics,
		tracing:    deps.Tracing,
		logger:     deps.Logger,
		jobs:       make(map[models.JobKey]*job),
	}
	if o.tracing == nil {
		o.tracing = tracing.Noop()
	}
	if o.logger == nil {
		o.logger = logging.Discard()
	}
	if cfg.MaxConcurrentJobs > 0 {
		o.slots = make(chan struct{}, cfg.MaxConcurrentJobs)
	}
	return o, nil
}

// Config returns the effective configuration
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// Detector returns the capability detector shared by all jobs
func (o *Orchestrator) Detector() *agent.Detector {
	return o.detector
}

// Submit registers a job and starts it in the background. It returns as
// soon as the job is queued. On success the orchestrator owns the input
// file and deletes it when the job ends.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (models.JobKey, error) {
	if err := ctx.Err(); err != nil {
		return req.Key, err
	}
	if err := req.Key.Validate(); err != nil {
		return req.Key, err
	}
	info, err := os.Stat(req.InputPath)
	if err != nil {
		return req.Key, fmt.Errorf("input %s: %w", req.InputPath, err)
	}
	if !info.Mode().IsRegular() {
		return req.Key, fmt.Errorf("input %s is not a regular file", req.InputPath)
	}

	target := o.cfg.Target
	if req.Target != (models.Target{}) {
		if !req.Target.Valid() {
			return req.Key, fmt.Errorf("invalid target %s: dimensions must be positive and even", req.Target)
		}
		target = req.Target
	}
	ceiling := o.cfg.SizeCeilingBytes
	if req.SizeCeilingBytes != nil {
		ceiling = *req.SizeCeilingBytes
	}

	id := uuid.NewString()
	name := outputName(req.OutputName, id)
	now := time.Now()
	j := &job{
		model: models.ConversionJob{
			Key:              req.Key,
			InputPath:        req.InputPath,
			OutputPath:       filepath.Join(o.cfg.WorkDir, id+".mp4"),
			Target:           target,
			SizeCeilingBytes: ceiling,
			Status:           models.JobStatusQueued,
			CreatedAt:        now,
		},
		id:        id,
		name:      name,
		inputSize: info.Size(),
		sink:      safeSink{sink: req.Sink, logger: o.logger},
		done:      make(chan struct{}),
	}

	// Detached from the request: the job outlives the submitting call
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	j.cancel = cancel

	o.mu.Lock()
	if o.closing {
		o.mu.Unlock()
		cancel()
		return req.Key, ErrShuttingDown
	}
	if _, exists := o.jobs[req.Key]; exists {
		o.mu.Unlock()
		cancel()
		return req.Key, ErrDuplicateJob
	}
	o.jobs[req.Key] = j
	o.wg.Add(1)
	o.mu.Unlock()

	o.metrics.JobSubmitted()
	o.logger.Info("Job submitted", logging.Fields{
		"job":    req.Key.String(),
		"input":  req.InputPath,
		"target": target.String(),
	})
	go o.run(jobCtx, j)
	return req.Key, nil
}

// Status returns a snapshot of an active job
func (o *Orchestrator) Status(key models.JobKey) (models.ConversionJob, error) {
	o.mu.Lock()
	j, ok := o.jobs[key]
	o.mu.Unlock()
	if !ok {
		return models.ConversionJob{}, ErrJobNotFound
	}
	return j.snapshot(), nil
}

// Active returns snapshots of all registered jobs, oldest first
func (o *Orchestrator) Active() []models.ConversionJob {
	o.mu.Lock()
	jobs := make([]*job, 0, len(o.jobs))
	for _, j := range o.jobs {
		jobs = append(jobs, j)
	}
	o.mu.Unlock()

	out := make([]models.ConversionJob, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.snapshot())
	}
	sort.Slice(out, func(a, b int) bool {
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	return out
}

// ActivePaths returns the input and output files owned by registered jobs.
// The janitor uses it to skip files in use.
func (o *Orchestrator) ActivePaths() map[string]bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	paths := make(map[string]bool, 2*len(o.jobs))
	for _, j := range o.jobs {
		paths[j.model.InputPath] = true
		paths[j.model.OutputPath] = true
	}
	return paths
}

// Cancel stops a job. The child process is killed; the job still goes
// through cleanup and reports a canceled result.
func (o *Orchestrator) Cancel(key models.JobKey) error {
	o.mu.Lock()
	j, ok := o.jobs[key]
	o.mu.Unlock()
	if !ok {
		return ErrJobNotFound
	}
	o.logger.Info("Canceling job", logging.Fields{"job": key.String()})
	j.cancel()
	return nil
}

// Wait blocks until the job with key has finished or ctx is done. It
// returns nil immediately for unknown keys.
func (o *Orchestrator) Wait(ctx context.Context, key models.JobKey) error {
	o.mu.Lock()
	j, ok := o.jobs[key]
	o.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConfirmDelivery deletes a transient artifact once the caller has sent
// it. Durable artifacts are left in place.
func (o *Orchestrator) ConfirmDelivery(artifact models.Artifact) error {
	if artifact.Durable || artifact.Path == "" {
		return nil
	}
	if !o.inWorkDir(artifact.Path) {
		return fmt.Errorf("%w: %s", ErrForeignArtifact, artifact.Path)
	}
	if err := os.Remove(artifact.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		o.metrics.CleanupFailure("artifact")
		return fmt.Errorf("failed to remove artifact: %w", err)
	}
	return nil
}

// inWorkDir reports whether path names a file inside the work directory
func (o *Orchestrator) inWorkDir(path string) bool {
	dir, err := filepath.Abs(o.cfg.WorkDir)
	if err != nil {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(dir, abs)
	return err == nil && rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Shutdown rejects new submissions, cancels every active job and waits
// for them to finish cleanup.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closing = true
	for _, j := range o.jobs {
		j.cancel()
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for conversions: %w", ctx.Err())
	}
}

func (o *Orchestrator) unregister(j *job) {
	o.mu.Lock()
	if o.jobs[j.model.Key] == j {
		delete(o.jobs, j.model.Key)
	}
	o.mu.Unlock()
}

// outputName sanitizes a requested file name, defaulting to <id>.mp4
func outputName(requested, id string) string {
	name := filepath.Base(strings.TrimSpace(requested))
	if name == "." || name == ".." || name == "/" || name == "" {
		return id + ".mp4"
	}
	if ext := filepath.Ext(name); !strings.EqualFold(ext, ".mp4") {
		name = strings.TrimSuffix(name, ext) + ".mp4"
	}
	return name
}
