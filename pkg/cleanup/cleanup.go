package cleanup

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/psantana5/mp4fit/pkg/logging"
)

// Config defines retention policy and sweep interval for work files
type Config struct {
	Enabled  bool          `mapstructure:"enabled"`
	MaxAge   time.Duration `mapstructure:"max_age"`
	Interval time.Duration `mapstructure:"interval"`
	Dirs     []string      `mapstructure:"-"`
}

// DefaultConfig returns sensible defaults for cleanup
func DefaultConfig() Config {
	return Config{
		Enabled:  true,
		MaxAge:   24 * time.Hour,
		Interval: time.Hour,
	}
}

// ActiveFunc reports the paths currently owned by running jobs
type ActiveFunc func() map[string]bool

// Stats tracks cleanup operations
type Stats struct {
	LastSweepTime     time.Time     `json:"last_sweep_time"`
	LastSweepDuration time.Duration `json:"last_sweep_duration"`
	LastDeleted       int           `json:"last_deleted"`
	TotalDeleted      int64         `json:"total_deleted"`
	TotalFailures     int64         `json:"total_failures"`
}

// Janitor removes stale work files left behind by crashed or interrupted
// conversions. Files owned by active jobs are never touched.
type Janitor struct {
	config Config
	active ActiveFunc
	logger *logging.Logger

	// OnFailure is called for every file that could not be removed
	OnFailure func(path string, err error)

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.RWMutex
	stats Stats
}

// New creates a janitor. active may be nil when no orchestrator runs in
// the same process.
func New(config Config, active ActiveFunc, logger *logging.Logger) *Janitor {
	if logger == nil {
		logger = logging.Discard()
	}
	if config.MaxAge <= 0 {
		config.MaxAge = DefaultConfig().MaxAge
	}
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	return &Janitor{config: config, active: active, logger: logger}
}

// Start begins the periodic sweep in the background
func (j *Janitor) Start(ctx context.Context) {
	if !j.config.Enabled {
		j.logger.Info("[Cleanup] Janitor disabled")
		return
	}
	j.logger.Info("[Cleanup] Starting janitor", logging.Fields{
		"max_age":  j.config.MaxAge.String(),
		"interval": j.config.Interval.String(),
		"dirs":     j.config.Dirs,
	})

	ctx, j.cancel = context.WithCancel(ctx)
	j.wg.Add(1)
	go j.loop(ctx)
}

// Stop gracefully stops the janitor
func (j *Janitor) Stop() {
	if j.cancel == nil {
		return
	}
	j.cancel()
	j.wg.Wait()
	j.logger.Info("[Cleanup] Janitor stopped")
}

func (j *Janitor) loop(ctx context.Context) {
	defer j.wg.Done()

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	j.Sweep(time.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			j.Sweep(now)
		}
	}
}

// Sweep deletes regular files older than MaxAge (by modification time) in
// the configured directories and returns how many were removed.
func (j *Janitor) Sweep(now time.Time) int {
	start := time.Now()
	cutoff := now.Add(-j.config.MaxAge)

	inUse := make(map[string]bool)
	if j.active != nil {
		for path := range j.active() {
			inUse[canonicalPath(path)] = true
		}
	}

	deleted, failures := 0, 0
	for _, dir := range j.config.Dirs {
		if dir == "" {
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				j.logger.Warn("[Cleanup] Cannot read directory", logging.Fields{"dir": dir, "error": err.Error()})
			}
			continue
		}
		for _, entry := range entries {
			if !entry.Type().IsRegular() {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			if inUse[canonicalPath(path)] {
				continue
			}
			info, err := entry.Info()
			if err != nil || !info.ModTime().Before(cutoff) {
				continue
			}
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				failures++
				j.logger.Warn("[Cleanup] Failed to delete stale file", logging.Fields{"path": path, "error": err.Error()})
				if j.OnFailure != nil {
					j.OnFailure(path, err)
				}
				continue
			}
			deleted++
		}
	}

	duration := time.Since(start)
	j.mu.Lock()
	j.stats.LastSweepTime = now
	j.stats.LastSweepDuration = duration
	j.stats.LastDeleted = deleted
	j.stats.TotalDeleted += int64(deleted)
	j.stats.TotalFailures += int64(failures)
	j.mu.Unlock()

	if deleted > 0 || failures > 0 {
		j.logger.Info("[Cleanup] Sweep complete", logging.Fields{
			"deleted":  deleted,
			"failures": failures,
			"duration": duration.String(),
		})
	}
	return deleted
}

// canonicalPath makes paths comparable however they were spelled
func canonicalPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// GetStats returns current cleanup statistics
func (j *Janitor) GetStats() Stats {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.stats
}
