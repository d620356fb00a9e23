package cmd

import (
	"github.com/psantana5/mp4fit/pkg/agent"
	"github.com/psantana5/mp4fit/pkg/convert"
	"github.com/psantana5/mp4fit/pkg/logging"
	"github.com/psantana5/mp4fit/pkg/metrics"
	"github.com/psantana5/mp4fit/pkg/probe"
	"github.com/psantana5/mp4fit/pkg/tracing"
)

// newDetector builds the capability detector for the configured ffmpeg
func newDetector(m *metrics.Metrics) *agent.Detector {
	detector := agent.NewDetector(cfg.FFmpegPath, cfg.Preference(), cfg.DetectTimeout, logger)
	detector.VAAPIDevice = cfg.Hardware.VAAPIDevice
	detector.OnResult = func(c agent.EncoderCapability) {
		m.SetEncoderUsable(c.Advertised, c.Usable, agent.SoftwareEncoder)
	}
	return detector
}

// newOrchestrator wires prober, detector and transcoder into an orchestrator
func newOrchestrator(oc convert.Config, m *metrics.Metrics, tp *tracing.Provider) (*convert.Orchestrator, error) {
	if opts, reason := cfg.EncodeOptions(); cfg.SoftwarePreset == agent.PresetAuto {
		logger.Info("Software preset resolved", logging.Fields{
			"preset": opts.SoftwarePreset,
			"reason": reason,
		})
	}

	runner := agent.NewRunner(cfg.FFmpegPath, cfg.ProgressInterval, logger)
	return convert.New(oc, convert.Dependencies{
		Prober:     probe.New(cfg.FFprobePath, oc.Target, logger),
		Detector:   newDetector(m),
		Transcoder: agent.NewTranscoder(runner, logger),
		Metrics:    m,
		Tracing:    tp,
		Logger:     logger,
	})
}
