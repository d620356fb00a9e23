package convert

import (
	"fmt"

	"github.com/psantana5/mp4fit/pkg/logging"
	"github.com/psantana5/mp4fit/pkg/models"
)

// StatusSink receives the status stream of a job. Calls for one job never
// overlap and arrive in order; OnTerminal is always the last call. A slow
// OnProgress does not stall the encoder: updates that arrive meanwhile are
// coalesced and only the newest is delivered.
type StatusSink interface {
	OnTransition(key models.JobKey, status models.JobStatus)
	OnProgress(key models.JobKey, progress models.Progress)
	OnTerminal(key models.JobKey, result models.Result)
}

// LogSink writes the status stream to a logger
type LogSink struct {
	Logger *logging.Logger
}

func (s LogSink) OnTransition(key models.JobKey, status models.JobStatus) {
	s.Logger.Info("Job status changed", logging.Fields{"job": key.String(), "status": string(status)})
}

func (s LogSink) OnProgress(key models.JobKey, p models.Progress) {
	fields := logging.Fields{"job": key.String(), "elapsed": p.Elapsed}
	if p.Percent != nil {
		fields["percent"] = fmt.Sprintf("%.1f", *p.Percent)
	}
	if p.Remaining != nil {
		fields["remaining"] = fmt.Sprintf("%.0fs", *p.Remaining)
	}
	s.Logger.Debug("Job progress", fields)
}

func (s LogSink) OnTerminal(key models.JobKey, r models.Result) {
	fields := logging.Fields{
		"job":       key.String(),
		"succeeded": r.Succeeded,
		"encoder":   r.Encoder,
		"fell_back": r.FellBack,
		"duration":  r.Duration.String(),
	}
	if r.Succeeded {
		fields["path"] = r.Artifact.Path
		fields["size_bytes"] = r.Artifact.SizeBytes
		fields["link_only"] = r.Artifact.LinkOnly
		if r.DeliveryNote != "" {
			fields["note"] = r.DeliveryNote
		}
		s.Logger.Info("Job succeeded", fields)
		return
	}
	fields["kind"] = string(r.FailureKind)
	fields["detail"] = r.Detail
	s.Logger.Warn("Job failed", fields)
}

// MultiSink fans the stream out to several sinks in order
type MultiSink []StatusSink

func (m MultiSink) OnTransition(key models.JobKey, status models.JobStatus) {
	for _, s := range m {
		s.OnTransition(key, status)
	}
}

func (m MultiSink) OnProgress(key models.JobKey, p models.Progress) {
	for _, s := range m {
		s.OnProgress(key, p)
	}
}

func (m MultiSink) OnTerminal(key models.JobKey, r models.Result) {
	for _, s := range m {
		s.OnTerminal(key, r)
	}
}

// Update is one element of a ChannelSink stream. Exactly one of Status,
// Progress and Result is set.
type Update struct {
	Key      models.JobKey
	Status   models.JobStatus
	Progress *models.Progress
	Result   *models.Result
}

// ChannelSink forwards the stream to a channel. Progress updates are
// dropped when the channel is full; transitions and the terminal result
// always block until received. The channel is closed after the terminal
// update.
type ChannelSink struct {
	C chan Update
}

// NewChannelSink creates a sink with the given buffer size
func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{C: make(chan Update, buffer)}
}

func (s *ChannelSink) OnTransition(key models.JobKey, status models.JobStatus) {
	s.C <- Update{Key: key, Status: status}
}

func (s *ChannelSink) OnProgress(key models.JobKey, p models.Progress) {
	select {
	case s.C <- Update{Key: key, Progress: &p}:
	default:
	}
}

func (s *ChannelSink) OnTerminal(key models.JobKey, r models.Result) {
	s.C <- Update{Key: key, Result: &r}
	close(s.C)
}

// safeSink recovers panics raised by a caller-supplied sink so they never
// reach the job goroutine.
type safeSink struct {
	sink   StatusSink
	logger *logging.Logger
}

func (s safeSink) guard(call string) {
	if r := recover(); r != nil {
		s.logger.Error("Status sink panicked", logging.Fields{"call": call, "panic": fmt.Sprint(r)})
	}
}

func (s safeSink) OnTransition(key models.JobKey, status models.JobStatus) {
	if s.sink == nil {
		return
	}
	defer s.guard("OnTransition")
	s.sink.OnTransition(key, status)
}

func (s safeSink) OnProgress(key models.JobKey, p models.Progress) {
	if s.sink == nil {
		return
	}
	defer s.guard("OnProgress")
	s.sink.OnProgress(key, p)
}

func (s safeSink) OnTerminal(key models.JobKey, r models.Result) {
	if s.sink == nil {
		return
	}
	defer s.guard("OnTerminal")
	s.sink.OnTerminal(key, r)
}
