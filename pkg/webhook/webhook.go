package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/psantana5/mp4fit/pkg/logging"
	"github.com/psantana5/mp4fit/pkg/models"
)

// Event types posted to the callback URL
const (
	EventTransition = "transition"
	EventProgress   = "progress"
	EventTerminal   = "terminal"
)

// Event is the JSON body of one callback
type Event struct {
	Type      string           `json:"event"`
	Key       models.JobKey    `json:"key"`
	Status    models.JobStatus `json:"status,omitempty"`
	Progress  *models.Progress `json:"progress,omitempty"`
	Result    *models.Result   `json:"result,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Options tunes the retrying client
type Options struct {
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	QueueSize    int
}

// DefaultOptions returns the client settings used by the API
func DefaultOptions() Options {
	return Options{
		RetryMax:     3,
		RetryWaitMin: 1 * time.Second,
		RetryWaitMax: 5 * time.Second,
		QueueSize:    64,
	}
}

// Sink posts the status stream of one job to a callback URL. Events are
// delivered in order by a single sender goroutine; progress events are
// dropped when the queue is full. OnTerminal flushes the queue and ends
// the sink.
type Sink struct {
	url    string
	client *http.Client
	logger *logging.Logger

	events chan Event
	done   chan struct{}
	once   sync.Once
}

// NewSink creates a sink and starts its sender
func NewSink(url string, opts Options, logger *logging.Logger) *Sink {
	if logger == nil {
		logger = logging.Discard()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultOptions().QueueSize
	}
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.RetryMax
	retryClient.RetryWaitMin = opts.RetryWaitMin
	retryClient.RetryWaitMax = opts.RetryWaitMax
	retryClient.Logger = nil // Silence default debug logger

	s := &Sink{
		url:    url,
		client: retryClient.StandardClient(),
		logger: logger.WithField("callback", url),
		events: make(chan Event, opts.QueueSize),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Sink) OnTransition(key models.JobKey, status models.JobStatus) {
	s.enqueue(Event{Type: EventTransition, Key: key, Status: status, Timestamp: time.Now()}, true)
}

func (s *Sink) OnProgress(key models.JobKey, p models.Progress) {
	s.enqueue(Event{Type: EventProgress, Key: key, Progress: &p, Timestamp: time.Now()}, false)
}

func (s *Sink) OnTerminal(key models.JobKey, result models.Result) {
	s.enqueue(Event{Type: EventTerminal, Key: key, Result: &result, Timestamp: time.Now()}, true)
	s.Close()
}

// Close stops accepting events and waits for queued ones to be sent
func (s *Sink) Close() {
	s.once.Do(func() { close(s.events) })
	<-s.done
}

func (s *Sink) enqueue(ev Event, block bool) {
	defer func() {
		// send on closed channel: the sink already delivered its terminal event
		if recover() != nil {
			s.logger.Warn("Webhook event after terminal ignored", logging.Fields{"event": ev.Type})
		}
	}()
	if block {
		s.events <- ev
		return
	}
	select {
	case s.events <- ev:
	default:
		s.logger.Debug("Webhook queue full, dropping progress event")
	}
}

func (s *Sink) run() {
	defer close(s.done)
	for ev := range s.events {
		if err := s.post(context.Background(), ev); err != nil {
			s.logger.Warn("Webhook delivery failed", logging.Fields{
				"event": ev.Type,
				"job":   ev.Key.String(),
				"error": err.Error(),
			})
		}
	}
}

func (s *Sink) post(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("callback returned error status: %d", resp.StatusCode)
	}
	return nil
}
