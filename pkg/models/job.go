package models

import (
	"fmt"
	"strings"
	"time"
)

// JobStatus represents the status of a conversion job
type JobStatus string

// JobKey identifies a conversion job. A caller may run several jobs at once
// as long as each one has a different input identifier.
type JobKey struct {
	CallerID string `json:"caller_id"`
	InputID  string `json:"input_id"`
}

// String renders the key as "caller:input"
func (k JobKey) String() string {
	return k.CallerID + ":" + k.InputID
}

// Validate rejects keys with an empty component
func (k JobKey) Validate() error {
	if strings.TrimSpace(k.CallerID) == "" {
		return fmt.Errorf("job key: caller id is required")
	}
	if strings.TrimSpace(k.InputID) == "" {
		return fmt.Errorf("job key: input id is required")
	}
	return nil
}

// Target is the output canvas every conversion is fitted into
type Target struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DefaultTarget is the canvas used when a request does not override it
var DefaultTarget = Target{Width: 1920, Height: 1080}

// Valid reports whether both dimensions are positive and even
func (t Target) Valid() bool {
	return t.Width > 0 && t.Height > 0 && t.Width%2 == 0 && t.Height%2 == 0
}

func (t Target) String() string {
	return fmt.Sprintf("%dx%d", t.Width, t.Height)
}

// ConversionJob is one unit of work owned by the orchestrator
type ConversionJob struct {
	Key              JobKey            `json:"key"`
	InputPath        string            `json:"input_path"`
	OutputPath       string            `json:"output_path"`
	Target           Target            `json:"target"`
	SizeCeilingBytes int64             `json:"size_ceiling_bytes,omitempty"`
	Status           JobStatus         `json:"status"`
	Progress         float64           `json:"progress,omitempty"` // 0-100%, 0 when duration is unknown
	Encoder          string            `json:"encoder,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	StartedAt        *time.Time        `json:"started_at,omitempty"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
	StateTransitions []StateTransition `json:"state_transitions,omitempty"`
}

// StateTransition tracks job state changes with timestamps
type StateTransition struct {
	From      JobStatus `json:"from"`
	To        JobStatus `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}

// TransitionTo validates and records a status change
func (j *ConversionJob) TransitionTo(to JobStatus, reason string) error {
	if err := ValidateTransition(j.Status, to); err != nil {
		return err
	}
	now := time.Now()
	j.StateTransitions = append(j.StateTransitions, StateTransition{
		From:      j.Status,
		To:        to,
		Timestamp: now,
		Reason:    reason,
	})
	j.Status = to
	switch {
	case to == JobStatusProbing:
		j.StartedAt = &now
	case IsTerminalState(to):
		j.CompletedAt = &now
	}
	return nil
}

// Snapshot returns a copy that can be handed out without sharing the
// transition slice.
func (j *ConversionJob) Snapshot() ConversionJob {
	cp := *j
	cp.StateTransitions = append([]StateTransition(nil), j.StateTransitions...)
	return cp
}

// Artifact describes the produced MP4 for the caller's delivery step
type Artifact struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
	// LinkOnly is set when the artifact exceeds the size ceiling and must be
	// delivered as a link instead of an attachment.
	LinkOnly  bool   `json:"link_only"`
	Durable   bool   `json:"durable"`
	PublicURL string `json:"public_url,omitempty"`
}

// Result is the terminal outcome reported to the status sink
type Result struct {
	Key          JobKey        `json:"key"`
	Succeeded    bool          `json:"succeeded"`
	Artifact     *Artifact     `json:"artifact,omitempty"`
	DeliveryNote string        `json:"delivery_note,omitempty"`
	FailureKind  FailureKind   `json:"failure_kind,omitempty"`
	Detail       string        `json:"detail,omitempty"`
	Encoder      string        `json:"encoder,omitempty"`
	FellBack     bool          `json:"fell_back,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// Progress is one encode progress observation. Percent and Remaining are nil
// when the input duration is unknown; the observation is then a liveness tick.
type Progress struct {
	Percent   *float64 `json:"percent,omitempty"`
	Elapsed   float64  `json:"elapsed_seconds"`
	Remaining *float64 `json:"remaining_seconds,omitempty"`
}
