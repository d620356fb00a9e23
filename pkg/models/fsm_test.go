package models

import (
	"errors"
	"fmt"
	"testing"
)

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    JobStatus
		to      JobStatus
		wantErr bool
	}{
		// Valid transitions
		{"Queued to Probing", JobStatusQueued, JobStatusProbing, false},
		{"Queued to Failed", JobStatusQueued, JobStatusFailed, false},
		{"Probing to Encoding", JobStatusProbing, JobStatusEncoding, false},
		{"Probing to Failed", JobStatusProbing, JobStatusFailed, false},
		{"Encoding to Finalizing", JobStatusEncoding, JobStatusFinalizing, false},
		{"Encoding to Failed", JobStatusEncoding, JobStatusFailed, false},
		{"Finalizing to Succeeded", JobStatusFinalizing, JobStatusSucceeded, false},
		{"Finalizing to Failed", JobStatusFinalizing, JobStatusFailed, false},

		// Invalid transitions
		{"Queued to Encoding", JobStatusQueued, JobStatusEncoding, true},
		{"Queued to Succeeded", JobStatusQueued, JobStatusSucceeded, true},
		{"Probing to Succeeded", JobStatusProbing, JobStatusSucceeded, true},
		{"Encoding to Probing", JobStatusEncoding, JobStatusProbing, true},
		{"Succeeded to Failed", JobStatusSucceeded, JobStatusFailed, true},
		{"Failed to Queued", JobStatusFailed, JobStatusQueued, true},
		{"Unknown source", JobStatus("paused"), JobStatusProbing, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTransition(%v, %v) error = %v, wantErr %v",
					tt.from, tt.to, err, tt.wantErr)
			}
		})
	}
}

func TestIsTerminalState(t *testing.T) {
	tests := []struct {
		state    JobStatus
		expected bool
	}{
		{JobStatusSucceeded, true},
		{JobStatusFailed, true},
		{JobStatusQueued, false},
		{JobStatusProbing, false},
		{JobStatusEncoding, false},
		{JobStatusFinalizing, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := IsTerminalState(tt.state); got != tt.expected {
				t.Errorf("IsTerminalState(%v) = %v, want %v", tt.state, got, tt.expected)
			}
		})
	}
}

func TestStatusOrderIsStrict(t *testing.T) {
	path := []JobStatus{JobStatusQueued, JobStatusProbing, JobStatusEncoding, JobStatusFinalizing, JobStatusSucceeded}
	for i := 1; i < len(path); i++ {
		if StatusOrder(path[i-1]) >= StatusOrder(path[i]) {
			t.Errorf("StatusOrder(%s) should precede StatusOrder(%s)", path[i-1], path[i])
		}
	}
	if StatusOrder(JobStatusFailed) != StatusOrder(JobStatusSucceeded) {
		t.Error("terminal states should share the last position")
	}
}

func TestConversionJobTransitionTo(t *testing.T) {
	job := &ConversionJob{Key: JobKey{CallerID: "42", InputID: "file-1"}, Status: JobStatusQueued}

	for _, to := range []JobStatus{JobStatusProbing, JobStatusEncoding, JobStatusFinalizing, JobStatusSucceeded} {
		if err := job.TransitionTo(to, ""); err != nil {
			t.Fatalf("TransitionTo(%s) failed: %v", to, err)
		}
	}

	if len(job.StateTransitions) != 4 {
		t.Errorf("expected 4 recorded transitions, got %d", len(job.StateTransitions))
	}
	if job.StartedAt == nil || job.CompletedAt == nil {
		t.Error("expected StartedAt and CompletedAt to be set")
	}
	if err := job.TransitionTo(JobStatusFailed, "late"); err == nil {
		t.Error("expected error leaving a terminal state")
	}

	snap := job.Snapshot()
	snap.StateTransitions[0].Reason = "mutated"
	if job.StateTransitions[0].Reason == "mutated" {
		t.Error("Snapshot should not share the transition slice")
	}
}

func TestJobKey(t *testing.T) {
	key := JobKey{CallerID: "42", InputID: "abc"}
	if key.String() != "42:abc" {
		t.Errorf("String() = %q", key.String())
	}
	if err := key.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
	if err := (JobKey{CallerID: "42"}).Validate(); err == nil {
		t.Error("expected error for empty input id")
	}
}

type kindErr struct{ kind FailureKind }

func (e *kindErr) Error() string     { return string(e.kind) }
func (e *kindErr) Kind() FailureKind { return e.kind }

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("stage: %w", &kindErr{FailureUnsupportedCodec})
	if got := KindOf(wrapped); got != FailureUnsupportedCodec {
		t.Errorf("KindOf(wrapped) = %s", got)
	}
	if got := KindOf(errors.New("plain")); got != FailureInternal {
		t.Errorf("KindOf(plain) = %s", got)
	}
	if got := KindOf(nil); got != "" {
		t.Errorf("KindOf(nil) = %s", got)
	}
	if got := DetailOf(errors.New("boom")); got != "boom" {
		t.Errorf("DetailOf = %q", got)
	}
}

func TestMediaProbeIsWebM(t *testing.T) {
	tests := []struct {
		probe *MediaProbe
		want  bool
	}{
		{&MediaProbe{FormatName: "matroska,webm", VideoCodec: "av1"}, true},
		{&MediaProbe{FormatName: "mov,mp4", VideoCodec: "vp9"}, true},
		{&MediaProbe{FormatName: "mov,mp4", VideoCodec: "h264"}, false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := tt.probe.IsWebM(); got != tt.want {
			t.Errorf("IsWebM(%+v) = %v, want %v", tt.probe, got, tt.want)
		}
	}
}
