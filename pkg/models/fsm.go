package models

import (
	"fmt"
)

// Strict Job States for FSM
const (
	JobStatusQueued     JobStatus = "queued"     // Accepted, waiting for a worker slot
	JobStatusProbing    JobStatus = "probing"    // Reading container/stream metadata
	JobStatusEncoding   JobStatus = "encoding"   // Encoder process running
	JobStatusFinalizing JobStatus = "finalizing" // Size check, placement, cleanup
	JobStatusSucceeded  JobStatus = "succeeded"  // Artifact produced
	JobStatusFailed     JobStatus = "failed"     // Terminal failure
)

// validTransitions maps from-state to allowed to-states. Every non-terminal
// state may fail; success is only reachable from finalizing.
var validTransitions = map[JobStatus]map[JobStatus]bool{
	JobStatusQueued: {
		JobStatusProbing: true, // Queued → Probing (slot acquired)
		JobStatusFailed:  true, // Queued → Failed (canceled while waiting)
	},
	JobStatusProbing: {
		JobStatusEncoding: true,
		JobStatusFailed:   true,
	},
	JobStatusEncoding: {
		JobStatusFinalizing: true,
		JobStatusFailed:     true,
	},
	JobStatusFinalizing: {
		JobStatusSucceeded: true,
		JobStatusFailed:    true, // Output missing or empty
	},
	// Terminal states (no transitions allowed)
	JobStatusSucceeded: {},
	JobStatusFailed:    {},
}

// ValidateTransition checks if a state transition is valid
func ValidateTransition(from, to JobStatus) error {
	allowedStates, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("unknown source state: %s", from)
	}

	if !allowedStates[to] {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}

	return nil
}

// IsTerminalState returns true if the state is terminal (no further transitions)
func IsTerminalState(state JobStatus) bool {
	return state == JobStatusSucceeded || state == JobStatusFailed
}

// IsActiveState returns true if the job holds a worker slot
func IsActiveState(state JobStatus) bool {
	return state == JobStatusProbing || state == JobStatusEncoding || state == JobStatusFinalizing
}

// StatusOrder returns the position of a state in the per-job ordering.
// Both terminal states share the last position.
func StatusOrder(state JobStatus) int {
	switch state {
	case JobStatusQueued:
		return 0
	case JobStatusProbing:
		return 1
	case JobStatusEncoding:
		return 2
	case JobStatusFinalizing:
		return 3
	case JobStatusSucceeded, JobStatusFailed:
		return 4
	default:
		return -1
	}
}
