package models

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// FailureKind is the closed set of reasons a conversion can fail. Callers
// switch on the kind to render a message; they never parse tool output.
type FailureKind string

const (
	FailureToolUnavailable  FailureKind = "tool_unavailable"
	FailureNoVideoStream    FailureKind = "no_video_stream"
	FailureMalformedInput   FailureKind = "malformed_input"
	FailureUnsupportedCodec FailureKind = "unsupported_codec"
	FailureCorruptInput     FailureKind = "corrupt_or_missing_input"
	FailurePermissionDenied FailureKind = "permission_denied"
	FailureHardwareDriver   FailureKind = "hardware_driver_unavailable"
	FailureEncodeGeneric    FailureKind = "generic"
	FailureCanceled         FailureKind = "canceled"
	FailureInsufficientDisk FailureKind = "insufficient_disk"
	FailureInternal         FailureKind = "internal"
)

// KindedError is implemented by the typed errors of the pipeline stages
type KindedError interface {
	error
	Kind() FailureKind
}

// KindOf extracts the failure kind of err, defaulting to FailureInternal for
// errors that do not carry one.
func KindOf(err error) FailureKind {
	if err == nil {
		return ""
	}
	var ke KindedError
	if errors.As(err, &ke) {
		return ke.Kind()
	}
	return FailureInternal
}

// DetailedError is implemented by errors that carry a short diagnostic excerpt
type DetailedError interface {
	error
	Detail() string
}

// DetailOf returns the bounded diagnostic excerpt of err, or its message
func DetailOf(err error) string {
	if err == nil {
		return ""
	}
	var de DetailedError
	if errors.As(err, &de) && de.Detail() != "" {
		return de.Detail()
	}
	return err.Error()
}

// Tail returns at most the last n bytes of s, trimmed. The cut never
// splits a UTF-8 sequence.
func Tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	s = s[len(s)-n:]
	for len(s) > 0 && !utf8.RuneStart(s[0]) {
		s = s[1:]
	}
	return s
}
