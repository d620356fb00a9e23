package models

import "strings"

// MediaProbe is the read-only metadata extracted from an input file
type MediaProbe struct {
	FormatName      string  `json:"format_name" yaml:"format_name"`
	VideoCodec      string  `json:"video_codec" yaml:"video_codec"`
	Width           int     `json:"width" yaml:"width"`
	Height          int     `json:"height" yaml:"height"`
	DurationSeconds float64 `json:"duration_seconds" yaml:"duration_seconds"` // 0 when unknown
	HasAudio        bool    `json:"has_audio" yaml:"has_audio"`
	AudioCodec      string  `json:"audio_codec,omitempty" yaml:"audio_codec,omitempty"`
	SizeBytes       int64   `json:"size_bytes,omitempty" yaml:"size_bytes,omitempty"`
}

// DurationKnown reports whether progress can be expressed as a percentage
func (p *MediaProbe) DurationKnown() bool {
	return p != nil && p.DurationSeconds > 0
}

// IsWebM reports inputs that ffmpeg decodes through libvpx/libdav1d rather
// than the usual H.264 path. Only used for logging.
func (p *MediaProbe) IsWebM() bool {
	if p == nil {
		return false
	}
	switch p.VideoCodec {
	case "vp8", "vp9":
		return true
	}
	return strings.Contains(strings.ToLower(p.FormatName), "webm")
}
