package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestJobCounters(t *testing.T) {
	m := New()

	m.JobSubmitted()
	m.JobSubmitted()
	m.JobFinished(true, "")
	m.JobFinished(false, "canceled")

	if got := testutil.ToFloat64(m.jobsSubmitted); got != 2 {
		t.Errorf("submitted = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.activeJobs); got != 0 {
		t.Errorf("active = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.jobsFinished.WithLabelValues("failed", "canceled")); got != 1 {
		t.Errorf("failed/canceled = %v, want 1", got)
	}
}

func TestEncoderUsableGauge(t *testing.T) {
	m := New()
	m.SetEncoderUsable([]string{"h264_nvenc", "h264_vaapi"}, map[string]bool{"h264_vaapi": true}, "libx264")

	tests := []struct {
		encoder string
		want    float64
	}{
		{"h264_nvenc", 0},
		{"h264_vaapi", 1},
		{"libx264", 1},
	}
	for _, tt := range tests {
		t.Run(tt.encoder, func(t *testing.T) {
			if got := testutil.ToFloat64(m.encoderUsable.WithLabelValues(tt.encoder)); got != tt.want {
				t.Errorf("usable{%s} = %v, want %v", tt.encoder, got, tt.want)
			}
		})
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.JobSubmitted()
	m.JobFinished(false, "internal")
	m.ObserveEncode("libx264", time.Second)
	m.CleanupFailure("input")
	m.SetEncoderUsable(nil, nil, "libx264")
	if m.Registry() != nil {
		t.Error("nil metrics should have no registry")
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.HardwareFallback("h264_nvenc")
	m.ObserveOutputSize(4096)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, name := range []string{"mp4fit_hw_fallbacks_total", "mp4fit_output_size_bytes", "go_goroutines"} {
		if !strings.Contains(body, name) {
			t.Errorf("exposition missing %s", name)
		}
	}
}
