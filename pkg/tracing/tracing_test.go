package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestInitTracerDisabledIsNoop(t *testing.T) {
	p, err := InitTracer(Config{ServiceName: "mp4fit"}, nil)
	if err != nil {
		t.Fatalf("InitTracer failed: %v", err)
	}
	ctx, span := p.StartSpan(context.Background(), "job")
	if span.SpanContext().IsValid() {
		t.Error("disabled tracing should produce non-recording spans")
	}
	AddEvent(ctx, "probe.done")
	EndSpan(span, errors.New("boom"))
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestHTTPMiddlewareKeepsStatus(t *testing.T) {
	h := HTTPMiddleware(Noop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d", rec.Code)
	}
}
