package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/exec"

	"github.com/gorilla/mux"

	"github.com/psantana5/mp4fit/pkg/agent"
	"github.com/psantana5/mp4fit/pkg/convert"
	"github.com/psantana5/mp4fit/pkg/logging"
	"github.com/psantana5/mp4fit/pkg/metrics"
	"github.com/psantana5/mp4fit/pkg/models"
	"github.com/psantana5/mp4fit/pkg/resources"
	"github.com/psantana5/mp4fit/pkg/tracing"
	"github.com/psantana5/mp4fit/pkg/webhook"
)

// SubmitRequest is the body of POST /v1/conversions. The input file must
// already be on this host; the service takes ownership of it.
type SubmitRequest struct {
	CallerID         string         `json:"caller_id"`
	InputID          string         `json:"input_id"`
	InputPath        string         `json:"input_path"`
	OutputName       string         `json:"output_name,omitempty"`
	Target           *models.Target `json:"target,omitempty"`
	SizeCeilingBytes *int64         `json:"size_ceiling_bytes,omitempty"`
	CallbackURL      string         `json:"callback_url,omitempty"`
}

// DeliveryRequest is the body of POST /v1/deliveries: the artifact path
// reported in a terminal result that has now been sent to the caller.
type DeliveryRequest struct {
	Path string `json:"path"`
}

// CapabilityResponse wraps the detected capability with its explanation
type CapabilityResponse struct {
	agent.EncoderCapability
	Reason string `json:"reason"`
}

// Handler serves the conversion control API
type Handler struct {
	orch        *convert.Orchestrator
	ffmpegPath  string
	metrics     *metrics.Metrics
	tracing     *tracing.Provider
	logger      *logging.Logger
	webhookOpts webhook.Options
}

// NewHandler creates a new API handler
func NewHandler(orch *convert.Orchestrator, ffmpegPath string, m *metrics.Metrics, tp *tracing.Provider, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	if tp == nil {
		tp = tracing.Noop()
	}
	return &Handler{
		orch:        orch,
		ffmpegPath:  ffmpegPath,
		metrics:     m,
		tracing:     tp,
		logger:      logger,
		webhookOpts: webhook.DefaultOptions(),
	}
}

// SetWebhookOptions overrides the callback client settings
func (h *Handler) SetWebhookOptions(opts webhook.Options) {
	h.webhookOpts = opts
}

// Router builds the mux router with all routes registered
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(tracing.HTTPMiddleware(h.tracing))
	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	// Conversion endpoints
	r.HandleFunc("/v1/conversions", h.SubmitConversion).Methods("POST")
	r.HandleFunc("/v1/conversions", h.ListConversions).Methods("GET")
	r.HandleFunc("/v1/conversions/{caller}/{input}", h.GetConversion).Methods("GET")
	r.HandleFunc("/v1/conversions/{caller}/{input}", h.CancelConversion).Methods("DELETE")
	r.HandleFunc("/v1/deliveries", h.ConfirmDelivery).Methods("POST")

	// Capability endpoints
	r.HandleFunc("/v1/capability", h.GetCapability).Methods("GET")
	r.HandleFunc("/v1/capability/revalidate", h.RevalidateCapability).Methods("POST")

	// Operational endpoints
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.HandleFunc("/ready", h.Ready).Methods("GET")
	r.Handle("/metrics", h.metrics.Handler()).Methods("GET")
}

// SubmitConversion starts a background conversion
func (h *Handler) SubmitConversion(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.InputPath == "" {
		http.Error(w, "input_path is required", http.StatusBadRequest)
		return
	}

	key := models.JobKey{CallerID: req.CallerID, InputID: req.InputID}
	sinks := convert.MultiSink{convert.LogSink{Logger: h.logger}}
	var hook *webhook.Sink
	if req.CallbackURL != "" {
		hook = webhook.NewSink(req.CallbackURL, h.webhookOpts, h.logger)
		sinks = append(sinks, hook)
	}

	submit := convert.SubmitRequest{
		Key:              key,
		InputPath:        req.InputPath,
		OutputName:       req.OutputName,
		SizeCeilingBytes: req.SizeCeilingBytes,
		Sink:             sinks,
	}
	if req.Target != nil {
		submit.Target = *req.Target
	}

	if _, err := h.orch.Submit(r.Context(), submit); err != nil {
		if hook != nil {
			hook.Close()
		}
		switch {
		case errors.Is(err, convert.ErrDuplicateJob):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, convert.ErrShuttingDown):
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
		default:
			http.Error(w, fmt.Sprintf("Invalid conversion request: %v", err), http.StatusBadRequest)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"key":    key,
		"status": models.JobStatusQueued,
	})
}

// ListConversions returns all active conversions
func (h *Handler) ListConversions(w http.ResponseWriter, r *http.Request) {
	jobs := h.orch.Active()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// GetConversion returns one active conversion
func (h *Handler) GetConversion(w http.ResponseWriter, r *http.Request) {
	job, err := h.orch.Status(keyFromVars(r))
	if err != nil {
		http.Error(w, "Conversion not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}

// CancelConversion cancels an active conversion
func (h *Handler) CancelConversion(w http.ResponseWriter, r *http.Request) {
	key := keyFromVars(r)
	if err := h.orch.Cancel(key); err != nil {
		http.Error(w, "Conversion not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"key":    key,
		"status": "canceling",
	})
}

// ConfirmDelivery releases a transient artifact once the caller has it
func (h *Handler) ConfirmDelivery(w http.ResponseWriter, r *http.Request) {
	var req DeliveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Path == "" {
		http.Error(w, "path is required", http.StatusBadRequest)
		return
	}

	if err := h.orch.ConfirmDelivery(models.Artifact{Path: req.Path}); err != nil {
		if errors.Is(err, convert.ErrForeignArtifact) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("Failed to release artifact", logging.Fields{"path": req.Path, "error": err.Error()})
		http.Error(w, "Failed to release artifact", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"path":   req.Path,
		"status": "released",
	})
}

// GetCapability returns the memoized encoder capability, detecting it on
// first use.
func (h *Handler) GetCapability(w http.ResponseWriter, r *http.Request) {
	capability := h.orch.Detector().Detect(r.Context())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(CapabilityResponse{EncoderCapability: capability, Reason: capability.Reason()})
}

// RevalidateCapability discards the cached capability and detects again
func (h *Handler) RevalidateCapability(w http.ResponseWriter, r *http.Request) {
	capability := h.orch.Detector().Revalidate(r.Context())
	h.logger.Info("Encoder capability revalidated", logging.Fields{"encoder": capability.Encoder})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(CapabilityResponse{EncoderCapability: capability, Reason: capability.Reason()})
}

// Health returns the liveness status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	})
}

// Ready reports whether ffmpeg is installed and the work directory is usable
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]interface{}{"status": "ready"}

	if _, err := exec.LookPath(h.ffmpegPath); err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "not ready"
		body["ffmpeg"] = err.Error()
	}

	disk, err := resources.CheckDiskSpace(h.orch.Config().WorkDir)
	if err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "not ready"
		body["disk"] = err.Error()
	} else {
		body["disk"] = disk
	}
	body["active_jobs"] = len(h.orch.Active())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func keyFromVars(r *http.Request) models.JobKey {
	vars := mux.Vars(r)
	return models.JobKey{CallerID: vars["caller"], InputID: vars["input"]}
}
