// Package handlers provides HTTP handlers for the alert API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxguard/internal/api/middleware"
	"github.com/drfirst/go-rxguard/internal/evaluation"
	"github.com/drfirst/go-rxguard/internal/protocol"
)

const maxBodyBytes = 4 << 20

// Evaluator evaluates one prescription
type Evaluator interface {
	Evaluate(ctx context.Context, req *evaluation.Request) (*evaluation.Response, error)
}

// EvaluationHandler handles evaluation endpoints
type EvaluationHandler struct {
	service Evaluator
	logger  *zap.Logger
}

// NewEvaluationHandler creates a new handler
func NewEvaluationHandler(service Evaluator, logger *zap.Logger) *EvaluationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EvaluationHandler{service: service, logger: logger}
}

// Routes returns the handler routes
func (h *EvaluationHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/evaluations", h.Evaluate)
	r.Post("/alerts", h.Alerts)
	r.Post("/protocols/validate", h.ValidateProtocols)
	return r
}

// Evaluate handles POST /evaluations
func (h *EvaluationHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	h.evaluate(w, r, false)
}

// Alerts handles POST /alerts, which runs the alert engine only
func (h *EvaluationHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	h.evaluate(w, r, true)
}

func (h *EvaluationHandler) evaluate(w http.ResponseWriter, r *http.Request, alertsOnly bool) {
	var req evaluation.Request
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if alertsOnly {
		req.SkipProtocols = true
	}

	resp, err := h.service.Evaluate(r.Context(), &req)
	switch {
	case errors.Is(err, evaluation.ErrInvalidRequest):
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		h.logger.Error("evaluation failed",
			zap.Int64("prescription_id", req.PrescriptionID),
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.Error(err))
		h.jsonError(w, "evaluation failed", http.StatusServiceUnavailable)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// ValidateResponse lists the protocols that failed to compile
type ValidateResponse struct {
	Valid    int                        `json:"valid"`
	Invalid  int                        `json:"invalid"`
	Problems []evaluation.ProtocolError `json:"problems"`
}

// ValidateProtocols handles POST /protocols/validate. The body is a YAML or
// JSON list of definitions, or a mapping with a "protocols" list.
func (h *EvaluationHandler) ValidateProtocols(w http.ResponseWriter, r *http.Request) {
	_, span := otel.Tracer("evaluation-handler").Start(r.Context(), "validate_protocols")
	defer span.End()

	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.jsonError(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defs, err := protocol.Decode(data)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	compiled, problems := evaluation.Compile(defs)
	if problems == nil {
		problems = []evaluation.ProtocolError{}
	}
	span.SetAttributes(
		attribute.Int("protocols", len(defs)),
		attribute.Int("invalid", len(problems)),
	)

	status := http.StatusOK
	if len(problems) > 0 {
		status = http.StatusUnprocessableEntity
	}
	h.writeJSON(w, status, ValidateResponse{
		Valid:    len(compiled),
		Invalid:  len(problems),
		Problems: problems,
	})
}

func (h *EvaluationHandler) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("failed to write response", zap.Error(err))
	}
}

func (h *EvaluationHandler) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
