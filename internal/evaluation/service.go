// Package evaluation runs the deterministic alert engine and the protocol
// engine over one prescription.
package evaluation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxguard/internal/alert"
	"github.com/drfirst/go-rxguard/internal/clinical/exam"
	"github.com/drfirst/go-rxguard/internal/domain/prescription"
	"github.com/drfirst/go-rxguard/internal/observability/metrics"
	"github.com/drfirst/go-rxguard/internal/protocol"
)

// ErrInvalidRequest is returned for requests that cannot be evaluated
var ErrInvalidRequest = errors.New("invalid evaluation request")

// ProtocolSource serves the active protocol definitions
type ProtocolSource interface {
	Definitions(ctx context.Context) ([]protocol.Definition, error)
}

// Request is one prescription with its patient context
type Request struct {
	PrescriptionID int64                 `json:"idPrescription"`
	Header         *prescription.Header  `json:"header,omitempty"`
	Patient        *prescription.Patient `json:"patient,omitempty"`
	Items          []*prescription.Item  `json:"items"`
	Exams          exam.Snapshot         `json:"exams,omitempty"`
	NoteStats      map[string]float64    `json:"noteStats,omitempty"`
	SkipProtocols  bool                  `json:"skipProtocols,omitempty"`
}

// Validate checks the request shape
func (r *Request) Validate() error {
	if r.PrescriptionID == 0 && r.Header != nil {
		r.PrescriptionID = r.Header.ID
	}
	if r.PrescriptionID == 0 {
		return fmt.Errorf("%w: idPrescription is required", ErrInvalidRequest)
	}
	for i, it := range r.Items {
		if it == nil {
			return fmt.Errorf("%w: item %d is null", ErrInvalidRequest, i)
		}
	}
	return nil
}

// ProtocolResult is a protocol whose trigger held for a date group
type ProtocolResult struct {
	Group string          `json:"group,omitempty"`
	Match *protocol.Match `json:"match"`
}

// ProtocolError reports a protocol that was skipped
type ProtocolError struct {
	ProtocolID int64  `json:"protocolId"`
	Name       string `json:"name,omitempty"`
	Group      string `json:"group,omitempty"`
	Reason     string `json:"reason"`
	Message    string `json:"message"`
}

// Response is the combined result of one evaluation
type Response struct {
	EvaluationID   string                  `json:"evaluationId"`
	PrescriptionID int64                   `json:"idPrescription"`
	EvaluatedAt    time.Time               `json:"evaluatedAt"`
	Alerts         map[int64][]alert.Alert `json:"alerts"`
	Stats          alert.Stats             `json:"stats"`
	Protocols      []ProtocolResult        `json:"protocols"`
	ProtocolErrors []ProtocolError         `json:"protocolErrors,omitempty"`
}

// Config holds service configuration
type Config struct {
	FastingIntervals []string
}

// Service orchestrates both engines
type Service struct {
	source  ProtocolSource
	cfg     Config
	metrics *metrics.Metrics
	logger  *zap.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

// NewService creates a service. source may be nil to disable protocols and
// m may be nil to disable metrics.
func NewService(source ProtocolSource, cfg Config, m *metrics.Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		source:  source,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
		tracer:  otel.Tracer("evaluation"),
		now:     time.Now,
	}
}

// Evaluate runs the alert engine and, unless skipped, every active protocol.
// A protocol with a configuration error is reported in ProtocolErrors and
// never fails the evaluation; a source failure does.
func (s *Service) Evaluate(ctx context.Context, req *Request) (*Response, error) {
	start := s.now()
	ctx, span := s.tracer.Start(ctx, "evaluate_prescription")
	defer span.End()

	if err := req.Validate(); err != nil {
		s.observe("invalid", start)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int64("prescription_id", req.PrescriptionID),
		attribute.Int("items", len(req.Items)),
	)

	patient := req.Patient
	if patient == nil {
		patient = &prescription.Patient{}
	}
	alerts := alert.Evaluate(alert.Input{
		Items:            req.Items,
		Exams:            withVitals(req.Exams, patient, start),
		Dialysis:         patient.Dialysis,
		Pregnant:         patient.Pregnant,
		Lactating:        patient.Lactating,
		FastingIntervals: s.cfg.FastingIntervals,
	})

	resp := &Response{
		EvaluationID:   uuid.New().String(),
		PrescriptionID: req.PrescriptionID,
		EvaluatedAt:    start.UTC(),
		Alerts:         alerts.Alerts,
		Stats:          alerts.Stats,
		Protocols:      []ProtocolResult{},
	}

	if s.source != nil && !req.SkipProtocols {
		if err := s.evaluateProtocols(ctx, req, start, resp); err != nil {
			s.observe("error", start)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	s.record(resp)
	s.observe("ok", start)
	span.SetAttributes(
		attribute.Int("alerts", resp.Stats.Total()),
		attribute.Int("protocol_matches", len(resp.Protocols)),
		attribute.Int("protocol_errors", len(resp.ProtocolErrors)),
	)

	s.logger.Info("prescription evaluated",
		zap.String("evaluation_id", resp.EvaluationID),
		zap.Int64("prescription_id", resp.PrescriptionID),
		zap.Int("alerts", resp.Stats.Total()),
		zap.String("level", resp.Stats.Level().String()),
		zap.Int("protocol_matches", len(resp.Protocols)),
		zap.Int("protocol_errors", len(resp.ProtocolErrors)),
		zap.Duration("duration", s.now().Sub(start)),
	)
	return resp, nil
}

func (s *Service) evaluateProtocols(ctx context.Context, req *Request, now time.Time, resp *Response) error {
	defs, err := s.source.Definitions(ctx)
	if err != nil {
		return fmt.Errorf("load protocols: %w", err)
	}
	if s.metrics != nil {
		s.metrics.ProtocolsLoaded.Set(float64(len(defs)))
	}

	compiled, errs := Compile(defs)
	resp.ProtocolErrors = append(resp.ProtocolErrors, errs...)

	outcomes := protocol.EvaluateAll(protocol.ContextInput{
		Items:     req.Items,
		Exams:     req.Exams,
		Header:    req.Header,
		Patient:   req.Patient,
		NoteStats: req.NoteStats,
		Now:       now,
	}, compiled)

	for _, o := range outcomes {
		switch {
		case o.Err != nil:
			resp.ProtocolErrors = append(resp.ProtocolErrors, protocolError(o.Protocol.ID, o.Protocol.Name, o.Group, o.Err))
			s.logger.Warn("protocol skipped",
				zap.Int64("protocol_id", o.Protocol.ID),
				zap.String("group", o.Group),
				zap.Error(o.Err))
		case o.Match != nil:
			resp.Protocols = append(resp.Protocols, ProtocolResult{Group: o.Group, Match: o.Match})
		}
	}
	return nil
}

// Compile compiles every definition, reporting failures per protocol
func Compile(defs []protocol.Definition) ([]*protocol.Protocol, []ProtocolError) {
	var (
		out  []*protocol.Protocol
		errs []ProtocolError
	)
	for _, def := range defs {
		p, err := protocol.Compile(def)
		if err != nil {
			errs = append(errs, protocolError(def.ID, def.Name, "", err))
			continue
		}
		out = append(out, p)
	}
	return out, errs
}

func protocolError(id int64, name, group string, err error) ProtocolError {
	reason := string(protocol.ReasonOf(err))
	if reason == "" {
		reason = "internal"
	}
	return ProtocolError{
		ProtocolID: id,
		Name:       name,
		Group:      group,
		Reason:     reason,
		Message:    err.Error(),
	}
}

// withVitals copies the patient's age and weight into a copy of exams when
// no exam result carries them
func withVitals(exams exam.Snapshot, p *prescription.Patient, now time.Time) exam.Snapshot {
	add := map[exam.Type]*float64{exam.Age: p.Age, exam.Weight: p.Weight}
	out, copied := exams, false
	for t, v := range add {
		if v == nil {
			continue
		}
		if _, ok := exams.Get(t); ok {
			continue
		}
		if !copied {
			out = make(exam.Snapshot, len(exams)+2)
			for k, r := range exams {
				out[k] = r
			}
			copied = true
		}
		out[t] = exam.Result{Value: *v, Date: now}
	}
	return out
}

func (s *Service) record(resp *Response) {
	if s.metrics == nil {
		return
	}
	for _, alerts := range resp.Alerts {
		for _, a := range alerts {
			s.metrics.AlertsRaised.WithLabelValues(a.Kind.String(), a.Level.String()).Inc()
		}
	}
	for _, p := range resp.Protocols {
		s.metrics.ProtocolMatches.WithLabelValues(strconv.FormatInt(p.Match.ProtocolID, 10)).Inc()
	}
	for _, e := range resp.ProtocolErrors {
		s.metrics.ProtocolErrors.WithLabelValues(e.Reason).Inc()
	}
}

func (s *Service) observe(outcome string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.EvaluationsTotal.WithLabelValues(outcome).Inc()
	s.metrics.EvaluationDuration.Observe(s.now().Sub(start).Seconds())
}
