// Package worker evaluates prescriptions read from the request topic and
// publishes the results.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxguard/internal/evaluation"
	"github.com/drfirst/go-rxguard/internal/infrastructure/redpanda"
	"github.com/drfirst/go-rxguard/internal/observability/metrics"
	"github.com/drfirst/go-rxguard/pkg/workerpool"
)

// HeaderCorrelationID carries the caller's correlation id through both topics
const HeaderCorrelationID = "correlation-id"

// Publisher sends one message
type Publisher interface {
	Publish(ctx context.Context, msg redpanda.Message) error
}

// Evaluator evaluates one prescription
type Evaluator interface {
	Evaluate(ctx context.Context, req *evaluation.Request) (*evaluation.Response, error)
}

// Config holds processor configuration
type Config struct {
	ResultsTopic    string
	DeadLetterTopic string
}

// DefaultConfig returns the standard topics
func DefaultConfig() Config {
	return Config{
		ResultsTopic:    redpanda.TopicEvaluationResults,
		DeadLetterTopic: redpanda.TopicDeadLetter,
	}
}

// Processor turns request messages into result events. Requests that can
// never be evaluated go to the dead letter topic; other failures are retried
// by the pool and finally left uncommitted.
type Processor struct {
	cfg       Config
	service   Evaluator
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	pool      *workerpool.Pool
}

// NewProcessor creates a processor. Start must be called before Handle.
func NewProcessor(cfg Config, service Evaluator, publisher Publisher, poolCfg workerpool.Config, m *metrics.Metrics, logger *zap.Logger) (*Processor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Processor{
		cfg:       cfg,
		service:   service,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
	pool, err := workerpool.New(poolCfg, p.process, logger)
	if err != nil {
		return nil, err
	}
	p.pool = pool
	return p, nil
}

// Start launches the pool workers
func (p *Processor) Start() { p.pool.Start() }

// Stop drains the pool
func (p *Processor) Stop() error { return p.pool.Stop() }

// Stats returns pool statistics
func (p *Processor) Stats() workerpool.Stats { return p.pool.Stats() }

// Handle is a redpanda.MessageHandler. It blocks until the message has been
// processed so the consumer commits only handled offsets.
func (p *Processor) Handle(ctx context.Context, msg *redpanda.ConsumedMessage) error {
	p.count(func(m *metrics.Metrics) prometheus.Counter { return m.KafkaMessagesConsumed })

	task := &workerpool.Task{
		ID:      fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset),
		Payload: msg,
		Context: ctx,
	}
	result, err := p.pool.SubmitWait(ctx, task)
	if err != nil {
		return err
	}
	if !result.Success {
		return result.Error
	}
	return nil
}

var errUndecodable = errors.New("undecodable evaluation request")

func (p *Processor) process(ctx context.Context, task *workerpool.Task) *workerpool.Result {
	msg := task.Payload.(*redpanda.ConsumedMessage)
	correlationID := msg.Headers[HeaderCorrelationID]

	var req evaluation.Request
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		return p.deadLetter(ctx, msg, 0, fmt.Errorf("%w: %v", errUndecodable, err))
	}

	resp, err := p.service.Evaluate(ctx, &req)
	if errors.Is(err, evaluation.ErrInvalidRequest) {
		return p.deadLetter(ctx, msg, req.PrescriptionID, err)
	}
	if err != nil {
		return &workerpool.Result{Error: err}
	}

	event, err := evaluation.NewCompletedEvent(resp, correlationID)
	if err != nil {
		return &workerpool.Result{Error: err, Permanent: true}
	}
	if err := p.publish(ctx, p.cfg.ResultsTopic, event, correlationID); err != nil {
		return &workerpool.Result{Error: err}
	}
	return &workerpool.Result{Success: true, Data: resp.EvaluationID}
}

func (p *Processor) deadLetter(ctx context.Context, msg *redpanda.ConsumedMessage, prescriptionID int64, cause error) *workerpool.Result {
	correlationID := msg.Headers[HeaderCorrelationID]
	p.logger.Warn("sending request to dead letter topic",
		zap.String("topic", msg.Topic),
		zap.Int32("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
		zap.Error(cause))

	event := evaluation.NewFailedEvent(prescriptionID, cause, correlationID)
	if err := p.publish(ctx, p.cfg.DeadLetterTopic, event, correlationID); err != nil {
		return &workerpool.Result{Error: err}
	}
	p.count(func(m *metrics.Metrics) prometheus.Counter { return m.DeadLetters })
	// the request itself is handled
	return &workerpool.Result{Success: true}
}

func (p *Processor) publish(ctx context.Context, topic string, event *evaluation.Event, correlationID string) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := redpanda.Message{
		Topic: topic,
		Key:   strconv.FormatInt(event.PrescriptionID, 10),
		Value: value,
		Headers: map[string]string{
			"event-type": string(event.EventType),
		},
	}
	if correlationID != "" {
		msg.Headers[HeaderCorrelationID] = correlationID
	}
	if err := p.publisher.Publish(ctx, msg); err != nil {
		return err
	}
	p.count(func(m *metrics.Metrics) prometheus.Counter { return m.KafkaMessagesProduced })
	return nil
}

func (p *Processor) count(pick func(*metrics.Metrics) prometheus.Counter) {
	if p.metrics != nil {
		pick(p.metrics).Inc()
	}
}
