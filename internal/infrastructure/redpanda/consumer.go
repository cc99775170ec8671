package redpanda

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ConsumerConfig holds configuration for the request consumer
type ConsumerConfig struct {
	Brokers []string
	GroupID string
	Topics  []string
	// StartOffset is "earliest" or "latest" for groups without commits
	StartOffset    string
	SessionTimeout time.Duration
	FetchMaxBytes  int32
	// RetryBackoff is the pause before a failed record is fetched again
	RetryBackoff time.Duration
}

// DefaultConsumerConfig returns defaults for the evaluation request stream
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Brokers:        []string{"localhost:9092"},
		GroupID:        "alert-worker",
		Topics:         []string{TopicEvaluationRequests},
		StartOffset:    "earliest",
		SessionTimeout: 30 * time.Second,
		FetchMaxBytes:  50 << 20,
		RetryBackoff:   time.Second,
	}
}

// MessageHandler processes one record. A returned error rewinds the
// partition to that record so it is fetched again.
type MessageHandler func(ctx context.Context, msg *ConsumedMessage) error

// ConsumedMessage is a record handed to a MessageHandler
type ConsumedMessage struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

func newConsumedMessage(r *kgo.Record) *ConsumedMessage {
	msg := &ConsumedMessage{
		Topic:     r.Topic,
		Partition: r.Partition,
		Offset:    r.Offset,
		Key:       r.Key,
		Value:     r.Value,
		Headers:   make(map[string]string, len(r.Headers)),
		Timestamp: r.Timestamp,
	}
	for _, h := range r.Headers {
		msg.Headers[h.Key] = string(h.Value)
	}
	return msg
}

// Consumer reads a consumer group. Partitions of one fetch are handled
// concurrently; records within a partition stay in order and an offset is
// committed only once its record was handled.
type Consumer struct {
	cfg     ConsumerConfig
	client  *kgo.Client
	logger  *zap.Logger
	tracer  trace.Tracer
	handler MessageHandler

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	handled  atomic.Int64
	failed   atomic.Int64
	rewinds  atomic.Int64
	fetchErr atomic.Int64
}

// NewConsumer creates a consumer; Start begins polling
func NewConsumer(cfg ConsumerConfig, handler MessageHandler, logger *zap.Logger) (*Consumer, error) {
	if handler == nil {
		return nil, errors.New("message handler is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	reset := kgo.NewOffset().AtStart()
	if cfg.StartOffset == "latest" {
		reset = kgo.NewOffset().AtEnd()
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.ConsumeResetOffset(reset),
		kgo.SessionTimeout(cfg.SessionTimeout),
		kgo.FetchMaxBytes(cfg.FetchMaxBytes),
		kgo.DisableAutoCommit(),
		kgo.BlockRebalanceOnPoll(),
		kgo.OnPartitionsRevoked(func(ctx context.Context, cl *kgo.Client, revoked map[string][]int32) {
			logger.Info("partitions revoked", zap.Any("partitions", revoked))
			if err := cl.CommitMarkedOffsets(ctx); err != nil {
				logger.Warn("commit on revoke failed", zap.Error(err))
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create consumer client: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		cfg:     cfg,
		client:  client,
		logger:  logger,
		tracer:  otel.Tracer("redpanda-consumer"),
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}, nil
}

// Start begins consuming in the background
func (c *Consumer) Start() {
	go c.poll()
}

// Stop waits for in-flight records, commits what was handled and closes
// the client
func (c *Consumer) Stop() error {
	c.cancel()
	<-c.done

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := c.client.CommitMarkedOffsets(ctx)
	c.client.Close()
	if err != nil {
		return fmt.Errorf("final commit: %w", err)
	}
	return nil
}

func (c *Consumer) poll() {
	defer close(c.done)

	for {
		fetches := c.client.PollFetches(c.ctx)
		if fetches.IsClientClosed() || c.ctx.Err() != nil {
			return
		}

		fetches.EachError(func(topic string, partition int32, err error) {
			c.fetchErr.Add(1)
			c.logger.Error("fetch error",
				zap.String("topic", topic),
				zap.Int32("partition", partition),
				zap.Error(err))
		})

		var wg sync.WaitGroup
		fetches.EachPartition(func(p kgo.FetchTopicPartition) {
			if len(p.Records) == 0 {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.handlePartition(p.Records)
			}()
		})
		wg.Wait()

		if err := c.client.CommitMarkedOffsets(c.ctx); err != nil && c.ctx.Err() == nil {
			c.logger.Error("commit failed", zap.Error(err))
		}
		c.client.AllowRebalance()
	}
}

// handlePartition processes records in order and stops at the first
// failure, rewinding the partition so the failed record is fetched again
func (c *Consumer) handlePartition(records []*kgo.Record) {
	for _, r := range records {
		if c.ctx.Err() != nil {
			c.rewind(r)
			return
		}
		if err := c.handle(r); err != nil {
			c.rewind(r)
			select {
			case <-c.ctx.Done():
			case <-time.After(c.cfg.RetryBackoff):
			}
			return
		}
		c.client.MarkCommitRecords(r)
	}
}

func (c *Consumer) handle(r *kgo.Record) error {
	ctx := extractTraceContext(c.ctx, r)
	ctx, span := c.tracer.Start(ctx, "consume "+r.Topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination", r.Topic),
			attribute.Int64("messaging.kafka.partition", int64(r.Partition)),
			attribute.Int64("messaging.kafka.offset", r.Offset),
		))
	defer span.End()

	if err := c.handler(ctx, newConsumedMessage(r)); err != nil {
		c.failed.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Error("message handler failed",
			zap.String("topic", r.Topic),
			zap.Int32("partition", r.Partition),
			zap.Int64("offset", r.Offset),
			zap.Error(err))
		return err
	}
	c.handled.Add(1)
	return nil
}

func (c *Consumer) rewind(r *kgo.Record) {
	c.rewinds.Add(1)
	c.client.SetOffsets(map[string]map[int32]kgo.EpochOffset{
		r.Topic: {r.Partition: {Epoch: r.LeaderEpoch, Offset: r.Offset}},
	})
}

// ConsumerStats holds consumer counters
type ConsumerStats struct {
	Handled     int64
	Failed      int64
	Rewinds     int64
	FetchErrors int64
}

// Stats returns current consumer counters
func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{
		Handled:     c.handled.Load(),
		Failed:      c.failed.Load(),
		Rewinds:     c.rewinds.Load(),
		FetchErrors: c.fetchErr.Load(),
	}
}
