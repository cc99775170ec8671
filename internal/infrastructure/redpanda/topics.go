// Package redpanda carries evaluation requests and results over
// Kafka-compatible topics with franz-go.
package redpanda

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// Topic names used by the alert worker
const (
	TopicEvaluationRequests = "prescription.evaluation.requests"
	TopicEvaluationResults  = "prescription.evaluation.results"
	TopicDeadLetter         = "dead.letter"
)

// TopicSpec describes a topic the worker depends on
type TopicSpec struct {
	Name       string
	Partitions int32
	Retention  time.Duration
}

// DefaultTopics lists the request, result and dead letter topics. Requests
// are short lived; results and dead letters are kept for a week.
func DefaultTopics() []TopicSpec {
	week := 7 * 24 * time.Hour
	return []TopicSpec{
		{Name: TopicEvaluationRequests, Partitions: 12, Retention: 24 * time.Hour},
		{Name: TopicEvaluationResults, Partitions: 12, Retention: week},
		{Name: TopicDeadLetter, Partitions: 3, Retention: week},
	}
}

func (s TopicSpec) configs() map[string]*string {
	retention := strconv.FormatInt(s.Retention.Milliseconds(), 10)
	policy, compression := "delete", "lz4"
	return map[string]*string{
		"retention.ms":     &retention,
		"cleanup.policy":   &policy,
		"compression.type": &compression,
	}
}

// Admin creates and inspects the worker topics
type Admin struct {
	client *kadm.Client
	logger *zap.Logger
	// Replication is the replication factor for new topics; -1 uses the
	// broker default
	Replication int16
}

// NewAdmin creates an admin client
func NewAdmin(brokers []string, logger *zap.Logger) (*Admin, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cl, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return nil, fmt.Errorf("create admin client: %w", err)
	}
	return &Admin{client: kadm.NewClient(cl), logger: logger, Replication: -1}, nil
}

// EnsureTopics creates the default topics that do not exist yet and returns
// the names it created
func (a *Admin) EnsureTopics(ctx context.Context) ([]string, error) {
	return a.Ensure(ctx, DefaultTopics())
}

// Ensure creates the specs that are missing from the cluster
func (a *Admin) Ensure(ctx context.Context, specs []TopicSpec) ([]string, error) {
	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.Name
	}
	existing, err := a.client.ListTopics(ctx, names...)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}

	var created []string
	for _, s := range specs {
		if d, ok := existing[s.Name]; ok && d.Err == nil {
			continue
		}
		resp, err := a.client.CreateTopic(ctx, s.Partitions, a.Replication, s.configs(), s.Name)
		switch {
		case errors.Is(err, kerr.TopicAlreadyExists), errors.Is(resp.Err, kerr.TopicAlreadyExists):
			continue
		case err != nil:
			return created, fmt.Errorf("create topic %s: %w", s.Name, err)
		case resp.Err != nil:
			return created, fmt.Errorf("create topic %s: %w", s.Name, resp.Err)
		}
		a.logger.Info("topic created",
			zap.String("topic", s.Name),
			zap.Int32("partitions", s.Partitions),
			zap.Duration("retention", s.Retention))
		created = append(created, s.Name)
	}
	return created, nil
}

// PartitionLag is the committed-offset lag of one partition
type PartitionLag struct {
	Topic     string
	Partition int32
	Lag       int64
}

// Lag returns the group's lag sorted by topic and partition
func (a *Admin) Lag(ctx context.Context, group string) ([]PartitionLag, error) {
	lags, err := a.client.Lag(ctx, group)
	if err != nil {
		return nil, fmt.Errorf("describe lag of %s: %w", group, err)
	}
	described, ok := lags[group]
	if !ok {
		return nil, nil
	}
	if err := described.DescribeErr; err != nil {
		return nil, fmt.Errorf("describe group %s: %w", group, err)
	}
	if err := described.FetchErr; err != nil {
		return nil, fmt.Errorf("fetch offsets of %s: %w", group, err)
	}

	var out []PartitionLag
	for _, l := range described.Lag.Sorted() {
		out = append(out, PartitionLag{Topic: l.Topic, Partition: l.Partition, Lag: l.Lag})
	}
	return out, nil
}

// Close closes the admin client
func (a *Admin) Close() { a.client.Close() }

// HealthCheck pings the brokers with a short-lived client
func HealthCheck(ctx context.Context, brokers []string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cl, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer cl.Close()
	return cl.Ping(ctx)
}
