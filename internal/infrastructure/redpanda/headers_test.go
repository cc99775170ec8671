package redpanda

import (
	"context"
	"testing"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestTraceHeadersRoundTrip(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	record := &kgo.Record{Topic: TopicEvaluationResults}
	injectTraceHeaders(ctx, record)

	want := "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"
	if got := (headerCarrier{record: record}).Get("traceparent"); got != want {
		t.Errorf("traceparent = %q, want %q", got, want)
	}

	extracted := trace.SpanContextFromContext(extractTraceContext(context.Background(), record))
	if extracted.TraceID() != traceID || !extracted.IsRemote() {
		t.Errorf("extracted = %+v", extracted)
	}
}

func TestHeaderCarrier_SetReplaces(t *testing.T) {
	record := &kgo.Record{}
	c := headerCarrier{record: record}
	c.Set("a", "1")
	c.Set("a", "2")
	c.Set("b", "3")

	if len(record.Headers) != 2 {
		t.Fatalf("headers = %v", record.Headers)
	}
	if c.Get("a") != "2" {
		t.Errorf("a = %q", c.Get("a"))
	}
	if keys := c.Keys(); len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Errorf("keys = %v", keys)
	}
}

func TestDefaultTopics(t *testing.T) {
	names := map[string]bool{}
	for _, spec := range DefaultTopics() {
		names[spec.Name] = true
		if spec.Partitions <= 0 {
			t.Errorf("%s: partitions %d", spec.Name, spec.Partitions)
		}
	}
	requests := DefaultTopics()[0]
	if got := *requests.configs()["retention.ms"]; got != "86400000" {
		t.Errorf("request retention = %s", got)
	}
	for _, want := range []string{TopicEvaluationRequests, TopicEvaluationResults, TopicDeadLetter} {
		if !names[want] {
			t.Errorf("missing topic %s", want)
		}
	}
}

func TestMessageRecord(t *testing.T) {
	msg := Message{
		Topic:   TopicEvaluationResults,
		Key:     "42",
		Value:   []byte(`{}`),
		Headers: map[string]string{"event-type": "EvaluationCompleted"},
	}
	r := msg.record()
	if r.Topic != msg.Topic || string(r.Key) != "42" || string(r.Value) != "{}" {
		t.Errorf("record = %+v", r)
	}
	if got := (headerCarrier{record: r}).Get("event-type"); got != "EvaluationCompleted" {
		t.Errorf("event-type = %q", got)
	}

	consumed := newConsumedMessage(r)
	if consumed.Topic != msg.Topic || consumed.Headers["event-type"] != "EvaluationCompleted" {
		t.Errorf("consumed = %+v", consumed)
	}
}

func TestProducerOptions(t *testing.T) {
	cfg := DefaultProducerConfig()
	base := len(cfg.options())

	cfg.Compression = "none"
	if got := len(cfg.options()); got != base-1 {
		t.Errorf("no compression: %d options, want %d", got, base-1)
	}

	cfg.LeaderAckOnly = true
	if got := len(cfg.options()); got != base {
		t.Errorf("leader ack: %d options, want %d", got, base)
	}
}
