// Package redpanda publishes assistant turn events to Redpanda/Kafka for the
// statistics dashboards.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/sarangn19/exam-assistant/internal/adapter/observability"
	"github.com/sarangn19/exam-assistant/internal/domain"
)

// DefaultTopic receives turn events when none is configured.
const DefaultTopic = "assistant-turns"

// producerClient is the subset of *kgo.Client the publisher uses.
type producerClient interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
	Request(ctx context.Context, req kmsg.Request) (kmsg.Response, error)
	Flush(ctx context.Context) error
	Close()
}

// Publisher implements domain.TurnPublisher. Records are produced
// asynchronously; delivery failures are logged and counted.
type Publisher struct {
	client producerClient
	topic  string
}

// NewPublisher connects to brokers and ensures the topic exists.
func NewPublisher(ctx context.Context, brokers []string, topic string) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=redpanda.NewPublisher: no seed brokers provided")
	}
	if topic == "" {
		topic = DefaultTopic
	}
	slog.Info("creating redpanda publisher", slog.Any("brokers", brokers), slog.String("topic", topic))

	kotelService := kotel.NewKotel(
		kotel.WithTracer(kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider()))),
	)
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequestRetries(10),
		kgo.ProducerBatchMaxBytes(1000000),
		kgo.ProducerLinger(50*time.Millisecond),
		kgo.DialTimeout(10*time.Second),
		kgo.WithHooks(kotelService.Hooks()...),
	)
	if err != nil {
		return nil, fmt.Errorf("op=redpanda.NewPublisher: %w", err)
	}
	return newPublisher(ctx, client, topic), nil
}

func newPublisher(ctx context.Context, client producerClient, topic string) *Publisher {
	if err := ensureTopic(ctx, client, topic, 3, 1); err != nil {
		// producing still works when the broker auto-creates topics
		slog.Warn("failed to ensure topic", slog.String("topic", topic), slog.Any("error", err))
	}
	return &Publisher{client: client, topic: topic}
}

// PublishTurn enqueues one turn event keyed by conversation id so a
// conversation's events stay ordered within a partition.
func (p *Publisher) PublishTurn(ctx domain.Context, ev domain.TurnEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("op=redpanda.PublishTurn: %w", err)
	}
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(ev.ConversationID),
		Value: b,
		Headers: []kgo.RecordHeader{
			{Key: "mode", Value: []byte(ev.Mode)},
			{Key: "category", Value: []byte(ev.Category)},
			{Key: "fallback", Value: []byte(strconv.FormatBool(ev.Fallback))},
		},
	}
	lg := observability.LoggerFromContext(ctx)
	// the record outlives the request, so it must not inherit its cancellation
	p.client.Produce(context.WithoutCancel(ctx), record, func(r *kgo.Record, err error) {
		if err != nil {
			observability.TurnEventsTotal.WithLabelValues("delivery_error").Inc()
			lg.Warn("turn event delivery failed",
				slog.String("topic", r.Topic),
				slog.String("conversation_id", ev.ConversationID),
				slog.Any("error", err))
			return
		}
		lg.Debug("turn event delivered",
			slog.String("topic", r.Topic),
			slog.Int("partition", int(r.Partition)),
			slog.Int64("offset", r.Offset))
	})
	return nil
}

// Close flushes buffered records and closes the client.
func (p *Publisher) Close(ctx context.Context) error {
	if p.client == nil {
		return nil
	}
	err := p.client.Flush(ctx)
	p.client.Close()
	if err != nil {
		return fmt.Errorf("op=redpanda.Close: %w", err)
	}
	return nil
}
