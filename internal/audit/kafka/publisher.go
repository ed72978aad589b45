// Package kafka streams audit events to a Kafka topic for downstream
// compliance consumers. Writes are synchronous and fail-closed: if the broker
// does not acknowledge the event, Emit returns the error and the caller
// decides whether its operation may proceed.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/twmb/franz-go/pkg/kgo"

	"deedgate/internal/audit"
	"deedgate/pkg/platform/circuit"
)

var (
	publishDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "deedgate_audit_publish_duration_seconds",
		Help:    "Time to get a broker acknowledgement for an audit event.",
		Buckets: prometheus.DefBuckets,
	})
	publishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deedgate_audit_publish_failures_total",
		Help: "Audit events the broker refused or timed out on.",
	})
	publishShed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deedgate_audit_publish_shed_total",
		Help: "Audit events abandoned after a short probe while the broker circuit was open.",
	})
)

// probeTimeout bounds produce attempts while the circuit is open so an outage
// costs one second per event instead of the full produce timeout.
const probeTimeout = time.Second

// Publisher emits audit events to a Kafka topic. A circuit breaker sheds
// events during a broker outage so request latency does not compound while
// every produce waits out its timeout.
type Publisher struct {
	client  *kgo.Client
	topic   string
	logger  *slog.Logger
	breaker *circuit.Breaker
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithLogger sets a logger for error reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// New connects to the given seed brokers and returns a publisher for topic.
func New(brokers []string, topic string, opts ...Option) (*Publisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ProduceRequestTimeout(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect kafka: %w", err)
	}
	p := &Publisher{
		client:  client,
		topic:   topic,
		breaker: circuit.New("audit-kafka", circuit.WithFailureThreshold(5), circuit.WithSuccessThreshold(2)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Emit synchronously produces the event, keyed by subject ID so all events
// for one subject land in the same partition in order.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}

	record := &kgo.Record{
		Key:   []byte(event.SubjectID),
		Value: payload,
	}

	produceCtx := ctx
	probing := p.breaker.IsOpen()
	if probing {
		var cancel context.CancelFunc
		produceCtx, cancel = context.WithTimeout(ctx, probeTimeout)
		defer cancel()
	}

	if err := p.client.ProduceSync(produceCtx, record).FirstErr(); err != nil {
		publishFailures.Inc()
		if probing {
			publishShed.Inc()
		}
		if _, change := p.breaker.RecordFailure(); change.Opened && p.logger != nil {
			p.logger.WarnContext(ctx, "audit broker circuit opened", "topic", p.topic)
		}
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "audit event publish failed",
				"action", event.Action,
				"subject_id", event.SubjectID,
				"error", err,
			)
		}
		return fmt.Errorf("produce audit event: %w", err)
	}

	if _, change := p.breaker.RecordSuccess(); change.Closed && p.logger != nil {
		p.logger.InfoContext(ctx, "audit broker circuit closed", "topic", p.topic)
	}

	publishDuration.Observe(time.Since(start).Seconds())
	return nil
}

// Close flushes buffered records and releases the client.
func (p *Publisher) Close() error {
	p.client.Close()
	return nil
}
