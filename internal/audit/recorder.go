package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"datavault/internal/platform/kafka/producer"
	"datavault/internal/platform/metrics"
	id "datavault/pkg/domain"
)

// Recorder captures structured audit entries on behalf of mutating operations.
//
// Appends are best-effort: a failed append is logged and counted, never
// returned to the caller. The audit trail's completeness is deliberately not
// transactionally tied to the primary mutation - the mutation's success is
// never downgraded by an audit-logging failure.
type Recorder struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics

	producer *producer.Producer
	topic    string
}

// RecorderOption configures the Recorder.
type RecorderOption func(*Recorder)

// WithMetrics sets the metrics instance used to count written/dropped entries.
func WithMetrics(m *metrics.Metrics) RecorderOption {
	return func(r *Recorder) {
		r.metrics = m
	}
}

// WithKafkaFanOut mirrors every appended entry onto a Kafka topic for
// downstream compliance consumers. Delivery is asynchronous and best-effort,
// like the append itself.
func WithKafkaFanOut(p *producer.Producer, topic string) RecorderOption {
	return func(r *Recorder) {
		r.producer = p
		r.topic = topic
	}
}

// NewRecorder constructs a Recorder writing through the given store.
func NewRecorder(store Store, logger *slog.Logger, opts ...RecorderOption) *Recorder {
	r := &Recorder{store: store, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record appends one entry, filling in ID and timestamp when unset.
//
// It intentionally returns nothing: callers are mid-mutation and must treat
// audit failure as log-and-continue, so the failure path simply is not
// expressible at the call site.
func (r *Recorder) Record(ctx context.Context, entry Entry) {
	if entry.ID.IsNil() {
		entry.ID = id.NewEntryID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	if err := r.store.Append(ctx, entry); err != nil {
		if r.logger != nil {
			r.logger.ErrorContext(ctx, "failed to append audit entry",
				"error", err,
				"action", entry.Action,
				"owner_id", entry.OwnerID,
				"entity_type", entry.EntityType,
			)
		}
		if r.metrics != nil {
			r.metrics.IncrementAuditEntriesDropped()
		}
		return
	}

	if r.metrics != nil {
		r.metrics.IncrementAuditEntriesWritten()
	}
	r.fanOut(entry)
}

// fanOut mirrors the entry to Kafka when configured. Failures are handled by
// the producer's delivery callback; nothing propagates here.
func (r *Recorder) fanOut(entry Entry) {
	if r.producer == nil {
		return
	}

	payload, err := json.Marshal(exportRecord(entry))
	if err != nil {
		if r.logger != nil {
			r.logger.Error("failed to encode audit entry for fan-out", "error", err)
		}
		return
	}

	_ = r.producer.ProduceAsync(&producer.Message{
		Topic: r.topic,
		Key:   []byte(entry.OwnerID.String()),
		Value: payload,
		Headers: map[string]string{
			"action": string(entry.Action),
		},
	})
}
