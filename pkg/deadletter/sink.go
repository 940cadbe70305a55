// Package deadletter routes unprocessable messages to the dead letter topic.
package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Dead letter reasons, used as the message header and metrics label.
const (
	ReasonMalformed      = "malformed_event"
	ReasonUnknownTable   = "unknown_source_table"
	ReasonUnmappableFK   = "unmappable_foreign_key"
	ReasonStoreExhausted = "store_retries_exhausted"
	ReasonUnknown        = "unknown"
)

// Reason classifies an error into a dead letter reason.
func Reason(err error) string {
	var malformed *models.MalformedEventError
	if errors.As(err, &malformed) {
		return ReasonMalformed
	}
	var unknownTable *models.UnknownSourceTableError
	if errors.As(err, &unknownTable) {
		return ReasonUnknownTable
	}
	var unmappable *models.UnmappableForeignKeyError
	if errors.As(err, &unmappable) {
		return ReasonUnmappableFK
	}
	if models.IsStoreUnavailable(err) {
		return ReasonStoreExhausted
	}
	return ReasonUnknown
}

// Entry is one dead-lettered message with enough context to replay it.
type Entry struct {
	ID          string    `json:"id"`
	Reason      string    `json:"reason"`
	Error       string    `json:"error"`
	SourceTable string    `json:"source_table,omitempty"`
	RowID       string    `json:"row_id,omitempty"`
	Sequence    int64     `json:"sequence,omitempty"`
	Topic       string    `json:"topic"`
	Partition   int       `json:"partition"`
	Offset      int64     `json:"offset"`
	Message     string    `json:"message"`
	TraceID     string    `json:"trace_id,omitempty"`
	SpanID      string    `json:"span_id,omitempty"`
	FailedAt    time.Time `json:"failed_at"`
}

// Sink accepts messages the pipeline gave up on.
type Sink interface {
	Send(ctx context.Context, entry *Entry) error
}

// KafkaSink publishes dead letters to a Kafka topic.
type KafkaSink struct {
	producer *kafka.Producer
	logger   ectologger.Logger
}

// NewKafkaSink creates a Kafka-backed dead letter sink
func NewKafkaSink(producer *kafka.Producer, logger ectologger.Logger) *KafkaSink {
	return &KafkaSink{
		producer: producer,
		logger:   logger,
	}
}

// Send publishes the entry. The pipeline acknowledges the source message
// only after Send succeeds, so dead letters are never silently dropped.
func (s *KafkaSink) Send(ctx context.Context, entry *Entry) error {
	ctx, span := tracing.StartSpan(ctx, "deadletter.KafkaSink.Send")
	defer span.End()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.FailedAt.IsZero() {
		entry.FailedAt = time.Now().UTC()
	}

	entry.TraceID = tracing.GetTraceID(ctx)
	entry.SpanID = tracing.GetSpanID(ctx)

	value, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	key := entry.ID
	if entry.SourceTable != "" && entry.RowID != "" {
		key = entry.SourceTable + ":" + entry.RowID
	}

	headers := map[string]string{
		"reason":       entry.Reason,
		"source_topic": entry.Topic,
	}

	if err := s.producer.Publish(ctx, []byte(key), value, headers); err != nil {
		return err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"reason":       entry.Reason,
		"source_table": entry.SourceTable,
		"row_id":       entry.RowID,
		"offset":       entry.Offset,
	}).Warn("Dead-lettered message")

	return nil
}
