// Package pipeline wires the consumer, ordering layer, mapper and graph
// applier into the fetch, process, acknowledge loop.
package pipeline

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/deadletter"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/mapper"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/sequencer"
	"github.com/Ramsey-B/fern/pkg/state"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// GraphApplier applies one event's intents atomically.
type GraphApplier interface {
	Apply(ctx context.Context, intents []models.Intent) error
}

// Config holds the runner's retry policy.
type Config struct {
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// Runner drives change events through ordering, mapping and apply. One
// batch is acknowledged only after every event in it reached a commit or
// dead-letter decision.
type Runner struct {
	config    Config
	mapper    *mapper.Mapper
	sequencer *sequencer.Sequencer
	applier   GraphApplier
	sink      deadletter.Sink
	logger    ectologger.Logger
}

// New creates a pipeline runner.
func New(cfg Config, m *mapper.Mapper, seq *sequencer.Sequencer, applier GraphApplier, sink deadletter.Sink, logger ectologger.Logger) *Runner {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 250 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 10 * time.Second
	}

	return &Runner{
		config:    cfg,
		mapper:    m,
		sequencer: seq,
		applier:   applier,
		sink:      sink,
		logger:    logger,
	}
}

// errStale marks an event the ordering layer discarded. Internal to the
// retry loop; stale events are counted no-ops, never failures.
var errStale = errors.New("pipeline: stale event discarded")

type parsedMessage struct {
	msg   *kafka.IncomingMessage
	event *models.ChangeEvent
}

// HandleBatch processes one fetched batch. A nil return means every
// message reached its decision and the batch may be acknowledged.
func (r *Runner) HandleBatch(ctx context.Context, msgs []*kafka.IncomingMessage) error {
	ctx, span := tracing.StartSpan(ctx, "pipeline.Runner.HandleBatch")
	defer span.End()

	metrics.BatchSize.Observe(float64(len(msgs)))

	parsed := make([]parsedMessage, 0, len(msgs))
	for _, msg := range msgs {
		if err := msg.Parse(); err != nil {
			// Parse errors are always fatal for the message.
			if dlErr := r.deadLetterMessage(ctx, msg, nil, err); dlErr != nil {
				return dlErr
			}
			continue
		}
		parsed = append(parsed, parsedMessage{msg: msg, event: msg.Event})
	}

	// Re-sort by row stream so in-batch reordering heals before the
	// dedup layer sees it. Cross-batch lateness is dedup's job.
	sort.SliceStable(parsed, func(i, j int) bool {
		ki, kj := parsed[i].event.Key().String(), parsed[j].event.Key().String()
		if ki != kj {
			return ki < kj
		}
		return parsed[i].event.Sequence < parsed[j].event.Sequence
	})

	for _, pm := range parsed {
		if err := r.processEvent(ctx, pm.msg, pm.event); err != nil {
			return err
		}
	}

	return nil
}

// processEvent drives one event to a commit or dead-letter decision,
// retrying transient store failures with exponential backoff. A non-nil
// return means no decision was reached and the batch must not be acked.
func (r *Runner) processEvent(ctx context.Context, msg *kafka.IncomingMessage, event *models.ChangeEvent) error {
	// Join the producer's trace when the message carried one.
	ctx = tracing.ContextWithRemoteTrace(ctx, msg.TraceParent, msg.TraceState)
	ctx, span := tracing.StartSpan(ctx, "pipeline.Runner.processEvent")
	defer span.End()

	metrics.EventsInFlight.Inc()
	defer metrics.EventsInFlight.Dec()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"source_table": string(event.SourceTable),
		"row_id":       event.RowID,
		"sequence":     event.Sequence,
		"op":           string(event.Operation),
	})

	backoff := r.config.BackoffInitial
	for attempt := 1; ; attempt++ {
		err := r.attemptEvent(ctx, event)
		if err == nil {
			metrics.RecordProcessed(string(event.SourceTable), "applied")
			log.Debug("Applied change event")
			return nil
		}
		if errors.Is(err, errStale) {
			metrics.RecordStale(string(event.SourceTable))
			log.Debug("Discarded stale event")
			return nil
		}
		if models.IsFatalEventError(err) {
			log.WithError(err).Warn("Unprocessable event, dead-lettering")
			return r.deadLetterMessage(ctx, msg, event, err)
		}
		if !models.IsStoreUnavailable(err) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.WithError(err).Error("Unexpected processing error, dead-lettering")
			return r.deadLetterMessage(ctx, msg, event, err)
		}

		if attempt >= r.config.MaxAttempts {
			log.WithError(err).WithFields(map[string]any{
				"attempts": attempt,
			}).Error("Store retries exhausted, dead-lettering")
			return r.deadLetterMessage(ctx, msg, event, err)
		}

		metrics.ApplyRetriesTotal.Inc()
		log.WithError(err).WithFields(map[string]any{
			"attempt": attempt,
			"backoff": backoff.String(),
		}).Warn("Store unavailable, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > r.config.BackoffMax {
			backoff = r.config.BackoffMax
		}
	}
}

// attemptEvent is one decide, map, apply, commit pass. The checkpoint
// advances only after the graph write is confirmed.
func (r *Runner) attemptEvent(ctx context.Context, event *models.ChangeEvent) error {
	decision, err := r.sequencer.Decide(ctx, event)
	if err != nil {
		return err
	}
	if decision.Stale {
		return errStale
	}

	intents, err := r.mapper.Map(event, decision.PrevPayload)
	if err != nil {
		return err
	}

	start := time.Now()
	if err := r.applier.Apply(ctx, intents); err != nil {
		return err
	}
	metrics.ApplyDuration.Observe(time.Since(start).Seconds())

	err = r.sequencer.Commit(ctx, event, decision.PrevSequence)
	if errors.Is(err, state.ErrConflict) {
		// A concurrent worker advanced the stream. The apply was
		// idempotent, so the duplicate is a stale no-op.
		return errStale
	}
	return err
}

func (r *Runner) deadLetterMessage(ctx context.Context, msg *kafka.IncomingMessage, event *models.ChangeEvent, cause error) error {
	entry := &deadletter.Entry{
		Reason:    deadletter.Reason(cause),
		Error:     cause.Error(),
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Message:   string(msg.Value),
	}
	if event != nil {
		entry.SourceTable = string(event.SourceTable)
		entry.RowID = event.RowID
		entry.Sequence = event.Sequence
	}

	if err := r.sink.Send(ctx, entry); err != nil {
		// Without a dead letter the message must not be acked.
		r.logger.WithContext(ctx).WithError(err).Error("Failed to dead-letter message")
		return err
	}

	metrics.RecordDeadLetter(entry.SourceTable, entry.Reason)
	return nil
}
