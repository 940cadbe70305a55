package kafka

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/fern/pkg/tracing"
)

// BatchHandler processes one fetched batch of messages. A nil return
// acknowledges the whole batch; an error leaves every offset uncommitted
// so the batch is redelivered.
type BatchHandler func(ctx context.Context, msgs []*IncomingMessage) error

// Consumer handles Kafka message consumption
type Consumer struct {
	reader    *kafka.Reader
	logger    ectologger.Logger
	handler   BatchHandler
	batchSize int
	maxWait   time.Duration
	wg        sync.WaitGroup
	cancel    context.CancelFunc
}

// ConsumerConfig holds Kafka consumer configuration
type ConsumerConfig struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
	BatchSize     int
	MaxWait       time.Duration
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg ConsumerConfig, logger ectologger.Logger, handler BatchHandler) *Consumer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 500 * time.Millisecond
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    10e3, // 10KB
		MaxBytes:    10e6, // 10MB
		MaxWait:     cfg.MaxWait,
		StartOffset: kafka.FirstOffset,
	})

	return &Consumer{
		reader:    reader,
		logger:    logger,
		handler:   handler,
		batchSize: cfg.BatchSize,
		maxWait:   cfg.MaxWait,
	}
}

// Start begins consuming messages
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go c.consumeLoop(ctx)

	c.logger.WithContext(ctx).WithFields(map[string]any{
		"topic": c.reader.Config().Topic,
	}).Info("Kafka consumer started")
	return nil
}

// Stop gracefully stops the consumer. The in-flight batch finishes its
// commit-or-dead-letter decisions before the reader closes.
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return c.reader.Close()
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			c.logger.WithContext(ctx).Info("Consumer loop stopping")
			return
		default:
			batch, err := c.fetchBatch(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
					return
				}
				c.logger.WithContext(ctx).WithError(err).Error("Failed to fetch messages")
				continue
			}
			if len(batch) == 0 {
				continue
			}

			c.processBatch(ctx, batch)
		}
	}
}

// fetchBatch blocks for the first message, then drains up to batchSize
// messages already buffered, waiting at most maxWait for stragglers.
func (c *Consumer) fetchBatch(ctx context.Context) ([]kafka.Message, error) {
	first, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}

	batch := []kafka.Message{first}

	drainCtx, cancel := context.WithTimeout(ctx, c.maxWait)
	defer cancel()

	for len(batch) < c.batchSize {
		msg, err := c.reader.FetchMessage(drainCtx)
		if err != nil {
			// Deadline or cancel just ends the drain; the batch is valid.
			break
		}
		batch = append(batch, msg)
	}

	return batch, nil
}

func (c *Consumer) processBatch(ctx context.Context, batch []kafka.Message) {
	ctx, span := tracing.StartSpan(ctx, "kafka.Consumer.processBatch")
	defer span.End()

	log := c.logger.WithContext(ctx).WithFields(map[string]any{
		"topic":      c.reader.Config().Topic,
		"batch_size": len(batch),
	})

	incoming := make([]*IncomingMessage, len(batch))
	for i, msg := range batch {
		headers := make(map[string]string)
		for _, h := range msg.Headers {
			headers[h.Key] = string(h.Value)
		}

		incoming[i] = &IncomingMessage{
			Key:         string(msg.Key),
			Value:       msg.Value,
			Headers:     headers,
			Partition:   msg.Partition,
			Offset:      msg.Offset,
			Timestamp:   msg.Time,
			Topic:       msg.Topic,
			TraceParent: headers["traceparent"],
			TraceState:  headers["tracestate"],
		}
	}

	// The handler owns the per-message decisions: fatal messages are
	// dead-lettered inside it and still count as handled. An error here
	// means the batch did not reach a decision, so nothing is committed
	// and the whole batch is redelivered.
	if err := c.handler(ctx, incoming); err != nil {
		log.WithError(err).Error("Failed to process batch (not committing)")
		return
	}

	if err := c.reader.CommitMessages(ctx, batch...); err != nil {
		log.WithError(err).Error("Failed to commit batch")
	}
}

// Health returns the consumer health status
func (c *Consumer) Health() bool {
	return c.reader != nil
}
