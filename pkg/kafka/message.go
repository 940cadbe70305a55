package kafka

import (
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
)

// IncomingMessage wraps a raw Kafka message with parsed headers
type IncomingMessage struct {
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Timestamp time.Time
	Topic     string

	// Trace context (extracted from Kafka headers)
	TraceParent string
	TraceState  string

	// Parsed content, populated by Parse
	Event *models.ChangeEvent
}

// Parse parses the message value as a change event and caches the result.
func (m *IncomingMessage) Parse() error {
	event, err := ParseChangeEvent(m.Key, m.Value)
	if err != nil {
		return err
	}
	m.Event = event
	return nil
}
