// Package memory keeps run reports in process and writes each one to the log.
// It backs notify.kind=log, for deployments without a message broker.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultCapacity bounds how many reports a long-running schedule retains.
const DefaultCapacity = 64

// Message is one published report.
type Message struct {
	ID        string
	Topic     string
	Data      json.RawMessage
	Published time.Time
}

// Publisher logs reports and keeps the most recent ones.
type Publisher struct {
	logger   *zap.Logger
	capacity int

	mu       sync.RWMutex
	seq      int
	messages []Message
}

// New returns a Publisher retaining up to capacity reports. A capacity below
// one uses DefaultCapacity.
func New(capacity int, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Publisher{logger: logger.Named("notify"), capacity: capacity}
}

// Publish encodes payload as JSON, logs it and retains it.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	p.mu.Lock()
	p.seq++
	msg := Message{
		ID:        fmt.Sprintf("log-%d", p.seq),
		Topic:     topic,
		Data:      data,
		Published: time.Now().UTC(),
	}
	p.messages = append(p.messages, msg)
	if over := len(p.messages) - p.capacity; over > 0 {
		p.messages = append(p.messages[:0:0], p.messages[over:]...)
	}
	p.mu.Unlock()

	p.logger.Info("run report",
		zap.String("topic", topic),
		zap.String("message_id", msg.ID),
		zap.ByteString("payload", data),
	)
	return msg.ID, nil
}

// Messages returns the retained reports, oldest first.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}

// Decode unmarshals the retained report at index i into v.
func (p *Publisher) Decode(i int, v any) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if i < 0 || i >= len(p.messages) {
		return fmt.Errorf("no report at index %d", i)
	}
	if err := json.Unmarshal(p.messages[i].Data, v); err != nil {
		return fmt.Errorf("decode report: %w", err)
	}
	return nil
}
