// Package alerts publishes fraud events to Kafka for downstream consumers
// (case management, notifications).
package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dvloznov/securepath/internal/config"
	"github.com/dvloznov/securepath/internal/domain"
	"github.com/dvloznov/securepath/internal/fraud"
	"github.com/dvloznov/securepath/internal/logger"
	"github.com/dvloznov/securepath/internal/triage"
	"github.com/segmentio/kafka-go"
)

// Event types.
const (
	EventTransactionFlagged = "transaction_flagged"
	EventBatchCompleted     = "batch_completed"
)

// Event is the JSON payload of every alert message.
type Event struct {
	Type          string    `json:"type"`
	Principal     string    `json:"principal"`
	ID            uint64    `json:"id,omitempty"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Amount        string    `json:"amount,omitempty"`
	RiskScore     float64   `json:"risk_score,omitempty"`
	Reasons       []string  `json:"reasons,omitempty"`
	Global        bool      `json:"global,omitempty"`
	Processed     int64     `json:"processed,omitempty"`
	Flagged       int64     `json:"flagged,omitempty"`
	Approved      int64     `json:"approved,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// MessageWriter is the part of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher sends Events to one topic, keyed by principal so a principal's
// events stay ordered within a partition.
type Publisher struct {
	writer MessageWriter
	topic  string
	now    func() time.Time
}

// NewPublisher wraps an existing writer.
func NewPublisher(writer MessageWriter, topic string) *Publisher {
	return &Publisher{writer: writer, topic: topic, now: time.Now}
}

// NewKafkaPublisher builds a Publisher on a kafka-go writer for cfg.Brokers.
func NewKafkaPublisher(cfg config.KafkaConfig) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("alerts.NewKafkaPublisher: no brokers configured")
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		Compression:            kafka.Gzip,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            cfg.MaxRetries,
		WriteBackoffMin:        100 * time.Millisecond,
		WriteBackoffMax:        time.Second,
	}
	return NewPublisher(writer, cfg.AlertTopic), nil
}

// Publish sends one event.
func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = p.now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("alerts.Publish: marshal: %w", err)
	}
	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(ev.Principal),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("alerts.Publish: %s: %w", ev.Type, err)
	}

	log := logger.FromContext(ctx)
	log.Debug().Str("topic", p.topic).Str("type", ev.Type).Str("principal", ev.Principal).Msg("Alert published")
	return nil
}

// NotifyFlagged implements fraud.Notifier.
func (p *Publisher) NotifyFlagged(ctx context.Context, tx domain.Transaction, a fraud.Assessment) error {
	return p.Publish(ctx, Event{
		Type:          EventTransactionFlagged,
		Principal:     tx.UserID,
		ID:            tx.ID,
		TransactionID: tx.TransactionID,
		Amount:        tx.Amount.StringFixed(2),
		RiskScore:     a.FinalScore,
		Reasons:       a.Reasons,
	})
}

// BatchCompleted implements triage.Listener.
func (p *Publisher) BatchCompleted(ctx context.Context, principal domain.Principal, scope domain.Scope, res triage.BatchResult) error {
	return p.Publish(ctx, Event{
		Type:      EventBatchCompleted,
		Principal: principal.ID,
		Global:    scope.Global,
		Processed: res.Processed,
		Flagged:   res.Flagged,
		Approved:  res.Approved,
	})
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

var (
	_ fraud.Notifier  = (*Publisher)(nil)
	_ triage.Listener = (*Publisher)(nil)
)
