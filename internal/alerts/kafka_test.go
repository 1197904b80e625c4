package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/securepath/internal/config"
	"github.com/dvloznov/securepath/internal/domain"
	"github.com/dvloznov/securepath/internal/fraud"
	"github.com/dvloznov/securepath/internal/triage"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

type mockWriter struct {
	msgs             []kafka.Message
	WriteMessagesErr error
}

func (m *mockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if m.WriteMessagesErr != nil {
		return m.WriteMessagesErr
	}
	m.msgs = append(m.msgs, msgs...)
	return nil
}

func (m *mockWriter) Close() error { return nil }

func decode(t *testing.T, msg kafka.Message) Event {
	t.Helper()
	var ev Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		t.Fatalf("decoding %s: %v", msg.Value, err)
	}
	return ev
}

func TestPublisher_NotifyFlagged(t *testing.T) {
	w := &mockWriter{}
	p := NewPublisher(w, "fraud.alerts")
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	tx := domain.Transaction{ID: 9, TransactionID: "T-9-U7", UserID: "7", Amount: decimal.RequireFromString("7500")}
	a := fraud.Assessment{FinalScore: 90, Flagged: true, Reasons: []string{"High Amount (>5000)", "Foreign Transaction"}}

	if err := p.NotifyFlagged(context.Background(), tx, a); err != nil {
		t.Fatalf("NotifyFlagged() error = %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(w.msgs))
	}
	msg := w.msgs[0]
	if msg.Topic != "fraud.alerts" || string(msg.Key) != "7" {
		t.Errorf("topic/key = %s/%s", msg.Topic, msg.Key)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != EventTransactionFlagged {
		t.Errorf("headers = %+v", msg.Headers)
	}
	ev := decode(t, msg)
	if ev.TransactionID != "T-9-U7" || ev.Amount != "7500.00" || ev.RiskScore != 90 || len(ev.Reasons) != 2 {
		t.Errorf("event = %+v", ev)
	}
	if !ev.OccurredAt.Equal(fixed) {
		t.Errorf("OccurredAt = %v", ev.OccurredAt)
	}
}

func TestPublisher_BatchCompleted(t *testing.T) {
	w := &mockWriter{}
	p := NewPublisher(w, "fraud.alerts")

	err := p.BatchCompleted(context.Background(), domain.Principal{ID: "admin"}, domain.GlobalScope(),
		triage.BatchResult{Processed: 100, Flagged: 8, Approved: 92})
	if err != nil {
		t.Fatal(err)
	}
	ev := decode(t, w.msgs[0])
	if ev.Type != EventBatchCompleted || !ev.Global || ev.Flagged != 8 || ev.Approved != 92 {
		t.Errorf("event = %+v", ev)
	}
}

func TestPublisher_WriteError(t *testing.T) {
	p := NewPublisher(&mockWriter{WriteMessagesErr: errors.New("broker down")}, "t")
	if err := p.Publish(context.Background(), Event{Type: EventBatchCompleted}); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewKafkaPublisher_RequiresBrokers(t *testing.T) {
	if _, err := NewKafkaPublisher(config.KafkaConfig{AlertTopic: "t"}); err == nil {
		t.Fatal("expected error without brokers")
	}
	p, err := NewKafkaPublisher(config.KafkaConfig{Brokers: []string{"localhost:9092"}, AlertTopic: "t", MaxRetries: 3})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()
	if p.topic != "t" {
		t.Errorf("topic = %s", p.topic)
	}
}
