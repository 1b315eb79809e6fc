package mq

import (
	"testing"
	"time"
)

func TestToKafkaMessage(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	msg := toKafkaMessage("sandbox.events", &Message{
		ID:        "task-1",
		Body:      []byte(`{"status":"completed"}`),
		Headers:   map[string]string{"event": "final"},
		Timestamp: ts,
	})

	if msg.Topic != "sandbox.events" || string(msg.Key) != "task-1" {
		t.Fatalf("unexpected topic/key: %s %s", msg.Topic, msg.Key)
	}
	if !msg.Time.Equal(ts) {
		t.Fatalf("unexpected time: %v", msg.Time)
	}
	headers := make(map[string]string)
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["event"] != "final" || headers[headerID] != "task-1" {
		t.Fatalf("unexpected headers: %v", headers)
	}
	if headers[headerTimestamp] != ts.Format(time.RFC3339Nano) {
		t.Fatalf("unexpected timestamp header: %s", headers[headerTimestamp])
	}
}

func TestToKafkaMessageDefaultsTimestamp(t *testing.T) {
	m := &Message{ID: "x"}
	out := toKafkaMessage("t", m)
	if m.Timestamp.IsZero() || out.Time.IsZero() {
		t.Fatalf("timestamp should default to now")
	}
}

func TestNewKafkaProducerRequiresBrokers(t *testing.T) {
	if _, err := NewKafkaProducer(KafkaConfig{}); err == nil {
		t.Fatalf("expected error without brokers")
	}
}

func TestPublishAfterClose(t *testing.T) {
	p, err := NewKafkaProducer(KafkaConfig{Brokers: []string{"127.0.0.1:1"}})
	if err != nil {
		t.Fatalf("new producer: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := p.Publish(t.Context(), "t", &Message{ID: "x"}); err == nil {
		t.Fatalf("expected publish to fail after close")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second close should be a no-op: %v", err)
	}
}
