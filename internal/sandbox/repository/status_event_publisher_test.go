package repository_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"ownide/internal/common/mq"
	"ownide/internal/sandbox/model"
	"ownide/internal/sandbox/repository"
	appErr "ownide/pkg/errors"
)

type fakeProducer struct {
	topic    string
	messages []*mq.Message
	err      error
}

func (p *fakeProducer) Publish(ctx context.Context, topic string, message *mq.Message) error {
	p.topic = topic
	p.messages = append(p.messages, message)
	return p.err
}

func (p *fakeProducer) Close() error { return nil }

func TestPublishFinalStatus(t *testing.T) {
	producer := &fakeProducer{}
	pub := repository.NewMQStatusEventPublisher(producer, "sandbox.status.final")

	out := "ok"
	exitCode := 0
	finished := time.Date(2024, 5, 1, 12, 0, 5, 0, time.UTC)
	err := pub.PublishFinalStatus(t.Context(), model.Submission{
		TaskID:    "t1",
		UserID:    "42",
		Language:  model.LanguageJava,
		Status:    model.StatusCompleted,
		Result:    &model.ExecutionResult{Stdout: &out, ExitCode: &exitCode},
		UpdatedAt: finished,
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if producer.topic != "sandbox.status.final" || len(producer.messages) != 1 {
		t.Fatalf("unexpected publish: %s %d", producer.topic, len(producer.messages))
	}
	msg := producer.messages[0]
	if msg.ID != "t1" || msg.Headers["x-event-type"] != "final" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	var event model.FinalEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.Status != model.StatusCompleted || event.FinishedAt != finished.Unix() || event.Result == nil {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestPublishFinalStatusErrors(t *testing.T) {
	if err := repository.NewMQStatusEventPublisher(nil, "t").PublishFinalStatus(t.Context(), model.Submission{TaskID: "t1"}); !appErr.Is(err, appErr.ServiceUnavailable) {
		t.Fatalf("expected ServiceUnavailable without producer, got %v", err)
	}
	producer := &fakeProducer{err: errors.New("broker down")}
	err := repository.NewMQStatusEventPublisher(producer, "t").PublishFinalStatus(t.Context(), model.Submission{TaskID: "t1"})
	if !appErr.Is(err, appErr.ServiceUnavailable) {
		t.Fatalf("expected wrapped broker error, got %v", err)
	}
}
