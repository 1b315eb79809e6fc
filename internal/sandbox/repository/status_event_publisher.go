package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ownide/internal/common/mq"
	"ownide/internal/sandbox/model"
	appErr "ownide/pkg/errors"
)

const eventTypeHeader = "x-event-type"

// StatusEventPublisher announces submissions that reached a terminal status.
type StatusEventPublisher interface {
	PublishFinalStatus(ctx context.Context, submission model.Submission) error
}

// MQStatusEventPublisher publishes final status events to a message queue topic.
type MQStatusEventPublisher struct {
	producer mq.Producer
	topic    string
	now      func() time.Time
}

// NewMQStatusEventPublisher creates a publisher for topic.
func NewMQStatusEventPublisher(producer mq.Producer, topic string) *MQStatusEventPublisher {
	return &MQStatusEventPublisher{producer: producer, topic: topic, now: time.Now}
}

// PublishFinalStatus publishes the submission's final status keyed by task id.
func (p *MQStatusEventPublisher) PublishFinalStatus(ctx context.Context, submission model.Submission) error {
	if p == nil || p.producer == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("status publisher is not configured")
	}
	if p.topic == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("status topic is required")
	}
	if submission.TaskID == "" {
		return appErr.ValidationError("task_id", "required")
	}
	finishedAt := submission.UpdatedAt
	if finishedAt.IsZero() {
		finishedAt = p.now()
	}
	event := model.FinalEvent{
		TaskID:     submission.TaskID,
		UserID:     submission.UserID,
		Language:   submission.Language,
		Status:     submission.Status,
		Result:     submission.Result,
		FinishedAt: finishedAt.Unix(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal status event failed: %w", err)
	}
	message := &mq.Message{
		ID:      submission.TaskID,
		Body:    payload,
		Headers: map[string]string{eventTypeHeader: "final"},
	}
	if err := p.producer.Publish(ctx, p.topic, message); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "publish status event failed")
	}
	return nil
}
