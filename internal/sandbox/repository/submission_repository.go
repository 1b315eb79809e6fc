// Package repository persists sandbox submissions.
package repository

import (
	"context"
	"time"

	"ownide/internal/sandbox/model"
	appErr "ownide/pkg/errors"
)

// SubmissionRepository is the durable, expiring record of every submission.
type SubmissionRepository interface {
	// Create stores a new submission. A duplicate task id fails with
	// SubmissionAlreadyExists and never overwrites.
	Create(ctx context.Context, submission *model.Submission) error
	// MarkRunning moves a pending submission to running.
	MarkRunning(ctx context.Context, taskID string) error
	// UpdateTerminal records the final status and result of a non-terminal submission.
	UpdateTerminal(ctx context.Context, taskID string, status model.Status, result model.ExecutionResult) error
	// Get returns a live submission or SubmissionNotFound.
	Get(ctx context.Context, taskID string) (model.Submission, error)
	// Ping checks the backing store.
	Ping(ctx context.Context) error
}

// TTLPolicy decides how long a submission is retained.
type TTLPolicy struct {
	Anonymous     time.Duration `yaml:"anonymousTTL"`
	Authenticated time.Duration `yaml:"authenticatedTTL"`
}

// DefaultTTLPolicy keeps anonymous runs for ten minutes and authenticated ones for an hour.
func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{Anonymous: 10 * time.Minute, Authenticated: time.Hour}
}

// TTL returns the retention for a submission.
func (p TTLPolicy) TTL(anonymous bool) time.Duration {
	defaults := DefaultTTLPolicy()
	if anonymous {
		if p.Anonymous > 0 {
			return p.Anonymous
		}
		return defaults.Anonymous
	}
	if p.Authenticated > 0 {
		return p.Authenticated
	}
	return defaults.Authenticated
}

// prepare fills timestamps and the initial status before insert.
func prepare(submission *model.Submission, policy TTLPolicy, now time.Time) error {
	if submission == nil {
		return appErr.ValidationError("submission", "required")
	}
	if submission.TaskID == "" {
		return appErr.ValidationError("task_id", "required")
	}
	if submission.CreatedAt.IsZero() {
		submission.CreatedAt = now
	}
	submission.CreatedAt = submission.CreatedAt.UTC().Truncate(time.Millisecond)
	submission.UpdatedAt = submission.CreatedAt
	if submission.Status == "" {
		submission.Status = model.StatusPending
	}
	submission.ExpireAt = submission.CreatedAt.Add(policy.TTL(submission.Anonymous))
	return nil
}

func notFound() error {
	return appErr.New(appErr.SubmissionNotFound)
}

func stateConflict(taskID, reason string) error {
	return appErr.Newf(appErr.SubmissionStateConflict, "submission %s %s", taskID, reason)
}
