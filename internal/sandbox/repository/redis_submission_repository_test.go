package repository_test

import (
	"testing"
	"time"

	"ownide/internal/sandbox/model"
	"ownide/internal/sandbox/repository"
	"ownide/internal/testutil"
	appErr "ownide/pkg/errors"

	"github.com/alicebob/miniredis/v2"
)

func newRedisRepo(t *testing.T) (*repository.RedisSubmissionRepository, *miniredis.Miniredis, time.Time) {
	t.Helper()
	c, mr := testutil.NewMiniRedisCache(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mr.SetTime(now)
	repo := repository.NewRedisSubmissionRepository(c, repository.DefaultTTLPolicy()).
		WithClock(func() time.Time { return now })
	return repo, mr, now
}

func newSubmission(id string, anonymous bool) *model.Submission {
	input := "1 2"
	return &model.Submission{
		TaskID:    id,
		UserID:    "guest_abc",
		Anonymous: anonymous,
		Language:  model.LanguagePython,
		Code:      `print(input())`,
		InputData: &input,
	}
}

func TestRedisCreateAndGet(t *testing.T) {
	repo, _, now := newRedisRepo(t)
	ctx := t.Context()

	sub := newSubmission("t1", true)
	if err := repo.Create(ctx, sub); err != nil {
		t.Fatalf("create: %v", err)
	}
	if !sub.ExpireAt.Equal(now.Add(10 * time.Minute)) {
		t.Fatalf("anonymous expire_at = %v", sub.ExpireAt)
	}

	got, err := repo.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.StatusPending || got.Result != nil || got.UserID != "guest_abc" || !got.Anonymous {
		t.Fatalf("unexpected submission: %+v", got)
	}
	if got.InputData == nil || *got.InputData != "1 2" || got.Code != sub.Code {
		t.Fatalf("request fields not round-tripped: %+v", got)
	}
	if !got.CreatedAt.Equal(now) || !got.ExpireAt.Equal(sub.ExpireAt) {
		t.Fatalf("timestamps not round-tripped: %+v", got)
	}
}

func TestRedisAuthenticatedTTL(t *testing.T) {
	repo, mr, now := newRedisRepo(t)
	sub := newSubmission("t1", false)
	sub.InputData = nil
	if err := repo.Create(t.Context(), sub); err != nil {
		t.Fatalf("create: %v", err)
	}
	if !sub.ExpireAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("authenticated expire_at = %v", sub.ExpireAt)
	}
	if ttl := mr.TTL("sandbox:submission:t1"); ttl != time.Hour {
		t.Fatalf("unexpected key ttl: %v", ttl)
	}
	got, err := repo.Get(t.Context(), "t1")
	if err != nil || got.InputData != nil {
		t.Fatalf("expected nil input data: %+v err %v", got, err)
	}
}

func TestRedisCreateDuplicate(t *testing.T) {
	repo, _, _ := newRedisRepo(t)
	ctx := t.Context()
	if err := repo.Create(ctx, newSubmission("t1", true)); err != nil {
		t.Fatalf("create: %v", err)
	}
	dup := newSubmission("t1", true)
	dup.Code = "overwrite"
	err := repo.Create(ctx, dup)
	if !appErr.Is(err, appErr.SubmissionAlreadyExists) {
		t.Fatalf("expected SubmissionAlreadyExists, got %v", err)
	}
	got, _ := repo.Get(ctx, "t1")
	if got.Code == "overwrite" {
		t.Fatalf("duplicate create must not overwrite")
	}
}

func TestRedisLifecycle(t *testing.T) {
	repo, _, _ := newRedisRepo(t)
	ctx := t.Context()
	if err := repo.Create(ctx, newSubmission("t1", true)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.MarkRunning(ctx, "t1"); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	if err := repo.MarkRunning(ctx, "t1"); !appErr.Is(err, appErr.SubmissionStateConflict) {
		t.Fatalf("second mark running should conflict, got %v", err)
	}

	out := "3\n"
	exitCode := 0
	result := model.ExecutionResult{Stdout: &out, ExitCode: &exitCode, ExecutionTime: 0.0123, ErrorType: model.ErrorTypeNone}
	if err := repo.UpdateTerminal(ctx, "t1", model.StatusCompleted, result); err != nil {
		t.Fatalf("update terminal: %v", err)
	}

	failed := model.SystemResult("late")
	if err := repo.UpdateTerminal(ctx, "t1", model.StatusFailed, failed); !appErr.Is(err, appErr.SubmissionStateConflict) {
		t.Fatalf("double terminal update should conflict, got %v", err)
	}

	got, err := repo.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.StatusCompleted || got.Result == nil || *got.Result.Stdout != "3\n" {
		t.Fatalf("terminal state was mutated: %+v", got)
	}
	if got.Result.ErrorType != model.ErrorTypeNone || got.Result.ExecutionTime != 0.0123 {
		t.Fatalf("result not round-tripped: %+v", got.Result)
	}
}

func TestRedisUpdateTerminalFromPending(t *testing.T) {
	repo, _, _ := newRedisRepo(t)
	ctx := t.Context()
	if err := repo.Create(ctx, newSubmission("t1", true)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.UpdateTerminal(ctx, "t1", model.StatusFailed, model.SystemResult("queue full")); err != nil {
		t.Fatalf("pending submissions may fail directly: %v", err)
	}
	if err := repo.MarkRunning(ctx, "t1"); !appErr.Is(err, appErr.SubmissionStateConflict) {
		t.Fatalf("terminal submission must not return to running, got %v", err)
	}
}

func TestRedisUpdateTerminalRejectsNonTerminal(t *testing.T) {
	repo, _, _ := newRedisRepo(t)
	err := repo.UpdateTerminal(t.Context(), "t1", model.StatusRunning, model.ExecutionResult{})
	if !appErr.Is(err, appErr.ValidationFailed) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRedisUnknownTask(t *testing.T) {
	repo, _, _ := newRedisRepo(t)
	ctx := t.Context()
	if _, err := repo.Get(ctx, "missing"); !appErr.Is(err, appErr.SubmissionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := repo.MarkRunning(ctx, "missing"); !appErr.Is(err, appErr.SubmissionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := repo.UpdateTerminal(ctx, "missing", model.StatusFailed, model.SystemResult("x")); !appErr.Is(err, appErr.SubmissionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRedisExpiry(t *testing.T) {
	repo, mr, _ := newRedisRepo(t)
	ctx := t.Context()
	if err := repo.Create(ctx, newSubmission("t1", true)); err != nil {
		t.Fatalf("create: %v", err)
	}
	mr.FastForward(11 * time.Minute)
	if _, err := repo.Get(ctx, "t1"); !appErr.Is(err, appErr.SubmissionNotFound) {
		t.Fatalf("expired submission should be gone, got %v", err)
	}
}
