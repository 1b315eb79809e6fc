package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"ownide/internal/common/cache"
	"ownide/internal/sandbox/model"
	appErr "ownide/pkg/errors"
)

const submissionKeyPrefix = "sandbox:submission:"

// KEYS[1] submission key; ARGV[1] expire_at ms; ARGV[2..] field/value pairs.
var createScript = cache.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], unpack(ARGV, 2))
redis.call("PEXPIREAT", KEYS[1], ARGV[1])
return 1
`)

// KEYS[1] submission key; ARGV[1] updated_at ms.
var markRunningScript = cache.NewScript(`
local status = redis.call("HGET", KEYS[1], "status")
if not status then
  return -1
end
if status ~= "pending" then
  return 0
end
redis.call("HSET", KEYS[1], "status", "running", "updated_at", ARGV[1])
return 1
`)

// KEYS[1] submission key; ARGV[1] status; ARGV[2] result json; ARGV[3] updated_at ms.
var updateTerminalScript = cache.NewScript(`
local status = redis.call("HGET", KEYS[1], "status")
if not status then
  return -1
end
if status == "completed" or status == "failed" or status == "timeout" then
  return 0
end
redis.call("HSET", KEYS[1], "status", ARGV[1], "result", ARGV[2], "updated_at", ARGV[3])
return 1
`)

// RedisSubmissionRepository stores each submission as a hash that expires at expire_at.
type RedisSubmissionRepository struct {
	cache  cache.Cache
	policy TTLPolicy
	now    func() time.Time
}

// NewRedisSubmissionRepository creates a Redis-backed repository.
func NewRedisSubmissionRepository(cacheClient cache.Cache, policy TTLPolicy) *RedisSubmissionRepository {
	return &RedisSubmissionRepository{cache: cacheClient, policy: policy, now: time.Now}
}

// WithClock overrides the time source.
func (r *RedisSubmissionRepository) WithClock(now func() time.Time) *RedisSubmissionRepository {
	r.now = now
	return r
}

func (r *RedisSubmissionRepository) Create(ctx context.Context, submission *model.Submission) error {
	if r.cache == nil {
		return appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	if err := prepare(submission, r.policy, r.now()); err != nil {
		return err
	}

	fields := []interface{}{
		"task_id", submission.TaskID,
		"user_id", submission.UserID,
		"anonymous", boolField(submission.Anonymous),
		"language", string(submission.Language),
		"code", submission.Code,
		"status", string(submission.Status),
		"created_at", millis(submission.CreatedAt),
		"updated_at", millis(submission.UpdatedAt),
		"expire_at", millis(submission.ExpireAt),
	}
	if submission.InputData != nil {
		fields = append(fields, "input_data", *submission.InputData)
	}
	args := append([]interface{}{millis(submission.ExpireAt)}, fields...)

	res, err := r.cache.Eval(ctx, createScript, []string{submissionKeyPrefix + submission.TaskID}, args...)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "create submission failed")
	}
	if n, _ := res.(int64); n == 0 {
		return appErr.Newf(appErr.SubmissionAlreadyExists, "submission %s already exists", submission.TaskID)
	}
	return nil
}

func (r *RedisSubmissionRepository) MarkRunning(ctx context.Context, taskID string) error {
	res, err := r.cache.Eval(ctx, markRunningScript, []string{submissionKeyPrefix + taskID}, millis(r.now()))
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "mark submission running failed")
	}
	return transitionResult(res, taskID, "is not pending")
}

func (r *RedisSubmissionRepository) UpdateTerminal(ctx context.Context, taskID string, status model.Status, result model.ExecutionResult) error {
	if !status.IsTerminal() {
		return appErr.ValidationError("status", "must be terminal")
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result failed: %w", err)
	}
	res, err := r.cache.Eval(ctx, updateTerminalScript, []string{submissionKeyPrefix + taskID}, string(status), string(payload), millis(r.now()))
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "update submission failed")
	}
	return transitionResult(res, taskID, "is already finished")
}

func (r *RedisSubmissionRepository) Get(ctx context.Context, taskID string) (model.Submission, error) {
	if taskID == "" {
		return model.Submission{}, notFound()
	}
	fields, err := r.cache.HGetAll(ctx, submissionKeyPrefix+taskID)
	if err != nil {
		return model.Submission{}, appErr.Wrapf(err, appErr.CacheError, "get submission failed")
	}
	if len(fields) == 0 {
		return model.Submission{}, notFound()
	}
	submission, err := decodeSubmission(fields)
	if err != nil {
		return model.Submission{}, appErr.Wrapf(err, appErr.CacheError, "decode submission failed")
	}
	if !submission.ExpireAt.After(r.now()) {
		return model.Submission{}, notFound()
	}
	return submission, nil
}

func (r *RedisSubmissionRepository) Ping(ctx context.Context) error {
	return r.cache.Ping(ctx)
}

func transitionResult(res interface{}, taskID, reason string) error {
	n, _ := res.(int64)
	switch n {
	case 1:
		return nil
	case -1:
		return notFound()
	default:
		return stateConflict(taskID, reason)
	}
}

func decodeSubmission(fields map[string]string) (model.Submission, error) {
	s := model.Submission{
		TaskID:    fields["task_id"],
		UserID:    fields["user_id"],
		Anonymous: fields["anonymous"] == "1",
		Language:  model.Language(fields["language"]),
		Code:      fields["code"],
		Status:    model.Status(fields["status"]),
	}
	if input, ok := fields["input_data"]; ok {
		s.InputData = &input
	}
	var err error
	if s.CreatedAt, err = parseMillis(fields["created_at"]); err != nil {
		return s, err
	}
	if s.UpdatedAt, err = parseMillis(fields["updated_at"]); err != nil {
		return s, err
	}
	if s.ExpireAt, err = parseMillis(fields["expire_at"]); err != nil {
		return s, err
	}
	if raw := fields["result"]; raw != "" {
		var result model.ExecutionResult
		if err := json.Unmarshal([]byte(raw), &result); err != nil {
			return s, fmt.Errorf("decode result: %w", err)
		}
		s.Result = &result
	}
	return s, nil
}

func boolField(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func parseMillis(raw string) (time.Time, error) {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}
