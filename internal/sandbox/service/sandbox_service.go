package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ownide/internal/sandbox/command"
	"ownide/internal/sandbox/model"
	"ownide/internal/sandbox/repository"
	appErr "ownide/pkg/errors"
	"ownide/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultMaxCodeBytes  = 64 * 1024
	defaultMaxInputBytes = 64 * 1024
	defaultStoreTimeout  = 3 * time.Second
)

// Executor runs one program and always yields a result.
type Executor interface {
	Execute(ctx context.Context, req model.ExecutionRequest) model.ExecutionResult
}

// QuotaGuard admits or rejects a visitor's submission.
type QuotaGuard interface {
	CheckAndConsume(ctx context.Context, visitor model.Visitor) error
}

// JobQueue accepts background jobs without blocking.
type JobQueue interface {
	Enqueue(job Job) error
}

// Config holds service dependencies and settings.
type Config struct {
	Repo      repository.SubmissionRepository
	Executor  Executor
	Quota     QuotaGuard
	Queue     JobQueue
	Publisher repository.StatusEventPublisher
	NewTaskID func() string
	Clock     func() time.Time

	MaxCodeBytes  int
	MaxInputBytes int
	StoreTimeout  time.Duration
}

// SandboxService accepts submissions and runs them in the background.
type SandboxService struct {
	repo      repository.SubmissionRepository
	executor  Executor
	quota     QuotaGuard
	queue     JobQueue
	publisher repository.StatusEventPublisher
	newTaskID func() string
	now       func() time.Time

	maxCodeBytes  int
	maxInputBytes int
	storeTimeout  time.Duration
}

// NewSandboxService creates a new sandbox service.
func NewSandboxService(cfg Config) (*SandboxService, error) {
	if cfg.Repo == nil {
		return nil, fmt.Errorf("submission repository is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("job queue is required")
	}
	if cfg.NewTaskID == nil {
		cfg.NewTaskID = uuid.NewString
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.MaxCodeBytes <= 0 {
		cfg.MaxCodeBytes = defaultMaxCodeBytes
	}
	if cfg.MaxInputBytes <= 0 {
		cfg.MaxInputBytes = defaultMaxInputBytes
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = defaultStoreTimeout
	}
	return &SandboxService{
		repo:          cfg.Repo,
		executor:      cfg.Executor,
		quota:         cfg.Quota,
		queue:         cfg.Queue,
		publisher:     cfg.Publisher,
		newTaskID:     cfg.NewTaskID,
		now:           cfg.Clock,
		maxCodeBytes:  cfg.MaxCodeBytes,
		maxInputBytes: cfg.MaxInputBytes,
		storeTimeout:  cfg.StoreTimeout,
	}, nil
}

// Submit validates the request, charges the visitor's quota, stores a pending
// submission and schedules its execution. It returns the pending view.
func (s *SandboxService) Submit(ctx context.Context, visitor model.Visitor, req model.ExecutionRequest) (model.SubmissionStatus, error) {
	if err := s.validate(req); err != nil {
		return model.SubmissionStatus{}, err
	}
	if visitor.ID == "" {
		return model.SubmissionStatus{}, appErr.New(appErr.InvalidParams).WithMessage("visitor id is required")
	}
	if s.quota != nil {
		if err := s.quota.CheckAndConsume(ctx, visitor); err != nil {
			return model.SubmissionStatus{}, err
		}
	}

	now := s.now()
	submission := &model.Submission{
		TaskID:    s.newTaskID(),
		UserID:    visitor.ID,
		Anonymous: !visitor.Authenticated,
		Language:  req.Language,
		Code:      req.Code,
		InputData: req.InputData,
		Status:    model.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	err := s.repo.Create(storeCtx, submission)
	cancel()
	if err != nil {
		return model.SubmissionStatus{}, err
	}

	job := Job{
		TaskID: submission.TaskID,
		Run: func(jobCtx context.Context) {
			s.process(jobCtx, *submission)
		},
	}
	if err := s.queue.Enqueue(job); err != nil {
		logger.Warn(ctx, "enqueue submission failed", zap.String("task_id", submission.TaskID), zap.Error(err))
		s.finish(context.WithoutCancel(ctx), *submission, model.SystemResult("sandbox is busy, submission was not scheduled"))
		return model.SubmissionStatus{}, err
	}

	logger.Info(ctx, "submission accepted",
		zap.String("task_id", submission.TaskID),
		zap.String("language", string(submission.Language)),
		zap.Bool("anonymous", submission.Anonymous),
	)
	return submission.View(), nil
}

// Status returns the current view of a submission.
func (s *SandboxService) Status(ctx context.Context, taskID string) (model.SubmissionStatus, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return model.SubmissionStatus{}, appErr.ValidationError("task_id", "required")
	}
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	submission, err := s.repo.Get(storeCtx, taskID)
	if err != nil {
		return model.SubmissionStatus{}, err
	}
	return submission.View(), nil
}

// Ping reports whether the submission store is reachable.
func (s *SandboxService) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func (s *SandboxService) validate(req model.ExecutionRequest) error {
	if req.Language == "" {
		return appErr.ValidationError("language", "required")
	}
	if !command.IsSupported(req.Language) {
		return appErr.Newf(appErr.LanguageNotSupported, "language %q is not supported", req.Language).
			WithDetail("supported", command.SupportedLanguages())
	}
	if strings.TrimSpace(req.Code) == "" {
		return appErr.ValidationError("code", "required")
	}
	if len(req.Code) > s.maxCodeBytes {
		return appErr.New(appErr.CodeTooLarge).WithDetail("max_bytes", s.maxCodeBytes)
	}
	if req.InputData != nil && len(*req.InputData) > s.maxInputBytes {
		return appErr.New(appErr.InputTooLarge).WithDetail("max_bytes", s.maxInputBytes)
	}
	if strings.IndexByte(req.Code, 0) >= 0 || (req.InputData != nil && strings.IndexByte(*req.InputData, 0) >= 0) {
		return appErr.New(appErr.InvalidParams).WithMessage("code and input_data must not contain NUL bytes")
	}
	return nil
}

func (s *SandboxService) process(ctx context.Context, submission model.Submission) {
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	err := s.repo.MarkRunning(storeCtx, submission.TaskID)
	cancel()
	if err != nil {
		if appErr.Is(err, appErr.SubmissionStateConflict) || appErr.Is(err, appErr.SubmissionNotFound) {
			logger.Warn(ctx, "skip submission", zap.String("task_id", submission.TaskID), zap.Error(err))
			return
		}
		logger.Error(ctx, "mark submission running failed", zap.String("task_id", submission.TaskID), zap.Error(err))
		s.finish(ctx, submission, model.SystemResult("submission store is unavailable"))
		return
	}

	result := s.executor.Execute(ctx, submission.Request())
	s.finish(ctx, submission, result)
}

func (s *SandboxService) finish(ctx context.Context, submission model.Submission, result model.ExecutionResult) {
	status := result.TerminalStatus()
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.storeTimeout)
	err := s.repo.UpdateTerminal(storeCtx, submission.TaskID, status, result)
	cancel()
	if err != nil {
		if appErr.Is(err, appErr.SubmissionStateConflict) {
			logger.Warn(ctx, "submission already finished", zap.String("task_id", submission.TaskID))
		} else {
			logger.Error(ctx, "save submission result failed", zap.String("task_id", submission.TaskID), zap.Error(err))
		}
		return
	}

	logger.Info(ctx, "submission finished",
		zap.String("task_id", submission.TaskID),
		zap.String("status", string(status)),
		zap.Float64("execution_time", result.ExecutionTime),
	)
	if s.publisher == nil {
		return
	}
	submission.Status = status
	submission.Result = &result
	submission.UpdatedAt = s.now()
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.storeTimeout)
	defer cancel()
	if err := s.publisher.PublishFinalStatus(publishCtx, submission); err != nil {
		logger.Warn(ctx, "publish final status failed", zap.String("task_id", submission.TaskID), zap.Error(err))
	}
}
