package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"ownide/internal/common/db"
	"ownide/internal/sandbox/model"
	appErr "ownide/pkg/errors"
	"ownide/pkg/utils/logger"

	"go.uber.org/zap"
)

const submissionTable = "sandbox_submissions"

const submissionColumns = "task_id, user_id, anonymous, language, code, input_data, status, result, created_at, updated_at, expire_at"

// MySQLSubmissionRepository stores submissions in MySQL. Expired rows are
// hidden from reads and deleted by the sweeper.
type MySQLSubmissionRepository struct {
	db     db.Database
	policy TTLPolicy
	now    func() time.Time
}

// NewMySQLSubmissionRepository creates a MySQL-backed repository.
func NewMySQLSubmissionRepository(database db.Database, policy TTLPolicy) *MySQLSubmissionRepository {
	return &MySQLSubmissionRepository{db: database, policy: policy, now: time.Now}
}

// WithClock overrides the time source.
func (r *MySQLSubmissionRepository) WithClock(now func() time.Time) *MySQLSubmissionRepository {
	r.now = now
	return r
}

func (r *MySQLSubmissionRepository) Create(ctx context.Context, submission *model.Submission) error {
	if err := prepare(submission, r.policy, r.now()); err != nil {
		return err
	}
	var input sql.NullString
	if submission.InputData != nil {
		input = sql.NullString{String: *submission.InputData, Valid: true}
	}
	query := "INSERT INTO " + submissionTable + " (" + submissionColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, NULL, ?, ?, ?)"
	_, err := r.db.Exec(ctx, query,
		submission.TaskID,
		submission.UserID,
		submission.Anonymous,
		string(submission.Language),
		submission.Code,
		input,
		string(submission.Status),
		submission.CreatedAt,
		submission.UpdatedAt,
		submission.ExpireAt,
	)
	if err != nil {
		if _, ok := db.UniqueViolation(err); ok {
			return appErr.Newf(appErr.SubmissionAlreadyExists, "submission %s already exists", submission.TaskID)
		}
		return appErr.Wrapf(err, appErr.DatabaseError, "create submission failed")
	}
	return nil
}

func (r *MySQLSubmissionRepository) MarkRunning(ctx context.Context, taskID string) error {
	now := r.now().UTC()
	query := "UPDATE " + submissionTable + " SET status = ?, updated_at = ? WHERE task_id = ? AND status = ? AND expire_at > ?"
	res, err := r.db.Exec(ctx, query, string(model.StatusRunning), now, taskID, string(model.StatusPending), now)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "mark submission running failed")
	}
	return r.checkTransition(ctx, res, taskID, "is not pending")
}

func (r *MySQLSubmissionRepository) UpdateTerminal(ctx context.Context, taskID string, status model.Status, result model.ExecutionResult) error {
	if !status.IsTerminal() {
		return appErr.ValidationError("status", "must be terminal")
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result failed: %w", err)
	}
	now := r.now().UTC()
	query := "UPDATE " + submissionTable + " SET status = ?, result = ?, updated_at = ? WHERE task_id = ? AND status IN (?, ?) AND expire_at > ?"
	res, err := r.db.Exec(ctx, query, string(status), string(payload), now, taskID,
		string(model.StatusPending), string(model.StatusRunning), now)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "update submission failed")
	}
	return r.checkTransition(ctx, res, taskID, "is already finished")
}

// checkTransition tells a missing row apart from a row in the wrong state.
func (r *MySQLSubmissionRepository) checkTransition(ctx context.Context, res db.Result, taskID, reason string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "read affected rows failed")
	}
	if affected > 0 {
		return nil
	}
	if _, err := r.Get(ctx, taskID); err != nil {
		return err
	}
	return stateConflict(taskID, reason)
}

func (r *MySQLSubmissionRepository) Get(ctx context.Context, taskID string) (model.Submission, error) {
	if taskID == "" {
		return model.Submission{}, notFound()
	}
	query := "SELECT " + submissionColumns + " FROM " + submissionTable + " WHERE task_id = ? AND expire_at > ?"
	row := r.db.QueryRow(ctx, query, taskID, r.now().UTC())

	var (
		s        model.Submission
		language string
		status   string
		input    sql.NullString
		result   sql.NullString
	)
	err := row.Scan(&s.TaskID, &s.UserID, &s.Anonymous, &language, &s.Code, &input, &status, &result, &s.CreatedAt, &s.UpdatedAt, &s.ExpireAt)
	if err != nil {
		if db.IsNoRows(err) {
			return model.Submission{}, notFound()
		}
		return model.Submission{}, appErr.Wrapf(err, appErr.DatabaseError, "get submission failed")
	}
	s.Language = model.Language(language)
	s.Status = model.Status(status)
	if input.Valid {
		value := input.String
		s.InputData = &value
	}
	if result.Valid && result.String != "" {
		var decoded model.ExecutionResult
		if err := json.Unmarshal([]byte(result.String), &decoded); err != nil {
			return model.Submission{}, appErr.Wrapf(err, appErr.DatabaseError, "decode submission result failed")
		}
		s.Result = &decoded
	}
	return s, nil
}

func (r *MySQLSubmissionRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// Sweep deletes up to batch expired rows and returns how many were removed.
func (r *MySQLSubmissionRepository) Sweep(ctx context.Context, now time.Time, batch int) (int64, error) {
	if batch <= 0 {
		batch = 500
	}
	query := "DELETE FROM " + submissionTable + " WHERE expire_at <= ? LIMIT ?"
	res, err := r.db.Exec(ctx, query, now.UTC(), batch)
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.DatabaseError, "sweep submissions failed")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.DatabaseError, "read affected rows failed")
	}
	return n, nil
}

// RunSweeper deletes expired rows every interval until ctx is done.
func (r *MySQLSubmissionRepository) RunSweeper(ctx context.Context, interval time.Duration, batch int) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepAll(ctx, batch)
		}
	}
}

func (r *MySQLSubmissionRepository) sweepAll(ctx context.Context, batch int) {
	if batch <= 0 {
		batch = 500
	}
	var total int64
	for {
		n, err := r.Sweep(ctx, r.now(), batch)
		if err != nil {
			logger.Warn(ctx, "sweep expired submissions failed", zap.Error(err))
			return
		}
		total += n
		if n < int64(batch) || ctx.Err() != nil {
			break
		}
	}
	if total > 0 {
		logger.Info(ctx, "expired submissions swept", zap.Int64("count", total))
	}
}
