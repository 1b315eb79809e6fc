package model

import (
	"encoding/json"
	"time"
)

// ErrorType classifies how an execution ended.
type ErrorType string

const (
	ErrorTypeNone    ErrorType = "none"
	ErrorTypeCompile ErrorType = "compile"
	ErrorTypeRuntime ErrorType = "runtime"
	ErrorTypeSystem  ErrorType = "system"
	ErrorTypeTimeout ErrorType = "timeout"
)

// MarshalJSON renders ErrorTypeNone as null.
func (e ErrorType) MarshalJSON() ([]byte, error) {
	if e == "" || e == ErrorTypeNone {
		return []byte("null"), nil
	}
	return json.Marshal(string(e))
}

// UnmarshalJSON maps null back to ErrorTypeNone.
func (e *ErrorType) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*e = ErrorTypeNone
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		s = string(ErrorTypeNone)
	}
	*e = ErrorType(s)
	return nil
}

// Status is the lifecycle state of a submission.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
)

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusTimeout
}

// ExecutionRequest is the caller supplied program.
type ExecutionRequest struct {
	Language  Language `json:"language"`
	Code      string   `json:"code"`
	InputData *string  `json:"input_data,omitempty"`
}

// ExecutionResult is the captured outcome of one run.
type ExecutionResult struct {
	Stdout        *string   `json:"stdout"`
	Stderr        *string   `json:"stderr"`
	ExitCode      *int      `json:"exit_code"`
	ExecutionTime float64   `json:"execution_time"`
	ErrorType     ErrorType `json:"error_type"`
	Truncated     bool      `json:"truncated,omitempty"`
}

// TerminalStatus maps a result to the submission status it ends in.
func (r ExecutionResult) TerminalStatus() Status {
	switch r.ErrorType {
	case ErrorTypeNone, "":
		return StatusCompleted
	case ErrorTypeTimeout:
		return StatusTimeout
	default:
		return StatusFailed
	}
}

// SystemResult builds the result for a run that failed outside user code.
func SystemResult(message string) ExecutionResult {
	exitCode := 1
	return ExecutionResult{
		Stderr:    &message,
		ExitCode:  &exitCode,
		ErrorType: ErrorTypeSystem,
	}
}

// Submission is the stored record of one execution request.
type Submission struct {
	TaskID    string           `json:"task_id"`
	UserID    string           `json:"user_id"`
	Anonymous bool             `json:"anonymous"`
	Language  Language         `json:"language"`
	Code      string           `json:"code"`
	InputData *string          `json:"input_data,omitempty"`
	Status    Status           `json:"status"`
	Result    *ExecutionResult `json:"result"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
	ExpireAt  time.Time        `json:"expire_at"`
}

// Request returns the execution request embedded in the submission.
func (s Submission) Request() ExecutionRequest {
	return ExecutionRequest{Language: s.Language, Code: s.Code, InputData: s.InputData}
}

// View returns the public status view.
func (s Submission) View() SubmissionStatus {
	return SubmissionStatus{
		TaskID: s.TaskID,
		UserID: s.UserID,
		Status: s.Status,
		Result: s.Result,
	}
}

// SubmissionStatus is what callers see when polling a task.
type SubmissionStatus struct {
	TaskID string           `json:"task_id"`
	UserID string           `json:"user_id"`
	Status Status           `json:"status"`
	Result *ExecutionResult `json:"result"`
}

// Visitor is the resolved identity of a caller.
type Visitor struct {
	ID            string
	Authenticated bool
}

// FinalEvent is published once a submission reaches a terminal status.
type FinalEvent struct {
	TaskID     string           `json:"task_id"`
	UserID     string           `json:"user_id"`
	Language   Language         `json:"language"`
	Status     Status           `json:"status"`
	Result     *ExecutionResult `json:"result"`
	FinishedAt int64            `json:"finished_at"`
}
