package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Authentication errors
// 13000-13999: Submission & Sandbox module errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError       ErrorCode = 10100
	RecordNotFound      ErrorCode = 10101
	RecordAlreadyExists ErrorCode = 10102

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200
	CacheMiss  ErrorCode = 10201

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Authentication Errors (11000-11999) ==========

	TokenExpired ErrorCode = 11003
	TokenInvalid ErrorCode = 11004

	// ========== Submission & Sandbox Module Errors (13000-13999) ==========

	// Submission (13000-13099)
	SubmissionNotFound      ErrorCode = 13000
	SubmissionCreateFailed  ErrorCode = 13001
	CodeTooLarge            ErrorCode = 13002
	LanguageNotSupported    ErrorCode = 13003
	GuestQuotaExceeded      ErrorCode = 13004
	SubmissionAlreadyExists ErrorCode = 13005
	SubmissionStateConflict ErrorCode = 13006
	InputTooLarge           ErrorCode = 13007

	// Sandbox (13100-13199)
	SandboxQueueFull   ErrorCode = 13100
	SandboxSystemError ErrorCode = 13101
	SandboxUnavailable ErrorCode = 13102
	ExecutionTimeout   ErrorCode = 13103
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Database
	DatabaseError:       "Database operation failed",
	RecordNotFound:      "Record not found in database",
	RecordAlreadyExists: "Record already exists",

	// Cache
	CacheError: "Cache operation failed",
	CacheMiss:  "Cache miss",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Authentication
	TokenExpired: "Token has expired",
	TokenInvalid: "Invalid token",

	// Submission
	SubmissionNotFound:      "Task not found",
	SubmissionCreateFailed:  "Failed to create submission",
	CodeTooLarge:            "Code is too large",
	LanguageNotSupported:    "Programming language not supported",
	GuestQuotaExceeded:      "Guest quota exceeded. Please log in for unlimited access.",
	SubmissionAlreadyExists: "Submission already exists",
	SubmissionStateConflict: "Submission is not in the expected state",
	InputTooLarge:           "Input data is too large",

	// Sandbox
	SandboxQueueFull:   "Sandbox queue is full, please try again later",
	SandboxSystemError: "Sandbox system error",
	SandboxUnavailable: "Sandbox runtime is unavailable",
	ExecutionTimeout:   "Execution timed out",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == Unauthorized, c == TokenExpired, c == TokenInvalid:
		return 401
	case c == Forbidden:
		return 403
	case c == NotFound, c == RecordNotFound, c == SubmissionNotFound:
		return 404
	case c == RecordAlreadyExists, c == SubmissionAlreadyExists, c == SubmissionStateConflict:
		return 409
	case c == TooManyRequests, c == GuestQuotaExceeded:
		return 429
	case c == ServiceUnavailable, c == SandboxQueueFull, c == SandboxUnavailable:
		return 503
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams, c == CodeTooLarge, c == LanguageNotSupported, c == InputTooLarge:
		return 400
	default:
		return 500
	}
}
