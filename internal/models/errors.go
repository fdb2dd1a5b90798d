package models

import "fmt"

type ErrorCode string

const (
	ErrCodeEmailRequired ErrorCode = "EMAIL_REQUIRED"
	ErrCodeInternal      ErrorCode = "INTERNAL_ERROR"
)

// EngineError is the only error type the engine surfaces to callers.
// Everything else (DNS failures, SMTP rejections, timeouts) is folded into
// the verdict instead.
type EngineError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

func (e *EngineError) Error() string {
	if e.Details == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
}

func ErrEmailRequired() *EngineError {
	return &EngineError{Code: ErrCodeEmailRequired, Message: "email is required"}
}

func ErrInternal(details string) *EngineError {
	return &EngineError{Code: ErrCodeInternal, Message: "internal validation error", Details: details}
}
