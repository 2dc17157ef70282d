package domain

import "fmt"

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeAlreadyExists    = "ALREADY_EXISTS"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeForbidden        = "FORBIDDEN"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeInvalidOperation = "INVALID_OPERATION"
	ErrCodeCapability       = "CAPABILITY_ERROR"
	ErrCodeTimeout          = "TIMEOUT"
)

// Validation errors
var (
	ErrInvalidCheckStatus    = NewDomainError(ErrCodeValidation, "invalid check status")
	ErrInvalidInputType      = NewDomainError(ErrCodeValidation, "invalid input type")
	ErrInvalidPhraseCategory = NewDomainError(ErrCodeValidation, "invalid phrase category")
	ErrEmptyCheckText        = NewDomainError(ErrCodeValidation, "check text cannot be empty")
	ErrMissingRequiredField  = NewDomainError(ErrCodeValidation, "missing required field")
)

// Not found errors
var (
	ErrCheckNotFound           = NewDomainError(ErrCodeNotFound, "check not found")
	ErrDictionaryEntryNotFound = NewDomainError(ErrCodeNotFound, "dictionary entry not found")
	ErrOrganizationNotFound    = NewDomainError(ErrCodeNotFound, "organization not found")
	ErrUserNotFound            = NewDomainError(ErrCodeNotFound, "user not found")
	ErrEmbeddingJobNotFound    = NewDomainError(ErrCodeNotFound, "embedding job not found")
)

// Already exists errors
var (
	ErrOrganizationAlreadyExists = NewDomainError(ErrCodeAlreadyExists, "organization already exists")
)

// Authorization errors
var (
	ErrInvalidToken      = NewDomainError(ErrCodeUnauthorized, "invalid access token")
	ErrTokenRevoked      = NewDomainError(ErrCodeUnauthorized, "access token has been revoked")
	ErrCheckAccessDenied = NewDomainError(ErrCodeForbidden, "not allowed to view this check")
)

// Operation errors
var (
	ErrCheckAlreadyTerminal = NewDomainError(ErrCodeInvalidOperation, "check already reached a terminal status")
	ErrCheckNotCancellable  = NewDomainError(ErrCodeInvalidOperation, "check cannot be cancelled")
)

// Capability errors
var (
	ErrDetectorUnavailable = NewDomainError(ErrCodeCapability, "violation detector is not configured")
	ErrEmbedderUnavailable = NewDomainError(ErrCodeCapability, "embedding capability is not configured")
)

// Stream errors. ErrStreamTimeout is deliberately distinct from a failed
// check so clients can tell "the system gave up waiting" apart from
// "the check failed".
var (
	ErrStreamTimeout = NewDomainError(ErrCodeTimeout, "timed out waiting for check progress")
)
