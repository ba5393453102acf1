package types

import "fmt"

// Protocol error codes reported to clients in error frames
const (
	CodeInvalidJSON      = "INVALID_JSON"
	CodeInvalidFormat    = "INVALID_FORMAT"
	CodeMissingType      = "MISSING_TYPE"
	CodeUnknownType      = "UNKNOWN_TYPE"
	CodeMissingRecipient = "MISSING_RECIPIENT"
	CodeEmptyContent     = "EMPTY_CONTENT"
	CodeContentTooLong   = "CONTENT_TOO_LONG"
	CodeMissingUser      = "MISSING_USER"
)

// Policy and internal error codes
const (
	CodeRateLimited   = "RATE_LIMITED"
	CodeSelfMessage   = "SELF_MESSAGE"
	CodeInternalError = "INTERNAL_ERROR"
)

// ValidationError is the tagged failure returned by ValidateFrame.
// It is reported to the originating connection, never raised.
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Envelope converts the failure into an outbound error frame.
func (e *ValidationError) Envelope() ErrorEnvelope {
	return NewError(e.Code, e.Message)
}

func fail(code, message string) *ValidationError {
	return &ValidationError{Code: code, Message: message}
}
