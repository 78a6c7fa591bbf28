package orchestrator

import "fmt"

const (
	CodeConnection = "CONNECTION"
	CodeTransport  = "TRANSPORT"
	CodeProtocol   = "PROTOCOL"
	CodeState      = "STATE"
	CodeCapability = "CAPABILITY"
	CodeValidation = "VALIDATION"
)

// CodedError is a typed error used for stable API and UI mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

func newError(code, msg string, cause error) *CodedError {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}
