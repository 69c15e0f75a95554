package documents

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentNotFound   = errors.New("document not found")
	ErrActionNotAvailable = errors.New("action not available")
	ErrSubmissionInFlight = errors.New("submission already in progress")
)

// ErrorKind classifies why a workflow submission failed
type ErrorKind string

const (
	KindValidation        ErrorKind = "validation"
	KindNetwork           ErrorKind = "network"
	KindServer            ErrorKind = "server"
	KindMalformedResponse ErrorKind = "malformed_response"
)

// WorkflowError is returned by every failed submission. Message is safe to
// show to the user as-is.
type WorkflowError struct {
	Kind       ErrorKind
	Message    string
	StatusCode int
	Err        error
}

func (e *WorkflowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// Retryable reports whether resubmitting the same action may succeed
func (e *WorkflowError) Retryable() bool {
	return e.Kind == KindNetwork
}

func validationError(msg string) *WorkflowError {
	return &WorkflowError{Kind: KindValidation, Message: msg}
}

func networkError(err error) *WorkflowError {
	return &WorkflowError{Kind: KindNetwork, Message: "could not reach the document service, please retry", Err: err}
}

func serverError(status int, msg string) *WorkflowError {
	return &WorkflowError{Kind: KindServer, Message: msg, StatusCode: status}
}

func malformedError(err error) *WorkflowError {
	return &WorkflowError{Kind: KindMalformedResponse, Message: "the document service returned an unreadable response", Err: err}
}

// IsKind reports whether err is a WorkflowError of the given kind
func IsKind(err error, kind ErrorKind) bool {
	var we *WorkflowError
	return errors.As(err, &we) && we.Kind == kind
}
