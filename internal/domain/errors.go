package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidConfig  = errors.New("invalid outcome config")
	ErrAlreadyFinal   = errors.New("job already in terminal state")
	ErrProviderFailed = errors.New("provider failure")
)

// FailureKind classifies executor failures for the task runner. Retryable
// failures are handed back to the queue for re-delivery; terminal and config
// failures finalize the job immediately.
type FailureKind string

const (
	FailureRetryable FailureKind = "retryable"
	FailureTerminal  FailureKind = "terminal"
	FailureConfig    FailureKind = "config"
)

// Failure is the typed error executors throw. Message is safe to surface to
// a guest; Err carries the underlying cause for logs.
type Failure struct {
	Kind    FailureKind
	Message string
	Err     error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Retryable wraps a transient failure eligible for queue-managed re-delivery.
func Retryable(message string, err error) *Failure {
	return &Failure{Kind: FailureRetryable, Message: message, Err: err}
}

// Terminal wraps a failure that would reproduce identically on retry.
func Terminal(message string, err error) *Failure {
	return &Failure{Kind: FailureTerminal, Message: message, Err: err}
}

// ConfigFailure wraps an operator-facing defect such as a missing executor.
func ConfigFailure(message string, err error) *Failure {
	return &Failure{Kind: FailureConfig, Message: message, Err: err}
}

// KindOf classifies an arbitrary error. Unknown errors default to retryable;
// the queue's bounded attempt ceiling keeps that safe.
func KindOf(err error) FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return FailureRetryable
}

// GuestMessage extracts the guest-safe message from an error, falling back
// to a generic retry prompt.
func GuestMessage(err error) string {
	var f *Failure
	if errors.As(err, &f) && f.Message != "" {
		return f.Message
	}
	return "We couldn't generate your result. Please try again."
}
