// Package kernelerrors extends the teacher runtime's error taxonomy
// (internal/errors) with sentinel categories specific to the
// extension/event-bus/task-engine kernel: manifest validation,
// dependency wiring, lifecycle transitions, and lease ownership.
package kernelerrors

import (
	"errors"
	"fmt"

	hearthErrors "github.com/sorrel-ai/hearth/internal/errors"
)

var (
	// ErrManifestInvalid - an extension manifest.yaml failed validation.
	ErrManifestInvalid = errors.New("manifest invalid")

	// ErrDependencyCycle - extension depends_on graph has a cycle.
	ErrDependencyCycle = errors.New("dependency cycle detected")

	// ErrUnknownDependency - depends_on names an extension id that was
	// never discovered.
	ErrUnknownDependency = errors.New("unknown dependency")

	// ErrDependencyMissing - get_extension was called for an id not
	// listed in the caller's depends_on.
	ErrDependencyMissing = errors.New("extension dependency missing")

	// ErrLifecycleError - a lifecycle phase (initialize/start/stop/health)
	// returned an error.
	ErrLifecycleError = errors.New("extension lifecycle error")

	// ErrProtocolViolation - an extension's capability implementation
	// broke its documented contract (e.g. streaming callback called
	// after Send returned).
	ErrProtocolViolation = errors.New("extension protocol violation")

	// ErrRetryable is an alias of the teacher's ErrTransient, named for
	// parity with the kernel's own retry/backoff vocabulary.
	ErrRetryable = hearthErrors.ErrTransient

	// ErrNonRetryable marks a task failure that must not be retried
	// regardless of remaining attempts.
	ErrNonRetryable = errors.New("non-retryable error")

	// ErrLeaseRevoked - a task's lease was reassigned before the holder
	// finished (e.g. checkpoint write rejected after lease expiry).
	ErrLeaseRevoked = errors.New("task lease revoked")

	// ErrHandlerError - an event bus handler returned an error.
	ErrHandlerError = errors.New("event handler error")

	// ErrChannelUnavailable - a channel extension is not currently able
	// to deliver (not started, disconnected, etc).
	ErrChannelUnavailable = errors.New("channel unavailable")
)

func ManifestInvalid(message string) error {
	return fmt.Errorf("%s: %w", message, ErrManifestInvalid)
}

func DependencyCycle(message string) error {
	return fmt.Errorf("%s: %w", message, ErrDependencyCycle)
}

func UnknownDependency(message string) error {
	return fmt.Errorf("%s: %w", message, ErrUnknownDependency)
}

func DependencyMissing(message string) error {
	return fmt.Errorf("%s: %w", message, ErrDependencyMissing)
}

func LifecycleError(message string) error {
	return fmt.Errorf("%s: %w", message, ErrLifecycleError)
}

func ProtocolViolation(message string) error {
	return fmt.Errorf("%s: %w", message, ErrProtocolViolation)
}

func NonRetryable(message string) error {
	return fmt.Errorf("%s: %w", message, ErrNonRetryable)
}

func LeaseRevoked(message string) error {
	return fmt.Errorf("%s: %w", message, ErrLeaseRevoked)
}

func HandlerError(message string) error {
	return fmt.Errorf("%s: %w", message, ErrHandlerError)
}

func ChannelUnavailable(message string) error {
	return fmt.Errorf("%s: %w", message, ErrChannelUnavailable)
}

// IsRetryable reports whether err should be retried by the task
// engine, delegating to the teacher's category check and also
// treating kernelerrors.ErrRetryable as retryable.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrNonRetryable) {
		return false
	}
	return hearthErrors.IsRetryable(err) || errors.Is(err, ErrRetryable)
}
