package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Actyx/Actyx-sub006/pkg/retry"
)

// ErrorClass partitions errors by how callers should react.
type ErrorClass int

const (
	// ErrorTransient errors may succeed on retry.
	ErrorTransient ErrorClass = iota
	// ErrorInvalid errors are caused by bad input or configuration.
	ErrorInvalid
	// ErrorFatal errors are unrecoverable for the affected pipeline.
	ErrorFatal
)

func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Sentinel errors for common conditions.
var (
	// Pipeline lifecycle errors
	ErrAlreadyStarted = errors.New("pipeline already started")
	ErrNotStarted     = errors.New("pipeline not started")
	ErrDisposed       = errors.New("pipeline disposed")

	// Event store errors
	ErrStoreUnavailable = errors.New("event store unavailable")
	ErrStreamNotFound   = errors.New("stream not found")
	ErrConnectionLost   = errors.New("connection lost")
	ErrPersistFailed    = errors.New("event persistence failed")

	// Event integration errors
	ErrInvalidEvent   = errors.New("invalid event")
	ErrPayloadDecode  = errors.New("payload decode failed")
	ErrOrderViolation = errors.New("causal order violation")

	// Subscription errors
	ErrMixedSubscriptions = errors.New("ephemeral and normal subscriptions cannot be mixed")
	ErrEmptySubscription  = errors.New("subscription set matches nothing")

	// Snapshot errors
	ErrSnapshotRejected        = errors.New("snapshot rejected by store")
	ErrSnapshotVersionMismatch = errors.New("snapshot version mismatch")
	ErrSnapshotCorrupted       = errors.New("snapshot blob corrupted")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")
)

// ClassifiedError carries an error class plus the component and operation
// that raised it.
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// classOf extracts an explicit classification, if any.
func classOf(err error) (ErrorClass, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	return 0, false
}

// IsTransient reports whether the error is worth retrying. Unclassified
// errors are matched against known transient sentinels and, as a last
// resort, common transient wording from third-party drivers.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := classOf(err); ok {
		return class == ErrorTransient
	}

	if errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, ErrSnapshotRejected) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "connection", "temporary", "unavailable", "busy"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// IsFatal reports whether processing for the affected pipeline must stop.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := classOf(err); ok {
		return class == ErrorFatal
	}
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingConfig) ||
		errors.Is(err, ErrSnapshotCorrupted) ||
		errors.Is(err, ErrOrderViolation)
}

// IsInvalid reports whether the error came from bad input.
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := classOf(err); ok {
		return class == ErrorInvalid
	}
	return errors.Is(err, ErrInvalidEvent) ||
		errors.Is(err, ErrPayloadDecode) ||
		errors.Is(err, ErrMixedSubscriptions)
}

// Classify buckets any error. Unknown errors count as transient so that
// callers err on the side of retrying.
func Classify(err error) ErrorClass {
	switch {
	case IsFatal(err):
		return ErrorFatal
	case IsInvalid(err):
		return ErrorInvalid
	default:
		return ErrorTransient
	}
}

// Wrap adds context in the "component.method: action failed" form used
// across the codebase.
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapClass(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return &ClassifiedError{
		Class:     class,
		Err:       wrapped,
		Message:   wrapped.Error(),
		Component: component,
		Operation: method,
	}
}

// WrapTransient wraps with context and marks the error retryable.
func WrapTransient(err error, component, method, action string) error {
	return wrapClass(ErrorTransient, err, component, method, action)
}

// WrapFatal wraps with context and marks the error unrecoverable.
func WrapFatal(err error, component, method, action string) error {
	return wrapClass(ErrorFatal, err, component, method, action)
}

// WrapInvalid wraps with context and marks the error as caused by bad
// input.
func WrapInvalid(err error, component, method, action string) error {
	return wrapClass(ErrorInvalid, err, component, method, action)
}

// RetryConfig is a classification-aware retry policy: only transient
// errors (optionally restricted to a sentinel allowlist) are retried.
type RetryConfig struct {
	MaxRetries      int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffFactor   float64
	RetryableErrors []error
}

// DefaultRetryConfig retries any transient error a few times.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// ShouldRetry decides whether the given attempt should be repeated.
func (rc RetryConfig) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= rc.MaxRetries {
		return false
	}
	if !IsTransient(err) {
		return false
	}
	if len(rc.RetryableErrors) == 0 {
		return true
	}
	for _, candidate := range rc.RetryableErrors {
		if errors.Is(err, candidate) {
			return true
		}
	}
	return false
}

// ToRetryConfig converts the policy for use with retry.Do. MaxRetries
// counts additional attempts, so the total attempt count is one higher.
func (rc RetryConfig) ToRetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:  rc.MaxRetries + 1,
		InitialDelay: rc.InitialDelay,
		MaxDelay:     rc.MaxDelay,
		Multiplier:   rc.BackoffFactor,
		AddJitter:    true,
	}
}

// BackoffDelay is the delay before the given retry attempt.
func (rc RetryConfig) BackoffDelay(attempt int) time.Duration {
	delay := rc.InitialDelay
	for i := 0; i < attempt; i++ {
		delay = time.Duration(float64(delay) * rc.BackoffFactor)
		if delay > rc.MaxDelay {
			return rc.MaxDelay
		}
	}
	return delay
}
