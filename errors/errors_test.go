package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			result := test.class.String()
			if result != test.expected {
				t.Errorf("expected %s, got %s", test.expected, result)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"store unavailable", ErrStoreUnavailable, true},
		{"connection lost", ErrConnectionLost, true},
		{"snapshot rejected", ErrSnapshotRejected, true},
		{"context deadline exceeded", context.DeadlineExceeded, true},
		{"context canceled", context.Canceled, true},
		{"invalid event", ErrInvalidEvent, false},
		{"order violation", ErrOrderViolation, false},
		{"timeout in message", fmt.Errorf("operation timeout occurred"), true},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("test")}, true},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsTransient(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"invalid config", ErrInvalidConfig, true},
		{"missing config", ErrMissingConfig, true},
		{"snapshot corrupted", ErrSnapshotCorrupted, true},
		{"order violation", ErrOrderViolation, true},
		{"store unavailable", ErrStoreUnavailable, false},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsFatal(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsInvalid(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"invalid event", ErrInvalidEvent, true},
		{"payload decode", ErrPayloadDecode, true},
		{"mixed subscriptions", ErrMixedSubscriptions, true},
		{"classified invalid", &ClassifiedError{Class: ErrorInvalid, Err: fmt.Errorf("test")}, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsInvalid(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	base := errors.New("boom")
	wrapped := Wrap(base, "FishJar", "Enqueue", "command admission")

	if wrapped == nil {
		t.Fatal("expected non-nil error")
	}
	expected := "FishJar.Enqueue: command admission failed: boom"
	if wrapped.Error() != expected {
		t.Errorf("expected %q, got %q", expected, wrapped.Error())
	}
	if !errors.Is(wrapped, base) {
		t.Error("wrapped error should unwrap to base")
	}
	if Wrap(nil, "a", "b", "c") != nil {
		t.Error("wrapping nil should return nil")
	}
}

func TestWrapClassified(t *testing.T) {
	base := errors.New("boom")

	transient := WrapTransient(base, "MemoryStore", "Persist", "publish")
	if !IsTransient(transient) {
		t.Error("WrapTransient result should classify as transient")
	}

	invalid := WrapInvalid(base, "FishEventStore", "ProcessEvents", "decode")
	if !IsInvalid(invalid) {
		t.Error("WrapInvalid result should classify as invalid")
	}

	fatal := WrapFatal(base, "BadgerStore", "Open", "open database")
	if !IsFatal(fatal) {
		t.Error("WrapFatal result should classify as fatal")
	}

	var ce *ClassifiedError
	if !errors.As(fatal, &ce) {
		t.Fatal("expected ClassifiedError in chain")
	}
	if ce.Component != "BadgerStore" {
		t.Errorf("expected component BadgerStore, got %s", ce.Component)
	}
	if !strings.Contains(ce.Error(), "open database failed") {
		t.Errorf("unexpected message: %s", ce.Error())
	}
}

func TestClassifyDefaultsToTransient(t *testing.T) {
	if Classify(errors.New("something odd")) != ErrorTransient {
		t.Error("unknown errors default to transient")
	}
	if Classify(ErrPayloadDecode) != ErrorInvalid {
		t.Error("payload decode classifies invalid")
	}
}

func TestRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()

	if cfg.ShouldRetry(nil, 0) {
		t.Error("nil error should not retry")
	}
	if cfg.ShouldRetry(ErrStoreUnavailable, cfg.MaxRetries) {
		t.Error("should not retry past MaxRetries")
	}
	if !cfg.ShouldRetry(ErrStoreUnavailable, 0) {
		t.Error("transient error should retry")
	}
	if cfg.ShouldRetry(ErrInvalidEvent, 0) {
		t.Error("invalid error should not retry")
	}

	if cfg.BackoffDelay(0) != cfg.InitialDelay {
		t.Error("attempt 0 uses initial delay")
	}
	if cfg.BackoffDelay(1) != time.Duration(float64(cfg.InitialDelay)*cfg.BackoffFactor) {
		t.Error("attempt 1 uses one backoff step")
	}
	if cfg.BackoffDelay(100) > cfg.MaxDelay {
		t.Error("delay capped at MaxDelay")
	}

	rcfg := cfg.ToRetryConfig()
	if rcfg.MaxAttempts != cfg.MaxRetries+1 {
		t.Error("MaxAttempts converts additional attempts to total attempts")
	}
}
