package errors

import (
	"context"
	"errors"
	"fmt"
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
		{"connection timeout", ErrConnectionTimeout, true},
		{"connection lost", ErrConnectionLost, true},
		{"no connection", ErrNoConnection, true},
		{"peer timeout", ErrPeerTimeout, true},
		{"stream stalled", ErrStreamStalled, true},
		{"context deadline exceeded", context.DeadlineExceeded, true},
		{"invalid data", ErrInvalidData, false},
		{"schema mismatch", ErrSchemaMismatch, false},
		{"timeout in message", fmt.Errorf("operation timeout occurred"), true},
		{"network error", fmt.Errorf("network link failed"), true},
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
		{"schema mismatch", ErrSchemaMismatch, true},
		{"artifact corrupt", ErrArtifactCorrupt, true},
		{"connection timeout", ErrConnectionTimeout, false},
		{"value range", ErrValueRange, false},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, true},
		{"wrapped schema mismatch", fmt.Errorf("load: %w", ErrSchemaMismatch), true},
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
		{"invalid data", ErrInvalidData, true},
		{"value range", ErrValueRange, true},
		{"parsing failed", ErrParsingFailed, true},
		{"connection lost", ErrConnectionLost, false},
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

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{"nil", nil, ErrorTransient},
		{"fatal wins over pattern", ErrSchemaMismatch, ErrorFatal},
		{"invalid", ErrValueRange, ErrorInvalid},
		{"transient", ErrConnectionLost, ErrorTransient},
		{"unknown defaults transient", fmt.Errorf("something odd"), ErrorTransient},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := Classify(test.err); got != test.expected {
				t.Errorf("expected %v, got %v", test.expected, got)
			}
		})
	}
}

func TestWrapHelpers(t *testing.T) {
	base := errors.New("port busy")

	err := WrapTransient(base, "serialline", "connect", "open port")
	if !IsTransient(err) {
		t.Error("expected transient classification")
	}
	if !errors.Is(err, base) {
		t.Error("expected wrapped error to unwrap to base")
	}
	want := "serialline.connect: open port failed: port busy"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}

	if WrapTransient(nil, "c", "m", "a") != nil {
		t.Error("wrapping nil must return nil")
	}
	if WrapFatal(nil, "c", "m", "a") != nil {
		t.Error("wrapping nil must return nil")
	}
	if WrapInvalid(nil, "c", "m", "a") != nil {
		t.Error("wrapping nil must return nil")
	}

	fatal := WrapFatal(base, "classifier", "load", "schema check")
	if !IsFatal(fatal) {
		t.Error("expected fatal classification")
	}

	invalid := WrapInvalid(base, "serialline", "parse", "line")
	if !IsInvalid(invalid) {
		t.Error("expected invalid classification")
	}
}

func TestRetryConfig(t *testing.T) {
	rc := DefaultRetryConfig()

	if !rc.ShouldRetry(ErrConnectionLost, 0) {
		t.Error("transient error within budget should retry")
	}
	if rc.ShouldRetry(ErrConnectionLost, rc.MaxRetries) {
		t.Error("exhausted budget should not retry")
	}
	if rc.ShouldRetry(ErrValueRange, 0) {
		t.Error("invalid error should not retry")
	}
	if rc.ShouldRetry(nil, 0) {
		t.Error("nil error should not retry")
	}

	fc := rc.ToRetryConfig()
	if fc.MaxAttempts != rc.MaxRetries+1 {
		t.Errorf("expected %d total attempts, got %d", rc.MaxRetries+1, fc.MaxAttempts)
	}
	if fc.InitialDelay != 100*time.Millisecond {
		t.Errorf("unexpected initial delay %v", fc.InitialDelay)
	}
	if !fc.AddJitter {
		t.Error("expected jitter enabled")
	}
}
