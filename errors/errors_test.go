package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
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
		{"write timeout", ErrWriteTimeout, true},
		{"write failed", ErrWriteFailed, true},
		{"storage unavailable", ErrStorageUnavailable, true},
		{"context deadline exceeded", context.DeadlineExceeded, true},
		{"context canceled", context.Canceled, true},
		{"invalid data", ErrInvalidData, false},
		{"timeout in message", fmt.Errorf("operation timeout occurred"), true},
		{"connection error message", fmt.Errorf("connection refused"), true},
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

func TestIsInvalid(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"invalid data", ErrInvalidData, true},
		{"missing field", ErrMissingField, true},
		{"parsing failed", ErrParsingFailed, true},
		{"write failed", ErrWriteFailed, false},
		{"classified invalid", &ClassifiedError{Class: ErrorInvalid, Err: fmt.Errorf("test")}, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := IsInvalid(test.err); got != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, got, test.err)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	if !IsFatal(ErrInvalidConfig) {
		t.Error("ErrInvalidConfig should be fatal")
	}
	if !IsFatal(ErrMissingConfig) {
		t.Error("ErrMissingConfig should be fatal")
	}
	if IsFatal(ErrWriteTimeout) {
		t.Error("ErrWriteTimeout should not be fatal")
	}
	if IsFatal(nil) {
		t.Error("nil should not be fatal")
	}
}

func TestClassify(t *testing.T) {
	if got := Classify(ErrInvalidConfig); got != ErrorFatal {
		t.Errorf("expected fatal, got %s", got)
	}
	if got := Classify(ErrMissingField); got != ErrorInvalid {
		t.Errorf("expected invalid, got %s", got)
	}
	if got := Classify(errors.New("some opaque failure")); got != ErrorTransient {
		t.Errorf("expected transient default, got %s", got)
	}
}

func TestWrap(t *testing.T) {
	base := errors.New("boom")
	err := Wrap(base, "Store", "Append", "insert row")

	if err == nil {
		t.Fatal("expected non-nil error")
	}
	if !errors.Is(err, base) {
		t.Error("wrapped error should unwrap to base")
	}
	want := "Store.Append: insert row failed: boom"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
	if Wrap(nil, "Store", "Append", "insert row") != nil {
		t.Error("wrapping nil should return nil")
	}
}

func TestWrapClassified(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name  string
		wrap  func(error, string, string, string) error
		class ErrorClass
	}{
		{"transient", WrapTransient, ErrorTransient},
		{"invalid", WrapInvalid, ErrorInvalid},
		{"fatal", WrapFatal, ErrorFatal},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := test.wrap(base, "Bus", "Publish", "enqueue frame")
			var ce *ClassifiedError
			if !errors.As(err, &ce) {
				t.Fatal("expected ClassifiedError")
			}
			if ce.Class != test.class {
				t.Errorf("expected class %s, got %s", test.class, ce.Class)
			}
			if !errors.Is(err, base) {
				t.Error("classified error should unwrap to base")
			}
			if !strings.Contains(err.Error(), "Bus.Publish") {
				t.Errorf("expected component context in message, got %q", err.Error())
			}
			if test.wrap(nil, "Bus", "Publish", "enqueue frame") != nil {
				t.Error("wrapping nil should return nil")
			}
		})
	}
}
