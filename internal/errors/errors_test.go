package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestWrapKeepsCauseOutOfDescription(t *testing.T) {
	t.Parallel()

	cause := fmt.Errorf("dial tcp 127.0.0.1:1234: connection refused")
	err := Wrap(CodeStorageFailure, cause, "写入记录失败")

	if !stdErrors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable through Unwrap")
	}
	if got := Describe(err); got != "STORAGE_FAILURE: 写入记录失败" {
		t.Fatalf("unexpected description: %q", got)
	}
	if !err.Retryable() || !err.ShouldAlert() {
		t.Fatalf("expected registry defaults to apply")
	}
}

func TestIsComparesCodes(t *testing.T) {
	t.Parallel()

	sentinel := New(CodeNotFound, "")
	err := fmt.Errorf("lookup: %w", New(CodeNotFound, "record missing"))
	if !stdErrors.Is(err, sentinel) {
		t.Fatalf("expected errors.Is to match on code")
	}
	if stdErrors.Is(err, New(CodeConflict, "")) {
		t.Fatalf("different codes must not match")
	}
}

func TestRegisterAndOverrides(t *testing.T) {
	const code Code = "TEST_REGISTERED"
	Register(code, Attributes{Message: "test", Severity: SeverityWarning, Retryable: true})

	if !Registered(code) {
		t.Fatalf("expected code to be registered")
	}
	err := New(code, "", WithRetryable(false), WithMetadata("tool", "calculator"))
	if err.Message() != "test" {
		t.Fatalf("expected default message, got %q", err.Message())
	}
	if err.Retryable() {
		t.Fatalf("option must override registry default")
	}
	if err.Family() != FamilyGeneric {
		t.Fatalf("expected generic family, got %s", err.Family())
	}
	if err.Metadata()["tool"] != "calculator" {
		t.Fatalf("metadata not recorded")
	}
	if CodeOf(stdErrors.New("plain")) != CodeUnknown {
		t.Fatalf("plain errors map to UNKNOWN")
	}
}
