package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestWrapKeepsCauseAndCode(t *testing.T) {
	cause := stdErrors.New("boom")
	err := Wrap(CodeStorageFailure, cause, "写入失败", WithMetadata("table", "runs"))

	if !stdErrors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable")
	}
	if CodeOf(err) != CodeStorageFailure {
		t.Fatalf("unexpected code: %s", CodeOf(err))
	}
	if !RetryableError(err) {
		t.Fatalf("storage failures are retryable by default")
	}
	if got := err.Error(); got != "[STORAGE_FAILURE] 写入失败: boom" {
		t.Fatalf("unexpected message: %s", got)
	}
}

func TestOptionsOverrideRegistry(t *testing.T) {
	err := New(CodeStorageFailure, "", WithRetryable(false), WithSeverity(SeverityInfo), WithAlert(false))
	if err.Retryable() || err.ShouldAlert() || err.Severity() != SeverityInfo {
		t.Fatalf("options not applied: %+v", err)
	}
	if err.Message() != "storage failure" {
		t.Fatalf("expected registry message, got %q", err.Message())
	}
}

func TestMetadataValueWalksChain(t *testing.T) {
	inner := New(CodeInvalidArgument, "bad", WithMetadata("step_id", "a"))
	outer := fmt.Errorf("context: %w", Wrap(CodeUpstreamFailure, inner, "outer"))

	v, ok := MetadataValue(outer, "step_id")
	if !ok || v != "a" {
		t.Fatalf("expected step_id=a, got %q %v", v, ok)
	}
	if !HasCode(outer, CodeInvalidArgument) || !HasCode(outer, CodeUpstreamFailure) {
		t.Fatalf("expected both codes in chain")
	}
	if HasCode(outer, CodeTimeout) {
		t.Fatalf("unexpected code match")
	}
}

func TestUnregisteredCodeFallsBackToUnknown(t *testing.T) {
	attr := AttributesOf(Code("NOT_REGISTERED"))
	if attr != AttributesOf(CodeUnknown) {
		t.Fatalf("expected unknown attributes, got %+v", attr)
	}
}

func TestDescribe(t *testing.T) {
	err := New(CodeNotFound, "missing", WithMetadata("b", "2"), WithMetadata("a", "1"))
	if got := Describe(err); got != "code=NOT_FOUND a=1 b=2" {
		t.Fatalf("unexpected describe output: %s", got)
	}
	if got := Describe(stdErrors.New("plain")); got != "plain" {
		t.Fatalf("unexpected describe output: %s", got)
	}
}
