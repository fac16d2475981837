package models

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestErrorIs_MatchesByCode(t *testing.T) {
	err := fmt.Errorf("load session: %w", NewError(CodeSessionNotFound, "abc", nil))

	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("errors.Is(%v, ErrSessionNotFound) = false", err)
	}
	if errors.Is(err, ErrSessionClosed) {
		t.Fatalf("errors.Is(%v, ErrSessionClosed) = true", err)
	}
	if got := CodeOf(err); got != CodeSessionNotFound {
		t.Fatalf("CodeOf() = %q, want %q", got, CodeSessionNotFound)
	}
}

func TestErrorUnwrap_ReachesCause(t *testing.T) {
	err := NewError(CodeStorageUnavailable, "", io.ErrUnexpectedEOF)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("cause not reachable through Unwrap")
	}
	if got := err.Error(); got != "STORAGE_UNAVAILABLE: unexpected EOF" {
		t.Fatalf("Error() = %q", got)
	}
}

func TestCodeOf_PlainError(t *testing.T) {
	if got := CodeOf(errors.New("boom")); got != "" {
		t.Fatalf("CodeOf(plain) = %q, want empty", got)
	}
}

func TestResult(t *testing.T) {
	ok := Success("hello")
	if !ok.Ok() || ok.Value() != "hello" || ok.Err() != nil || ok.Code() != "" {
		t.Fatalf("unexpected success result: %+v", ok)
	}

	failed := Failure[string](CodeSTTFailure, io.EOF)
	if failed.Ok() {
		t.Fatalf("failure reported Ok")
	}
	if failed.Value() != "" {
		t.Fatalf("failure carries value %q", failed.Value())
	}
	if !errors.Is(failed.Err(), ErrSTTFailure) || !errors.Is(failed.Err(), io.EOF) {
		t.Fatalf("failure error chain = %v", failed.Err())
	}
	if failed.Code() != CodeSTTFailure {
		t.Fatalf("Code() = %q", failed.Code())
	}
}
