package utils

import (
	"errors"
	"testing"
)

func TestWrapNilPassesThrough(t *testing.T) {
	if err := Wrap(nil, "context"); err != nil {
		t.Fatalf("Wrap(nil, ...) = %v, want nil", err)
	}
}

func TestWrapPreservesCauseForUnwrapping(t *testing.T) {
	cause := errors.New("boom")
	wrapped := Wrap(cause, "reading file")

	if !errors.Is(wrapped, cause) {
		t.Fatalf("errors.Is(wrapped, cause) = false, want true")
	}
	if wrapped.Error() != "reading file: boom" {
		t.Fatalf("Error() = %q, want %q", wrapped.Error(), "reading file: boom")
	}
}
