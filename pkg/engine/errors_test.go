package engine

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Message(t *testing.T) {
	err := NewError(ErrCodeValidation, "ttl out of range").
		WithPath("records.A[0].ttl").
		WithOperation("validate")

	msg := err.Error()
	for _, want := range []string{"[VALIDATION_ERROR]", "ttl out of range", "path=records.A[0].ttl", "operation=validate"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
}

func TestError_WrappedCauseSurvivesFormatting(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewError(ErrCodeApply, "create failed").WithCause(cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause through Unwrap")
	}
	if !strings.Contains(err.Error(), "connection reset") {
		t.Errorf("Error() = %q, should include the cause", err.Error())
	}
}

func TestHasCode(t *testing.T) {
	err := NewError(ErrCodeNotFound, "snapshot not found")

	if !HasCode(err, ErrCodeNotFound) {
		t.Error("HasCode should match the error's own code")
	}
	if HasCode(err, ErrCodeApply) {
		t.Error("HasCode should not match a different code")
	}

	wrapped := fmt.Errorf("loading: %w", err)
	if !HasCode(wrapped, ErrCodeNotFound) {
		t.Error("HasCode should see through fmt.Errorf wrapping")
	}

	if HasCode(errors.New("plain"), ErrCodeNotFound) {
		t.Error("HasCode should be false for unclassified errors")
	}
	if HasCode(nil, ErrCodeNotFound) {
		t.Error("HasCode should be false for nil")
	}
}

func TestIsTransient(t *testing.T) {
	transient := NewTransientError(ErrCodeTimeout, "store timed out", errors.New("deadline"))
	if !IsTransient(transient) {
		t.Error("transient error should be transient")
	}
	if IsTransient(NewError(ErrCodeValidation, "bad ttl")) {
		t.Error("permanent error should not be transient")
	}
	if IsTransient(errors.New("plain")) {
		t.Error("unclassified error should not be transient")
	}
}

func TestError_IsMatchesByCode(t *testing.T) {
	a := NewError(ErrCodeParse, "bad yaml")
	b := NewError(ErrCodeParse, "different message")
	if !errors.Is(a, b) {
		t.Error("errors with the same code should match")
	}
	if errors.Is(a, NewError(ErrCodeSchema, "bad yaml")) {
		t.Error("errors with different codes should not match")
	}
}
