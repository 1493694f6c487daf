package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	base := errors.New("boom")
	tests := []struct {
		name     string
		err      error
		expected Kind
	}{
		{"nil", nil, KindUnknown},
		{"plain", base, KindUnknown},
		{"capability", New(KindCapability, "no wallet"), KindCapability},
		{"wrapped", fmt.Errorf("start: %w", Wrap(KindTransport, "lost", base)), KindTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestWrap_NilError(t *testing.T) {
	if err := Wrap(KindPermission, "denied", nil); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestError_UnwrapAndMessage(t *testing.T) {
	base := errors.New("connection refused")
	err := Wrap(KindAvailability, "Backend unreachable", base)

	if !errors.Is(err, base) {
		t.Error("expected wrapped error to match base")
	}
	if Message(err) != "Backend unreachable" {
		t.Errorf("expected 'Backend unreachable', got %s", Message(err))
	}
	if err.Error() != "Backend unreachable: connection refused" {
		t.Errorf("unexpected error string: %s", err.Error())
	}
	if Message(base) != "connection refused" {
		t.Errorf("expected raw message for unclassified error, got %s", Message(base))
	}
}

func TestKind_String(t *testing.T) {
	if KindPermission.String() != "permission" {
		t.Errorf("expected permission, got %s", KindPermission.String())
	}
	if Kind(42).String() != "unknown" {
		t.Errorf("expected unknown, got %s", Kind(42).String())
	}
}
