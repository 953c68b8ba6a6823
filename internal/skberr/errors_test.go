package skberr

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	e := New(GuardQuota, "daily question quota exhausted")
	want := "[GUARD_QUOTA] daily question quota exhausted"
	if e.Error() != want {
		t.Errorf("Error() = %q, want %q", e.Error(), want)
	}

	cause := errors.New("disk full")
	wrapped := Wrap(StoreIO, "failed to persist snapshot cache", cause)
	if got := wrapped.Error(); got != "[STORE_IO] failed to persist snapshot cache: disk full" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(wrapped, cause) {
		t.Error("wrapped error should match its cause via errors.Is")
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"direct", New(LlmAuth, "bad key"), LlmAuth},
		{"wrapped in fmt", fmt.Errorf("outer: %w", New(GuardBackoff, "waiting")), GuardBackoff},
		{"plain error", errors.New("boom"), Internal},
		{"nil cause chain", Wrap(FileNotFound, "no such source", nil), FileNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := CodeOf(tc.err); got != tc.want {
				t.Errorf("CodeOf() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestHasCode(t *testing.T) {
	err := fmt.Errorf("ctx: %w", Newf(LlmExhausted, "gave up after %d retries", 3))
	if !HasCode(err, LlmExhausted) {
		t.Error("expected HasCode to find LLM_EXHAUSTED through a wrap")
	}
	if HasCode(err, LlmAuth) {
		t.Error("HasCode matched the wrong code")
	}
}
