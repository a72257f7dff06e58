package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfClassifiesFailures(t *testing.T) {
	cause := errors.New("upstream 503")

	if got := KindOf(Retryable("generation timed out", cause)); got != FailureRetryable {
		t.Fatalf("KindOf(retryable) = %q", got)
	}
	if got := KindOf(Terminal("filtered by safety policy", nil)); got != FailureTerminal {
		t.Fatalf("KindOf(terminal) = %q", got)
	}
	if got := KindOf(ConfigFailure("no executor registered", nil)); got != FailureConfig {
		t.Fatalf("KindOf(config) = %q", got)
	}
}

func TestKindOfWrappedFailure(t *testing.T) {
	err := fmt.Errorf("execute outcome: %w", Terminal("bad prompt", nil))
	if got := KindOf(err); got != FailureTerminal {
		t.Fatalf("KindOf(wrapped terminal) = %q", got)
	}
}

func TestKindOfUnknownErrorDefaultsRetryable(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != FailureRetryable {
		t.Fatalf("KindOf(unknown) = %q", got)
	}
}

func TestFailureUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := Retryable("provider unavailable", cause)
	if !errors.Is(err, cause) {
		t.Fatal("Failure does not unwrap to its cause")
	}
}

func TestGuestMessage(t *testing.T) {
	if got := GuestMessage(Terminal("Video was filtered by safety policy", nil)); got != "Video was filtered by safety policy" {
		t.Fatalf("GuestMessage = %q", got)
	}
	got := GuestMessage(errors.New("pq: deadlock"))
	if got != "We couldn't generate your result. Please try again." {
		t.Fatalf("GuestMessage fallback = %q", got)
	}
}

func TestJobStatusTerminal(t *testing.T) {
	for status, want := range map[JobStatus]bool{
		JobStatusPending:   false,
		JobStatusRunning:   false,
		JobStatusSucceeded: true,
		JobStatusFailed:    true,
	} {
		if got := status.Terminal(); got != want {
			t.Fatalf("%s.Terminal() = %v, want %v", status, got, want)
		}
	}
}
