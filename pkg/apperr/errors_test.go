package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindsMatchThroughWrapping(t *testing.T) {
	base := Precondition("valentine already revealed")
	wrapped := fmt.Errorf("verify reveal: %w", base)

	if !errors.Is(wrapped, ErrPrecondition) {
		t.Fatalf("expected wrapped error to match ErrPrecondition")
	}
	if errors.Is(wrapped, ErrNotFound) {
		t.Fatalf("did not expect wrapped error to match ErrNotFound")
	}
	if got := Reason(wrapped); got != "valentine already revealed" {
		t.Fatalf("unexpected reason: %q", got)
	}
	if !IsUserFacing(wrapped) {
		t.Fatalf("expected precondition to be user facing")
	}
}

func TestDeliveryUnwrapsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Delivery("send voice", cause)
	if !errors.Is(err, ErrDelivery) {
		t.Fatalf("expected ErrDelivery")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable")
	}
	if IsUserFacing(err) {
		t.Fatalf("delivery failures are not user facing")
	}
	if Reason(errors.New("disk full")) != "internal error" {
		t.Fatalf("expected generic reason for unkinded errors")
	}
}
