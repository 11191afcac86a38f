package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	err := New(KindNotAHolder)
	if got := KindOf(err); got != KindNotAHolder {
		t.Fatalf("unexpected kind: have %d want %d", got, KindNotAHolder)
	}
	wrapped := fmt.Errorf("intake: %w", err)
	if got := KindOf(wrapped); got != KindNotAHolder {
		t.Fatalf("kind lost through wrapping: have %d", got)
	}
	if got := KindOf(errors.New("plain")); got != KindUnknown {
		t.Fatalf("plain error should be unknown, have %d", got)
	}
}

func TestClientMessageHidesCause(t *testing.T) {
	cause := errors.New("dial tcp 10.0.0.1:5432: connection refused")
	err := Wrap(KindDatabase, cause)
	if msg := ClientMessage(err); msg != "Database error" {
		t.Fatalf("unexpected client message: %q", msg)
	}
	if !errors.Is(err, cause) {
		t.Fatal("cause not reachable via errors.Is")
	}
}

func TestCustomMessage(t *testing.T) {
	err := Newf(KindCooldownActive, "Vote change not allowed. You can change your vote in %d more minutes", 71)
	want := "Vote change not allowed. You can change your vote in 71 more minutes"
	if msg := ClientMessage(err); msg != want {
		t.Fatalf("unexpected message: have %q want %q", msg, want)
	}
}

func TestUnclassifiedCollapsesToInternal(t *testing.T) {
	if msg := ClientMessage(errors.New("secret detail")); msg != "Internal server error" {
		t.Fatalf("unexpected message: %q", msg)
	}
}
