package errkind

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestWrapMatchesKindAndCause(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := Wrap(ErrTransient, cause)
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be preserved")
	}
	if errors.Is(err, ErrAuth) {
		t.Fatalf("unexpected ErrAuth match")
	}
	wrapped := fmt.Errorf("kucoin ticker: %w", err)
	if Kind(wrapped) != ErrTransient {
		t.Fatalf("Kind(%v) = %v", wrapped, Kind(wrapped))
	}
}

func TestWrapKeepsExistingKind(t *testing.T) {
	err := Wrap(ErrIO, errors.New("disk full"))
	if again := Wrap(ErrIO, err); again != err {
		t.Fatalf("expected rewrap to return the same error")
	}
}

func TestFatal(t *testing.T) {
	cases := []struct {
		err   error
		fatal bool
	}{
		{Wrap(ErrAuth, nil), true},
		{Wrap(ErrIO, errors.New("read-only fs")), true},
		{Wrap(ErrRateLimit, nil), false},
		{Wrap(ErrTransient, context.DeadlineExceeded), false},
		{errors.New("unclassified"), false},
	}
	for _, c := range cases {
		if got := Fatal(c.err); got != c.fatal {
			t.Errorf("Fatal(%v) = %v, want %v", c.err, got, c.fatal)
		}
	}
}

func TestFromHTTPStatus(t *testing.T) {
	cases := map[int]error{
		200: nil,
		400: nil,
		401: ErrAuth,
		403: ErrAuth,
		418: ErrRateLimit,
		429: ErrRateLimit,
		502: ErrTransient,
	}
	for code, want := range cases {
		if got := FromHTTPStatus(code); got != want {
			t.Errorf("FromHTTPStatus(%d) = %v, want %v", code, got, want)
		}
	}
}

func TestIsNetwork(t *testing.T) {
	if !IsNetwork(fmt.Errorf("get: %w", context.DeadlineExceeded)) {
		t.Error("deadline should count as network error")
	}
	if IsNetwork(errors.New("bad symbol")) {
		t.Error("plain error should not count as network error")
	}
}
