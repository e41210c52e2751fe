package logging

import "testing"

func TestNoopDoesNotPanic(t *testing.T) {
	l := Noop()
	done := l.Trace("TestFunc")
	l.Message("hello %d", 1)
	done()
	if err := l.Sync(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestIndentForClampsNegative(t *testing.T) {
	if got := indentFor(-3); got != "" {
		t.Fatalf("expected empty indent, got %q", got)
	}
}

func TestIndentForScalesWithDepth(t *testing.T) {
	if got := indentFor(3); got != "      " {
		t.Fatalf("expected 6 spaces, got %q (%d)", got, len(got))
	}
}
