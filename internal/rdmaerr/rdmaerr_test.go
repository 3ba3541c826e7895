package rdmaerr

import "testing"

func TestCodeOrdering(t *testing.T) {
	if Timeout.Code() != -734001 {
		t.Fatalf("Timeout.Code() = %d, want -734001", Timeout.Code())
	}
	if SendTooLargeForRecvBuffer.Code() != -734028 {
		t.Fatalf("SendTooLargeForRecvBuffer.Code() = %d, want -734028", SendTooLargeForRecvBuffer.Code())
	}
}

func TestFormatIntoTooSmall(t *testing.T) {
	e := New(Timeout, 0)
	buf := make([]byte, 1)
	if _, err := e.FormatInto(buf); err == nil {
		t.Fatal("expected InvalidSize error on too-small buffer")
	} else if ae, ok := err.(*Error); !ok || ae.Kind != InvalidSize {
		t.Fatalf("expected InvalidSize, got %v", err)
	}
}

func TestFormatIntoSuccess(t *testing.T) {
	e := New(Disconnected, 0)
	buf := make([]byte, 256)
	n, err := e.FormatInto(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf[n-1] != 0 {
		t.Fatalf("expected terminating NUL at n-1")
	}
}

func TestFirstErrorWinsViaIs(t *testing.T) {
	a := New(Timeout, 0)
	b := New(Timeout, 0)
	c := New(Disconnected, 0)
	if !a.Is(b) {
		t.Fatal("expected same-kind errors to match via Is")
	}
	if a.Is(c) {
		t.Fatal("expected different-kind errors to not match via Is")
	}
}

func TestWrapPassesThroughTypedError(t *testing.T) {
	orig := New(AlreadyConnected, 0)
	if Wrap(orig) != orig {
		t.Fatal("Wrap must pass through *Error unchanged")
	}
}
