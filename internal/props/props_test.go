package props

import "testing"

func TestValidateReadOnlyRejectsWrite(t *testing.T) {
	if err := Validate(QueuedBuffers, true); err == nil {
		t.Fatal("expected ReadOnlyProperty error")
	}
	if err := Validate(QueuedBuffers, false); err != nil {
		t.Fatalf("read of read-only property should succeed: %v", err)
	}
}

func TestValidateWriteOnlyRejectsRead(t *testing.T) {
	if err := Validate(ConnectionData, false); err == nil {
		t.Fatal("expected WriteOnlyProperty error")
	}
	if err := Validate(ConnectionData, true); err != nil {
		t.Fatalf("write of write-only property should succeed: %v", err)
	}
}

func TestValidateUnknownProperty(t *testing.T) {
	if err := Validate(ID(0xDEAD), false); err == nil {
		t.Fatal("expected InvalidProperty error")
	}
}

func TestCopyToOutputTooSmall(t *testing.T) {
	d := FromUint64(42)
	buf := make([]byte, 4)
	if _, err := d.CopyToOutput(buf); err == nil {
		t.Fatal("expected InvalidSize error")
	}
}

func TestUint64RoundTrip(t *testing.T) {
	d := FromUint64(12345)
	v, err := d.Uint64()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 12345 {
		t.Fatalf("got %d want 12345", v)
	}
}
