package fifo

import "testing"

func TestPushPopOrder(t *testing.T) {
	f := New(3)
	for i := 1; i <= 3; i++ {
		if !f.Push(i) {
			t.Fatalf("push %d should have succeeded", i)
		}
	}
	if f.Push(4) {
		t.Fatal("push past capacity should fail")
	}
	for i := 1; i <= 3; i++ {
		v, ok := f.Pop()
		if !ok || v != i {
			t.Fatalf("pop = %d,%v want %d,true", v, ok, i)
		}
	}
	if _, ok := f.Pop(); ok {
		t.Fatal("pop on empty should fail")
	}
}

func TestFrontDoesNotRemove(t *testing.T) {
	f := New(2)
	f.Push(7)
	v, ok := f.Front()
	if !ok || v != 7 {
		t.Fatalf("front = %d,%v want 7,true", v, ok)
	}
	if f.Size() != 1 {
		t.Fatalf("size = %d want 1", f.Size())
	}
}

func TestDrainOrder(t *testing.T) {
	f := New(4)
	f.Push(1)
	f.Push(2)
	f.Push(3)
	got := f.Drain()
	want := []int{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("len=%d want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("drain[%d]=%d want %d", i, got[i], want[i])
		}
	}
	if f.Size() != 0 {
		t.Fatal("drain should empty the fifo")
	}
}
