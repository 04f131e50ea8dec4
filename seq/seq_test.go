package seq

import "testing"

func TestLessThanWraps(t *testing.T) {
	a := Value(0xFFFFFFF0)
	b := Value(0x00000010)
	if !a.LessThan(b) {
		t.Fatalf("expected %v to be less than %v across wraparound", a, b)
	}
	if b.LessThan(a) {
		t.Fatalf("did not expect %v to be less than %v", b, a)
	}
}

func TestInWindow(t *testing.T) {
	start := Value(1000)
	wnd := Size(100)
	if !start.InWindow(start, wnd) {
		t.Fatal("start must be in its own window")
	}
	if !Value(1099).InWindow(start, wnd) {
		t.Fatal("last valid seq must be in window")
	}
	if Value(1100).InWindow(start, wnd) {
		t.Fatal("one past window must not be in window")
	}
	if Value(999).InWindow(start, wnd) {
		t.Fatal("one before window must not be in window")
	}
}

func TestSizeofAndAdd(t *testing.T) {
	a := Value(100)
	b := Add(a, 50)
	if Sizeof(a, b) != 50 {
		t.Fatalf("Sizeof(%v,%v) = %v, want 50", a, b, Sizeof(a, b))
	}
}
