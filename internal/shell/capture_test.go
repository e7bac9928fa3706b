package shell

import "testing"

func TestCappedBuffer_TruncatesToLimit(t *testing.T) {
	b := newCappedBuffer(5)

	n, err := b.Write([]byte("abc"))
	if err != nil || n != 3 {
		t.Fatalf("write: n=%d err=%v", n, err)
	}
	n, _ = b.Write([]byte("defgh"))
	if n != 5 {
		t.Errorf("writes past the cap must report full length, got %d", n)
	}
	if got := b.String(); got != "abcde" {
		t.Errorf("content: got %q", got)
	}
	if !b.Truncated() {
		t.Error("expected truncated")
	}

	b.Write([]byte("more"))
	if got := b.String(); got != "abcde" {
		t.Errorf("content after cap: got %q", got)
	}
}

func TestCappedBuffer_ExactFitNotTruncated(t *testing.T) {
	b := newCappedBuffer(4)
	b.Write([]byte("abcd"))
	if b.Truncated() {
		t.Error("exact fit should not be truncated")
	}
	b.Write(nil)
	if b.Truncated() {
		t.Error("empty write should not mark truncated")
	}
}
