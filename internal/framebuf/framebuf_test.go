package framebuf

import (
	"bytes"
	"errors"
	"testing"
)

func TestReserveConsume_Invariants(t *testing.T) {
	b := New()
	defer b.Free()

	total := 0
	for i := 0; i < 200; i++ {
		p, err := b.Reserve(100)
		if err != nil {
			t.Fatalf("reserve %d: %v", i, err)
		}
		for j := range p {
			p[j] = byte(i)
		}
		total += 100
		if b.Len() != total {
			t.Fatalf("len=%d want %d", b.Len(), total)
		}
		checkOrdering(t, b)
	}
	for total > 0 {
		n := 150
		if n > total {
			n = total
		}
		if err := b.Consume(n); err != nil {
			t.Fatalf("consume: %v", err)
		}
		total -= n
		checkOrdering(t, b)
	}
	if b.Len() != 0 {
		t.Fatalf("expected empty buffer, len=%d", b.Len())
	}
}

func checkOrdering(t *testing.T, b *Buffer) {
	t.Helper()
	if b.off > b.size || b.size > len(b.d) || len(b.d) > b.maxSize {
		t.Fatalf("invariant violated: off=%d size=%d alloc=%d max=%d",
			b.off, b.size, len(b.d), b.maxSize)
	}
}

func TestConsumeAll_CollapsesToZero(t *testing.T) {
	b := New()
	defer b.Free()

	p, err := b.Reserve(1234)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if len(p) != 1234 {
		t.Fatalf("reserved %d bytes, want 1234", len(p))
	}
	if err := b.Consume(1234); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if b.off != 0 || b.size != 0 {
		t.Fatalf("buffer did not collapse: off=%d size=%d", b.off, b.size)
	}
}

func TestConsume_TooMuch(t *testing.T) {
	b := New()
	defer b.Free()

	if err := b.Put([]byte("abc")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := b.Consume(4); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("consume(4) = %v, want ErrIncomplete", err)
	}
	if err := b.ConsumeEnd(4); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("consumeEnd(4) = %v, want ErrIncomplete", err)
	}
	if err := b.ConsumeEnd(1); err != nil {
		t.Fatalf("consumeEnd(1): %v", err)
	}
	if got := string(b.Bytes()); got != "ab" {
		t.Fatalf("bytes = %q, want \"ab\"", got)
	}
}

func TestReadOnly_RejectsMutation(t *testing.T) {
	blob := []byte("immutable contents")
	orig := append([]byte(nil), blob...)

	b, err := NewReadOnly(blob)
	if err != nil {
		t.Fatalf("newReadOnly: %v", err)
	}
	defer b.Free()

	if _, err := b.Reserve(1); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("reserve on read-only = %v, want ErrReadOnly", err)
	}
	if err := b.Put([]byte("x")); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("put on read-only = %v, want ErrReadOnly", err)
	}
	if err := b.SetMaxSize(64); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("setMaxSize on read-only = %v, want ErrReadOnly", err)
	}
	if b.Mutable() != nil {
		t.Fatal("mutable pointer on read-only buffer")
	}
	if b.Avail() != 0 {
		t.Fatalf("avail = %d, want 0", b.Avail())
	}
	if !bytes.Equal(blob, orig) {
		t.Fatal("read-only blob was modified")
	}
	if got := string(b.Bytes()); got != string(orig) {
		t.Fatalf("bytes = %q, want %q", got, orig)
	}
}

func TestView_HoldsParentReference(t *testing.T) {
	parent := New()
	if err := parent.Put([]byte("shared window")); err != nil {
		t.Fatalf("put: %v", err)
	}

	child, err := View(parent)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if parent.Refcount() != 2 {
		t.Fatalf("parent refcount = %d, want 2", parent.Refcount())
	}
	// Parent is shared now, so it refuses mutation.
	if _, err := parent.Reserve(1); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("reserve on shared parent = %v, want ErrReadOnly", err)
	}
	if got := string(child.Bytes()); got != "shared window" {
		t.Fatalf("child bytes = %q", got)
	}

	// Freeing the parent first must not release it while the child lives.
	parent.Free()
	if got := string(child.Bytes()); got != "shared window" {
		t.Fatalf("child bytes after parent free = %q", got)
	}
	child.Free()
}

func TestReset_ShrinksToDefault(t *testing.T) {
	b := New()
	defer b.Free()

	if _, err := b.Reserve(100 * 1024); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if b.Alloc() <= sizeInit {
		t.Fatalf("alloc = %d, expected growth", b.Alloc())
	}
	b.Reset()
	if b.Len() != 0 || b.Alloc() != sizeInit {
		t.Fatalf("after reset: len=%d alloc=%d", b.Len(), b.Alloc())
	}
}

func TestSetMaxSize_BoundsGrowth(t *testing.T) {
	b := New()
	defer b.Free()

	if err := b.Put(make([]byte, 100)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := b.SetMaxSize(SizeMax + 1); !errors.Is(err, ErrNoSpace) {
		t.Fatalf("setMaxSize beyond ceiling = %v, want ErrNoSpace", err)
	}
	if err := b.SetMaxSize(4096); err != nil {
		t.Fatalf("setMaxSize: %v", err)
	}
	if _, err := b.Reserve(4096); !errors.Is(err, ErrNoSpace) {
		t.Fatalf("reserve past max = %v, want ErrNoSpace", err)
	}
	if _, err := b.Reserve(3996); err != nil {
		t.Fatalf("reserve within max: %v", err)
	}
}

func TestGrowth_WindowHintSkipsReallocs(t *testing.T) {
	b := New()
	defer b.Free()
	b.SetWindowHint(512 * 1024)

	reallocs := 0
	last := b.Alloc()
	written := 0
	chunk := make([]byte, 4096)
	for written < 1_000_000 {
		if err := b.Put(chunk); err != nil {
			t.Fatalf("put at %d: %v", written, err)
		}
		written += len(chunk)
		if b.Alloc() != last {
			reallocs++
			last = b.Alloc()
		}
	}
	if reallocs >= 20 {
		t.Fatalf("%d reallocations for 1 MB of 4 KiB appends, want < 20", reallocs)
	}
}

func TestGrowth_NoHintStillWorks(t *testing.T) {
	b := New()
	defer b.Free()

	chunk := make([]byte, 4096)
	written := 0
	for written < 1_000_000 {
		if err := b.Put(chunk); err != nil {
			t.Fatalf("put at %d: %v", written, err)
		}
		written += len(chunk)
	}
	if b.Len() != written {
		t.Fatalf("len = %d, want %d", b.Len(), written)
	}
}

func TestPack_ShiftsConsumedPrefix(t *testing.T) {
	b := New()
	defer b.Free()

	if err := b.Put(make([]byte, 64*1024)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := b.Consume(48 * 1024); err != nil {
		t.Fatalf("consume: %v", err)
	}
	// The next allocation packs: consumed prefix is over the threshold and
	// more than half the live size.
	allocBefore := b.Alloc()
	if err := b.Put(make([]byte, 8)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if b.off != 0 {
		t.Fatalf("expected packed buffer, off=%d", b.off)
	}
	if b.Alloc() != allocBefore {
		t.Fatalf("pack should have avoided realloc: %d -> %d", allocBefore, b.Alloc())
	}
}

func TestFree_Zeroises(t *testing.T) {
	b := New()
	if err := b.Put([]byte("secret keystream")); err != nil {
		t.Fatalf("put: %v", err)
	}
	backing := b.d
	b.Free()
	for i, c := range backing {
		if c != 0 {
			t.Fatalf("byte %d not zeroised: %#x", i, c)
		}
	}
}

func TestCorruption_Panics(t *testing.T) {
	b := New()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on corrupted buffer")
		}
	}()
	b.off = 10
	b.size = 5
	b.Len()
}
