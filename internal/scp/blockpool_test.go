package scp

import "testing"

func TestBlockPool_BlocksAreCopySized(t *testing.T) {
	p := newBlockPool()
	buf := p.get()
	if len(buf) != copyBufLen {
		t.Fatalf("block = %d bytes, want %d", len(buf), copyBufLen)
	}
	buf[0] = 0xAA
	p.put(buf)

	again := p.get()
	if len(again) != copyBufLen {
		t.Fatalf("reused block = %d bytes", len(again))
	}
}

func TestBlockPool_DropsUndersized(t *testing.T) {
	p := newBlockPool()
	p.put(make([]byte, 16)) // dropped, never handed back out
	if got := p.get(); len(got) != copyBufLen {
		t.Fatalf("block = %d bytes, want %d", len(got), copyBufLen)
	}
}
