// Package framebuf implements a growable byte buffer with an append
// region and a consume cursor, used for protocol record assembly and
// parsing. Buffers may be constructed as read-only views over external
// bytes, and a view can borrow a window into a parent buffer without
// owning the bytes.
package framebuf

import (
	"errors"
	"fmt"
)

const (
	// sizeInit is the capacity of a freshly created buffer; Reset shrinks
	// back toward it.
	sizeInit = 256

	// sizeInc is the growth increment: allocations are rounded up to a
	// multiple of it.
	sizeInc = 32 * 1024

	// watershed is the allocation size past which a growth request jumps
	// ahead by the window hint instead of creeping up one increment at a
	// time.
	watershed = 256 * 1024

	// packMin is the minimum consumed prefix before a non-forced pack
	// shifts the live region back to offset zero.
	packMin = 8 * 1024

	// SizeMax is the hard ceiling on buffer capacity.
	SizeMax = 0x8000000

	refsMax = 0x100000
)

var (
	// ErrReadOnly is returned by mutating operations on a read-only or
	// shared buffer.
	ErrReadOnly = errors.New("framebuf: buffer is read-only")
	// ErrNoSpace is returned when a reservation or max-size change would
	// exceed the permitted capacity.
	ErrNoSpace = errors.New("framebuf: no buffer space available")
	// ErrIncomplete is returned when a consume asks for more bytes than
	// the buffer holds.
	ErrIncomplete = errors.New("framebuf: incomplete message")
	// ErrTooLarge is returned when a view or max-size exceeds the hard
	// ceiling.
	ErrTooLarge = errors.New("framebuf: length exceeds maximum")
)

// Buffer is a single-owner growable byte queue. It is not safe for
// concurrent use.
type Buffer struct {
	d          []byte // backing region, len(d) == allocated capacity
	off        int    // consume offset
	size       int    // live-size watermark
	maxSize    int
	windowHint int
	readonly   bool
	refcount   int
	parent     *Buffer
	freed      bool
}

// New returns an empty mutable buffer with the default capacity.
func New() *Buffer {
	return &Buffer{
		d:        make([]byte, sizeInit),
		maxSize:  SizeMax,
		refcount: 1,
	}
}

// NewReadOnly returns a read-only buffer over the given bytes. The bytes
// are not copied and are never freed or mutated by the buffer.
func NewReadOnly(blob []byte) (*Buffer, error) {
	if blob == nil {
		return nil, errors.New("framebuf: nil blob")
	}
	if len(blob) > SizeMax {
		return nil, ErrTooLarge
	}
	return &Buffer{
		d:        blob,
		size:     len(blob),
		maxSize:  len(blob),
		readonly: true,
		refcount: 1,
	}, nil
}

// View returns a read-only child buffer over the live region of buf.
// The child holds a reference on buf for its lifetime.
func View(buf *Buffer) (*Buffer, error) {
	buf.sanity()
	child, err := NewReadOnly(buf.Bytes())
	if err != nil {
		return nil, err
	}
	if err := child.SetParent(buf); err != nil {
		child.Free()
		return nil, err
	}
	return child, nil
}

// SetParent records parent as the owner of the bytes underlying child
// and extends the parent's refcount by one.
func (b *Buffer) SetParent(parent *Buffer) error {
	b.sanity()
	parent.sanity()
	b.parent = parent
	parent.refcount++
	return nil
}

// Free releases the buffer. Owned bytes are zeroised. A parent with
// live children is retained until the last child is freed; freeing the
// last child drops the parent's hold.
func (b *Buffer) Free() {
	if b == nil || b.freed {
		return
	}
	b.sanity()
	b.refcount--
	if b.refcount > 0 {
		return
	}
	b.parent.Free()
	b.parent = nil
	if !b.readonly {
		clear(b.d)
	}
	b.d = nil
	b.off = 0
	b.size = 0
	b.freed = true
}

// Reset clears the contents and shrinks the backing region toward the
// default capacity. On read-only or shared buffers it only makes the
// buffer appear empty.
func (b *Buffer) Reset() {
	if b.readonly || b.refcount > 1 {
		b.off = b.size
		return
	}
	b.sanity()
	b.off = 0
	b.size = 0
	if len(b.d) != sizeInit {
		b.d = make([]byte, sizeInit)
	}
	clear(b.d)
}

// SetMaxSize bounds future growth by maxSize and may shrink the backing
// region. It fails on read-only or shared buffers, when maxSize exceeds
// the hard ceiling, or when the live contents no longer fit.
func (b *Buffer) SetMaxSize(maxSize int) error {
	b.sanity()
	if maxSize == b.maxSize {
		return nil
	}
	if b.readonly || b.refcount > 1 {
		return ErrReadOnly
	}
	if maxSize > SizeMax {
		return ErrNoSpace
	}
	b.maybePack(maxSize < b.size)
	if maxSize < len(b.d) && maxSize > b.size {
		rlen := sizeInit
		if b.size >= sizeInit {
			rlen = roundup(b.size, sizeInc)
		}
		if rlen > maxSize {
			rlen = maxSize
		}
		b.realloc(rlen)
	}
	if maxSize < len(b.d) {
		return ErrNoSpace
	}
	b.maxSize = maxSize
	return nil
}

// SetWindowHint records an advisory growth target. When a growth request
// would carry the allocation past the watershed and the current capacity
// is below the hint, the allocation jumps to the current capacity plus
// the hint. A hint of zero disables the jump.
func (b *Buffer) SetWindowHint(n int) {
	if n < 0 {
		n = 0
	}
	b.windowHint = n
}

// Len returns the number of unconsumed bytes.
func (b *Buffer) Len() int {
	b.sanity()
	return b.size - b.off
}

// Avail returns the number of bytes that may still be appended before
// the max capacity is reached. Read-only and shared buffers have none.
func (b *Buffer) Avail() int {
	b.sanity()
	if b.readonly || b.refcount > 1 {
		return 0
	}
	return b.maxSize - (b.size - b.off)
}

// Bytes returns the unconsumed live region. The slice aliases the
// backing region and is invalidated by any mutating operation.
func (b *Buffer) Bytes() []byte {
	b.sanity()
	return b.d[b.off:b.size]
}

// Mutable returns the unconsumed live region for in-place mutation, or
// nil when the buffer is read-only or shared.
func (b *Buffer) Mutable() []byte {
	b.sanity()
	if b.readonly || b.refcount > 1 {
		return nil
	}
	return b.d[b.off:b.size]
}

// MaxSize returns the maximum permitted capacity.
func (b *Buffer) MaxSize() int { return b.maxSize }

// Alloc returns the current allocated capacity.
func (b *Buffer) Alloc() int { return len(b.d) }

// Refcount returns the buffer's shared-reference count.
func (b *Buffer) Refcount() int { return b.refcount }

// Parent returns the parent buffer, if any.
func (b *Buffer) Parent() *Buffer { return b.parent }

// Reserve appends n bytes to the live region and returns the freshly
// appended window for the caller to fill.
func (b *Buffer) Reserve(n int) ([]byte, error) {
	if err := b.allocate(n); err != nil {
		return nil, err
	}
	p := b.d[b.size : b.size+n]
	b.size += n
	return p, nil
}

// Put appends a copy of p to the buffer.
func (b *Buffer) Put(p []byte) error {
	dst, err := b.Reserve(len(p))
	if err != nil {
		return err
	}
	copy(dst, p)
	return nil
}

// PutByte appends a single byte.
func (b *Buffer) PutByte(c byte) error {
	dst, err := b.Reserve(1)
	if err != nil {
		return err
	}
	dst[0] = c
	return nil
}

// PutString appends the bytes of s.
func (b *Buffer) PutString(s string) error {
	dst, err := b.Reserve(len(s))
	if err != nil {
		return err
	}
	copy(dst, s)
	return nil
}

// Consume advances the consume cursor by n bytes. Consuming the final
// byte collapses the buffer back to offset zero.
func (b *Buffer) Consume(n int) error {
	b.sanity()
	if n == 0 {
		return nil
	}
	if n < 0 || n > b.Len() {
		return ErrIncomplete
	}
	b.off += n
	if b.off == b.size {
		b.off = 0
		b.size = 0
	}
	return nil
}

// ConsumeEnd shrinks the live region by n bytes from the tail.
func (b *Buffer) ConsumeEnd(n int) error {
	b.sanity()
	if n == 0 {
		return nil
	}
	if n < 0 || n > b.Len() {
		return ErrIncomplete
	}
	b.size -= n
	return nil
}

// checkReserve reports whether n more bytes may be appended.
func (b *Buffer) checkReserve(n int) error {
	b.sanity()
	if b.readonly || b.refcount > 1 {
		return ErrReadOnly
	}
	if n < 0 || n > b.maxSize || b.maxSize-n < b.size-b.off {
		return ErrNoSpace
	}
	return nil
}

// allocate grows the backing region so that n more bytes fit. Growth
// rounds up to the fixed increment, except that a request carrying the
// allocation past the watershed while a window hint is set and not yet
// reached grows by the whole hint at once (current capacity plus the
// hint, rounded up), clamped to the max capacity.
func (b *Buffer) allocate(n int) error {
	if err := b.checkReserve(n); err != nil {
		return err
	}
	b.maybePack(b.size+n > b.maxSize)
	if n+b.size <= len(b.d) {
		return nil
	}
	need := n + b.size - len(b.d)
	rlen := roundup(len(b.d)+need, sizeInc)
	if rlen > watershed && b.windowHint != 0 && len(b.d) < b.windowHint {
		need = b.windowHint
		rlen = roundup(len(b.d)+need, sizeInc)
		if rlen > b.maxSize {
			rlen = b.maxSize
		}
	}
	if rlen > b.maxSize {
		rlen = len(b.d) + need
	}
	b.realloc(rlen)
	return b.checkReserve(n)
}

// maybePack shifts the live region to offset zero when forced, or when
// the consumed prefix is both above the pack threshold and at least half
// the live-size. Shared and read-only buffers are never packed.
func (b *Buffer) maybePack(force bool) {
	if b.off == 0 || b.readonly || b.refcount > 1 {
		return
	}
	if force || (b.off >= packMin && b.off >= b.size/2) {
		copy(b.d, b.d[b.off:b.size])
		b.size -= b.off
		b.off = 0
	}
}

// realloc moves the contents into a fresh region of rlen bytes and
// zeroises the old one.
func (b *Buffer) realloc(rlen int) {
	nd := make([]byte, rlen)
	copy(nd, b.d[:b.size])
	clear(b.d)
	b.d = nd
}

// sanity validates the buffer invariants. Corruption is not recoverable;
// the process is aborted rather than letting a scrambled buffer leak
// protocol bytes.
func (b *Buffer) sanity() {
	if b == nil {
		panic("framebuf: nil buffer")
	}
	if b.freed || b.d == nil ||
		b.refcount < 1 || b.refcount > refsMax ||
		b.maxSize > SizeMax ||
		(!b.readonly && len(b.d) > b.maxSize) ||
		b.size > len(b.d) ||
		b.off > b.size {
		panic(fmt.Sprintf("framebuf: corrupt buffer state (off=%d size=%d alloc=%d max=%d refs=%d)",
			b.off, b.size, len(b.d), b.maxSize, b.refcount))
	}
}

func roundup(x, y int) int {
	return ((x + y - 1) / y) * y
}
