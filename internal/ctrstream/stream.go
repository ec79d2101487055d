package ctrstream

import "crypto/cipher"

// Stream adapts an Engine to crypto/cipher.Stream for callers that need
// arbitrary-length XOR (the engine itself is block-strict). A partial
// tail block's leftover keystream is buffered and consumed first on the
// next call, so the keystream stays contiguous across calls.
type Stream struct {
	e    *Engine
	ks   [BlockSize]byte
	used int // bytes of ks already consumed; BlockSize means none buffered
}

var _ cipher.Stream = (*Stream)(nil)

// NewStream wraps an initialised engine. The engine must not be used
// through any other consumer while the stream is live.
func NewStream(e *Engine) *Stream {
	return &Stream{e: e, used: BlockSize}
}

// XORKeyStream XORs src into dst. dst and src must overlap entirely or
// not at all, and len(dst) >= len(src).
func (s *Stream) XORKeyStream(dst, src []byte) {
	// Drain buffered keystream from the previous partial block.
	for s.used < BlockSize && len(src) > 0 {
		dst[0] = src[0] ^ s.ks[s.used]
		s.used++
		dst = dst[1:]
		src = src[1:]
	}
	if len(src) == 0 {
		return
	}

	n := len(src) / BlockSize * BlockSize
	if n > 0 {
		if err := s.e.Process(dst[:n], src[:n]); err != nil {
			panic(err)
		}
		dst = dst[n:]
		src = src[n:]
	}
	if len(src) == 0 {
		return
	}

	// Pull one keystream block by processing zeros, use what we need and
	// keep the remainder buffered for the next call.
	var zero [BlockSize]byte
	if err := s.e.Process(s.ks[:], zero[:]); err != nil {
		panic(err)
	}
	for i := range src {
		dst[i] = src[i] ^ s.ks[i]
	}
	s.used = len(src)
}
