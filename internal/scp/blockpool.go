package scp

import "sync"

// blockPool recycles the copy-loop I/O blocks, so a long recursive
// transfer does not allocate a fresh buffer for every file record.
// Every block is exactly copyBufLen bytes, the wire body block size the
// bandwidth limiter's bucket is also tied to.
type blockPool struct {
	pool sync.Pool
}

func newBlockPool() *blockPool {
	return &blockPool{
		pool: sync.Pool{
			New: func() any {
				return make([]byte, copyBufLen)
			},
		},
	}
}

// get returns a copy block. The caller must hand it back with put once
// the file body is done; blocks may carry stale bytes from a previous
// file, so copy loops must never read past what they just filled.
func (p *blockPool) get() []byte {
	return p.pool.Get().([]byte)[:copyBufLen]
}

// put returns a block for reuse. Foreign slices that cannot serve a
// full copy block are dropped.
func (p *blockPool) put(buf []byte) {
	if cap(buf) < copyBufLen {
		return
	}
	p.pool.Put(buf[:cap(buf)])
}
