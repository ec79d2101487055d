// Package transport establishes the peer stream pair the copy protocol
// runs over: a writable stream to the peer and a readable stream from
// it. The protocol driver does not care which transport carries the
// pair; providers exist for a spawned secure-channel subprocess, direct
// QUIC, and direct WebSocket.
package transport

import "io"

// Pair is an established bidirectional path to the peer.
type Pair interface {
	// Reader yields bytes sent by the peer.
	Reader() io.Reader
	// Writer carries bytes to the peer.
	Writer() io.Writer
	// Close tears the path down.
	Close() error
	// Wait blocks until the peer side has finished and reports whether it
	// succeeded. For subprocess transports this is the child's exit
	// status; network transports report success once closed cleanly.
	Wait() error
}

// ioPair is a Pair over plain reader/writer halves.
type ioPair struct {
	r     io.Reader
	w     io.Writer
	close func() error
	wait  func() error
}

func (p *ioPair) Reader() io.Reader { return p.r }
func (p *ioPair) Writer() io.Writer { return p.w }

func (p *ioPair) Close() error {
	if p.close == nil {
		return nil
	}
	return p.close()
}

func (p *ioPair) Wait() error {
	if p.wait == nil {
		return nil
	}
	return p.wait()
}

// NewPair wraps pre-established stream halves as a Pair. close and wait
// may be nil.
func NewPair(r io.Reader, w io.Writer, close, wait func() error) Pair {
	return &ioPair{r: r, w: w, close: close, wait: wait}
}
