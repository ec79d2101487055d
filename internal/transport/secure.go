package transport

import (
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"

	"github.com/hpnlabs/hpnscp/internal/ctrstream"
)

// Secure wraps a pair with AES-CTR in both directions, keyed from a
// pre-shared secret. Each direction gets its own keystream engine and a
// distinct derived IV, so the two byte flows never share counter space.
// The accepting side of a connection passes accept=true to take the
// mirrored direction assignment. Used by the direct transports, where
// no secure-channel program sits underneath the streams.
func Secure(p Pair, psk []byte, accept bool) (Pair, error) {
	if len(psk) == 0 {
		return nil, fmt.Errorf("transport: empty pre-shared key")
	}

	keyMat := blake2b.Sum512(psk)
	key := keyMat[:32]
	ivA := blake2b.Sum256(append([]byte("hpnscp-iv-a"), psk...))
	ivB := blake2b.Sum256(append([]byte("hpnscp-iv-b"), psk...))

	ivOut, ivIn := ivA, ivB
	if accept {
		ivOut, ivIn = ivB, ivA
	}

	outEngine := ctrstream.New()
	if err := outEngine.Init(key, ivOut[:ctrstream.BlockSize]); err != nil {
		return nil, err
	}
	inEngine := ctrstream.New()
	if err := inEngine.Init(key, ivIn[:ctrstream.BlockSize]); err != nil {
		outEngine.Stop()
		return nil, err
	}

	r := &xorReader{r: p.Reader(), st: ctrstream.NewStream(inEngine)}
	w := &xorWriter{w: p.Writer(), st: ctrstream.NewStream(outEngine)}

	return NewPair(r, w,
		func() error {
			err := p.Close()
			outEngine.Stop()
			inEngine.Stop()
			return err
		},
		p.Wait), nil
}

type xorReader struct {
	r  io.Reader
	st *ctrstream.Stream
}

func (x *xorReader) Read(p []byte) (int, error) {
	n, err := x.r.Read(p)
	if n > 0 {
		x.st.XORKeyStream(p[:n], p[:n])
	}
	return n, err
}

type xorWriter struct {
	w   io.Writer
	st  *ctrstream.Stream
	buf []byte
}

func (x *xorWriter) Write(p []byte) (int, error) {
	if cap(x.buf) < len(p) {
		x.buf = make([]byte, len(p))
	}
	x.buf = x.buf[:len(p)]
	x.st.XORKeyStream(x.buf, p)
	n, err := x.w.Write(x.buf)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	return n, err
}
