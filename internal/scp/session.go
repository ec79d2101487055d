// Package scp drives the legacy line-oriented copy protocol across a
// pair of peer byte streams, preserving full wire compatibility with
// stock peers, with an opt-in resume mode that negotiates partial-file
// continuation using a BLAKE2b prefix hash.
package scp

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"github.com/hpnlabs/hpnscp/internal/config"
	"github.com/hpnlabs/hpnscp/internal/framebuf"
	"github.com/hpnlabs/hpnscp/internal/progress"
)

const (
	// HashLen is the length of the hex prefix hash carried by resume-mode
	// records: a BLAKE2b-512 digest rendered as lowercase hex.
	HashLen = 128

	// BufAndHash is the fixed envelope size for resume-mode out-of-band
	// records; the wire carries BufAndHash-1 bytes so that both ends read
	// a predictable amount and stay in sync.
	BufAndHash = HashLen + 64

	// copyBufLen is the I/O block size for file bodies.
	copyBufLen = 16384

	// hashBufLen is the read size used while hashing file prefixes.
	hashBufLen = 8192

	// maxRecordLen bounds a single control record.
	maxRecordLen = 16384

	// fileModeMask keeps the permission and setuid/setgid bits of a mode.
	fileModeMask = 0o6777
)

// FatalError aborts the session; the driver exits with status 1.
type FatalError struct {
	Why string
}

func (e *FatalError) Error() string { return e.Why }

// Session holds the state of one copy invocation over a peer stream
// pair. It is single-threaded: all calls happen from the driving
// goroutine.
type Session struct {
	cfg    config.Session
	in     io.Reader
	out    io.Writer
	logger *slog.Logger

	render  *progress.Renderer
	limiter *bwLimiter
	pool    *blockPool

	rbuf *framebuf.Buffer // inbound record assembly
	wbuf *framebuf.Buffer // outbound record assembly

	errs        int
	deferred    error  // first noted error, surfaced at end of file
	deferredFor string // path the deferred error belongs to
	curFile     string

	interrupted atomic.Bool
}

// NewSession builds a session over the given peer streams. in carries
// bytes from the peer, out carries bytes to it.
func NewSession(cfg config.Session, in io.Reader, out io.Writer, logger *slog.Logger) *Session {
	s := &Session{
		cfg:    cfg,
		in:     in,
		out:    out,
		logger: logger,
		pool:   newBlockPool(),
		rbuf:   framebuf.New(),
		wbuf:   framebuf.New(),
	}
	if cfg.WindowHint > 0 {
		s.rbuf.SetWindowHint(cfg.WindowHint)
		s.wbuf.SetWindowHint(cfg.WindowHint)
	}
	if cfg.LimitKbps > 0 {
		s.limiter = newBWLimiter(cfg.LimitKbps, copyBufLen)
	}
	if !cfg.Quiet && !cfg.Remote {
		s.render = progress.NewRenderer(os.Stderr)
	}
	return s
}

// Errors returns the count of non-fatal errors noted during the session.
func (s *Session) Errors() int { return s.errs }

// Interrupt marks the session interrupted; copy loops poll the flag at
// I/O boundaries and abort.
func (s *Session) Interrupt() { s.interrupted.Store(true) }

func (s *Session) checkInterrupted() error {
	if s.interrupted.Load() {
		return &FatalError{Why: "interrupted"}
	}
	return nil
}

// runErr reports a non-fatal per-file error to the peer (0x01-prefixed)
// and to the local user, and bumps the error count.
func (s *Session) runErr(format string, args ...any) {
	s.errs++
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(s.out, "\x01hpnscp: %s\n", msg)
	if !s.cfg.Remote {
		fmt.Fprintf(os.Stderr, "hpnscp: %s\n", msg)
	}
	s.logger.Debug("transfer error", "error", msg)
}

// fatal reports a fatal condition to the peer (0x02-prefixed) and
// returns the error that unwinds the session.
func (s *Session) fatal(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(s.out, "\x02hpnscp: %s\n", msg)
	if !s.cfg.Remote {
		fmt.Fprintf(os.Stderr, "hpnscp: %s\n", msg)
	}
	return &FatalError{Why: msg}
}

// noteErr records the first error for the current file. The per-file
// epilogue surfaces exactly one error to the peer even when several
// operations failed.
func (s *Session) noteErr(path string, err error) {
	if s.deferred == nil {
		s.deferred = err
		s.deferredFor = path
	}
}

// flushNoteErr surfaces a deferred error, if any, and reports whether
// one was pending.
func (s *Session) flushNoteErr() bool {
	if s.deferred == nil {
		return false
	}
	s.runErr("%s: %v", s.deferredFor, s.deferred)
	s.deferred = nil
	s.deferredFor = ""
	return true
}

// ack sends the single-byte OK reply.
func (s *Session) ack() error {
	if _, err := s.out.Write([]byte{0}); err != nil {
		return &FatalError{Why: "lost connection"}
	}
	return nil
}

// response consumes the peer's reply to the last record or body: a
// 0x00 OK, a 0x01 non-fatal error line, or a 0x02 fatal error line.
// Non-fatal replies are counted and reported through errResponse.
var errResponse = fmt.Errorf("scp: peer reported error")

func (s *Session) response() error {
	b, err := s.readByte()
	if err != nil {
		return &FatalError{Why: "lost connection"}
	}
	switch b {
	case 0:
		return nil
	case 1, 2:
		msg, err := s.readLineRaw()
		if err != nil {
			return &FatalError{Why: "lost connection"}
		}
		if !s.cfg.Remote {
			fmt.Fprintf(os.Stderr, "%s\n", strings.TrimRight(msg, "\n"))
		}
		if b == 2 {
			return &FatalError{Why: msg}
		}
		s.errs++
		return errResponse
	default:
		// Not a reply byte at all; the stream is out of step.
		return s.fatal("protocol error: unexpected reply %#x", b)
	}
}

func (s *Session) readByte() (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(s.in, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// readLineRaw reads bytes up to and including a newline, returning the
// line without the terminator.
func (s *Session) readLineRaw() (string, error) {
	s.rbuf.Reset()
	for {
		p, err := s.rbuf.Reserve(1)
		if err != nil {
			return "", err
		}
		if _, err := io.ReadFull(s.in, p); err != nil {
			return "", err
		}
		if p[0] == '\n' {
			if err := s.rbuf.ConsumeEnd(1); err != nil {
				return "", err
			}
			break
		}
		if s.rbuf.Len() >= maxRecordLen {
			return "", fmt.Errorf("scp: record too long")
		}
	}
	return string(s.rbuf.Bytes()), nil
}

// writeString marshals a record through the outbound buffer and flushes
// it to the peer in one write.
func (s *Session) writeString(rec string) error {
	s.wbuf.Reset()
	if err := s.wbuf.PutString(rec); err != nil {
		return err
	}
	if _, err := s.out.Write(s.wbuf.Bytes()); err != nil {
		return &FatalError{Why: "lost connection"}
	}
	return nil
}

// writeEnvelope writes a resume-mode out-of-band record padded with
// spaces to the fixed envelope length, so a peer reading a fixed number
// of bytes stays in sync.
func (s *Session) writeEnvelope(payload string) error {
	s.wbuf.Reset()
	p, err := s.wbuf.Reserve(BufAndHash - 1)
	if err != nil {
		return err
	}
	for i := range p {
		p[i] = ' '
	}
	copy(p, payload)
	if _, err := s.out.Write(s.wbuf.Bytes()); err != nil {
		return &FatalError{Why: "lost connection"}
	}
	return nil
}

// readEnvelope reads a fixed-size resume-mode record from the peer.
func (s *Session) readEnvelope() (string, error) {
	buf := make([]byte, BufAndHash-1)
	if _, err := io.ReadFull(s.in, buf); err != nil {
		return "", &FatalError{Why: "lost connection"}
	}
	return string(buf), nil
}
