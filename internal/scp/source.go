package scp

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Source walks the given local paths and sends each over the peer
// stream, driving the control protocol and, in resume mode, the
// prefix-hash negotiation. Non-fatal per-file failures are reported to
// the peer and counted; only protocol-level failures abort.
func (s *Session) Source(paths []string) error {
	// The receiving end opens the conversation with a ready ack.
	if err := s.response(); err != nil {
		return err
	}
	for _, name := range paths {
		if err := s.sendPath(name); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) sendPath(name string) error {
	for len(name) > 1 && strings.HasSuffix(name, "/") {
		name = name[:len(name)-1]
	}

	f, err := os.Open(name)
	if err != nil {
		s.runErr("%s: %v", name, err)
		return nil
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		s.runErr("%s: %v", name, err)
		return nil
	}

	switch {
	case fi.Mode().IsRegular():
		return s.sendFile(f, name, fi)
	case fi.IsDir():
		f.Close()
		if s.cfg.Recursive {
			return s.sendDir(name, fi)
		}
		s.runErr("%s: not a regular file", name)
		return nil
	default:
		f.Close()
		s.runErr("%s: not a regular file", name)
		return nil
	}
}

// sendFile transfers one regular file. The resume negotiation, when
// enabled, runs between the C record and the body: the receiver answers
// with a fixed-size envelope and the sender always follows up with a
// match byte for R and C answers, or skips the file entirely on S.
func (s *Session) sendFile(f *os.File, name string, fi os.FileInfo) error {
	closeOnExit := true
	defer func() {
		if closeOnExit {
			f.Close()
		}
	}()

	size := fi.Size()
	if size < 0 {
		s.runErr("%s: negative file size", name)
		return nil
	}

	var hashsum string
	if s.cfg.Resume {
		hashsum = hashPrefixOrEmpty(name, size)
	}

	last := visEncode(filepath.Base(name))
	s.curFile = last

	if s.cfg.PreserveTimes {
		if err := s.sendTimes(fi); err != nil {
			if errors.Is(err, errResponse) {
				return nil
			}
			return err
		}
	}

	var rec string
	if s.cfg.Resume {
		rec = fmt.Sprintf("C%04o %d %s %s\n", modeToWire(fi.Mode()), size, hashsum, last)
	} else {
		rec = fmt.Sprintf("C%04o %d %s\n", modeToWire(fi.Mode()), size, last)
	}
	s.logger.Debug("sending file record", "record", strings.TrimSuffix(rec, "\n"))
	if err := s.writeString(rec); err != nil {
		return err
	}

	var envelope string
	if s.cfg.Resume {
		var err error
		if envelope, err = s.readEnvelope(); err != nil {
			return err
		}
	}
	if err := s.response(); err != nil {
		if errors.Is(err, errResponse) {
			return nil
		}
		return err
	}

	xfer := size
	if s.cfg.Resume {
		skip, newXfer, err := s.negotiateResume(f, name, size, envelope)
		if err != nil || skip {
			return err
		}
		xfer = newXfer
	}

	// sendBody owns the descriptor from here; its close result feeds the
	// file terminator.
	closeOnExit = false
	return s.sendBody(f, name, xfer)
}

// negotiateResume interprets the receiver's envelope. It reports
// whether the file should be skipped outright and, otherwise, how many
// bytes of it remain to send (the file offset is positioned past any
// agreed prefix). The match byte is sent for R and C envelopes; an S
// envelope ends the exchange with no further bytes.
func (s *Session) negotiateResume(f *os.File, name string, size int64, envelope string) (skip bool, xfer int64, err error) {
	xfer = size
	match := byte(0)

	switch {
	case strings.HasPrefix(envelope, "S"):
		s.logger.Debug("peer skipped identical file", "name", name)
		return true, 0, nil

	case strings.HasPrefix(envelope, "R"):
		p := envelope[1:]
		if len(p) < 5 {
			return false, 0, s.fatal("protocol error: short resume record")
		}
		p = p[5:] // mode and its delimiter carry no meaning for the sender
		insize, rest, derr := parseDecimal(p)
		if derr != nil {
			return false, 0, s.fatal("protocol error: resume size %v", derr)
		}
		if len(rest) < HashLen {
			return false, 0, s.fatal("protocol error: short resume hash")
		}
		inHash := rest[:HashLen]

		testHash := hashPrefixOrEmpty(name, insize)
		if insize <= size && inHash == testHash {
			// The destination really is a prefix of this file; send only
			// the suffix.
			if _, serr := f.Seek(insize, io.SeekStart); serr != nil {
				s.runErr("%s: %v", name, serr)
				match = 'F'
			} else {
				xfer = size - insize
				match = 'M'
			}
		} else {
			match = 'F'
		}

	case strings.HasPrefix(envelope, "C"):
		// Receiver wants the whole file again.
		xfer = size

	default:
		return false, 0, s.fatal("protocol error: unexpected resume record %q", envelope[:1])
	}

	if err := s.writeMatch(match); err != nil {
		return false, 0, err
	}
	return false, xfer, nil
}

// writeMatch sends the one-byte match indicator. It is always sent when
// an R or C envelope was received, or the two sides desynchronise.
func (s *Session) writeMatch(match byte) error {
	if _, err := s.out.Write([]byte{match}); err != nil {
		return &FatalError{Why: "lost connection"}
	}
	return nil
}

// sendBody streams exactly xfer bytes of f, then the success terminator
// or an error record. A local read error does not abort mid-body: the
// remainder is zero-filled so the peer stays in sync.
func (s *Session) sendBody(f *os.File, name string, xfer int64) error {
	buf := s.pool.get()
	defer s.pool.put(buf)

	if s.render != nil {
		s.render.Start(s.curFile, xfer)
	}

	var haderr error
	for sent := int64(0); sent < xfer; {
		if err := s.checkInterrupted(); err != nil {
			return err
		}
		amt := int64(len(buf))
		if amt > xfer-sent {
			amt = xfer - sent
		}
		if haderr == nil {
			n, rerr := io.ReadFull(f, buf[:amt])
			if rerr != nil {
				haderr = rerr
				for i := n; i < int(amt); i++ {
					buf[i] = 0
				}
			}
		} else {
			for i := range buf[:amt] {
				buf[i] = 0
			}
		}
		// Keep writing after a read error to retain stream sync.
		if _, werr := s.out.Write(buf[:amt]); werr != nil {
			return &FatalError{Why: "lost connection"}
		}
		sent += amt
		if s.render != nil {
			s.render.Tick(int(amt))
		}
		s.limiter.limit(int(amt))
	}

	cerr := f.Close()
	f = nil
	if haderr == nil && cerr != nil {
		haderr = cerr
	}

	if haderr == nil {
		if err := s.ack(); err != nil {
			return err
		}
	} else {
		s.runErr("%s: %v", name, haderr)
	}

	err := s.response()
	if s.render != nil {
		s.render.Stop()
	}
	if err != nil && !errors.Is(err, errResponse) {
		return err
	}
	return nil
}

// sendDir recurses into a directory: a D record, the contents, then E.
func (s *Session) sendDir(name string, fi os.FileInfo) error {
	entries, err := os.ReadDir(name)
	if err != nil {
		s.runErr("%s: %v", name, err)
		return nil
	}

	if s.cfg.PreserveTimes {
		if err := s.sendTimes(fi); err != nil {
			if errors.Is(err, errResponse) {
				return nil
			}
			return err
		}
	}

	last := visEncode(filepath.Base(strings.TrimRight(name, "/")))
	rec := fmt.Sprintf("D%04o %d %s\n", modeToWire(fi.Mode()), 0, last)
	s.logger.Debug("entering directory", "record", strings.TrimSuffix(rec, "\n"))
	if err := s.writeString(rec); err != nil {
		return err
	}
	if err := s.response(); err != nil {
		if errors.Is(err, errResponse) {
			return nil
		}
		return err
	}

	for _, ent := range entries {
		if len(name)+1+len(ent.Name()) >= maxRecordLen {
			s.runErr("%s/%s: name too long", name, ent.Name())
			continue
		}
		if err := s.sendPath(filepath.Join(name, ent.Name())); err != nil {
			return err
		}
	}

	if err := s.writeString("E\n"); err != nil {
		return err
	}
	if err := s.response(); err != nil && !errors.Is(err, errResponse) {
		return err
	}
	return nil
}

// sendTimes emits a T record for the upcoming file or directory and
// waits for the ack.
func (s *Session) sendTimes(fi os.FileInfo) error {
	mtime := fi.ModTime().Unix()
	if mtime < 0 {
		mtime = 0
	}
	atime := accessTimeSec(fi)
	if atime < 0 {
		atime = 0
	}
	rec := fmt.Sprintf("T%d 0 %d 0\n", mtime, atime)
	if err := s.writeString(rec); err != nil {
		return err
	}
	return s.response()
}
