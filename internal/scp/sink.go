package scp

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
)

// Sink receives files from the peer into targ. srcPattern, when
// non-empty and the session is not recursive, restricts incoming
// basenames to names matching the requested pattern after brace
// expansion.
func (s *Session) Sink(targ, srcPattern string) error {
	mask := setUmask(0)
	if !s.cfg.PreserveTimes {
		// Without -p incoming modes are filtered through the local umask,
		// so put it back. With -p the zero umask lets exact modes through.
		setUmask(mask)
	}

	if s.cfg.TargetIsDir {
		fi, err := os.Stat(targ)
		if err != nil || !fi.IsDir() {
			return s.fatal("%s: not a directory", targ)
		}
	}

	var patterns []string
	if srcPattern != "" && !s.cfg.Recursive {
		var err error
		if patterns, err = braceExpand(srcPattern); err != nil {
			return s.fatal("could not expand pattern %q", srcPattern)
		}
	}

	return s.sinkLoop(targ, patterns, mask)
}

// sinkLoop processes one level of the record stream: files and
// directory enter/leave records until E or end of stream. Directory
// records recurse.
func (s *Session) sinkLoop(targ string, patterns []string, mask uint32) error {
	if err := s.ack(); err != nil {
		return err
	}

	targIsDir := false
	if fi, err := os.Stat(targ); err == nil && fi.IsDir() {
		targIsDir = true
	}

	var pendingTimes *timesRecord

	for first := true; ; first = false {
		lead, err := s.readByte()
		if err != nil {
			return nil // end of stream
		}
		if lead == '\n' {
			return s.fatal("protocol error: unexpected <newline>")
		}

		rest, err := s.readLineRaw()
		if err != nil {
			return &FatalError{Why: "lost connection"}
		}
		line := string(lead) + rest

		switch lead {
		case 0x01, 0x02:
			msg := line[1:]
			if !s.cfg.Remote {
				fmt.Fprintf(os.Stderr, "%s\n", msg)
			}
			if lead == 0x02 {
				return &FatalError{Why: msg}
			}
			s.errs++
			continue

		case 'E':
			return s.ack()

		case 'T':
			tr, terr := parseTimes(line)
			if terr != nil {
				return s.fatal("protocol error: %v", terr)
			}
			pendingTimes = &tr
			if err := s.ack(); err != nil {
				return err
			}
			continue
		}

		if lead != 'C' && lead != 'D' {
			// A remote shell may emit noise like "No match." before the
			// peer program even starts; surface it verbatim once.
			if first {
				return s.fatal("%s", line)
			}
			return s.fatal("protocol error: expected control record")
		}

		rec, perr := parseControl(line, s.cfg.Resume)
		if perr != nil {
			return s.fatal("protocol error: %v", perr)
		}
		if len(patterns) > 0 && !matchAny(patterns, rec.name) {
			return s.fatal("protocol error: filename does not match request")
		}

		mode := rec.mode
		if !s.cfg.PreserveTimes {
			mode &^= fs.FileMode(mask & 0o777)
		}

		np := targ
		if targIsDir {
			np = filepath.Join(targ, rec.name)
		}
		s.curFile = rec.name

		times := pendingTimes
		pendingTimes = nil

		if rec.dir {
			if err := s.receiveDir(np, mode, times, mask); err != nil {
				return err
			}
			continue
		}

		if err := s.receiveFile(np, rec, mode, times); err != nil {
			return err
		}
	}
}

// receiveDir handles a D record: create or validate the directory,
// recurse for its contents, then apply mode and times.
func (s *Session) receiveDir(np string, mode fs.FileMode, times *timesRecord, mask uint32) error {
	if !s.cfg.Recursive {
		return s.fatal("protocol error: received directory without -r")
	}

	// On failure the error record doubles as the negative ack for the D
	// record, so the sender will not descend into the directory.
	modFlag := s.cfg.PreserveTimes
	if fi, err := os.Stat(np); err == nil {
		if !fi.IsDir() {
			s.runErr("%s: not a directory", np)
			return nil
		}
		if s.cfg.PreserveTimes {
			if err := os.Chmod(np, mode); err != nil {
				s.logger.Debug("chmod failed", "path", np, "error", err)
			}
		}
	} else {
		// Grant owner-write while populating a freshly created directory;
		// the real mode is applied after the recursion.
		modFlag = true
		if err := os.Mkdir(np, mode|0o700); err != nil {
			s.runErr("%s: %v", np, err)
			return nil
		}
	}

	if err := s.sinkLoop(np, nil, mask); err != nil {
		return err
	}
	if times != nil && times.valid {
		if err := os.Chtimes(np, times.atime, times.mtime); err != nil {
			s.logger.Debug("set times failed", "path", np, "error", err)
		}
	}
	if modFlag {
		if err := os.Chmod(np, mode); err != nil {
			s.logger.Debug("chmod failed", "path", np, "error", err)
		}
	}
	return nil
}

// receiveFile handles a C record through to the final ack.
func (s *Session) receiveFile(np string, rec controlRecord, mode fs.FileMode, times *timesRecord) error {
	omode := mode
	mode |= 0o200

	exists := false
	existsRegular := false
	if fi, err := os.Stat(np); err == nil {
		exists = true
		existsRegular = fi.Mode().IsRegular()
	}

	xfer := rec.size
	npTmp := ""
	badMatch := false

	if s.cfg.Resume {
		res, err := s.negotiateSinkResume(np, rec)
		if err != nil {
			return err
		}
		if res.skip {
			return nil
		}
		xfer = res.xfer
		npTmp = res.npTmp
		np = res.np
		badMatch = res.badMatch
	}

	var ofd *os.File
	var oerr error
	ofd, oerr = os.OpenFile(np, os.O_WRONLY|os.O_CREATE, mode)
	if oerr != nil {
		if !s.cfg.Resume {
			// The error record replaces the ack, so the sender skips the
			// body entirely.
			s.runErr("%s: %v", np, oerr)
			return nil
		}
		// In resume mode the ack and match exchange already happened and
		// the body is committed; note the error and drain to stay in sync.
		s.noteErr(np, oerr)
	}

	if !s.cfg.Resume {
		if err := s.ack(); err != nil {
			if ofd != nil {
				ofd.Close()
			}
			return err
		}
	}

	if err := s.receiveBody(ofd, np, xfer); err != nil {
		if ofd != nil {
			ofd.Close()
		}
		return err
	}

	if s.deferred == nil && ofd != nil && (!exists || existsRegular) {
		if err := ofd.Truncate(xfer); err != nil {
			s.noteErr(np, fmt.Errorf("truncate: %w", err))
		}
	}

	// Concatenate the temporary append-side file onto the original.
	if s.cfg.Resume && npTmp != "" && !badMatch {
		if ofd != nil {
			ofd.Close()
			ofd = nil
		}
		if err := appendFile(npTmp, np); err != nil {
			s.noteErr(np, err)
		}
		os.Remove(np)
		np = npTmp
		if s.deferred == nil {
			var err error
			if ofd, err = os.OpenFile(np, os.O_WRONLY, 0); err != nil {
				s.noteErr(np, err)
			}
		}
	}

	if ofd != nil {
		s.applyMode(ofd, np, omode, mode, exists)
		if err := ofd.Close(); err != nil {
			s.noteErr(np, fmt.Errorf("close: %w", err))
		}
	}

	// The sender's terminator for the body: OK, or its own error record.
	if err := s.response(); err != nil && !errors.Is(err, errResponse) {
		return err
	}
	if s.render != nil {
		s.render.Stop()
	}

	if times != nil && times.valid && s.deferred == nil {
		if err := os.Chtimes(np, times.atime, times.mtime); err != nil {
			s.noteErr(np, fmt.Errorf("set times: %w", err))
		}
	}

	// Exactly one deferred error, or the success ack.
	if !s.flushNoteErr() {
		return s.ack()
	}
	return nil
}

// sinkResume is the outcome of the receiver-side negotiation.
type sinkResume struct {
	skip     bool
	xfer     int64
	np       string // possibly renamed to the temporary append file
	npTmp    string // original destination when np was renamed
	badMatch bool
}

// negotiateSinkResume stats the destination, answers the sender's C
// record with the S, R, or C envelope, and reads the match byte. The
// envelope is always followed by an ack; the match byte arrives for R
// and C answers only.
func (s *Session) negotiateSinkResume(np string, rec controlRecord) (sinkResume, error) {
	res := sinkResume{xfer: rec.size, np: np}

	var npSize int64
	npMode := fs.FileMode(0)
	if fi, err := os.Stat(np); err == nil {
		npSize = fi.Size()
		npMode = fi.Mode()
		if !isWritable(np) {
			fmt.Fprintf(os.Stderr, "hpnscp: %s: permission denied\n", np)
			if err := s.writeEnvelope("S"); err != nil {
				return res, err
			}
			if err := s.ack(); err != nil {
				return res, err
			}
			res.skip = true
			return res, nil
		}
	}

	if rec.size == npSize && npSize > 0 {
		localHash := hashPrefixOrEmpty(np, npSize)
		if localHash == rec.hash {
			// Identical file; tell the sender to skip the body entirely.
			if err := s.writeEnvelope("S"); err != nil {
				return res, err
			}
			if err := s.ack(); err != nil {
				return res, err
			}
			if s.render != nil {
				fmt.Fprintf(os.Stderr, "Skipping identical file: %s\n", np)
			}
			res.skip = true
			return res, nil
		}
		payload := fmt.Sprintf("C%04o %d %s", modeToWire(npMode), npSize, localHash)
		if err := s.writeEnvelope(payload); err != nil {
			return res, err
		}
		res.badMatch = true
	}

	if npSize < rec.size || npSize == 0 {
		localHash := hashPrefixOrEmpty(np, npSize)
		payload := fmt.Sprintf("R%04o %d %s", modeToWire(npMode), npSize, localHash)
		if err := s.writeEnvelope(payload); err != nil {
			return res, err
		}
		res.xfer = rec.size - npSize
		res.npTmp = np
		res.np = np + randSuffix()
	} else if npSize > rec.size {
		payload := fmt.Sprintf("C%04o %d", modeToWire(npMode), npSize)
		if err := s.writeEnvelope(payload); err != nil {
			return res, err
		}
		res.badMatch = true
	}

	if err := s.ack(); err != nil {
		return res, err
	}

	// The sender always answers an R or C envelope with a match byte, or
	// the two sides desynchronise.
	match, err := s.readByte()
	if err != nil {
		return res, &FatalError{Why: "lost connection"}
	}
	switch match {
	case 'M':
		res.badMatch = false
	case 'F':
		res.xfer = rec.size
		res.badMatch = true
		if res.npTmp != "" {
			res.np = res.npTmp
			res.npTmp = ""
		} else {
			res.skip = true
		}
	default:
		res.xfer = rec.size
		res.badMatch = true
	}
	return res, nil
}

// receiveBody reads exactly xfer bytes from the peer, writing them to
// ofd. A local write error does not abort mid-record: the rest of the
// body is consumed so the stream stays in sync, and the error surfaces
// through the deferred slot.
func (s *Session) receiveBody(ofd *os.File, np string, xfer int64) error {
	buf := s.pool.get()
	defer s.pool.put(buf)

	if s.render != nil {
		s.render.Start(s.curFile, xfer)
	}

	for got := int64(0); got < xfer; {
		if err := s.checkInterrupted(); err != nil {
			return err
		}
		amt := int64(len(buf))
		if amt > xfer-got {
			amt = xfer - got
		}
		if _, err := io.ReadFull(s.in, buf[:amt]); err != nil {
			s.runErr("dropped connection")
			return &FatalError{Why: "dropped connection"}
		}
		if ofd != nil && s.deferred == nil {
			if _, werr := ofd.Write(buf[:amt]); werr != nil {
				s.noteErr(np, werr)
			}
		}
		got += amt
		if s.render != nil {
			s.render.Tick(int(amt))
		}
		s.limiter.limit(int(amt))
	}
	return nil
}

// applyMode applies the wire mode per the preserve semantics.
func (s *Session) applyMode(ofd *os.File, np string, omode, mode fs.FileMode, exists bool) {
	if s.cfg.PreserveTimes {
		if exists || omode != mode {
			if err := ofd.Chmod(omode); err != nil {
				s.noteErr(np, fmt.Errorf("set mode: %w", err))
			}
		}
		return
	}
	if !exists && omode != mode {
		if err := ofd.Chmod(omode); err != nil {
			s.noteErr(np, fmt.Errorf("set mode: %w", err))
		}
	}
}

// appendFile appends the contents of src onto dst.
func appendFile(dst, src string) error {
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o600)
	if err != nil {
		return fmt.Errorf("open for append: %w", err)
	}
	in, err := os.Open(src)
	if err != nil {
		out.Close()
		return fmt.Errorf("open fragment: %w", err)
	}
	_, cerr := io.Copy(out, in)
	in.Close()
	if err := out.Close(); err != nil && cerr == nil {
		cerr = err
	}
	if cerr != nil {
		return fmt.Errorf("concatenate: %w", cerr)
	}
	return nil
}

// matchAny reports whether name matches one of the shell patterns.
func matchAny(patterns []string, name string) bool {
	for _, pat := range patterns {
		if ok, err := path.Match(pat, name); err == nil && ok {
			return true
		}
	}
	return false
}
