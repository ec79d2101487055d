package scp

import (
	"fmt"
	"io/fs"
	"strings"
	"time"
)

// controlRecord is a parsed C or D record.
type controlRecord struct {
	dir  bool
	mode fs.FileMode
	size int64
	hash string // resume mode only, empty otherwise
	name string
}

// parseControl parses the body of a C or D record (after the leading
// letter has been inspected but with it still present in line). In
// resume mode regular-file records carry a fixed-length hex hash field
// between the size and the name.
func parseControl(line string, resume bool) (controlRecord, error) {
	var rec controlRecord
	if len(line) == 0 {
		return rec, fmt.Errorf("empty control record")
	}
	rec.dir = line[0] == 'D'

	p := line[1:]
	if len(p) < 5 {
		return rec, fmt.Errorf("truncated control record")
	}
	mode, rest, err := parseOctalMode(p)
	if err != nil {
		return rec, err
	}
	rec.mode = mode
	p = rest

	size, rest, err := parseDecimal(p)
	if err != nil {
		return rec, fmt.Errorf("size %w", err)
	}
	rec.size = size
	p = rest

	if resume && !rec.dir {
		if len(p) < HashLen+1 {
			return rec, fmt.Errorf("hash not present")
		}
		rec.hash = p[:HashLen]
		if p[HashLen] != ' ' {
			return rec, fmt.Errorf("hash not delimited")
		}
		p = p[HashLen+1:]
	}

	if p == "" || strings.ContainsRune(p, '/') || p == "." || p == ".." {
		return rec, fmt.Errorf("unexpected filename: %s", p)
	}
	rec.name = p
	return rec, nil
}

// parseOctalMode parses exactly four octal digits followed by a space.
func parseOctalMode(p string) (fs.FileMode, string, error) {
	if len(p) < 5 {
		return 0, "", fmt.Errorf("bad mode")
	}
	var mode uint32
	for i := 0; i < 4; i++ {
		c := p[i]
		if c < '0' || c > '7' {
			return 0, "", fmt.Errorf("bad mode")
		}
		mode = mode<<3 | uint32(c-'0')
	}
	if p[4] != ' ' {
		return 0, "", fmt.Errorf("mode not delimited")
	}
	return modeFromWire(mode), p[5:], nil
}

// parseDecimal parses a non-negative decimal number followed by a space.
func parseDecimal(p string) (int64, string, error) {
	if p == "" || p[0] < '0' || p[0] > '9' {
		return 0, "", fmt.Errorf("not present")
	}
	var n int64
	i := 0
	for ; i < len(p) && p[i] >= '0' && p[i] <= '9'; i++ {
		d := int64(p[i] - '0')
		if n > (1<<62)/10 {
			return 0, "", fmt.Errorf("out of range")
		}
		n = n*10 + d
	}
	if i >= len(p) || p[i] != ' ' {
		return 0, "", fmt.Errorf("not delimited")
	}
	return n, p[i+1:], nil
}

// timesRecord is a parsed T record: mtime then atime, seconds and
// microseconds each.
type timesRecord struct {
	mtime time.Time
	atime time.Time
	valid bool // out-of-range values silently disable the apply
}

func parseTimes(line string) (timesRecord, error) {
	var tr timesRecord
	tr.valid = true
	p := line[1:]

	msec, rest, err := parseDecimal(p)
	if err != nil {
		return tr, fmt.Errorf("mtime.sec %w", err)
	}
	p = rest
	musec, rest, err := parseDecimal(p)
	if err != nil || musec > 999999 {
		return tr, fmt.Errorf("mtime.usec not delimited")
	}
	p = rest
	asec, rest, err := parseDecimal(p)
	if err != nil {
		return tr, fmt.Errorf("atime.sec %w", err)
	}
	p = rest
	// The final field has no trailing delimiter on the wire.
	ausec, rest, err := parseDecimal(p + " ")
	if err != nil || ausec > 999999 || rest != "" {
		return tr, fmt.Errorf("atime.usec not delimited")
	}

	// Values too far in the future disable the apply rather than fail.
	const maxSec = int64(1) << 48
	if msec > maxSec || asec > maxSec {
		tr.valid = false
	}
	tr.mtime = time.Unix(msec, musec*1000)
	tr.atime = time.Unix(asec, ausec*1000)
	return tr, nil
}

// wire mode <-> fs.FileMode. The wire carries the POSIX permission bits
// plus setuid and setgid.
func modeToWire(m fs.FileMode) uint32 {
	bits := uint32(m.Perm())
	if m&fs.ModeSetuid != 0 {
		bits |= 0o4000
	}
	if m&fs.ModeSetgid != 0 {
		bits |= 0o2000
	}
	return bits & fileModeMask
}

func modeFromWire(bits uint32) fs.FileMode {
	m := fs.FileMode(bits & 0o777)
	if bits&0o4000 != 0 {
		m |= fs.ModeSetuid
	}
	if bits&0o2000 != 0 {
		m |= fs.ModeSetgid
	}
	return m
}

// visEncode makes a filename safe for the line-oriented wire by
// escaping embedded newlines.
func visEncode(name string) string {
	if !strings.ContainsRune(name, '\n') {
		return name
	}
	return strings.ReplaceAll(name, "\n", "\\n")
}
