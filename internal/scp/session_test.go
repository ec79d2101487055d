package scp

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/hpnlabs/hpnscp/internal/config"
	"github.com/hpnlabs/hpnscp/internal/logging"
)

func testSession(t *testing.T, in io.Reader, out io.Writer) *Session {
	t.Helper()
	cfg := config.Session{Quiet: true, Remote: true}
	logger := logging.NewWithWriter(io.Discard, "test", "error")
	return NewSession(cfg, in, out, logger)
}

func TestEnvelope_FixedWidth(t *testing.T) {
	var out bytes.Buffer
	s := testSession(t, strings.NewReader(""), &out)

	if err := s.writeEnvelope("R0644 10 abcdef"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if out.Len() != BufAndHash-1 {
		t.Fatalf("envelope = %d bytes, want %d", out.Len(), BufAndHash-1)
	}
	if !strings.HasPrefix(out.String(), "R0644 10 abcdef") {
		t.Fatalf("payload mangled: %q", out.String()[:20])
	}
	if !strings.HasSuffix(out.String(), " ") {
		t.Fatal("expected space padding")
	}

	// The peer reads the same fixed width back.
	s2 := testSession(t, bytes.NewReader(out.Bytes()), io.Discard)
	env, err := s2.readEnvelope()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(env) != BufAndHash-1 || !strings.HasPrefix(env, "R0644 10 abcdef") {
		t.Fatalf("env = %q (%d bytes)", env[:20], len(env))
	}
}

func TestResponse_OK(t *testing.T) {
	s := testSession(t, bytes.NewReader([]byte{0}), io.Discard)
	if err := s.response(); err != nil {
		t.Fatalf("response: %v", err)
	}
}

func TestResponse_NonFatalCountsError(t *testing.T) {
	in := append([]byte{1}, []byte("scp: some file: permission denied\n")...)
	s := testSession(t, bytes.NewReader(in), io.Discard)
	err := s.response()
	if !errors.Is(err, errResponse) {
		t.Fatalf("err = %v, want errResponse", err)
	}
	if s.Errors() != 1 {
		t.Fatalf("errors = %d, want 1", s.Errors())
	}
}

func TestResponse_FatalAborts(t *testing.T) {
	in := append([]byte{2}, []byte("scp: lost connection\n")...)
	s := testSession(t, bytes.NewReader(in), io.Discard)
	err := s.response()
	var fe *FatalError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want FatalError", err)
	}
}

func TestResponse_GarbageIsProtocolError(t *testing.T) {
	var out bytes.Buffer
	s := testSession(t, bytes.NewReader([]byte{'X'}), &out)
	err := s.response()
	var fe *FatalError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want FatalError", err)
	}
	if out.Len() == 0 || out.Bytes()[0] != 2 {
		t.Fatal("expected a fatal record sent to the peer")
	}
}

func TestReadLineRaw(t *testing.T) {
	s := testSession(t, strings.NewReader("C0644 5 f\nrest"), io.Discard)
	line, err := s.readLineRaw()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if line != "C0644 5 f" {
		t.Fatalf("line = %q", line)
	}
}

func TestRunErr_WireFormat(t *testing.T) {
	var out bytes.Buffer
	s := testSession(t, strings.NewReader(""), &out)
	s.runErr("%s: %s", "file", "gone")
	if got := out.String(); got != "\x01hpnscp: file: gone\n" {
		t.Fatalf("wire = %q", got)
	}
	if s.Errors() != 1 {
		t.Fatalf("errors = %d", s.Errors())
	}
}
