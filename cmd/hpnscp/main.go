// Command hpnscp copies files between hosts over a secure channel with
// the legacy line-oriented copy protocol, optionally resuming partial
// transfers with a cryptographic prefix-hash negotiation.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/hpnlabs/hpnscp/internal/config"
	"github.com/hpnlabs/hpnscp/internal/logging"
	"github.com/hpnlabs/hpnscp/internal/scp"
	"github.com/hpnlabs/hpnscp/internal/termio"
	"github.com/hpnlabs/hpnscp/internal/transport"
)

func main() {
	cfg, args, err := config.Parse(os.Args[1:])
	if err != nil {
		usage()
		os.Exit(1)
	}
	logger := logging.New("hpnscp", cfg.LogLevel)
	os.Exit(run(cfg, args, logger))
}

func usage() {
	fmt.Fprintln(termio.Stderr(), "usage: hpnscp [-Cpqrvd] [-Z] [-c cipher] [-i identity] [-F config]")
	fmt.Fprintln(termio.Stderr(), "              [-J host] [-P port] [-l limit] [-S program] source ... target")
	fmt.Fprintln(termio.Stderr(), "targets: path, [user@]host:path, quic://host:port/path, ws://host:port/path")
}

// peerReaper kills the spawned subprocess on SIGINT/SIGTERM.
type peerReaper struct {
	mu sync.Mutex
	sp *transport.Subprocess
}

func (p *peerReaper) set(sp *transport.Subprocess) {
	p.mu.Lock()
	p.sp = sp
	p.mu.Unlock()
}

func (p *peerReaper) kill() {
	p.mu.Lock()
	sp := p.sp
	p.mu.Unlock()
	if sp != nil {
		sp.Kill()
	}
}

func run(cfg config.Session, args []string, logger *slog.Logger) int {
	if cfg.Remote {
		return runRemote(cfg, args, logger)
	}
	if len(args) < 2 {
		usage()
		return 1
	}

	reaper := &peerReaper{}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sessions := make(chan *scp.Session, 4)
	go func() {
		<-sigCh
		// Interrupt any live session, then kill and reap the peer.
		for {
			select {
			case s := <-sessions:
				s.Interrupt()
			default:
				reaper.kill()
				os.Exit(1)
			}
		}
	}()

	srcs := args[:len(args)-1]
	tgt := parseTarget(args[len(args)-1])

	anyRemoteSrc := false
	for _, a := range srcs {
		if parseTarget(a).remote {
			anyRemoteSrc = true
		}
	}

	switch {
	case tgt.remote && anyRemoteSrc:
		fmt.Fprintln(termio.Stderr(), "hpnscp: remote-to-remote copies are not supported")
		return 1
	case tgt.remote:
		return toRemote(cfg, srcs, tgt, reaper, sessions, logger)
	case anyRemoteSrc:
		return toLocal(cfg, srcs, args[len(args)-1], reaper, sessions, logger)
	default:
		return localToLocal(cfg, srcs, args[len(args)-1], sessions, logger)
	}
}

// runRemote serves the peer side: -f sends the named paths, -t receives
// into the single target. It speaks over stdin/stdout when spawned by a
// peer, or over one accepted direct connection with -listen.
func runRemote(cfg config.Session, args []string, logger *slog.Logger) int {
	if len(args) < 1 {
		usage()
		return 1
	}

	var in io.Reader = os.Stdin
	var out io.Writer = os.Stdout
	if cfg.Listen != "" {
		pair, err := serveDirect(cfg.Listen, logger)
		if err != nil {
			fmt.Fprintf(termio.Stderr(), "hpnscp: %v\n", err)
			return 1
		}
		defer pair.Close()
		in, out = pair.Reader(), pair.Writer()
		cfg.WindowHint = transport.DefaultStreamWindow
	}
	s := scp.NewSession(cfg, in, out, logger)

	var err error
	if cfg.RemoteSource {
		err = s.Source(args)
	} else {
		if len(args) != 1 {
			fmt.Fprintln(os.Stderr, "hpnscp: ambiguous target")
			return 1
		}
		err = s.Sink(args[0], "")
	}
	if err != nil {
		logger.Debug("session failed", "error", err)
		return 1
	}
	if s.Errors() > 0 {
		return 1
	}
	return 0
}

// serveDirect accepts one direct connection on addr and returns its
// stream pair, wrapped with the keystream cipher when a pre-shared key
// is configured.
func serveDirect(addr string, logger *slog.Logger) (transport.Pair, error) {
	ctx := context.Background()
	var pair transport.Pair
	switch {
	case strings.HasPrefix(addr, "quic://"):
		ln, err := transport.ListenQUIC(strings.TrimPrefix(addr, "quic://"))
		if err != nil {
			return nil, err
		}
		defer ln.Close()
		if pair, err = ln.AcceptPair(ctx, logger); err != nil {
			return nil, err
		}
	case strings.HasPrefix(addr, "ws://"):
		ln, err := transport.ListenWebSocket(strings.TrimPrefix(addr, "ws://"))
		if err != nil {
			return nil, err
		}
		defer ln.Close()
		if pair, err = ln.AcceptPair(ctx, logger); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported listen address %q", addr)
	}
	if psk := os.Getenv("HPNSCP_DIRECT_KEY"); psk != "" {
		return transport.Secure(pair, []byte(psk), true)
	}
	return pair, nil
}

// connect establishes the peer stream pair for a remote target: either
// a spawned secure-channel subprocess running the remote copy of this
// tool, or a direct QUIC/WebSocket connection.
func connect(cfg *config.Session, tgt target, sinkSide bool, reaper *peerReaper, logger *slog.Logger) (transport.Pair, error) {
	if tgt.scheme == "" {
		command := transport.RemoteCommand(*cfg, sinkSide, tgt.path)
		sp, err := transport.Spawn(*cfg, tgt.user, tgt.host, command, logger)
		if err != nil {
			return nil, err
		}
		reaper.set(sp)
		return sp.Pair(), nil
	}

	ctx := context.Background()
	var pair transport.Pair
	var err error
	switch tgt.scheme {
	case "quic":
		pair, err = transport.DialQUIC(ctx, tgt.host, logger)
	default:
		pair, err = transport.DialWebSocket(ctx, tgt.scheme+"://"+tgt.host, logger)
	}
	cfg.WindowHint = transport.DefaultStreamWindow
	if err != nil {
		return nil, err
	}
	if psk := os.Getenv("HPNSCP_DIRECT_KEY"); psk != "" {
		return transport.Secure(pair, []byte(psk), false)
	}
	return pair, nil
}

// toRemote uploads local sources into a remote target.
func toRemote(cfg config.Session, srcs []string, tgt target, reaper *peerReaper, sessions chan<- *scp.Session, logger *slog.Logger) int {
	if len(srcs) > 1 {
		cfg.TargetIsDir = true
	}
	pair, err := connect(&cfg, tgt, true, reaper, logger)
	if err != nil {
		fmt.Fprintf(termio.Stderr(), "hpnscp: %v\n", err)
		return 1
	}

	s := scp.NewSession(cfg, pair.Reader(), pair.Writer(), logger)
	select {
	case sessions <- s:
	default:
	}
	serr := s.Source(srcs)
	pair.Close()
	werr := pair.Wait()

	if serr != nil {
		fmt.Fprintf(termio.Stderr(), "hpnscp: %v\n", serr)
		return 1
	}
	if werr != nil {
		logger.Debug("peer exit", "error", werr)
		return 1
	}
	if s.Errors() > 0 {
		return 1
	}
	return 0
}

// toLocal downloads each remote source into the local target.
func toLocal(cfg config.Session, srcs []string, targ string, reaper *peerReaper, sessions chan<- *scp.Session, logger *slog.Logger) int {
	if len(srcs) > 1 {
		cfg.TargetIsDir = true
	}
	status := 0
	for _, raw := range srcs {
		src := parseTarget(raw)
		if !src.remote {
			// A stray local operand among remote sources gets copied
			// locally, matching the traditional tool's forgiving behavior.
			if rc := localToLocal(cfg, []string{raw}, targ, sessions, logger); rc != 0 {
				status = 1
			}
			continue
		}

		pair, err := connect(&cfg, src, false, reaper, logger)
		if err != nil {
			fmt.Fprintf(termio.Stderr(), "hpnscp: %v\n", err)
			status = 1
			continue
		}

		s := scp.NewSession(cfg, pair.Reader(), pair.Writer(), logger)
		select {
		case sessions <- s:
		default:
		}
		serr := s.Sink(targ, src.path)
		pair.Close()
		if werr := pair.Wait(); werr != nil {
			logger.Debug("peer exit", "error", werr)
			status = 1
		}
		if serr != nil {
			var fe *scp.FatalError
			if errors.As(serr, &fe) {
				fmt.Fprintf(termio.Stderr(), "hpnscp: %v\n", serr)
			}
			status = 1
		}
		if s.Errors() > 0 {
			status = 1
		}
	}
	return status
}

// localToLocal copies without a peer process: a source session and a
// sink session joined by in-process pipes.
func localToLocal(cfg config.Session, srcs []string, targ string, sessions chan<- *scp.Session, logger *slog.Logger) int {
	if len(srcs) > 1 {
		cfg.TargetIsDir = true
	}
	// Kernel pipes: their buffer lets a write complete before the other
	// end reads it.
	srcR, srcW, err := os.Pipe() // source -> sink
	if err != nil {
		fmt.Fprintf(termio.Stderr(), "hpnscp: %v\n", err)
		return 1
	}
	ackR, ackW, err := os.Pipe() // sink -> source
	if err != nil {
		fmt.Fprintf(termio.Stderr(), "hpnscp: %v\n", err)
		return 1
	}

	srcCfg := cfg
	srcCfg.Remote = true // suppress doubled user-facing error output
	sender := scp.NewSession(srcCfg, ackR, srcW, logger)
	receiver := scp.NewSession(cfg, srcR, ackW, logger)
	select {
	case sessions <- sender:
	default:
	}
	select {
	case sessions <- receiver:
	default:
	}

	done := make(chan error, 1)
	go func() {
		err := sender.Source(srcs)
		srcW.Close()
		done <- err
	}()

	serr := receiver.Sink(targ, "")
	ackW.Close()
	senderErr := <-done
	srcR.Close()
	ackR.Close()

	if serr != nil || senderErr != nil {
		if serr != nil {
			fmt.Fprintf(termio.Stderr(), "hpnscp: %v\n", serr)
		}
		return 1
	}
	if sender.Errors() > 0 || receiver.Errors() > 0 {
		return 1
	}
	return 0
}
