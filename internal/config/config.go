// Package config gathers the per-invocation options into an immutable
// session configuration passed explicitly to every component, instead
// of process-wide flag state.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
)

// Session holds every option of one copy invocation.
type Session struct {
	Verbose       bool
	Quiet         bool
	Recursive     bool
	PreserveTimes bool
	TargetIsDir   bool
	Resume        bool

	// Remote marks a process spawned by the peer side (-t or -f): its
	// stdout is the protocol channel and user-facing output is limited
	// to protocol error records.
	Remote       bool
	RemoteSource bool // -f: act as the sending end
	RemoteSink   bool // -t: act as the receiving end

	Compression bool   // pass -C through to the secure-channel program
	Cipher      string // pass -c <cipher> through
	Identity    string // pass -i <identity file> through
	SSHConfig   string // pass -F <config> through
	JumpHost    string // pass -J <host> through
	Port        int
	LimitKbps   int64

	Program       string // secure-channel program, default "ssh"
	RemoteProgram string // name of this tool on the remote end

	// Listen makes a -t/-f invocation serve one direct connection
	// (quic://addr or ws://addr) instead of speaking over stdio.
	Listen string

	// WindowHint carries the transport's flow-control window into the
	// protocol buffers' growth policy. Zero leaves incremental growth.
	WindowHint int

	LogLevel string
}

// Parse reads flags and HPNSCP_* environment variables into a Session.
// Flags take precedence over the environment. The returned slice holds
// the positional operands.
func Parse(args []string) (Session, []string, error) {
	fs := flag.NewFlagSet("hpnscp", flag.ContinueOnError)
	return parseWithFlagSet(fs, args)
}

// parseWithFlagSet is an internal helper for testing with isolated flag
// sets.
func parseWithFlagSet(fs *flag.FlagSet, args []string) (Session, []string, error) {
	cfg := Session{
		Program:       "ssh",
		RemoteProgram: "hpnscp",
		LogLevel:      "info",
	}

	// Environment first; flags override.
	if v := os.Getenv("HPNSCP_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("HPNSCP_PROGRAM"); v != "" {
		cfg.Program = v
	}
	if v := os.Getenv("HPNSCP_REMOTE_PROGRAM"); v != "" {
		cfg.RemoteProgram = v
	}
	if v := os.Getenv("HPNSCP_LIMIT_KBPS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			cfg.LimitKbps = n
		}
	}

	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "verbose diagnostics")
	fs.BoolVar(&cfg.Quiet, "q", cfg.Quiet, "disable the progress meter")
	fs.BoolVar(&cfg.Recursive, "r", cfg.Recursive, "copy directories recursively")
	fs.BoolVar(&cfg.PreserveTimes, "p", cfg.PreserveTimes, "preserve modification times and modes")
	fs.BoolVar(&cfg.TargetIsDir, "d", cfg.TargetIsDir, "target must be a directory")
	fs.BoolVar(&cfg.Resume, "Z", cfg.Resume, "resume interrupted transfers")
	fs.BoolVar(&cfg.RemoteSink, "t", cfg.RemoteSink, "remote sink mode (used by the peer)")
	fs.BoolVar(&cfg.RemoteSource, "f", cfg.RemoteSource, "remote source mode (used by the peer)")
	fs.BoolVar(&cfg.Compression, "C", cfg.Compression, "request compression from the secure channel")
	fs.StringVar(&cfg.Cipher, "c", cfg.Cipher, "cipher selection passed to the secure channel")
	fs.StringVar(&cfg.Identity, "i", cfg.Identity, "identity file passed to the secure channel")
	fs.StringVar(&cfg.SSHConfig, "F", cfg.SSHConfig, "configuration file passed to the secure channel")
	fs.StringVar(&cfg.JumpHost, "J", cfg.JumpHost, "jump host passed to the secure channel")
	fs.IntVar(&cfg.Port, "P", cfg.Port, "port on the remote host")
	fs.Int64Var(&cfg.LimitKbps, "l", cfg.LimitKbps, "bandwidth limit in kbit/s")
	fs.StringVar(&cfg.Program, "S", cfg.Program, "secure-channel program path")
	fs.StringVar(&cfg.RemoteProgram, "z", cfg.RemoteProgram, "remote program name")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.Listen, "listen", cfg.Listen, "serve one direct connection on quic://addr or ws://addr (with -t or -f)")

	if err := fs.Parse(args); err != nil {
		return cfg, nil, err
	}

	cfg.Remote = cfg.RemoteSource || cfg.RemoteSink
	if cfg.RemoteSource && cfg.RemoteSink {
		return cfg, nil, fmt.Errorf("-t and -f are mutually exclusive")
	}
	if cfg.Listen != "" && !cfg.Remote {
		return cfg, nil, fmt.Errorf("-listen requires -t or -f")
	}
	if cfg.Verbose && cfg.LogLevel == "info" {
		cfg.LogLevel = "debug"
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return cfg, nil, fmt.Errorf("invalid port %d", cfg.Port)
	}
	if cfg.LimitKbps < 0 {
		return cfg, nil, fmt.Errorf("invalid bandwidth limit %d", cfg.LimitKbps)
	}

	return cfg, fs.Args(), nil
}
