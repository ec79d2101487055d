package transport

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"

	"github.com/hpnlabs/hpnscp/internal/config"
)

// Subprocess is a Pair over the stdin/stdout pipes of a spawned
// secure-channel program running the remote copy of this tool.
type Subprocess struct {
	cmd    *exec.Cmd
	pair   Pair
	logger *slog.Logger
}

// RemoteCommand assembles the command line that asks the remote end to
// run this tool in remote mode against path.
func RemoteCommand(cfg config.Session, sink bool, path string) string {
	cmd := cfg.RemoteProgram
	if sink {
		cmd += " -t"
	} else {
		cmd += " -f"
	}
	if cfg.Recursive {
		cmd += " -r"
	}
	if cfg.PreserveTimes {
		cmd += " -p"
	}
	if cfg.TargetIsDir {
		cmd += " -d"
	}
	if cfg.Resume {
		cmd += " -Z"
	}
	if len(path) > 0 && path[0] == '-' {
		cmd += " -- "
	} else {
		cmd += " "
	}
	return cmd + shellQuote(path)
}

// Spawn starts the secure-channel program connected to host (as user if
// non-empty) executing command on the far side, and returns the
// subprocess stream pair.
func Spawn(cfg config.Session, user, host, command string, logger *slog.Logger) (*Subprocess, error) {
	args := []string{"-x", "-oForwardAgent=no", "-oPermitLocalCommand=no", "-oClearAllForwardings=yes"}
	if cfg.Verbose {
		args = append(args, "-v")
	}
	if cfg.Compression {
		args = append(args, "-C")
	}
	if cfg.Cipher != "" {
		args = append(args, "-c", cfg.Cipher)
	}
	if cfg.Identity != "" {
		args = append(args, "-i", cfg.Identity)
	}
	if cfg.SSHConfig != "" {
		args = append(args, "-F", cfg.SSHConfig)
	}
	if cfg.JumpHost != "" {
		args = append(args, "-J", cfg.JumpHost)
	}
	if cfg.Port != 0 {
		args = append(args, "-p", strconv.Itoa(cfg.Port))
	}
	if user != "" {
		args = append(args, "-l", user)
	}
	args = append(args, "--", host, command)

	cmd := exec.Command(cfg.Program, args...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("exec %s: %w", cfg.Program, err)
	}
	logger.Debug("spawned secure channel",
		"program", cfg.Program, "host", host, "command", command, "pid", cmd.Process.Pid)

	sp := &Subprocess{cmd: cmd, logger: logger}
	sp.pair = NewPair(stdout, stdin,
		func() error {
			stdin.Close()
			stdout.Close()
			return nil
		},
		func() error {
			// Closing our write side first lets a finished peer exit.
			stdin.Close()
			if err := cmd.Wait(); err != nil {
				return fmt.Errorf("%s: %w", cfg.Program, err)
			}
			return nil
		})
	return sp, nil
}

// Pair returns the stream pair of the running subprocess.
func (s *Subprocess) Pair() Pair { return s.pair }

// Kill terminates and reaps the peer subprocess; used on SIGINT and
// SIGTERM.
func (s *Subprocess) Kill() {
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		_, _ = s.cmd.Process.Wait()
	}
}

// shellQuote wraps path in single quotes for the remote shell, escaping
// embedded quotes, so filenames with spaces survive the trip.
func shellQuote(path string) string {
	quoted := "'"
	for _, r := range path {
		if r == '\'' {
			quoted += `'\''`
			continue
		}
		quoted += string(r)
	}
	return quoted + "'"
}
