package transport

import "github.com/quic-go/quic-go"

// Flow-control windows for the direct QUIC path. The stream window is
// also handed to the protocol buffers as their growth hint, so a hot
// stream's buffer jumps ahead by the window size instead of creeping up
// one increment at a time.
const (
	// DefaultStreamWindow is the per-stream receive window and the
	// buffer growth hint for direct transports.
	DefaultStreamWindow = 16 * 1024 * 1024

	defaultInitialConnWindow = 2 * 1024 * 1024

	minConnWindow   = 1 * 1024 * 1024
	maxConnWindow   = 1024 * 1024 * 1024
	minStreamWindow = 1 * 1024 * 1024
	maxStreamWindow = 256 * 1024 * 1024
)

// buildQUICConfig assembles a quic.Config with clamped windows.
func buildQUICConfig(connWin, streamWin int) *quic.Config {
	conn := clamp(connWin, minConnWindow, maxConnWindow)
	stream := clamp(streamWin, minStreamWindow, maxStreamWindow)
	initialConn := defaultInitialConnWindow
	if initialConn > conn {
		initialConn = conn
	}
	cfg := quicConfigBase()
	cfg.InitialConnectionReceiveWindow = uint64(initialConn)
	cfg.MaxConnectionReceiveWindow = uint64(conn)
	cfg.InitialStreamReceiveWindow = uint64(stream)
	cfg.MaxStreamReceiveWindow = uint64(stream)
	return cfg
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
