package transport

import "testing"

func TestBuildQUICConfig_Clamps(t *testing.T) {
	cfg := buildQUICConfig(0, 0)
	if cfg.MaxConnectionReceiveWindow != minConnWindow {
		t.Fatalf("conn window = %d, want clamped to %d", cfg.MaxConnectionReceiveWindow, minConnWindow)
	}
	if cfg.MaxStreamReceiveWindow != minStreamWindow {
		t.Fatalf("stream window = %d, want clamped to %d", cfg.MaxStreamReceiveWindow, minStreamWindow)
	}

	cfg = buildQUICConfig(1<<40, 1<<40)
	if cfg.MaxConnectionReceiveWindow != maxConnWindow {
		t.Fatalf("conn window = %d, want clamped to %d", cfg.MaxConnectionReceiveWindow, maxConnWindow)
	}
	if cfg.MaxStreamReceiveWindow != maxStreamWindow {
		t.Fatalf("stream window = %d, want clamped to %d", cfg.MaxStreamReceiveWindow, maxStreamWindow)
	}
}

func TestBuildQUICConfig_InitialWindowBounded(t *testing.T) {
	cfg := buildQUICConfig(minConnWindow, DefaultStreamWindow)
	if cfg.InitialConnectionReceiveWindow > cfg.MaxConnectionReceiveWindow {
		t.Fatalf("initial window %d above max %d",
			cfg.InitialConnectionReceiveWindow, cfg.MaxConnectionReceiveWindow)
	}
}
