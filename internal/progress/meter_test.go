package progress

import (
	"testing"
	"time"
)

func TestMeterRateAndETA(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	m := NewMeterWithNow(func() time.Time { return now })
	m.Start(2000)

	now = now.Add(1 * time.Second)
	m.Add(1000)

	stats := m.Snapshot()
	if stats.BytesDone != 1000 {
		t.Fatalf("bytes done = %d, want 1000", stats.BytesDone)
	}
	if stats.RateBps < 900 || stats.RateBps > 1100 {
		t.Fatalf("rate = %.2f, want around 1000 B/s", stats.RateBps)
	}
	if stats.ETA < 900*time.Millisecond || stats.ETA > 1100*time.Millisecond {
		t.Fatalf("ETA = %s, want around 1s", stats.ETA)
	}
	if stats.Percent != 50 {
		t.Fatalf("percent = %.1f, want 50", stats.Percent)
	}
}

func TestMeterSmoothing(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	m := NewMeterWithNow(func() time.Time { return now })
	m.Start(10000)

	now = now.Add(1 * time.Second)
	m.Add(1000)
	now = now.Add(1 * time.Second)
	m.Add(3000)

	// alpha 0.2: 0.2*3000 + 0.8*1000 = 1400
	stats := m.Snapshot()
	if stats.RateBps < 1300 || stats.RateBps > 1500 {
		t.Fatalf("smoothed rate = %.2f, want around 1400 B/s", stats.RateBps)
	}
}

func TestMeterIdle(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	m := NewMeterWithNow(func() time.Time { return now })
	m.Start(1000)

	stats := m.Snapshot()
	if stats.RateBps != 0 || stats.ETA != 0 {
		t.Fatalf("idle meter: rate=%.2f eta=%s", stats.RateBps, stats.ETA)
	}
}

func TestMeterRestart(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	m := NewMeterWithNow(func() time.Time { return now })
	m.Start(100)
	now = now.Add(time.Second)
	m.Add(100)

	m.Start(500)
	stats := m.Snapshot()
	if stats.BytesDone != 0 || stats.Total != 500 || stats.RateBps != 0 {
		t.Fatalf("restart did not reset: %+v", stats)
	}
}
