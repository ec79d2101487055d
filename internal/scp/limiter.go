package scp

import (
	"time"

	"golang.org/x/time/rate"
)

// minSleep is the smallest pause the limiter will actually take; owed
// time below it accumulates so the hot path does not storm the clock
// with tiny sleeps.
const minSleep = 10 * time.Millisecond

// bwLimiter paces transfer callbacks to a target rate with a token
// bucket. Each I/O callback reports the bytes moved; when the bucket
// runs dry the calling goroutine sleeps long enough to bring the
// average rate back to target.
type bwLimiter struct {
	lim   *rate.Limiter
	burst int
	owed  time.Duration
	// paidUntil is the instant up to which delay has already been slept
	// or added to owed.
	paidUntil time.Time
	sleep     func(time.Duration) // swapped out by tests
}

// newBWLimiter builds a limiter for a kilobit-per-second target with a
// bucket sized to the I/O block length.
func newBWLimiter(kbps int64, blockLen int) *bwLimiter {
	bytesPerSec := float64(kbps) * 1024 / 8
	burst := blockLen
	if burst < 1 {
		burst = 1
	}
	return &bwLimiter{
		lim:   rate.NewLimiter(rate.Limit(bytesPerSec), burst),
		burst: burst,
		sleep: time.Sleep,
	}
}

// limit accounts n transferred bytes and sleeps as needed.
func (l *bwLimiter) limit(n int) {
	if l == nil || n <= 0 {
		return
	}
	now := time.Now()
	if l.paidUntil.Before(now) {
		l.paidUntil = now
	}
	for n > 0 {
		chunk := n
		if chunk > l.burst {
			chunk = l.burst
		}
		r := l.lim.ReserveN(now, chunk)
		if !r.OK() {
			return
		}
		// A reservation's delay already covers every earlier reservation;
		// only the part past what is slept or owed so far is new.
		if ready := now.Add(r.DelayFrom(now)); ready.After(l.paidUntil) {
			l.owed += ready.Sub(l.paidUntil)
			l.paidUntil = ready
		}
		n -= chunk
	}
	if l.owed >= minSleep {
		l.sleep(l.owed)
		l.owed = 0
	}
}
