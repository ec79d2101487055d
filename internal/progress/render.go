package progress

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/term"
)

// redrawInterval throttles meter redraws so a fast transfer does not
// spend its time repainting the terminal.
const redrawInterval = 250 * time.Millisecond

// Renderer draws a single-line progress meter for the current file.
// It stays silent when the output is not a terminal.
type Renderer struct {
	out      io.Writer
	isTTY    bool
	width    func() int
	meter    *Meter
	name     string
	lastDraw int64 // unix nanos of the last redraw
}

// NewRenderer builds a renderer for w. Terminal detection and width
// queries use w's descriptor when it is an *os.File.
func NewRenderer(w io.Writer) *Renderer {
	r := &Renderer{
		out:   w,
		meter: NewMeter(),
		width: func() int { return 80 },
	}
	if f, ok := w.(*os.File); ok {
		fd := int(f.Fd())
		r.isTTY = term.IsTerminal(fd)
		r.width = func() int {
			if w, _, err := term.GetSize(fd); err == nil && w > 0 {
				return w
			}
			return 80
		}
	}
	return r
}

// Start begins metering a file of total bytes.
func (r *Renderer) Start(name string, total int64) {
	r.name = name
	r.meter.Start(total)
	atomic.StoreInt64(&r.lastDraw, 0)
	r.draw(false)
}

// Tick accounts n transferred bytes and redraws if the throttle allows.
func (r *Renderer) Tick(n int) {
	r.meter.Add(n)
	now := time.Now().UnixNano()
	prev := atomic.LoadInt64(&r.lastDraw)
	if now-prev < int64(redrawInterval) {
		return
	}
	if atomic.CompareAndSwapInt64(&r.lastDraw, prev, now) {
		r.draw(false)
	}
}

// Stop draws the final state and moves to the next line.
func (r *Renderer) Stop() {
	r.draw(true)
}

func (r *Renderer) draw(final bool) {
	if !r.isTTY {
		return
	}
	st := r.meter.Snapshot()

	tail := fmt.Sprintf(" %3.0f%% %8s %9s/s %s",
		st.Percent, formatBytes(st.BytesDone), formatBytes(int64(st.RateBps)),
		formatETA(st.ETA))

	width := r.width()
	nameWidth := width - len(tail) - 1
	if nameWidth < 8 {
		nameWidth = 8
	}
	name := r.name
	if len(name) > nameWidth {
		name = name[:nameWidth-1] + "*"
	}

	line := fmt.Sprintf("\r%-*s%s", nameWidth, name, tail)
	if len(line) > width {
		line = line[:width]
	}
	fmt.Fprint(r.out, line)
	if final {
		fmt.Fprint(r.out, "\n")
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%cB", float64(n)/float64(div), "KMGTPE"[exp])
}

func formatETA(d time.Duration) string {
	if d <= 0 {
		return "--:--"
	}
	secs := int(d.Seconds())
	if secs >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", secs/3600, (secs%3600)/60, secs%60)
	}
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}
