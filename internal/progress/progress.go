// Package progress shows a single-line progress bar while a probe runs.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Display manages the progress line on a terminal.
type Display struct {
	mu      sync.Mutex
	out     io.Writer
	started bool
	stopped bool

	// Stats
	total     atomic.Int64
	completed atomic.Int64
	successes atomic.Int64
	failures  atomic.Int64

	// Timing
	startTime time.Time
	target    string

	// Display
	lastLine string
}

// New creates a progress display writing to stderr.
func New() *Display {
	return NewWithWriter(os.Stderr)
}

// NewWithWriter creates a progress display writing to w.
func NewWithWriter(w io.Writer) *Display {
	return &Display{out: w}
}

// Start begins the progress display for total attempts.
func (d *Display) Start(target string, total int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return
	}

	d.started = true
	d.startTime = time.Now()
	d.target = target
	d.total.Store(int64(total))
}

// Attempt records one finished attempt and redraws the line.
func (d *Display) Attempt(success, transportError bool) {
	d.completed.Add(1)
	if success {
		d.successes.Add(1)
	}
	if transportError {
		d.failures.Add(1)
	}
	d.render()
}

func (d *Display) render() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started || d.stopped {
		return
	}

	total := d.total.Load()
	completed := d.completed.Load()
	if total <= 0 {
		total = 1
	}

	progress := int(float64(completed) / float64(total) * 100)
	if progress > 100 {
		progress = 100
	}

	// Build progress bar
	barWidth := 30
	filled := progress * barWidth / 100
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	line := fmt.Sprintf("\r[%s] %3d%% | attempt %d/%d | tokens: %d | no response: %d | %s",
		bar, progress, completed, d.total.Load(), d.successes.Load(), d.failures.Load(),
		formatDuration(time.Since(d.startTime)))

	// Clear previous line and print new one
	if len(line) < len(d.lastLine) {
		fmt.Fprint(d.out, "\r"+strings.Repeat(" ", len(d.lastLine)))
	}
	fmt.Fprint(d.out, line)
	d.lastLine = line
}

// Stop stops the progress display.
func (d *Display) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || !d.started {
		return
	}

	d.stopped = true

	// Print newline to move past progress bar
	fmt.Fprintln(d.out)
}

// Stats returns the current counters.
func (d *Display) Stats() (completed, total, successes, failures int64) {
	return d.completed.Load(), d.total.Load(), d.successes.Load(), d.failures.Load()
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	d = d.Round(time.Second)
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
