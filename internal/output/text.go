package output

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// outcomeOrder is the order counts are printed in.
var outcomeOrder = []string{
	"success",
	"partial",
	"not_found",
	"unauthorized",
	"validation_error",
	"failure",
	"transport_error",
}

// TextWriter writes a human-readable summary.
type TextWriter struct {
	mu     sync.Mutex
	writer io.Writer
	stream bool
	closed bool
}

// NewTextWriter creates a new text writer. In stream mode one line is
// printed per attempt before the summary.
func NewTextWriter(w io.Writer, stream bool) *TextWriter {
	return &TextWriter{
		writer: w,
		stream: stream,
	}
}

// WriteReport writes the run summary.
func (t *TextWriter) WriteReport(report *RunReport) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}

	_, err := io.WriteString(t.writer, FormatSummary(report))
	return err
}

// WriteAttempt writes one attempt line in streaming mode.
func (t *TextWriter) WriteAttempt(attempt *Attempt) error {
	if !t.stream {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}

	_, err := io.WriteString(t.writer, FormatAttempt(attempt)+"\n")
	return err
}

// Flush flushes the writer.
func (t *TextWriter) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if flusher, ok := t.writer.(interface{ Flush() error }); ok {
		return flusher.Flush()
	}
	return nil
}

// Close closes the writer.
func (t *TextWriter) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true

	if closer, ok := t.writer.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// FormatAttempt renders one attempt as a single line.
func FormatAttempt(a *Attempt) string {
	status := fmt.Sprintf("%d", a.StatusCode)
	if a.StatusCode == 0 {
		status = "---"
	}
	line := fmt.Sprintf("[%2d] %-24s #%d  %s  %s", a.Index+1, a.Endpoint, a.PayloadIndex, status, a.Outcome)
	if a.Success {
		line += fmt.Sprintf("  %s=%s", a.TokenKey, a.Token)
	} else if a.StatusCode == 0 && a.Error != "" {
		line += "  " + a.Error
	}
	return line
}

// FormatSummary renders the run summary: counts, the working combinations
// and, when nothing worked, the recommendation.
func FormatSummary(r *RunReport) string {
	var b strings.Builder
	s := r.Summary

	fmt.Fprintf(&b, "Target:   %s (tenant %s)\n", r.BaseURL, r.TenantID)
	fmt.Fprintf(&b, "Attempts: %d in %s\n", s.Total, r.Duration.Round(time.Millisecond))
	for _, o := range outcomeOrder {
		if n := s.Counts[o]; n > 0 {
			fmt.Fprintf(&b, "  %-17s %d\n", o, n)
		}
	}

	if len(s.Successes) > 0 {
		fmt.Fprintf(&b, "\nWorking combinations (%d):\n", len(s.Successes))
		for _, c := range s.Successes {
			fmt.Fprintf(&b, "  POST %s\n", c.URL)
			fmt.Fprintf(&b, "    payload #%d (%s): %s\n", c.PayloadIndex, c.PayloadName, strings.Join(c.Fields, ", "))
			fmt.Fprintf(&b, "    token field %q: %s\n", c.TokenKey, c.Token)
		}
	}

	if len(s.Partials) > 0 {
		fmt.Fprintf(&b, "\n2xx without a token (%d):\n", len(s.Partials))
		for _, c := range s.Partials {
			fmt.Fprintf(&b, "  POST %s payload #%d (%s) status %d\n", c.URL, c.PayloadIndex, c.PayloadName, c.StatusCode)
		}
	}

	if s.Recommendation != "" {
		fmt.Fprintf(&b, "\nNo working combination found.\n%s\n", s.Recommendation)
	}

	return b.String()
}
