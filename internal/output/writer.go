// Package output renders probe reports as JSON or text.
package output

import (
	"io"
)

// Writer defines the interface for report writers.
type Writer interface {
	// WriteReport writes the complete run report
	WriteReport(report *RunReport) error

	// WriteAttempt writes a single attempt (for streaming)
	WriteAttempt(attempt *Attempt) error

	// Flush flushes any buffered output
	Flush() error

	// Close closes the writer
	Close() error
}

// Config holds output configuration.
type Config struct {
	Format     string
	Pretty     bool
	Stream     bool
	FilePath   string
	ShowTokens bool
}

// NewWriter creates a new report writer.
func NewWriter(w io.Writer, config Config) Writer {
	switch config.Format {
	case "json":
		return NewJSONWriter(w, config.Pretty, config.Stream)
	default:
		return NewTextWriter(w, config.Stream)
	}
}
