package output

import (
	"encoding/json"
	"io"
	"sync"
)

// JSONWriter writes output in JSON format.
type JSONWriter struct {
	mu     sync.Mutex
	writer io.Writer
	pretty bool
	stream bool
	closed bool
}

// NewJSONWriter creates a new JSON writer. In stream mode each attempt is
// written as its own line before the final report.
func NewJSONWriter(w io.Writer, pretty, stream bool) *JSONWriter {
	return &JSONWriter{
		writer: w,
		pretty: pretty,
		stream: stream,
	}
}

// WriteReport writes the complete run report.
func (j *JSONWriter) WriteReport(report *RunReport) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}

	if j.stream {
		return j.writeLine(StreamEvent{Type: "summary", Data: report.Summary}, false)
	}
	return j.writeLine(report, j.pretty)
}

// WriteAttempt writes a single attempt in streaming mode.
func (j *JSONWriter) WriteAttempt(attempt *Attempt) error {
	if !j.stream {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}

	return j.writeLine(StreamEvent{Type: "attempt", Data: attempt}, false)
}

// writeLine marshals v and writes it followed by a newline. Stream events
// are always compact so each one stays on a single line.
func (j *JSONWriter) writeLine(v interface{}, pretty bool) error {
	var data []byte
	var err error

	if pretty {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}

	if err != nil {
		return err
	}

	data = append(data, '\n')
	_, err = j.writer.Write(data)
	return err
}

// Flush flushes the writer.
func (j *JSONWriter) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if flusher, ok := j.writer.(interface{ Flush() error }); ok {
		return flusher.Flush()
	}
	return nil
}

// Close closes the writer.
func (j *JSONWriter) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.closed = true

	if closer, ok := j.writer.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// StreamEvent represents a streaming output event.
type StreamEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// ProgressWriter wraps a writer and reports each streamed attempt.
type ProgressWriter struct {
	Writer
	onProgress func(attempt *Attempt)
}

// NewProgressWriter creates a writer that reports progress.
func NewProgressWriter(w Writer, onProgress func(*Attempt)) *ProgressWriter {
	return &ProgressWriter{
		Writer:     w,
		onProgress: onProgress,
	}
}

// WriteAttempt writes an attempt and updates progress.
func (p *ProgressWriter) WriteAttempt(attempt *Attempt) error {
	if p.onProgress != nil {
		p.onProgress(attempt)
	}
	return p.Writer.WriteAttempt(attempt)
}
