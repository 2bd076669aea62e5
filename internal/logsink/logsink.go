// Package logsink implements the append-only structured text log (spec.md
// §4, C4). It is a thin slog.Handler that also appends newline-delimited
// JSON records to disk, built on log/slog the way the rest of this module
// is - see SPEC_FULL.md §1.1.
package logsink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Sink appends structured log records to a file, one JSON object per line.
// A failure to write is itself logged to stderr but never panics (spec.md
// §7, io-persist disposition).
type Sink struct {
	mu   sync.Mutex
	file *os.File
	next slog.Handler
}

// Open opens path for appending and wraps next (may be nil) so records
// are both written to disk and forwarded to the normal handler chain.
func Open(path string, next slog.Handler) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log sink %s: %w", path, err)
	}
	return &Sink{file: f, next: next}, nil
}

// Enabled implements slog.Handler.
func (s *Sink) Enabled(ctx context.Context, level slog.Level) bool {
	if s.next != nil {
		return s.next.Enabled(ctx, level)
	}
	return true
}

// Handle implements slog.Handler.
func (s *Sink) Handle(ctx context.Context, r slog.Record) error {
	record := map[string]any{
		"ts":    r.Time.UTC().Format(time.RFC3339Nano),
		"level": r.Level.String(),
		"msg":   r.Message,
	}
	r.Attrs(func(a slog.Attr) bool {
		record[a.Key] = a.Value.Any()
		return true
	})

	line, err := json.Marshal(record)
	if err == nil {
		s.mu.Lock()
		if _, werr := s.file.Write(append(line, '\n')); werr != nil {
			fmt.Fprintf(os.Stderr, "logsink: write failed: %v\n", werr)
		}
		s.mu.Unlock()
	}

	if s.next != nil {
		return s.next.Handle(ctx, r)
	}
	return nil
}

// WithAttrs implements slog.Handler.
func (s *Sink) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := s.next
	if next != nil {
		next = next.WithAttrs(attrs)
	}
	return &Sink{file: s.file, next: next}
}

// WithGroup implements slog.Handler.
func (s *Sink) WithGroup(name string) slog.Handler {
	next := s.next
	if next != nil {
		next = next.WithGroup(name)
	}
	return &Sink{file: s.file, next: next}
}

// Close flushes and closes the underlying file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// NewLogger builds a *slog.Logger that writes to both path and fallback
// (typically os.Stdout via slog.NewTextHandler).
func NewLogger(path string, fallback io.Writer) (*slog.Logger, *Sink, error) {
	var next slog.Handler
	if fallback != nil {
		next = slog.NewTextHandler(fallback, nil)
	}
	sink, err := Open(path, next)
	if err != nil {
		return nil, nil, err
	}
	return slog.New(sink), sink, nil
}
