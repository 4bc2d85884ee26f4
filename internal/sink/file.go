// internal/sink/file.go

package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/orgoj/logrelay/internal/record"
)

// FileSink appends records to a single file.
type FileSink struct {
	name   string
	path   string
	format string
	file   *os.File
	buf    []byte
}

// NewFileSink opens (or creates) path for appending.
func NewFileSink(name, path, format string) (*FileSink, error) {
	if path == "" {
		return nil, fmt.Errorf("file sink '%s' requires a path", name)
	}
	if format != "json" && format != "text" {
		return nil, fmt.Errorf("invalid file sink format: %s", format)
	}
	f, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	return &FileSink{name: name, path: path, format: format, file: f}, nil
}

func openAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return f, nil
}

// Write appends the record line.
func (s *FileSink) Write(_ context.Context, rec *record.Record) error {
	if s.file == nil {
		return NewError(s.name, KindIO, Permanent, errors.New("file sink is closed"))
	}
	s.buf = appendLine(s.buf[:0], rec, s.format)
	if _, err := s.file.Write(s.buf); err != nil {
		return Classify(s.name, fmt.Errorf("failed to write log line: %w", err))
	}
	return nil
}

// Flush commits the file contents to stable storage.
func (s *FileSink) Flush(context.Context) error {
	if s.file == nil {
		return nil
	}
	if err := s.file.Sync(); err != nil {
		return Classify(s.name, err)
	}
	return nil
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	if s.file == nil {
		return nil
	}
	_ = s.file.Sync()
	err := s.file.Close()
	s.file = nil
	return err
}

// Name returns the sink name.
func (s *FileSink) Name() string { return s.name }
