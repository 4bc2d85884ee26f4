package sink

import (
	"context"
	"io"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/orgoj/logrelay/internal/record"
)

const colorReset = "\x1b[0m"

var levelColors = map[string]string{
	"TRACE": "\x1b[90m",
	"DEBUG": "\x1b[90m",
	"INFO":  "\x1b[36m",
	"WARN":  "\x1b[33m",
	"ERROR": "\x1b[31m",
	"FATAL": "\x1b[35m",
}

// ConsoleSink writes one line per record to stdout or stderr.
type ConsoleSink struct {
	name   string
	w      io.Writer
	format string
	color  bool
	buf    []byte
}

// NewConsoleSink creates a console sink. target is "stdout" or "stderr";
// color is "auto", "always" or "never".
func NewConsoleSink(name, target, format, color string) *ConsoleSink {
	f := os.Stdout
	if target == "stderr" {
		f = os.Stderr
	}
	useColor := color == "always"
	if color == "auto" {
		useColor = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return newConsoleWriter(name, f, format, useColor)
}

func newConsoleWriter(name string, w io.Writer, format string, color bool) *ConsoleSink {
	return &ConsoleSink{name: name, w: w, format: format, color: color}
}

// Write writes the record line.
func (s *ConsoleSink) Write(_ context.Context, rec *record.Record) error {
	s.buf = s.buf[:0]
	if s.color {
		s.buf = append(s.buf, levelColors[rec.Level().String()]...)
		s.buf = appendLine(s.buf, rec, s.format)
		// keep the newline outside the colored span
		s.buf = append(s.buf[:len(s.buf)-1], colorReset+"\n"...)
	} else {
		s.buf = appendLine(s.buf, rec, s.format)
	}
	if _, err := s.w.Write(s.buf); err != nil {
		return Classify(s.name, err)
	}
	return nil
}

// Flush is a no-op: console writes are unbuffered.
func (s *ConsoleSink) Flush(context.Context) error { return nil }

// Close does not close the process' standard streams.
func (s *ConsoleSink) Close() error { return nil }

// Name returns the sink name.
func (s *ConsoleSink) Name() string { return s.name }
