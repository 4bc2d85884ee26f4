// internal/sink/rotating_file.go

package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/orgoj/logrelay/internal/record"
)

type fileState int

const (
	stateOpen fileState = iota
	stateRotating
	stateClosed
)

func (s fileState) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateRotating:
		return "rotating"
	default:
		return "closed"
	}
}

// RotatingFileSink is a file sink whose active file is rolled over
// according to a RotationPolicy. Rollover is checked on each write.
type RotatingFileSink struct {
	name   string
	path   string
	format string
	policy RotationPolicy
	now    func() time.Time

	state fileState
	file  *os.File
	buf   []byte
}

// NewRotatingFileSink opens path and primes policy with the size and
// modification time of any existing file.
func NewRotatingFileSink(name, path, format string, policy RotationPolicy) (*RotatingFileSink, error) {
	return newRotatingFileSink(name, path, format, policy, time.Now)
}

func newRotatingFileSink(name, path, format string, policy RotationPolicy, now func() time.Time) (*RotatingFileSink, error) {
	if policy == nil {
		return nil, fmt.Errorf("rotating file sink '%s' requires a rotation policy", name)
	}
	s := &RotatingFileSink{name: name, path: path, format: format, policy: policy, now: now}
	if err := s.open(time.Time{}); err != nil {
		return nil, err
	}
	return s, nil
}

// open (re)opens the active file. A zero fresh time means the policy is
// primed from the file's modification time, or the clock if it is empty.
func (s *RotatingFileSink) open(fresh time.Time) error {
	f, err := openAppend(s.path)
	if err != nil {
		return err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat log file %s: %w", s.path, err)
	}
	if fresh.IsZero() {
		fresh = s.now()
		if fi.Size() > 0 {
			fresh = fi.ModTime()
		}
	}
	s.policy.Opened(fi.Size(), fresh)
	s.file = f
	s.state = stateOpen
	return nil
}

// Write appends the record, rolling the active file over first when the
// policy asks for it. If archiving fails the record still goes to the
// pre-rotation file and a delivered Permanent rotation error is returned.
// If no file can be opened the record is dropped with a Permanent error.
func (s *RotatingFileSink) Write(_ context.Context, rec *record.Record) error {
	if s.state == stateClosed {
		return NewError(s.name, KindIO, Permanent, errors.New("rotating file sink is closed"))
	}
	s.buf = appendLine(s.buf[:0], rec, s.format)
	now := s.now()

	var rotErr error
	if s.file == nil {
		// a previous rotation lost the file; try again
		if err := s.open(now); err != nil {
			return NewError(s.name, KindRotation, Permanent, err)
		}
	} else if s.policy.ShouldRotate(int64(len(s.buf)), now) {
		rotErr = s.rotate(now)
		if s.file == nil {
			return NewError(s.name, KindRotation, Permanent, rotErr)
		}
	}

	n, err := s.file.Write(s.buf)
	s.policy.Written(int64(n))
	if err != nil {
		return Classify(s.name, fmt.Errorf("failed to write log line: %w", err))
	}
	if rotErr != nil {
		return delivered(s.name, NewError(s.name, KindRotation, Permanent, rotErr))
	}
	return nil
}

func (s *RotatingFileSink) rotate(now time.Time) error {
	s.state = stateRotating
	_ = s.file.Sync()
	if err := s.file.Close(); err != nil {
		s.file = nil
		s.state = stateOpen
		return fmt.Errorf("failed to close %s before rotation: %w", s.path, err)
	}
	s.file = nil

	archErr := s.policy.Archive(s.path, now)
	fresh := now
	if archErr != nil {
		// reopening the old file; keep its own period
		fresh = time.Time{}
	}
	if err := s.open(fresh); err != nil {
		s.state = stateOpen
		if archErr != nil {
			return fmt.Errorf("%v; reopen failed: %w", archErr, err)
		}
		return err
	}
	return archErr
}

// Flush syncs the active file.
func (s *RotatingFileSink) Flush(context.Context) error {
	if s.file == nil {
		return nil
	}
	if err := s.file.Sync(); err != nil {
		return Classify(s.name, err)
	}
	return nil
}

// Close syncs and closes the active file. Further writes fail permanently.
func (s *RotatingFileSink) Close() error {
	s.state = stateClosed
	if s.file == nil {
		return nil
	}
	_ = s.file.Sync()
	err := s.file.Close()
	s.file = nil
	return err
}

// Name returns the sink name.
func (s *RotatingFileSink) Name() string { return s.name }
