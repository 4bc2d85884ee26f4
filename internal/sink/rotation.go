// internal/sink/rotation.go

package sink

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// RotationPolicy decides when the active file of a RotatingFileSink rolls
// over and how the old file is archived. Policies are stateful and owned by
// one sink.
type RotationPolicy interface {
	// Opened resets the policy for a freshly opened active file.
	Opened(size int64, modTime time.Time)
	// ShouldRotate reports whether writing incoming bytes at now requires
	// a rollover first.
	ShouldRotate(incoming int64, now time.Time) bool
	// Written accounts for bytes appended to the active file.
	Written(n int64)
	// Archive moves the closed active file at path to a backup name and
	// removes backups beyond the retention count, oldest first.
	Archive(path string, now time.Time) error
}

// SizePolicy rotates when the active file would exceed MaxBytes. Backups
// are path.1 (newest) .. path.N (oldest).
type SizePolicy struct {
	MaxBytes    int64
	BackupCount int

	size int64
}

// NewSizePolicy creates a size based policy.
func NewSizePolicy(maxBytes int64, backupCount int) *SizePolicy {
	return &SizePolicy{MaxBytes: maxBytes, BackupCount: backupCount}
}

func (p *SizePolicy) Opened(size int64, _ time.Time) { p.size = size }

// ShouldRotate never rotates an empty file, so a single oversized record
// still lands somewhere.
func (p *SizePolicy) ShouldRotate(incoming int64, _ time.Time) bool {
	return p.size > 0 && p.size+incoming > p.MaxBytes
}

func (p *SizePolicy) Written(n int64) { p.size += n }

func (p *SizePolicy) Archive(path string, _ time.Time) error {
	if p.BackupCount <= 0 {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to discard %s: %w", path, err)
		}
		return nil
	}

	oldest := indexedBackup(path, p.BackupCount)
	if err := os.Remove(oldest); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove oldest backup %s: %w", oldest, err)
	}
	for i := p.BackupCount - 1; i >= 1; i-- {
		src := indexedBackup(path, i)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := os.Rename(src, indexedBackup(path, i+1)); err != nil {
			return fmt.Errorf("failed to shift backup %s: %w", src, err)
		}
	}
	if err := os.Rename(path, indexedBackup(path, 1)); err != nil {
		return fmt.Errorf("failed to rename %s: %w", path, err)
	}
	return nil
}

func indexedBackup(path string, i int) string {
	return path + "." + strconv.Itoa(i)
}

// TimePolicy rotates on wall-clock boundaries. The boundary is checked
// lazily on each write; there is no timer. Backups carry a date stamp of
// the period they cover.
type TimePolicy struct {
	When        string // S, M, H, D, MIDNIGHT, W0 (Monday) .. W6 (Sunday)
	Interval    int
	BackupCount int
	UTC         bool

	periodStart time.Time
	next        time.Time
}

// NewTimePolicy creates a time based policy.
func NewTimePolicy(when string, interval, backupCount int, utc bool) (*TimePolicy, error) {
	p := &TimePolicy{When: strings.ToUpper(when), Interval: interval, BackupCount: backupCount, UTC: utc}
	if p.Interval <= 0 {
		p.Interval = 1
	}
	if _, err := p.stampLayout(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *TimePolicy) Opened(_ int64, modTime time.Time) {
	p.periodStart = p.localize(modTime)
	p.next = p.nextRollover(p.periodStart)
}

func (p *TimePolicy) ShouldRotate(_ int64, now time.Time) bool {
	return !p.localize(now).Before(p.next)
}

func (p *TimePolicy) Written(int64) {}

func (p *TimePolicy) Archive(path string, _ time.Time) error {
	layout, _ := p.stampLayout()
	dest := path + "." + p.periodStart.Format(layout)
	if err := os.Remove(dest); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to replace backup %s: %w", dest, err)
	}
	if err := os.Rename(path, dest); err != nil {
		return fmt.Errorf("failed to rename %s: %w", path, err)
	}
	return p.prune(path)
}

// Backups lists existing backups of path, oldest first.
func (p *TimePolicy) Backups(path string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`^` + regexp.QuoteMeta(filepath.Base(path)) + `\.\d{4}-\d{2}-\d{2}(_\d{2}(-\d{2}(-\d{2})?)?)?$`)
	var backups []string
	for _, e := range entries {
		if !e.IsDir() && re.MatchString(e.Name()) {
			backups = append(backups, filepath.Join(filepath.Dir(path), e.Name()))
		}
	}
	// stamps are zero padded, so lexical order is chronological
	sort.Strings(backups)
	return backups, nil
}

func (p *TimePolicy) prune(path string) error {
	backups, err := p.Backups(path)
	if err != nil {
		return fmt.Errorf("failed to list backups of %s: %w", path, err)
	}
	for len(backups) > p.BackupCount {
		if err := os.Remove(backups[0]); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove backup %s: %w", backups[0], err)
		}
		backups = backups[1:]
	}
	return nil
}

func (p *TimePolicy) localize(t time.Time) time.Time {
	if p.UTC {
		return t.UTC()
	}
	return t.Local()
}

func (p *TimePolicy) stampLayout() (string, error) {
	switch p.When {
	case "S":
		return "2006-01-02_15-04-05", nil
	case "M":
		return "2006-01-02_15-04", nil
	case "H":
		return "2006-01-02_15", nil
	case "D", "MIDNIGHT":
		return "2006-01-02", nil
	}
	if len(p.When) == 2 && p.When[0] == 'W' && p.When[1] >= '0' && p.When[1] <= '6' {
		return "2006-01-02", nil
	}
	return "", fmt.Errorf("invalid rotation interval type '%s'", p.When)
}

// nextRollover works on wall-clock fields in base's location, so
// boundaries stay on the local hour in zones with a fractional offset.
func (p *TimePolicy) nextRollover(base time.Time) time.Time {
	n := p.Interval
	y, m, d := base.Date()
	hh, mm, ss := base.Clock()
	loc := base.Location()
	switch p.When {
	case "S":
		return time.Date(y, m, d, hh, mm, ss+n, 0, loc)
	case "M":
		return time.Date(y, m, d, hh, mm+n, 0, 0, loc)
	case "H":
		return time.Date(y, m, d, hh+n, 0, 0, 0, loc)
	case "D":
		return base.Add(time.Duration(n) * 24 * time.Hour)
	case "MIDNIGHT":
		return time.Date(y, m, d+n, 0, 0, 0, 0, loc)
	}
	// W0 is Monday; time.Weekday counts from Sunday
	target := time.Weekday((int(p.When[1]-'0') + 1) % 7)
	days := (int(target) - int(base.Weekday()) + 7) % 7
	if days == 0 {
		days = 7
	}
	return time.Date(y, m, d+days, 0, 0, 0, 0, loc)
}
