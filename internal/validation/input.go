// Package validation bounds and cleans records received from untrusted
// producers before they enter the pipeline.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/orgoj/logrelay/internal/record"
)

const (
	DefaultMaxDepth        = 10
	DefaultMaxKeyLength    = 64
	DefaultMaxStringLength = 8192
	DefaultMaxAttributes   = 128
	MaxLoggerNameLength    = 128
)

// Limits bounds the shape of an ingested record.
type Limits struct {
	MaxDepth        int
	MaxKeyLength    int
	MaxStringLength int
	MaxAttributes   int
}

// DefaultLimits are applied by the HTTP ingest endpoint.
var DefaultLimits = Limits{
	MaxDepth:        DefaultMaxDepth,
	MaxKeyLength:    DefaultMaxKeyLength,
	MaxStringLength: DefaultMaxStringLength,
	MaxAttributes:   DefaultMaxAttributes,
}

// Logger names are dotted paths, e.g. "billing.worker-3".
var loggerNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:/-]*$`)

// ErrInputTooLong indicates the input string exceeds the maximum allowed length.
var ErrInputTooLong = errors.New("input exceeds maximum length")

// ErrInvalidChars indicates the input string contains disallowed characters.
var ErrInvalidChars = errors.New("input contains invalid characters")

// ErrMaxDepthExceeded indicates the nested structure exceeds the maximum allowed depth.
var ErrMaxDepthExceeded = errors.New("maximum nesting depth exceeded")

// ErrTooManyAttributes indicates a record carries more attributes than allowed.
var ErrTooManyAttributes = errors.New("too many attributes")

// IsValidLoggerName checks the logger name of an ingested record.
func IsValidLoggerName(name string) error {
	if len(name) > MaxLoggerNameLength {
		return fmt.Errorf("%w: got %d, max %d", ErrInputTooLong, len(name), MaxLoggerNameLength)
	}
	if !loggerNameRegex.MatchString(name) {
		return fmt.Errorf("%w: allowed alphanumeric and _ . : / -", ErrInvalidChars)
	}
	return nil
}

// SanitizeKey removes non-printable characters, trims whitespace and cuts
// the key to maxLength bytes on a rune boundary.
func SanitizeKey(s string, maxLength int) string {
	s = strings.Map(func(r rune) rune {
		if r == ' ' || (unicode.IsPrint(r) && r != utf8.RuneError) {
			return r
		}
		return -1
	}, s)
	return cut(strings.TrimSpace(s), maxLength)
}

// SanitizeString is SanitizeKey for values: newlines and tabs survive so
// multi-line messages such as stack traces keep their shape.
func SanitizeString(s string, maxLength int) string {
	s = strings.Map(func(r rune) rune {
		if r == ' ' || r == '\n' || r == '\t' || (unicode.IsPrint(r) && r != utf8.RuneError) {
			return r
		}
		return -1
	}, s)
	return cut(strings.TrimSpace(s), maxLength)
}

func cut(s string, maxLength int) string {
	if maxLength <= 0 || len(s) <= maxLength {
		return s
	}
	i := maxLength
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return s[:i]
}

// SanitizeRecord checks the logger name, cleans the message and walks the
// attributes. It returns a new record; rec itself is never modified.
func SanitizeRecord(rec *record.Record, lim Limits) (*record.Record, error) {
	if err := IsValidLoggerName(rec.Logger()); err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if lim.MaxAttributes > 0 && rec.NumAttrs() > lim.MaxAttributes {
		return nil, fmt.Errorf("%w: got %d, max %d", ErrTooManyAttributes, rec.NumAttrs(), lim.MaxAttributes)
	}

	attrs := make([]record.Attr, 0, rec.NumAttrs())
	rec.Attrs(func(a record.Attr) bool {
		attrs = append(attrs, a)
		return true
	})
	clean, err := SanitizeAttrs(attrs, lim, 0)
	if err != nil {
		return nil, err
	}
	return rec.WithAttrs(clean).WithMessage(SanitizeString(rec.Message(), lim.MaxStringLength)), nil
}

// SanitizeAttrs sanitizes keys and string values within a nested attribute
// list. Attributes whose key is empty after sanitization are dropped.
func SanitizeAttrs(attrs []record.Attr, lim Limits, depth int) ([]record.Attr, error) {
	if depth > lim.MaxDepth {
		return nil, ErrMaxDepthExceeded
	}
	out := make([]record.Attr, 0, len(attrs))
	for _, a := range attrs {
		key := SanitizeKey(a.Key, lim.MaxKeyLength)
		if key == "" {
			continue
		}
		value, err := sanitizeValue(a.Value, lim, depth)
		if err != nil {
			return nil, fmt.Errorf("attribute '%s': %w", key, err)
		}
		out = append(out, record.Attr{Key: key, Value: value})
	}
	return out, nil
}

func sanitizeValue(value interface{}, lim Limits, depth int) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return SanitizeString(v, lim.MaxStringLength), nil
	case []record.Attr:
		return SanitizeAttrs(v, lim, depth+1)
	case []interface{}:
		if depth+1 > lim.MaxDepth {
			return nil, ErrMaxDepthExceeded
		}
		out := make([]interface{}, len(v))
		for i, item := range v {
			clean, err := sanitizeValue(item, lim, depth+1)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = clean
		}
		return out, nil
	default:
		// numbers, booleans and null pass unchanged
		return v, nil
	}
}
