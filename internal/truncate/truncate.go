// Package truncate shrinks records so their encoded form fits a size limit.
package truncate

import (
	"unicode/utf8"

	"github.com/orgoj/logrelay/internal/record"
)

const (
	ellipsis              = "..."
	minTruncateLength     = 10  // a truncated string keeps at least this many bytes before the ellipsis
	maxTruncateIterations = 100 // safety limit for the truncation loop
	maxNestedDepth        = 10  // nested attribute groups deeper than this are not searched
)

// SizeFunc returns the encoded size of a record.
type SizeFunc func(*record.Record) int

// path addresses a string inside a record: nil is the message, otherwise
// a chain of attribute indexes into nested []record.Attr groups.
type path []int

// Record repeatedly shortens the longest string of rec (the message or an
// attribute value, nested groups included) until size(rec) <= limit or
// nothing is left to shorten. rec itself is never modified; the returned
// record is rec when no truncation happened.
func Record(rec *record.Record, limit int, size SizeFunc) (*record.Record, bool) {
	if rec == nil || limit <= 0 {
		return rec, false
	}
	current := size(rec)
	if current <= limit {
		return rec, false
	}

	msg := rec.Message()
	attrs := make([]record.Attr, 0, rec.NumAttrs())
	rec.Attrs(func(a record.Attr) bool {
		attrs = append(attrs, a)
		return true
	})

	out := rec
	truncated := false
	for i := 0; i < maxTruncateIterations && current > limit; i++ {
		p, longest, found := findLongest(msg, attrs)
		if !found {
			break
		}
		excess := current - limit
		keep := len(longest) - excess - len(ellipsis)
		if keep < minTruncateLength {
			keep = minTruncateLength
		}
		shortened := String(longest, keep)
		if p == nil {
			msg = shortened
		} else {
			attrs = replaceAt(attrs, p, shortened)
		}
		truncated = true

		out = rec.WithMessage(msg).WithAttrs(attrs)
		current = size(out)
	}
	return out, truncated
}

// String cuts s to at most keep bytes on a rune boundary and appends an
// ellipsis. Strings already short enough are returned unchanged.
func String(s string, keep int) string {
	if len(s) <= keep+len(ellipsis) {
		return s
	}
	for keep > 0 && !utf8.RuneStart(s[keep]) {
		keep--
	}
	return s[:keep] + ellipsis
}

// Bytes cuts p to at most limit bytes without splitting a UTF-8 sequence.
func Bytes(p []byte, limit int) []byte {
	if len(p) <= limit {
		return p
	}
	for limit > 0 && !utf8.RuneStart(p[limit]) {
		limit--
	}
	return p[:limit]
}

// findLongest finds the longest string that can still be shortened.
func findLongest(msg string, attrs []record.Attr) (path, string, bool) {
	var bestPath path
	best := ""
	found := false
	if truncatable(msg) {
		best, found = msg, true
	}
	var walk func(attrs []record.Attr, prefix path, depth int)
	walk = func(attrs []record.Attr, prefix path, depth int) {
		if depth > maxNestedDepth {
			return
		}
		for i, a := range attrs {
			switch v := a.Value.(type) {
			case string:
				if truncatable(v) && len(v) > len(best) {
					bestPath = append(append(path{}, prefix...), i)
					best, found = v, true
				}
			case []record.Attr:
				walk(v, append(append(path{}, prefix...), i), depth+1)
			}
		}
	}
	walk(attrs, path{}, 0)
	return bestPath, best, found
}

func truncatable(s string) bool {
	return len(s) > minTruncateLength+len(ellipsis)
}

// replaceAt returns a copy of attrs with the string at p replaced.
func replaceAt(attrs []record.Attr, p path, s string) []record.Attr {
	out := make([]record.Attr, len(attrs))
	copy(out, attrs)
	if len(p) == 1 {
		out[p[0]].Value = s
		return out
	}
	nested, _ := out[p[0]].Value.([]record.Attr)
	out[p[0]].Value = replaceAt(nested, p[1:], s)
	return out
}
