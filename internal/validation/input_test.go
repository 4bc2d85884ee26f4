package validation

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orgoj/logrelay/internal/record"
)

var ts = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func TestIsValidLoggerName(t *testing.T) {
	for _, ok := range []string{"", "app", "billing.worker-3", "svc:api/v1", "a_b"} {
		assert.NoError(t, IsValidLoggerName(ok), ok)
	}
	assert.ErrorIs(t, IsValidLoggerName("app name"), ErrInvalidChars)
	assert.ErrorIs(t, IsValidLoggerName("app\n"), ErrInvalidChars)
	assert.ErrorIs(t, IsValidLoggerName(strings.Repeat("a", MaxLoggerNameLength+1)), ErrInputTooLong)
}

func TestSanitizeKeyAndString(t *testing.T) {
	assert.Equal(t, "userid", SanitizeKey("  user\x00id\n ", 64))
	assert.Equal(t, "abc", SanitizeKey("abcdef", 3))
	assert.Equal(t, "line1\nline2\tx", SanitizeString("line1\nline2\tx\x07", 100))
	// never split a multi-byte rune
	assert.Equal(t, "ab", SanitizeString("abč", 3))
	assert.Equal(t, "unbounded", SanitizeString("unbounded", 0))
}

func TestSanitizeRecord(t *testing.T) {
	rec := record.New(ts, record.WARN, "web.checkout", "  payment\x1b[31m failed ",
		record.Attr{Key: "order", Value: int64(42)},
		record.Attr{Key: "\x00", Value: "dropped"},
		record.Attr{Key: "user", Value: []record.Attr{{Key: "name", Value: "Jan\x07"}}},
		record.Attr{Key: "tags", Value: []interface{}{"a\x01", true}},
	)

	clean, err := SanitizeRecord(rec, DefaultLimits)
	require.NoError(t, err)

	assert.Equal(t, "payment[31m failed", clean.Message())
	assert.Equal(t, 3, clean.NumAttrs())
	user, _ := clean.Attr("user")
	assert.Equal(t, []record.Attr{{Key: "name", Value: "Jan"}}, user)
	tags, _ := clean.Attr("tags")
	assert.Equal(t, []interface{}{"a", true}, tags)

	assert.Equal(t, "  payment\x1b[31m failed ", rec.Message(), "input is not modified")
	assert.Equal(t, 4, rec.NumAttrs())
}

func TestSanitizeRecord_Limits(t *testing.T) {
	lim := Limits{MaxDepth: 1, MaxKeyLength: 8, MaxStringLength: 16, MaxAttributes: 2}

	_, err := SanitizeRecord(record.New(ts, record.INFO, "bad name", "x"), lim)
	assert.ErrorIs(t, err, ErrInvalidChars)

	many := record.New(ts, record.INFO, "app", "x",
		record.Attr{Key: "a", Value: 1}, record.Attr{Key: "b", Value: 2}, record.Attr{Key: "c", Value: 3})
	_, err = SanitizeRecord(many, lim)
	assert.ErrorIs(t, err, ErrTooManyAttributes)

	deep := []record.Attr{{Key: "l1", Value: []record.Attr{{Key: "l2", Value: []record.Attr{{Key: "l3", Value: "x"}}}}}}
	_, err = SanitizeRecord(record.New(ts, record.INFO, "app", "x", deep...), lim)
	assert.ErrorIs(t, err, ErrMaxDepthExceeded)
	assert.ErrorContains(t, err, "attribute 'l1'")

	deepArray := record.Attr{Key: "arr", Value: []interface{}{[]interface{}{[]interface{}{1}}}}
	_, err = SanitizeRecord(record.New(ts, record.INFO, "app", "x", deepArray), lim)
	assert.ErrorIs(t, err, ErrMaxDepthExceeded)
}
