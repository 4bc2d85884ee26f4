package truncate

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orgoj/logrelay/internal/record"
)

var ts = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func wireSize(r *record.Record) int { return len(record.AppendWire(nil, r)) }

func jsonSize(r *record.Record) int { return len(record.AppendJSON(nil, r)) }

func TestRecord(t *testing.T) {
	tests := []struct {
		name          string
		rec           *record.Record
		limit         int
		size          SizeFunc
		wantTruncated bool
		check         func(t *testing.T, out *record.Record)
	}{
		{
			name:  "NoTruncationNeeded",
			rec:   record.New(ts, record.INFO, "app", "short"),
			limit: 1000,
			size:  wireSize,
		},
		{
			name:          "LongMessage",
			rec:           record.New(ts, record.INFO, "app", strings.Repeat("m", 500)),
			limit:         100,
			size:          wireSize,
			wantTruncated: true,
			check: func(t *testing.T, out *record.Record) {
				assert.LessOrEqual(t, wireSize(out), 100)
				assert.True(t, strings.HasSuffix(out.Message(), ellipsis))
			},
		},
		{
			name: "LongestAttributeFirst",
			rec: record.New(ts, record.INFO, "app", "started",
				record.Attr{Key: "short", Value: "abc"},
				record.Attr{Key: "long1", Value: "123456789012345"},
				record.Attr{Key: "long2", Value: strings.Repeat("x", 200)}),
			limit:         200,
			size:          jsonSize,
			wantTruncated: true,
			check: func(t *testing.T, out *record.Record) {
				v, _ := out.Attr("long1")
				assert.Equal(t, "123456789012345", v)
				v, _ = out.Attr("long2")
				assert.True(t, strings.HasSuffix(v.(string), ellipsis))
				assert.LessOrEqual(t, jsonSize(out), 200)
			},
		},
		{
			name: "NestedGroup",
			rec: record.New(ts, record.INFO, "app", "req",
				record.Attr{Key: "http", Value: []record.Attr{
					{Key: "path", Value: "/" + strings.Repeat("p", 300)},
				}}),
			limit:         150,
			size:          jsonSize,
			wantTruncated: true,
			check: func(t *testing.T, out *record.Record) {
				v, _ := out.Attr("http")
				group := v.([]record.Attr)
				require.Len(t, group, 1)
				assert.True(t, strings.HasSuffix(group[0].Value.(string), ellipsis))
			},
		},
		{
			name:  "NothingTruncatable",
			rec:   record.New(ts, record.INFO, "a.very.long.logger.name.that.cannot.be.shortened", "tiny"),
			limit: 10,
			size:  wireSize,
			check: func(t *testing.T, out *record.Record) {
				assert.Equal(t, "tiny", out.Message())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := tt.rec.Message()
			out, truncated := Record(tt.rec, tt.limit, tt.size)
			assert.Equal(t, tt.wantTruncated, truncated)
			assert.Equal(t, before, tt.rec.Message(), "input record must not change")
			if !tt.wantTruncated {
				assert.Same(t, tt.rec, out)
			}
			if tt.check != nil {
				tt.check(t, out)
			}
		})
	}
}

func TestString_RuneBoundary(t *testing.T) {
	s := strings.Repeat("é", 20) // 2 bytes each
	out := String(s, 11)
	assert.Equal(t, strings.Repeat("é", 5)+ellipsis, out)
	assert.Equal(t, "short", String("short", 3))
}

func TestBytes(t *testing.T) {
	assert.Equal(t, []byte("abc"), Bytes([]byte("abcdef"), 3))
	assert.Equal(t, []byte("ab"), Bytes([]byte("ab"), 3))
	assert.Equal(t, []byte("a"), Bytes([]byte("aé"), 2))
}
