package route

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orgoj/logrelay/internal/config"
	"github.com/orgoj/logrelay/internal/record"
)

func rec(level record.Level, logger string) *record.Record {
	return record.New(time.Unix(0, 0), level, logger, "msg")
}

func TestFilter_Allows(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		minLevel string
		level    record.Level
		logger   string
		expected bool
	}{
		{"NoConditions", nil, "", record.TRACE, "anything", true},
		{"BelowMinLevel", nil, "warn", record.INFO, "app", false},
		{"AtMinLevel", nil, "WARNING", record.WARN, "app", true},
		{"SingleSegmentWildcard", []string{"billing.*"}, "", record.INFO, "billing.invoice", true},
		{"SingleSegmentStopsAtDot", []string{"billing.*"}, "", record.INFO, "billing.invoice.pdf", false},
		{"SuperWildcard", []string{"auth.**"}, "", record.INFO, "auth.oauth.google", true},
		{"NoPatternMatches", []string{"billing.*", "auth.**"}, "", record.INFO, "app.db", false},
		{"EmptyLoggerName", []string{"app.*"}, "", record.INFO, "", false},
		{"PatternAndLevel", []string{"app.*"}, "error", record.WARN, "app.db", false},
		{"Alternatives", []string{"{app,svc}.db"}, "", record.INFO, "svc.db", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewFilter(tt.patterns, tt.minLevel)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, f.Allows(rec(tt.level, tt.logger)))
		})
	}
}

func TestFilter_NilAllowsAll(t *testing.T) {
	var f *Filter
	assert.True(t, f.Allows(rec(record.TRACE, "x")))
	assert.Equal(t, "all", f.String())
}

func TestNewFilter_Errors(t *testing.T) {
	_, err := NewFilter([]string{"app.[a"}, "")
	assert.Error(t, err)
	_, err = NewFilter(nil, "loud")
	assert.Error(t, err)
}

func TestFromConfig(t *testing.T) {
	f, err := FromConfig(config.SinkConfig{Name: "s", Match: []string{"a.*"}, MinLevel: "INFO"})
	require.NoError(t, err)
	assert.Equal(t, ">=INFO match [a.*]", f.String())

	_, err = FromConfig(config.SinkConfig{Name: "broken", MinLevel: "loud"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink 'broken'")
}
