// internal/record/level.go

package record

import (
	"fmt"
	"strings"
)

// Level is the ordinal severity of a record.
type Level int

const (
	TRACE Level = 10
	DEBUG Level = 20
	INFO  Level = 30
	WARN  Level = 40
	ERROR Level = 50
	FATAL Level = 60
)

var levelNames = map[Level]string{
	TRACE: "TRACE",
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
	FATAL: "FATAL",
}

// LevelNameToLevel maps accepted level names (upper case) to levels.
var LevelNameToLevel = map[string]Level{
	"TRACE":    TRACE,
	"DEBUG":    DEBUG,
	"INFO":     INFO,
	"WARN":     WARN,
	"WARNING":  WARN,
	"ERROR":    ERROR,
	"ERR":      ERROR,
	"FATAL":    FATAL,
	"CRITICAL": FATAL,
}

// String returns the canonical level name. Values between the named
// levels round up to the next named level.
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	switch {
	case l <= TRACE:
		return "TRACE"
	case l <= DEBUG:
		return "DEBUG"
	case l <= INFO:
		return "INFO"
	case l <= WARN:
		return "WARN"
	case l <= ERROR:
		return "ERROR"
	default:
		return "FATAL"
	}
}

// ParseLevel converts a level name (case-insensitive) into a Level.
func ParseLevel(name string) (Level, error) {
	level, ok := LevelNameToLevel[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("invalid log level: %s", name)
	}
	return level, nil
}

// SyslogSeverity maps the level onto RFC 5424 severities (0 emergency .. 7 debug).
func (l Level) SyslogSeverity() int {
	switch {
	case l <= DEBUG:
		return 7
	case l <= INFO:
		return 6
	case l <= WARN:
		return 4
	case l <= ERROR:
		return 3
	default:
		return 2
	}
}
