// internal/record/format.go

package record

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeLayout is the timestamp layout used by the text format.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

var wireEscaper = strings.NewReplacer(
	`\`, `\\`,
	"|", `\|`,
	"\n", `\n`,
	"\r", `\r`,
)

// AppendText appends the human readable form of the record, without a
// trailing newline.
// Example: [2025-01-02T10:00:00.000Z] INFO app.db: connected (host=db1 port=5432)
func AppendText(dst []byte, r *Record) []byte {
	dst = append(dst, '[')
	dst = r.time.AppendFormat(dst, TimeLayout)
	dst = append(dst, "] "...)
	return AppendMessage(dst, r)
}

// AppendMessage appends the text form without the timestamp, for
// transports that carry their own (syslog, email subjects).
func AppendMessage(dst []byte, r *Record) []byte {
	var sb strings.Builder
	sb.WriteString(r.level.String())
	if r.logger != "" {
		sb.WriteString(" ")
		sb.WriteString(r.logger)
	}
	sb.WriteString(": ")
	sb.WriteString(r.msg)

	if len(r.attrs) > 0 {
		sb.WriteString(" (")
		for i, a := range r.attrs {
			if i > 0 {
				sb.WriteString(" ")
			}
			sb.WriteString(a.Key)
			sb.WriteString("=")
			sb.WriteString(FormatValue(a.Value))
		}
		sb.WriteString(")")
	}
	return append(dst, sb.String()...)
}

// AppendWire appends the line protocol form used by the TCP and UDP sinks:
// LEVEL|timestamp|logger|message followed by a newline.
func AppendWire(dst []byte, r *Record) []byte {
	dst = append(dst, r.level.String()...)
	dst = append(dst, '|')
	dst = r.time.AppendFormat(dst, time.RFC3339Nano)
	dst = append(dst, '|')
	dst = append(dst, wireEscaper.Replace(r.logger)...)
	dst = append(dst, '|')
	dst = append(dst, wireEscaper.Replace(r.msg)...)
	return append(dst, '\n')
}

// FormatValue converts an attribute value to its text representation.
func FormatValue(value interface{}) string {
	switch v := value.(type) {
	case string:
		if strings.ContainsAny(v, " \t\n\"") {
			return strconv.Quote(v)
		}
		return v
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		return v.Format(time.RFC3339Nano)
	case time.Duration:
		return v.String()
	case error:
		return strconv.Quote(v.Error())
	case fmt.Stringer:
		return v.String()
	case []Attr:
		parts := make([]string, len(v))
		for i, a := range v {
			parts[i] = a.Key + "=" + FormatValue(a.Value)
		}
		return "{" + strings.Join(parts, " ") + "}"
	case nil:
		return "<nil>"
	default:
		jsonBytes, err := json.Marshal(v)
		if err == nil {
			return string(jsonBytes)
		}
		return fmt.Sprintf("%v", v)
	}
}
