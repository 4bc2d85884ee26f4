package sink

import "github.com/orgoj/logrelay/internal/record"

// appendLine encodes rec in the configured line format ("text" or "json")
// followed by a newline.
func appendLine(dst []byte, rec *record.Record, format string) []byte {
	if format == "json" {
		dst = record.AppendJSON(dst, rec)
	} else {
		dst = record.AppendText(dst, rec)
	}
	return append(dst, '\n')
}
