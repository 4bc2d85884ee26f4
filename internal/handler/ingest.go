// internal/handler/ingest.go

package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/valyala/fastjson"

	"github.com/orgoj/logrelay/internal/enricher"
	"github.com/orgoj/logrelay/internal/iputil"
	"github.com/orgoj/logrelay/internal/logger"
	"github.com/orgoj/logrelay/internal/record"
	"github.com/orgoj/logrelay/internal/truncate"
	"github.com/orgoj/logrelay/internal/validation"
)

// maxReportedErrors caps the per-record errors echoed back to the client.
const maxReportedErrors = 10

// Emitter accepts records for delivery.
type Emitter interface {
	Emit(rec *record.Record) bool
}

// IngestDependencies holds dependencies for the ingest handler
type IngestDependencies struct {
	Pipeline    Emitter
	Enricher    *enricher.Enricher // nil adds nothing
	Resolver    *iputil.Resolver
	Limits      validation.Limits
	MaxBodySize int64 // bytes, 0 disables the limit
	// MaxRecordSize bounds the JSON encoding of one record; longer string
	// values are truncated. 0 disables truncation.
	MaxRecordSize int
	AppLogger     *logger.AppLogger
	Now           func() time.Time
}

// IngestResult is the response body of POST /emit.
type IngestResult struct {
	Accepted int      `json:"accepted"`
	Dropped  int      `json:"dropped"`
	Rejected int      `json:"rejected"`
	Errors   []string `json:"errors,omitempty"`
}

// NewIngestHandler creates the handler of POST /emit. The body is one JSON
// record object or an array of them. The response is 202 when at least one
// record was queued, 503 when every valid record was dropped by the queue
// and 400 when none was valid.
func NewIngestHandler(deps IngestDependencies) gin.HandlerFunc {
	if deps.Pipeline == nil {
		panic("IngestHandler requires a non-nil Pipeline")
	}
	if deps.Resolver == nil {
		panic("IngestHandler requires a non-nil Resolver")
	}
	if deps.AppLogger == nil {
		panic("IngestHandler requires a non-nil AppLogger")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	var parsers fastjson.ParserPool

	return func(c *gin.Context) {
		body := c.Request.Body
		if deps.MaxBodySize > 0 {
			body = http.MaxBytesReader(c.Writer, body, deps.MaxBodySize)
		}
		data, err := io.ReadAll(body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("body exceeds %d bytes", tooLarge.Limit)})
				return
			}
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
			return
		}

		p := parsers.Get()
		defer parsers.Put(p)
		v, err := p.ParseBytes(data)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid JSON: " + err.Error()})
			return
		}

		var items []*fastjson.Value
		switch v.Type() {
		case fastjson.TypeObject:
			items = []*fastjson.Value{v}
		case fastjson.TypeArray:
			items = v.GetArray()
		default:
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "body must be a record object or an array of records"})
			return
		}
		if len(items) == 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "no records"})
			return
		}

		clientIP := deps.Resolver.ClientIP(c.Request)
		now := deps.Now()
		var res IngestResult
		for i, item := range items {
			rec, err := buildRecord(deps, item, c.Request, clientIP, now)
			if err != nil {
				res.Rejected++
				if len(res.Errors) < maxReportedErrors {
					res.Errors = append(res.Errors, fmt.Sprintf("record %d: %v", i, err))
				}
				continue
			}
			if deps.Pipeline.Emit(rec) {
				res.Accepted++
			} else {
				res.Dropped++
			}
		}

		if res.Rejected > 0 {
			deps.AppLogger.Warn("Ingest: rejected %d of %d records from %s: %s", res.Rejected, len(items), clientIP, res.Errors[0])
		}

		switch {
		case res.Accepted > 0:
			c.JSON(http.StatusAccepted, res)
		case res.Dropped > 0:
			c.JSON(http.StatusServiceUnavailable, res)
		default:
			c.JSON(http.StatusBadRequest, res)
		}
	}
}

func buildRecord(deps IngestDependencies, v *fastjson.Value, r *http.Request, clientIP string, now time.Time) (*record.Record, error) {
	b, err := record.DecodeJSON(v, now)
	if err != nil {
		return nil, err
	}
	deps.Enricher.Apply(b, r, clientIP)
	rec, err := validation.SanitizeRecord(b.Build(), deps.Limits)
	if err != nil {
		return nil, err
	}
	rec, _ = truncate.Record(rec, deps.MaxRecordSize, jsonSize)
	return rec, nil
}

func jsonSize(r *record.Record) int {
	return len(record.AppendJSON(nil, r))
}
