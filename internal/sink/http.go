// internal/sink/http.go

package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/orgoj/logrelay/internal/record"
)

const maxErrorBodySnippet = 512

// HTTPSink POSTs records as JSON to a collector. A single record is sent
// as an object, a batch as an array. Responses with status 429 or 5xx are
// transient; any other non-2xx status is permanent.
type HTTPSink struct {
	name     string
	url      string
	headers  map[string]string
	compress bool
	client   *http.Client

	body bytes.Buffer
	gz   *gzip.Writer
	buf  []byte
}

// HTTPOptions configures an HTTPSink.
type HTTPOptions struct {
	Scheme         string // http or https
	Target         string // host:port
	URLPath        string
	Headers        map[string]string
	Compress       bool
	ConnectTimeout time.Duration
}

// NewHTTPSink creates an HTTP sink.
func NewHTTPSink(name string, opts HTTPOptions) (*HTTPSink, error) {
	if opts.Scheme != "http" && opts.Scheme != "https" {
		return nil, fmt.Errorf("http sink '%s': unsupported scheme '%s'", name, opts.Scheme)
	}
	path := opts.URLPath
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := url.URL{Scheme: opts.Scheme, Host: opts.Target, Path: path}

	dialer := &net.Dialer{Timeout: opts.ConnectTimeout}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: opts.ConnectTimeout,
		MaxIdleConns:        2,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPSink{
		name:     name,
		url:      u.String(),
		headers:  opts.Headers,
		compress: opts.Compress,
		client:   &http.Client{Transport: transport},
	}, nil
}

// Write POSTs one record as a JSON object.
func (s *HTTPSink) Write(ctx context.Context, rec *record.Record) error {
	s.buf = record.AppendJSON(s.buf[:0], rec)
	return s.post(ctx, s.buf)
}

// WriteBatch POSTs all records as one JSON array.
func (s *HTTPSink) WriteBatch(ctx context.Context, recs []*record.Record) error {
	if len(recs) == 0 {
		return nil
	}
	s.buf = record.AppendJSONArray(s.buf[:0], recs)
	return s.post(ctx, s.buf)
}

func (s *HTTPSink) post(ctx context.Context, payload []byte) error {
	s.body.Reset()
	if s.compress {
		if s.gz == nil {
			s.gz = gzip.NewWriter(&s.body)
		} else {
			s.gz.Reset(&s.body)
		}
		if _, err := s.gz.Write(payload); err != nil {
			return Classify(s.name, err)
		}
		if err := s.gz.Close(); err != nil {
			return Classify(s.name, err)
		}
	} else {
		s.body.Write(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(s.body.Bytes()))
	if err != nil {
		return NewError(s.name, KindConfig, Permanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.compress {
		req.Header.Set("Content-Encoding", "gzip")
	}
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Classify(s.name, unwrapURLError(err))
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySnippet))
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	statusErr := fmt.Errorf("POST %s: %s: %s", s.url, resp.Status, strings.TrimSpace(string(snippet)))
	return NewError(s.name, KindIO, statusSeverity(resp.StatusCode), statusErr)
}

func statusSeverity(code int) Severity {
	if code == http.StatusTooManyRequests || code >= 500 {
		return Transient
	}
	return Permanent
}

// unwrapURLError strips *url.Error so context and net errors classify
// by their own type.
func unwrapURLError(err error) error {
	if ue, ok := err.(*url.Error); ok {
		return fmt.Errorf("%s %s: %w", ue.Op, ue.URL, ue.Err)
	}
	return err
}

// Flush is a no-op: every write is a complete request.
func (s *HTTPSink) Flush(context.Context) error { return nil }

// Close releases idle connections.
func (s *HTTPSink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// Name returns the sink name.
func (s *HTTPSink) Name() string { return s.name }
