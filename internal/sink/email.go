// internal/sink/email.go

package sink

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/orgoj/logrelay/internal/record"
)

// EmailSink mails records through an SMTP relay. Write sends one message
// per record; WriteBatch sends a single digest, which is what a
// BufferedSink in front of it uses.
type EmailSink struct {
	name           string
	addr           string
	host           string
	from           string
	to             []string
	subject        string
	connectTimeout time.Duration

	dial func(ctx context.Context, network, addr string) (net.Conn, error)
	now  func() time.Time
	tls  *tls.Config
}

// EmailOptions configures an EmailSink.
type EmailOptions struct {
	Addr           string // host:port of the relay
	From           string
	To             []string
	Subject        string
	ConnectTimeout time.Duration
}

// NewEmailSink creates an email sink. Nothing is dialled until a write.
func NewEmailSink(name string, opts EmailOptions) (*EmailSink, error) {
	host, _, err := net.SplitHostPort(opts.Addr)
	if err != nil {
		return nil, fmt.Errorf("email sink '%s': invalid address '%s': %w", name, opts.Addr, err)
	}
	if opts.From == "" || len(opts.To) == 0 {
		return nil, fmt.Errorf("email sink '%s': from and to are required", name)
	}
	d := &net.Dialer{}
	return &EmailSink{
		name:           name,
		addr:           opts.Addr,
		host:           host,
		from:           opts.From,
		to:             opts.To,
		subject:        opts.Subject,
		connectTimeout: opts.ConnectTimeout,
		dial:           d.DialContext,
		now:            time.Now,
		tls:            &tls.Config{ServerName: host},
	}, nil
}

// Write mails a single record.
func (s *EmailSink) Write(ctx context.Context, rec *record.Record) error {
	return s.WriteBatch(ctx, []*record.Record{rec})
}

// WriteBatch mails all records as one digest message.
func (s *EmailSink) WriteBatch(ctx context.Context, recs []*record.Record) error {
	if len(recs) == 0 {
		return nil
	}
	if err := s.send(ctx, s.compose(recs)); err != nil {
		return classifySMTP(s.name, err)
	}
	return nil
}

func (s *EmailSink) compose(recs []*record.Record) []byte {
	subject := s.subject
	if len(recs) > 1 {
		subject = fmt.Sprintf("%s (%d records)", subject, len(recs))
	}
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", s.from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(s.to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", s.now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")

	var line []byte
	for _, rec := range recs {
		line = record.AppendText(line[:0], rec)
		// normalise bare newlines for SMTP
		b.WriteString(strings.ReplaceAll(strings.ReplaceAll(string(line), "\r\n", "\n"), "\n", "\r\n"))
		b.WriteString("\r\n")
	}
	return b.Bytes()
}

func (s *EmailSink) send(ctx context.Context, msg []byte) error {
	dialCtx := ctx
	if s.connectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, s.connectTimeout)
		defer cancel()
	}
	conn, err := s.dial(dialCtx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", s.addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	c, err := smtp.NewClient(conn, s.host)
	if err != nil {
		return s.ctxErr(ctx, err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(s.tls); err != nil {
			return s.ctxErr(ctx, fmt.Errorf("starttls: %w", err))
		}
	}
	if err := c.Mail(s.from); err != nil {
		return s.ctxErr(ctx, fmt.Errorf("MAIL FROM: %w", err))
	}
	for _, rcpt := range s.to {
		if err := c.Rcpt(rcpt); err != nil {
			return s.ctxErr(ctx, fmt.Errorf("RCPT TO %s: %w", rcpt, err))
		}
	}
	w, err := c.Data()
	if err != nil {
		return s.ctxErr(ctx, fmt.Errorf("DATA: %w", err))
	}
	if _, err := w.Write(msg); err != nil {
		return s.ctxErr(ctx, err)
	}
	if err := w.Close(); err != nil {
		return s.ctxErr(ctx, fmt.Errorf("DATA: %w", err))
	}
	return s.ctxErr(ctx, c.Quit())
}

func (s *EmailSink) ctxErr(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%v: %w", err, ctxErr)
	}
	return err
}

// classifySMTP treats 5xx replies as permanent and 4xx replies as transient.
func classifySMTP(sinkName string, err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		if tpErr.Code >= 500 {
			return NewError(sinkName, KindIO, Permanent, err)
		}
		return NewError(sinkName, KindIO, Transient, err)
	}
	return Classify(sinkName, err)
}

// Flush is a no-op: each write is a complete SMTP transaction.
func (s *EmailSink) Flush(context.Context) error { return nil }

// Close is a no-op: no connection outlives a write.
func (s *EmailSink) Close() error { return nil }

// Name returns the sink name.
func (s *EmailSink) Name() string { return s.name }
