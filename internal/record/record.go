// internal/record/record.go

package record

import "time"

// Attr is a single key/value attribute of a record.
type Attr struct {
	Key   string
	Value interface{}
}

// Record is one structured log entry. It is immutable once built: sinks
// receive a shared pointer and must only read it through the accessors.
type Record struct {
	time   time.Time
	level  Level
	logger string
	msg    string
	attrs  []Attr
}

// New creates a record. The attribute slice is copied, so the caller may
// reuse it afterwards.
func New(t time.Time, level Level, logger, msg string, attrs ...Attr) *Record {
	r := &Record{
		time:   t,
		level:  level,
		logger: logger,
		msg:    msg,
	}
	if len(attrs) > 0 {
		r.attrs = make([]Attr, len(attrs))
		copy(r.attrs, attrs)
	}
	return r
}

// Time returns the record timestamp.
func (r *Record) Time() time.Time { return r.time }

// Level returns the record severity.
func (r *Record) Level() Level { return r.level }

// Logger returns the name of the producing logger.
func (r *Record) Logger() string { return r.logger }

// Message returns the formatted log message.
func (r *Record) Message() string { return r.msg }

// NumAttrs returns the number of attributes.
func (r *Record) NumAttrs() int { return len(r.attrs) }

// Attrs calls fn for each attribute in insertion order until fn returns false.
func (r *Record) Attrs(fn func(Attr) bool) {
	for _, a := range r.attrs {
		if !fn(a) {
			return
		}
	}
}

// Attr looks up the first attribute with the given key.
func (r *Record) Attr(key string) (interface{}, bool) {
	for _, a := range r.attrs {
		if a.Key == key {
			return a.Value, true
		}
	}
	return nil, false
}

// WithMessage returns a copy of the record with a different message.
// Attributes are shared since neither copy ever modifies them.
func (r *Record) WithMessage(msg string) *Record {
	c := *r
	c.msg = msg
	return &c
}

// WithAttrs returns a copy of the record with the given attribute list.
func (r *Record) WithAttrs(attrs []Attr) *Record {
	c := *r
	c.attrs = make([]Attr, len(attrs))
	copy(c.attrs, attrs)
	return &c
}

// Builder accumulates attributes before producing an immutable Record.
type Builder struct {
	time   time.Time
	level  Level
	logger string
	msg    string
	attrs  []Attr
}

// NewBuilder starts a record with the given header fields.
func NewBuilder(t time.Time, level Level, logger, msg string) *Builder {
	return &Builder{time: t, level: level, logger: logger, msg: msg}
}

// Add appends an attribute. A repeated key replaces the earlier value in place.
func (b *Builder) Add(key string, value interface{}) *Builder {
	for i := range b.attrs {
		if b.attrs[i].Key == key {
			b.attrs[i].Value = value
			return b
		}
	}
	b.attrs = append(b.attrs, Attr{Key: key, Value: value})
	return b
}

// Has reports whether the builder already holds the key.
func (b *Builder) Has(key string) bool {
	for _, a := range b.attrs {
		if a.Key == key {
			return true
		}
	}
	return false
}

// Build returns the finished record. The builder must not be used afterwards.
func (b *Builder) Build() *Record {
	r := &Record{time: b.time, level: b.level, logger: b.logger, msg: b.msg, attrs: b.attrs}
	b.attrs = nil
	return r
}
