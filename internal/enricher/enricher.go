// internal/enricher/enricher.go

// Package enricher adds server-side attributes to records received over HTTP.
package enricher

import (
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/orgoj/logrelay/internal/config"
	"github.com/orgoj/logrelay/internal/record"
)

// Attribute sources of add_attributes.
const (
	SourceStatic   = "static"
	SourceHeader   = "header"
	SourceClientIP = "client_ip"
	SourceHostname = "hostname"
)

// Cached system values to avoid repeated syscalls
var (
	cachedHostname string
	cacheOnce      sync.Once
)

func hostname() string {
	cacheOnce.Do(func() {
		h, err := os.Hostname()
		if err != nil {
			h = "unknown"
		}
		cachedHostname = h
	})
	return cachedHostname
}

// Enricher applies the configured add_attributes in order.
type Enricher struct {
	specs []config.AddAttributeSpec
}

// New checks the specs. static and header sources need a value.
func New(specs []config.AddAttributeSpec) (*Enricher, error) {
	for _, spec := range specs {
		switch spec.Source {
		case SourceStatic, SourceHeader:
			if spec.Value == "" {
				return nil, fmt.Errorf("add_attributes '%s': source '%s' requires a value", spec.Name, spec.Source)
			}
		case SourceClientIP, SourceHostname:
		default:
			return nil, fmt.Errorf("add_attributes '%s': unknown source type: %s", spec.Name, spec.Source)
		}
	}
	return &Enricher{specs: specs}, nil
}

// Apply adds the attributes to b. A configured attribute replaces a
// producer-supplied one of the same name, so producers cannot forge
// client_ip. Header attributes are skipped when the header is absent.
func (e *Enricher) Apply(b *record.Builder, r *http.Request, clientIP string) {
	if e == nil {
		return
	}
	for _, spec := range e.specs {
		switch spec.Source {
		case SourceStatic:
			b.Add(spec.Name, spec.Value)
		case SourceHeader:
			if r == nil {
				continue
			}
			if v := r.Header.Get(spec.Value); v != "" {
				b.Add(spec.Name, v)
			}
		case SourceClientIP:
			b.Add(spec.Name, clientIP)
		case SourceHostname:
			b.Add(spec.Name, hostname())
		}
	}
}
