// internal/sink/registry.go

package sink

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/orgoj/logrelay/internal/config"
	"github.com/orgoj/logrelay/internal/logger"
	"github.com/orgoj/logrelay/internal/record"
)

// New builds the sink described by cfg, wrapped in a BufferedSink when
// buffer_capacity is set. cfg is expected to have passed config validation.
func New(cfg config.SinkConfig) (Sink, error) {
	var s Sink
	var err error
	connect := cfg.Timeouts.Connect.Std()

	switch cfg.Type {
	case config.SinkConsole:
		s = NewConsoleSink(cfg.Name, cfg.Target, cfg.Format, cfg.Color)
	case config.SinkFile:
		s, err = NewFileSink(cfg.Name, cfg.Target, cfg.Format)
	case config.SinkRotatingFile:
		var policy RotationPolicy
		policy, err = NewRotationPolicy(cfg.Rotation)
		if err == nil {
			s, err = NewRotatingFileSink(cfg.Name, cfg.Target, cfg.Format, policy)
		}
	case config.SinkNetwork:
		if cfg.Protocol == "http" || cfg.Protocol == "https" {
			s, err = NewHTTPSink(cfg.Name, HTTPOptions{
				Scheme:         cfg.Protocol,
				Target:         cfg.Target,
				URLPath:        cfg.URLPath,
				Headers:        cfg.Headers,
				Compress:       cfg.Compress,
				ConnectTimeout: connect,
			})
		} else {
			s, err = NewNetworkSink(cfg.Name, NetworkOptions{
				Protocol:       cfg.Protocol,
				Target:         cfg.Target,
				URLPath:        cfg.URLPath,
				Headers:        cfg.Headers,
				MaxDatagram:    cfg.MaxDatagram,
				ConnectTimeout: connect,
			})
		}
	case config.SinkSyslog:
		facility, ok := config.SyslogFacilities[cfg.Facility]
		if !ok {
			return nil, fmt.Errorf("unknown syslog facility '%s'", cfg.Facility)
		}
		s, err = NewSyslogSink(cfg.Name, SyslogOptions{
			Network:        cfg.Protocol,
			Address:        cfg.Target,
			Facility:       facility,
			Tag:            cfg.Tag,
			MaxDatagram:    cfg.MaxDatagram,
			ConnectTimeout: connect,
		})
	case config.SinkGelf:
		s, err = NewGelfSink(cfg.Name, cfg.Target, cfg.Protocol, cfg.CompressionType, connect)
	case config.SinkEmail:
		s, err = NewEmailSink(cfg.Name, EmailOptions{
			Addr:           cfg.Target,
			From:           cfg.From,
			To:             cfg.To,
			Subject:        cfg.Subject,
			ConnectTimeout: connect,
		})
	default:
		err = fmt.Errorf("unsupported sink type: %s", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	if cfg.BufferCapacity > 0 {
		var flushLevel record.Level
		if cfg.FlushLevel != "" {
			if flushLevel, err = record.ParseLevel(cfg.FlushLevel); err != nil {
				s.Close()
				return nil, err
			}
		}
		buffered, err := NewBufferedSink(s, cfg.BufferCapacity, flushLevel)
		if err != nil {
			s.Close()
			return nil, err
		}
		return buffered, nil
	}
	return s, nil
}

// NewRotationPolicy builds the policy described by cfg.
func NewRotationPolicy(cfg *config.RotationConfig) (RotationPolicy, error) {
	if cfg == nil {
		return nil, fmt.Errorf("rotation is required")
	}
	switch cfg.Policy {
	case "size":
		return NewSizePolicy(int64(cfg.MaxSize), cfg.BackupCount), nil
	case "time":
		return NewTimePolicy(cfg.When, cfg.Interval, cfg.BackupCount, cfg.UTC)
	}
	return nil, fmt.Errorf("unsupported rotation policy: %s", cfg.Policy)
}

// Build creates every enabled sink in configuration order. If any sink
// fails, the ones already built are closed and all errors are returned.
func Build(cfgs []config.SinkConfig, log *logger.AppLogger) ([]Sink, error) {
	sinks := make([]Sink, 0, len(cfgs))
	var errs error
	for _, cfg := range cfgs {
		if !cfg.IsEnabled() {
			log.Debug("Sink '%s' is disabled, skipping", cfg.Name)
			continue
		}
		s, err := New(cfg)
		if err != nil {
			log.Error("Failed to initialize sink '%s' (type: %s): %v", cfg.Name, cfg.Type, err)
			errs = multierr.Append(errs, fmt.Errorf("sink '%s': %w", cfg.Name, err))
			continue
		}
		sinks = append(sinks, s)
		log.Info("Initialized sink '%s' (type: %s)", cfg.Name, cfg.Type)
	}
	if errs != nil {
		for _, s := range sinks {
			errs = multierr.Append(errs, s.Close())
		}
		return nil, errs
	}
	return sinks, nil
}
