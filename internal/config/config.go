package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"
)

// Sink types understood by the sink registry.
const (
	SinkConsole      = "console"
	SinkFile         = "file"
	SinkRotatingFile = "rotating_file"
	SinkNetwork      = "network"
	SinkSyslog       = "syslog"
	SinkGelf         = "gelf"
	SinkEmail        = "email"
)

// Overflow policies of the ingestion queue.
const (
	OverflowDropOldest = "drop_oldest"
	OverflowDropNewest = "drop_newest"
	OverflowBlock      = "block"
)

// Config represents the application configuration
type Config struct {
	AppLog   AppLogConfig   `yaml:"app_log"`
	Server   ServerConfig   `yaml:"server"`
	Security SecurityConfig `yaml:"security"`

	Queue         QueueConfig    `yaml:"queue"`
	Retry         RetryConfig    `yaml:"retry"`
	Shutdown      ShutdownConfig `yaml:"shutdown"`
	FlushInterval Duration       `yaml:"flush_interval,omitempty"` // periodic Flush of every sink, 0 disables

	Sinks []SinkConfig `yaml:"sinks" validate:"dive"`
}

// AppLogConfig configures the process' own diagnostic log.
type AppLogConfig struct {
	Level      string `yaml:"level" validate:"omitempty,oneof=DEBUG INFO WARN ERROR debug info warn error"`
	File       string `yaml:"file,omitempty"`        // empty means stdout
	MaxSize    int    `yaml:"max_size,omitempty"`    // MB
	MaxBackups int    `yaml:"max_backups,omitempty"` // files
	MaxAge     int    `yaml:"max_age,omitempty"`     // days
	Compress   bool   `yaml:"compress,omitempty"`
}

// ServerConfig configures the HTTP ingest and admin endpoints.
type ServerConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port" validate:"min=0,max=65535"`
	Mode            string   `yaml:"mode" validate:"omitempty,oneof=release debug"`
	TrustedProxies  []string `yaml:"trusted_proxies"`
	ClientIPHeader  string   `yaml:"client_ip_header,omitempty"`
	AdminAllowedIPs []string `yaml:"admin_allowed_ips,omitempty"`
	RequestLimits   struct {
		MaxBodySize int `yaml:"max_body_size" validate:"min=0"` // bytes
		RateLimit   int `yaml:"rate_limit" validate:"min=0"`    // requests per minute per client IP
	} `yaml:"request_limits"`
	AddAttributes []AddAttributeSpec `yaml:"add_attributes,omitempty" validate:"dive"`
}

// AddAttributeSpec adds an attribute to every record received over HTTP.
type AddAttributeSpec struct {
	Name   string `yaml:"name" validate:"required"`
	Source string `yaml:"source" validate:"oneof=static header client_ip hostname"`
	Value  string `yaml:"value"` // static value or header name
}

// SecurityConfig configures ingest authentication.
type SecurityConfig struct {
	Token struct {
		Secret     string   `yaml:"secret"`     // empty disables token checks
		Expiration Duration `yaml:"expiration"` // lifetime of generated tokens
	} `yaml:"token"`
}

// QueueConfig configures the bounded queue between producers and the dispatcher.
type QueueConfig struct {
	Capacity       int      `yaml:"capacity" validate:"min=1"`
	OverflowPolicy string   `yaml:"overflow_policy" validate:"oneof=drop_oldest drop_newest block"`
	BlockTimeout   Duration `yaml:"block_timeout"`
}

// RetryConfig configures the backoff applied to transient sink failures.
type RetryConfig struct {
	MaxAttempts int      `yaml:"max_attempts" validate:"min=1,max=20"`
	BaseDelay   Duration `yaml:"base_delay"`
	MaxDelay    Duration `yaml:"max_delay"`
}

// ShutdownConfig bounds the final queue drain.
type ShutdownConfig struct {
	GracePeriod Duration `yaml:"grace_period"`
}

// TimeoutConfig holds per-sink I/O limits.
type TimeoutConfig struct {
	Write   Duration `yaml:"write,omitempty"`
	Connect Duration `yaml:"connect,omitempty"`
}

// RotationConfig describes how a rotating_file sink rolls over.
type RotationConfig struct {
	Policy      string `yaml:"policy" validate:"oneof=size time"`
	MaxSize     Size   `yaml:"max_size,omitempty"`     // size policy, e.g. "10MB"
	BackupCount int    `yaml:"backup_count" validate:"min=0"`
	When        string `yaml:"when,omitempty"`     // time policy: S, M, H, D, midnight, W0-W6
	Interval    int    `yaml:"interval,omitempty"` // multiplier for When
	UTC         bool   `yaml:"utc,omitempty"`
}

// SinkConfig represents one configured log sink.
type SinkConfig struct {
	Name    string `yaml:"name" validate:"required"`
	Type    string `yaml:"type" validate:"required"`
	Enabled *bool  `yaml:"enabled,omitempty"` // default true

	// Where: stdout/stderr, a file path, host:port or a unix socket path.
	Target string `yaml:"target"`
	Format string `yaml:"format,omitempty"` // console/file: text or json

	// Console specific
	Color string `yaml:"color,omitempty"` // auto, always, never

	// Rotating file specific
	Rotation *RotationConfig `yaml:"rotation,omitempty"`

	// Network specific
	Protocol    string            `yaml:"protocol,omitempty"` // network: tcp, udp, http, https, websocket; syslog: unixgram, udp, tcp; gelf: udp, tcp
	URLPath     string            `yaml:"url_path,omitempty"`
	Headers     map[string]string `yaml:"headers,omitempty"`
	Compress    bool              `yaml:"compress,omitempty"` // gzip HTTP bodies
	MaxDatagram int               `yaml:"max_datagram,omitempty" validate:"min=0"`

	// GELF specific
	CompressionType string `yaml:"compression_type,omitempty"` // gzip, zlib, none

	// Syslog specific
	Facility string `yaml:"facility,omitempty"`
	Tag      string `yaml:"tag,omitempty"`

	// Email specific
	From    string   `yaml:"from,omitempty"`
	To      []string `yaml:"to,omitempty"`
	Subject string   `yaml:"subject,omitempty"`

	// Memory buffering in front of the sink
	BufferCapacity int    `yaml:"buffer_capacity,omitempty" validate:"min=0"`
	FlushLevel     string `yaml:"flush_level,omitempty"`

	Timeouts TimeoutConfig `yaml:"timeouts,omitempty"`

	// Routing
	Match    []string `yaml:"match,omitempty"` // glob patterns over logger names, '.' separated
	MinLevel string   `yaml:"min_level,omitempty"`
}

// IsEnabled reports whether the sink should be built. Sinks are enabled
// unless explicitly disabled.
func (s SinkConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Default returns a configuration holding every default value.
func Default() *Config {
	cfg := &Config{}
	cfg.AppLog.Level = "INFO"
	cfg.AppLog.MaxSize = 100
	cfg.AppLog.MaxBackups = 3
	cfg.AppLog.MaxAge = 28

	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 8514
	cfg.Server.Mode = "release"
	cfg.Server.RequestLimits.MaxBodySize = 1 << 20

	cfg.Security.Token.Expiration = Duration(24 * time.Hour)

	cfg.Queue.Capacity = 1024
	cfg.Queue.OverflowPolicy = OverflowDropNewest
	cfg.Queue.BlockTimeout = Duration(100 * time.Millisecond)

	cfg.Retry.MaxAttempts = 3
	cfg.Retry.BaseDelay = Duration(100 * time.Millisecond)
	cfg.Retry.MaxDelay = Duration(5 * time.Second)

	cfg.Shutdown.GracePeriod = Duration(5 * time.Second)
	return cfg
}

// LoadConfig loads and validates the configuration from a file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config file '%s': %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML on top of the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// ValidateConfig uses go-playground/validator for struct-level validation,
// then applies per-type defaults and semantic checks.
func ValidateConfig(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		var validationErrors validator.ValidationErrors
		if !errors.As(err, &validationErrors) {
			return err
		}
		messages := make([]string, 0, len(validationErrors))
		for _, fe := range validationErrors {
			messages = append(messages, fmt.Sprintf("field '%s' failed on the '%s' tag", fe.Namespace(), fe.Tag()))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return validateConfig(cfg)
}

// validateConfig performs semantic validation and fills sink defaults in place.
func validateConfig(cfg *Config) error {
	if cfg.Queue.OverflowPolicy == OverflowBlock && cfg.Queue.BlockTimeout <= 0 {
		return errors.New("queue.block_timeout must be positive for overflow_policy 'block'")
	}
	if cfg.Retry.BaseDelay <= 0 || cfg.Retry.MaxDelay < cfg.Retry.BaseDelay {
		return fmt.Errorf("retry: base_delay must be positive and not exceed max_delay (%s > %s)", cfg.Retry.BaseDelay, cfg.Retry.MaxDelay)
	}
	if cfg.Server.Enabled && cfg.Server.Port == 0 {
		return errors.New("server.port is required when the server is enabled")
	}

	names := make(map[string]bool)
	for i := range cfg.Sinks {
		s := &cfg.Sinks[i]
		if names[s.Name] {
			return fmt.Errorf("sinks: duplicate name '%s' found", s.Name)
		}
		names[s.Name] = true

		if err := validateSink(s); err != nil {
			return fmt.Errorf("sinks[%s]: %w", s.Name, err)
		}
	}
	return nil
}

func validateSink(s *SinkConfig) error {
	switch s.Type {
	case SinkConsole:
		if s.Target == "" {
			s.Target = "stdout"
		}
		if s.Target != "stdout" && s.Target != "stderr" {
			return fmt.Errorf("invalid console target '%s', must be 'stdout' or 'stderr'", s.Target)
		}
		if s.Color == "" {
			s.Color = "auto"
		}
		if s.Color != "auto" && s.Color != "always" && s.Color != "never" {
			return fmt.Errorf("invalid color '%s', must be 'auto', 'always' or 'never'", s.Color)
		}
		if err := validateFormat(s); err != nil {
			return err
		}
	case SinkFile:
		if s.Target == "" {
			return errors.New("target (file path) is required for type 'file'")
		}
		if err := validateFormat(s); err != nil {
			return err
		}
	case SinkRotatingFile:
		if s.Target == "" {
			return errors.New("target (file path) is required for type 'rotating_file'")
		}
		if err := validateFormat(s); err != nil {
			return err
		}
		if err := validateRotation(s.Rotation); err != nil {
			return err
		}
	case SinkNetwork:
		if s.Protocol == "" {
			s.Protocol = "tcp"
		}
		switch s.Protocol {
		case "tcp", "udp", "http", "https", "websocket":
		default:
			return fmt.Errorf("invalid protocol '%s', must be one of tcp, udp, http, https, websocket", s.Protocol)
		}
		if err := validateHostPort(s.Target); err != nil {
			return err
		}
		if (s.Protocol == "http" || s.Protocol == "https" || s.Protocol == "websocket") && s.URLPath == "" {
			s.URLPath = "/"
		}
		if s.Protocol == "udp" && s.MaxDatagram == 0 {
			s.MaxDatagram = 8192
		}
	case SinkSyslog:
		if s.Target == "" {
			s.Target = "/dev/log"
		}
		if s.Protocol == "" {
			if strings.HasPrefix(s.Target, "/") {
				s.Protocol = "unixgram"
			} else {
				s.Protocol = "udp"
			}
		}
		switch s.Protocol {
		case "unixgram", "unix":
		case "udp", "tcp":
			if err := validateHostPort(s.Target); err != nil {
				return err
			}
		default:
			return fmt.Errorf("invalid protocol '%s', must be 'unixgram', 'unix', 'udp' or 'tcp'", s.Protocol)
		}
		if s.Facility == "" {
			s.Facility = "user"
		}
		if _, ok := SyslogFacilities[s.Facility]; !ok {
			return fmt.Errorf("unknown syslog facility '%s'", s.Facility)
		}
		if s.Tag == "" {
			s.Tag = "logrelay"
		}
	case SinkGelf:
		if err := validateHostPort(s.Target); err != nil {
			return err
		}
		if s.Protocol == "" {
			s.Protocol = "udp"
		}
		if s.Protocol != "udp" && s.Protocol != "tcp" {
			return fmt.Errorf("invalid protocol '%s', must be 'udp' or 'tcp' for type 'gelf'", s.Protocol)
		}
		if s.CompressionType == "" {
			s.CompressionType = "none"
		}
		if s.CompressionType != "gzip" && s.CompressionType != "zlib" && s.CompressionType != "none" {
			return fmt.Errorf("invalid compression_type '%s', must be 'gzip', 'zlib', or 'none'", s.CompressionType)
		}
	case SinkEmail:
		if err := validateHostPort(s.Target); err != nil {
			return err
		}
		if s.From == "" || len(s.To) == 0 {
			return errors.New("from and to are required for type 'email'")
		}
		if s.Subject == "" {
			s.Subject = "logrelay notification"
		}
	default:
		return fmt.Errorf("unknown type '%s'", s.Type)
	}

	if s.Timeouts.Write == 0 {
		s.Timeouts.Write = Duration(5 * time.Second)
	}
	if s.Timeouts.Connect == 0 {
		s.Timeouts.Connect = Duration(5 * time.Second)
	}
	if s.FlushLevel != "" && s.BufferCapacity == 0 {
		return errors.New("flush_level requires buffer_capacity")
	}
	if err := validateLevelName(s.FlushLevel, "flush_level"); err != nil {
		return err
	}
	if err := validateLevelName(s.MinLevel, "min_level"); err != nil {
		return err
	}
	for _, pattern := range s.Match {
		if _, err := glob.Compile(pattern, '.'); err != nil {
			return fmt.Errorf("invalid match pattern '%s': %w", pattern, err)
		}
	}
	return nil
}

func validateFormat(s *SinkConfig) error {
	if s.Format == "" {
		s.Format = "text"
	}
	if s.Format != "text" && s.Format != "json" {
		return fmt.Errorf("invalid format '%s', must be 'json' or 'text'", s.Format)
	}
	return nil
}

func validateRotation(r *RotationConfig) error {
	if r == nil {
		return errors.New("rotation is required for type 'rotating_file'")
	}
	switch r.Policy {
	case "size":
		if r.MaxSize <= 0 {
			return errors.New("rotation.max_size must be positive for policy 'size'")
		}
	case "time":
		if r.When == "" {
			r.When = "midnight"
		}
		if r.Interval == 0 {
			r.Interval = 1
		}
		if r.Interval < 0 {
			return errors.New("rotation.interval cannot be negative")
		}
		if !validWhen(r.When) {
			return fmt.Errorf("invalid rotation.when '%s', must be S, M, H, D, midnight or W0-W6", r.When)
		}
	default:
		return fmt.Errorf("invalid rotation.policy '%s', must be 'size' or 'time'", r.Policy)
	}
	return nil
}

func validWhen(when string) bool {
	switch strings.ToUpper(when) {
	case "S", "M", "H", "D", "MIDNIGHT":
		return true
	}
	w := strings.ToUpper(when)
	return len(w) == 2 && w[0] == 'W' && w[1] >= '0' && w[1] <= '6'
}

func validateLevelName(name, field string) error {
	if name == "" {
		return nil
	}
	switch strings.ToUpper(name) {
	case "TRACE", "DEBUG", "INFO", "WARN", "WARNING", "ERROR", "ERR", "FATAL", "CRITICAL":
		return nil
	}
	return fmt.Errorf("invalid %s '%s'", field, name)
}

func validateHostPort(target string) error {
	if target == "" {
		return errors.New("target (host:port) is required")
	}
	i := strings.LastIndex(target, ":")
	if i <= 0 || i == len(target)-1 {
		return fmt.Errorf("invalid target '%s', expected host:port", target)
	}
	return nil
}

// SyslogFacilities maps facility names to their RFC 5424 codes.
var SyslogFacilities = map[string]int{
	"kern": 0, "user": 1, "mail": 2, "daemon": 3, "auth": 4, "syslog": 5,
	"lpr": 6, "news": 7, "uucp": 8, "cron": 9, "authpriv": 10, "ftp": 11,
	"local0": 16, "local1": 17, "local2": 18, "local3": 19,
	"local4": 20, "local5": 21, "local6": 22, "local7": 23,
}
