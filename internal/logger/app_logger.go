// internal/logger/app_logger.go

package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/orgoj/logrelay/internal/config"
)

// AppLogger is the diagnostic logger of the relay itself. It never routes
// through the pipeline it operates.
type AppLogger struct {
	sugar  *zap.SugaredLogger
	level  zap.AtomicLevel
	closer io.Closer
}

// New builds an AppLogger from configuration. Output goes to stdout unless
// cfg.File is set, in which case a lumberjack rotating file is used.
func New(cfg config.AppLogConfig) (*AppLogger, error) {
	var ws zapcore.WriteSyncer
	var closer io.Closer
	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
			LocalTime:  false,
		}
		ws = zapcore.AddSync(lj)
		closer = lj
	} else {
		ws = zapcore.Lock(os.Stdout)
	}

	l := NewWithWriter(ws)
	l.closer = closer
	if cfg.Level != "" {
		if err := l.SetLogLevelFromString(cfg.Level); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// NewWithWriter builds an AppLogger at INFO level writing to ws.
func NewWithWriter(ws zapcore.WriteSyncer) *AppLogger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), ws, level)
	return &AppLogger{
		sugar: zap.New(core).Sugar(),
		level: level,
	}
}

// Nop returns a logger that discards everything.
func Nop() *AppLogger {
	return &AppLogger{sugar: zap.NewNop().Sugar(), level: zap.NewAtomicLevel()}
}

// SetLogLevelFromString sets the minimum level from a name such as "warn".
func (l *AppLogger) SetLogLevelFromString(levelName string) error {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(levelName))); err != nil {
		return fmt.Errorf("invalid log level: %s", levelName)
	}
	l.level.SetLevel(lvl)
	return nil
}

// Named returns a child logger tagged with the given component name.
func (l *AppLogger) Named(name string) *AppLogger {
	return &AppLogger{sugar: l.sugar.Named(name), level: l.level}
}

// Debug logs a message at DEBUG level
func (l *AppLogger) Debug(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }

// Info logs a message at INFO level
func (l *AppLogger) Info(format string, args ...interface{}) { l.sugar.Infof(format, args...) }

// Warn logs a message at WARN level
func (l *AppLogger) Warn(format string, args ...interface{}) { l.sugar.Warnf(format, args...) }

// Error logs a message at ERROR level
func (l *AppLogger) Error(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

// Fatal logs a message at FATAL level and exits the program
func (l *AppLogger) Fatal(format string, args ...interface{}) { l.sugar.Fatalf(format, args...) }

// Sync flushes buffered output and closes the rotating file, if any.
func (l *AppLogger) Sync() error {
	err := l.sugar.Sync()
	if l.closer != nil {
		if cerr := l.closer.Close(); cerr != nil {
			return cerr
		}
	}
	// stdout cannot be fsynced on most platforms
	if err != nil && l.closer == nil {
		return nil
	}
	return err
}
