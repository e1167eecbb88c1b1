// Package logging builds the service's logrus logger from configuration.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kiosk-device/cardhub/internal/config"
)

const timestampFormat = "2006-01-02 15:04:05.000"

// Logger wraps the process logger and the rotating file behind it, if any.
type Logger struct {
	*logrus.Logger
	file *lumberjack.Logger
}

// New creates a logger for cfg.
func New(cfg config.LogConfig) (*Logger, error) {
	l := &Logger{Logger: logrus.New()}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	l.SetLevel(level)

	if err := setFormatter(l.Logger, cfg.Format); err != nil {
		return nil, err
	}
	if err := l.setOutput(cfg); err != nil {
		return nil, err
	}
	return l, nil
}

// Component returns an entry tagged with a component name.
func (l *Logger) Component(name string) *logrus.Entry {
	return l.WithField("component", name)
}

// ApplyLevel switches the level at runtime. Unknown levels are rejected.
func (l *Logger) ApplyLevel(level string) error {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	if parsed == l.GetLevel() {
		return nil
	}
	old := l.GetLevel()
	l.SetLevel(parsed)
	l.Infof("Log level updated from %s to %s", old, parsed)
	return nil
}

// Close releases the log file.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

func setFormatter(logger *logrus.Logger, format string) error {
	switch strings.ToLower(format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "timestamp",
				logrus.FieldKeyMsg:  "message",
			},
		})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: timestampFormat,
			FullTimestamp:   true,
		})
	default:
		return fmt.Errorf("unsupported log format: %s", format)
	}
	return nil
}

func (l *Logger) setOutput(cfg config.LogConfig) error {
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		l.SetOutput(os.Stdout)
	case "stderr":
		l.SetOutput(os.Stderr)
	case "file":
		if cfg.File == "" {
			return fmt.Errorf("file path is required when output is file")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		l.file = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		// Debug runs also echo to the console.
		if strings.EqualFold(cfg.Level, "debug") {
			l.SetOutput(io.MultiWriter(os.Stdout, l.file))
		} else {
			l.SetOutput(l.file)
		}
	default:
		return fmt.Errorf("unsupported log output: %s", cfg.Output)
	}
	return nil
}
