package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kiosk-device/cardhub/internal/auth"
)

// FileName is the audit file inside the audit directory.
const FileName = "commands.jsonl"

// Entry is a single audit record.
type Entry struct {
	Timestamp    time.Time `json:"ts"`
	User         string    `json:"user"`
	ConnectionID string    `json:"connectionId"`
	RequestID    string    `json:"requestId"`
	Kind         string    `json:"kind"`
	Outcome      string    `json:"outcome"`
	LatencyMs    int64     `json:"latencyMs"`
}

// Options tune file rotation.
type Options struct {
	MaxSizeMB  int
	MaxBackups int
}

// Logger appends one JSON line per executed command.
type Logger struct {
	mu       sync.Mutex
	filePath string
	out      *lumberjack.Logger
	log      *logrus.Entry
	now      func() time.Time
}

// NewLogger creates an audit logger writing to dir/commands.jsonl.
func NewLogger(dir string, opts Options, log *logrus.Entry) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	filePath := filepath.Join(dir, FileName)
	return &Logger{
		filePath: filePath,
		out: &lumberjack.Logger{
			Filename:   filePath,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
		},
		log: log.WithField("component", "audit"),
		now: time.Now,
	}, nil
}

// LogCommand records one executed command. The user comes from the session's
// token claims carried by ctx.
func (l *Logger) LogCommand(ctx context.Context, kind, requestID, connectionID, outcome string, latency time.Duration) {
	l.write(Entry{
		Timestamp:    l.now().UTC(),
		User:         auth.UserFromContext(ctx),
		ConnectionID: connectionID,
		RequestID:    requestID,
		Kind:         kind,
		Outcome:      outcome,
		LatencyMs:    latency.Milliseconds(),
	})
}

func (l *Logger) write(entry Entry) {
	data, err := json.Marshal(entry)
	if err != nil {
		l.log.WithError(err).Error("Failed to marshal audit entry")
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out == nil {
		return
	}
	if _, err := l.out.Write(append(data, '\n')); err != nil {
		l.log.WithError(err).WithField("requestId", entry.RequestID).Error("Failed to write audit entry")
	}
}

// FilePath returns the path of the active audit file.
func (l *Logger) FilePath() string {
	return l.filePath
}

// Rotate starts a new audit file, keeping the old one as a backup.
func (l *Logger) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out == nil {
		return fmt.Errorf("audit logger closed")
	}
	return l.out.Rotate()
}

// Close closes the audit file. Later entries are dropped.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out == nil {
		return nil
	}
	err := l.out.Close()
	l.out = nil
	return err
}
