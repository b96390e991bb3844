package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const activeLogName = "audit.log"

// FileLogger appends audit events as JSON lines to a file with size-based rotation
type FileLogger struct {
	recorder

	dir      string
	mu       sync.Mutex
	file     *os.File
	encoder  *json.Encoder
	maxSize  int64
	maxFiles int
}

// FileLoggerConfig configures the file logger
type FileLoggerConfig struct {
	Dir      string
	MaxSize  int64 // bytes before rotation, 0 disables rotation
	MaxFiles int   // rotated files to keep
}

// DefaultFileLoggerConfig returns a config writing to dir
func DefaultFileLoggerConfig(dir string) FileLoggerConfig {
	return FileLoggerConfig{
		Dir:      dir,
		MaxSize:  50 * 1024 * 1024,
		MaxFiles: 5,
	}
}

// NewFileLogger creates the directory if needed and opens the active log file
func NewFileLogger(cfg FileLoggerConfig) (*FileLogger, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = 5
	}

	l := &FileLogger{
		dir:      cfg.Dir,
		maxSize:  cfg.MaxSize,
		maxFiles: cfg.MaxFiles,
	}
	l.recorder = recorder{log: l.Log}

	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *FileLogger) activePath() string {
	return filepath.Join(l.dir, activeLogName)
}

func (l *FileLogger) open() error {
	file, err := os.OpenFile(l.activePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open audit log file: %w", err)
	}
	l.file = file
	l.encoder = json.NewEncoder(file)
	return nil
}

// rotate closes the active file, renames it with a timestamp suffix and opens a fresh one
func (l *FileLogger) rotate() error {
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}

	rotated := filepath.Join(l.dir, fmt.Sprintf("audit-%s.log", time.Now().UTC().Format("20060102-150405.000000000")))
	if err := os.Rename(l.activePath(), rotated); err != nil {
		return fmt.Errorf("failed to rename audit log: %w", err)
	}
	l.prune()
	return l.open()
}

// prune removes the oldest rotated files beyond maxFiles
func (l *FileLogger) prune() {
	files, err := filepath.Glob(filepath.Join(l.dir, "audit-*.log"))
	if err != nil || len(files) <= l.maxFiles {
		return
	}
	// timestamp suffixes sort chronologically
	sort.Strings(files)
	for _, f := range files[:len(files)-l.maxFiles] {
		if err := os.Remove(f); err != nil {
			fmt.Fprintf(os.Stderr, "failed to remove old audit log %s: %v\n", f, err)
		}
	}
}

// Log writes one event as a JSON line
func (l *FileLogger) Log(ctx context.Context, event *AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("audit log is closed")
	}

	if l.maxSize > 0 {
		if info, err := l.file.Stat(); err == nil && info.Size() >= l.maxSize {
			if err := l.rotate(); err != nil {
				return fmt.Errorf("failed to rotate audit log: %w", err)
			}
		}
	}

	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// Close closes the active file
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// ReadLogs returns up to count events from the active file, all of them when count <= 0
func (l *FileLogger) ReadLogs(count int) ([]*AuditEvent, error) {
	file, err := os.Open(l.activePath())
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer file.Close()

	var events []*AuditEvent
	decoder := json.NewDecoder(file)
	for count <= 0 || len(events) < count {
		var event AuditEvent
		if err := decoder.Decode(&event); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("failed to decode audit log entry: %w", err)
		}
		events = append(events, &event)
	}
	return events, nil
}
