package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

const (
	currentFileName = "audit_current.jsonl"

	defaultMaxFileSize   = 100 * 1024 * 1024 // 100 MiB
	defaultMaxFileAge    = 24 * time.Hour
	defaultRetentionDays = 90
	defaultFlushEvents   = 10
)

// WriterConfig controls rotation and retention for the audit directory.
type WriterConfig struct {
	Dir              string
	MaxFileSize      int64
	MaxFileAge       time.Duration
	RetentionDays    int
	FlushEveryEvents int
}

// DefaultWriterConfig returns the documented defaults for dir.
func DefaultWriterConfig(dir string) WriterConfig {
	return WriterConfig{
		Dir:              dir,
		MaxFileSize:      defaultMaxFileSize,
		MaxFileAge:       defaultMaxFileAge,
		RetentionDays:    defaultRetentionDays,
		FlushEveryEvents: defaultFlushEvents,
	}
}

// writer owns the active audit file and the hash-chain tail. It is not
// safe for concurrent use; Service serializes all access onto a single
// goroutine.
type writer struct {
	cfg WriterConfig

	file        *os.File
	buf         *bufio.Writer
	currentPath string
	currentSize int64
	openedAt    time.Time
	sinceFlush  int

	lastHash string
}

func newWriter(cfg WriterConfig) (*writer, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("audit: create dir: %w", err)
	}
	w := &writer{cfg: cfg}
	if err := w.openCurrent(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *writer) openCurrent() error {
	path := filepath.Join(w.cfg.Dir, currentFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("audit: open current file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("audit: stat current file: %w", err)
	}
	w.file = f
	w.buf = bufio.NewWriter(f)
	w.currentPath = path
	w.currentSize = info.Size()
	w.openedAt = time.Now()
	w.sinceFlush = 0
	return nil
}

// write chains, serializes, and appends one event, rotating first when
// needed.
func (w *writer) write(p PersistedEvent) error {
	if w.shouldRotate() {
		if err := w.rotate(); err != nil {
			return err
		}
	}

	e := chainEvent(p.toEvent(), w.lastHash)
	p = p.withEvent(e)
	w.lastHash = e.Hash

	line, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("audit: marshal event: %w", err)
	}
	line = append(line, '\n')

	n, err := w.buf.Write(line)
	if err != nil {
		return fmt.Errorf("audit: write event: %w", err)
	}
	w.currentSize += int64(n)
	w.sinceFlush++

	if w.sinceFlush >= w.cfg.FlushEveryEvents {
		if err := w.flush(); err != nil {
			return err
		}
	}
	return nil
}

func (w *writer) flush() error {
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("audit: flush: %w", err)
	}
	w.sinceFlush = 0
	return nil
}

func (w *writer) shouldRotate() bool {
	if w.cfg.MaxFileSize > 0 && w.currentSize >= w.cfg.MaxFileSize {
		return true
	}
	if w.cfg.MaxFileAge > 0 && time.Since(w.openedAt) >= w.cfg.MaxFileAge {
		return true
	}
	return false
}

func (w *writer) rotate() error {
	if err := w.flush(); err != nil {
		return err
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("audit: close current file: %w", err)
	}

	rotatedName := fmt.Sprintf("audit_%d.jsonl", time.Now().Unix())
	rotatedPath := filepath.Join(w.cfg.Dir, rotatedName)
	if err := os.Rename(w.currentPath, rotatedPath); err != nil {
		slog.Warn("audit: failed to rotate audit file", "error", err)
	} else {
		slog.Info("audit: rotated audit file", "path", rotatedPath)
	}

	if err := w.openCurrent(); err != nil {
		return err
	}

	if err := w.cleanupOldFiles(); err != nil {
		slog.Warn("audit: failed to clean up old audit files", "error", err)
	}
	return nil
}

func (w *writer) cleanupOldFiles() error {
	if w.cfg.RetentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-time.Duration(w.cfg.RetentionDays) * 24 * time.Hour)

	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		return fmt.Errorf("audit: read dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == currentFileName {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(w.cfg.Dir, entry.Name())
			if err := os.Remove(path); err != nil {
				slog.Warn("audit: failed to remove expired audit file", "path", path, "error", err)
				continue
			}
			slog.Info("audit: removed expired audit file", "path", path)
		}
	}
	return nil
}

func (w *writer) close() error {
	if w.buf != nil {
		_ = w.buf.Flush()
	}
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}
