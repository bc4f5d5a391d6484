// Package logging provides a size-rotating file writer used as the slog
// output when file logging is configured. Rotation keeps a bounded number
// of timestamped backups and prunes backups past a maximum age.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// RotatingWriter is an io.WriteCloser that starts a new log file once the
// current one would exceed its size limit.
type RotatingWriter struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	written int64

	limitBytes int64
	keepCount  int
	keepDays   int
}

// NewRotatingWriter opens (or creates) the log file at path. When a write
// would push the file past maxSizeMB, the file is renamed to
// <name>-<timestamp><ext> and a fresh one is opened. At most maxBackups
// rotated files are retained, and none older than maxAgeDays.
func NewRotatingWriter(path string, maxSizeMB, maxBackups, maxAgeDays int) (*RotatingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	w := &RotatingWriter{
		path:       path,
		limitBytes: int64(maxSizeMB) << 20,
		keepCount:  maxBackups,
		keepDays:   maxAgeDays,
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	w.file = f
	w.written = info.Size()
	return nil
}

// Write appends p to the current file, rotating first if the write would
// exceed the size limit.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.written+int64(len(p)) > w.limitBytes {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := w.file.Write(p)
	w.written += int64(n)
	return n, err
}

// Close closes the current log file.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Close()
}

// splitPath returns the path without extension and the extension, defaulting
// the extension to ".log" for bare names.
func (w *RotatingWriter) splitPath() (string, string) {
	ext := filepath.Ext(w.path)
	stem := strings.TrimSuffix(w.path, ext)
	if ext == "" {
		ext = ".log"
	}
	return stem, ext
}

func (w *RotatingWriter) rotate() error {
	if w.file != nil {
		w.file.Close()
	}

	stem, ext := w.splitPath()
	backup := fmt.Sprintf("%s-%s%s", stem, time.Now().Format("20060102-150405.000"), ext)
	os.Rename(w.path, backup) //nolint:errcheck

	if err := w.open(); err != nil {
		return err
	}

	// Pruning walks the directory, so keep it off the write path.
	go w.prune()
	return nil
}

// prune deletes rotated backups beyond the retention count or age.
func (w *RotatingWriter) prune() {
	stem, ext := w.splitPath()
	dir := filepath.Dir(w.path)
	prefix := filepath.Base(stem) + "-"
	current := filepath.Base(w.path)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	var backups []string
	for _, e := range entries {
		name := e.Name()
		if name != current && strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ext) {
			backups = append(backups, name)
		}
	}

	// Timestamped names sort oldest first.
	sort.Strings(backups)

	for len(backups) > w.keepCount {
		os.Remove(filepath.Join(dir, backups[0])) //nolint:errcheck
		backups = backups[1:]
	}

	cutoff := time.Now().AddDate(0, 0, -w.keepDays)
	for _, name := range backups {
		full := filepath.Join(dir, name)
		info, err := os.Stat(full)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(full) //nolint:errcheck
		}
	}
}
