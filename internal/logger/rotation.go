package logger

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// backupTimeFormat is rendered in UTC and contains no path separators
const backupTimeFormat = "2006-01-02T15-04-05.000"

// RotationPolicy bounds the size and retention of a log file
type RotationPolicy struct {
	MaxBytes   int64         // rotate before a write would grow the file past this
	MaxAge     time.Duration // remove backups older than this, 0 keeps them
	MaxBackups int           // keep at most this many backups, 0 keeps all
	Compress   bool          // gzip backups
}

// RotatingWriter appends to a log file and moves it aside as
// name-<timestamp>.ext once the policy's size is reached. Backups are
// compressed and pruned in the background. It is safe for concurrent use.
type RotatingWriter struct {
	path   string
	policy RotationPolicy
	now    func() time.Time

	mu   sync.Mutex
	file *os.File
	size int64

	// millMu serializes compression and pruning
	millMu sync.Mutex
	mills  sync.WaitGroup
}

// OpenRotating opens path for appending under policy
func OpenRotating(path string, policy RotationPolicy) (*RotatingWriter, error) {
	return openRotating(path, policy, time.Now)
}

func openRotating(path string, policy RotationPolicy, now func() time.Time) (*RotatingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	w := &RotatingWriter{
		path:   path,
		policy: policy,
		now:    now,
	}
	if err := w.open(); err != nil {
		return nil, err
	}

	w.startMill("")
	return w, nil
}

func (w *RotatingWriter) open() error {
	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}

	w.file = file
	w.size = info.Size()
	return nil
}

// Write appends p, rotating first when p would overflow a non-empty file
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, os.ErrClosed
	}

	if w.size > 0 && w.size+int64(len(p)) > w.policy.MaxBytes {
		if err := w.rotate(); err != nil {
			return 0, fmt.Errorf("failed to rotate log file: %w", err)
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Close closes the file and waits for background compression and pruning
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	var err error
	if w.file != nil {
		err = w.file.Close()
		w.file = nil
	}
	w.mu.Unlock()

	w.mills.Wait()
	return err
}

// rotate renames the current file to a backup and reopens path. Callers
// hold mu.
func (w *RotatingWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return err
	}
	w.file = nil

	// Same-millisecond rotations must not overwrite each other
	stamp := w.now()
	backup := w.backupName(stamp)
	for exists(backup) || exists(backup+".gz") {
		stamp = stamp.Add(time.Millisecond)
		backup = w.backupName(stamp)
	}
	if err := os.Rename(w.path, backup); err != nil {
		// keep appending to the current file
		if openErr := w.open(); openErr != nil {
			return errors.Join(err, openErr)
		}
		return err
	}
	if err := w.open(); err != nil {
		return err
	}

	w.startMill(backup)
	return nil
}

// startMill compresses backup, if any, then prunes old backups
func (w *RotatingWriter) startMill(backup string) {
	w.mills.Add(1)
	go func() {
		defer w.mills.Done()
		w.millMu.Lock()
		defer w.millMu.Unlock()

		if backup != "" && w.policy.Compress {
			if err := compressFile(backup); err != nil {
				log.Warn().Err(err).Str("file", backup).Msg("Failed to compress rotated log")
			}
		}
		w.prune()
	}()
}

func (w *RotatingWriter) backupName(t time.Time) string {
	dir := filepath.Dir(w.path)
	base := filepath.Base(w.path)
	ext := filepath.Ext(base)
	prefix := strings.TrimSuffix(base, ext)
	return filepath.Join(dir, fmt.Sprintf("%s-%s%s", prefix, t.UTC().Format(backupTimeFormat), ext))
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

type backupFile struct {
	path      string
	timestamp time.Time
}

// backups lists rotated files, newest first, by the timestamp in their name
func (w *RotatingWriter) backups() ([]backupFile, error) {
	dir := filepath.Dir(w.path)
	base := filepath.Base(w.path)
	ext := filepath.Ext(base)
	prefix := strings.TrimSuffix(base, ext) + "-"

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var found []backupFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) {
			continue
		}

		stamp := strings.TrimPrefix(name, prefix)
		stamp = strings.TrimSuffix(stamp, ".gz")
		if !strings.HasSuffix(stamp, ext) {
			continue
		}
		t, err := time.ParseInLocation(backupTimeFormat, strings.TrimSuffix(stamp, ext), time.UTC)
		if err != nil {
			continue
		}
		found = append(found, backupFile{path: filepath.Join(dir, name), timestamp: t})
	}

	sort.Slice(found, func(i, j int) bool {
		return found[i].timestamp.After(found[j].timestamp)
	})
	return found, nil
}

// prune removes backups beyond MaxBackups or older than MaxAge
func (w *RotatingWriter) prune() {
	if w.policy.MaxAge <= 0 && w.policy.MaxBackups <= 0 {
		return
	}

	backups, err := w.backups()
	if err != nil {
		log.Warn().Err(err).Str("file", w.path).Msg("Failed to list rotated logs")
		return
	}

	cutoff := w.now().Add(-w.policy.MaxAge)
	for i, b := range backups {
		tooMany := w.policy.MaxBackups > 0 && i >= w.policy.MaxBackups
		tooOld := w.policy.MaxAge > 0 && b.timestamp.Before(cutoff)
		if !tooMany && !tooOld {
			continue
		}
		if err := os.Remove(b.path); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("file", b.path).Msg("Failed to remove rotated log")
		}
	}
}

// compressFile gzips path to path.gz and removes the original
func compressFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(path+".gz", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		gz.Close()
		dst.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}

	return os.Remove(path)
}
