// Package diskio implements the disk-write discipline shared by the
// tool client and tool server (spec §5): compress/decompress a blob
// per its CompressionInfo descriptor, and persist it via write-to-temp
// then atomic rename with bounded retry to tolerate transient
// file-locking (Windows network shares, antivirus scanners).
package diskio

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/wuild-project/wuild/runtime/model"
)

// DefaultRenameAttempts and DefaultRenameInterval match the original's
// documented retry policy (spec §5: "default 50 attempts at 100 ms").
const (
	DefaultRenameAttempts = 50
	DefaultRenameInterval = 100 * time.Millisecond
)

// Compress encodes raw per info. CompressionNone returns raw unchanged.
func Compress(raw []byte, info model.CompressionInfo) ([]byte, error) {
	if info.Type == model.CompressionNone {
		return raw, nil
	}
	var buf bytes.Buffer
	level := info.Level
	if level == 0 {
		level = gzip.DefaultCompression
	}
	w, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("diskio: gzip writer: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("diskio: gzip write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("diskio: gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress.
func Decompress(data []byte, info model.CompressionInfo) ([]byte, error) {
	if info.Type == model.CompressionNone {
		return data, nil
	}
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("diskio: gzip reader: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("diskio: gzip read: %w", err)
	}
	return out, nil
}

// WriteAtomic writes data to path via a temp file and a bounded-retry
// rename (spec §5).
func WriteAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("diskio: write temp file: %w", err)
	}
	return RenameAtomic(tmp, path, DefaultRenameAttempts, DefaultRenameInterval)
}

// RenameAtomic retries os.Rename up to attempts times, sleeping
// interval between attempts, for transient file-locking failures.
func RenameAtomic(oldPath, newPath string, attempts int, interval time.Duration) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := os.Rename(oldPath, newPath); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(interval)
	}
	return fmt.Errorf("diskio: rename %s -> %s after %d attempts: %w", oldPath, newPath, attempts, lastErr)
}
