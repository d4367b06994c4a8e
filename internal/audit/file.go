package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// FileConfig configures a JSON-lines file destination
type FileConfig struct {
	Path string `mapstructure:"path"`
	// MaxSizeMB rotates the file once it grows past this size. 0 disables rotation.
	MaxSizeMB  int `mapstructure:"max_size_mb"`
	MaxBackups int `mapstructure:"max_backups"`
}

// FileShipper appends one JSON object per line to a local file
type FileShipper struct {
	cfg  FileConfig
	mu   sync.Mutex
	file *os.File
	size int64
}

// NewFileShipper opens (or creates) the audit file for appending
func NewFileShipper(cfg *FileConfig) (*FileShipper, error) {
	fs := &FileShipper{cfg: *cfg}
	if err := fs.open(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (fs *FileShipper) open() error {
	f, err := os.OpenFile(fs.cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open audit log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat audit log file: %w", err)
	}
	fs.file, fs.size = f, info.Size()
	return nil
}

// Ship appends entry as one line
func (fs *FileShipper) Ship(_ context.Context, entry *LogEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	line = append(line, '\n')

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if limit := int64(fs.cfg.MaxSizeMB) << 20; limit > 0 && fs.size+int64(len(line)) > limit && fs.size > 0 {
		if err := fs.rotate(); err != nil {
			slog.Error("failed to rotate audit log", "path", fs.cfg.Path, "error", err)
		}
	}

	n, err := fs.file.Write(line)
	fs.size += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

// rotate shifts path.N to path.N+1, moves the live file to path.1 and reopens path.
// Backups beyond MaxBackups are removed.
func (fs *FileShipper) rotate() error {
	if err := fs.file.Close(); err != nil {
		return err
	}

	backup := func(i int) string { return fmt.Sprintf("%s.%d", fs.cfg.Path, i) }
	if fs.cfg.MaxBackups > 0 {
		_ = os.Remove(backup(fs.cfg.MaxBackups))
		for i := fs.cfg.MaxBackups - 1; i >= 1; i-- {
			_ = os.Rename(backup(i), backup(i+1))
		}
		_ = os.Rename(fs.cfg.Path, backup(1))
	} else {
		_ = os.Remove(fs.cfg.Path)
	}

	return fs.open()
}

// Close closes the file
func (fs *FileShipper) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.file.Close()
}
