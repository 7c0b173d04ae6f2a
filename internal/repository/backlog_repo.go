package repository

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// File names match what ships on the device filesystem: pending-new
// accumulates freshly buffered entries, pending-retry is the batch an
// earlier delivery attempt was interrupted on.
const (
	pendingNewFile   = "pending-new"
	pendingRetryFile = "pending-retry"
)

// FileBacklog keeps the offline telemetry backlog as two plain-text
// files, one JSON object per line. Only one goroutine may use it; the
// telemetry pipeline is the sole owner.
type FileBacklog struct {
	dir string
}

func NewFileBacklog(dir string) *FileBacklog {
	return &FileBacklog{dir: dir}
}

func (b *FileBacklog) newPath() string   { return filepath.Join(b.dir, pendingNewFile) }
func (b *FileBacklog) retryPath() string { return filepath.Join(b.dir, pendingRetryFile) }

// AppendNew writes all lines to pending-new in a single append and
// fsyncs before returning, so a flushed batch survives power loss.
func (b *FileBacklog) AppendNew(lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	f, err := os.OpenFile(b.newPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", pendingNewFile, err)
	}
	defer func() { _ = f.Close() }()

	var sb strings.Builder
	for _, l := range lines {
		sb.WriteString(l)
		sb.WriteByte('\n')
	}
	if _, err := f.WriteString(sb.String()); err != nil {
		return fmt.Errorf("append %s: %w", pendingNewFile, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", pendingNewFile, err)
	}
	return nil
}

func (b *FileBacklog) HasRetry() bool { return fileExists(b.retryPath()) }
func (b *FileBacklog) HasNew() bool   { return fileExists(b.newPath()) }

// ReadRetry returns the retry batch in original append order, blank
// lines skipped.
func (b *FileBacklog) ReadRetry() ([]string, error) {
	raw, err := os.ReadFile(b.retryPath())
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", pendingRetryFile, err)
	}
	var out []string
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out, nil
}

func (b *FileBacklog) DeleteRetry() error {
	if err := os.Remove(b.retryPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", pendingRetryFile, err)
	}
	return nil
}

// PromoteNew renames pending-new to pending-retry. Rename is atomic at
// the filesystem level, so entries are never duplicated across the two
// files and never reordered.
func (b *FileBacklog) PromoteNew() error {
	if err := os.Rename(b.newPath(), b.retryPath()); err != nil {
		return fmt.Errorf("promote %s: %w", pendingNewFile, err)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
