package logger

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// RotatingFile is a size-rotated log file. Rotated files are renamed with a
// timestamp suffix and, optionally, gzipped. Only the newest MaxFiles are kept.
type RotatingFile struct {
	mu       sync.Mutex
	path     string
	maxSize  int64
	maxFiles int
	compress bool
	file     *os.File
	size     int64
}

// NewRotatingFile opens path for appending. maxSizeMB <= 0 disables rotation.
func NewRotatingFile(path string, maxSizeMB, maxFiles int, compress bool) (*RotatingFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	rf := &RotatingFile{
		path:     path,
		maxSize:  int64(maxSizeMB) * 1024 * 1024,
		maxFiles: maxFiles,
		compress: compress,
	}
	if err := rf.open(); err != nil {
		return nil, err
	}
	return rf, nil
}

func (rf *RotatingFile) open() error {
	file, err := os.OpenFile(rf.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	rf.file = file
	rf.size = info.Size()
	return nil
}

// Write appends p, rotating first when p would push the file past its limit
func (rf *RotatingFile) Write(p []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.file == nil {
		return 0, os.ErrClosed
	}
	if rf.maxSize > 0 && rf.size > 0 && rf.size+int64(len(p)) > rf.maxSize {
		if err := rf.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := rf.file.Write(p)
	rf.size += int64(n)
	return n, err
}

// Close closes the current file
func (rf *RotatingFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.file == nil {
		return nil
	}
	err := rf.file.Close()
	rf.file = nil
	return err
}

func (rf *RotatingFile) rotate() error {
	if err := rf.file.Close(); err != nil {
		return err
	}

	base := fmt.Sprintf("%s.%s", rf.path, time.Now().Format("20060102-150405.000000000"))
	rotated := base
	for i := 1; exists(rotated) || exists(rotated+".gz"); i++ {
		rotated = fmt.Sprintf("%s-%d", base, i)
	}
	if err := os.Rename(rf.path, rotated); err != nil {
		return err
	}
	if rf.compress {
		if err := gzipFile(rotated); err != nil {
			return err
		}
	}
	rf.prune()

	return rf.open()
}

// prune removes the oldest rotated files beyond maxFiles
func (rf *RotatingFile) prune() {
	if rf.maxFiles <= 0 {
		return
	}

	matches, err := filepath.Glob(rf.path + ".*")
	if err != nil || len(matches) <= rf.maxFiles {
		return
	}

	// timestamp suffixes sort chronologically
	sort.Strings(matches)
	for _, old := range matches[:len(matches)-rf.maxFiles] {
		_ = os.Remove(old)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func gzipFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(path + ".gz")
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
