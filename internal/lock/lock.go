package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// FileName is the lock file created inside a profile directory.
const FileName = "LOCK"

// HeldError is returned when another daemon holds the profile lock.
type HeldError struct {
	PID   int
	Since time.Time
	Path  string
}

func (e *HeldError) Error() string {
	if e.Since.IsZero() {
		return fmt.Sprintf("profile lock held by PID %d (%s)", e.PID, e.Path)
	}
	return fmt.Sprintf("profile lock held by PID %d since %s (%s)", e.PID, e.Since.Format(time.RFC3339), e.Path)
}

// Lock is an acquired profile lock. Only one daemon may sync a profile at
// a time, since two would race on the same snapshot and watermarks.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes an exclusive, non-blocking flock on dir/LOCK and records
// the holder's PID and start time in it.
func Acquire(dir string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}
	path := filepath.Join(dir, FileName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if !errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, fmt.Errorf("flock %s: %w", path, err)
		}
		held := &HeldError{Path: path}
		if h, herr := Holder(dir); herr == nil {
			held.PID, held.Since = h.PID, h.Since
		}
		return nil, held
	}

	if err := writeHolder(f); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Lock{file: f, path: path}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release removes the lock file and drops the flock. Safe to call on a nil
// receiver and more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

// HolderInfo is the content of a lock file.
type HolderInfo struct {
	PID   int
	Since time.Time
}

// Holder reads the lock file in dir without taking the lock.
func Holder(dir string) (HolderInfo, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		return HolderInfo{}, err
	}
	return parseHolder(string(data)), nil
}

func writeHolder(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	_, err := fmt.Fprintf(f, "pid=%d\ntime=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	return err
}

func parseHolder(content string) HolderInfo {
	var h HolderInfo
	for _, line := range strings.Split(content, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			h.PID, _ = strconv.Atoi(value)
		case "time":
			h.Since, _ = time.Parse(time.RFC3339, value)
		}
	}
	return h
}
