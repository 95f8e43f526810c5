package lock

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAcquireAndRelease(t *testing.T) {
	dir := t.TempDir()

	l, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	h, err := Holder(dir)
	if err != nil {
		t.Fatalf("Holder() error = %v", err)
	}
	if h.PID != os.Getpid() {
		t.Errorf("holder pid = %d, want %d", h.PID, os.Getpid())
	}
	if time.Since(h.Since) > time.Minute {
		t.Errorf("holder since = %v, want recent", h.Since)
	}

	if err := l.Release(); err != nil {
		t.Errorf("Release() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, FileName)); !os.IsNotExist(err) {
		t.Error("lock file should be removed on release")
	}
}

func TestDoubleAcquireFails(t *testing.T) {
	dir := t.TempDir()

	l1, err := Acquire(dir)
	if err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}
	defer func() { _ = l1.Release() }()

	_, err = Acquire(dir)
	var held *HeldError
	if !errors.As(err, &held) {
		t.Fatalf("second Acquire() error = %T %v, want HeldError", err, err)
	}
	if held.PID != os.Getpid() {
		t.Errorf("held pid = %d, want %d", held.PID, os.Getpid())
	}
}

func TestAcquireAfterRelease(t *testing.T) {
	dir := t.TempDir()

	l, err := Acquire(dir)
	if err != nil {
		t.Fatal(err)
	}
	_ = l.Release()

	l, err = Acquire(dir)
	if err != nil {
		t.Fatalf("re-Acquire() error = %v", err)
	}
	_ = l.Release()
}

func TestReleaseNilAndTwice(t *testing.T) {
	var nilLock *Lock
	if err := nilLock.Release(); err != nil {
		t.Errorf("nil Release() error = %v", err)
	}

	l, err := Acquire(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("first Release() error = %v", err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("second Release() error = %v", err)
	}
}

func TestParseHolder(t *testing.T) {
	h := parseHolder("pid=42\ntime=2024-01-02T03:04:05Z\n")
	if h.PID != 42 || !h.Since.Equal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Errorf("parseHolder() = %+v", h)
	}
	if h := parseHolder("garbage"); h.PID != 0 {
		t.Errorf("parseHolder(garbage) pid = %d, want 0", h.PID)
	}
}
