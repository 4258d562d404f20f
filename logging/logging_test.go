package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRotatingWriterRotatesPastMaxSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.log")

	w, err := Open(path, 16)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer w.Close()

	if _, err := w.Write([]byte("first line of log\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := w.Write([]byte("second\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	backup, err := os.ReadFile(path + ".1")
	if err != nil {
		t.Fatalf("expected backup file: %v", err)
	}
	if !strings.Contains(string(backup), "first line") {
		t.Fatalf("backup missing first write: %q", backup)
	}

	current, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read current: %v", err)
	}
	if string(current) != "second\n" {
		t.Fatalf("expected current file to hold only the second write, got %q", current)
	}
}

func TestOpenTruncatesOversizedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.log")
	if err := os.WriteFile(path, []byte(strings.Repeat("x", 64)), 0644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	w, err := Open(path, 32)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer w.Close()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() != 0 {
		t.Fatalf("expected truncated file, got %d bytes", info.Size())
	}
}

func TestWriteAfterClose(t *testing.T) {
	w, err := Open(filepath.Join(t.TempDir(), "daemon.log"), 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	w.Close()

	if _, err := w.Write([]byte("late")); err == nil {
		t.Fatal("expected error writing to closed writer")
	}
}
