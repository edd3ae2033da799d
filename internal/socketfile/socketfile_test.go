package socketfile

import (
	"net"
	"os"
	"path/filepath"
	"testing"
)

func TestBindFreshPathSucceeds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fresh.sock")

	ln, err := Bind(path, nil)
	if err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	defer ln.Close()

	if ln.Path() != path {
		t.Errorf("expected Path() to return %q, got %q", path, ln.Path())
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected socket file to exist after Bind: %v", err)
	}
}

func TestBindUnlinksOrphanedSocketFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orphan.sock")

	orphan, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("failed to create orphan listener: %v", err)
	}
	// Close without unlinking to simulate an abnormal exit: recreate the
	// file afterward since net.Listen's Close already unlinks it for us.
	orphan.Close()
	if err := os.WriteFile(path, []byte{}, 0o644); err != nil {
		t.Fatalf("failed to recreate stale socket file: %v", err)
	}

	ln, err := Bind(path, nil)
	if err != nil {
		t.Fatalf("expected Bind to recover from an orphaned socket file, got: %v", err)
	}
	defer ln.Close()
}

func TestBindRefusesLiveListener(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "live.sock")

	live, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("failed to create live listener: %v", err)
	}
	defer live.Close()

	if _, err := Bind(path, nil); err == nil {
		t.Fatal("expected Bind to refuse to bind over a live listener")
	}
}

func TestCloseUnlinksSocketFileIdempotently(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "closeme.sock")

	ln, err := Bind(path, nil)
	if err != nil {
		t.Fatalf("Bind failed: %v", err)
	}

	if err := ln.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("expected socket file to be removed after Close")
	}

	if err := ln.Close(); err != nil {
		t.Fatalf("expected second Close to be a no-op, got: %v", err)
	}
}
