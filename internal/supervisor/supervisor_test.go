package supervisor

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSpawnRemovesExistingSocketFile(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "app.sock")

	if err := os.WriteFile(socketPath, []byte("stale"), 0o644); err != nil {
		t.Fatalf("failed to create stale socket file: %v", err)
	}

	sup, err := Spawn(Config{
		SocketPath: socketPath,
		AppDir:     dir,
		Command:    "sleep",
		Args:       []string{"30"},
	})
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	t.Cleanup(func() { sup.Shutdown() })

	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Fatal("expected stale socket file to be removed on spawn")
	}
	if sup.PID() <= 0 {
		t.Fatal("expected a positive PID")
	}
}

func TestWaitForSocketReturnsWhenFileAppears(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "app.sock")

	sup, err := Spawn(Config{SocketPath: socketPath, AppDir: dir, Command: "sleep", Args: []string{"30"}})
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	t.Cleanup(func() { sup.Shutdown() })

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("failed to create test listener: %v", err)
	}
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sup.WaitForSocket(ctx); err != nil {
		t.Fatalf("WaitForSocket failed: %v", err)
	}
}

func TestWaitForSocketTimesOut(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "never-appears.sock")

	sup, err := Spawn(Config{SocketPath: socketPath, AppDir: dir, Command: "sleep", Args: []string{"30"}})
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	t.Cleanup(func() { sup.Shutdown() })

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if err := sup.WaitForSocket(ctx); err == nil {
		t.Fatal("expected WaitForSocket to time out")
	}
}

func TestShutdownRemovesSocketFile(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "app.sock")

	sup, err := Spawn(Config{SocketPath: socketPath, AppDir: dir, Command: "sleep", Args: []string{"30"}})
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("failed to create test listener: %v", err)
	}
	ln.Close()
	// net.Listen leaves the file on disk after Close for unix sockets only
	// if Close isn't called on the listener; re-create it so Shutdown has
	// something to remove.
	if _, err := os.Stat(socketPath); os.IsNotExist(err) {
		os.WriteFile(socketPath, []byte{}, 0o644)
	}

	if err := sup.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Fatal("expected socket file to be removed on shutdown")
	}
}
