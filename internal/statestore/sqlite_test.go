package statestore

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	store, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateAndGetServer(t *testing.T) {
	store := newTestStore(t)

	rec := ServerRecord{
		ID:         uuid.NewString(),
		Name:       "test-server",
		SocketPath: "/tmp/test.sock",
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
		TTLMinutes: 5,
		Status:     ServerRunning,
	}

	if err := store.CreateServer(rec); err != nil {
		t.Fatalf("CreateServer failed: %v", err)
	}

	got, err := store.GetServer("test-server")
	if err != nil {
		t.Fatalf("GetServer failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected server to be found")
	}
	if got.Name != rec.Name || got.ID != rec.ID {
		t.Errorf("expected %+v, got %+v", rec, *got)
	}

	byID, err := store.GetServerByID(rec.ID)
	if err != nil || byID == nil || byID.Name != rec.Name {
		t.Fatalf("GetServerByID mismatch: %+v, err=%v", byID, err)
	}
}

func TestGetServerNotFoundReturnsNilNotError(t *testing.T) {
	store := newTestStore(t)

	got, err := store.GetServer("does-not-exist")
	if err != nil {
		t.Fatalf("expected no error for missing server, got %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing server, got %+v", got)
	}
}

func TestServerNameUniqueness(t *testing.T) {
	store := newTestStore(t)

	rec := ServerRecord{ID: uuid.NewString(), Name: "dup", SocketPath: "/tmp/a.sock", CreatedAt: time.Now(), Status: ServerRunning}
	if err := store.CreateServer(rec); err != nil {
		t.Fatalf("first CreateServer failed: %v", err)
	}

	dup := ServerRecord{ID: uuid.NewString(), Name: "dup", SocketPath: "/tmp/b.sock", CreatedAt: time.Now(), Status: ServerRunning}
	if err := store.CreateServer(dup); err == nil {
		t.Fatal("expected unique constraint violation for duplicate server name")
	}
}

func TestUpdateServerStatusAndOnion(t *testing.T) {
	store := newTestStore(t)
	rec := ServerRecord{ID: uuid.NewString(), Name: "srv", SocketPath: "/tmp/a.sock", CreatedAt: time.Now(), Status: ServerRunning}
	if err := store.CreateServer(rec); err != nil {
		t.Fatalf("CreateServer failed: %v", err)
	}

	if err := store.UpdateServerStatus(rec.ID, ServerStopped); err != nil {
		t.Fatalf("UpdateServerStatus failed: %v", err)
	}
	if err := store.UpdateServerOnion(rec.ID, "abc123.onion"); err != nil {
		t.Fatalf("UpdateServerOnion failed: %v", err)
	}

	got, err := store.GetServerByID(rec.ID)
	if err != nil {
		t.Fatalf("GetServerByID failed: %v", err)
	}
	if got.Status != ServerStopped {
		t.Errorf("expected status stopped, got %s", got.Status)
	}
	if got.OnionAddress != "abc123.onion" {
		t.Errorf("expected onion address to be updated, got %q", got.OnionAddress)
	}
}

func TestClientCodeLifecycleAndCascadeDelete(t *testing.T) {
	store := newTestStore(t)
	server := ServerRecord{ID: uuid.NewString(), Name: "srv", SocketPath: "/tmp/a.sock", CreatedAt: time.Now(), Status: ServerRunning}
	if err := store.CreateServer(server); err != nil {
		t.Fatalf("CreateServer failed: %v", err)
	}

	client, err := store.CreateClient(server.ID)
	if err != nil {
		t.Fatalf("CreateClient failed: %v", err)
	}
	if client.Code == "" {
		t.Fatal("expected a non-empty generated code")
	}
	if client.Status != ClientPending {
		t.Errorf("expected pending status, got %s", client.Status)
	}

	got, err := store.GetClientByCode(client.Code)
	if err != nil || got == nil {
		t.Fatalf("GetClientByCode failed: got=%+v err=%v", got, err)
	}

	if err := store.UpdateClientStatus(client.ID, ClientConnected); err != nil {
		t.Fatalf("UpdateClientStatus failed: %v", err)
	}
	got, _ = store.GetClientByCode(client.Code)
	if got.Status != ClientConnected {
		t.Errorf("expected connected status, got %s", got.Status)
	}
	if got.ConnectedAt.IsZero() {
		t.Error("expected ConnectedAt to be stamped on connect")
	}

	clients, err := store.ListClients(server.ID)
	if err != nil || len(clients) != 1 {
		t.Fatalf("expected 1 client for server, got %d, err=%v", len(clients), err)
	}

	if err := store.DeleteServer(server.Name); err != nil {
		t.Fatalf("DeleteServer failed: %v", err)
	}

	remaining, err := store.ListClients(server.ID)
	if err != nil {
		t.Fatalf("ListClients after delete failed: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("expected cascade delete to remove client codes, got %d remaining", len(remaining))
	}
}

func TestConnectionCRUD(t *testing.T) {
	store := newTestStore(t)

	rec := ConnectionRecord{
		ID:          uuid.NewString(),
		ServerName:  "remote-server",
		Alias:       "myalias",
		Code:        "ABC-123456",
		ConnectedAt: time.Now().UTC().Truncate(time.Second),
		Status:      ClientConnected,
	}
	if err := store.CreateConnection(rec); err != nil {
		t.Fatalf("CreateConnection failed: %v", err)
	}

	byAlias, err := store.GetConnection("myalias")
	if err != nil || byAlias == nil {
		t.Fatalf("GetConnection by alias failed: got=%+v err=%v", byAlias, err)
	}
	byName, err := store.GetConnection("remote-server")
	if err != nil || byName == nil {
		t.Fatalf("GetConnection by server name failed: got=%+v err=%v", byName, err)
	}

	all, err := store.ListConnections()
	if err != nil || len(all) != 1 {
		t.Fatalf("expected 1 connection, got %d, err=%v", len(all), err)
	}

	if err := store.DeleteConnection("myalias"); err != nil {
		t.Fatalf("DeleteConnection failed: %v", err)
	}
	all, _ = store.ListConnections()
	if len(all) != 0 {
		t.Errorf("expected 0 connections after delete, got %d", len(all))
	}
}
