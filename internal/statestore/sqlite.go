package statestore

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/opd-ai/eddi/internal/errs"
	"github.com/opd-ai/eddi/internal/randcode"
)

const schema = `
CREATE TABLE IF NOT EXISTS servers (
	id TEXT PRIMARY KEY,
	name TEXT UNIQUE NOT NULL,
	socket_path TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	ttl_minutes INTEGER NOT NULL,
	onion_address TEXT,
	status TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS clients (
	id TEXT PRIMARY KEY,
	server_id TEXT NOT NULL,
	code TEXT UNIQUE NOT NULL,
	created_at INTEGER NOT NULL,
	connected_at INTEGER,
	status TEXT NOT NULL,
	FOREIGN KEY (server_id) REFERENCES servers(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS connections (
	id TEXT PRIMARY KEY,
	server_name TEXT NOT NULL,
	alias TEXT,
	code TEXT NOT NULL,
	socket_path TEXT,
	onion_address TEXT,
	connected_at INTEGER NOT NULL,
	status TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_servers_name ON servers(name);
CREATE INDEX IF NOT EXISTS idx_clients_server_id ON clients(server_id);
CREATE INDEX IF NOT EXISTS idx_clients_code ON clients(code);
`

// SQLiteStore is a Store backed by a single SQLite database file, one per
// eddi state directory (spec.md §4.8). It uses the pure-Go modernc.org/sqlite
// driver so eddi needs no cgo toolchain to build.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates (if necessary) and opens the state database under baseDir.
func Open(baseDir string) (*SQLiteStore, error) {
	dbPath := filepath.Join(baseDir, "state.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errs.ExternalError(fmt.Sprintf("failed to open state database at %q", dbPath), err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY storms

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, errs.ExternalError("failed to enable foreign key enforcement", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errs.ExternalError("failed to initialize state database schema", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// writeRetryPolicy mirrors errs.ConservativeRetryPolicy's backoff but drops
// the blanket category-based retry: only errors explicitly marked Retryable
// (SQLITE_BUSY/SQLITE_LOCKED contention from SetMaxOpenConns(1)) get a
// second attempt. A UNIQUE constraint violation is not transient and
// retrying it would just waste the backoff delay before failing the same
// way again.
func writeRetryPolicy() *errs.RetryPolicy {
	p := errs.ConservativeRetryPolicy()
	p.RetryableErrors = nil
	return p
}

func isTransientSQLiteError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "busy") || strings.Contains(msg, "locked")
}

// execWithRetry runs a write statement, retrying only transient SQLite
// contention errors under writeRetryPolicy.
func (s *SQLiteStore) execWithRetry(errMsg string, query string, args ...interface{}) error {
	return errs.RetryWithPolicy(context.Background(), writeRetryPolicy(), func() error {
		_, err := s.db.Exec(query, args...)
		if err == nil {
			return nil
		}
		if isTransientSQLiteError(err) {
			return errs.WrapRetryable(errs.CategoryExternal, errs.SeverityHigh, errMsg, err)
		}
		return errs.ExternalError(errMsg, err)
	})
}

func (s *SQLiteStore) CreateServer(rec ServerRecord) error {
	return s.execWithRetry(
		fmt.Sprintf("failed to create server %q", rec.Name),
		`INSERT INTO servers (id, name, socket_path, created_at, ttl_minutes, onion_address, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Name, rec.SocketPath, rec.CreatedAt.Unix(), rec.TTLMinutes, nullableString(rec.OnionAddress), string(rec.Status),
	)
}

func (s *SQLiteStore) scanServer(row *sql.Row) (*ServerRecord, error) {
	var rec ServerRecord
	var createdAt int64
	var onion sql.NullString
	var status string

	err := row.Scan(&rec.ID, &rec.Name, &rec.SocketPath, &createdAt, &rec.TTLMinutes, &onion, &status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.ExternalError("failed to scan server row", err)
	}
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	rec.OnionAddress = onion.String
	rec.Status = ServerStatus(status)
	return &rec, nil
}

func (s *SQLiteStore) GetServer(name string) (*ServerRecord, error) {
	row := s.db.QueryRow(
		`SELECT id, name, socket_path, created_at, ttl_minutes, onion_address, status
		 FROM servers WHERE name = ?`, name)
	return s.scanServer(row)
}

func (s *SQLiteStore) GetServerByID(id string) (*ServerRecord, error) {
	row := s.db.QueryRow(
		`SELECT id, name, socket_path, created_at, ttl_minutes, onion_address, status
		 FROM servers WHERE id = ?`, id)
	return s.scanServer(row)
}

func (s *SQLiteStore) ListServers() ([]ServerRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, name, socket_path, created_at, ttl_minutes, onion_address, status
		 FROM servers ORDER BY created_at DESC`)
	if err != nil {
		return nil, errs.ExternalError("failed to list servers", err)
	}
	defer rows.Close()

	var out []ServerRecord
	for rows.Next() {
		var rec ServerRecord
		var createdAt int64
		var onion sql.NullString
		var status string
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.SocketPath, &createdAt, &rec.TTLMinutes, &onion, &status); err != nil {
			return nil, errs.ExternalError("failed to scan server row", err)
		}
		rec.CreatedAt = time.Unix(createdAt, 0).UTC()
		rec.OnionAddress = onion.String
		rec.Status = ServerStatus(status)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateServerStatus(id string, status ServerStatus) error {
	return s.execWithRetry(
		fmt.Sprintf("failed to update status for server %q", id),
		`UPDATE servers SET status = ? WHERE id = ?`, string(status), id,
	)
}

func (s *SQLiteStore) UpdateServerOnion(id, onionAddress string) error {
	return s.execWithRetry(
		fmt.Sprintf("failed to update onion address for server %q", id),
		`UPDATE servers SET onion_address = ? WHERE id = ?`, onionAddress, id,
	)
}

func (s *SQLiteStore) DeleteServer(name string) error {
	return s.execWithRetry(
		fmt.Sprintf("failed to delete server %q", name),
		`DELETE FROM servers WHERE name = ?`, name,
	)
}

func (s *SQLiteStore) CreateClient(serverID string) (*ClientCodeRecord, error) {
	rec := &ClientCodeRecord{
		ID:        uuid.NewString(),
		ServerID:  serverID,
		Code:      generateClientCode(),
		CreatedAt: time.Now().UTC(),
		Status:    ClientPending,
	}

	if err := s.execWithRetry(
		fmt.Sprintf("failed to create client code for server %q", serverID),
		`INSERT INTO clients (id, server_id, code, created_at, connected_at, status)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ServerID, rec.Code, rec.CreatedAt.Unix(), nil, string(rec.Status),
	); err != nil {
		return nil, err
	}
	return rec, nil
}

func scanClient(row *sql.Row) (*ClientCodeRecord, error) {
	var rec ClientCodeRecord
	var createdAt int64
	var connectedAt sql.NullInt64
	var status string

	err := row.Scan(&rec.ID, &rec.ServerID, &rec.Code, &createdAt, &connectedAt, &status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.ExternalError("failed to scan client row", err)
	}
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	if connectedAt.Valid {
		rec.ConnectedAt = time.Unix(connectedAt.Int64, 0).UTC()
	}
	rec.Status = ClientStatus(status)
	return &rec, nil
}

func (s *SQLiteStore) GetClientByCode(code string) (*ClientCodeRecord, error) {
	row := s.db.QueryRow(
		`SELECT id, server_id, code, created_at, connected_at, status
		 FROM clients WHERE code = ?`, code)
	return scanClient(row)
}

func (s *SQLiteStore) ListClients(serverID string) ([]ClientCodeRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, server_id, code, created_at, connected_at, status
		 FROM clients WHERE server_id = ? ORDER BY created_at DESC`, serverID)
	if err != nil {
		return nil, errs.ExternalError(fmt.Sprintf("failed to list clients for server %q", serverID), err)
	}
	defer rows.Close()

	var out []ClientCodeRecord
	for rows.Next() {
		var rec ClientCodeRecord
		var createdAt int64
		var connectedAt sql.NullInt64
		var status string
		if err := rows.Scan(&rec.ID, &rec.ServerID, &rec.Code, &createdAt, &connectedAt, &status); err != nil {
			return nil, errs.ExternalError("failed to scan client row", err)
		}
		rec.CreatedAt = time.Unix(createdAt, 0).UTC()
		if connectedAt.Valid {
			rec.ConnectedAt = time.Unix(connectedAt.Int64, 0).UTC()
		}
		rec.Status = ClientStatus(status)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateClientStatus(id string, status ClientStatus) error {
	var connectedAt interface{}
	if status == ClientConnected {
		connectedAt = time.Now().UTC().Unix()
	}

	return s.execWithRetry(
		fmt.Sprintf("failed to update status for client %q", id),
		`UPDATE clients SET status = ?, connected_at = ? WHERE id = ?`,
		string(status), connectedAt, id,
	)
}

func (s *SQLiteStore) CreateConnection(rec ConnectionRecord) error {
	return s.execWithRetry(
		fmt.Sprintf("failed to create connection %q", rec.ServerName),
		`INSERT INTO connections (id, server_name, alias, code, socket_path, onion_address, connected_at, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ServerName, nullableString(rec.Alias), rec.Code, nullableString(rec.SocketPath),
		nullableString(rec.OnionAddress), rec.ConnectedAt.Unix(), string(rec.Status),
	)
}

func (s *SQLiteStore) GetConnection(nameOrAlias string) (*ConnectionRecord, error) {
	row := s.db.QueryRow(
		`SELECT id, server_name, alias, code, socket_path, onion_address, connected_at, status
		 FROM connections WHERE server_name = ? OR alias = ?`, nameOrAlias, nameOrAlias)
	return scanConnection(row)
}

func scanConnection(row *sql.Row) (*ConnectionRecord, error) {
	var rec ConnectionRecord
	var alias, socketPath, onion sql.NullString
	var connectedAt int64
	var status string

	err := row.Scan(&rec.ID, &rec.ServerName, &alias, &rec.Code, &socketPath, &onion, &connectedAt, &status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.ExternalError("failed to scan connection row", err)
	}
	rec.Alias = alias.String
	rec.SocketPath = socketPath.String
	rec.OnionAddress = onion.String
	rec.ConnectedAt = time.Unix(connectedAt, 0).UTC()
	rec.Status = ClientStatus(status)
	return &rec, nil
}

func (s *SQLiteStore) ListConnections() ([]ConnectionRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, server_name, alias, code, socket_path, onion_address, connected_at, status
		 FROM connections ORDER BY connected_at DESC`)
	if err != nil {
		return nil, errs.ExternalError("failed to list connections", err)
	}
	defer rows.Close()

	var out []ConnectionRecord
	for rows.Next() {
		var rec ConnectionRecord
		var alias, socketPath, onion sql.NullString
		var connectedAt int64
		var status string
		if err := rows.Scan(&rec.ID, &rec.ServerName, &alias, &rec.Code, &socketPath, &onion, &connectedAt, &status); err != nil {
			return nil, errs.ExternalError("failed to scan connection row", err)
		}
		rec.Alias = alias.String
		rec.SocketPath = socketPath.String
		rec.OnionAddress = onion.String
		rec.ConnectedAt = time.Unix(connectedAt, 0).UTC()
		rec.Status = ClientStatus(status)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteConnection(nameOrAlias string) error {
	return s.execWithRetry(
		fmt.Sprintf("failed to delete connection %q", nameOrAlias),
		`DELETE FROM connections WHERE server_name = ? OR alias = ?`, nameOrAlias, nameOrAlias,
	)
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

const clientCodeCharset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
const clientCodeLength = 12

func generateClientCode() string {
	return randcode.String(clientCodeCharset, clientCodeLength)
}
