//go:build cgo

package userstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	kuzu "github.com/kuzudb/go-kuzu"
)

// KuzuStore implements the Backend interface using an embedded KuzuDB.
// It requires CGO because the go-kuzu driver wraps KuzuDB's C library.
// Users live in a RosterUser node table; IDs come from a Sequence node.
type KuzuStore struct {
	// mu serializes access to the single connection and makes the email
	// check plus CREATE in Insert atomic.
	mu   sync.Mutex
	db   *kuzu.Database
	conn *kuzu.Connection
}

// Compile-time check that KuzuStore satisfies Backend.
var _ Backend = (*KuzuStore)(nil)

// NewKuzuStore creates a KuzuStore backed by an in-memory KuzuDB instance.
func NewKuzuStore() (*KuzuStore, error) {
	return openKuzu(":memory:")
}

// NewKuzuFileStore creates a KuzuStore backed by a file-based KuzuDB at the
// given path. KuzuDB creates the leaf directory itself for new databases.
func NewKuzuFileStore(dbPath string) (*KuzuStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("kuzu: create parent directory: %w", err)
	}
	return openKuzu(dbPath)
}

func openKuzu(path string) (*KuzuStore, error) {
	cfg := kuzu.DefaultSystemConfig()
	db, err := kuzu.OpenDatabase(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("kuzu: open database: %w", err)
	}
	conn, err := kuzu.OpenConnection(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("kuzu: open connection: %w", err)
	}
	return &KuzuStore{db: db, conn: conn}, nil
}

// Close releases the KuzuDB connection and database.
func (s *KuzuStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	if s.db != nil {
		s.db.Close()
		s.db = nil
	}
	return nil
}

// ---------- Schema setup ----------

var kuzuDDL = []string{
	`CREATE NODE TABLE IF NOT EXISTS RosterUser(
		id INT64,
		name STRING,
		email STRING,
		PRIMARY KEY(id)
	)`,
	`CREATE NODE TABLE IF NOT EXISTS Sequence(
		name STRING,
		value INT64,
		PRIMARY KEY(name)
	)`,
}

// InitSchema creates the node tables if they do not exist.
func (s *KuzuStore) InitSchema(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, stmt := range kuzuDDL {
		res, err := s.conn.Query(stmt)
		if err != nil {
			return fmt.Errorf("kuzu: init schema: %w", err)
		}
		res.Close()
	}
	return nil
}

// ---------- Read operations ----------

// List returns all users ordered by ID.
func (s *KuzuStore) List(_ context.Context) ([]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.query(
		"MATCH (u:RosterUser) RETURN u.id, u.name, u.email ORDER BY u.id",
		nil,
	)
	if err != nil {
		return nil, err
	}
	out := make([]User, 0, len(rows))
	for _, r := range rows {
		out = append(out, rowToUser(r))
	}
	return out, nil
}

// Get retrieves a user by ID, or returns nil if not found.
func (s *KuzuStore) Get(_ context.Context, id int64) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(id)
}

func (s *KuzuStore) getLocked(id int64) (*User, error) {
	rows, err := s.query(
		"MATCH (u:RosterUser {id: $id}) RETURN u.id, u.name, u.email",
		map[string]any{"id": id},
	)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	u := rowToUser(rows[0])
	return &u, nil
}

// GetByEmail retrieves the user holding email, or returns nil if not found.
func (s *KuzuStore) GetByEmail(_ context.Context, email string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getByEmailLocked(email)
}

func (s *KuzuStore) getByEmailLocked(email string) (*User, error) {
	rows, err := s.query(
		"MATCH (u:RosterUser) WHERE u.email = $email RETURN u.id, u.name, u.email",
		map[string]any{"email": email},
	)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	u := rowToUser(rows[0])
	return &u, nil
}

// ---------- Write operations ----------

// Insert creates a RosterUser node with the next sequence value as its ID.
func (s *KuzuStore) Insert(_ context.Context, name, email string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.getByEmailLocked(email)
	if err != nil {
		return User{}, err
	}
	if existing != nil {
		return User{}, ErrConflict
	}

	id, err := s.nextID("user")
	if err != nil {
		return User{}, err
	}
	err = s.exec(
		"CREATE (u:RosterUser {id: $id, name: $name, email: $email})",
		map[string]any{"id": id, "name": name, "email": email},
	)
	if err != nil {
		return User{}, err
	}
	return User{ID: id, Name: name, Email: email}, nil
}

// Replace sets name and email on an existing node.
func (s *KuzuStore) Replace(_ context.Context, u User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.getLocked(u.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return ErrNotFound
	}
	owner, err := s.getByEmailLocked(u.Email)
	if err != nil {
		return err
	}
	if owner != nil && owner.ID != u.ID {
		return ErrConflict
	}
	return s.exec(
		"MATCH (u:RosterUser {id: $id}) SET u.name = $name, u.email = $email",
		map[string]any{"id": u.ID, "name": u.Name, "email": u.Email},
	)
}

// Delete removes the node with the given ID.
func (s *KuzuStore) Delete(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.getLocked(id)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, nil
	}
	err = s.exec(
		"MATCH (u:RosterUser {id: $id}) DELETE u",
		map[string]any{"id": id},
	)
	if err != nil {
		return false, err
	}
	return true, nil
}

// ---------- Internal helpers ----------

// nextID advances the named sequence and returns its new value. The first
// value is 1. Deleted IDs are never handed out again.
func (s *KuzuStore) nextID(name string) (int64, error) {
	rows, err := s.query(
		`MERGE (q:Sequence {name: $name})
		 ON CREATE SET q.value = 1
		 ON MATCH SET q.value = q.value + 1
		 RETURN q.value`,
		map[string]any{"name": name},
	)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return 0, fmt.Errorf("kuzu: sequence %q returned no value", name)
	}
	return toInt64(rows[0][0]), nil
}

// exec runs a parameterized Cypher statement that produces no result rows.
func (s *KuzuStore) exec(cypher string, params map[string]any) error {
	stmt, err := s.conn.Prepare(cypher)
	if err != nil {
		return fmt.Errorf("kuzu: prepare: %w", err)
	}
	defer stmt.Close()

	res, err := s.conn.Execute(stmt, params)
	if err != nil {
		return fmt.Errorf("kuzu: execute: %w", err)
	}
	res.Close()
	return nil
}

// query runs a Cypher statement and collects all result rows.
// Each row is a []any slice with values in column order.
func (s *KuzuStore) query(cypher string, params map[string]any) ([][]any, error) {
	var res *kuzu.QueryResult
	var err error

	if len(params) == 0 {
		res, err = s.conn.Query(cypher)
	} else {
		var stmt *kuzu.PreparedStatement
		stmt, err = s.conn.Prepare(cypher)
		if err != nil {
			return nil, fmt.Errorf("kuzu: prepare: %w", err)
		}
		defer stmt.Close()
		res, err = s.conn.Execute(stmt, params)
	}
	if err != nil {
		return nil, fmt.Errorf("kuzu: query: %w", err)
	}
	defer res.Close()

	var rows [][]any
	for res.HasNext() {
		tuple, err := res.Next()
		if err != nil {
			return nil, fmt.Errorf("kuzu: next: %w", err)
		}
		vals, err := tuple.GetAsSlice()
		if err != nil {
			return nil, fmt.Errorf("kuzu: row values: %w", err)
		}
		rows = append(rows, vals)
	}
	return rows, nil
}

// rowToUser converts an (id, name, email) row into a User.
func rowToUser(r []any) User {
	return User{
		ID:    toInt64(r[0]),
		Name:  toString(r[1]),
		Email: toString(r[2]),
	}
}

// ---------- Type coercion helpers ----------
// KuzuDB returns typed Go values (int64, string).

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case uint64:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
