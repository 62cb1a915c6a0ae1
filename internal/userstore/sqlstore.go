package userstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/jmoiron/sqlx"
)

// pgUniqueViolation is the PostgreSQL SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// SQLStore implements Backend with hand-written parameterized SQL against
// PostgreSQL. Uniqueness is enforced by the users_email_key index.
type SQLStore struct {
	db *sqlx.DB
}

var _ Backend = (*SQLStore)(nil)

// NewSQLStore connects to PostgreSQL using a pgx DSN or URL.
func NewSQLStore(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// NewSQLStoreFromDB wraps an existing handle. The driver must speak the
// PostgreSQL dialect.
func NewSQLStoreFromDB(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

var sqlDDL = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id    BIGSERIAL PRIMARY KEY,
		name  TEXT NOT NULL,
		email TEXT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS users_email_key ON users (email)`,
}

// InitSchema creates the users table and its unique email index.
func (s *SQLStore) InitSchema(ctx context.Context) error {
	for _, stmt := range sqlDDL {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init schema: %w", err)
		}
	}
	return nil
}

// List returns all users ordered by ID.
func (s *SQLStore) List(ctx context.Context) ([]User, error) {
	users := []User{}
	if err := s.db.SelectContext(ctx, &users, `SELECT id, name, email FROM users ORDER BY id`); err != nil {
		return nil, fmt.Errorf("postgres: list users: %w", err)
	}
	return users, nil
}

// Get returns the user with the given ID, or nil if not found.
func (s *SQLStore) Get(ctx context.Context, id int64) (*User, error) {
	return s.getOne(ctx, `SELECT id, name, email FROM users WHERE id = $1`, id)
}

// GetByEmail returns the user holding email, or nil if not found.
func (s *SQLStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	return s.getOne(ctx, `SELECT id, name, email FROM users WHERE email = $1`, email)
}

func (s *SQLStore) getOne(ctx context.Context, query string, arg any) (*User, error) {
	var u User
	err := s.db.GetContext(ctx, &u, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get user: %w", err)
	}
	return &u, nil
}

// Insert adds a row and returns it with the generated ID.
func (s *SQLStore) Insert(ctx context.Context, name, email string) (User, error) {
	u := User{Name: name, Email: email}
	err := s.db.QueryRowxContext(ctx,
		`INSERT INTO users (name, email) VALUES ($1, $2) RETURNING id`,
		name, email,
	).Scan(&u.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrConflict
		}
		return User{}, fmt.Errorf("postgres: insert user: %w", err)
	}
	return u, nil
}

// Replace overwrites name and email of an existing row.
func (s *SQLStore) Replace(ctx context.Context, u User) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET name = $1, email = $2 WHERE id = $3`,
		u.Name, u.Email, u.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("postgres: update user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: update user: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the row with the given ID.
func (s *SQLStore) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("postgres: delete user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("postgres: delete user: %w", err)
	}
	return n > 0, nil
}

// Close closes the connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
