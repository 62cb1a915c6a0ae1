package userstore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/spanner"
	database "cloud.google.com/go/spanner/admin/database/apiv1"
	"cloud.google.com/go/spanner/admin/database/apiv1/databasepb"
	"google.golang.org/grpc/codes"
)

var spannerUserColumns = []string{"Id", "Name", "Email"}

var spannerDDL = []string{
	`CREATE TABLE IF NOT EXISTS Users (
		Id    INT64 NOT NULL,
		Name  STRING(MAX) NOT NULL,
		Email STRING(MAX) NOT NULL,
	) PRIMARY KEY (Id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS UsersByEmail ON Users (Email)`,
	`CREATE TABLE IF NOT EXISTS RosterSequences (
		Name STRING(64) NOT NULL,
		Next INT64 NOT NULL,
	) PRIMARY KEY (Name)`,
}

// SpannerStore implements Backend on Cloud Spanner. Writes run in
// read-write transactions; the UsersByEmail unique index backs the email
// invariant. The emulator is used automatically when SPANNER_EMULATOR_HOST
// is set.
type SpannerStore struct {
	client   *spanner.Client
	database string
}

var _ Backend = (*SpannerStore)(nil)

// NewSpannerStore opens a client for a database path of the form
// projects/P/instances/I/databases/D.
func NewSpannerStore(ctx context.Context, databasePath string) (*SpannerStore, error) {
	client, err := spanner.NewClient(ctx, databasePath)
	if err != nil {
		return nil, fmt.Errorf("spanner: new client: %w", err)
	}
	return &SpannerStore{client: client, database: databasePath}, nil
}

// InitSchema applies the DDL through the database admin API.
func (s *SpannerStore) InitSchema(ctx context.Context) error {
	admin, err := database.NewDatabaseAdminClient(ctx)
	if err != nil {
		return fmt.Errorf("spanner: admin client: %w", err)
	}
	defer admin.Close()

	op, err := admin.UpdateDatabaseDdl(ctx, &databasepb.UpdateDatabaseDdlRequest{
		Database:   s.database,
		Statements: spannerDDL,
	})
	if err != nil {
		return fmt.Errorf("spanner: update ddl: %w", err)
	}
	if err := op.Wait(ctx); err != nil {
		return fmt.Errorf("spanner: wait ddl: %w", err)
	}
	return nil
}

// List returns all users ordered by ID.
func (s *SpannerStore) List(ctx context.Context) ([]User, error) {
	stmt := spanner.Statement{SQL: `SELECT Id, Name, Email FROM Users ORDER BY Id`}
	users, err := collectUsers(s.client.Single().Query(ctx, stmt))
	if err != nil {
		return nil, fmt.Errorf("spanner: list users: %w", err)
	}
	return users, nil
}

// Get returns the user with the given ID, or nil if not found.
func (s *SpannerStore) Get(ctx context.Context, id int64) (*User, error) {
	row, err := s.client.Single().ReadRow(ctx, "Users", spanner.Key{id}, spannerUserColumns)
	if spanner.ErrCode(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("spanner: get user: %w", err)
	}
	var u User
	if err := row.Columns(&u.ID, &u.Name, &u.Email); err != nil {
		return nil, fmt.Errorf("spanner: decode user: %w", err)
	}
	return &u, nil
}

// GetByEmail returns the user holding email, or nil if not found.
func (s *SpannerStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	users, err := collectUsers(s.client.Single().Query(ctx, byEmailStatement(email)))
	if err != nil {
		return nil, fmt.Errorf("spanner: get user by email: %w", err)
	}
	if len(users) == 0 {
		return nil, nil
	}
	return &users[0], nil
}

// Insert allocates the next ID from RosterSequences and inserts the row in
// one read-write transaction.
func (s *SpannerStore) Insert(ctx context.Context, name, email string) (User, error) {
	var id int64
	_, err := s.client.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
		existing, err := collectUsers(txn.Query(ctx, byEmailStatement(email)))
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return ErrConflict
		}

		next := int64(1)
		row, err := txn.ReadRow(ctx, "RosterSequences", spanner.Key{"user"}, []string{"Next"})
		switch {
		case err == nil:
			if err := row.Columns(&next); err != nil {
				return err
			}
		case spanner.ErrCode(err) != codes.NotFound:
			return err
		}
		id = next

		return txn.BufferWrite([]*spanner.Mutation{
			spanner.Insert("Users", spannerUserColumns, []any{id, name, email}),
			spanner.InsertOrUpdate("RosterSequences", []string{"Name", "Next"}, []any{"user", next + 1}),
		})
	})
	if err != nil {
		if errors.Is(err, ErrConflict) || spanner.ErrCode(err) == codes.AlreadyExists {
			return User{}, ErrConflict
		}
		return User{}, fmt.Errorf("spanner: insert user: %w", err)
	}
	return User{ID: id, Name: name, Email: email}, nil
}

// Replace overwrites name and email of an existing row.
func (s *SpannerStore) Replace(ctx context.Context, u User) error {
	_, err := s.client.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
		if _, err := txn.ReadRow(ctx, "Users", spanner.Key{u.ID}, []string{"Id"}); err != nil {
			if spanner.ErrCode(err) == codes.NotFound {
				return ErrNotFound
			}
			return err
		}
		owners, err := collectUsers(txn.Query(ctx, byEmailStatement(u.Email)))
		if err != nil {
			return err
		}
		if len(owners) > 0 && owners[0].ID != u.ID {
			return ErrConflict
		}
		return txn.BufferWrite([]*spanner.Mutation{
			spanner.Update("Users", spannerUserColumns, []any{u.ID, u.Name, u.Email}),
		})
	})
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict):
		return unwrapOutcome(err)
	case spanner.ErrCode(err) == codes.AlreadyExists:
		return ErrConflict
	case err != nil:
		return fmt.Errorf("spanner: update user: %w", err)
	}
	return nil
}

// Delete removes the row with the given ID.
func (s *SpannerStore) Delete(ctx context.Context, id int64) (bool, error) {
	removed := false
	_, err := s.client.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
		removed = false
		if _, err := txn.ReadRow(ctx, "Users", spanner.Key{id}, []string{"Id"}); err != nil {
			if spanner.ErrCode(err) == codes.NotFound {
				return nil
			}
			return err
		}
		removed = true
		return txn.BufferWrite([]*spanner.Mutation{spanner.Delete("Users", spanner.Key{id})})
	})
	if err != nil {
		return false, fmt.Errorf("spanner: delete user: %w", err)
	}
	return removed, nil
}

// Close releases the client's sessions.
func (s *SpannerStore) Close() error {
	s.client.Close()
	return nil
}

func byEmailStatement(email string) spanner.Statement {
	return spanner.Statement{
		SQL:    `SELECT Id, Name, Email FROM Users WHERE Email = @email`,
		Params: map[string]any{"email": email},
	}
}

func collectUsers(iter *spanner.RowIterator) ([]User, error) {
	users := []User{}
	err := iter.Do(func(row *spanner.Row) error {
		var u User
		if err := row.Columns(&u.ID, &u.Name, &u.Email); err != nil {
			return err
		}
		users = append(users, u)
		return nil
	})
	return users, err
}

// unwrapOutcome strips transaction wrapping from a store outcome so callers
// see the bare sentinel.
func unwrapOutcome(err error) error {
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	return ErrConflict
}
