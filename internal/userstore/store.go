package userstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"
)

// Backend is the persistence interface behind Store.
// Implementations: MemStore (testing), SQLStore, GormStore, KuzuStore,
// RedisStore, SpannerStore. All user data access goes through this interface.
type Backend interface {
	io.Closer

	// Schema setup. Must be idempotent.
	InitSchema(ctx context.Context) error

	// Read operations. Get and GetByEmail return nil, nil on a miss.
	List(ctx context.Context) ([]User, error)
	Get(ctx context.Context, id int64) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)

	// Write operations.
	//
	// Insert assigns a fresh ID and must reject a duplicate email with
	// ErrConflict atomically, without relying on a prior GetByEmail.
	Insert(ctx context.Context, name, email string) (User, error)
	// Replace overwrites name and email of an existing user. It returns
	// ErrNotFound for an unknown ID and ErrConflict when the email belongs
	// to a different user.
	Replace(ctx context.Context, u User) error
	// Delete reports whether a record was removed.
	Delete(ctx context.Context, id int64) (bool, error)
}

// Store owns the User lifecycle on top of a Backend: it enforces the
// required fields and the unique-email invariant, maps backend misses to
// ErrNotFound, and wraps engine failures in *StorageError.
type Store struct {
	backend   Backend
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithPublisher sets the lifecycle event publisher. The default discards events.
func WithPublisher(p Publisher) Option {
	return func(s *Store) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithLogger sets the logger. The default discards output.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore wraps backend. The caller keeps ownership of backend and closes it.
func NewStore(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend:   backend,
		publisher: NopPublisher{},
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListAll returns every stored user in insertion order. The slice is never
// nil.
func (s *Store) ListAll(ctx context.Context) ([]User, error) {
	users, err := s.backend.List(ctx)
	if err != nil {
		s.logger.Error("list users failed", "err", err)
		return nil, storageFailure("list", err)
	}
	if users == nil {
		users = []User{}
	}
	return users, nil
}

// FindByID returns the user with the given ID or ErrNotFound.
func (s *Store) FindByID(ctx context.Context, id int64) (User, error) {
	u, err := s.backend.Get(ctx, id)
	if err != nil {
		s.logger.Error("find user failed", "id", id, "err", err)
		return User{}, storageFailure("find by id", err)
	}
	if u == nil {
		return User{}, ErrNotFound
	}
	return *u, nil
}

// FindByEmail returns the user whose email matches exactly (case-sensitive)
// or ErrNotFound.
func (s *Store) FindByEmail(ctx context.Context, email string) (User, error) {
	u, err := s.backend.GetByEmail(ctx, email)
	if err != nil {
		s.logger.Error("find user by email failed", "err", err)
		return User{}, storageFailure("find by email", err)
	}
	if u == nil {
		return User{}, ErrNotFound
	}
	return *u, nil
}

// Create persists a new user and returns it with its assigned ID. It fails
// with ErrConflict, without writing, when email is already in use.
func (s *Store) Create(ctx context.Context, name, email string) (User, error) {
	if err := validate(name, email); err != nil {
		return User{}, err
	}

	if _, err := s.FindByEmail(ctx, email); err == nil {
		s.logger.Info("create user rejected", "reason", "email exists")
		return User{}, ErrConflict
	} else if !errors.Is(err, ErrNotFound) {
		return User{}, err
	}

	// The backend re-checks uniqueness atomically; a concurrent caller that
	// passed the pre-check above still gets ErrConflict here.
	u, err := s.backend.Insert(ctx, name, email)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			s.logger.Info("create user rejected", "reason", "email exists")
			return User{}, ErrConflict
		}
		s.logger.Error("create user failed", "err", err)
		return User{}, storageFailure("create", err)
	}

	s.logger.Info("user created", "id", u.ID)
	s.publish(ctx, EventUserCreated, u)
	return u, nil
}

// Update replaces name and email of an existing user.
func (s *Store) Update(ctx context.Context, u User) (User, error) {
	if err := validate(u.Name, u.Email); err != nil {
		return User{}, err
	}

	if _, err := s.FindByID(ctx, u.ID); err != nil {
		return User{}, err
	}
	owner, err := s.FindByEmail(ctx, u.Email)
	switch {
	case err == nil && owner.ID != u.ID:
		return User{}, ErrConflict
	case err != nil && !errors.Is(err, ErrNotFound):
		return User{}, err
	}

	if err := s.backend.Replace(ctx, u); err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
			return User{}, err
		}
		s.logger.Error("update user failed", "id", u.ID, "err", err)
		return User{}, storageFailure("update", err)
	}

	s.logger.Info("user updated", "id", u.ID)
	s.publish(ctx, EventUserUpdated, u)
	return u, nil
}

// DeleteByID removes the user if present. Deleting an unknown ID succeeds.
func (s *Store) DeleteByID(ctx context.Context, id int64) error {
	existing, err := s.backend.Get(ctx, id)
	if err != nil {
		s.logger.Error("delete user failed", "id", id, "err", err)
		return storageFailure("delete", err)
	}

	removed, err := s.backend.Delete(ctx, id)
	if err != nil {
		s.logger.Error("delete user failed", "id", id, "err", err)
		return storageFailure("delete", err)
	}
	if !removed {
		s.logger.Debug("delete user was a no-op", "id", id)
		return nil
	}

	s.logger.Info("user deleted", "id", id)
	deleted := User{ID: id}
	if existing != nil {
		deleted = *existing
	}
	s.publish(ctx, EventUserDeleted, deleted)
	return nil
}

func (s *Store) publish(ctx context.Context, typ EventType, u User) {
	ev := Event{Type: typ, User: u, OccurredAt: s.now().UTC()}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn("publish event failed", "type", typ, "id", u.ID, "err", err)
	}
}

func validate(name, email string) error {
	if strings.TrimSpace(name) == "" {
		return errors.Join(ErrInvalid, errors.New("name is required"))
	}
	if strings.TrimSpace(email) == "" {
		return errors.Join(ErrInvalid, errors.New("email is required"))
	}
	return nil
}
