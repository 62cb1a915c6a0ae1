package userstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingBackend wraps a MemStore and injects errors per operation.
type failingBackend struct {
	*MemStore
	listErr   error
	getErr    error
	emailErr  error
	insertErr error
	deleteErr error
}

func (f *failingBackend) List(ctx context.Context) ([]User, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.MemStore.List(ctx)
}

func (f *failingBackend) Get(ctx context.Context, id int64) (*User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.MemStore.Get(ctx, id)
}

func (f *failingBackend) GetByEmail(ctx context.Context, email string) (*User, error) {
	if f.emailErr != nil {
		return nil, f.emailErr
	}
	return f.MemStore.GetByEmail(ctx, email)
}

func (f *failingBackend) Insert(ctx context.Context, name, email string) (User, error) {
	if f.insertErr != nil {
		return User{}, f.insertErr
	}
	return f.MemStore.Insert(ctx, name, email)
}

func (f *failingBackend) Delete(ctx context.Context, id int64) (bool, error) {
	if f.deleteErr != nil {
		return false, f.deleteErr
	}
	return f.MemStore.Delete(ctx, id)
}

type errPublisher struct{}

func (errPublisher) Publish(context.Context, Event) error { return errors.New("broker down") }

func newTestStore(t *testing.T) (*Store, *RecordingPublisher) {
	t.Helper()
	pub := &RecordingPublisher{}
	return NewStore(NewMemStore(), WithPublisher(pub)), pub
}

func TestStore_ExampleScenario(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	alice, err := s.Create(ctx, "Alice", "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, User{ID: 1, Name: "Alice", Email: "alice@example.com"}, alice)

	_, err = s.Create(ctx, "Bob", "alice@example.com")
	require.ErrorIs(t, err, ErrConflict)

	users, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []User{alice}, users)

	require.NoError(t, s.DeleteByID(ctx, 1))

	users, err = s.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestStore_ListAllEmptyIsNonNil(t *testing.T) {
	s, _ := newTestStore(t)
	users, err := s.ListAll(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, users)
	assert.Len(t, users, 0)
}

func TestStore_CreatedUsersAreRetrievable(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	const n = 5
	created := make([]User, 0, n)
	for i := 0; i < n; i++ {
		u, err := s.Create(ctx, fmt.Sprintf("user-%d", i), fmt.Sprintf("user-%d@example.com", i))
		require.NoError(t, err)
		assert.NotZero(t, u.ID)
		created = append(created, u)
	}

	users, err := s.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, users, n)

	for _, want := range created {
		got, err := s.FindByID(ctx, want.ID)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestStore_FindMisses(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.FindByID(ctx, 7)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrStorage)

	_, err = s.FindByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_CreateRequiresNameAndEmail(t *testing.T) {
	tests := []struct {
		name      string
		userName  string
		userEmail string
	}{
		{name: "missing name", userName: "", userEmail: "a@example.com"},
		{name: "blank name", userName: "   ", userEmail: "a@example.com"},
		{name: "missing email", userName: "Alice", userEmail: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, pub := newTestStore(t)
			_, err := s.Create(context.Background(), tt.userName, tt.userEmail)
			require.ErrorIs(t, err, ErrInvalid)
			assert.Empty(t, pub.Events())
		})
	}
}

func TestStore_ConflictLeavesStoreUnchanged(t *testing.T) {
	s, pub := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "Alice", "alice@example.com")
	require.NoError(t, err)

	before, err := s.ListAll(ctx)
	require.NoError(t, err)

	_, err = s.Create(ctx, "Mallory", "alice@example.com")
	require.ErrorIs(t, err, ErrConflict)

	after, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Len(t, pub.Events(), 1, "only the first create publishes")
}

func TestStore_DeleteIsIdempotent(t *testing.T) {
	s, pub := newTestStore(t)
	ctx := context.Background()

	u, err := s.Create(ctx, "Alice", "alice@example.com")
	require.NoError(t, err)
	_, err = s.Create(ctx, "Bob", "bob@example.com")
	require.NoError(t, err)

	require.NoError(t, s.DeleteByID(ctx, u.ID))
	afterFirst, err := s.ListAll(ctx)
	require.NoError(t, err)

	require.NoError(t, s.DeleteByID(ctx, u.ID))
	afterSecond, err := s.ListAll(ctx)
	require.NoError(t, err)

	assert.Equal(t, afterFirst, afterSecond)
	_, err = s.FindByID(ctx, u.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.DeleteByID(ctx, 12345), "unknown id is a no-op")

	var deletes int
	for _, ev := range pub.Events() {
		if ev.Type == EventUserDeleted {
			deletes++
			assert.Equal(t, u, ev.User)
		}
	}
	assert.Equal(t, 1, deletes, "no-op deletes do not publish")
}

func TestStore_Update(t *testing.T) {
	s, pub := newTestStore(t)
	ctx := context.Background()

	alice, err := s.Create(ctx, "Alice", "alice@example.com")
	require.NoError(t, err)
	bob, err := s.Create(ctx, "Bob", "bob@example.com")
	require.NoError(t, err)

	alice.Name = "Alice Liddell"
	updated, err := s.Update(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, alice, updated)

	got, err := s.FindByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice Liddell", got.Name)

	bob.Email = "alice@example.com"
	_, err = s.Update(ctx, bob)
	assert.ErrorIs(t, err, ErrConflict)

	_, err = s.Update(ctx, User{ID: 404, Name: "Ghost", Email: "ghost@example.com"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Update(ctx, User{ID: alice.ID, Name: "", Email: "x@example.com"})
	assert.ErrorIs(t, err, ErrInvalid)

	events := pub.Events()
	require.Len(t, events, 3)
	assert.Equal(t, EventUserUpdated, events[2].Type)
}

func TestStore_StorageFailuresAreWrapped(t *testing.T) {
	boom := errors.New("connection refused")
	ctx := context.Background()

	tests := []struct {
		name    string
		backend *failingBackend
		call    func(s *Store) error
		wantOp  string
	}{
		{
			name:    "list",
			wantOp:  "list",
			backend: &failingBackend{MemStore: NewMemStore(), listErr: boom},
			call:    func(s *Store) error { _, err := s.ListAll(ctx); return err },
		},
		{
			name:    "find by id",
			wantOp:  "find by id",
			backend: &failingBackend{MemStore: NewMemStore(), getErr: boom},
			call:    func(s *Store) error { _, err := s.FindByID(ctx, 1); return err },
		},
		{
			name:    "create pre-check",
			wantOp:  "find by email",
			backend: &failingBackend{MemStore: NewMemStore(), emailErr: boom},
			call:    func(s *Store) error { _, err := s.Create(ctx, "A", "a@example.com"); return err },
		},
		{
			name:    "create insert",
			wantOp:  "create",
			backend: &failingBackend{MemStore: NewMemStore(), insertErr: boom},
			call:    func(s *Store) error { _, err := s.Create(ctx, "A", "a@example.com"); return err },
		},
		{
			name:    "delete",
			wantOp:  "delete",
			backend: &failingBackend{MemStore: NewMemStore(), deleteErr: boom},
			call:    func(s *Store) error { return s.DeleteByID(ctx, 1) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call(NewStore(tt.backend))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrStorage)
			assert.ErrorIs(t, err, boom)

			var se *StorageError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.wantOp, se.Op)
		})
	}
}

func TestStore_InsertConflictFromBackendIsNotStorageFailure(t *testing.T) {
	// Simulates losing the race: the pre-check passes, the backend refuses.
	s := NewStore(&failingBackend{MemStore: NewMemStore(), insertErr: ErrConflict})
	_, err := s.Create(context.Background(), "Alice", "alice@example.com")
	require.ErrorIs(t, err, ErrConflict)
	assert.NotErrorIs(t, err, ErrStorage)
}

func TestStore_PublishFailureDoesNotFailCreate(t *testing.T) {
	s := NewStore(NewMemStore(), WithPublisher(errPublisher{}))
	u, err := s.Create(context.Background(), "Alice", "alice@example.com")
	require.NoError(t, err)
	assert.NotZero(t, u.ID)
}

func TestStore_ConcurrentCreateSameEmail(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	const goroutines = 50

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(idx int) {
			defer wg.Done()
			_, err := s.Create(ctx, fmt.Sprintf("user-%d", idx), "race@example.com")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrConflict):
				conflicts++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, goroutines-1, conflicts)

	users, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestStore_EventsCarryCreatedUser(t *testing.T) {
	s, pub := newTestStore(t)
	u, err := s.Create(context.Background(), "Alice", "alice@example.com")
	require.NoError(t, err)

	events := pub.Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventUserCreated, events[0].Type)
	assert.Equal(t, u, events[0].User)
	assert.False(t, events[0].OccurredAt.IsZero())
}
