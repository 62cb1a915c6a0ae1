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

// runBackendSuite checks the Backend contract. newBackend must return an
// empty, schema-initialized backend each time it is called.
func runBackendSuite(t *testing.T, newBackend func(t *testing.T) Backend) {
	t.Helper()
	ctx := context.Background()

	t.Run("EmptyList", func(t *testing.T) {
		b := newBackend(t)
		users, err := b.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, users)
	})

	t.Run("InitSchemaIsIdempotent", func(t *testing.T) {
		b := newBackend(t)
		require.NoError(t, b.InitSchema(ctx))
		require.NoError(t, b.InitSchema(ctx))
	})

	t.Run("InsertAssignsIncreasingIDs", func(t *testing.T) {
		b := newBackend(t)
		alice, err := b.Insert(ctx, "Alice", "alice@example.com")
		require.NoError(t, err)
		bob, err := b.Insert(ctx, "Bob", "bob@example.com")
		require.NoError(t, err)

		assert.NotZero(t, alice.ID)
		assert.Greater(t, bob.ID, alice.ID)
		assert.Equal(t, "Alice", alice.Name)
		assert.Equal(t, "alice@example.com", alice.Email)
	})

	t.Run("InsertDuplicateEmailConflicts", func(t *testing.T) {
		b := newBackend(t)
		_, err := b.Insert(ctx, "Alice", "alice@example.com")
		require.NoError(t, err)

		_, err = b.Insert(ctx, "Bob", "alice@example.com")
		require.ErrorIs(t, err, ErrConflict)

		users, err := b.List(ctx)
		require.NoError(t, err)
		require.Len(t, users, 1)
		assert.Equal(t, "Alice", users[0].Name)
	})

	t.Run("GetRoundTrip", func(t *testing.T) {
		b := newBackend(t)
		created, err := b.Insert(ctx, "Alice", "alice@example.com")
		require.NoError(t, err)

		got, err := b.Get(ctx, created.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, created, *got)

		byEmail, err := b.GetByEmail(ctx, "alice@example.com")
		require.NoError(t, err)
		require.NotNil(t, byEmail)
		assert.Equal(t, created, *byEmail)
	})

	t.Run("GetMissReturnsNil", func(t *testing.T) {
		b := newBackend(t)
		got, err := b.Get(ctx, 424242)
		require.NoError(t, err)
		assert.Nil(t, got)

		byEmail, err := b.GetByEmail(ctx, "nobody@example.com")
		require.NoError(t, err)
		assert.Nil(t, byEmail)
	})

	t.Run("EmailMatchIsExact", func(t *testing.T) {
		b := newBackend(t)
		_, err := b.Insert(ctx, "Alice", "alice@example.com")
		require.NoError(t, err)

		got, err := b.GetByEmail(ctx, "Alice@Example.com")
		require.NoError(t, err)
		assert.Nil(t, got)

		_, err = b.Insert(ctx, "Other Alice", "Alice@Example.com")
		require.NoError(t, err)
	})

	t.Run("ListKeepsInsertionOrder", func(t *testing.T) {
		b := newBackend(t)
		names := []string{"Carol", "Alice", "Bob"}
		for _, n := range names {
			_, err := b.Insert(ctx, n, n+"@example.com")
			require.NoError(t, err)
		}

		users, err := b.List(ctx)
		require.NoError(t, err)
		require.Len(t, users, 3)
		for i, n := range names {
			assert.Equal(t, n, users[i].Name)
		}
	})

	t.Run("ReplaceOverwritesFields", func(t *testing.T) {
		b := newBackend(t)
		u, err := b.Insert(ctx, "Alice", "alice@example.com")
		require.NoError(t, err)

		u.Name = "Alice Liddell"
		u.Email = "liddell@example.com"
		require.NoError(t, b.Replace(ctx, u))

		got, err := b.Get(ctx, u.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, u, *got)

		old, err := b.GetByEmail(ctx, "alice@example.com")
		require.NoError(t, err)
		assert.Nil(t, old, "old email must be released")

		// The released address can be taken by someone else.
		_, err = b.Insert(ctx, "New Alice", "alice@example.com")
		require.NoError(t, err)
	})

	t.Run("ReplaceKeepingEmail", func(t *testing.T) {
		b := newBackend(t)
		u, err := b.Insert(ctx, "Alice", "alice@example.com")
		require.NoError(t, err)

		u.Name = "Alice L."
		require.NoError(t, b.Replace(ctx, u))

		got, err := b.GetByEmail(ctx, "alice@example.com")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "Alice L.", got.Name)
	})

	t.Run("ReplaceMissingIsNotFound", func(t *testing.T) {
		b := newBackend(t)
		err := b.Replace(ctx, User{ID: 99, Name: "Ghost", Email: "ghost@example.com"})
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ReplaceWithTakenEmailConflicts", func(t *testing.T) {
		b := newBackend(t)
		_, err := b.Insert(ctx, "Alice", "alice@example.com")
		require.NoError(t, err)
		bob, err := b.Insert(ctx, "Bob", "bob@example.com")
		require.NoError(t, err)

		bob.Email = "alice@example.com"
		require.ErrorIs(t, b.Replace(ctx, bob), ErrConflict)

		got, err := b.Get(ctx, bob.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "bob@example.com", got.Email)
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		b := newBackend(t)
		u, err := b.Insert(ctx, "Alice", "alice@example.com")
		require.NoError(t, err)

		removed, err := b.Delete(ctx, u.ID)
		require.NoError(t, err)
		assert.True(t, removed)

		removed, err = b.Delete(ctx, u.ID)
		require.NoError(t, err)
		assert.False(t, removed)

		got, err := b.Get(ctx, u.ID)
		require.NoError(t, err)
		assert.Nil(t, got)

		users, err := b.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, users)

		// The email is free again.
		_, err = b.Insert(ctx, "Alice", "alice@example.com")
		require.NoError(t, err)
	})

	t.Run("DeletedIDsAreNotReused", func(t *testing.T) {
		b := newBackend(t)
		first, err := b.Insert(ctx, "Alice", "alice@example.com")
		require.NoError(t, err)
		_, err = b.Delete(ctx, first.ID)
		require.NoError(t, err)

		second, err := b.Insert(ctx, "Bob", "bob@example.com")
		require.NoError(t, err)
		assert.Greater(t, second.ID, first.ID)
	})

	t.Run("ConcurrentInsertSameEmail", func(t *testing.T) {
		b := newBackend(t)
		const goroutines = 16

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			conflicts int
			failures  []error
		)
		wg.Add(goroutines)
		for i := 0; i < goroutines; i++ {
			go func(idx int) {
				defer wg.Done()
				_, err := b.Insert(ctx, fmt.Sprintf("user-%d", idx), "race@example.com")
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					successes++
				case errors.Is(err, ErrConflict):
					conflicts++
				default:
					failures = append(failures, err)
				}
			}(i)
		}
		wg.Wait()

		assert.Empty(t, failures)
		assert.Equal(t, 1, successes)
		assert.Equal(t, goroutines-1, conflicts)

		users, err := b.List(ctx)
		require.NoError(t, err)
		assert.Len(t, users, 1)
	})

	t.Run("ConcurrentReplaceDistinctUsers", func(t *testing.T) {
		b := newBackend(t)
		const users = 16
		const rounds = 5

		ids := make([]int64, users)
		for i := range ids {
			u, err := b.Insert(ctx, fmt.Sprintf("user-%d", i), fmt.Sprintf("user-%d@example.com", i))
			require.NoError(t, err)
			ids[i] = u.ID
		}

		for round := 0; round < rounds; round++ {
			var wg sync.WaitGroup
			errs := make([]error, users)
			wg.Add(users)
			for i, id := range ids {
				go func(i int, id int64) {
					defer wg.Done()
					errs[i] = b.Replace(ctx, User{
						ID:    id,
						Name:  fmt.Sprintf("user-%d-r%d", i, round),
						Email: fmt.Sprintf("user-%d-r%d@example.com", i, round),
					})
				}(i, id)
			}
			wg.Wait()
			for i, err := range errs {
				require.NoError(t, err, "round %d user %d", round, i)
			}
		}

		for i, id := range ids {
			want := fmt.Sprintf("user-%d-r%d@example.com", i, rounds-1)
			got, err := b.GetByEmail(ctx, want)
			require.NoError(t, err)
			require.NotNil(t, got, "email index entry for %s", want)
			assert.Equal(t, id, got.ID)

			old, err := b.GetByEmail(ctx, fmt.Sprintf("user-%d@example.com", i))
			require.NoError(t, err)
			assert.Nil(t, old, "previous email is released")
		}
	})

	t.Run("ConcurrentDeleteSameID", func(t *testing.T) {
		b := newBackend(t)
		u, err := b.Insert(ctx, "Alice", "alice@example.com")
		require.NoError(t, err)
		const goroutines = 16

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			removed  int
			failures []error
		)
		wg.Add(goroutines)
		for i := 0; i < goroutines; i++ {
			go func() {
				defer wg.Done()
				ok, err := b.Delete(ctx, u.ID)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					failures = append(failures, err)
					return
				}
				if ok {
					removed++
				}
			}()
		}
		wg.Wait()

		assert.Empty(t, failures)
		assert.Equal(t, 1, removed)

		got, err := b.Get(ctx, u.ID)
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}
