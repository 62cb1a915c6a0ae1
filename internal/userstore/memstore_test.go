package userstore

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStore_Backend(t *testing.T) {
	runBackendSuite(t, func(t *testing.T) Backend {
		return NewMemStore()
	})
}

func TestMemStore_GetReturnsCopy(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	u, err := m.Insert(ctx, "Alice", "alice@example.com")
	require.NoError(t, err)

	got, err := m.Get(ctx, u.ID)
	require.NoError(t, err)
	got.Name = "mutated"

	again, err := m.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", again.Name, "store must not be mutated through a returned value")
}

func TestMemStore_ConcurrentInsertSameEmail(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()
	const goroutines = 50

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(idx int) {
			defer wg.Done()
			_, err := m.Insert(ctx, fmt.Sprintf("user-%d", idx), "same@example.com")
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	users, err := m.List(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}
