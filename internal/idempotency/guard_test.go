package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_NoKeyAlwaysExecutes(t *testing.T) {
	g := NewGuard(NewMemoryStore())

	var calls int
	for i := 0; i < 3; i++ {
		resp, replayed, err := g.Do(context.Background(), "", "acct", func(context.Context) (json.RawMessage, error) {
			calls++
			return json.RawMessage(`{"n":1}`), nil
		})
		require.NoError(t, err)
		assert.False(t, replayed)
		assert.JSONEq(t, `{"n":1}`, string(resp))
	}
	assert.Equal(t, 3, calls)
}

func TestDo_CompletedKeyReplaysResponse(t *testing.T) {
	g := NewGuard(NewMemoryStore())

	var calls int
	run := func() (json.RawMessage, bool, error) {
		return g.Do(context.Background(), "k1", "acct", func(context.Context) (json.RawMessage, error) {
			calls++
			return json.RawMessage(`{"transaction_id":"txn_1"}`), nil
		})
	}

	first, replayed, err := run()
	require.NoError(t, err)
	assert.False(t, replayed)

	second, replayed, err := run()
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, string(first), string(second))
	assert.Equal(t, 1, calls)
}

func TestDo_InProgressKeyIsRejected(t *testing.T) {
	g := NewGuard(NewMemoryStore())

	started := make(chan struct{})
	finish := make(chan struct{})
	var firstErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _, firstErr = g.Do(context.Background(), "k1", "acct", func(context.Context) (json.RawMessage, error) {
			close(started)
			<-finish
			return json.RawMessage(`{}`), nil
		})
	}()

	<-started
	_, _, err := g.Do(context.Background(), "k1", "acct", func(context.Context) (json.RawMessage, error) {
		t.Error("second caller must not execute")
		return nil, nil
	})
	require.ErrorIs(t, err, ErrInProgress)

	close(finish)
	wg.Wait()
	require.NoError(t, firstErr)
}

func TestDo_FailedKeyAllowsRetry(t *testing.T) {
	g := NewGuard(NewMemoryStore())

	boom := errors.New("ledger rejected")
	_, _, err := g.Do(context.Background(), "k1", "acct", func(context.Context) (json.RawMessage, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	resp, replayed, err := g.Do(context.Background(), "k1", "acct", func(context.Context) (json.RawMessage, error) {
		return json.RawMessage(`{"ok":true}`), nil
	})
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.JSONEq(t, `{"ok":true}`, string(resp))
}

func TestDo_ConcurrentSameKeyExecutesOnce(t *testing.T) {
	g := NewGuard(NewMemoryStore())

	var executions atomic.Int32
	var replays atomic.Int32
	var rejections atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, replayed, err := g.Do(context.Background(), "k1", "acct", func(context.Context) (json.RawMessage, error) {
				executions.Add(1)
				time.Sleep(10 * time.Millisecond)
				return json.RawMessage(`{"transaction_id":"txn_1"}`), nil
			})
			switch {
			case errors.Is(err, ErrInProgress):
				rejections.Add(1)
			case err == nil && replayed:
				replays.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), executions.Load())
	assert.Equal(t, int32(9), replays.Load()+rejections.Load())
}

// staleReadStore reports a key as missing once even though the backing
// store holds it, mimicking another process claiming the key between this
// process's read and its insert.
type staleReadStore struct {
	*MemoryStore
	misses int
}

func (s *staleReadStore) Get(ctx context.Context, key string) (*Record, error) {
	if s.misses > 0 {
		s.misses--
		return nil, ErrNotFound
	}
	return s.MemoryStore.Get(ctx, key)
}

func TestDo_CrossProcessClaimRaceReportsProcessing(t *testing.T) {
	store := &staleReadStore{MemoryStore: NewMemoryStore(), misses: 1}
	now := time.Now()
	require.NoError(t, store.MemoryStore.Create(context.Background(), &Record{
		Key:       "key-1",
		AccountID: "acct",
		Status:    StatusInProgress,
		CreatedAt: now,
		UpdatedAt: now,
	}))

	g := NewGuard(store)
	_, replayed, err := g.Do(context.Background(), "key-1", "acct", func(context.Context) (json.RawMessage, error) {
		t.Fatal("fn must not run when the key is already claimed")
		return nil, nil
	})
	require.ErrorIs(t, err, ErrInProgress)
	assert.False(t, replayed)
}

func TestMemoryStore_CompletedIsImmutable(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	rec := &Record{
		Key:       "key-2",
		AccountID: "acct",
		Status:    StatusCompleted,
		Response:  json.RawMessage(`{"transaction_id":"txn_1"}`),
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.Create(context.Background(), rec))

	stale := *rec
	stale.Status = StatusInProgress
	stale.Response = nil
	require.ErrorIs(t, store.Update(context.Background(), &stale), ErrNotFound)

	got, err := store.Get(context.Background(), "key-2")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.JSONEq(t, `{"transaction_id":"txn_1"}`, string(got.Response))
}

func TestMemoryStore_DuplicateCreate(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	rec := &Record{Key: "key-3", AccountID: "acct", Status: StatusInProgress, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.Create(context.Background(), rec))
	require.ErrorIs(t, store.Create(context.Background(), rec), ErrAlreadyExists)
}
