package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alturino/cartsync/cart/pkg/model"
)

func setupCachedRepository(t *testing.T) (*CachedRepository, *MemoryRepository, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	memory := NewMemoryRepository()
	return NewCachedRepository(memory, client, time.Hour), memory, mr
}

// gatedListRepository reads the records, reports the read on listed and
// holds them until gate is closed or c is done.
type gatedListRepository struct {
	*MemoryRepository
	listed chan struct{}
	gate   chan struct{}
}

func (r *gatedListRepository) List(c context.Context, userID uuid.UUID) ([]model.RemoteCartRecord, error) {
	records, err := r.MemoryRepository.List(c, userID)
	r.listed <- struct{}{}
	select {
	case <-r.gate:
		return records, err
	case <-c.Done():
		return nil, c.Err()
	}
}

func setupGatedCachedRepository(t *testing.T) (*CachedRepository, *gatedListRepository) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	gated := &gatedListRepository{
		MemoryRepository: NewMemoryRepository(),
		listed:           make(chan struct{}, 8),
		gate:             make(chan struct{}),
	}
	return NewCachedRepository(gated, client, time.Hour), gated
}

func TestCachedRepository(t *testing.T) {
	cached, _, _ := setupCachedRepository(t)
	exerciseRepository(t, context.Background(), cached)
}

func TestCachedRepositoryListPopulatesCache(t *testing.T) {
	c := context.Background()
	cached, memory, mr := setupCachedRepository(t)
	userID := uuid.New()

	_, err := memory.Insert(c, record(userID, 1, 2))
	require.NoError(t, err)

	records, err := cached.List(c, userID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, mr.Exists(cacheKey(userID, 0)))
	assert.Equal(t, time.Hour, mr.TTL(cacheKey(userID, 0)))

	// a write that bypasses the decorator is not visible until invalidation
	_, err = memory.Insert(c, record(userID, 2, 1))
	require.NoError(t, err)
	records, err = cached.List(c, userID)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestCachedRepositoryWritesInvalidate(t *testing.T) {
	c := context.Background()
	cached, _, mr := setupCachedRepository(t)
	userID := uuid.New()

	inserted, err := cached.Insert(c, record(userID, 1, 2))
	require.NoError(t, err)

	_, err = cached.List(c, userID)
	require.NoError(t, err)
	require.True(t, mr.Exists(cacheKey(userID, 1)))

	updated, err := cached.IncrementQuantity(c, inserted.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, int32(5), updated.Quantity)
	version, err := mr.Get(versionKey(userID))
	require.NoError(t, err)
	assert.Equal(t, "2", version)

	records, err := cached.List(c, userID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int32(5), records[0].Quantity)
	assert.True(t, mr.Exists(cacheKey(userID, 2)))
}

func TestCachedRepositoryFallsBackWhenCacheIsDown(t *testing.T) {
	c := context.Background()
	cached, memory, mr := setupCachedRepository(t)
	userID := uuid.New()

	_, err := memory.Insert(c, record(userID, 1, 2))
	require.NoError(t, err)

	mr.Close()

	records, err := cached.List(c, userID)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	_, err = cached.Insert(c, record(userID, 2, 1))
	require.NoError(t, err)
}

func TestCachedRepositoryWriteDuringLoadIsNotServedStale(t *testing.T) {
	c := context.Background()
	cached, gated := setupGatedCachedRepository(t)
	userID := uuid.New()

	inserted, err := gated.Insert(c, record(userID, 1, 2))
	require.NoError(t, err)

	type listResult struct {
		err     error
		records []model.RemoteCartRecord
	}
	first := make(chan listResult, 1)
	go func() {
		records, err := cached.List(c, userID)
		first <- listResult{records: records, err: err}
	}()
	<-gated.listed

	updated, err := cached.IncrementQuantity(c, inserted.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, int32(5), updated.Quantity)

	close(gated.gate)
	res := <-first
	require.NoError(t, res.err)
	require.Len(t, res.records, 1)

	records, err := cached.List(c, userID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int32(5), records[0].Quantity)
}

func TestCachedRepositoryCancelledCallerDoesNotFailSharedLoad(t *testing.T) {
	c := context.Background()
	cached, gated := setupGatedCachedRepository(t)
	userID := uuid.New()

	_, err := gated.Insert(c, record(userID, 1, 2))
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(c)
	defer cancel()
	firstErr := make(chan error, 1)
	go func() {
		_, err := cached.List(cancelled, userID)
		firstErr <- err
	}()
	<-gated.listed

	var (
		wg      sync.WaitGroup
		records []model.RemoteCartRecord
		listErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		records, listErr = cached.List(c, userID)
	}()
	// let the second caller join the load in flight
	time.Sleep(50 * time.Millisecond)

	cancel()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(gated.gate)
	wg.Wait()
	require.NoError(t, listErr)
	require.Len(t, records, 1)
	assert.Len(t, gated.listed, 0, "both callers shared one read")
}
