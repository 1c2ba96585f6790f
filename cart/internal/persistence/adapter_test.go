package persistence

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alturino/cartsync/cart/internal/repository"
	"github.com/Alturino/cartsync/cart/pkg/model"
	inErrors "github.com/Alturino/cartsync/internal/errors"
)

var mouse = model.Product{
	ID:                  1,
	Title:               "Mouse",
	UnitPrice:           decimal.NewFromInt(20),
	DiscountedUnitPrice: decimal.NewNullDecimal(decimal.NewFromInt(18)),
}

type failingRepository struct {
	err error
}

func (r failingRepository) List(context.Context, uuid.UUID) ([]model.RemoteCartRecord, error) {
	return nil, r.err
}

func (r failingRepository) FindByProduct(context.Context, uuid.UUID, int64) (model.RemoteCartRecord, error) {
	return model.RemoteCartRecord{}, r.err
}

func (r failingRepository) Insert(context.Context, model.RemoteCartRecord) (model.RemoteCartRecord, error) {
	return model.RemoteCartRecord{}, r.err
}

func (r failingRepository) IncrementQuantity(context.Context, uuid.UUID, int32) (model.RemoteCartRecord, error) {
	return model.RemoteCartRecord{}, r.err
}

func (r failingRepository) UpdateQuantity(context.Context, uuid.UUID, int32) (model.RemoteCartRecord, error) {
	return model.RemoteCartRecord{}, r.err
}

func (r failingRepository) Delete(context.Context, uuid.UUID) (model.RemoteCartRecord, error) {
	return model.RemoteCartRecord{}, r.err
}

func (r failingRepository) DeleteAll(context.Context, uuid.UUID) (int64, error) {
	return 0, r.err
}

func (r failingRepository) ReplaceAll(context.Context, uuid.UUID, []model.RemoteCartRecord) error {
	return r.err
}

// hiddenRecordRepository misses the first lookup, as if another device
// inserted the record right after it.
type hiddenRecordRepository struct {
	*repository.MemoryRepository
	lookups int
}

func (r *hiddenRecordRepository) FindByProduct(
	c context.Context,
	userID uuid.UUID,
	productID int64,
) (model.RemoteCartRecord, error) {
	r.lookups++
	if r.lookups == 1 {
		return model.RemoteCartRecord{}, inErrors.ErrRecordNotFound
	}
	return r.MemoryRepository.FindByProduct(c, userID, productID)
}

func newAdapter(repo repository.Repository) (*Adapter, *Metrics) {
	metrics := NewMetrics(prometheus.NewRegistry())
	return NewAdapter(repo, metrics), metrics
}

func seed(t *testing.T, repo repository.Repository, userID uuid.UUID, quantity int32) model.RemoteCartRecord {
	t.Helper()
	record, err := repo.Insert(context.Background(), model.NewRemoteCartRecord(userID, mouse, quantity))
	require.NoError(t, err)
	return record
}

func TestSyncAdd(t *testing.T) {
	tests := []struct {
		name             string
		existingQuantity int32
		quantity         int32
		expectedQuantity int32
	}{
		{
			name:             "given existing record with quantity 3 when adding 2 should store 5",
			existingQuantity: 3,
			quantity:         2,
			expectedQuantity: 5,
		},
		{
			name:             "given no existing record when adding 2 should insert 2",
			quantity:         2,
			expectedQuantity: 2,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := context.Background()
			repo := repository.NewMemoryRepository()
			adapter, _ := newAdapter(repo)
			userID := uuid.New()
			if test.existingQuantity > 0 {
				seed(t, repo, userID, test.existingQuantity)
			}

			record, err := adapter.SyncAdd(c, userID, mouse, test.quantity)
			require.NoError(t, err)
			assert.Equal(t, test.expectedQuantity, record.Quantity)

			records, err := repo.List(c, userID)
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.Equal(t, test.expectedQuantity, records[0].Quantity)
			assert.Equal(t, record.ID, records[0].ID)
		})
	}
}

func TestSyncAddFallsBackToIncrementOnConcurrentInsert(t *testing.T) {
	c := context.Background()
	memory := repository.NewMemoryRepository()
	repo := &hiddenRecordRepository{MemoryRepository: memory}
	adapter, metrics := newAdapter(repo)
	userID := uuid.New()
	existing := seed(t, memory, userID, 4)

	record, err := adapter.SyncAdd(c, userID, mouse, 2)
	require.NoError(t, err)
	assert.Equal(t, existing.ID, record.ID)
	assert.Equal(t, int32(6), record.Quantity)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.addFallbacks))
}

func TestSyncSetQuantity(t *testing.T) {
	c := context.Background()
	repo := repository.NewMemoryRepository()
	adapter, _ := newAdapter(repo)
	userID := uuid.New()
	existing := seed(t, repo, userID, 3)

	record, err := adapter.SyncSetQuantity(c, existing.ID, 7)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, int32(7), record.Quantity)

	record, err = adapter.SyncSetQuantity(c, existing.ID, 0)
	require.NoError(t, err)
	assert.Nil(t, record)

	records, err := repo.List(c, userID)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSyncSetQuantityOnVanishedRecord(t *testing.T) {
	adapter, metrics := newAdapter(repository.NewMemoryRepository())

	record, err := adapter.SyncSetQuantity(context.Background(), uuid.New(), 2)
	assert.Nil(t, record)
	assert.ErrorIs(t, err, inErrors.ErrNotFound)
	assert.Equal(t, inErrors.KindNotFound, inErrors.KindOf(err))
	assert.Equal(
		t,
		float64(1),
		testutil.ToFloat64(metrics.syncs.WithLabelValues(OpSyncSetQuantity, resultFailure, "not_found")),
	)
}

func TestSyncRemove(t *testing.T) {
	c := context.Background()
	repo := repository.NewMemoryRepository()
	adapter, _ := newAdapter(repo)
	existing := seed(t, repo, uuid.New(), 1)

	removed, err := adapter.SyncRemove(c, existing.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = adapter.SyncRemove(c, existing.ID)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestSyncClearAll(t *testing.T) {
	c := context.Background()
	repo := repository.NewMemoryRepository()
	adapter, _ := newAdapter(repo)
	userID := uuid.New()
	otherUserID := uuid.New()
	seed(t, repo, userID, 1)
	seed(t, repo, otherUserID, 1)

	cleared, err := adapter.SyncClearAll(c, userID)
	require.NoError(t, err)
	assert.True(t, cleared)

	records, err := adapter.FetchAll(c, userID)
	require.NoError(t, err)
	assert.Empty(t, records)

	records, err = adapter.FetchAll(c, otherUserID)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestSyncReplaceAll(t *testing.T) {
	c := context.Background()
	repo := repository.NewMemoryRepository()
	adapter, _ := newAdapter(repo)
	userID := uuid.New()
	seed(t, repo, userID, 9)

	keyboard := model.Product{ID: 2, Title: "Keyboard", UnitPrice: decimal.NewFromInt(50)}
	remoteID := uuid.New()
	linked := model.NewLineItem(keyboard, 1)
	linked.RemoteID = &remoteID

	records, err := adapter.SyncReplaceAll(c, userID, []model.LineItem{model.NewLineItem(mouse, 2), linked})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, remoteID, records[1].ID)

	stored, err := adapter.FetchAll(c, userID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	quantities := map[int64]int32{}
	for _, r := range stored {
		quantities[r.ProductID] = r.Quantity
	}
	assert.Equal(t, map[int64]int32{1: 2, 2: 1}, quantities)
}

func TestAnonymousUserIsUnauthenticated(t *testing.T) {
	c := context.Background()
	adapter, _ := newAdapter(failingRepository{err: errors.New("must not be called")})

	_, err := adapter.SyncAdd(c, uuid.Nil, mouse, 1)
	assert.ErrorIs(t, err, inErrors.ErrUnauthenticated)

	_, err = adapter.SyncClearAll(c, uuid.Nil)
	assert.ErrorIs(t, err, inErrors.ErrUnauthenticated)

	_, err = adapter.FetchAll(c, uuid.Nil)
	assert.ErrorIs(t, err, inErrors.ErrUnauthenticated)

	_, err = adapter.SyncReplaceAll(c, uuid.Nil, nil)
	assert.ErrorIs(t, err, inErrors.ErrUnauthenticated)
}

func TestFailureClassification(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected inErrors.Kind
		sentinel error
	}{
		{
			name:     "given pgx undefined table should be schema missing",
			err:      fmt.Errorf("failed listing cart items with error=%w", &pgconn.PgError{Code: "42P01"}),
			expected: inErrors.KindSchemaMissing,
			sentinel: inErrors.ErrSchemaMissing,
		},
		{
			name:     "given lib/pq undefined table should be schema missing",
			err:      &pq.Error{Code: "42P01"},
			expected: inErrors.KindSchemaMissing,
			sentinel: inErrors.ErrSchemaMissing,
		},
		{
			name:     "given insufficient privilege should be unauthenticated",
			err:      &pgconn.PgError{Code: "42501"},
			expected: inErrors.KindUnauthenticated,
			sentinel: inErrors.ErrUnauthenticated,
		},
		{
			name:     "given connection exception class should be transient",
			err:      &pgconn.PgError{Code: "08006"},
			expected: inErrors.KindTransient,
			sentinel: inErrors.ErrTransient,
		},
		{
			name:     "given deadline exceeded should be transient",
			err:      context.DeadlineExceeded,
			expected: inErrors.KindTransient,
			sentinel: inErrors.ErrTransient,
		},
		{
			name:     "given network error should be transient",
			err:      &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")},
			expected: inErrors.KindTransient,
			sentinel: inErrors.ErrTransient,
		},
		{
			name:     "given missing record should be not found",
			err:      fmt.Errorf("failed deleting cart item with error=%w", inErrors.ErrRecordNotFound),
			expected: inErrors.KindNotFound,
			sentinel: inErrors.ErrNotFound,
		},
		{
			name:     "given check violation should be unknown",
			err:      &pgconn.PgError{Code: "23514"},
			expected: inErrors.KindUnknown,
			sentinel: inErrors.ErrUnknown,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := context.Background()
			adapter, metrics := newAdapter(failingRepository{err: test.err})

			_, err := adapter.FetchAll(c, uuid.New())
			require.Error(t, err)
			assert.Equal(t, test.expected, inErrors.KindOf(err))
			assert.ErrorIs(t, err, test.sentinel)
			assert.ErrorIs(t, err, test.err)

			var failure *inErrors.Failure
			require.ErrorAs(t, err, &failure)
			assert.Equal(t, OpFetchAll, failure.Op)

			expectedSchemaMissing := 0.0
			if test.expected == inErrors.KindSchemaMissing {
				expectedSchemaMissing = 1
			}
			assert.Equal(t, expectedSchemaMissing, testutil.ToFloat64(metrics.schemaMissing))
		})
	}
}
