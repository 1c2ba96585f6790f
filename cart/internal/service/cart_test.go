package service

import (
	"context"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alturino/cartsync/cart/internal/notify"
	"github.com/Alturino/cartsync/cart/internal/persistence"
	"github.com/Alturino/cartsync/cart/internal/repository"
	"github.com/Alturino/cartsync/cart/internal/store"
	"github.com/Alturino/cartsync/cart/pkg/model"
	inErrors "github.com/Alturino/cartsync/internal/errors"
)

var (
	mouse = model.Product{
		ID:                  1,
		Title:               "Mouse",
		UnitPrice:           decimal.NewFromInt(20),
		DiscountedUnitPrice: decimal.NewNullDecimal(decimal.NewFromInt(18)),
	}
	keyboard = model.Product{ID: 2, Title: "Keyboard", UnitPrice: decimal.NewFromInt(50)}
)

// stubSyncer answers every call with err once gate is open.
type stubSyncer struct {
	err   error
	gate  chan struct{}
	calls atomic.Int32
}

func (s *stubSyncer) wait() {
	s.calls.Add(1)
	if s.gate != nil {
		<-s.gate
	}
}

func (s *stubSyncer) SyncAdd(context.Context, uuid.UUID, model.Product, int32) (model.RemoteCartRecord, error) {
	s.wait()
	if s.err != nil {
		return model.RemoteCartRecord{}, s.err
	}
	return model.RemoteCartRecord{ID: uuid.New()}, nil
}

func (s *stubSyncer) SyncSetQuantity(context.Context, uuid.UUID, int32) (*model.RemoteCartRecord, error) {
	s.wait()
	return nil, s.err
}

func (s *stubSyncer) SyncRemove(context.Context, uuid.UUID) (bool, error) {
	s.wait()
	return false, s.err
}

func (s *stubSyncer) SyncClearAll(context.Context, uuid.UUID) (bool, error) {
	s.wait()
	return false, s.err
}

func (s *stubSyncer) SyncReplaceAll(context.Context, uuid.UUID, []model.LineItem) ([]model.RemoteCartRecord, error) {
	s.wait()
	return nil, s.err
}

// delayedRepository holds quantity updates for the configured duration.
type delayedRepository struct {
	*repository.MemoryRepository
	delays map[int32]time.Duration
}

func (r *delayedRepository) UpdateQuantity(
	c context.Context,
	id uuid.UUID,
	quantity int32,
) (model.RemoteCartRecord, error) {
	time.Sleep(r.delays[quantity])
	return r.MemoryRepository.UpdateQuantity(c, id, quantity)
}

func newSignedInCart(t *testing.T, syncer Syncer) (*CartService, *store.Store, uuid.UUID) {
	t.Helper()
	cart := store.New()
	userID := uuid.New()
	require.NoError(t, cart.ReplaceAll(userID, nil))
	return NewCartService(cart, syncer, notify.NewNotifier(8), time.Second), cart, userID
}

func newAdapter(repo repository.Repository) *persistence.Adapter {
	return persistence.NewAdapter(repo, persistence.NewMetrics(prometheus.NewRegistry()))
}

func TestMouseScenario(t *testing.T) {
	syncer := &stubSyncer{}
	service := NewCartService(store.New(), syncer, notify.NewNotifier(8), time.Second)
	c := context.Background()

	service.AddItem(c, mouse, 2)
	assert.True(t, decimal.NewFromInt(36).Equal(service.TotalPrice()))

	service.SetQuantity(c, mouse.ID, 0)
	assert.Empty(t, service.Items())
	assert.True(t, decimal.Zero.Equal(service.TotalPrice()))

	service.Wait()
	assert.Equal(t, int32(0), syncer.calls.Load(), "anonymous carts never reach the remote store")
}

func TestLocalChangeIsVisibleBeforeSync(t *testing.T) {
	c := context.Background()
	syncer := &stubSyncer{gate: make(chan struct{})}
	service, _, _ := newSignedInCart(t, syncer)

	snapshots := 0
	unsubscribe := service.Subscribe(func([]model.LineItem) { snapshots++ })

	service.AddItem(c, mouse, 1)
	unsubscribe()

	items := service.Items()
	require.Len(t, items, 1)
	assert.Equal(t, int32(1), items[0].Quantity)
	assert.Nil(t, items[0].RemoteID)
	assert.Equal(t, 1, snapshots)

	close(syncer.gate)
	service.Wait()
	assert.Equal(t, int32(1), syncer.calls.Load())
}

func TestAddItemAttachesRemoteID(t *testing.T) {
	c := context.Background()
	repo := repository.NewMemoryRepository()
	service, cart, userID := newSignedInCart(t, newAdapter(repo))

	service.AddItem(c, mouse, 2)
	service.AddItem(c, mouse, 1)
	service.Wait()

	records, err := repo.List(c, userID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int32(3), records[0].Quantity)

	item, ok := cart.Item(mouse.ID)
	require.True(t, ok)
	require.NotNil(t, item.RemoteID)
	assert.Equal(t, records[0].ID, *item.RemoteID)
	assert.Empty(t, service.DrainNotifications())
}

func TestAddItemSaturatesQuantity(t *testing.T) {
	c := context.Background()
	repo := repository.NewMemoryRepository()
	service, cart, userID := newSignedInCart(t, newAdapter(repo))

	service.AddItem(c, mouse, math.MaxInt32)
	service.Wait()
	service.AddItem(c, mouse, math.MaxInt32)
	service.Wait()

	item, ok := cart.Item(mouse.ID)
	require.True(t, ok)
	assert.Equal(t, int32(math.MaxInt32), item.Quantity)
	assert.True(t, service.TotalPrice().IsPositive())

	records, err := repo.List(c, userID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int32(math.MaxInt32), records[0].Quantity)
	assert.Empty(t, service.DrainNotifications())
}

func TestSetQuantityAndRemoveMirrorLinkedItems(t *testing.T) {
	c := context.Background()
	repo := repository.NewMemoryRepository()
	service, _, userID := newSignedInCart(t, newAdapter(repo))

	service.AddItem(c, mouse, 1)
	service.AddItem(c, keyboard, 1)
	service.Wait()

	service.SetQuantity(c, mouse.ID, 7)
	service.RemoveItem(c, keyboard.ID)
	service.Wait()

	records, err := repo.List(c, userID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, mouse.ID, records[0].ProductID)
	assert.Equal(t, int32(7), records[0].Quantity)

	service.SetQuantity(c, mouse.ID, 0)
	service.Wait()

	records, err = repo.List(c, userID)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Empty(t, service.Items())
}

func TestClearMirrorsSignedInCart(t *testing.T) {
	c := context.Background()
	repo := repository.NewMemoryRepository()
	service, cart, userID := newSignedInCart(t, newAdapter(repo))

	service.AddItem(c, mouse, 1)
	service.AddItem(c, keyboard, 1)
	service.Wait()

	service.Clear(c)
	service.Wait()

	records, err := repo.List(c, userID)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, userID, cart.Owner(), "clearing keeps the session signed in")
}

func TestSyncFailureNotifiesWithoutRollback(t *testing.T) {
	tests := []struct {
		name               string
		err                error
		expectNotification bool
		expectedKind       string
	}{
		{
			name:               "given transient failure should notify and keep local change",
			err:                inErrors.NewFailure(persistence.OpSyncAdd, inErrors.KindTransient, context.DeadlineExceeded),
			expectNotification: true,
			expectedKind:       "transient",
		},
		{
			name:               "given schema missing failure should notify and keep local change",
			err:                inErrors.NewFailure(persistence.OpSyncAdd, inErrors.KindSchemaMissing, inErrors.ErrSchemaMissing),
			expectNotification: true,
			expectedKind:       "schema_missing",
		},
		{
			name:               "given not found failure should only be logged",
			err:                inErrors.NewFailure(persistence.OpSyncAdd, inErrors.KindNotFound, inErrors.ErrRecordNotFound),
			expectNotification: false,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := context.Background()
			service, cart, _ := newSignedInCart(t, &stubSyncer{err: test.err})

			service.AddItem(c, mouse, 2)
			service.Wait()

			item, ok := cart.Item(mouse.ID)
			require.True(t, ok)
			assert.Equal(t, int32(2), item.Quantity)
			assert.Nil(t, item.RemoteID)

			notifications := service.DrainNotifications()
			if !test.expectNotification {
				assert.Empty(t, notifications)
				return
			}
			require.Len(t, notifications, 1)
			assert.Equal(t, test.expectedKind, notifications[0].Kind)
			assert.Equal(t, persistence.OpSyncAdd, notifications[0].Operation)
			assert.Equal(t, mouse.ID, notifications[0].ProductID)
		})
	}
}

// Remote calls for the same product are not serialized, so a slow earlier
// write can land after a later one.
func TestSameProductSetQuantityRace(t *testing.T) {
	c := context.Background()
	repo := &delayedRepository{
		MemoryRepository: repository.NewMemoryRepository(),
		delays:           map[int32]time.Duration{2: 200 * time.Millisecond},
	}
	service, cart, userID := newSignedInCart(t, newAdapter(repo))

	service.AddItem(c, mouse, 1)
	service.Wait()

	service.SetQuantity(c, mouse.ID, 2)
	service.SetQuantity(c, mouse.ID, 5)
	service.Wait()

	item, ok := cart.Item(mouse.ID)
	require.True(t, ok)
	assert.Equal(t, int32(5), item.Quantity)

	records, err := repo.List(c, userID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int32(2), records[0].Quantity)
	assert.NotEqual(t, item.Quantity, records[0].Quantity)
}

func TestPushLocalCart(t *testing.T) {
	c := context.Background()
	repo := repository.NewMemoryRepository()
	cart := store.New()
	service := NewCartService(cart, newAdapter(repo), notify.NewNotifier(8), time.Second)

	service.AddItem(c, mouse, 2)
	service.AddItem(c, keyboard, 1)

	userID := uuid.New()
	require.NoError(t, cart.ReplaceAll(userID, cart.Items()))
	require.NoError(t, service.PushLocalCart(c))

	records, err := repo.List(c, userID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, item := range cart.Items() {
		assert.NotNil(t, item.RemoteID)
	}
}

func TestPushLocalCartWhenAnonymous(t *testing.T) {
	service := NewCartService(store.New(), newAdapter(repository.NewMemoryRepository()), notify.NewNotifier(8), time.Second)

	err := service.PushLocalCart(context.Background())
	assert.ErrorIs(t, err, inErrors.ErrUnauthenticated)

	notifications := service.DrainNotifications()
	require.Len(t, notifications, 1)
	assert.Equal(t, "unauthenticated", notifications[0].Kind)
}
