package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Alturino/cartsync/cart/internal/notify"
	"github.com/Alturino/cartsync/cart/internal/persistence"
	"github.com/Alturino/cartsync/cart/internal/store"
	"github.com/Alturino/cartsync/cart/pkg/model"
	inErrors "github.com/Alturino/cartsync/internal/errors"
	"github.com/Alturino/cartsync/internal/log"
	"github.com/Alturino/cartsync/internal/otel"
)

// Syncer mirrors cart mutations to the remote store.
type Syncer interface {
	SyncAdd(c context.Context, userID uuid.UUID, product model.Product, quantity int32) (model.RemoteCartRecord, error)
	SyncSetQuantity(c context.Context, remoteID uuid.UUID, quantity int32) (*model.RemoteCartRecord, error)
	SyncRemove(c context.Context, remoteID uuid.UUID) (bool, error)
	SyncClearAll(c context.Context, userID uuid.UUID) (bool, error)
	SyncReplaceAll(c context.Context, userID uuid.UUID, items []model.LineItem) ([]model.RemoteCartRecord, error)
}

// CartService is the cart of one browser session. Every mutation is applied
// to the local store first and returns immediately; the remote mirror runs
// in the background and its failures become notifications. A failed sync
// never rolls the local change back.
type CartService struct {
	store       *store.Store
	syncer      Syncer
	notifier    *notify.Notifier
	now         func() time.Time
	wg          sync.WaitGroup
	syncTimeout time.Duration
}

func NewCartService(
	cart *store.Store,
	syncer Syncer,
	notifier *notify.Notifier,
	syncTimeout time.Duration,
) *CartService {
	return &CartService{
		store:       cart,
		syncer:      syncer,
		notifier:    notifier,
		now:         time.Now,
		syncTimeout: syncTimeout,
	}
}

func (s *CartService) AddItem(c context.Context, product model.Product, quantity int32) {
	c, span := otel.Tracer.Start(
		c,
		"CartService AddItem",
		trace.WithAttributes(
			attribute.Int64(log.KeyProductID, product.ID),
			attribute.Int(log.KeyQuantity, int(quantity)),
		),
	)
	defer span.End()

	m := s.store.AddItem(product, quantity)
	owner := m.Owner
	if owner == uuid.Nil || !m.Applied {
		return
	}

	s.sync(c, persistence.OpSyncAdd, product.ID, func(c context.Context) error {
		record, err := s.syncer.SyncAdd(c, owner, product, quantity)
		if err != nil {
			return err
		}
		if !s.store.AttachRemoteID(owner, product.ID, record.ID) {
			zerolog.Ctx(c).
				Debug().
				Str(log.KeyTag, "CartService AddItem").
				Int64(log.KeyProductID, product.ID).
				Str(log.KeyRemoteID, record.ID.String()).
				Msg("cart changed before sync finished, remote id not attached")
		}
		return nil
	})
}

// SetQuantity sets the quantity exactly; quantity <= 0 removes the item. Only
// items already linked to a remote record are mirrored.
func (s *CartService) SetQuantity(c context.Context, productID int64, quantity int32) {
	c, span := otel.Tracer.Start(
		c,
		"CartService SetQuantity",
		trace.WithAttributes(
			attribute.Int64(log.KeyProductID, productID),
			attribute.Int(log.KeyQuantity, int(quantity)),
		),
	)
	defer span.End()

	m := s.store.SetQuantity(productID, quantity)
	if !m.Applied || m.RemoteID == nil || m.Owner == uuid.Nil {
		return
	}

	remoteID := *m.RemoteID
	s.sync(c, persistence.OpSyncSetQuantity, productID, func(c context.Context) error {
		_, err := s.syncer.SyncSetQuantity(c, remoteID, quantity)
		return err
	})
}

func (s *CartService) RemoveItem(c context.Context, productID int64) {
	c, span := otel.Tracer.Start(
		c,
		"CartService RemoveItem",
		trace.WithAttributes(attribute.Int64(log.KeyProductID, productID)),
	)
	defer span.End()

	m := s.store.RemoveItem(productID)
	if !m.Applied || m.RemoteID == nil || m.Owner == uuid.Nil {
		return
	}

	remoteID := *m.RemoteID
	s.sync(c, persistence.OpSyncRemove, productID, func(c context.Context) error {
		_, err := s.syncer.SyncRemove(c, remoteID)
		return err
	})
}

func (s *CartService) Clear(c context.Context) {
	c, span := otel.Tracer.Start(c, "CartService Clear")
	defer span.End()

	owner := s.store.Clear().Owner
	if owner == uuid.Nil {
		return
	}

	s.sync(c, persistence.OpSyncClearAll, 0, func(c context.Context) error {
		_, err := s.syncer.SyncClearAll(c, owner)
		return err
	})
}

// PushLocalCart overwrites the remote cart with the local one and links
// every local item to its stored record. Unlike the other mutations it
// waits for the remote store.
func (s *CartService) PushLocalCart(c context.Context) error {
	c, span := otel.Tracer.Start(c, "CartService PushLocalCart")
	defer span.End()

	owner := s.store.Owner()
	items := s.store.Items()
	logger := zerolog.Ctx(c).
		With().
		Str(log.KeyTag, "CartService PushLocalCart").
		Str(log.KeyUserID, owner.String()).
		Int(log.KeyCartItemsCount, len(items)).
		Logger()

	logger = logger.With().Str(log.KeyProcess, "replacing remote cart").Logger()
	logger.Info().Msg("replacing remote cart")
	records, err := s.syncer.SyncReplaceAll(c, owner, items)
	if err != nil {
		err = fmt.Errorf("failed replacing remote cart with error=%w", err)
		inErrors.HandleError(err, span)
		s.report(logger.WithContext(c), 0, err)
		return err
	}
	for _, record := range records {
		s.store.AttachRemoteID(owner, record.ProductID, record.ID)
	}
	logger.Info().Msg("replaced remote cart")

	return nil
}

func (s *CartService) TotalPrice() decimal.Decimal {
	return s.store.TotalPrice()
}

func (s *CartService) Items() []model.LineItem {
	return s.store.Items()
}

func (s *CartService) Owner() uuid.UUID {
	return s.store.Owner()
}

func (s *CartService) Subscribe(fn store.Listener) (unsubscribe func()) {
	return s.store.Subscribe(fn)
}

func (s *CartService) Notifications() <-chan notify.Notification {
	return s.notifier.C()
}

func (s *CartService) DrainNotifications() []notify.Notification {
	return s.notifier.Drain()
}

// Wait blocks until every background sync started so far has finished.
func (s *CartService) Wait() {
	s.wg.Wait()
}

// sync runs fn in the background, detached from the cancellation of c so a
// finished request does not abort its remote mirror.
func (s *CartService) sync(c context.Context, op string, productID int64, fn func(context.Context) error) {
	c = context.WithoutCancel(c)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		c, span := otel.Tracer.Start(c, "CartService sync "+op)
		defer span.End()

		if s.syncTimeout > 0 {
			var cancel context.CancelFunc
			c, cancel = context.WithTimeout(c, s.syncTimeout)
			defer cancel()
		}
		if err := fn(c); err != nil {
			inErrors.HandleError(err, span)
			s.report(c, productID, err)
		}
	}()
}

// report turns a sync failure into a notification. A vanished record is a
// benign race and is only logged.
func (s *CartService) report(c context.Context, productID int64, err error) {
	kind := inErrors.KindOf(err)
	logger := zerolog.Ctx(c).
		With().
		Str(log.KeyTag, "CartService report").
		Int64(log.KeyProductID, productID).
		Str(log.KeyFailureKind, kind.String()).
		Logger()

	switch kind {
	case inErrors.KindNotFound:
		logger.Debug().Err(err).Msg("remote record already gone, keeping local change")
		return
	case inErrors.KindSchemaMissing:
		logger.Error().
			Err(err).
			Bool("misconfiguration", true).
			Msg("cart table missing, run pending migrations")
	default:
		logger.Warn().Err(err).Msg("failed syncing cart change, keeping local change")
	}

	if !s.notifier.Publish(notify.FromFailure(err, productID, s.now())) {
		logger.Warn().Msg("notification queue full, dropped notification")
	}
}
