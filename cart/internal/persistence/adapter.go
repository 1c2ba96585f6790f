package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Alturino/cartsync/cart/internal/repository"
	"github.com/Alturino/cartsync/cart/pkg/model"
	inErrors "github.com/Alturino/cartsync/internal/errors"
	"github.com/Alturino/cartsync/internal/log"
	"github.com/Alturino/cartsync/internal/otel"
)

const (
	OpSyncAdd         = "SyncAdd"
	OpSyncSetQuantity = "SyncSetQuantity"
	OpSyncRemove      = "SyncRemove"
	OpSyncClearAll    = "SyncClearAll"
	OpFetchAll        = "FetchAll"
	OpSyncReplaceAll  = "SyncReplaceAll"
)

// Adapter mirrors local cart mutations onto a Repository. It keeps no state
// of its own and never retries; every error it returns is a
// *inErrors.Failure.
type Adapter struct {
	repo    repository.Repository
	metrics *Metrics
}

func NewAdapter(repo repository.Repository, metrics *Metrics) *Adapter {
	return &Adapter{repo: repo, metrics: metrics}
}

func (a *Adapter) fail(
	logger zerolog.Logger,
	span trace.Span,
	op string,
	kind inErrors.Kind,
	err error,
) error {
	failure := inErrors.NewFailure(op, kind, err)
	inErrors.HandleError(failure, span)
	span.SetAttributes(attribute.String(log.KeyFailureKind, kind.String()))

	event := logger.Warn()
	switch kind {
	case inErrors.KindNotFound:
		event = logger.Debug()
	case inErrors.KindSchemaMissing:
		event = logger.Error().Bool("misconfiguration", true)
	case inErrors.KindUnknown:
		event = logger.Error()
	}
	event.Err(failure).Str(log.KeyFailureKind, kind.String()).Msg(failure.Error())

	a.metrics.observe(op, failure)
	return failure
}

// SyncAdd adds quantity of product to the remote cart of userID. An existing
// record is incremented on the server so concurrent adds from different
// devices accumulate; an insert that loses the race to another writer is
// retried as an increment.
func (a *Adapter) SyncAdd(
	c context.Context,
	userID uuid.UUID,
	product model.Product,
	quantity int32,
) (model.RemoteCartRecord, error) {
	c, span := otel.Tracer.Start(
		c,
		"Adapter SyncAdd",
		trace.WithAttributes(
			attribute.String(log.KeyUserID, userID.String()),
			attribute.Int64(log.KeyProductID, product.ID),
			attribute.Int(log.KeyQuantity, int(quantity)),
		),
	)
	defer span.End()

	logger := zerolog.Ctx(c).
		With().
		Str(log.KeyTag, "Adapter SyncAdd").
		Str(log.KeyUserID, userID.String()).
		Int64(log.KeyProductID, product.ID).
		Int32(log.KeyQuantity, quantity).
		Logger()

	if userID == uuid.Nil {
		return model.RemoteCartRecord{}, a.fail(logger, span, OpSyncAdd, inErrors.KindUnauthenticated, inErrors.ErrEmptySubject)
	}
	if quantity <= 0 {
		err := fmt.Errorf("failed adding quantity=%d with error=%w", quantity, inErrors.ErrInvalidLineItem)
		return model.RemoteCartRecord{}, a.fail(logger, span, OpSyncAdd, inErrors.KindUnknown, err)
	}

	logger = logger.With().Str(log.KeyProcess, "finding existing cart item").Logger()
	logger.Trace().Msg("finding existing cart item")
	existing, err := a.repo.FindByProduct(c, userID, product.ID)
	switch {
	case err == nil:
		logger = logger.With().
			Str(log.KeyProcess, "incrementing cart item").
			Str(log.KeyRemoteID, existing.ID.String()).
			Logger()
		logger.Trace().Msg("incrementing cart item")
		record, err := a.repo.IncrementQuantity(c, existing.ID, quantity)
		if err == nil {
			logger.Debug().Int32(log.KeyQuantity, record.Quantity).Msg("incremented cart item")
			a.metrics.observe(OpSyncAdd, nil)
			return record, nil
		}
		if !errors.Is(err, inErrors.ErrRecordNotFound) {
			err = fmt.Errorf("failed incrementing cart item with error=%w", err)
			return model.RemoteCartRecord{}, a.fail(logger, span, OpSyncAdd, classify(err), err)
		}
		logger.Debug().Msg("cart item vanished before increment, inserting")
	case !errors.Is(err, inErrors.ErrRecordNotFound):
		err = fmt.Errorf("failed finding existing cart item with error=%w", err)
		return model.RemoteCartRecord{}, a.fail(logger, span, OpSyncAdd, classify(err), err)
	}

	logger = logger.With().Str(log.KeyProcess, "inserting cart item").Logger()
	logger.Trace().Msg("inserting cart item")
	record, err := a.repo.Insert(c, model.NewRemoteCartRecord(userID, product, quantity))
	if err == nil {
		logger.Debug().Str(log.KeyRemoteID, record.ID.String()).Msg("inserted cart item")
		a.metrics.observe(OpSyncAdd, nil)
		return record, nil
	}
	if !errors.Is(err, inErrors.ErrDuplicateRecord) {
		err = fmt.Errorf("failed inserting cart item with error=%w", err)
		return model.RemoteCartRecord{}, a.fail(logger, span, OpSyncAdd, classify(err), err)
	}

	a.metrics.addConflict()
	logger = logger.With().Str(log.KeyProcess, "incrementing concurrently inserted cart item").Logger()
	logger.Debug().Msg("incrementing concurrently inserted cart item")
	existing, err = a.repo.FindByProduct(c, userID, product.ID)
	if err != nil {
		err = fmt.Errorf("failed finding concurrently inserted cart item with error=%w", err)
		return model.RemoteCartRecord{}, a.fail(logger, span, OpSyncAdd, classify(err), err)
	}
	record, err = a.repo.IncrementQuantity(c, existing.ID, quantity)
	if err != nil {
		err = fmt.Errorf("failed incrementing concurrently inserted cart item with error=%w", err)
		return model.RemoteCartRecord{}, a.fail(logger, span, OpSyncAdd, classify(err), err)
	}
	logger.Debug().Int32(log.KeyQuantity, record.Quantity).Msg("incremented concurrently inserted cart item")
	a.metrics.observe(OpSyncAdd, nil)

	return record, nil
}

// SyncSetQuantity overwrites the quantity of the record. A quantity of zero
// or less deletes the record and returns a nil record.
func (a *Adapter) SyncSetQuantity(
	c context.Context,
	remoteID uuid.UUID,
	quantity int32,
) (*model.RemoteCartRecord, error) {
	c, span := otel.Tracer.Start(
		c,
		"Adapter SyncSetQuantity",
		trace.WithAttributes(
			attribute.String(log.KeyRemoteID, remoteID.String()),
			attribute.Int(log.KeyQuantity, int(quantity)),
		),
	)
	defer span.End()

	logger := zerolog.Ctx(c).
		With().
		Str(log.KeyTag, "Adapter SyncSetQuantity").
		Str(log.KeyRemoteID, remoteID.String()).
		Int32(log.KeyQuantity, quantity).
		Logger()

	if quantity <= 0 {
		logger.Trace().Msg("quantity not positive, removing cart item")
		if _, err := a.SyncRemove(logger.WithContext(c), remoteID); err != nil {
			return nil, err
		}
		return nil, nil
	}

	logger = logger.With().Str(log.KeyProcess, "updating cart item").Logger()
	logger.Trace().Msg("updating cart item")
	record, err := a.repo.UpdateQuantity(c, remoteID, quantity)
	if err != nil {
		err = fmt.Errorf("failed updating cart item with error=%w", err)
		return nil, a.fail(logger, span, OpSyncSetQuantity, classify(err), err)
	}
	logger.Debug().Msg("updated cart item")
	a.metrics.observe(OpSyncSetQuantity, nil)

	return &record, nil
}

// SyncRemove deletes the record and reports whether it existed.
func (a *Adapter) SyncRemove(c context.Context, remoteID uuid.UUID) (bool, error) {
	c, span := otel.Tracer.Start(
		c,
		"Adapter SyncRemove",
		trace.WithAttributes(attribute.String(log.KeyRemoteID, remoteID.String())),
	)
	defer span.End()

	logger := zerolog.Ctx(c).
		With().
		Str(log.KeyTag, "Adapter SyncRemove").
		Str(log.KeyRemoteID, remoteID.String()).
		Logger()

	logger = logger.With().Str(log.KeyProcess, "deleting cart item").Logger()
	logger.Trace().Msg("deleting cart item")
	_, err := a.repo.Delete(c, remoteID)
	if errors.Is(err, inErrors.ErrRecordNotFound) {
		logger.Debug().Msg("cart item already deleted")
		a.metrics.observe(OpSyncRemove, nil)
		return false, nil
	}
	if err != nil {
		err = fmt.Errorf("failed deleting cart item with error=%w", err)
		return false, a.fail(logger, span, OpSyncRemove, classify(err), err)
	}
	logger.Debug().Msg("deleted cart item")
	a.metrics.observe(OpSyncRemove, nil)

	return true, nil
}

// SyncClearAll deletes every record of userID and reports success.
func (a *Adapter) SyncClearAll(c context.Context, userID uuid.UUID) (bool, error) {
	c, span := otel.Tracer.Start(
		c,
		"Adapter SyncClearAll",
		trace.WithAttributes(attribute.String(log.KeyUserID, userID.String())),
	)
	defer span.End()

	logger := zerolog.Ctx(c).
		With().
		Str(log.KeyTag, "Adapter SyncClearAll").
		Str(log.KeyUserID, userID.String()).
		Logger()

	if userID == uuid.Nil {
		return false, a.fail(logger, span, OpSyncClearAll, inErrors.KindUnauthenticated, inErrors.ErrEmptySubject)
	}

	logger = logger.With().Str(log.KeyProcess, "deleting cart items").Logger()
	logger.Trace().Msg("deleting cart items")
	deleted, err := a.repo.DeleteAll(c, userID)
	if err != nil {
		err = fmt.Errorf("failed deleting cart items with error=%w", err)
		return false, a.fail(logger, span, OpSyncClearAll, classify(err), err)
	}
	logger.Debug().Int64(log.KeyCartItemsCount, deleted).Msg("deleted cart items")
	a.metrics.observe(OpSyncClearAll, nil)

	return true, nil
}

// FetchAll lists the records of userID, newest first.
func (a *Adapter) FetchAll(c context.Context, userID uuid.UUID) ([]model.RemoteCartRecord, error) {
	c, span := otel.Tracer.Start(
		c,
		"Adapter FetchAll",
		trace.WithAttributes(attribute.String(log.KeyUserID, userID.String())),
	)
	defer span.End()

	logger := zerolog.Ctx(c).
		With().
		Str(log.KeyTag, "Adapter FetchAll").
		Str(log.KeyUserID, userID.String()).
		Logger()

	if userID == uuid.Nil {
		return nil, a.fail(logger, span, OpFetchAll, inErrors.KindUnauthenticated, inErrors.ErrEmptySubject)
	}

	logger = logger.With().Str(log.KeyProcess, "listing cart items").Logger()
	logger.Trace().Msg("listing cart items")
	records, err := a.repo.List(c, userID)
	if err != nil {
		err = fmt.Errorf("failed listing cart items with error=%w", err)
		return nil, a.fail(logger, span, OpFetchAll, classify(err), err)
	}
	logger.Debug().Int(log.KeyCartItemsCount, len(records)).Msg("listed cart items")
	a.metrics.observe(OpFetchAll, nil)

	return records, nil
}

// SyncReplaceAll makes the remote cart of userID equal to items and returns
// the stored records in input order. Items that already carry a remote id
// keep it.
func (a *Adapter) SyncReplaceAll(
	c context.Context,
	userID uuid.UUID,
	items []model.LineItem,
) ([]model.RemoteCartRecord, error) {
	c, span := otel.Tracer.Start(
		c,
		"Adapter SyncReplaceAll",
		trace.WithAttributes(
			attribute.String(log.KeyUserID, userID.String()),
			attribute.Int(log.KeyCartItemsCount, len(items)),
		),
	)
	defer span.End()

	logger := zerolog.Ctx(c).
		With().
		Str(log.KeyTag, "Adapter SyncReplaceAll").
		Str(log.KeyUserID, userID.String()).
		Int(log.KeyCartItemsCount, len(items)).
		Logger()

	if userID == uuid.Nil {
		return nil, a.fail(logger, span, OpSyncReplaceAll, inErrors.KindUnauthenticated, inErrors.ErrEmptySubject)
	}

	records := make([]model.RemoteCartRecord, 0, len(items))
	for _, item := range items {
		record := model.NewRemoteCartRecord(userID, item.Product(), item.Quantity)
		if item.RemoteID != nil {
			record.ID = *item.RemoteID
		}
		records = append(records, record)
	}

	logger = logger.With().Str(log.KeyProcess, "replacing cart items").Logger()
	logger.Trace().Msg("replacing cart items")
	if err := a.repo.ReplaceAll(c, userID, records); err != nil {
		err = fmt.Errorf("failed replacing cart items with error=%w", err)
		return nil, a.fail(logger, span, OpSyncReplaceAll, classify(err), err)
	}
	logger.Debug().Msg("replaced cart items")
	a.metrics.observe(OpSyncReplaceAll, nil)

	return records, nil
}
