package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/Alturino/cartsync/cart/pkg/model"
)

// Repository is the cart persistence store. Lookups of missing records fail
// with errors.ErrRecordNotFound and uniqueness violations on
// (userID, productID) with errors.ErrDuplicateRecord.
type Repository interface {
	List(c context.Context, userID uuid.UUID) ([]model.RemoteCartRecord, error)
	FindByProduct(c context.Context, userID uuid.UUID, productID int64) (model.RemoteCartRecord, error)
	Insert(c context.Context, record model.RemoteCartRecord) (model.RemoteCartRecord, error)
	IncrementQuantity(c context.Context, id uuid.UUID, delta int32) (model.RemoteCartRecord, error)
	UpdateQuantity(c context.Context, id uuid.UUID, quantity int32) (model.RemoteCartRecord, error)
	Delete(c context.Context, id uuid.UUID) (model.RemoteCartRecord, error)
	DeleteAll(c context.Context, userID uuid.UUID) (int64, error)
	ReplaceAll(c context.Context, userID uuid.UUID, records []model.RemoteCartRecord) error
}

var (
	_ Repository = (*PostgresRepository)(nil)
	_ Repository = (*MemoryRepository)(nil)
	_ Repository = (*CachedRepository)(nil)
)
