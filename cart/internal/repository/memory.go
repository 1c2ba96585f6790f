package repository

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Alturino/cartsync/cart/pkg/model"
	inErrors "github.com/Alturino/cartsync/internal/errors"
)

type memoryKey struct {
	userID    uuid.UUID
	productID int64
}

type memoryRecord struct {
	record model.RemoteCartRecord
	seq    uint64
}

// MemoryRepository keeps cart records in process memory with the same
// uniqueness and ordering rules as the cart_items table.
type MemoryRepository struct {
	byID  map[uuid.UUID]*memoryRecord
	byKey map[memoryKey]uuid.UUID
	now   func() time.Time
	mu    sync.RWMutex
	seq   uint64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:  map[uuid.UUID]*memoryRecord{},
		byKey: map[memoryKey]uuid.UUID{},
		now:   time.Now,
	}
}

func (r *MemoryRepository) List(_ context.Context, userID uuid.UUID) ([]model.RemoteCartRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	found := make([]*memoryRecord, 0)
	for _, rec := range r.byID {
		if rec.record.UserID == userID {
			found = append(found, rec)
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].seq > found[j].seq })

	records := make([]model.RemoteCartRecord, len(found))
	for i, rec := range found {
		records[i] = rec.record
	}
	return records, nil
}

func (r *MemoryRepository) FindByProduct(
	_ context.Context,
	userID uuid.UUID,
	productID int64,
) (model.RemoteCartRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byKey[memoryKey{userID: userID, productID: productID}]
	if !ok {
		return model.RemoteCartRecord{}, fmt.Errorf(
			"failed finding cart item userId=%s productId=%d with error=%w",
			userID.String(),
			productID,
			inErrors.ErrRecordNotFound,
		)
	}
	return r.byID[id].record, nil
}

func (r *MemoryRepository) Insert(
	_ context.Context,
	record model.RemoteCartRecord,
) (model.RemoteCartRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := memoryKey{userID: record.UserID, productID: record.ProductID}
	if _, ok := r.byKey[key]; ok {
		return model.RemoteCartRecord{}, fmt.Errorf(
			"failed inserting cart item userId=%s productId=%d with error=%w",
			record.UserID.String(),
			record.ProductID,
			inErrors.ErrDuplicateRecord,
		)
	}
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	r.insert(key, record)
	return record, nil
}

func (r *MemoryRepository) insert(key memoryKey, record model.RemoteCartRecord) {
	now := r.now()
	record.CreatedAt = now
	record.UpdatedAt = now
	r.seq++
	r.byID[record.ID] = &memoryRecord{record: record, seq: r.seq}
	r.byKey[key] = record.ID
}

func (r *MemoryRepository) IncrementQuantity(
	_ context.Context,
	id uuid.UUID,
	delta int32,
) (model.RemoteCartRecord, error) {
	return r.update(id, func(current int32) int32 { return addQuantity(current, delta) })
}

// addQuantity saturates at math.MaxInt32 like the increment statement of
// the cart_items table.
func addQuantity(current, delta int32) int32 {
	sum := int64(current) + int64(delta)
	if sum > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(sum)
}

func (r *MemoryRepository) UpdateQuantity(
	_ context.Context,
	id uuid.UUID,
	quantity int32,
) (model.RemoteCartRecord, error) {
	return r.update(id, func(int32) int32 { return quantity })
}

func (r *MemoryRepository) update(id uuid.UUID, next func(int32) int32) (model.RemoteCartRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[id]
	if !ok {
		return model.RemoteCartRecord{}, fmt.Errorf(
			"failed updating cart item id=%s with error=%w",
			id.String(),
			inErrors.ErrRecordNotFound,
		)
	}
	quantity := next(rec.record.Quantity)
	if quantity <= 0 {
		return model.RemoteCartRecord{}, fmt.Errorf(
			"failed updating cart item id=%s quantity=%d with error=%w",
			id.String(),
			quantity,
			inErrors.ErrInvalidLineItem,
		)
	}
	rec.record.Quantity = quantity
	rec.record.UpdatedAt = r.now()
	return rec.record, nil
}

func (r *MemoryRepository) Delete(_ context.Context, id uuid.UUID) (model.RemoteCartRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[id]
	if !ok {
		return model.RemoteCartRecord{}, fmt.Errorf(
			"failed deleting cart item id=%s with error=%w",
			id.String(),
			inErrors.ErrRecordNotFound,
		)
	}
	delete(r.byID, id)
	delete(r.byKey, memoryKey{userID: rec.record.UserID, productID: rec.record.ProductID})
	return rec.record, nil
}

func (r *MemoryRepository) DeleteAll(_ context.Context, userID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deleteAll(userID), nil
}

func (r *MemoryRepository) deleteAll(userID uuid.UUID) int64 {
	var deleted int64
	for id, rec := range r.byID {
		if rec.record.UserID != userID {
			continue
		}
		delete(r.byID, id)
		delete(r.byKey, memoryKey{userID: userID, productID: rec.record.ProductID})
		deleted++
	}
	return deleted
}

func (r *MemoryRepository) ReplaceAll(
	_ context.Context,
	userID uuid.UUID,
	records []model.RemoteCartRecord,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[int64]bool, len(records))
	for _, record := range records {
		if seen[record.ProductID] {
			return fmt.Errorf(
				"failed replacing cart items productId=%d with error=%w",
				record.ProductID,
				inErrors.ErrDuplicateRecord,
			)
		}
		seen[record.ProductID] = true
	}

	r.deleteAll(userID)
	for _, record := range records {
		record.UserID = userID
		if record.ID == uuid.Nil {
			record.ID = uuid.New()
		}
		r.insert(memoryKey{userID: userID, productID: record.ProductID}, record)
	}
	return nil
}
