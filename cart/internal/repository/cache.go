package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/Alturino/cartsync/cart/pkg/model"
	inErrors "github.com/Alturino/cartsync/internal/errors"
	"github.com/Alturino/cartsync/internal/log"
	"github.com/Alturino/cartsync/internal/otel"
)

const (
	KEY_CARTS_BY_USER_ID         = "carts:user:%s:v%d"
	KEY_CARTS_VERSION_BY_USER_ID = "carts:user:%s:version"

	cacheLoadTimeout = 30 * time.Second
)

func cacheKey(userID uuid.UUID, version int64) string {
	return fmt.Sprintf(KEY_CARTS_BY_USER_ID, userID.String(), version)
}

func versionKey(userID uuid.UUID) string {
	return fmt.Sprintf(KEY_CARTS_VERSION_BY_USER_ID, userID.String())
}

// CachedRepository serves List from redis. Cached lists are keyed by a per
// user version that every write bumps, so a list loaded before a write is
// never served after it. Cache failures never fail the call; the underlying
// repository stays the source of truth.
type CachedRepository struct {
	next  Repository
	cache *redis.Client
	group singleflight.Group
	ttl   time.Duration
}

func NewCachedRepository(next Repository, cache *redis.Client, ttl time.Duration) *CachedRepository {
	return &CachedRepository{next: next, cache: cache, ttl: ttl}
}

func (r *CachedRepository) List(c context.Context, userID uuid.UUID) ([]model.RemoteCartRecord, error) {
	c, span := otel.Tracer.Start(c, "CachedRepository List")
	defer span.End()

	logger := zerolog.Ctx(c).
		With().
		Str(log.KeyTag, "CachedRepository List").
		Str(log.KeyUserID, userID.String()).
		Logger()

	logger = logger.With().Str(log.KeyProcess, "finding cart version in cache").Logger()
	logger.Trace().Msg("finding cart version in cache")
	version, err := r.cache.Get(c, versionKey(userID)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		err = fmt.Errorf("failed finding cart version in cache with error=%w", err)
		logger.Warn().Err(err).Msg(err.Error())
		version = -1
	}

	key := cacheKey(userID, version)
	logger = logger.With().Str(log.KeyCacheKey, key).Logger()
	if version >= 0 {
		logger = logger.With().Str(log.KeyProcess, "finding cart in cache").Logger()
		logger.Trace().Msg("finding cart in cache")
		cached, err := r.cache.Get(c, key).Bytes()
		if err == nil {
			records := []model.RemoteCartRecord{}
			if err = json.Unmarshal(cached, &records); err == nil {
				logger.Trace().Msg("found cart in cache")
				return records, nil
			}
			err = fmt.Errorf("failed unmarshaling cache with error=%w", err)
			logger.Warn().Err(err).Msg(err.Error())
		} else if !errors.Is(err, redis.Nil) {
			err = fmt.Errorf("failed finding cart in cache with error=%w", err)
			logger.Warn().Err(err).Msg(err.Error())
		}
	}

	// The load is shared by every caller of the same key, so it must not end
	// with the first caller.
	logger = logger.With().Str(log.KeyProcess, "finding cart in db").Logger()
	logger.Trace().Msg("finding cart in db")
	loaded := r.group.DoChan(key, func() (any, error) {
		c, cancel := context.WithTimeout(context.WithoutCancel(c), cacheLoadTimeout)
		defer cancel()

		records, err := r.next.List(c, userID)
		if err != nil {
			return nil, err
		}
		if version < 0 {
			return records, nil
		}

		payload, err := json.Marshal(records)
		if err != nil {
			err = fmt.Errorf("failed marshaling cache with error=%w", err)
			logger.Warn().Err(err).Msg(err.Error())
			return records, nil
		}
		if err := r.cache.Set(c, key, payload, r.ttl).Err(); err != nil {
			err = fmt.Errorf("failed inserting cache with error=%w", err)
			logger.Warn().Err(err).Msg(err.Error())
		}
		return records, nil
	})

	var result singleflight.Result
	select {
	case <-c.Done():
		err := fmt.Errorf("failed finding cart in db with error=%w", c.Err())
		inErrors.HandleError(err, span)
		return nil, err
	case result = <-loaded:
	}
	if result.Err != nil {
		inErrors.HandleError(result.Err, span)
		return nil, result.Err
	}
	logger.Trace().Msg("found cart in db")

	records := result.Val.([]model.RemoteCartRecord)
	copied := make([]model.RemoteCartRecord, len(records))
	copy(copied, records)
	return copied, nil
}

func (r *CachedRepository) FindByProduct(
	c context.Context,
	userID uuid.UUID,
	productID int64,
) (model.RemoteCartRecord, error) {
	return r.next.FindByProduct(c, userID, productID)
}

func (r *CachedRepository) Insert(
	c context.Context,
	record model.RemoteCartRecord,
) (model.RemoteCartRecord, error) {
	inserted, err := r.next.Insert(c, record)
	if err != nil {
		return inserted, err
	}
	r.invalidate(c, record.UserID)
	return inserted, nil
}

func (r *CachedRepository) IncrementQuantity(
	c context.Context,
	id uuid.UUID,
	delta int32,
) (model.RemoteCartRecord, error) {
	record, err := r.next.IncrementQuantity(c, id, delta)
	if err != nil {
		return record, err
	}
	r.invalidate(c, record.UserID)
	return record, nil
}

func (r *CachedRepository) UpdateQuantity(
	c context.Context,
	id uuid.UUID,
	quantity int32,
) (model.RemoteCartRecord, error) {
	record, err := r.next.UpdateQuantity(c, id, quantity)
	if err != nil {
		return record, err
	}
	r.invalidate(c, record.UserID)
	return record, nil
}

func (r *CachedRepository) Delete(c context.Context, id uuid.UUID) (model.RemoteCartRecord, error) {
	record, err := r.next.Delete(c, id)
	if err != nil {
		return record, err
	}
	r.invalidate(c, record.UserID)
	return record, nil
}

func (r *CachedRepository) DeleteAll(c context.Context, userID uuid.UUID) (int64, error) {
	deleted, err := r.next.DeleteAll(c, userID)
	if err != nil {
		return deleted, err
	}
	r.invalidate(c, userID)
	return deleted, nil
}

func (r *CachedRepository) ReplaceAll(
	c context.Context,
	userID uuid.UUID,
	records []model.RemoteCartRecord,
) error {
	if err := r.next.ReplaceAll(c, userID, records); err != nil {
		return err
	}
	r.invalidate(c, userID)
	return nil
}

// invalidate bumps the cart version of userID. It outlives the caller so a
// write that already reached the repository is never left behind a stale
// cache entry.
func (r *CachedRepository) invalidate(c context.Context, userID uuid.UUID) {
	key := versionKey(userID)
	if err := r.cache.Incr(context.WithoutCancel(c), key).Err(); err != nil {
		err = fmt.Errorf("failed bumping cache version with error=%w", err)
		zerolog.Ctx(c).
			Warn().
			Err(err).
			Str(log.KeyTag, "CachedRepository invalidate").
			Str(log.KeyCacheKey, key).
			Msg(err.Error())
	}
}
