package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Alturino/cartsync/cart/pkg/model"
	inErrors "github.com/Alturino/cartsync/internal/errors"
	"github.com/Alturino/cartsync/internal/log"
	"github.com/Alturino/cartsync/internal/otel"
)

const (
	pgUniqueViolation = "23505"

	columns = `id, user_id, product_id, title, unit_price, discounted_unit_price, thumbnail_url, quantity, created_at, updated_at`

	listCartItems = `SELECT ` + columns + ` FROM cart_items WHERE user_id = $1 ORDER BY created_at DESC, id`

	findCartItemByProduct = `SELECT ` + columns + ` FROM cart_items WHERE user_id = $1 AND product_id = $2`

	insertCartItem = `INSERT INTO cart_items (id, user_id, product_id, title, unit_price, discounted_unit_price, thumbnail_url, quantity)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING ` + columns

	incrementCartItemQuantity = `UPDATE cart_items SET quantity = LEAST(quantity::BIGINT + $2, 2147483647)::INTEGER, updated_at = NOW() WHERE id = $1 RETURNING ` + columns

	updateCartItemQuantity = `UPDATE cart_items SET quantity = $2, updated_at = NOW() WHERE id = $1 RETURNING ` + columns

	deleteCartItem = `DELETE FROM cart_items WHERE id = $1 RETURNING ` + columns

	deleteCartItemsByUserId = `DELETE FROM cart_items WHERE user_id = $1`

	selectNow = `SELECT NOW()`
)

var copyColumns = []string{
	"id",
	"user_id",
	"product_id",
	"title",
	"unit_price",
	"discounted_unit_price",
	"thumbnail_url",
	"quantity",
	"created_at",
	"updated_at",
}

type row interface {
	Scan(dest ...any) error
}

// PostgresRepository stores cart records in the cart_items table.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) List(
	c context.Context,
	userID uuid.UUID,
) ([]model.RemoteCartRecord, error) {
	c, span := otel.Tracer.Start(
		c,
		"PostgresRepository List",
		trace.WithAttributes(attribute.String(log.KeyUserID, userID.String())),
	)
	defer span.End()

	logger := zerolog.Ctx(c).
		With().
		Str(log.KeyTag, "PostgresRepository List").
		Str(log.KeyUserID, userID.String()).
		Logger()

	logger.Trace().Msg("listing cart items")
	rows, err := r.pool.Query(c, listCartItems, userID)
	if err != nil {
		err = fmt.Errorf("failed listing cart items with error=%w", err)
		inErrors.HandleError(err, span)
		return nil, err
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.RemoteCartRecord, error) {
		return scanRecord(row)
	})
	if err != nil {
		err = fmt.Errorf("failed scanning cart items with error=%w", err)
		inErrors.HandleError(err, span)
		return nil, err
	}
	logger.Trace().Int(log.KeyCartItemsCount, len(records)).Msg("listed cart items")

	return records, nil
}

func (r *PostgresRepository) FindByProduct(
	c context.Context,
	userID uuid.UUID,
	productID int64,
) (model.RemoteCartRecord, error) {
	c, span := otel.Tracer.Start(
		c,
		"PostgresRepository FindByProduct",
		trace.WithAttributes(
			attribute.String(log.KeyUserID, userID.String()),
			attribute.Int64(log.KeyProductID, productID),
		),
	)
	defer span.End()

	record, err := scanRecord(r.pool.QueryRow(c, findCartItemByProduct, userID, productID))
	if err != nil {
		err = fmt.Errorf(
			"failed finding cart item userId=%s productId=%d with error=%w",
			userID.String(),
			productID,
			translate(err),
		)
		if !errors.Is(err, inErrors.ErrRecordNotFound) {
			inErrors.HandleError(err, span)
		}
		return model.RemoteCartRecord{}, err
	}
	return record, nil
}

func (r *PostgresRepository) Insert(
	c context.Context,
	record model.RemoteCartRecord,
) (model.RemoteCartRecord, error) {
	c, span := otel.Tracer.Start(
		c,
		"PostgresRepository Insert",
		trace.WithAttributes(
			attribute.String(log.KeyUserID, record.UserID.String()),
			attribute.Int64(log.KeyProductID, record.ProductID),
		),
	)
	defer span.End()

	inserted, err := scanRecord(r.pool.QueryRow(
		c,
		insertCartItem,
		record.ID,
		record.UserID,
		record.ProductID,
		record.Title,
		numeric(record.UnitPrice),
		nullNumeric(record.DiscountedUnitPrice),
		text(record.ThumbnailURL),
		record.Quantity,
	))
	if err != nil {
		err = fmt.Errorf("failed inserting cart item with error=%w", translate(err))
		inErrors.HandleError(err, span)
		return model.RemoteCartRecord{}, err
	}
	return inserted, nil
}

func (r *PostgresRepository) IncrementQuantity(
	c context.Context,
	id uuid.UUID,
	delta int32,
) (model.RemoteCartRecord, error) {
	return r.updateQuantity(c, "PostgresRepository IncrementQuantity", incrementCartItemQuantity, id, delta)
}

func (r *PostgresRepository) UpdateQuantity(
	c context.Context,
	id uuid.UUID,
	quantity int32,
) (model.RemoteCartRecord, error) {
	return r.updateQuantity(c, "PostgresRepository UpdateQuantity", updateCartItemQuantity, id, quantity)
}

func (r *PostgresRepository) updateQuantity(
	c context.Context,
	name string,
	query string,
	id uuid.UUID,
	quantity int32,
) (model.RemoteCartRecord, error) {
	c, span := otel.Tracer.Start(
		c,
		name,
		trace.WithAttributes(
			attribute.String(log.KeyRemoteID, id.String()),
			attribute.Int(log.KeyQuantity, int(quantity)),
		),
	)
	defer span.End()

	record, err := scanRecord(r.pool.QueryRow(c, query, id, quantity))
	if err != nil {
		err = fmt.Errorf("failed updating cart item id=%s with error=%w", id.String(), translate(err))
		inErrors.HandleError(err, span)
		return model.RemoteCartRecord{}, err
	}
	return record, nil
}

func (r *PostgresRepository) Delete(c context.Context, id uuid.UUID) (model.RemoteCartRecord, error) {
	c, span := otel.Tracer.Start(
		c,
		"PostgresRepository Delete",
		trace.WithAttributes(attribute.String(log.KeyRemoteID, id.String())),
	)
	defer span.End()

	record, err := scanRecord(r.pool.QueryRow(c, deleteCartItem, id))
	if err != nil {
		err = fmt.Errorf("failed deleting cart item id=%s with error=%w", id.String(), translate(err))
		inErrors.HandleError(err, span)
		return model.RemoteCartRecord{}, err
	}
	return record, nil
}

func (r *PostgresRepository) DeleteAll(c context.Context, userID uuid.UUID) (int64, error) {
	c, span := otel.Tracer.Start(
		c,
		"PostgresRepository DeleteAll",
		trace.WithAttributes(attribute.String(log.KeyUserID, userID.String())),
	)
	defer span.End()

	tag, err := r.pool.Exec(c, deleteCartItemsByUserId, userID)
	if err != nil {
		err = fmt.Errorf("failed deleting cart items of userId=%s with error=%w", userID.String(), err)
		inErrors.HandleError(err, span)
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ReplaceAll deletes every record of userID and copies records in, in one
// transaction.
func (r *PostgresRepository) ReplaceAll(
	c context.Context,
	userID uuid.UUID,
	records []model.RemoteCartRecord,
) error {
	c, span := otel.Tracer.Start(
		c,
		"PostgresRepository ReplaceAll",
		trace.WithAttributes(
			attribute.String(log.KeyUserID, userID.String()),
			attribute.Int(log.KeyCartItemsCount, len(records)),
		),
	)
	defer span.End()

	logger := zerolog.Ctx(c).
		With().
		Str(log.KeyTag, "PostgresRepository ReplaceAll").
		Str(log.KeyUserID, userID.String()).
		Logger()

	logger = logger.With().Str(log.KeyProcess, "initializing transaction").Logger()
	logger.Trace().Msg("initializing transaction")
	tx, err := r.pool.BeginTx(c, pgx.TxOptions{})
	if err != nil {
		err = fmt.Errorf("failed initializing transaction with error=%w", err)
		inErrors.HandleError(err, span)
		return err
	}
	defer func() {
		err := tx.Rollback(c)
		if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			err = fmt.Errorf("failed rolling back transaction with error=%w", err)
			inErrors.HandleError(err, span)
			logger.Error().Err(err).Msg(err.Error())
		}
	}()

	logger = logger.With().Str(log.KeyProcess, "deleting cart items").Logger()
	logger.Trace().Msg("deleting cart items")
	if _, err = tx.Exec(c, deleteCartItemsByUserId, userID); err != nil {
		err = fmt.Errorf("failed deleting cart items with error=%w", err)
		inErrors.HandleError(err, span)
		return err
	}

	// Rows copied in one statement would all get the same NOW(). Each row is
	// stamped one microsecond after the previous one so List keeps their order.
	logger = logger.With().Str(log.KeyProcess, "reading transaction time").Logger()
	var now time.Time
	if err = tx.QueryRow(c, selectNow).Scan(&now); err != nil {
		err = fmt.Errorf("failed reading transaction time with error=%w", err)
		inErrors.HandleError(err, span)
		return err
	}

	logger = logger.With().Str(log.KeyProcess, "copying cart items").Logger()
	logger.Trace().Msg("copying cart items")
	copied, err := tx.CopyFrom(
		c,
		pgx.Identifier{"cart_items"},
		copyColumns,
		pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
			record := records[i]
			createdAt := now.Add(time.Duration(i) * time.Microsecond)
			return []any{
				record.ID,
				userID,
				record.ProductID,
				record.Title,
				numeric(record.UnitPrice),
				nullNumeric(record.DiscountedUnitPrice),
				text(record.ThumbnailURL),
				record.Quantity,
				createdAt,
				createdAt,
			}, nil
		}),
	)
	if err != nil {
		err = fmt.Errorf("failed copying cart items with error=%w", translate(err))
		inErrors.HandleError(err, span)
		return err
	}

	logger = logger.With().Str(log.KeyProcess, "committing transaction").Logger()
	if err = tx.Commit(c); err != nil {
		err = fmt.Errorf("failed committing transaction with error=%w", err)
		inErrors.HandleError(err, span)
		return err
	}
	logger.Trace().Int64(log.KeyCartItemsCount, copied).Msg("committed transaction")

	return nil
}

func scanRecord(r row) (model.RemoteCartRecord, error) {
	var (
		record     model.RemoteCartRecord
		unitPrice  pgtype.Numeric
		discounted pgtype.Numeric
		thumbnail  pgtype.Text
		createdAt  pgtype.Timestamptz
		updatedAt  pgtype.Timestamptz
	)
	err := r.Scan(
		&record.ID,
		&record.UserID,
		&record.ProductID,
		&record.Title,
		&unitPrice,
		&discounted,
		&thumbnail,
		&record.Quantity,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return model.RemoteCartRecord{}, err
	}
	record.UnitPrice = fromNumeric(unitPrice)
	if discounted.Valid {
		record.DiscountedUnitPrice = decimal.NewNullDecimal(fromNumeric(discounted))
	}
	record.ThumbnailURL = thumbnail.String
	record.CreatedAt = createdAt.Time
	record.UpdatedAt = updatedAt.Time
	return record, nil
}

func translate(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return inErrors.ErrRecordNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%w: %w", inErrors.ErrDuplicateRecord, err)
	}
	return err
}

func numeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{
		Int:              d.Coefficient(),
		Exp:              d.Exponent(),
		InfinityModifier: pgtype.Finite,
		Valid:            true,
	}
}

func nullNumeric(d decimal.NullDecimal) pgtype.Numeric {
	if !d.Valid {
		return pgtype.Numeric{}
	}
	return numeric(d.Decimal)
}

func fromNumeric(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}

func text(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}
