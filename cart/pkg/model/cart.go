package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product is the catalog snapshot taken when an item is added to a cart.
type Product struct {
	DiscountedUnitPrice decimal.NullDecimal `json:"discountedUnitPrice"`
	UnitPrice           decimal.Decimal     `json:"unitPrice"`
	Title               string              `json:"title"`
	ThumbnailURL        string              `json:"thumbnailUrl,omitempty"`
	ID                  int64               `json:"id"`
}

// EffectivePrice is the discounted price when present, the unit price
// otherwise.
func (p Product) EffectivePrice() decimal.Decimal {
	if p.DiscountedUnitPrice.Valid {
		return p.DiscountedUnitPrice.Decimal
	}
	return p.UnitPrice
}

type LineItem struct {
	UnitPrice           decimal.Decimal `json:"unitPrice"`
	DiscountedUnitPrice decimal.Decimal `json:"discountedUnitPrice"`
	RemoteID            *uuid.UUID      `json:"remoteId,omitempty"`
	Title               string          `json:"title"`
	ThumbnailURL        string          `json:"thumbnailUrl,omitempty"`
	ProductID           int64           `json:"productId"`
	Quantity            int32           `json:"quantity"`
}

func (l LineItem) Subtotal() decimal.Decimal {
	return l.DiscountedUnitPrice.Mul(decimal.NewFromInt32(l.Quantity))
}

func (l LineItem) Product() Product {
	return Product{
		ID:                  l.ProductID,
		Title:               l.Title,
		UnitPrice:           l.UnitPrice,
		DiscountedUnitPrice: decimal.NewNullDecimal(l.DiscountedUnitPrice),
		ThumbnailURL:        l.ThumbnailURL,
	}
}

func NewLineItem(p Product, quantity int32) LineItem {
	return LineItem{
		ProductID:           p.ID,
		Title:               p.Title,
		UnitPrice:           p.UnitPrice,
		DiscountedUnitPrice: p.EffectivePrice(),
		ThumbnailURL:        p.ThumbnailURL,
		Quantity:            quantity,
	}
}

// RemoteCartRecord is one persisted row, unique per (UserID, ProductID).
type RemoteCartRecord struct {
	CreatedAt           time.Time           `json:"createdAt"`
	UpdatedAt           time.Time           `json:"updatedAt"`
	DiscountedUnitPrice decimal.NullDecimal `json:"discountedUnitPrice"`
	UnitPrice           decimal.Decimal     `json:"unitPrice"`
	Title               string              `json:"title"`
	ThumbnailURL        string              `json:"thumbnailUrl,omitempty"`
	ProductID           int64               `json:"productId"`
	ID                  uuid.UUID           `json:"id"`
	UserID              uuid.UUID           `json:"userId"`
	Quantity            int32               `json:"quantity"`
}

// LineItem converts the record to its local form, carrying the record id
// forward as the remote id.
func (r RemoteCartRecord) LineItem() LineItem {
	id := r.ID
	item := LineItem{
		ProductID:           r.ProductID,
		Title:               r.Title,
		UnitPrice:           r.UnitPrice,
		DiscountedUnitPrice: r.UnitPrice,
		ThumbnailURL:        r.ThumbnailURL,
		Quantity:            r.Quantity,
		RemoteID:            &id,
	}
	if r.DiscountedUnitPrice.Valid {
		item.DiscountedUnitPrice = r.DiscountedUnitPrice.Decimal
	}
	return item
}

func NewRemoteCartRecord(userID uuid.UUID, p Product, quantity int32) RemoteCartRecord {
	return RemoteCartRecord{
		ID:                  uuid.New(),
		UserID:              userID,
		ProductID:           p.ID,
		Title:               p.Title,
		UnitPrice:           p.UnitPrice,
		DiscountedUnitPrice: p.DiscountedUnitPrice,
		ThumbnailURL:        p.ThumbnailURL,
		Quantity:            quantity,
	}
}
