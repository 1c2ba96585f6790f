package response

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Alturino/cartsync/cart/pkg/model"
)

type LineItem struct {
	UnitPrice           decimal.Decimal `json:"unitPrice"`
	DiscountedUnitPrice decimal.Decimal `json:"discountedUnitPrice"`
	Subtotal            decimal.Decimal `json:"subtotal"`
	RemoteID            *uuid.UUID      `json:"remoteId,omitempty"`
	Title               string          `json:"title"`
	ThumbnailURL        string          `json:"thumbnailUrl,omitempty"`
	ProductID           int64           `json:"productId"`
	Quantity            int32           `json:"quantity"`
}

type Cart struct {
	UserID     *uuid.UUID      `json:"userId,omitempty"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
	Items      []LineItem      `json:"items"`
	SessionID  uuid.UUID       `json:"sessionId"`
}

type Session struct {
	CreatedAt time.Time  `json:"createdAt"`
	UserID    *uuid.UUID `json:"userId,omitempty"`
	State     string     `json:"state"`
	ID        uuid.UUID  `json:"id"`
}

func NewLineItems(items []model.LineItem) []LineItem {
	converted := make([]LineItem, 0, len(items))
	for _, item := range items {
		converted = append(converted, LineItem{
			ProductID:           item.ProductID,
			Title:               item.Title,
			UnitPrice:           item.UnitPrice,
			DiscountedUnitPrice: item.DiscountedUnitPrice,
			Subtotal:            item.Subtotal(),
			ThumbnailURL:        item.ThumbnailURL,
			Quantity:            item.Quantity,
			RemoteID:            item.RemoteID,
		})
	}
	return converted
}

func NewCart(sessionID uuid.UUID, owner uuid.UUID, items []model.LineItem) Cart {
	cart := Cart{SessionID: sessionID, Items: NewLineItems(items), TotalPrice: decimal.Zero}
	for _, item := range cart.Items {
		cart.TotalPrice = cart.TotalPrice.Add(item.Subtotal)
	}
	if owner != uuid.Nil {
		cart.UserID = &owner
	}
	return cart
}
