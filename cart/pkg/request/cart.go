package request

import (
	"github.com/shopspring/decimal"

	"github.com/Alturino/cartsync/cart/pkg/model"
)

type AddItem struct {
	DiscountedUnitPrice decimal.NullDecimal `validate:"omitempty,price"        json:"discountedUnitPrice"`
	UnitPrice           decimal.Decimal     `validate:"price"                  json:"unitPrice"`
	Title               string              `validate:"required,max=255"       json:"title"`
	ThumbnailURL        string              `validate:"omitempty,url,max=2048" json:"thumbnailUrl"`
	ProductID           int64               `validate:"required,gt=0"          json:"productId"`
	Quantity            int32               `validate:"required,gte=1"         json:"quantity"`
}

func (r AddItem) Product() model.Product {
	return model.Product{
		ID:                  r.ProductID,
		Title:               r.Title,
		UnitPrice:           r.UnitPrice,
		DiscountedUnitPrice: r.DiscountedUnitPrice,
		ThumbnailURL:        r.ThumbnailURL,
	}
}

// SetQuantity sets the quantity exactly; zero or less removes the item.
type SetQuantity struct {
	Quantity *int32 `validate:"required" json:"quantity"`
}
