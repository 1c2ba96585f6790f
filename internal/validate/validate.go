package validate

import (
	"reflect"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	once     sync.Once
	validate *validator.Validate
)

// New returns the shared validator with the "price" tag registered for
// decimal.Decimal and decimal.NullDecimal fields.
func New() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterCustomTypeFunc(PriceValue, decimal.Decimal{}, decimal.NullDecimal{})
		_ = validate.RegisterValidation("price", ValidatePrice)
	})
	return validate
}

// ValidatePrice accepts a non-negative decimal.
func ValidatePrice(fl validator.FieldLevel) bool {
	value, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return false
	}
	return !d.IsNegative()
}

func PriceValue(v reflect.Value) interface{} {
	switch n := v.Interface().(type) {
	case decimal.Decimal:
		return n.String()
	case decimal.NullDecimal:
		if !n.Valid {
			return ""
		}
		return n.Decimal.String()
	default:
		return nil
	}
}
