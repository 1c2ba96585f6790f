package constants

const (
	APP_CARTSYNC      = "cartsync"
	APP_CART_SERVICE  = "cart-service"
	APP_CART_MIGRATOR = "cart-migrator"
	AUDIENCE_USER     = "audience-user"
	ISSUER_USER       = "user-service"
)
