package log

const (
	KeyAppName        = "app"
	KeyRequestID      = "requestId"
	KeyTraceID        = "traceId"
	KeySpanID         = "spanId"
	KeyProcess        = "process"
	KeyTag            = "tag"
	KeyRequest        = "request"
	KeyRequestBody    = "requestBody"
	KeyRequestHeader  = "requestHeader"
	KeyRequestHost    = "host"
	KeyRequestIp      = "requesterIP"
	KeyRequestMethod  = "requestMethod"
	KeyRequestURI     = "requestURI"
	KeyRequestURL     = "requestURL"
	KeyConfig         = "config"
	KeyDbURL          = "dbURL"
	KeyCacheKey       = "cacheKey"
	KeySessionID      = "sessionId"
	KeyUserID         = "userId"
	KeyProductID      = "productId"
	KeyRemoteID       = "remoteId"
	KeyQuantity       = "quantity"
	KeyCartItems      = "cartItems"
	KeyCartItemsCount = "cartItemsCount"
	KeyRemoteRecord   = "remoteRecord"
	KeyRemoteRecords  = "remoteRecords"
	KeyGeneration     = "generation"
	KeyEvent          = "event"
	KeyState          = "state"
	KeyFailureKind    = "failureKind"
	KeyOperation      = "operation"
	KeyTotalPrice     = "totalPrice"
	KeyMigrationPath  = "migrationPath"
	KeyStoreBackend   = "storeBackend"
)
