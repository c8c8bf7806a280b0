package constants

type ContextKey string

const (
	TxKey           ContextKey = "tx"
	PoolKey         ContextKey = "pool"
	LoggerKey       ContextKey = "logger"
	TenantIDKey     ContextKey = "tenant_id"
	RequestIDKey    ContextKey = "request_id"
	RequestStartKey ContextKey = "request_start"
)
