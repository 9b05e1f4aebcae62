package middleware

// Keys set on the gin context and read by the logging middleware.
const (
	RequestIDKey = "request_id"
	RouteKey     = "route"
	UpstreamKey  = "upstream"
	UserIDKey    = "user_id"
	BackendKey   = "backend_server"
)

const RequestIDHeader = "X-Request-ID"
