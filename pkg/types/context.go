package types

type contextKey string

// Context keys shared by the server middleware and the telemetry handler.
const (
	ContextKeyUserID        contextKey = "user_id"
	ContextKeySessionID     contextKey = "session_id"
	ContextKeyRequestSource contextKey = "request_source"
	ContextKeyRepo          contextKey = "repo"
)
