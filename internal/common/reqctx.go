package common

import "context"

// RequestContext holds per-request metadata injected by the HTTP middleware.
type RequestContext struct {
	CorrelationID string
	Admin         bool // set once the admin shared-secret check has passed
}

type contextKey int

const requestContextKey contextKey = iota

// WithRequestContext stores a RequestContext in the request context.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey, rc)
}

// RequestContextFromContext retrieves the RequestContext from context, or nil if absent.
func RequestContextFromContext(ctx context.Context) *RequestContext {
	rc, _ := ctx.Value(requestContextKey).(*RequestContext)
	return rc
}

// ResolveCorrelationID returns the request's correlation ID, or "-" outside a request.
func ResolveCorrelationID(ctx context.Context) string {
	if rc := RequestContextFromContext(ctx); rc != nil && rc.CorrelationID != "" {
		return rc.CorrelationID
	}
	return "-"
}
