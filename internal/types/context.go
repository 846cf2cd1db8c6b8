package types

import "context"

// RequestInfo carries the correlation fields of the HTTP request that issued a query.
type RequestInfo struct {
	Path      string
	Method    string
	RequestID string
	UserID    string
}

type requestInfoKey struct{}

// WithRequestInfo stores info in ctx for the query logger.
func WithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, info)
}

// RequestInfoFromContext returns the request info stored in ctx, if any.
func RequestInfoFromContext(ctx context.Context) (RequestInfo, bool) {
	if ctx == nil {
		return RequestInfo{}, false
	}
	info, ok := ctx.Value(requestInfoKey{}).(RequestInfo)
	return info, ok
}
