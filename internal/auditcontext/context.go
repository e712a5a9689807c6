package auditcontext

import (
	"context"
	"strings"
)

type requestIDKey struct{}
type ipAddressKey struct{}
type userAgentKey struct{}

// Request metadata copied onto every audit row written during the request.
type RequestMeta struct {
	RequestID string
	IPAddress string
	UserAgent string
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return withValue(ctx, requestIDKey{}, requestID)
}

func WithIPAddress(ctx context.Context, ip string) context.Context {
	return withValue(ctx, ipAddressKey{}, ip)
}

func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return withValue(ctx, userAgentKey{}, userAgent)
}

func FromContext(ctx context.Context) RequestMeta {
	if ctx == nil {
		return RequestMeta{}
	}
	return RequestMeta{
		RequestID: stringValue(ctx, requestIDKey{}),
		IPAddress: stringValue(ctx, ipAddressKey{}),
		UserAgent: stringValue(ctx, userAgentKey{}),
	}
}

func withValue(ctx context.Context, key any, value string) context.Context {
	value = strings.TrimSpace(value)
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func stringValue(ctx context.Context, key any) string {
	value, _ := ctx.Value(key).(string)
	return value
}
