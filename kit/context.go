package kit

import "context"

type contextKey string

const (
	TransportKey contextKey = "kit_transport" // "http", "mcp", "cli"
	RequestIDKey contextKey = "kit_request_id"
	CaptureIDKey contextKey = "kit_capture_id"
)

func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, TransportKey, t)
}
func GetTransport(ctx context.Context) string {
	if v, ok := ctx.Value(TransportKey).(string); ok {
		return v
	}
	return "http"
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}
func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(RequestIDKey).(string)
	return v
}

// WithCaptureID pins the session id a capture endpoint should use.
func WithCaptureID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CaptureIDKey, id)
}
func GetCaptureID(ctx context.Context) string {
	v, _ := ctx.Value(CaptureIDKey).(string)
	return v
}
