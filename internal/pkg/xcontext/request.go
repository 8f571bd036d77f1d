package xcontext

import "context"

type requestIDKey struct{}

type profileKey struct{}

// WithRequestID attaches the per-request id to ctx so it can ride along
// into structured log lines via the log package's request hook.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request id attached to ctx, or "" if none.
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	id, _ := ctx.Value(requestIDKey{}).(string)

	return id
}

// WithProfile attaches the moderation profile name to ctx.
func WithProfile(ctx context.Context, profile string) context.Context {
	return context.WithValue(ctx, profileKey{}, profile)
}

// Profile returns the moderation profile name attached to ctx, or "" if none.
func Profile(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	p, _ := ctx.Value(profileKey{}).(string)

	return p
}
