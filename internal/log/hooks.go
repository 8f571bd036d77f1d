package log

import (
	"context"

	"github.com/looplj/guardianbridge/internal/pkg/xcontext"
)

// Hook contributes extra fields to every log line derived from ctx.
type Hook interface {
	Apply(ctx context.Context, msg string) []Field
}

// HookFunc adapts a plain function to the Hook interface.
type HookFunc func(ctx context.Context, msg string) []Field

func (f HookFunc) Apply(ctx context.Context, msg string) []Field {
	return f(ctx, msg)
}

// requestFields injects request_id and profile, mirroring the teacher's
// traceFields hook but scoped to GuardianBridge's own context keys.
func requestFields(ctx context.Context, _ string) []Field {
	if ctx == nil {
		return nil
	}

	var fields []Field

	if id := xcontext.RequestID(ctx); id != "" {
		fields = append(fields, String("request_id", id))
	}

	if profile := xcontext.Profile(ctx); profile != "" {
		fields = append(fields, String("profile", profile))
	}

	return fields
}

var defaultHooks = []Hook{HookFunc(requestFields)}
