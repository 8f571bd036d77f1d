package log

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/looplj/guardianbridge/internal/pkg/xcontext"
)

func TestRequestFieldsHook(t *testing.T) {
	hook := HookFunc(requestFields)

	t.Run("with request id", func(t *testing.T) {
		ctx := xcontext.WithRequestID(context.Background(), "req-123")
		fields := hook.Apply(ctx, "test message")
		assert.Len(t, fields, 1)
		assert.Equal(t, "request_id", fields[0].Key)
		assert.Equal(t, "req-123", fields[0].String)
	})

	t.Run("with profile", func(t *testing.T) {
		ctx := xcontext.WithProfile(context.Background(), "tenant-a")
		fields := hook.Apply(ctx, "test message")
		assert.Len(t, fields, 1)
		assert.Equal(t, "profile", fields[0].Key)
		assert.Equal(t, "tenant-a", fields[0].String)
	})

	t.Run("with request id and profile", func(t *testing.T) {
		ctx := xcontext.WithRequestID(context.Background(), "req-123")
		ctx = xcontext.WithProfile(ctx, "tenant-a")
		fields := hook.Apply(ctx, "test message")
		assert.Len(t, fields, 2)
	})

	t.Run("with context missing both", func(t *testing.T) {
		fields := hook.Apply(context.Background(), "test message")
		assert.Len(t, fields, 0)
	})

	t.Run("with nil context", func(t *testing.T) {
		fields := hook.Apply(nil, "test message")
		assert.Len(t, fields, 0)
	})
}
