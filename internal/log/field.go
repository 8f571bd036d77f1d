package log

import (
	"time"

	"go.uber.org/zap"
)

// Field wraps zap.Field so callers never import zap directly, matching the
// teacher's façade boundary around its logging backend.
type Field = zap.Field

func String(key, value string) Field { return zap.String(key, value) }

func Int(key string, value int) Field { return zap.Int(key, value) }

func Int64(key string, value int64) Field { return zap.Int64(key, value) }

func Bool(key string, value bool) Field { return zap.Bool(key, value) }

func Any(key string, value any) Field { return zap.Any(key, value) }

func Duration(key string, value time.Duration) Field { return zap.Duration(key, value) }

// Cause wraps an error as a "cause" field, the teacher's convention for
// attaching the triggering error to a log line without using the message
// string for it.
func Cause(err error) Field { return zap.NamedError("cause", err) }
