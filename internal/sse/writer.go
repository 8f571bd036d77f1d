package sse

import (
	"io"

	ginsse "github.com/gin-contrib/sse"

	"github.com/looplj/guardianbridge/internal/dialect"
)

// Writer emits dialect.Frame values to an HTTP response body using
// gin-contrib/sse's encoder (forked to add the space after "data:" that a
// few clients expect, per the teacher's replace directive).
type Writer struct {
	w io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteFrame encodes one frame and flushes if w supports it.
func (sw *Writer) WriteFrame(frame dialect.Frame) error {
	event := ginsse.Event{
		Event: frame.Event,
		Data:  string(frame.Data),
	}

	if err := ginsse.Encode(sw.w, event); err != nil {
		return err
	}

	if f, ok := sw.w.(interface{ Flush() }); ok {
		f.Flush()
	}

	return nil
}
