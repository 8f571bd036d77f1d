// Package sse implements the byte-level Server-Sent-Events framer shared by
// every dialect's stream decoder (spec.md §4.2), plus the client-facing
// writer that re-emits frames produced by a dialect's StreamEncoder.
package sse

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/looplj/guardianbridge/internal/dialect"
	"github.com/looplj/guardianbridge/internal/log"
	"github.com/looplj/guardianbridge/internal/pkg/streams"
)

// doneMarker is the terminal "[DONE]" data payload recognized regardless of
// source dialect.
const doneMarker = "[DONE]"

// Framer reads raw SSE bytes and yields dialect.Frame values, splitting at
// "\n\n" event boundaries and concatenating multi-line "data:" fields,
// matching spec.md §4.2's framer description.
type Framer struct {
	ctx    context.Context
	r      *bufio.Reader
	src    io.Reader
	buf    bytes.Buffer
	done   bool
	err    error
	frame  dialect.Frame
	isDone bool
}

// NewFramer wraps r. ctx is checked between frames so a client disconnect
// stops decoding promptly.
func NewFramer(ctx context.Context, r io.Reader) *Framer {
	return &Framer{ctx: ctx, r: bufio.NewReaderSize(r, 4096), src: r}
}

// Next implements streams.Stream[dialect.Frame].
func (f *Framer) Next() bool {
	if f.err != nil || f.done {
		return false
	}

	for {
		select {
		case <-f.ctx.Done():
			f.err = f.ctx.Err()
			return false
		default:
		}

		line, err := f.r.ReadString('\n')
		if len(line) > 0 {
			f.buf.WriteString(line)
		}

		if err != nil {
			if err == io.EOF {
				f.done = true

				if f.buf.Len() == 0 {
					return false
				}
				// Flush whatever trailing frame remains unterminated.
				if ev, ok := parseFrame(f.buf.String()); ok {
					f.frame = ev
					return true
				}

				return false
			}

			f.err = err

			return false
		}

		if line == "\n" || line == "\r\n" {
			raw := f.buf.String()
			f.buf.Reset()

			if ev, ok := parseFrame(raw); ok {
				f.frame = ev
				return true
			}
			// Blank frame (e.g. a bare keep-alive comment); keep reading.
			continue
		}
	}
}

func (f *Framer) Current() dialect.Frame { return f.frame }
func (f *Framer) Err() error             { return f.err }

func (f *Framer) Close() error {
	if rc, ok := f.src.(io.Closer); ok {
		return rc.Close()
	}

	return nil
}

// parseFrame collects "event:" and "data:" lines from one raw frame. It
// returns ok=false for frames carrying no data at all (pure comments).
func parseFrame(raw string) (dialect.Frame, bool) {
	var (
		event   string
		dataBuf strings.Builder
		hasData bool
	)

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if hasData {
				dataBuf.WriteByte('\n')
			}

			dataBuf.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			hasData = true
		case strings.HasPrefix(line, ":"):
			// Comment line, ignored.
		}
	}

	if !hasData {
		return dialect.Frame{}, false
	}

	return dialect.Frame{Event: event, Data: []byte(dataBuf.String())}, true
}

// IsDone reports whether frame carries the terminal "[DONE]" marker.
func IsDone(frame dialect.Frame) bool {
	return strings.TrimSpace(string(frame.Data)) == doneMarker
}

var _ streams.Stream[dialect.Frame] = (*Framer)(nil)

// DebugSkip logs a debug line for a data frame that failed to parse as JSON,
// per spec.md §4.2 ("Non-JSON data: lines are ignored with a debug log").
func DebugSkip(ctx context.Context, reason string, frame dialect.Frame) {
	log.Debug(ctx, "sse: ignoring non-JSON frame", log.String("reason", reason), log.String("event", frame.Event))
}
