package sse

import (
	"context"
	"encoding/json"
	"io"

	"github.com/looplj/guardianbridge/internal/dialect"
	"github.com/looplj/guardianbridge/internal/ichat"
	"github.com/looplj/guardianbridge/internal/log"
)

// Transcoder drives one upstream SSE body through a source dialect's
// StreamDecoder and a target dialect's StreamEncoder, writing frames to a
// Writer in arrival order. One instance per HTTP connection; never shared
// (spec.md §4.2 "Concurrency contract").
type Transcoder struct {
	framer  *Framer
	decoder dialect.StreamDecoder
	encoder dialect.StreamEncoder
	out     *Writer
}

func NewTranscoder(ctx context.Context, upstream io.Reader, decoder dialect.StreamDecoder, encoder dialect.StreamEncoder, out io.Writer) *Transcoder {
	return &Transcoder{
		framer:  NewFramer(ctx, upstream),
		decoder: decoder,
		encoder: encoder,
		out:     NewWriter(out),
	}
}

// Run pulls frames until the upstream stream ends, decoding each into
// Internal Stream Events and re-encoding them into the target dialect. It
// never reorders events and never buffers beyond one frame at a time.
func (t *Transcoder) Run(ctx context.Context) error {
	for t.framer.Next() {
		frame := t.framer.Current()

		if IsDone(frame) {
			return t.emitFinal()
		}

		if len(frame.Data) > 0 && !json.Valid(frame.Data) {
			DebugSkip(ctx, "invalid json", frame)
			continue
		}

		events, err := t.decoder.Decode(frame)
		if err != nil {
			log.Warn(ctx, "sse: decode error, skipping frame", log.Cause(err))
			continue
		}

		if err := t.emit(events); err != nil {
			return err
		}
	}

	if err := t.framer.Err(); err != nil {
		return err
	}

	// End-of-stream with no terminal marker (e.g. Gemini, Claude): flush
	// buffered decoder state and terminate.
	return t.emitFinal()
}

// emitFinal flushes any buffered decoder state and terminates the stream
// exactly once, routing ichat.DoneEvent() through the target encoder's own
// EventDone handling rather than writing a literal "[DONE]" regardless of
// dialect — the target decides what termination looks like (OpenAI Chat
// and Responses: literal [DONE]; Claude: message_stop, already emitted via
// EventFinal/EventDone in-loop; Gemini: no frame at all). Flush appends its
// own ichat.DoneEvent() only for dialects whose upstream never sends an
// explicit terminator (Gemini); everyone else gets one appended here.
func (t *Transcoder) emitFinal() error {
	events, err := t.decoder.Flush()
	if err != nil {
		return err
	}

	if !hasDoneEvent(events) {
		events = append(events, ichat.DoneEvent())
	}

	return t.emit(events)
}

func hasDoneEvent(events []ichat.StreamEvent) bool {
	for _, event := range events {
		if event.Type == ichat.EventDone {
			return true
		}
	}

	return false
}

func (t *Transcoder) emit(events []ichat.StreamEvent) error {
	for _, event := range events {
		frames, err := t.encoder.Encode(event)
		if err != nil {
			return err
		}

		for _, frame := range frames {
			if err := t.out.WriteFrame(frame); err != nil {
				return err
			}
		}
	}

	return nil
}
