package claude

import (
	"encoding/json"

	"github.com/looplj/guardianbridge/internal/dialect"
	"github.com/looplj/guardianbridge/internal/ichat"
)

// streamDecoder tracks the most-recently-opened content block so that
// input_json_delta fragments (which carry no id of their own) can be
// attributed to the right tool call.
type streamDecoder struct {
	blockKind map[int]string // index -> "text" | "tool_use"
	blockID   map[int]string
	blockName map[int]string
}

func (codec) NewStreamDecoder() dialect.StreamDecoder {
	return &streamDecoder{
		blockKind: map[int]string{},
		blockID:   map[int]string{},
		blockName: map[int]string{},
	}
}

func (d *streamDecoder) Decode(frame dialect.Frame) ([]ichat.StreamEvent, error) {
	switch frame.Event {
	case "message_start":
		var payload MessageStartPayload
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			return nil, nil
		}

		return []ichat.StreamEvent{ichat.StartEvent(payload.Message.ID, payload.Message.Model, 0)}, nil

	case "content_block_start":
		var ev ContentBlockStartEvent
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			return nil, nil
		}

		d.blockKind[ev.Index] = ev.ContentBlock.Type

		if ev.ContentBlock.Type == "tool_use" {
			d.blockID[ev.Index] = ev.ContentBlock.ID
			d.blockName[ev.Index] = ev.ContentBlock.Name

			events := []ichat.StreamEvent{ichat.ToolCallStartEvent(ev.ContentBlock.ID, ev.ContentBlock.Name)}

			// A pre-populated `input` on content_block_start is emitted
			// immediately as a full args delta, per spec.md §4.2.
			if len(ev.ContentBlock.Input) > 0 && string(ev.ContentBlock.Input) != "{}" {
				events = append(events, ichat.ToolCallArgsDeltaEvent(
					ev.ContentBlock.ID, ev.ContentBlock.Name, string(ev.ContentBlock.Input)))
			}

			return events, nil
		}

		return nil, nil

	case "content_block_delta":
		var ev ContentBlockDeltaEvent
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			return nil, nil
		}

		switch ev.Delta.Type {
		case "text_delta":
			return []ichat.StreamEvent{ichat.TextDeltaEvent(ev.Delta.Text)}, nil
		case "input_json_delta":
			id := d.blockID[ev.Index]
			name := d.blockName[ev.Index]

			return []ichat.StreamEvent{ichat.ToolCallArgsDeltaEvent(id, name, ev.Delta.PartialJSON)}, nil
		}

		return nil, nil

	case "message_delta":
		var ev MessageDeltaEvent
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			return nil, nil
		}

		usage := &ichat.Usage{
			InputTokens:  ev.Usage.InputTokens,
			OutputTokens: ev.Usage.OutputTokens,
			TotalTokens:  ev.Usage.InputTokens + ev.Usage.OutputTokens,
		}

		return []ichat.StreamEvent{ichat.FinalEvent(mapStopReason(ev.Delta.StopReason), usage)}, nil

	case "message_stop":
		return []ichat.StreamEvent{ichat.DoneEvent()}, nil

	case "ping", "content_block_stop":
		return nil, nil
	}

	return nil, nil
}

func (d *streamDecoder) Flush() ([]ichat.StreamEvent, error) {
	return nil, nil
}

// streamEncoder re-renders Internal Stream Events as Claude Messages SSE
// frames: message_start, content_block_start/delta/stop, message_delta,
// message_stop.
type streamEncoder struct {
	id          string
	model       string
	textOpened  bool
	toolIndex   map[string]int
	nextIdx     int
	openedIndex int
}

func (codec) NewStreamEncoder() dialect.StreamEncoder {
	return &streamEncoder{toolIndex: map[string]int{}, openedIndex: -1}
}

func frame(event string, v any) dialect.Frame {
	b, _ := json.Marshal(v)
	return dialect.Frame{Event: event, Data: b}
}

func (e *streamEncoder) Encode(event ichat.StreamEvent) ([]dialect.Frame, error) {
	switch event.Type {
	case ichat.EventStart:
		e.id = event.ID
		e.model = event.Model

		return []dialect.Frame{frame("message_start", MessageStartPayload{
			Type:    "message_start",
			Message: ResponseEnvelope{ID: e.id, Model: e.model},
		})}, nil

	case ichat.EventTextDelta:
		var frames []dialect.Frame

		if !e.textOpened {
			e.textOpened = true
			e.openedIndex = 0
			frames = append(frames, frame("content_block_start", ContentBlockStartEvent{
				Type:         "content_block_start",
				Index:        0,
				ContentBlock: ContentItem{Type: "text"},
			}))
		}

		frames = append(frames, frame("content_block_delta", ContentBlockDeltaEvent{
			Type:  "content_block_delta",
			Index: 0,
			Delta: Delta{Type: "text_delta", Text: event.Text},
		}))

		return frames, nil

	case ichat.EventToolCallStart:
		idx, ok := e.toolIndex[event.ToolCallID]
		if !ok {
			idx = e.nextIdx + 1
			e.nextIdx++
			e.toolIndex[event.ToolCallID] = idx
		}

		return []dialect.Frame{frame("content_block_start", ContentBlockStartEvent{
			Type:  "content_block_start",
			Index: idx,
			ContentBlock: ContentItem{
				Type: "tool_use",
				ID:   event.ToolCallID,
				Name: event.ToolCallName,
			},
		})}, nil

	case ichat.EventToolCallArgsDelta:
		idx := e.toolIndex[event.ToolCallID]

		return []dialect.Frame{frame("content_block_delta", ContentBlockDeltaEvent{
			Type:  "content_block_delta",
			Index: idx,
			Delta: Delta{Type: "input_json_delta", PartialJSON: event.ArgsDelta},
		})}, nil

	case ichat.EventFinal:
		return []dialect.Frame{frame("message_delta", messageDeltaPayload(event))}, nil

	case ichat.EventDone:
		return []dialect.Frame{frame("message_stop", map[string]string{"type": "message_stop"})}, nil
	}

	return nil, nil
}

func messageDeltaPayload(event ichat.StreamEvent) MessageDeltaEvent {
	ev := MessageDeltaEvent{Type: "message_delta"}
	ev.Delta.StopReason = unmapStopReason(event.FinishReason)

	if event.Usage != nil {
		ev.Usage = Usage{InputTokens: event.Usage.InputTokens, OutputTokens: event.Usage.OutputTokens}
	}

	return ev
}
