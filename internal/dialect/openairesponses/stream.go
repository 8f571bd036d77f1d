package openairesponses

import (
	"encoding/json"

	"github.com/looplj/guardianbridge/internal/dialect"
	"github.com/looplj/guardianbridge/internal/ichat"
)

// streamDecoder tracks which item_id belongs to which in-flight function
// call, since function_call_arguments.delta frames carry only an item_id.
type streamDecoder struct {
	startSent bool
	toolName  map[string]string
}

func (codec) NewStreamDecoder() dialect.StreamDecoder {
	return &streamDecoder{toolName: map[string]string{}}
}

func (d *streamDecoder) Decode(frame dialect.Frame) ([]ichat.StreamEvent, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(frame.Data, &head); err != nil {
		return nil, nil
	}

	switch head.Type {
	case "response.created", "response.in_progress":
		var ev CreatedEvent
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			return nil, nil
		}

		if !d.startSent {
			d.startSent = true
			return []ichat.StreamEvent{ichat.StartEvent(ev.Response.ID, ev.Response.Model, 0)}, nil
		}

		return nil, nil

	case "response.output_text.delta":
		var ev OutputTextDeltaEvent
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			return nil, nil
		}

		return []ichat.StreamEvent{ichat.TextDeltaEvent(ev.Delta)}, nil

	case "response.output_item.added":
		var ev OutputItemAddedEvent
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			return nil, nil
		}

		if ev.Item.Type == "function_call" {
			d.toolName[ev.Item.CallID] = ev.Item.Name
			return []ichat.StreamEvent{ichat.ToolCallStartEvent(ev.Item.CallID, ev.Item.Name)}, nil
		}

		return nil, nil

	case "response.function_call_arguments.delta":
		var ev FunctionCallArgumentsDeltaEvent
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			return nil, nil
		}

		name := d.toolName[ev.ItemID]

		return []ichat.StreamEvent{ichat.ToolCallArgsDeltaEvent(ev.ItemID, name, ev.Delta)}, nil

	case "response.completed", "response.incomplete", "response.failed", "response.error":
		var ev CompletedEvent
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			return nil, nil
		}

		status := ev.Response.Status
		if status == "" {
			status = map[string]string{
				"response.completed":  "completed",
				"response.incomplete": "incomplete",
				"response.failed":     "failed",
				"response.error":      "error",
			}[head.Type]
		}

		var usage *ichat.Usage
		if ev.Response.Usage != nil {
			usage = &ichat.Usage{
				InputTokens:  ev.Response.Usage.InputTokens,
				OutputTokens: ev.Response.Usage.OutputTokens,
				TotalTokens:  ev.Response.Usage.TotalTokens,
			}
		}

		return []ichat.StreamEvent{
			ichat.FinalEvent(mapStatus(status), usage),
			ichat.DoneEvent(),
		}, nil
	}

	return nil, nil
}

func (d *streamDecoder) Flush() ([]ichat.StreamEvent, error) {
	return nil, nil
}

// streamEncoder re-renders Internal Stream Events as Responses SSE frames:
// response.created + response.in_progress once, then text/tool-call
// events, then one terminal response.<status> event (completed, incomplete
// or failed, from the stop reason), then [DONE].
type streamEncoder struct {
	id          string
	model       string
	metaSent    bool
	nextItemIdx int
	itemIDs     map[string]string
}

func (codec) NewStreamEncoder() dialect.StreamEncoder {
	return &streamEncoder{itemIDs: map[string]string{}}
}

func evFrame(eventType string, v any) dialect.Frame {
	b, _ := json.Marshal(v)
	return dialect.Frame{Event: eventType, Data: b}
}

func (e *streamEncoder) Encode(event ichat.StreamEvent) ([]dialect.Frame, error) {
	switch event.Type {
	case ichat.EventStart:
		e.id = event.ID
		e.model = event.Model
		e.metaSent = true
		meta := ResponseMeta{ID: e.id, Model: e.model}

		return []dialect.Frame{
			evFrame("response.created", CreatedEvent{Type: "response.created", Response: meta}),
			evFrame("response.in_progress", CreatedEvent{Type: "response.in_progress", Response: meta}),
		}, nil

	case ichat.EventTextDelta:
		return []dialect.Frame{evFrame("response.output_text.delta", OutputTextDeltaEvent{
			Type: "response.output_text.delta", Delta: event.Text,
		})}, nil

	case ichat.EventToolCallStart:
		e.nextItemIdx++
		itemID := event.ToolCallID
		e.itemIDs[event.ToolCallID] = itemID

		return []dialect.Frame{evFrame("response.output_item.added", OutputItemAddedEvent{
			Type: "response.output_item.added",
			Item: Item{Type: "function_call", CallID: event.ToolCallID, Name: event.ToolCallName},
		})}, nil

	case ichat.EventToolCallArgsDelta:
		itemID := e.itemIDs[event.ToolCallID]
		if itemID == "" {
			itemID = event.ToolCallID
		}

		return []dialect.Frame{evFrame("response.function_call_arguments.delta", FunctionCallArgumentsDeltaEvent{
			Type: "response.function_call_arguments.delta", ItemID: itemID, Delta: event.ArgsDelta,
		})}, nil

	case ichat.EventFinal:
		resp := Response{ID: e.id, Object: "response", Model: e.model, Status: unmapStatus(event.FinishReason)}
		if event.Usage != nil {
			resp.Usage = &Usage{
				InputTokens:  event.Usage.InputTokens,
				OutputTokens: event.Usage.OutputTokens,
				TotalTokens:  event.Usage.TotalTokens,
			}
		}

		eventType := "response." + resp.Status

		return []dialect.Frame{evFrame(eventType, CompletedEvent{Type: eventType, Response: resp})}, nil

	case ichat.EventDone:
		return []dialect.Frame{{Data: []byte("[DONE]")}}, nil
	}

	return nil, nil
}
