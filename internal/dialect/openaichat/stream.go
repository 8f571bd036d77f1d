package openaichat

import (
	"encoding/json"
	"strconv"

	"github.com/looplj/guardianbridge/internal/dialect"
	"github.com/looplj/guardianbridge/internal/ichat"
)

type streamDecoder struct {
	startSent    bool
	idByIndex    map[int]string
	announced    map[string]bool
	lastToolName map[string]string
}

func (codec) NewStreamDecoder() dialect.StreamDecoder {
	return &streamDecoder{
		idByIndex:    map[int]string{},
		announced:    map[string]bool{},
		lastToolName: map[string]string{},
	}
}

func (d *streamDecoder) Decode(frame dialect.Frame) ([]ichat.StreamEvent, error) {
	if string(frame.Data) == "[DONE]" {
		return nil, nil
	}

	var chunk Response
	if err := json.Unmarshal(frame.Data, &chunk); err != nil {
		// Non-JSON data lines are ignored per spec.md §4.2 SSE framer.
		return nil, nil
	}

	var events []ichat.StreamEvent

	if !d.startSent && chunk.ID != "" {
		d.startSent = true
		events = append(events, ichat.StartEvent(chunk.ID, chunk.Model, chunk.Created))
	}

	if len(chunk.Choices) == 0 {
		return events, nil
	}

	choice := chunk.Choices[0]

	delta := choice.Delta
	if delta == nil {
		delta = choice.Message
	}

	if delta != nil {
		if len(delta.Content) > 0 {
			var text string
			if err := json.Unmarshal(delta.Content, &text); err == nil && text != "" {
				events = append(events, ichat.TextDeltaEvent(text))
			}
		}

		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}

			id := tc.ID
			if id == "" {
				id = d.idByIndex[idx]
			} else {
				d.idByIndex[idx] = id
			}

			if id == "" {
				// No id has ever been seen for this index; synthesize a
				// stable placeholder so args deltas still group together.
				id = "idx_" + strconv.Itoa(idx)
				d.idByIndex[idx] = id
			}

			name := tc.Function.Name
			if name == "" {
				name = d.lastToolName[id]
			} else {
				d.lastToolName[id] = name
			}

			if !d.announced[id] {
				d.announced[id] = true
				events = append(events, ichat.ToolCallStartEvent(id, name))
			}

			if tc.Function.Arguments != "" {
				events = append(events, ichat.ToolCallArgsDeltaEvent(id, name, tc.Function.Arguments))
			}
		}
	}

	if choice.FinishReason != nil {
		var usage *ichat.Usage
		if chunk.Usage != nil {
			usage = &ichat.Usage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
				TotalTokens:  chunk.Usage.TotalTokens,
			}
		}

		events = append(events, ichat.FinalEvent(mapFinishReason(*choice.FinishReason), usage))
	}

	return events, nil
}

func (d *streamDecoder) Flush() ([]ichat.StreamEvent, error) {
	return nil, nil
}

type streamEncoder struct {
	id         string
	model      string
	roleSent   bool
	toolIndex  map[string]int
	nextIdx    int
	finalFired bool
}

func (codec) NewStreamEncoder() dialect.StreamEncoder {
	return &streamEncoder{toolIndex: map[string]int{}}
}

func (e *streamEncoder) chunk() Response {
	return Response{ID: e.id, Object: "chat.completion.chunk", Model: e.model}
}

func (e *streamEncoder) Encode(event ichat.StreamEvent) ([]dialect.Frame, error) {
	switch event.Type {
	case ichat.EventStart:
		e.id = event.ID
		e.model = event.Model

		return nil, nil

	case ichat.EventTextDelta:
		c := e.chunk()
		delta := &Message{}

		if !e.roleSent {
			delta.Role = "assistant"
			e.roleSent = true
		}

		textJSON, _ := json.Marshal(event.Text)
		delta.Content = textJSON
		c.Choices = []Choice{{Delta: delta}}

		return []dialect.Frame{e.marshal(c)}, nil

	case ichat.EventToolCallStart:
		idx, ok := e.toolIndex[event.ToolCallID]
		if !ok {
			idx = e.nextIdx
			e.nextIdx++
			e.toolIndex[event.ToolCallID] = idx
		}

		c := e.chunk()
		i := idx
		delta := &Message{ToolCalls: []ToolCall{{
			Index: &i,
			ID:    event.ToolCallID,
			Type:  "function",
			Function: ToolCallFunc{
				Name: event.ToolCallName,
			},
		}}}
		c.Choices = []Choice{{Delta: delta}}

		return []dialect.Frame{e.marshal(c)}, nil

	case ichat.EventToolCallArgsDelta:
		idx := e.toolIndex[event.ToolCallID]
		c := e.chunk()
		i := idx
		delta := &Message{ToolCalls: []ToolCall{{
			Index:    &i,
			Function: ToolCallFunc{Arguments: event.ArgsDelta},
		}}}
		c.Choices = []Choice{{Delta: delta}}

		return []dialect.Frame{e.marshal(c)}, nil

	case ichat.EventFinal:
		e.finalFired = true
		reason := unmapFinishReason(event.FinishReason)
		c := e.chunk()
		c.Choices = []Choice{{Delta: &Message{}, FinishReason: &reason}}

		if event.Usage != nil {
			c.Usage = &Usage{
				PromptTokens:     event.Usage.InputTokens,
				CompletionTokens: event.Usage.OutputTokens,
				TotalTokens:      event.Usage.TotalTokens,
			}
		}

		return []dialect.Frame{e.marshal(c)}, nil

	case ichat.EventDone:
		return []dialect.Frame{{Data: []byte("[DONE]")}}, nil
	}

	return nil, nil
}

func (e *streamEncoder) marshal(c Response) dialect.Frame {
	b, _ := json.Marshal(c)
	return dialect.Frame{Data: b}
}
