package gemini

import (
	"encoding/json"

	"github.com/looplj/guardianbridge/internal/dialect"
	"github.com/looplj/guardianbridge/internal/ichat"
)

// streamDecoder handles Gemini's streamGenerateContent framing: each frame is
// a complete Response with one candidate's incremental parts, and there is no
// terminal marker — the connection simply closes, so Flush emits the final
// accounting plus done.
type streamDecoder struct {
	startSent  bool
	ids        *callIDSeq
	lastUsage  *ichat.Usage
	lastFinish ichat.FinishReason
	finalFired bool
}

func (codec) NewStreamDecoder() dialect.StreamDecoder {
	return &streamDecoder{ids: newCallIDSeq()}
}

func (d *streamDecoder) Decode(frame dialect.Frame) ([]ichat.StreamEvent, error) {
	var resp Response
	if err := json.Unmarshal(frame.Data, &resp); err != nil {
		return nil, nil
	}

	var events []ichat.StreamEvent

	if !d.startSent {
		d.startSent = true
		events = append(events, ichat.StartEvent("", resp.ModelVersion, 0))
	}

	if resp.UsageMetadata != nil {
		d.lastUsage = &ichat.Usage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  resp.UsageMetadata.TotalTokenCount,
		}
	}

	if len(resp.Candidates) == 0 {
		return events, nil
	}

	cand := resp.Candidates[0]

	for _, p := range cand.Content.Parts {
		switch {
		case p.Text != "":
			events = append(events, ichat.TextDeltaEvent(p.Text))
		case p.FunctionCall != nil:
			id := d.ids.next(p.FunctionCall.Name)
			events = append(events, ichat.ToolCallStartEvent(id, p.FunctionCall.Name))

			if len(p.FunctionCall.Args) > 0 {
				events = append(events, ichat.ToolCallArgsDeltaEvent(id, p.FunctionCall.Name, string(p.FunctionCall.Args)))
			}
		}
	}

	if cand.FinishReason != "" {
		d.lastFinish = mapFinishReason(cand.FinishReason)
		d.finalFired = true
		events = append(events, ichat.FinalEvent(d.lastFinish, d.lastUsage))
	}

	return events, nil
}

func (d *streamDecoder) Flush() ([]ichat.StreamEvent, error) {
	var events []ichat.StreamEvent

	if !d.finalFired {
		events = append(events, ichat.FinalEvent(ichat.FinishStop, d.lastUsage))
	}

	events = append(events, ichat.DoneEvent())

	return events, nil
}

// streamEncoder re-renders Internal Stream Events as Gemini
// streamGenerateContent response frames. Gemini delivers function-call args
// as one complete object, not fragments, so argument deltas are buffered
// per call id until they parse as a complete JSON object (per spec.md
// §4.2's Gemini sink rule).
type streamEncoder struct {
	model     string
	toolNames map[string]string
	toolArgs  map[string]string
}

func (codec) NewStreamEncoder() dialect.StreamEncoder {
	return &streamEncoder{toolNames: map[string]string{}, toolArgs: map[string]string{}}
}

func (e *streamEncoder) marshal(resp Response) dialect.Frame {
	b, _ := json.Marshal(resp)
	return dialect.Frame{Data: b}
}

func (e *streamEncoder) Encode(event ichat.StreamEvent) ([]dialect.Frame, error) {
	switch event.Type {
	case ichat.EventStart:
		e.model = event.Model
		return nil, nil

	case ichat.EventTextDelta:
		return []dialect.Frame{e.marshal(Response{
			ModelVersion: e.model,
			Candidates: []Candidate{{
				Content: Content{Role: "model", Parts: []Part{{Text: event.Text}}},
			}},
		})}, nil

	case ichat.EventToolCallStart:
		e.toolNames[event.ToolCallID] = event.ToolCallName
		return nil, nil

	case ichat.EventToolCallArgsDelta:
		e.toolArgs[event.ToolCallID] += event.ArgsDelta

		buffered := e.toolArgs[event.ToolCallID]
		if !json.Valid([]byte(buffered)) {
			return nil, nil
		}

		name := e.toolNames[event.ToolCallID]
		delete(e.toolArgs, event.ToolCallID)

		return []dialect.Frame{e.marshal(Response{
			ModelVersion: e.model,
			Candidates: []Candidate{{
				Content: Content{Role: "model", Parts: []Part{{
					FunctionCall: &FunctionCall{Name: name, Args: json.RawMessage(buffered)},
				}}},
			}},
		})}, nil

	case ichat.EventFinal:
		resp := Response{
			ModelVersion: e.model,
			Candidates: []Candidate{{
				Content:      Content{Role: "model"},
				FinishReason: unmapFinishReason(event.FinishReason),
			}},
		}

		if event.Usage != nil {
			resp.UsageMetadata = &UsageMetadata{
				PromptTokenCount:     event.Usage.InputTokens,
				CandidatesTokenCount: event.Usage.OutputTokens,
				TotalTokenCount:      event.Usage.TotalTokens,
			}
		}

		return []dialect.Frame{e.marshal(resp)}, nil

	case ichat.EventDone:
		// Gemini's stream has no terminal marker; closing the connection
		// is the signal, so done produces no frame.
		return nil, nil
	}

	return nil, nil
}
