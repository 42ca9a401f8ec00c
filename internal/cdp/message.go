package cdp

import (
	"encoding/json"
)

// Command is an outbound protocol frame.
type Command struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params"`
}

// MessageKind tags the populated variant of an InboundMessage.
type MessageKind int

const (
	KindResult MessageKind = iota + 1
	KindEvent
	KindError
)

func (k MessageKind) String() string {
	switch k {
	case KindResult:
		return "result"
	case KindEvent:
		return "event"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// InboundMessage is a decoded frame from the browser. Exactly one of the
// Result, Event or Error variants is populated, as reported by Kind.
type InboundMessage struct {
	Kind MessageKind

	// Result and Error (when the browser correlates the failure).
	ID    int64
	HasID bool

	Result json.RawMessage

	// Event.
	Method string
	Params json.RawMessage

	Error *ProtocolError
}

type wireFrame struct {
	ID     *int64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *ProtocolError  `json:"error"`
}

// DecodeInbound parses a raw frame into its variant. Frames that are not
// JSON objects, or carry none of id, method and error, yield ErrMalformedFrame.
func DecodeInbound(data []byte) (InboundMessage, error) {
	var f wireFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return InboundMessage{}, newError(CodeMalformedFrame, "decode frame", err)
	}

	switch {
	case f.Error != nil:
		msg := InboundMessage{Kind: KindError, Error: f.Error}
		if f.ID != nil {
			msg.ID, msg.HasID = *f.ID, true
		}
		return msg, nil
	case f.ID != nil:
		return InboundMessage{Kind: KindResult, ID: *f.ID, HasID: true, Result: f.Result}, nil
	case f.Method != "":
		return InboundMessage{Kind: KindEvent, Method: f.Method, Params: f.Params}, nil
	default:
		return InboundMessage{}, newError(CodeMalformedFrame, "frame has no id, method or error", nil)
	}
}
