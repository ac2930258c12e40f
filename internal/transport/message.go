package transport

import (
	"encoding/json"
	"fmt"

	"github.com/opsvox/opsvox/pkg/pcm"
)

// Inbound messages are text-framed JSON with an "event" discriminator:
//
//	{"event":"media","data":"<base64 PCM16LE>"}
//	{"event":"text","speaker":"user"|"agent","data":"..."}
//	{"event":"stop"}
//
// Outbound frames are raw base64 PCM16LE with no JSON envelope.
type wireMessage struct {
	Event   string `json:"event"`
	Data    string `json:"data,omitempty"`
	Speaker string `json:"speaker,omitempty"`
}

// Inbound message kinds produced by decodeMessage.
const (
	kindMedia = "media"
	kindText  = "text"
	kindStop  = "stop"
)

// Text is one transcript fragment relayed by the remote endpoint.
type Text struct {
	// Speaker is "user" for recognised local speech and "agent" for the
	// assistant's generated replies.
	Speaker string

	// Content is the transcript text.
	Content string
}

// inboundMessage is the decoded tagged union of the wire schema. Exactly one
// of Media or Text is populated, according to Kind; a Stop carries no payload.
type inboundMessage struct {
	Kind  string
	Media []float32
	Text  Text
}

// decodeMessage parses raw wire data into an inboundMessage. Any failure —
// invalid JSON, an unknown event, or an undecodable media payload — returns
// an error; the caller logs and drops the message, never crashing the
// dispatch loop.
func decodeMessage(data []byte) (inboundMessage, error) {
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return inboundMessage{}, fmt.Errorf("transport: decode message: %w", err)
	}

	switch msg.Event {
	case kindMedia:
		samples, err := pcm.DecodeTransport(msg.Data)
		if err != nil {
			return inboundMessage{}, fmt.Errorf("transport: decode media payload: %w", err)
		}
		return inboundMessage{Kind: kindMedia, Media: samples}, nil

	case kindText:
		return inboundMessage{Kind: kindText, Text: Text{Speaker: msg.Speaker, Content: msg.Data}}, nil

	case kindStop:
		return inboundMessage{Kind: kindStop}, nil

	default:
		return inboundMessage{}, fmt.Errorf("transport: unknown event %q", msg.Event)
	}
}
