package entities

import (
	"encoding/json"
	"fmt"
	"time"
)

// Frame types exchanged over the socket. The user endpoint never emits the
// two participant events; everything else is shared between both tiers.
const (
	FrameMessage           = "message"
	FrameTyping            = "typing"
	FramePresence          = "presence"
	FrameRead              = "read"
	FramePing              = "ping"
	FramePong              = "pong"
	FrameConnected         = "connected"
	FrameError             = "error"
	FrameParticipantJoined = "participant_joined"
	FrameParticipantLeft   = "participant_left"
)

// Frame is the JSON envelope for every message that crosses a socket, in
// either direction.
type Frame struct {
	Type           string                 `json:"type"`
	Payload        map[string]interface{} `json:"payload,omitempty"`
	Timestamp      time.Time              `json:"timestamp,omitempty"`
	ConversationId string                 `json:"conversationId,omitempty"`
}

// ParseFrame deserializes an inbound frame and checks the type tag is
// present. Payload contents are validated by each handler, not here.
func ParseFrame(raw []byte) (*Frame, error) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("Frame: ParseFrame: error deserializing frame: %w", err)
	}
	if frame.Type == "" {
		return nil, fmt.Errorf("Frame: ParseFrame: frame has no 'type' field")
	}
	return &frame, nil
}

// Stamped returns the frame with its timestamp defaulted to now. Outbound
// frames always carry a timestamp.
func (f *Frame) Stamped() *Frame {
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now().UTC()
	}
	return f
}

// ErrorFrame builds the error frame sent back to a client when one of its
// frames could not be processed. The socket itself stays open.
func ErrorFrame(message string) *Frame {
	return &Frame{
		Type:    FrameError,
		Payload: map[string]interface{}{"message": message},
	}
}

// RateLimitFrame carries the machine-readable code and the retry hint in
// seconds so the client can back off.
func RateLimitFrame(message string, resetIn time.Duration) *Frame {
	return &Frame{
		Type: FrameError,
		Payload: map[string]interface{}{
			"message": message,
			"code":    "RATE_LIMIT",
			"resetIn": int(resetIn.Seconds() + 0.5),
		},
	}
}
