package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// RecordSeparator terminates every JSON frame on the wire.
const RecordSeparator byte = 0x1E

// MessageType tags each frame.
type MessageType int

const (
	TypeInvocation MessageType = 1
	TypePing       MessageType = 6
	TypeClose      MessageType = 7
)

// Message is an inbound frame. Handshake requests carry no type and decode
// with Type == 0.
type Message struct {
	Type      MessageType       `json:"type,omitempty"`
	Target    string            `json:"target,omitempty"`
	Arguments []json.RawMessage `json:"arguments,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// known reports whether the frame carries a type this server understands.
func (m Message) known() bool {
	switch m.Type {
	case TypeInvocation, TypePing, TypeClose:
		return true
	}
	return false
}

// invocation is an outbound server-to-client call.
type invocation struct {
	Type      MessageType `json:"type"`
	Target    string      `json:"target"`
	Arguments []any       `json:"arguments"`
}

type closeMessage struct {
	Type  MessageType `json:"type"`
	Error string      `json:"error,omitempty"`
}

// closeFrame builds the Close frame sent before the server drops a
// connection.
func closeFrame(reason string) []byte {
	frame, err := EncodeFrame(closeMessage{Type: TypeClose, Error: reason})
	if err != nil {
		return nil
	}
	return frame
}

var (
	handshakeAck = []byte("{}\x1e")
	pingFrame    = []byte("{\"type\":6}\x1e")
)

// SplitFrames splits a buffer on the record separator.
// Empty segments are skipped; a trailing segment without a separator is
// treated as a complete frame since websocket messages are already bounded.
func SplitFrames(data []byte) [][]byte {
	var frames [][]byte
	for _, part := range bytes.Split(data, []byte{RecordSeparator}) {
		part = bytes.TrimSpace(part)
		if len(part) > 0 {
			frames = append(frames, part)
		}
	}
	return frames
}

// EncodeFrame marshals v and appends the record separator.
func EncodeFrame(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("transport: encode frame: %w", err)
	}
	return append(data, RecordSeparator), nil
}

// EncodeInvocation builds the frame for a server-pushed call.
func EncodeInvocation(target string, args ...any) ([]byte, error) {
	if args == nil {
		args = []any{}
	}
	return EncodeFrame(invocation{Type: TypeInvocation, Target: target, Arguments: args})
}

// DecodeMessage parses one frame.
func DecodeMessage(frame []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(frame, &m); err != nil {
		return Message{}, fmt.Errorf("transport: decode frame: %w", err)
	}
	return m, nil
}
