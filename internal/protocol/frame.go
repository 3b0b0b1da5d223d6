// Package protocol implements the framed event convention spoken over the
// chat backend's websocket: a leading digit pair classifies each text frame
// (0 = server hello, 40 = session established, 42 = application event), and
// application events carry a JSON array of [name, payload].
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FrameType classifies a decoded frame.
type FrameType int

const (
	// FrameUnknown is any frame with an unrecognized prefix. Dropped.
	FrameUnknown FrameType = iota
	// FrameHello is the server's opening "0" frame. The socket is half-open
	// until the establishment frame arrives.
	FrameHello
	// FrameEstablished is the "40" frame acknowledging a usable session.
	FrameEstablished
	// FrameEvent is a "42" application event frame.
	FrameEvent
)

// Heartbeat is the literal keepalive frame. The server does not reply.
const Heartbeat = "ping"

func (t FrameType) String() string {
	switch t {
	case FrameHello:
		return "hello"
	case FrameEstablished:
		return "established"
	case FrameEvent:
		return "event"
	default:
		return "unknown"
	}
}

// Frame is the decoded form of one text frame. Name and Data are set only
// for FrameEvent; Data is left raw for deferred typed decoding.
type Frame struct {
	Type FrameType
	Name string
	Data json.RawMessage
}

// Encode renders an application event frame: 42["<name>",<payload JSON>].
// A payload that cannot be serialized degrades to an empty object rather
// than failing the caller; the action goes out contractually empty.
func Encode(name string, payload any) string {
	data, err := json.Marshal(payload)
	if err != nil || len(data) == 0 {
		return `42["` + name + `",{}]`
	}
	return `42["` + name + `",` + string(data) + `]`
}

// Decode parses one raw text frame. Unrecognized prefixes come back as
// FrameUnknown with a nil error; only a malformed "42" frame is an error,
// and the session is expected to log and drop it.
func Decode(raw string) (Frame, error) {
	switch {
	case strings.HasPrefix(raw, "42"):
		return decodeEvent(raw)
	case strings.HasPrefix(raw, "40"):
		return Frame{Type: FrameEstablished}, nil
	case strings.HasPrefix(raw, "0"):
		return Frame{Type: FrameHello}, nil
	default:
		return Frame{Type: FrameUnknown}, nil
	}
}

func decodeEvent(raw string) (Frame, error) {
	start := strings.IndexByte(raw, '[')
	if start < 0 {
		return Frame{}, fmt.Errorf("event frame without array: %q", truncate(raw, 64))
	}

	var parts []json.RawMessage
	if err := json.Unmarshal([]byte(raw[start:]), &parts); err != nil {
		return Frame{}, fmt.Errorf("parse event array: %w", err)
	}
	if len(parts) < 2 {
		return Frame{}, fmt.Errorf("event array has %d elements, want at least 2", len(parts))
	}

	var name string
	if err := json.Unmarshal(parts[0], &name); err != nil {
		return Frame{}, fmt.Errorf("parse event name: %w", err)
	}

	return Frame{Type: FrameEvent, Name: name, Data: parts[1]}, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
