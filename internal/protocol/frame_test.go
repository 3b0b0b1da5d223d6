package protocol

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestEncodeFormat(t *testing.T) {
	frame := Encode(EventJoinChat, RoomPayload{ChatID: 7, Token: "tok"})
	want := `42["join_chat",{"chat_id":7,"token":"tok"}]`
	if frame != want {
		t.Errorf("Encode() = %q, want %q", frame, want)
	}
}

func TestEncodeUnserializablePayloadFallsBack(t *testing.T) {
	// Channels cannot be marshaled; the frame must still go out.
	frame := Encode("send_message", map[string]any{"bad": make(chan int)})
	if frame != `42["send_message",{}]` {
		t.Errorf("Encode() = %q, want empty-object fallback", frame)
	}
}

func TestDecodeHandshakeFrames(t *testing.T) {
	tests := []struct {
		raw  string
		want FrameType
	}{
		{`0{"sid":"abc","pingInterval":25000}`, FrameHello},
		{"0", FrameHello},
		{"40", FrameEstablished},
		{`40{"sid":"xyz"}`, FrameEstablished},
		{"3pong", FrameUnknown},
		{"", FrameUnknown},
	}
	for _, tt := range tests {
		frame, err := Decode(tt.raw)
		if err != nil {
			t.Errorf("Decode(%q) error = %v", tt.raw, err)
			continue
		}
		if frame.Type != tt.want {
			t.Errorf("Decode(%q).Type = %v, want %v", tt.raw, frame.Type, tt.want)
		}
	}
}

func TestDecodeEventFrame(t *testing.T) {
	frame, err := Decode(`42["receive_message",{"id":5,"chat_id":1,"content":"hi"}]`)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if frame.Type != FrameEvent {
		t.Fatalf("Type = %v, want FrameEvent", frame.Type)
	}
	if frame.Name != EventReceiveMessage {
		t.Errorf("Name = %q, want receive_message", frame.Name)
	}

	var payload map[string]any
	if err := json.Unmarshal(frame.Data, &payload); err != nil {
		t.Fatalf("payload unmarshal: %v", err)
	}
	if payload["content"] != "hi" {
		t.Errorf("payload content = %v, want hi", payload["content"])
	}
}

func TestDecodeMalformedEventFrame(t *testing.T) {
	tests := []string{
		`42`,
		`42["only_name"]`,
		`42[not json`,
		`42[123,{}]`,
	}
	for _, raw := range tests {
		if _, err := Decode(raw); err == nil {
			t.Errorf("Decode(%q) expected error", raw)
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payloads := []any{
		RoomPayload{ChatID: 1, Token: "t"},
		map[string]any{"nested": map[string]any{"a": float64(1)}, "list": []any{"x", "y"}},
		map[string]any{},
	}
	for _, payload := range payloads {
		frame, err := Decode(Encode("some_event", payload))
		if err != nil {
			t.Fatalf("round trip decode error = %v", err)
		}
		if frame.Name != "some_event" {
			t.Errorf("Name = %q, want some_event", frame.Name)
		}

		wantJSON, _ := json.Marshal(payload)
		var want, got any
		_ = json.Unmarshal(wantJSON, &want)
		if err := json.Unmarshal(frame.Data, &got); err != nil {
			t.Fatalf("payload unmarshal: %v", err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("payload = %#v, want %#v", got, want)
		}
	}
}
