package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/corpchat/chatsync/internal/chaterr"
)

// Client -> server event names.
const (
	EventSendMessage   = "send_message"
	EventEditMessage   = "edit_message"
	EventDeleteMessage = "delete_message"
	EventJoinChat      = "join_chat"
	EventLeaveChat     = "leave_chat"
)

// Server -> client event names.
const (
	EventReceiveMessage = "receive_message"
	EventMessageDeleted = "message_deleted"
	EventMessageEdited  = "message_edited"
)

// SendMessagePayload is the body of a send_message event.
type SendMessagePayload struct {
	ChatID  int    `json:"chat_id"`
	Content string `json:"content"`
	Token   string `json:"token"`
	FileID  string `json:"file_id,omitempty"`
}

// EditMessagePayload is the body of an edit_message event.
type EditMessagePayload struct {
	MessageID  int    `json:"message_id"`
	NewContent string `json:"new_content"`
	Token      string `json:"token"`
}

// DeleteMessagePayload is the body of a delete_message event.
type DeleteMessagePayload struct {
	MessageID int    `json:"message_id"`
	Token     string `json:"token"`
}

// RoomPayload is the body of join_chat and leave_chat events.
type RoomPayload struct {
	ChatID int    `json:"chat_id"`
	Token  string `json:"token"`
}

// IncomingMessage is the normalized payload of a receive_message event.
// SenderID 0 means no sender (deleted account); ID 0 means the server has
// not assigned one.
type IncomingMessage struct {
	ID        int
	ChatID    int
	Content   string
	SenderID  int
	Timestamp time.Time
	FileID    string
	FileURL   string
	Status    string
	IsDeleted bool
	IsRead    bool
}

// MessageDeleted is the payload of a message_deleted event.
type MessageDeleted struct {
	MessageID int `json:"message_id"`
}

// MessageEdited is the payload of a message_edited event.
type MessageEdited struct {
	MessageID  int    `json:"message_id"`
	NewContent string `json:"new_content"`
}

// Schema identifies which decode attempt accepted a payload.
type Schema string

const (
	// SchemaStrict is the primary schema with exact field types.
	SchemaStrict Schema = "strict"
	// SchemaLoose tolerates integer booleans and missing optional fields.
	SchemaLoose Schema = "loose"
	// SchemaManual is field-by-field extraction from a generic object.
	SchemaManual Schema = "manual"
)

// strictMessage mirrors the server's documented receive_message shape.
type strictMessage struct {
	ID        int    `json:"id"`
	ChatID    int    `json:"chat_id"`
	Content   string `json:"content"`
	SenderID  int    `json:"sender_id"`
	Timestamp string `json:"timestamp"`
	FileID    string `json:"file_id"`
	FileURL   string `json:"file_url"`
	Status    string `json:"status"`
	IsDeleted bool   `json:"is_deleted"`
	IsRead    bool   `json:"is_read"`
}

// looseMessage tolerates the legacy backend that encodes is_read as 0/1
// and may omit the sender.
type looseMessage struct {
	ID        int     `json:"id"`
	ChatID    int     `json:"chat_id"`
	Content   string  `json:"content"`
	SenderID  *int    `json:"sender_id"`
	Timestamp string  `json:"timestamp"`
	FileID    string  `json:"file_id"`
	FileURL   string  `json:"file_url"`
	Status    string  `json:"status"`
	IsDeleted bool    `json:"is_deleted"`
	IsRead    float64 `json:"is_read"`
}

// DecodeIncomingMessage parses a receive_message payload through the attempt
// chain: strict schema, then the loose legacy schema, then manual field
// extraction. It reports which schema matched. Times that fail to parse as
// ISO-8601 fall back to now, per the receipt-time rule.
func DecodeIncomingMessage(data json.RawMessage, now time.Time) (IncomingMessage, Schema, error) {
	var strict strictMessage
	if err := json.Unmarshal(data, &strict); err == nil && strict.ChatID != 0 {
		return IncomingMessage{
			ID:        strict.ID,
			ChatID:    strict.ChatID,
			Content:   defaultContent(strict.Content),
			SenderID:  strict.SenderID,
			Timestamp: parseTimestamp(strict.Timestamp, now),
			FileID:    strict.FileID,
			FileURL:   strict.FileURL,
			Status:    strict.Status,
			IsDeleted: strict.IsDeleted,
			IsRead:    strict.IsRead,
		}, SchemaStrict, nil
	}

	var loose looseMessage
	if err := json.Unmarshal(data, &loose); err == nil && loose.ChatID != 0 {
		msg := IncomingMessage{
			ID:        loose.ID,
			ChatID:    loose.ChatID,
			Content:   defaultContent(loose.Content),
			Timestamp: parseTimestamp(loose.Timestamp, now),
			FileID:    loose.FileID,
			FileURL:   loose.FileURL,
			Status:    loose.Status,
			IsDeleted: loose.IsDeleted,
			IsRead:    loose.IsRead != 0,
		}
		if loose.SenderID != nil {
			msg.SenderID = *loose.SenderID
		}
		return msg, SchemaLoose, nil
	}

	msg, err := extractMessage(data, now)
	if err != nil {
		return IncomingMessage{}, "", chaterr.Decoding("receive_message payload", err)
	}
	return msg, SchemaManual, nil
}

// extractMessage is the last-resort parser: pull known fields out of a
// generic object, coercing types as they come.
func extractMessage(data json.RawMessage, now time.Time) (IncomingMessage, error) {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return IncomingMessage{}, err
	}

	chatID := intField(obj, "chat_id")
	if chatID == 0 {
		return IncomingMessage{}, fmt.Errorf("missing chat_id")
	}

	msg := IncomingMessage{
		ID:        intField(obj, "id"),
		ChatID:    chatID,
		Content:   defaultContent(stringField(obj, "content")),
		SenderID:  intField(obj, "sender_id"),
		Timestamp: parseTimestamp(stringField(obj, "timestamp"), now),
		FileID:    stringField(obj, "file_id"),
		FileURL:   stringField(obj, "file_url"),
		Status:    stringField(obj, "status"),
		IsDeleted: boolField(obj, "is_deleted"),
		IsRead:    boolField(obj, "is_read"),
	}
	return msg, nil
}

// ContentFileSentinel stands in for an empty or file-only message body.
const ContentFileSentinel = "File"

func defaultContent(content string) string {
	if content == "" {
		return ContentFileSentinel
	}
	return content
}

func parseTimestamp(s string, now time.Time) time.Time {
	if s == "" {
		return now
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts
	}
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts
	}
	return now
}

func intField(obj map[string]any, key string) int {
	if f, ok := obj[key].(float64); ok {
		return int(f)
	}
	return 0
}

func stringField(obj map[string]any, key string) string {
	if s, ok := obj[key].(string); ok {
		return s
	}
	return ""
}

func boolField(obj map[string]any, key string) bool {
	switch v := obj[key].(type) {
	case bool:
		return v
	case float64:
		return v != 0
	default:
		return false
	}
}
