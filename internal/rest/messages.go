package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/corpchat/chatsync/internal/chaterr"
	"github.com/corpchat/chatsync/internal/protocol"
	"github.com/corpchat/chatsync/internal/store"
	"go.uber.org/zap"
)

// FetchHistory retrieves the message history of a chat. The response is a
// {"history": [...]} wrapper; each item goes through the same schema
// attempt chain as live socket messages, and items that defeat all three
// parsers are logged and skipped rather than failing the whole fetch.
func (c *Client) FetchHistory(ctx context.Context, chatID int) ([]store.Message, error) {
	data, err := c.getJSON(ctx, fmt.Sprintf("/api/chat/chat_history?chat_id=%d", chatID))
	if err != nil {
		return nil, err
	}

	var wrapped struct {
		History []json.RawMessage `json:"history"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, chaterr.Decoding("message history", err)
	}

	now := time.Now()
	msgs := make([]store.Message, 0, len(wrapped.History))
	for _, raw := range wrapped.History {
		incoming, _, err := protocol.DecodeIncomingMessage(raw, now)
		if err != nil {
			c.logger.Warn("skipping undecodable history item",
				zap.Int("chat_id", chatID), zap.Error(err))
			continue
		}
		msgs = append(msgs, MessageFromWire(incoming))
	}
	return msgs, nil
}

// SendMessage is the fallback transport for outbound messages when no
// socket session exists. The payload shape matches the send_message event.
func (c *Client) SendMessage(ctx context.Context, chatID int, content, fileID string) error {
	payload := map[string]any{
		"chat_id": chatID,
		"content": content,
	}
	if fileID != "" {
		payload["file_id"] = fileID
	}
	_, err := c.postJSON(ctx, "/api/chat/send_message", payload)
	return err
}

// MessageFromWire converts a decoded wire message to the store model.
func MessageFromWire(in protocol.IncomingMessage) store.Message {
	return store.Message{
		ID:        in.ID,
		ChatID:    in.ChatID,
		Content:   in.Content,
		CreatedAt: in.Timestamp,
		SenderID:  in.SenderID,
		FileID:    in.FileID,
		FileURL:   in.FileURL,
		Status:    in.Status,
		IsDeleted: in.IsDeleted,
		IsRead:    in.IsRead,
	}
}
