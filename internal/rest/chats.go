package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/corpchat/chatsync/internal/chaterr"
	"github.com/corpchat/chatsync/internal/store"
	"go.uber.org/zap"
)

// wireChat is the backend's chat representation.
type wireChat struct {
	ID          int              `json:"id"`
	Name        string           `json:"name"`
	Type        string           `json:"type"`
	LastMessage *wireLastMessage `json:"last_message"`
	IsDeleted   bool             `json:"is_deleted"`
	AvatarURL   string           `json:"avatar_url"`
	Members     []int            `json:"members"`
}

type wireLastMessage struct {
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	SenderID  *int   `json:"sender_id"`
}

// FetchChats retrieves the user's chat list. The deployed backends answer
// in three shapes; each parser is tried in order and the first success
// wins: a {"chats": [...]} wrapper, a bare array, and a legacy wrapper
// whose items need manual field extraction.
func (c *Client) FetchChats(ctx context.Context) ([]store.Chat, error) {
	data, err := c.getJSON(ctx, "/api/chat/user_chats")
	if err != nil {
		return nil, err
	}

	var wrapped struct {
		Chats []wireChat `json:"chats"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Chats != nil {
		return sortChats(convertChats(wrapped.Chats)), nil
	}

	var bare []wireChat
	if err := json.Unmarshal(data, &bare); err == nil {
		return sortChats(convertChats(bare)), nil
	}

	chats, err := extractLegacyChats(data)
	if err != nil {
		c.logger.Warn("chat list in unknown format", zap.Error(err))
		return nil, chaterr.Decoding("chat list", err)
	}
	return sortChats(chats), nil
}

// extractLegacyChats handles the oldest backend shape: a {"chats": [...]}
// wrapper whose items do not decode as wireChat (stringly-typed fields,
// absent last_message). Items missing id, name, or type are skipped.
func extractLegacyChats(data []byte) ([]store.Chat, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}

	var items []map[string]any
	if err := json.Unmarshal(obj["chats"], &items); err != nil {
		return nil, err
	}

	now := time.Now()
	var chats []store.Chat
	for _, item := range items {
		id, okID := item["id"].(float64)
		name, okName := item["name"].(string)
		kind, okKind := item["type"].(string)
		if !okID || !okName || !okKind {
			continue
		}

		last := store.LastMessage{Content: "No messages", Timestamp: now}
		if lm, ok := item["last_message"].(map[string]any); ok {
			if content, ok := lm["content"].(string); ok {
				last.Content = content
				if sender, ok := lm["sender_id"].(float64); ok {
					last.SenderID = int(sender)
				}
			}
		}

		chat := store.Chat{
			ID:          int(id),
			Name:        name,
			Kind:        kind,
			LastMessage: last,
		}
		if deleted, ok := item["is_deleted"].(bool); ok {
			chat.IsDeleted = deleted
		}
		if avatar, ok := item["avatar_url"].(string); ok {
			chat.AvatarURL = avatar
		}
		if members, ok := item["members"].([]any); ok {
			for _, m := range members {
				if id, ok := m.(float64); ok {
					chat.MemberIDs = append(chat.MemberIDs, int(id))
				}
			}
		}
		chats = append(chats, chat)
	}
	return chats, nil
}

// GetPrivateChatInfo looks up the existing one-on-one chat with a user.
// A 404 means no such chat exists yet and is reported as found=false, not
// as an error.
func (c *Client) GetPrivateChatInfo(ctx context.Context, userID int) (chatID int, found bool, err error) {
	req, err := c.newRequest(ctx, http.MethodGet,
		fmt.Sprintf("/api/chat/get_private_chat_info/%d", userID), nil)
	if err != nil {
		return 0, false, err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return 0, false, chaterr.Network("get private chat info", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return 0, false, nil
	case resp.StatusCode >= 400:
		return 0, false, chaterr.ServerStatus("get private chat info", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, false, chaterr.Network("read private chat info", err)
	}
	var info struct {
		ID int `json:"id"`
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return 0, false, chaterr.Decoding("private chat info", err)
	}
	return info.ID, true, nil
}

// CreatePrivateChat opens a one-on-one chat with a user and returns the
// server-assigned chat id.
func (c *Client) CreatePrivateChat(ctx context.Context, userID int) (int, error) {
	data, err := c.postJSON(ctx, "/api/chat/create_private_chat", map[string]int{"user_id": userID})
	if err != nil {
		return 0, err
	}

	var created struct {
		ID int `json:"id"`
	}
	if err := json.Unmarshal(data, &created); err != nil {
		return 0, chaterr.Decoding("create private chat response", err)
	}
	if created.ID == 0 {
		return 0, chaterr.Decoding("create private chat response without id", nil)
	}
	return created.ID, nil
}

func convertChats(wire []wireChat) []store.Chat {
	now := time.Now()
	chats := make([]store.Chat, 0, len(wire))
	for _, w := range wire {
		last := store.LastMessage{Content: "No messages", Timestamp: now}
		if w.LastMessage != nil {
			last.Content = w.LastMessage.Content
			last.Timestamp = parseWireTime(w.LastMessage.Timestamp, now)
			if w.LastMessage.SenderID != nil {
				last.SenderID = *w.LastMessage.SenderID
			}
		}
		chats = append(chats, store.Chat{
			ID:          w.ID,
			Name:        w.Name,
			Kind:        w.Type,
			LastMessage: last,
			IsDeleted:   w.IsDeleted,
			AvatarURL:   w.AvatarURL,
			MemberIDs:   w.Members,
		})
	}
	return chats
}

func sortChats(chats []store.Chat) []store.Chat {
	sort.SliceStable(chats, func(i, j int) bool {
		return chats[i].LastMessage.Timestamp.After(chats[j].LastMessage.Timestamp)
	})
	return chats
}

func parseWireTime(s string, fallback time.Time) time.Time {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts
	}
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts
	}
	return fallback
}
