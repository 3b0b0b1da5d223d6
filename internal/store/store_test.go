package store

import (
	"testing"
	"time"

	"github.com/corpchat/chatsync/internal/bus"
)

func ts(sec int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, sec, 0, time.UTC)
}

func twoChats() []Chat {
	return []Chat{
		{ID: 1, Name: "team", Kind: KindGroup, LastMessage: LastMessage{Content: "old", Timestamp: ts(10)}},
		{ID: 2, Name: "boss", Kind: KindPrivate, LastMessage: LastMessage{Content: "older", Timestamp: ts(5)}},
	}
}

func TestApplyChatListSortsAndDedupes(t *testing.T) {
	s := New(nil)
	s.ApplyChatList([]Chat{
		{ID: 1, Name: "stale", LastMessage: LastMessage{Timestamp: ts(1)}},
		{ID: 2, Name: "newest", LastMessage: LastMessage{Timestamp: ts(30)}},
		{ID: 1, Name: "fresh", LastMessage: LastMessage{Timestamp: ts(20)}},
	})

	chats := s.Chats()
	if len(chats) != 2 {
		t.Fatalf("got %d chats, want 2 after dedupe", len(chats))
	}
	if chats[0].ID != 2 || chats[1].ID != 1 {
		t.Errorf("order = [%d %d], want [2 1] (timestamp descending)", chats[0].ID, chats[1].ID)
	}
	if chats[1].Name != "fresh" {
		t.Errorf("duplicate id resolved to %q, want last-write fresh", chats[1].Name)
	}
}

func TestIncomingMessageActiveChat(t *testing.T) {
	// Scenario: receive_message for the chat being viewed.
	s := New(nil)
	s.ApplyChatList(twoChats())
	s.SetActiveChat(1)

	s.ApplyIncomingMessage(Message{ID: 5, ChatID: 1, Content: "hi", SenderID: 2, CreatedAt: ts(40)})

	msgs := s.Messages()
	if len(msgs) != 1 || msgs[0].ID != 5 || msgs[0].Content != "hi" {
		t.Fatalf("messages = %+v, want one entry id=5 content=hi", msgs)
	}
	chat, _ := s.Chat(1)
	if chat.LastMessage.Content != "hi" {
		t.Errorf("last message = %q, want hi", chat.LastMessage.Content)
	}
	if s.Notification() != nil {
		t.Error("no notification expected for the active chat")
	}
}

func TestIncomingMessageInactiveChat(t *testing.T) {
	// Scenario: same frame while another chat is active. The live list is
	// untouched, a transient notification appears and self-clears, and the
	// owning chat's summary still updates.
	s := New(nil)
	s.notifyTTL = 30 * time.Millisecond
	s.ApplyChatList(twoChats())
	s.SetActiveChat(2)

	s.ApplyIncomingMessage(Message{ID: 5, ChatID: 1, Content: "hi", SenderID: 2, CreatedAt: ts(40)})

	if got := s.Messages(); len(got) != 0 {
		t.Errorf("message list = %+v, want untouched", got)
	}
	n := s.Notification()
	if n == nil || n.ChatName != "team" || n.Content != "hi" {
		t.Fatalf("notification = %+v, want team/hi", n)
	}
	chat, _ := s.Chat(1)
	if chat.LastMessage.Content != "hi" {
		t.Errorf("last message = %q, want hi", chat.LastMessage.Content)
	}

	deadline := time.Now().Add(time.Second)
	for s.Notification() != nil {
		if time.Now().After(deadline) {
			t.Fatal("notification did not self-clear")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestIncomingMessageAdoptsLocalEcho(t *testing.T) {
	s := New(nil)
	s.ApplyChatList(twoChats())
	s.SetActiveChat(1)
	s.AppendLocal(Message{ChatID: 1, Content: "draft", SenderID: 7, CreatedAt: ts(40), Status: "sending"})

	s.ApplyIncomingMessage(Message{ID: 9, ChatID: 1, Content: "draft", SenderID: 7, CreatedAt: ts(41), Status: "sent"})

	msgs := s.Messages()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want echo absorbed into 1", len(msgs))
	}
	if msgs[0].ID != 9 || msgs[0].Status != "sent" {
		t.Errorf("local message = %+v, want adopted id 9 status sent", msgs[0])
	}

	// A second delivery of the same id is a duplicate, not a new entry.
	s.ApplyIncomingMessage(Message{ID: 9, ChatID: 1, Content: "draft", SenderID: 7, CreatedAt: ts(41)})
	if got := len(s.Messages()); got != 1 {
		t.Errorf("got %d messages after duplicate, want 1", got)
	}
}

func TestMessageDeletedRewritesSummaries(t *testing.T) {
	// Scenario: deletion removes the message and stamps the sentinel on
	// every chat summary not already carrying it.
	s := New(nil)
	s.ApplyChatList(twoChats())
	s.SetActiveChat(1)
	s.ApplyIncomingMessage(Message{ID: 5, ChatID: 1, Content: "hi", SenderID: 2, CreatedAt: ts(40)})

	s.ApplyMessageDeleted(5)

	if got := s.Messages(); len(got) != 0 {
		t.Errorf("messages = %+v, want id 5 removed", got)
	}
	for _, c := range s.Chats() {
		if c.LastMessage.Content != DeletedSentinel {
			t.Errorf("chat %d last message = %q, want sentinel", c.ID, c.LastMessage.Content)
		}
		if c.LastMessage.SenderID != 0 {
			t.Errorf("chat %d sentinel sender = %d, want 0", c.ID, c.LastMessage.SenderID)
		}
	}
}

func TestMessageEditedIdempotent(t *testing.T) {
	b := bus.New()
	events, unsub := b.Subscribe("message.edited", 8)
	defer unsub()

	s := New(b)
	s.ApplyChatList(twoChats())
	s.SetActiveChat(1)
	s.ApplyIncomingMessage(Message{ID: 5, ChatID: 1, Content: "hi", SenderID: 2, CreatedAt: ts(40)})

	s.ApplyMessageEdited(5, "edited")
	s.ApplyMessageEdited(5, "edited")

	msgs := s.Messages()
	if msgs[0].Content != "edited" {
		t.Errorf("content = %q, want edited", msgs[0].Content)
	}
	if !msgs[0].CreatedAt.Equal(ts(40)) {
		t.Errorf("CreatedAt changed to %v, want untouched", msgs[0].CreatedAt)
	}

	// Only the first application changed anything.
	<-events
	select {
	case evt := <-events:
		t.Errorf("second identical edit published %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSetActiveChatClearsOnSwitch(t *testing.T) {
	s := New(nil)
	s.ApplyChatList(twoChats())
	s.SetActiveChat(1)
	s.ApplyIncomingMessage(Message{ID: 5, ChatID: 1, Content: "hi", CreatedAt: ts(40)})

	s.SetActiveChat(2)
	if got := s.Messages(); len(got) != 0 {
		t.Errorf("messages = %+v, want cleared on chat switch", got)
	}

	// Clearing to none keeps whatever is loaded.
	s.SetHistory(2, []Message{{ID: 6, ChatID: 2, Content: "kept"}})
	s.SetActiveChat(0)
	if got := s.Messages(); len(got) != 1 {
		t.Errorf("messages = %+v, want retained when active chat unset", got)
	}
}

func TestSetHistoryStaleGuard(t *testing.T) {
	s := New(nil)
	s.SetActiveChat(2)

	if s.SetHistory(1, []Message{{ID: 1, ChatID: 1}}) {
		t.Error("history for a non-active chat must be discarded")
	}
	if got := s.Messages(); len(got) != 0 {
		t.Errorf("messages = %+v, want empty", got)
	}

	if !s.SetHistory(2, []Message{{ID: 2, ChatID: 2}}) {
		t.Error("history for the active chat must apply")
	}
}

func TestReset(t *testing.T) {
	s := New(nil)
	s.ApplyChatList(twoChats())
	s.SetActiveChat(1)
	s.ApplyIncomingMessage(Message{ID: 5, ChatID: 1, Content: "hi", CreatedAt: ts(40)})
	s.SetError("boom")

	s.Reset()

	if len(s.Chats()) != 0 || len(s.Messages()) != 0 || s.ActiveChatID() != 0 {
		t.Error("Reset() left conversation state behind")
	}
	if s.LastError() != "" {
		t.Errorf("LastError = %q, want cleared", s.LastError())
	}
}
