// Package store holds the in-memory conversation state: the ordered chat
// collection and the live message list of the active chat. All mutations
// run behind one mutex; observers follow changes via bus events instead of
// polling. Nothing here survives a logout.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/corpchat/chatsync/internal/bus"
)

// echoWindow bounds the timestamp distance when matching a server echo to
// a locally queued message that has no id yet.
const echoWindow = 5 * time.Second

// Store is the conversation state owner.
type Store struct {
	mu sync.Mutex

	chats        []Chat
	activeChatID int
	messages     []Message

	notification *Notification
	notifyTimer  *time.Timer
	notifyTTL    time.Duration

	users []User

	connected bool
	lastError string

	bus *bus.Bus
}

// New creates an empty store publishing changes on b.
func New(b *bus.Bus) *Store {
	return &Store{
		notifyTTL: 3 * time.Second,
		bus:       b,
	}
}

// ApplyChatList replaces the chat collection, deduplicated by id (last
// write wins) and sorted by last-message timestamp descending. Used after
// the REST bootstrap fetch.
func (s *Store) ApplyChatList(chats []Chat) {
	deduped := make([]Chat, 0, len(chats))
	seen := make(map[int]int, len(chats))
	for _, c := range chats {
		if i, ok := seen[c.ID]; ok {
			deduped[i] = c
			continue
		}
		seen[c.ID] = len(deduped)
		deduped = append(deduped, c)
	}
	sort.SliceStable(deduped, func(i, j int) bool {
		return deduped[i].LastMessage.Timestamp.After(deduped[j].LastMessage.Timestamp)
	})

	s.mu.Lock()
	s.chats = deduped
	s.mu.Unlock()

	s.publish("chat.list", len(deduped))
}

// ApplyIncomingMessage merges one inbound message. If it belongs to the
// active chat it lands in the live list and a scroll signal is emitted;
// the owning chat's last-message summary updates either way. Messages for
// other chats additionally raise a transient notification.
func (s *Store) ApplyIncomingMessage(msg Message) {
	s.mu.Lock()

	active := s.activeChatID == msg.ChatID
	if active && !s.absorbEcho(msg) {
		s.messages = append(s.messages, msg)
	}

	var chatName string
	var known bool
	for i := range s.chats {
		if s.chats[i].ID == msg.ChatID {
			s.chats[i].LastMessage = LastMessage{
				Content:   msg.Content,
				Timestamp: msg.CreatedAt,
				SenderID:  msg.SenderID,
			}
			chatName = s.chats[i].Name
			known = true
			break
		}
	}
	s.mu.Unlock()

	s.publish("message.received", msg)
	if active {
		s.publish("message.scroll", msg.ChatID)
	}
	if known {
		s.publish("chat.updated", msg.ChatID)
	}
	if !active && known {
		s.notify(chatName, msg.Content)
	}
}

// absorbEcho matches msg against the live list: a duplicate id is skipped,
// and a locally queued message without an id adopts the server-assigned
// one when content, sender, and timestamp line up. Reports whether msg was
// absorbed. Caller holds the lock.
func (s *Store) absorbEcho(msg Message) bool {
	for i := range s.messages {
		m := &s.messages[i]
		if msg.ID != 0 && m.ID == msg.ID {
			return true
		}
		if m.ID == 0 && m.Content == msg.Content && m.SenderID == msg.SenderID &&
			absDelta(m.CreatedAt, msg.CreatedAt) <= echoWindow {
			m.ID = msg.ID
			m.Status = msg.Status
			return true
		}
	}
	return false
}

// ApplyMessageDeleted removes the message from the live list and rewrites
// every chat's last-message summary to the deletion sentinel unless it
// already shows it. The rewrite is deliberately chat-wide: the wire event
// carries no chat id, so there is no way to know which summary the deleted
// message backed.
func (s *Store) ApplyMessageDeleted(messageID int) {
	now := time.Now()

	s.mu.Lock()
	kept := s.messages[:0]
	for _, m := range s.messages {
		if m.ID != messageID {
			kept = append(kept, m)
		}
	}
	s.messages = kept

	for i := range s.chats {
		if s.chats[i].LastMessage.Content == DeletedSentinel {
			continue
		}
		s.chats[i].LastMessage = LastMessage{
			Content:   DeletedSentinel,
			Timestamp: now,
		}
	}
	s.mu.Unlock()

	s.publish("message.deleted", messageID)
	s.publish("chat.updated", 0)
}

// ApplyMessageEdited replaces the message content in place. CreatedAt is
// untouched. Applying the same edit twice is a no-op the second time.
func (s *Store) ApplyMessageEdited(messageID int, newContent string) {
	s.mu.Lock()
	var found bool
	for i := range s.messages {
		if s.messages[i].ID == messageID {
			found = s.messages[i].Content != newContent
			s.messages[i].Content = newContent
			break
		}
	}
	s.mu.Unlock()

	if found {
		s.publish("message.edited", messageID)
	}
}

// SetActiveChat switches the active chat. Switching to a different chat
// clears the live message list pending a fresh history fetch; clearing to
// none (0) leaves the last-loaded messages in place.
func (s *Store) SetActiveChat(chatID int) {
	s.mu.Lock()
	if chatID != 0 && chatID != s.activeChatID {
		s.messages = nil
	}
	s.activeChatID = chatID
	s.mu.Unlock()
}

// SetHistory installs a fetched message history. The apply is guarded by
// the active chat id: a response arriving after the user switched away is
// discarded. Reports whether the history was applied.
func (s *Store) SetHistory(chatID int, msgs []Message) bool {
	s.mu.Lock()
	if s.activeChatID != chatID {
		s.mu.Unlock()
		return false
	}
	s.messages = append([]Message(nil), msgs...)
	s.mu.Unlock()

	s.publish("message.history", chatID)
	return true
}

// AppendLocal queues an optimistic outbound message (no server id yet)
// into the live list.
func (s *Store) AppendLocal(msg Message) {
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
	s.publish("message.scroll", msg.ChatID)
}

// MarkRead flags a message in the live list as read.
func (s *Store) MarkRead(messageID int) {
	s.mu.Lock()
	for i := range s.messages {
		if s.messages[i].ID == messageID {
			s.messages[i].IsRead = true
			break
		}
	}
	s.mu.Unlock()
}

// Reset wipes all conversation state. Called on logout.
func (s *Store) Reset() {
	s.mu.Lock()
	s.chats = nil
	s.messages = nil
	s.users = nil
	s.activeChatID = 0
	s.notification = nil
	if s.notifyTimer != nil {
		s.notifyTimer.Stop()
		s.notifyTimer = nil
	}
	s.lastError = ""
	s.mu.Unlock()

	s.publish("store.reset", nil)
}

// notify raises the transient banner and arms its self-clear timer. A new
// notification supersedes a pending one.
func (s *Store) notify(chatName, content string) {
	n := &Notification{ChatName: chatName, Content: content}

	s.mu.Lock()
	s.notification = n
	if s.notifyTimer != nil {
		s.notifyTimer.Stop()
	}
	s.notifyTimer = time.AfterFunc(s.notifyTTL, func() {
		s.mu.Lock()
		cleared := s.notification == n
		if cleared {
			s.notification = nil
		}
		s.mu.Unlock()
		if cleared {
			s.publish("store.notification", (*Notification)(nil))
		}
	})
	s.mu.Unlock()

	s.publish("store.notification", n)
}

// SetUsers replaces the user directory.
func (s *Store) SetUsers(users []User) {
	s.mu.Lock()
	s.users = append([]User(nil), users...)
	s.mu.Unlock()
	s.publish("store.users", len(users))
}

// Users returns a snapshot of the user directory.
func (s *Store) Users() []User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]User(nil), s.users...)
}

// UserByID looks a user up in the directory.
func (s *Store) UserByID(id int) (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ID == id {
			return u, true
		}
	}
	return User{}, false
}

// SetConnected mirrors the session's connected flag for UI reads.
func (s *Store) SetConnected(connected bool) {
	s.mu.Lock()
	s.connected = connected
	s.mu.Unlock()
}

// SetError records the last user-visible error ("" clears it).
func (s *Store) SetError(msg string) {
	s.mu.Lock()
	s.lastError = msg
	s.mu.Unlock()
	if msg != "" {
		s.publish("store.error", msg)
	}
}

// Chats returns a snapshot of the chat collection.
func (s *Store) Chats() []Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Chat(nil), s.chats...)
}

// Chat returns the chat with the given id, if present.
func (s *Store) Chat(chatID int) (Chat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.chats {
		if c.ID == chatID {
			return c, true
		}
	}
	return Chat{}, false
}

// Messages returns a snapshot of the live message list.
func (s *Store) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// ActiveChatID returns the active chat id, 0 if none.
func (s *Store) ActiveChatID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeChatID
}

// Notification returns the current transient banner, nil if none.
func (s *Store) Notification() *Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notification
}

// Connected reports the mirrored session flag.
func (s *Store) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// LastError returns the recorded error, "" if none.
func (s *Store) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

func (s *Store) publish(topic string, payload any) {
	if s.bus != nil {
		s.bus.Publish(topic, payload)
	}
}

func absDelta(a, b time.Time) time.Duration {
	d := a.Sub(b)
	if d < 0 {
		return -d
	}
	return d
}
