package store

import "time"

// Chat kinds.
const (
	KindPrivate = "private"
	KindGroup   = "group"
)

// DeletedSentinel replaces a chat's last-message preview once any message
// deletion is observed.
const DeletedSentinel = "Message was deleted"

// LastMessage is the summary shown in the chat list. SenderID 0 means the
// sender is unknown or deleted.
type LastMessage struct {
	Content   string
	Timestamp time.Time
	SenderID  int
}

// Chat is one conversation. ID is server-assigned and immutable.
type Chat struct {
	ID          int
	Name        string
	Kind        string
	LastMessage LastMessage
	IsDeleted   bool
	AvatarURL   string
	MemberIDs   []int
}

// Message is one chat message. ID 0 means the server has not assigned one
// yet (a locally queued outbound message awaiting its echo). SenderID 0
// means no sender.
type Message struct {
	ID        int
	ChatID    int
	Content   string
	CreatedAt time.Time
	SenderID  int
	FileID    string
	FileURL   string
	Status    string
	IsDeleted bool
	IsRead    bool
}

// Notification is a transient new-message banner for a non-active chat.
type Notification struct {
	ChatName string
	Content  string
}

// User is a directory entry, fetched over REST and kept alongside the
// conversation state for sender-name resolution.
type User struct {
	ID        int    `json:"id"`
	Login     string `json:"user_login"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	AvatarID  string `json:"avatar_id"`
}

// FullName renders "Last First", the display convention of the backend.
func (u User) FullName() string {
	return u.LastName + " " + u.FirstName
}
