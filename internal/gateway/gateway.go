// Package gateway routes user actions to the backend: over the live
// websocket session when one is established, falling back to REST for
// plain sends when it is not. Edits and deletions are event-only and fail
// fast without a session.
package gateway

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/corpchat/chatsync/internal/bus"
	"github.com/corpchat/chatsync/internal/chaterr"
	"github.com/corpchat/chatsync/internal/metrics"
	"github.com/corpchat/chatsync/internal/protocol"
	"github.com/corpchat/chatsync/internal/rest"
	"github.com/corpchat/chatsync/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ackTimeout bounds how long a sent message may wait for its server echo
// before it is considered unconfirmed.
const ackTimeout = 10 * time.Second

// sender is the minimal session surface the gateway needs. socket.Session
// satisfies it.
type sender interface {
	IsConnected() bool
	Send(ctx context.Context, frame string) error
	Token() string
}

type pendingSend struct {
	ChatID  int
	Content string
	SentAt  time.Time
}

// Gateway is the single dispatch point for outbound user actions.
type Gateway struct {
	session sender
	rest    *rest.Client
	store   *store.Store
	logger  *zap.Logger

	mu      sync.Mutex
	selfID  int
	pending map[string]pendingSend
}

// New creates a gateway over the given session and REST fallback.
func New(session sender, restc *rest.Client, st *store.Store, logger *zap.Logger) *Gateway {
	return &Gateway{
		session: session,
		rest:    restc,
		store:   st,
		logger:  logger,
		pending: make(map[string]pendingSend),
	}
}

// SetSelf records the authenticated user's ID, used to attribute
// optimistic local messages.
func (g *Gateway) SetSelf(userID int) {
	g.mu.Lock()
	g.selfID = userID
	g.mu.Unlock()
}

// SendMessage delivers a message to a chat. With an established session
// the message goes out as an event and is appended locally right away,
// to be reconciled with the server echo. Without one, or when the socket
// write fails mid-send, the REST endpoint carries it instead.
func (g *Gateway) SendMessage(ctx context.Context, chatID int, content, fileID string) error {
	start := time.Now()
	defer func() {
		metrics.SendLatency.Observe(time.Since(start).Seconds())
	}()

	if g.session.IsConnected() {
		frame := protocol.Encode(protocol.EventSendMessage, protocol.SendMessagePayload{
			ChatID:  chatID,
			Content: content,
			Token:   g.session.Token(),
			FileID:  fileID,
		})
		err := g.session.Send(ctx, frame)
		if err == nil {
			metrics.MessagesTotal.WithLabelValues("sent").Inc()
			g.appendOptimistic(chatID, content, fileID)
			return nil
		}
		g.logger.Warn("socket send failed, falling back to rest",
			zap.Int("chat_id", chatID), zap.Error(err))
	}

	if err := g.rest.SendMessage(ctx, chatID, content, fileID); err != nil {
		return err
	}
	metrics.MessagesTotal.WithLabelValues("sent_rest").Inc()
	g.appendOptimistic(chatID, content, fileID)
	return nil
}

// appendOptimistic places the just-sent message into the live list with a
// zero ID. The server echo adopts it, or the confirmation watch logs it
// as unconfirmed after the ack window.
func (g *Gateway) appendOptimistic(chatID int, content, fileID string) {
	g.mu.Lock()
	selfID := g.selfID
	correlation := uuid.NewString()
	body := content
	if body == "" {
		body = protocol.ContentFileSentinel
	}
	g.pending[correlation] = pendingSend{ChatID: chatID, Content: body, SentAt: time.Now()}
	g.mu.Unlock()

	g.store.AppendLocal(store.Message{
		ChatID:    chatID,
		Content:   body,
		CreatedAt: time.Now(),
		SenderID:  selfID,
		FileID:    fileID,
		Status:    "sending",
	})
}

// EditMessage rewrites a message's content. Event-only: with no live
// session the edit fails immediately rather than degrading to REST.
func (g *Gateway) EditMessage(ctx context.Context, messageID int, newContent string) error {
	if !g.session.IsConnected() {
		return chaterr.Network("no active session for edit", nil)
	}
	frame := protocol.Encode(protocol.EventEditMessage, protocol.EditMessagePayload{
		MessageID:  messageID,
		NewContent: newContent,
		Token:      g.session.Token(),
	})
	if err := g.session.Send(ctx, frame); err != nil {
		return err
	}
	g.store.ApplyMessageEdited(messageID, newContent)
	return nil
}

// DeleteMessage removes a message. Event-only, like EditMessage.
func (g *Gateway) DeleteMessage(ctx context.Context, messageID int) error {
	if !g.session.IsConnected() {
		return chaterr.Network("no active session for delete", nil)
	}
	frame := protocol.Encode(protocol.EventDeleteMessage, protocol.DeleteMessagePayload{
		MessageID: messageID,
		Token:     g.session.Token(),
	})
	if err := g.session.Send(ctx, frame); err != nil {
		return err
	}
	g.store.ApplyMessageDeleted(messageID)
	return nil
}

// ForwardMessages re-sends messages into another chat with an attribution
// prefix naming the original sender.
func (g *Gateway) ForwardMessages(ctx context.Context, targetChatID int, msgs []store.Message) error {
	for _, msg := range msgs {
		sender := "unknown"
		if u, ok := g.store.UserByID(msg.SenderID); ok {
			sender = u.FullName()
		}
		content := "#Forwarded from " + sender + " - " + msg.Content
		if err := g.SendMessage(ctx, targetChatID, content, msg.FileID); err != nil {
			return err
		}
	}
	return nil
}

// SendFile uploads the file then sends a message referencing it. The
// message body is the file sentinel; the attachment rides on the file ID.
func (g *Gateway) SendFile(ctx context.Context, chatID int, fileName string, content io.Reader) error {
	fileID, err := g.rest.UploadFile(ctx, fileName, content, chatID)
	if err != nil {
		return err
	}
	return g.SendMessage(ctx, chatID, "", fileID)
}

// Watch resolves optimistic sends against server echoes and expires the
// ones that never come back. Runs until ctx ends.
func (g *Gateway) Watch(ctx context.Context, b *bus.Bus) {
	events, cancelSub := b.Subscribe("message.received", 32)
	defer cancelSub()

	ticker := time.NewTicker(ackTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if msg, ok := ev.Payload.(store.Message); ok {
				g.resolve(msg)
			}
		case <-ticker.C:
			g.expire()
		}
	}
}

func (g *Gateway) resolve(msg store.Message) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, p := range g.pending {
		if p.ChatID == msg.ChatID && p.Content == msg.Content {
			delete(g.pending, id)
			return
		}
	}
}

func (g *Gateway) expire() {
	g.mu.Lock()
	defer g.mu.Unlock()
	cutoff := time.Now().Add(-ackTimeout)
	for id, p := range g.pending {
		if p.SentAt.Before(cutoff) {
			delete(g.pending, id)
			g.logger.Warn("message delivery unconfirmed",
				zap.Int("chat_id", p.ChatID), zap.Time("sent_at", p.SentAt))
		}
	}
}

// PendingCount reports the number of unresolved optimistic sends.
func (g *Gateway) PendingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}
