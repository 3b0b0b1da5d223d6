// Package coordinator sequences the moving parts of a chat session:
// authentication, the initial REST sync, the websocket lifecycle, chat
// selection with history fetches, and teardown. It is the surface the
// daemon and any frontend drive.
package coordinator

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/corpchat/chatsync/internal/bus"
	"github.com/corpchat/chatsync/internal/chaterr"
	"github.com/corpchat/chatsync/internal/gateway"
	"github.com/corpchat/chatsync/internal/metrics"
	"github.com/corpchat/chatsync/internal/protocol"
	"github.com/corpchat/chatsync/internal/rest"
	"github.com/corpchat/chatsync/internal/socket"
	"github.com/corpchat/chatsync/internal/store"
	"go.uber.org/zap"
)

// Coordinator drives one user session end to end.
type Coordinator struct {
	rest    *rest.Client
	session *socket.Session
	gateway *gateway.Gateway
	store   *store.Store
	bus     *bus.Bus
	logger  *zap.Logger

	mu     sync.Mutex
	selfID int
	cancel context.CancelFunc
}

// New wires a coordinator over its collaborators and installs the event
// dispatch and active-room callbacks on the session.
func New(restc *rest.Client, sess *socket.Session, gw *gateway.Gateway,
	st *store.Store, b *bus.Bus, logger *zap.Logger) *Coordinator {

	c := &Coordinator{
		rest:    restc,
		session: sess,
		gateway: gw,
		store:   st,
		bus:     b,
		logger:  logger,
	}
	sess.OnEvent = c.handleEvent
	sess.ActiveChat = st.ActiveChatID
	return c
}

// Login authenticates and installs the returned token on both transports.
func (c *Coordinator) Login(ctx context.Context, userLogin, password string) error {
	token, user, err := c.rest.Login(ctx, userLogin, password)
	if err != nil {
		return err
	}
	c.session.SetToken(token)
	if user != nil {
		c.mu.Lock()
		c.selfID = user.ID
		c.mu.Unlock()
		c.gateway.SetSelf(user.ID)
	}
	c.logger.Info("authenticated", zap.String("login", userLogin))
	return nil
}

// Start brings the session up: seeds the chat list and user directory over
// REST, then opens the websocket. A non-empty token overrides whatever
// Login installed; with neither, Start refuses to proceed.
func (c *Coordinator) Start(ctx context.Context, token string) error {
	if token != "" {
		c.rest.SetToken(token)
		c.session.SetToken(token)
	}
	if c.rest.Token() == "" {
		return chaterr.Network("no authorization token", nil)
	}

	chats, err := c.rest.FetchChats(ctx)
	if err != nil {
		c.store.SetError(err.Error())
		return err
	}
	c.store.ApplyChatList(chats)

	if users, err := c.rest.ListUsers(ctx); err != nil {
		c.logger.Warn("user directory fetch failed", zap.Error(err))
	} else {
		c.store.SetUsers(users)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	go c.watchConnectivity(runCtx)
	go c.gateway.Watch(runCtx, c.bus)

	if err := c.session.Connect(runCtx); err != nil {
		cancel()
		return err
	}
	return nil
}

// Stop tears the session down and wipes all conversation state.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.session.Close()
	c.store.SetConnected(false)
	c.store.Reset()
	c.logger.Info("session stopped")
}

// SelectChat makes a chat active: joins its room, fetches its history, and
// marks unread messages from others as read. A history response that lands
// after the user has moved on is discarded by the store's guard.
func (c *Coordinator) SelectChat(ctx context.Context, chatID int) error {
	c.store.SetActiveChat(chatID)

	if c.session.IsConnected() {
		if err := c.session.JoinRoom(ctx, chatID); err != nil {
			c.logger.Warn("room join failed", zap.Int("chat_id", chatID), zap.Error(err))
		}
	}

	history, err := c.rest.FetchHistory(ctx, chatID)
	if err != nil {
		c.store.SetError(err.Error())
		return err
	}
	if c.store.SetHistory(chatID, history) {
		c.markUnread(ctx, history)
	}
	return nil
}

// LeaveChat withdraws from the active chat's room and clears the selection.
func (c *Coordinator) LeaveChat(ctx context.Context) {
	chatID := c.store.ActiveChatID()
	if chatID > 0 && c.session.IsConnected() {
		if err := c.session.LeaveRoom(ctx, chatID); err != nil {
			c.logger.Warn("room leave failed", zap.Int("chat_id", chatID), zap.Error(err))
		}
	}
	c.store.SetActiveChat(0)
}

// OpenPrivateChat finds or creates the one-on-one chat with a user and
// makes it active. Returns the chat id.
func (c *Coordinator) OpenPrivateChat(ctx context.Context, userID int) (int, error) {
	chatID, found, err := c.rest.GetPrivateChatInfo(ctx, userID)
	if err != nil {
		return 0, err
	}
	if !found {
		chatID, err = c.rest.CreatePrivateChat(ctx, userID)
		if err != nil {
			return 0, err
		}
		if err := c.RefreshChats(ctx); err != nil {
			c.logger.Warn("chat list refresh after create failed", zap.Error(err))
		}
	}
	if err := c.SelectChat(ctx, chatID); err != nil {
		return chatID, err
	}
	return chatID, nil
}

// RefreshChats re-pulls the chat list over REST.
func (c *Coordinator) RefreshChats(ctx context.Context) error {
	chats, err := c.rest.FetchChats(ctx)
	if err != nil {
		c.store.SetError(err.Error())
		return err
	}
	c.store.ApplyChatList(chats)
	return nil
}

// Action passthroughs.

func (c *Coordinator) SendMessage(ctx context.Context, chatID int, content string) error {
	return c.gateway.SendMessage(ctx, chatID, content, "")
}

func (c *Coordinator) EditMessage(ctx context.Context, messageID int, newContent string) error {
	return c.gateway.EditMessage(ctx, messageID, newContent)
}

func (c *Coordinator) DeleteMessage(ctx context.Context, messageID int) error {
	return c.gateway.DeleteMessage(ctx, messageID)
}

func (c *Coordinator) ForwardMessages(ctx context.Context, targetChatID int, msgs []store.Message) error {
	return c.gateway.ForwardMessages(ctx, targetChatID, msgs)
}

func (c *Coordinator) SendFile(ctx context.Context, chatID int, fileName string, r io.Reader) error {
	return c.gateway.SendFile(ctx, chatID, fileName, r)
}

// markUnread acknowledges everyone else's unread messages, best effort.
func (c *Coordinator) markUnread(ctx context.Context, history []store.Message) {
	c.mu.Lock()
	selfID := c.selfID
	c.mu.Unlock()

	for _, msg := range history {
		if msg.IsRead || msg.ID == 0 || msg.SenderID == selfID {
			continue
		}
		c.rest.MarkRead(ctx, msg.ID)
		c.store.MarkRead(msg.ID)
	}
}

// watchConnectivity mirrors session establishment into the store.
func (c *Coordinator) watchConnectivity(ctx context.Context) {
	events, cancelSub := c.bus.Subscribe("session.connected", 8)
	defer cancelSub()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if up, ok := ev.Payload.(bool); ok {
				c.store.SetConnected(up)
			}
		}
	}
}

// handleEvent dispatches one application event frame into the store.
// Undecodable payloads are logged and dropped; they never end the session.
func (c *Coordinator) handleEvent(frame protocol.Frame) {
	switch frame.Name {
	case protocol.EventReceiveMessage:
		incoming, schema, err := protocol.DecodeIncomingMessage(frame.Data, time.Now())
		if err != nil {
			c.logger.Warn("dropping undecodable message event", zap.Error(err))
			return
		}
		if schema != protocol.SchemaStrict {
			c.logger.Debug("message decoded via fallback schema",
				zap.String("schema", string(schema)))
		}
		metrics.MessagesTotal.WithLabelValues("received").Inc()
		c.store.ApplyIncomingMessage(rest.MessageFromWire(incoming))

	case protocol.EventMessageDeleted:
		var payload protocol.MessageDeleted
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			c.logger.Warn("dropping undecodable deletion event", zap.Error(err))
			return
		}
		c.store.ApplyMessageDeleted(payload.MessageID)

	case protocol.EventMessageEdited:
		var payload protocol.MessageEdited
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			c.logger.Warn("dropping undecodable edit event", zap.Error(err))
			return
		}
		c.store.ApplyMessageEdited(payload.MessageID, payload.NewContent)

	default:
		c.logger.Debug("dropping unhandled event", zap.String("name", frame.Name))
	}
}
