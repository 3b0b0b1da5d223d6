// Package socket owns the persistent websocket session to the chat
// backend: dialing, the 0/40 handshake, the receive loop, heartbeats, and
// automatic reconnection with capped exponential backoff.
package socket

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/corpchat/chatsync/internal/chaterr"
	"github.com/corpchat/chatsync/internal/metrics"
	"github.com/corpchat/chatsync/internal/protocol"
	"github.com/corpchat/chatsync/internal/status"
	"go.uber.org/zap"
)

// Options configures a Session.
type Options struct {
	// BaseURL is the backend's http(s) origin; the websocket URL is
	// derived by swapping the scheme.
	BaseURL string
	// WSPath is the websocket endpoint path.
	WSPath string
	// Token is appended to the socket URL as a query credential.
	Token string

	HeartbeatInterval time.Duration
	ReconnectDelay    time.Duration
	ReconnectMaxDelay time.Duration
}

// EventHandler receives decoded application event frames.
type EventHandler func(frame protocol.Frame)

// dialFunc opens one websocket connection. Swappable in tests.
type dialFunc func(ctx context.Context, url string) (*websocket.Conn, error)

// Session is the persistent connection manager. Exactly one exists per
// authenticated user session.
type Session struct {
	opts    Options
	machine *status.Machine
	logger  *zap.Logger
	dial    dialFunc

	// OnEvent is invoked for every decoded application event. Set before
	// Connect.
	OnEvent EventHandler
	// ActiveChat reports the chat to re-join after the session is
	// established, 0 for none. Set before Connect.
	ActiveChat func() int

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc

	// kick short-circuits a pending backoff wait, used by the heartbeat
	// when it finds the socket gone.
	kick chan struct{}
}

// New creates a session manager in the Disconnected state.
func New(opts Options, machine *status.Machine, logger *zap.Logger) *Session {
	if opts.WSPath == "" {
		opts.WSPath = "/ws"
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 25 * time.Second
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	if opts.ReconnectMaxDelay < opts.ReconnectDelay {
		opts.ReconnectMaxDelay = 2 * time.Minute
	}
	return &Session{
		opts:    opts,
		machine: machine,
		logger:  logger,
		dial: func(ctx context.Context, u string) (*websocket.Conn, error) {
			conn, _, err := websocket.Dial(ctx, u, nil)
			return conn, err
		},
		kick: make(chan struct{}, 1),
	}
}

// SetToken installs the query credential. Call before Connect; an
// established session keeps the token it dialed with until it redials.
func (s *Session) SetToken(token string) {
	s.mu.Lock()
	s.opts.Token = token
	s.mu.Unlock()
}

// URL builds the websocket endpoint with the token query credential.
func (s *Session) URL() string {
	host := strings.TrimPrefix(strings.TrimPrefix(s.opts.BaseURL, "https://"), "http://")
	scheme := "ws"
	if strings.HasPrefix(s.opts.BaseURL, "https://") {
		scheme = "wss"
	}
	return scheme + "://" + host + s.opts.WSPath + "?token=" + url.QueryEscape(s.Token())
}

// Connect starts the connection manager. It returns immediately; the
// manager dials, runs the receive loop, and reconnects on failure until
// ctx is cancelled or Close is called.
func (s *Session) Connect(ctx context.Context) error {
	if s.Token() == "" {
		return chaterr.Network("no authorization token", nil)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		cancel()
		return chaterr.Network("session already connected", nil)
	}
	s.cancel = cancel
	s.mu.Unlock()

	go s.manage(ctx)
	go s.heartbeat(ctx)
	return nil
}

// Close tears the session down. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "logout")
	}
	_ = s.machine.Transition(status.Disconnected)
	metrics.Connected.Set(0)
}

// manage is the connect/receive/reconnect loop. The receive loop runs
// inline, so at most one is ever active.
func (s *Session) manage(ctx context.Context) {
	attempt := 0
	for ctx.Err() == nil {
		_ = s.machine.Transition(status.Connecting)
		if attempt > 0 {
			metrics.ReconnectsTotal.Inc()
		}

		conn, err := s.dial(ctx, s.URL())
		if err != nil {
			_ = s.machine.Transition(status.Disconnected)
			metrics.Connected.Set(0)
			attempt++
			s.logger.Warn("websocket dial failed",
				zap.Int("attempt", attempt), zap.Error(err))
			if !s.wait(ctx, s.backoff(attempt)) {
				return
			}
			continue
		}

		attempt = 0
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		_ = s.machine.Transition(status.AwaitingHandshake)
		s.logger.Info("websocket open, awaiting handshake")

		s.receive(ctx, conn)

		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
		_ = s.machine.Transition(status.Disconnected)
		metrics.Connected.Set(0)

		if ctx.Err() != nil {
			return
		}
		attempt++
		if !s.wait(ctx, s.backoff(attempt)) {
			return
		}
	}
}

// receive blocks reading frames until the socket fails. A successful read
// always re-arms the next one; only a read error ends the loop.
func (s *Session) receive(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		s.handleFrame(ctx, string(data))
	}
}

func (s *Session) handleFrame(ctx context.Context, raw string) {
	frame, err := protocol.Decode(raw)
	if err != nil {
		// Protocol noise must not end the session.
		metrics.FramesTotal.WithLabelValues("invalid").Inc()
		s.logger.Warn("dropping undecodable frame", zap.Error(err))
		return
	}
	metrics.FramesTotal.WithLabelValues(frame.Type.String()).Inc()

	switch frame.Type {
	case protocol.FrameHello:
		// Socket is half-open; the establishment frame is still owed.
		s.logger.Debug("handshake hello received")
	case protocol.FrameEstablished:
		_ = s.machine.Transition(status.Connected)
		metrics.Connected.Set(1)
		s.logger.Info("session established")
		s.rejoinActiveRoom(ctx)
	case protocol.FrameEvent:
		if s.OnEvent != nil {
			s.OnEvent(frame)
		}
	case protocol.FrameUnknown:
		s.logger.Debug("dropping unrecognized frame", zap.String("prefix", prefixOf(raw)))
	}
}

// rejoinActiveRoom re-affiliates the active chat's room after every
// establishment, so a reconnect resumes event delivery for the chat the
// user is looking at.
func (s *Session) rejoinActiveRoom(ctx context.Context) {
	if s.ActiveChat == nil {
		return
	}
	chatID := s.ActiveChat()
	if chatID <= 0 {
		return
	}
	if err := s.JoinRoom(ctx, chatID); err != nil {
		s.logger.Warn("room re-join failed", zap.Int("chat_id", chatID), zap.Error(err))
	}
}

// heartbeat sends the literal ping frame at the configured interval. A
// missing socket at ping time means the connection is gone; any pending
// backoff wait is cut short instead of waiting out the timer.
func (s *Session) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(s.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()

		if conn == nil {
			select {
			case s.kick <- struct{}{}:
			default:
			}
			continue
		}

		if err := conn.Write(ctx, websocket.MessageText, []byte(protocol.Heartbeat)); err != nil {
			s.logger.Warn("heartbeat send failed", zap.Error(err))
		}
	}
}

// Send writes one frame. FIFO holds only on a single healthy connection;
// a frame in flight during a drop is lost and is the caller's to retry.
func (s *Session) Send(ctx context.Context, frame string) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return chaterr.Network("no active session", nil)
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
		return chaterr.Network("socket send", err)
	}
	return nil
}

// IsConnected reports whether the session is established.
func (s *Session) IsConnected() bool {
	return s.machine.IsConnected()
}

// JoinRoom announces interest in a chat's events. Fire and forget: room
// membership is not tracked across reconnects here beyond the active-chat
// re-join on establishment.
func (s *Session) JoinRoom(ctx context.Context, chatID int) error {
	return s.Send(ctx, protocol.Encode(protocol.EventJoinChat, protocol.RoomPayload{
		ChatID: chatID,
		Token:  s.Token(),
	}))
}

// LeaveRoom withdraws interest in a chat's events.
func (s *Session) LeaveRoom(ctx context.Context, chatID int) error {
	return s.Send(ctx, protocol.Encode(protocol.EventLeaveChat, protocol.RoomPayload{
		ChatID: chatID,
		Token:  s.Token(),
	}))
}

// Token returns the session's query credential, shared with event payloads.
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.Token
}

// backoff doubles the reconnect delay per consecutive failure up to the
// configured cap.
func (s *Session) backoff(attempt int) time.Duration {
	d := s.opts.ReconnectDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= s.opts.ReconnectMaxDelay {
			return s.opts.ReconnectMaxDelay
		}
	}
	return d
}

// wait sleeps for d, returning early (true) on a heartbeat kick and
// (false) when ctx ends.
func (s *Session) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-s.kick:
		return true
	case <-timer.C:
		return true
	}
}

func prefixOf(raw string) string {
	if len(raw) > 2 {
		return raw[:2]
	}
	return raw
}
