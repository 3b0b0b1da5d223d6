package socket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/corpchat/chatsync/internal/bus"
	"github.com/corpchat/chatsync/internal/chaterr"
	"github.com/corpchat/chatsync/internal/protocol"
	"github.com/corpchat/chatsync/internal/status"
	"go.uber.org/zap"
)

// scriptedServer accepts websocket connections, replays frames to each
// client, and records everything the client sends.
type scriptedServer struct {
	srv      *httptest.Server
	accepted atomic.Int32
	frames   []string
	received chan string
}

func newScriptedServer(t *testing.T, frames ...string) *scriptedServer {
	t.Helper()
	s := &scriptedServer{frames: frames, received: make(chan string, 16)}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		s.accepted.Add(1)
		ctx := r.Context()
		for _, f := range s.frames {
			if err := c.Write(ctx, websocket.MessageText, []byte(f)); err != nil {
				return
			}
		}
		for {
			_, data, err := c.Read(ctx)
			if err != nil {
				return
			}
			s.received <- string(data)
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func newTestSession(t *testing.T, baseURL string) (*Session, *bus.Bus) {
	t.Helper()
	b := bus.New()
	s := New(Options{
		BaseURL:           baseURL,
		Token:             "tok",
		HeartbeatInterval: time.Minute,
		ReconnectDelay:    5 * time.Millisecond,
		ReconnectMaxDelay: 20 * time.Millisecond,
	}, status.NewMachine(b), zap.NewNop())
	t.Cleanup(s.Close)
	return s, b
}

func waitConnected(t *testing.T, s *Session) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for !s.IsConnected() {
		select {
		case <-deadline:
			t.Fatal("session never reached the connected state")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestHandshakeRejoinsActiveRoom(t *testing.T) {
	server := newScriptedServer(t, "0", "40")
	s, b := newTestSession(t, server.srv.URL)
	s.ActiveChat = func() int { return 7 }

	events, cancelSub := b.Subscribe("session.connected", 8)
	defer cancelSub()

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	select {
	case ev := <-events:
		if up, _ := ev.Payload.(bool); !up {
			t.Fatalf("first connectivity event = %v, want true", ev.Payload)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("never established")
	}

	select {
	case got := <-server.received:
		want := `42["join_chat",{"chat_id":7,"token":"tok"}]`
		if got != want {
			t.Fatalf("re-join frame = %q, want %q", got, want)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no join frame after establishment")
	}
}

func TestReconnectAttemptsCounted(t *testing.T) {
	server := newScriptedServer(t, "0", "40")
	s, _ := newTestSession(t, server.srv.URL)

	const failures = 3
	var dials atomic.Int32
	realDial := s.dial
	s.dial = func(ctx context.Context, u string) (*websocket.Conn, error) {
		if dials.Add(1) <= failures {
			return nil, errors.New("synthetic dial failure")
		}
		return realDial(ctx, u)
	}

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitConnected(t, s)

	if got := dials.Load(); got != failures+1 {
		t.Fatalf("dial attempts = %d, want %d", got, failures+1)
	}
	if got := server.accepted.Load(); got != 1 {
		t.Fatalf("server saw %d connections, want 1 receive loop", got)
	}
}

func TestEventDispatchSurvivesGarbage(t *testing.T) {
	server := newScriptedServer(t,
		"0",
		"40",
		"42garbage",
		`42["receive_message",{"chat_id":4,"content":"hey"}]`,
	)
	s, _ := newTestSession(t, server.srv.URL)

	frames := make(chan protocol.Frame, 4)
	s.OnEvent = func(f protocol.Frame) { frames <- f }

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitConnected(t, s)

	select {
	case f := <-frames:
		if f.Name != protocol.EventReceiveMessage {
			t.Fatalf("event name = %q, want %q", f.Name, protocol.EventReceiveMessage)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("valid event after garbage frame was never dispatched")
	}
}

func TestSendWithoutSession(t *testing.T) {
	s, _ := newTestSession(t, "http://localhost:0")
	err := s.Send(context.Background(), "42[\"send_message\",{}]")
	if !errors.Is(err, chaterr.ErrNetwork) {
		t.Fatalf("Send with no socket = %v, want ErrNetwork", err)
	}
}

func TestConnectRequiresToken(t *testing.T) {
	b := bus.New()
	s := New(Options{BaseURL: "http://localhost:0"}, status.NewMachine(b), zap.NewNop())
	if err := s.Connect(context.Background()); !errors.Is(err, chaterr.ErrNetwork) {
		t.Fatalf("Connect without token = %v, want ErrNetwork", err)
	}
}

func TestSecondConnectRejected(t *testing.T) {
	server := newScriptedServer(t, "0", "40")
	s, _ := newTestSession(t, server.srv.URL)

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitConnected(t, s)

	if err := s.Connect(context.Background()); err == nil {
		t.Fatal("second Connect succeeded, want error")
	}
}

func TestHeartbeatSendsPing(t *testing.T) {
	server := newScriptedServer(t, "0", "40")
	b := bus.New()
	s := New(Options{
		BaseURL:           server.srv.URL,
		Token:             "tok",
		HeartbeatInterval: 10 * time.Millisecond,
		ReconnectDelay:    5 * time.Millisecond,
	}, status.NewMachine(b), zap.NewNop())
	t.Cleanup(s.Close)

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitConnected(t, s)

	select {
	case got := <-server.received:
		if got != protocol.Heartbeat {
			t.Fatalf("first keepalive frame = %q, want %q", got, protocol.Heartbeat)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no keepalive frame within the interval")
	}
}

func TestHeartbeatKicksPendingBackoff(t *testing.T) {
	b := bus.New()
	s := New(Options{
		BaseURL:           "http://localhost:0",
		Token:             "tok",
		HeartbeatInterval: 5 * time.Millisecond,
		ReconnectDelay:    10 * time.Second,
		ReconnectMaxDelay: 10 * time.Second,
	}, status.NewMachine(b), zap.NewNop())
	t.Cleanup(s.Close)

	var dials atomic.Int32
	s.dial = func(ctx context.Context, u string) (*websocket.Conn, error) {
		dials.Add(1)
		return nil, errors.New("synthetic dial failure")
	}

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// With a 10s backoff only the first dial could happen in this window;
	// every further attempt proves the heartbeat cut the wait short.
	deadline := time.After(3 * time.Second)
	for dials.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("dial attempts = %d, heartbeat never shortened the backoff", dials.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestBackoffDoublesToCap(t *testing.T) {
	s := New(Options{
		BaseURL:           "http://localhost:0",
		Token:             "tok",
		ReconnectDelay:    5 * time.Second,
		ReconnectMaxDelay: 2 * time.Minute,
	}, status.NewMachine(bus.New()), zap.NewNop())

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{5, 80 * time.Second},
		{6, 2 * time.Minute},
		{10, 2 * time.Minute},
	}
	for _, tc := range cases {
		if got := s.backoff(tc.attempt); got != tc.want {
			t.Errorf("backoff(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestURLDerivation(t *testing.T) {
	cases := []struct {
		name, base, token, want string
	}{
		{"plain", "http://host:5005", "abc", "ws://host:5005/ws?token=abc"},
		{"tls", "https://chat.example.com", "abc", "wss://chat.example.com/ws?token=abc"},
		{"escaped", "http://host", "a b+c", "ws://host/ws?token=a+b%2Bc"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := New(Options{BaseURL: tc.base, Token: tc.token},
				status.NewMachine(bus.New()), zap.NewNop())
			if got := s.URL(); got != tc.want {
				t.Fatalf("URL() = %q, want %q", got, tc.want)
			}
		})
	}
}
