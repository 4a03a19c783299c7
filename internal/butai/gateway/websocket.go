// Package gateway is a local WebSocket transport for the play, used for
// testing scenarios without a Matrix homeserver.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bdobrica/butai/internal/butai/drama"
)

// RoomPrefix marks rooms owned by the gateway.
const RoomPrefix = "ws:"

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendQueue  = 64
	maxMessage = 8 << 10
)

// ErrNotConnected is returned when sending to a user with no open socket.
var ErrNotConnected = errors.New("gateway: user not connected")

// Frame is the JSON message exchanged over the socket. Clients send
// {"text": "..."}; the server sends frames of type "message" or "typing".
type Frame struct {
	Type      string    `json:"type,omitempty"`
	Text      string    `json:"text,omitempty"`
	Typing    bool      `json:"typing,omitempty"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// Handler receives every inbound text.
type Handler func(ctx context.Context, msg drama.Inbound)

// Server accepts one socket per user at /ws?user=<id>. A newer connection
// for the same user replaces the older one.
type Server struct {
	handler  Handler
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client
}

var (
	_ drama.Messenger = (*Server)(nil)
	_ drama.Typer     = (*Server)(nil)
)

// New returns a gateway delivering inbound text to h.
func New(h Handler) *Server {
	return &Server{
		handler: h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Local development transport.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: map[string]*client{},
	}
}

// Room returns the room address of user.
func Room(user string) string { return RoomPrefix + user }

// ServeHTTP upgrades the request and serves the socket until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user := strings.TrimSpace(r.URL.Query().Get("user"))
	if user == "" {
		http.Error(w, "missing user parameter", http.StatusBadRequest)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("gateway: upgrade failed", "user", user, "err", err)
		return
	}

	c := &client{user: user, conn: conn, send: make(chan Frame, sendQueue)}
	s.register(c)
	slog.Info("gateway: connected", "user", user)

	go c.writePump()
	s.readPump(r.Context(), c)
}

// Connected reports the number of open sockets.
func (s *Server) Connected() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// SendText delivers text to the user owning room.
func (s *Server) SendText(ctx context.Context, room, text string) error {
	return s.deliver(room, Frame{Type: "message", Text: text, Timestamp: time.Now().UTC()})
}

// SetTyping tells the user's client to show or hide a typing indicator.
func (s *Server) SetTyping(ctx context.Context, room string, typing bool, _ time.Duration) error {
	return s.deliver(room, Frame{Type: "typing", Typing: typing})
}

// Close disconnects every client.
func (s *Server) Close() {
	s.mu.Lock()
	clients := s.clients
	s.clients = map[string]*client{}
	s.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}

func (s *Server) deliver(room string, f Frame) error {
	user, ok := strings.CutPrefix(room, RoomPrefix)
	if !ok {
		return fmt.Errorf("gateway: room %q is not a gateway room", room)
	}
	s.mu.RLock()
	c := s.clients[user]
	s.mu.RUnlock()
	if c == nil {
		return fmt.Errorf("%w: %s", ErrNotConnected, user)
	}
	return c.enqueue(f)
}

func (s *Server) register(c *client) {
	s.mu.Lock()
	old := s.clients[c.user]
	s.clients[c.user] = c
	s.mu.Unlock()
	if old != nil {
		old.close()
	}
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	if s.clients[c.user] == c {
		delete(s.clients, c.user)
	}
	s.mu.Unlock()
	c.close()
}

func (s *Server) readPump(ctx context.Context, c *client) {
	defer s.unregister(c)
	c.conn.SetReadLimit(maxMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var f Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("gateway: read failed", "user", c.user, "err", err)
			}
			return
		}
		text := strings.TrimSpace(f.Text)
		if text == "" {
			continue
		}
		s.handler(ctx, drama.Inbound{From: c.user, Room: Room(c.user), Text: text})
	}
}

type client struct {
	user   string
	conn   *websocket.Conn
	send   chan Frame
	closed atomic.Bool
	mu     sync.Mutex
}

func (c *client) enqueue(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return fmt.Errorf("%w: %s", ErrNotConnected, c.user)
	}
	select {
	case c.send <- f:
		return nil
	default:
		return fmt.Errorf("gateway: send queue full for %s", c.user)
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.CompareAndSwap(false, true) {
		close(c.send)
	}
}

// writePump owns all writes to the connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case f, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			b, err := json.Marshal(f)
			if err != nil {
				slog.Error("gateway: marshal frame", "err", err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
