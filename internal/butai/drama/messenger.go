package drama

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Inbound is one text message from a correspondent.
type Inbound struct {
	// From is the correspondent ID, e.g. a Matrix user ID.
	From string
	// Room is where replies to this message go.
	Room string
	Text string

	// relayed marks a director's takeover line already delivered to From.
	// It only seeds From's dialogue buffer.
	relayed bool
}

// Messenger delivers text to a room.
type Messenger interface {
	SendText(ctx context.Context, room, text string) error
}

// Typer is implemented by transports that can show a typing indicator.
type Typer interface {
	SetTyping(ctx context.Context, room string, typing bool, timeout time.Duration) error
}

// Transports routes outbound messages by room prefix. Rooms matching no
// registered prefix go to the fallback messenger.
type Transports struct {
	mu       sync.RWMutex
	routes   []route
	fallback Messenger
}

type route struct {
	prefix string
	m      Messenger
}

var (
	_ Messenger = (*Transports)(nil)
	_ Typer     = (*Transports)(nil)
)

// NewTransports returns a router sending unmatched rooms to fallback, which
// may be nil.
func NewTransports(fallback Messenger) *Transports {
	return &Transports{fallback: fallback}
}

// Route sends rooms starting with prefix to m.
func (t *Transports) Route(prefix string, m Messenger) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes = append(t.routes, route{prefix: prefix, m: m})
}

func (t *Transports) pick(room string) Messenger {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, r := range t.routes {
		if strings.HasPrefix(room, r.prefix) {
			return r.m
		}
	}
	return t.fallback
}

// SendText delivers text through the transport owning room.
func (t *Transports) SendText(ctx context.Context, room, text string) error {
	m := t.pick(room)
	if m == nil {
		return fmt.Errorf("no transport for room %q", room)
	}
	return m.SendText(ctx, room, text)
}

// SetTyping forwards to the owning transport when it supports typing
// notifications, and is a no-op otherwise.
func (t *Transports) SetTyping(ctx context.Context, room string, typing bool, timeout time.Duration) error {
	if ty, ok := t.pick(room).(Typer); ok {
		return ty.SetTyping(ctx, room, typing, timeout)
	}
	return nil
}
