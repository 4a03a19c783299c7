// Package matrix carries the play over Matrix.
package matrix

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/butai/internal/butai/drama"
)

// Config holds Matrix client configuration.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// Rooms are joined at start, e.g. the audit room.
	Rooms []string
	// AutoJoin accepts every room invite addressed to the bot.
	AutoJoin bool
	// DB persists the sync token across restarts. When nil an in-memory
	// store is used and room history is replayed on every restart.
	DB *sql.DB
}

// Handler receives every text message not sent by the bot itself.
type Handler func(ctx context.Context, msg drama.Inbound)

// Client is the Matrix transport.
type Client struct {
	client *mautrix.Client
	config Config

	mu      sync.Mutex
	handler Handler
	cancel  context.CancelFunc
	done    chan struct{}
}

var (
	_ drama.Messenger = (*Client)(nil)
	_ drama.Typer     = (*Client)(nil)
)

// New creates a client. It does not contact the homeserver.
func New(cfg Config) (*Client, error) {
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Matrix client: %w", err)
	}
	if cfg.DB != nil {
		client.Store = NewDBSyncStore(cfg.DB)
		slog.Info("matrix: using persistent sync store")
	} else {
		slog.Warn("matrix: no DB configured, room history will replay on restart")
	}
	return &Client{client: client, config: cfg}, nil
}

// Start joins the configured rooms and syncs in the background until ctx
// is cancelled or Stop is called.
func (c *Client) Start(ctx context.Context, handler Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return errors.New("matrix: already started")
	}
	c.handler = handler

	syncer, ok := c.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return errors.New("matrix: unexpected syncer type")
	}
	syncer.OnEventType(event.EventMessage, c.handleMessage)
	if c.config.AutoJoin {
		syncer.OnEventType(event.StateMember, c.handleMember)
	}

	for _, room := range c.config.Rooms {
		if err := c.joinRoom(ctx, id.RoomID(room)); err != nil {
			return fmt.Errorf("failed to join room %s: %w", room, err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.syncLoop(ctx, c.done)
	return nil
}

// syncLoop restarts the sync after transient homeserver errors with
// exponential back-off.
func (c *Client) syncLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	const (
		backoffMin = 2 * time.Second
		backoffMax = 5 * time.Minute
	)
	backoff := backoffMin
	for {
		start := time.Now()
		err := c.client.SyncWithContext(ctx)
		if err == nil || ctx.Err() != nil {
			return
		}
		if time.Since(start) > backoffMax {
			backoff = backoffMin
		}
		slog.Error("matrix: sync stopped, reconnecting", "err", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, backoffMax)
	}
}

// Stop ends the sync loop and waits for it to exit.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	c.client.StopSync()
	<-done
}

// SendText sends a plain text message to room.
func (c *Client) SendText(ctx context.Context, room, text string) error {
	if _, err := c.client.SendText(ctx, id.RoomID(room), text); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// SendNotice sends a notice, which clients render less prominently and
// bots do not answer.
func (c *Client) SendNotice(ctx context.Context, room, message string) error {
	content := event.MessageEventContent{
		MsgType: event.MsgNotice,
		Body:    message,
	}
	if _, err := c.client.SendMessageEvent(ctx, id.RoomID(room), event.EventMessage, &content); err != nil {
		return fmt.Errorf("failed to send notice: %w", err)
	}
	return nil
}

// SetTyping shows or clears the typing indicator in room.
func (c *Client) SetTyping(ctx context.Context, room string, typing bool, timeout time.Duration) error {
	if _, err := c.client.UserTyping(ctx, id.RoomID(room), typing, timeout); err != nil {
		return fmt.Errorf("failed to set typing: %w", err)
	}
	return nil
}

// UserID returns the bot's user ID.
func (c *Client) UserID() string {
	return c.config.UserID
}

func (c *Client) handleMessage(ctx context.Context, evt *event.Event) {
	msg, ok := inbound(evt, id.UserID(c.config.UserID))
	if !ok {
		return
	}
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h(ctx, msg)
	}
}

func (c *Client) handleMember(ctx context.Context, evt *event.Event) {
	if !isInviteFor(evt, id.UserID(c.config.UserID)) {
		return
	}
	slog.Info("matrix: accepting invite", "room", evt.RoomID, "inviter", evt.Sender)
	if err := c.joinRoom(ctx, evt.RoomID); err != nil {
		slog.Warn("matrix: failed to accept invite", "room", evt.RoomID, "err", err)
	}
}

func (c *Client) joinRoom(ctx context.Context, roomID id.RoomID) error {
	_, err := c.client.JoinRoomByID(ctx, roomID)
	if err != nil {
		// M_FORBIDDEN also means the bot is already a member.
		if errors.Is(err, mautrix.MForbidden) {
			slog.Warn("matrix: join forbidden or already a member, continuing", "room", roomID)
			return nil
		}
		return err
	}
	return nil
}

// inbound converts a message event into a drama message. Events from self,
// non-text messages and edits are dropped.
func inbound(evt *event.Event, self id.UserID) (drama.Inbound, bool) {
	if evt.Sender == self {
		return drama.Inbound{}, false
	}
	content := evt.Content.AsMessage()
	if content == nil || content.MsgType != event.MsgText {
		return drama.Inbound{}, false
	}
	if content.RelatesTo != nil && content.RelatesTo.Type == event.RelReplace {
		return drama.Inbound{}, false
	}
	text := strings.TrimSpace(content.Body)
	if text == "" {
		return drama.Inbound{}, false
	}
	return drama.Inbound{
		From: evt.Sender.String(),
		Room: evt.RoomID.String(),
		Text: text,
	}, true
}

func isInviteFor(evt *event.Event, self id.UserID) bool {
	if evt.GetStateKey() != self.String() {
		return false
	}
	member := evt.Content.AsMember()
	return member != nil && member.Membership == event.MembershipInvite
}
