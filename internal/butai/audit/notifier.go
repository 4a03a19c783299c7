// Package audit records director actions. Every action lands in the SQLite
// audit log; when an operator room is configured a short notice is also
// posted there so the cast can follow what the directors are doing.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bdobrica/butai/common/trace"
	"github.com/bdobrica/butai/internal/butai/store"
)

// Kind is a machine-readable event category.
type Kind string

const (
	KindCommand  Kind = "command"
	KindReload   Kind = "reload"
	KindMemory   Kind = "memory"
	KindSave     Kind = "save"
	KindTakeover Kind = "takeover"
	KindReset    Kind = "reset"
	KindConfig   Kind = "config"
	KindError    Kind = "error"
)

// Event is one auditable action.
type Event struct {
	Kind Kind
	// Action is the command that ran, e.g. "reload.scenarios".
	Action string
	// Actor is the director's correspondent ID.
	Actor   string
	Target  string
	Message string
	Payload store.AuditPayload
	// Err marks the action as failed.
	Err error
	// TraceID defaults to the trace in the context.
	TraceID   string
	Timestamp time.Time
}

// Notifier posts events somewhere humans will see them. Implementations
// log delivery failures instead of returning them.
type Notifier interface {
	Notify(ctx context.Context, evt Event)
}

// Sender is the part of a transport the room notifier needs.
type Sender interface {
	SendNotice(ctx context.Context, room, message string) error
}

// RoomNotifier posts notices to one operator room.
type RoomNotifier struct {
	sender Sender
	room   string
}

// NewRoomNotifier posts to room through sender. An empty room disables it.
func NewRoomNotifier(sender Sender, room string) *RoomNotifier {
	return &RoomNotifier{sender: sender, room: room}
}

func (n *RoomNotifier) Notify(ctx context.Context, evt Event) {
	if n.room == "" {
		return
	}
	if err := n.sender.SendNotice(ctx, n.room, Format(ctx, evt)); err != nil {
		slog.Warn("audit notifier: failed to send room notice",
			"room", n.room, "kind", evt.Kind, "err", err)
	}
}

// Format renders evt as a short notice.
func Format(ctx context.Context, evt Event) string {
	var b strings.Builder
	b.WriteString(kindIcon(evt.Kind, evt.Err != nil))
	b.WriteString(" ")
	if evt.Target != "" {
		fmt.Fprintf(&b, "%s → ", evt.Target)
	}
	fmt.Fprintf(&b, "[%s] %s", evt.Action, evt.Message)
	if evt.Err != nil {
		fmt.Fprintf(&b, " (failed: %v)", evt.Err)
	}
	tid := evt.TraceID
	if tid == "" {
		tid = trace.FromContext(ctx)
	}
	if tid != "" {
		fmt.Fprintf(&b, "\n  trace: %s", tid)
	}
	if evt.Actor != "" {
		fmt.Fprintf(&b, "\n  actor: %s", evt.Actor)
	}
	return b.String()
}

// Noop discards events.
type Noop struct{}

func (Noop) Notify(context.Context, Event) {}

func kindIcon(k Kind, failed bool) string {
	if failed {
		return "🚨"
	}
	switch k {
	case KindReload:
		return "🔄"
	case KindMemory:
		return "🧠"
	case KindSave:
		return "💾"
	case KindTakeover:
		return "🎬"
	case KindReset:
		return "🗑️"
	case KindConfig:
		return "⚙️"
	case KindError:
		return "🚨"
	default:
		return "ℹ️"
	}
}
