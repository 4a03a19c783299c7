package matrix

import (
	"context"
	"path/filepath"
	"testing"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/butai/internal/butai/store"
)

const self = id.UserID("@hedda:example.com")

func msgEvent(sender id.UserID, content *event.MessageEventContent) *event.Event {
	return &event.Event{
		Sender:  sender,
		RoomID:  "!room:example.com",
		Type:    event.EventMessage,
		Content: event.Content{Parsed: content},
	}
}

func TestInbound(t *testing.T) {
	tests := []struct {
		name   string
		evt    *event.Event
		wantOK bool
		want   string
	}{
		{"text", msgEvent("@alice:example.com", &event.MessageEventContent{MsgType: event.MsgText, Body: " 你好 "}), true, "你好"},
		{"own message", msgEvent(self, &event.MessageEventContent{MsgType: event.MsgText, Body: "hi"}), false, ""},
		{"notice", msgEvent("@alice:example.com", &event.MessageEventContent{MsgType: event.MsgNotice, Body: "hi"}), false, ""},
		{"blank", msgEvent("@alice:example.com", &event.MessageEventContent{MsgType: event.MsgText, Body: "  "}), false, ""},
		{"edit", msgEvent("@alice:example.com", &event.MessageEventContent{
			MsgType: event.MsgText, Body: "* fixed",
			RelatesTo: &event.RelatesTo{Type: event.RelReplace, EventID: "$orig"},
		}), false, ""},
		{"reply keeps fallback", msgEvent("@alice:example.com", &event.MessageEventContent{
			MsgType: event.MsgText, Body: "> <@hedda:example.com> 你是谁\n\n我是路人",
		}), true, "> <@hedda:example.com> 你是谁\n\n我是路人"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := inbound(tt.evt, self)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if got.Text != tt.want || got.From != "@alice:example.com" || got.Room != "!room:example.com" {
				t.Errorf("inbound = %+v", got)
			}
		})
	}
}

func TestIsInviteFor(t *testing.T) {
	member := func(stateKey string, m event.Membership) *event.Event {
		return &event.Event{
			Type:     event.StateMember,
			StateKey: &stateKey,
			Content:  event.Content{Parsed: &event.MemberEventContent{Membership: m}},
		}
	}
	if !isInviteFor(member(self.String(), event.MembershipInvite), self) {
		t.Error("invite for self not recognised")
	}
	if isInviteFor(member("@alice:example.com", event.MembershipInvite), self) {
		t.Error("invite for someone else accepted")
	}
	if isInviteFor(member(self.String(), event.MembershipJoin), self) {
		t.Error("join treated as invite")
	}
}

func TestDBSyncStore(t *testing.T) {
	db, err := store.New(filepath.Join(t.TempDir(), "sync.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	defer db.Close()
	s := NewDBSyncStore(db.DB())
	ctx := context.Background()

	if got, err := s.LoadNextBatch(ctx, self); err != nil || got != "" {
		t.Fatalf("first LoadNextBatch = %q, %v", got, err)
	}
	if err := s.SaveNextBatch(ctx, self, "s1"); err != nil {
		t.Fatalf("SaveNextBatch: %v", err)
	}
	if err := s.SaveNextBatch(ctx, self, "s2"); err != nil {
		t.Fatalf("SaveNextBatch: %v", err)
	}
	if err := s.SaveFilterID(ctx, self, "f1"); err != nil {
		t.Fatalf("SaveFilterID: %v", err)
	}
	if got, _ := s.LoadNextBatch(ctx, self); got != "s2" {
		t.Errorf("next batch = %q, want s2", got)
	}
	if got, _ := s.LoadFilterID(ctx, self); got != "f1" {
		t.Errorf("filter = %q, want f1", got)
	}
	if got, _ := s.LoadNextBatch(ctx, "@other:example.com"); got != "" {
		t.Errorf("other user's batch = %q", got)
	}
}
