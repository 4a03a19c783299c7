package drama

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bdobrica/butai/internal/butai/memory"
)

// UnknownCommandReply answers director text that is not a command while no
// takeover is active.
const UnknownCommandReply = "send help to me to check what you can do"

// takeover is the manual-control state. While holder is set no script runs:
// correspondents' lines go to the holder and the holder's lines go to the
// correspondent who spoke last.
type takeover struct {
	holder     string
	holderRoom string
	talker     string
}

// TakeOver hands the conversation wheel to director, who is reached in room.
func (e *Engine) TakeOver(director, room string) {
	e.takeMu.Lock()
	defer e.takeMu.Unlock()
	e.takeover.holder = director
	e.takeover.holderRoom = room
	slog.Info("drama: takeover started", "director", director)
}

// StopTakeOver gives the wheel back to the scripts. It reports whether a
// takeover was active.
func (e *Engine) StopTakeOver() bool {
	e.takeMu.Lock()
	defer e.takeMu.Unlock()
	was := e.takeover.holder != ""
	if was {
		slog.Info("drama: takeover stopped", "director", e.takeover.holder)
	}
	e.takeover.holder = ""
	e.takeover.holderRoom = ""
	return was
}

// TakeoverHolder returns the director in control, or "".
func (e *Engine) TakeoverHolder() string {
	e.takeMu.Lock()
	defer e.takeMu.Unlock()
	return e.takeover.holder
}

// direct handles a message from a director: a command, a line for the
// current talker during takeover, or a hint.
func (e *Engine) direct(ctx context.Context, log *slog.Logger, msg Inbound) {
	if slot := e.commands.Load(); slot != nil {
		if reply, handled := slot.h.HandleCommand(ctx, msg); handled {
			if reply != "" {
				e.send(ctx, msg.Room, reply)
			}
			return
		}
	}

	e.takeMu.Lock()
	t := e.takeover
	e.takeMu.Unlock()

	if t.holder != msg.From {
		e.send(ctx, msg.Room, UnknownCommandReply)
		return
	}
	if t.talker == "" {
		e.send(ctx, msg.Room, "nobody has spoken since the takeover began")
		return
	}
	sess, ok := e.sessions.Get(t.talker)
	if !ok {
		e.send(ctx, msg.Room, fmt.Sprintf("%s is no longer in the play", t.talker))
		return
	}
	if !e.send(ctx, sess.Room, msg.Text) {
		e.send(ctx, msg.Room, fmt.Sprintf("could not deliver to %s", t.talker))
		return
	}
	e.relay(log, sess, msg.Text)
	log.Info("drama: director line delivered", "to", t.talker)
	e.send(ctx, msg.Room, fmt.Sprintf("msg has been forward to %s", t.talker))
}

// forwardToDirector remembers sess as the current talker and, during a
// takeover, relays the line to the holder. It reports whether the turn was
// taken over.
func (e *Engine) forwardToDirector(ctx context.Context, sess Session, text string, turn memory.LastTurn) bool {
	e.takeMu.Lock()
	e.takeover.talker = sess.Correspondent
	t := e.takeover
	e.takeMu.Unlock()

	if t.holder == "" {
		return false
	}
	e.send(ctx, t.holderRoom, fmt.Sprintf("%s (%s) in %s just said: %s. reply directly here",
		sess.Character, sess.Correspondent, sess.Scenario, text))
	e.send(ctx, t.holderRoom, "whole turn dialogue: "+e.cfg.Phrasing.Dialogue(turn.Utterances))
	return true
}

// relay queues the director's line on the talker's own worker, which is the
// only writer of the talker's dialogue buffer.
func (e *Engine) relay(log *slog.Logger, talker Session, line string) {
	msg := Inbound{From: talker.Correspondent, Room: talker.Room, Text: line, relayed: true}
	e.runMu.Lock()
	d := e.dispatcher
	e.runMu.Unlock()
	if d == nil {
		// Not started: the caller drives Process one message at a time.
		e.seedRelayed(msg)
		return
	}
	if !d.Submit(msg.From, msg) {
		log.Warn("drama: director line not recorded in dialogue", "to", talker.Correspondent)
	}
}

// seedRelayed makes a relayed director line the talker's whole dialogue
// buffer, as if the persona had said it.
func (e *Engine) seedRelayed(msg Inbound) {
	sess, ok := e.sessions.Get(msg.From)
	if !ok {
		return
	}
	e.resetTurn(sess.Correspondent, sess.Scenario, sess.Character, msg.Text)
}
