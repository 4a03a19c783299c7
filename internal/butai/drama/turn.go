package drama

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/bdobrica/butai/common/trace"
	"github.com/bdobrica/butai/internal/butai/memory"
	"github.com/bdobrica/butai/internal/butai/nlp"
	"github.com/bdobrica/butai/internal/butai/observability"
	"github.com/bdobrica/butai/internal/butai/prompt"
	"github.com/bdobrica/butai/internal/butai/scenario"
)

// Process handles one message to completion. The dispatcher calls it from
// the sender's worker; tests may call it directly.
func (e *Engine) Process(ctx context.Context, msg Inbound) {
	ctx = trace.Ensure(ctx)
	log := observability.WithTrace(ctx).With("from", msg.From)

	if msg.relayed {
		e.seedRelayed(msg)
		return
	}

	text := Preprocess(msg.Text, e.cfg.Phrasing.Joiner)
	if text == "" {
		return
	}

	if e.IsDirector(msg.From) {
		e.direct(ctx, log, Inbound{From: msg.From, Room: msg.Room, Text: text})
		return
	}

	sess, created := e.sessions.GetOrCreate(msg.From, msg.Room, e.cfg.Initial)
	if created {
		log.Info("drama: new correspondent", "session", sess.ID)
		e.greet(ctx, sess)
		return
	}
	if msg.Room != "" && sess.Room != msg.Room {
		sess, _ = e.sessions.Update(msg.From, func(s *Session) { s.Room = msg.Room })
	}

	if target, ok := e.cfg.Restart[sess.Scenario]; ok {
		log.Info("drama: restarting play", "from_scenario", sess.Scenario, "to_scenario", target)
		sess, _ = e.sessions.Update(msg.From, func(s *Session) { s.Scenario = target })
	}
	if slices.Contains(e.cfg.Terminal, sess.Scenario) {
		log.Debug("drama: play is over for correspondent", "scenario", sess.Scenario)
		return
	}

	if !e.limiter.Allow(msg.From) {
		log.Warn("drama: turn rate limit exceeded, dropping message")
		return
	}

	before := e.turns.Get(sess.Correspondent, sess.Scenario, sess.Character)
	turn := before
	turn.Record(sess.Character, text, e.cfg.Phrasing.Joiner)
	e.turns.Set(sess.Correspondent, sess.Scenario, sess.Character, turn)

	if e.forwardToDirector(ctx, sess, text, turn) {
		return
	}

	e.runTurn(ctx, log, sess, text, e.cfg.Phrasing.Dialogue(before.Utterances), turn)
}

// greet welcomes a new correspondent into the initial scenario.
func (e *Engine) greet(ctx context.Context, sess Session) {
	if e.cfg.Disclaimer != "" {
		e.send(ctx, sess.Room, e.cfg.Disclaimer)
	}
	scene, ok := e.table.Current().Scene(sess.Scenario)
	if !ok {
		return
	}
	role, _ := scene.Role(sess.Character)
	if role.Welcome == "" {
		return
	}
	if e.send(ctx, sess.Room, role.Welcome) {
		e.resetTurn(sess.Correspondent, sess.Scenario, sess.Character, role.Welcome)
	}
}

// resetTurn makes line, spoken by the persona, the whole of the buffer.
func (e *Engine) resetTurn(who, scenarioID, character, line string) {
	e.turns.Set(who, scenarioID, character, memory.LastTurn{
		Utterances: []memory.Utterance{{Speaker: e.cfg.Phrasing.Self, Text: line}},
	})
}

// turnState is what the interpreter needs for one turn.
type turnState struct {
	sess       Session
	role       *scenario.Role
	understood nlp.Understanding
	dialogue   string
	persona    *Persona
}

func (e *Engine) runTurn(ctx context.Context, log *slog.Logger, sess Session, text, prior string, turn memory.LastTurn) {
	scene, ok := e.table.Current().Scene(sess.Scenario)
	if !ok {
		log.Error("drama: session refers to an unknown scenario, skipping turn", "scenario", sess.Scenario)
		return
	}
	role, cast := scene.Role(sess.Character)
	if !cast {
		log.Warn("drama: character not cast in scenario, using first role",
			"scenario", sess.Scenario, "character", sess.Character, "role", role.Character)
	}

	u, err := e.deps.Understander.Understand(ctx, text, prior)
	if err != nil {
		log.Warn("drama: understanding failed, dropping turn", "scenario", sess.Scenario, "err", err)
		return
	}
	script, key := SelectScript(role, u)
	log.Info("drama: turn",
		"scenario", sess.Scenario,
		"character", sess.Character,
		"intent", u.Intent,
		"tags", u.Tags.Sorted(),
		"trigger", key,
		"actions", len(script),
	)

	st := turnState{
		sess:       sess,
		role:       role,
		understood: u,
		dialogue:   e.cfg.Phrasing.Dialogue(turn.Utterances),
		persona:    e.persona.Load(),
	}
	replies, failed, transitioned := e.interpret(ctx, log, st, script)
	if transitioned {
		return
	}
	if len(replies) == 0 {
		if failed && e.cfg.Fallback != "" {
			e.send(ctx, sess.Room, e.cfg.Fallback)
		}
		return
	}

	p := e.cfg.Phrasing
	joined := strings.Join(replies, p.ReplyJoiner)
	entry := p.Dialogue(turn.Since(p.Self)) + p.Line(p.Self, joined)
	e.pools.Append(sess.Correspondent, sess.Scenario, memory.NewEntry(entry, u.Tags, u.Topics))
	e.resetTurn(sess.Correspondent, sess.Scenario, sess.Character, joined)
}

// SelectScript picks the script for u: the intent, then each extracted
// entity and its category in schema order, then DEFAULT. It returns the
// matched key.
func SelectScript(role *scenario.Role, u nlp.Understanding) (scenario.Script, string) {
	for _, key := range u.TriggerKeys() {
		if s, ok := role.Script(key); ok {
			return s, key
		}
	}
	return role.Default(), scenario.KeyDefault
}

// interpret runs script in order. It returns the lines sent, whether any
// generation token failed, and whether a transition ended the script.
func (e *Engine) interpret(ctx context.Context, log *slog.Logger, st turnState, script scenario.Script) (replies []string, failed, transitioned bool) {
	room := st.sess.Room
	for i, a := range script {
		if ctx.Err() != nil {
			log.Info("drama: turn cancelled", "at_action", i)
			return replies, failed, false
		}
		switch a.Kind {
		case scenario.KindLiteral:
			if e.send(ctx, room, a.Text) {
				replies = append(replies, a.Text)
			}
		case scenario.KindTransition:
			e.transition(ctx, log, st.sess, a.Target)
			return replies, failed, true
		case scenario.KindPause:
			e.pause(ctx, room, a.Duration)
		case scenario.KindSuppress:
			log.Debug("drama: suppressed reply")
		case scenario.KindGenerate:
			reply, err := e.generate(ctx, st, a.Text)
			if err != nil {
				log.Warn("drama: generation dropped", "fragment", a.Text, "err", err)
				failed = true
				continue
			}
			if e.send(ctx, room, reply) {
				replies = append(replies, reply)
			}
		default:
			log.Warn("drama: skipping malformed action", "action", a.String(), "reason", a.Reason)
		}
	}
	return replies, failed, false
}

// transition moves the session to target and welcomes it there.
func (e *Engine) transition(ctx context.Context, log *slog.Logger, sess Session, target string) {
	scene, ok := e.table.Current().Scene(target)
	if !ok {
		log.Error("drama: transition to unknown scenario ignored", "target", target)
		return
	}
	e.sessions.Update(sess.Correspondent, func(s *Session) { s.Scenario = target })
	log.Info("drama: scenario transition", "from_scenario", sess.Scenario, "to_scenario", target)

	role, _ := scene.Role(sess.Character)
	if role.Welcome == "" {
		return
	}
	if e.send(ctx, sess.Room, role.Welcome) {
		e.resetTurn(sess.Correspondent, target, sess.Character, role.Welcome)
	}
}

// pause waits for d with the typing indicator on. Cancelling ctx ends it
// early.
func (e *Engine) pause(ctx context.Context, room string, d time.Duration) {
	e.typing(ctx, room, true)
	defer e.typing(context.WithoutCancel(ctx), room, false)

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (e *Engine) generate(ctx context.Context, st turnState, fragment string) (string, error) {
	q := st.understood.Query()
	p := e.cfg.Phrasing
	parts := prompt.Parts{
		PersonaRelation:   st.persona.Relations[p.Self],
		CharacterRelation: st.persona.Relations[st.sess.Character],
		Description:       st.role.Description,
		SelfMemory:        memory.Retrieve(q, st.persona.Facts, false).Text(),
		Memory:            memory.Retrieve(q, e.pools.Pool(st.sess.Correspondent, st.sess.Scenario), true).Text(),
		Dialogue:          st.dialogue,
		Fragment:          fragment,
	}
	return e.deps.Generator.Generate(ctx, prompt.Assemble(parts, p), st.dialogue)
}
