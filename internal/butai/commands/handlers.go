package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bdobrica/butai/common/version"
	"github.com/bdobrica/butai/internal/butai/audit"
	"github.com/bdobrica/butai/internal/butai/config"
	"github.com/bdobrica/butai/internal/butai/drama"
	"github.com/bdobrica/butai/internal/butai/nlp"
	"github.com/bdobrica/butai/internal/butai/scenario"
	"github.com/bdobrica/butai/internal/butai/store"
)

// Play is the running drama as the commands see it. *drama.Engine
// implements it.
type Play interface {
	Name() string
	ReloadDirectors() (int, error)
	ReloadPersona(ctx context.Context) (int, error)
	ReloadScenarios() error
	AddFocus(ctx context.Context, category string) error
	AddSelfMemory(ctx context.Context, fact string) error
	Save(ctx context.Context) error
	TakeOver(director, room string)
	StopTakeOver() bool
	Sessions() []drama.Session
	Reset(who string) bool
	TurnsLeft(who string) int
	Classify(ctx context.Context, text string) (nlp.Understanding, error)
}

var _ Play = (*drama.Engine)(nil)

// Handlers holds the command implementations and their dependencies.
type Handlers struct {
	play   Play
	config config.Store
	audit  *audit.Log
	router *Router
}

// NewHandlers returns handlers acting on play. cfg may be nil, which
// disables the config commands.
func NewHandlers(play Play, cfg config.Store, log *audit.Log) *Handlers {
	if log == nil {
		log = audit.NewLog(nil, nil)
	}
	return &Handlers{play: play, config: cfg, audit: log}
}

// Router returns a router with every command registered.
func (h *Handlers) Router() *Router {
	r := NewRouter()
	h.router = r

	r.Register("ding", "check heartbeat", h.HandleDing)
	r.Register("help", "show this list", h.HandleHelp)
	r.Register("version", "show build information", h.HandleVersion)
	r.Register("reload directors", "reload directors.json", h.HandleReloadDirectors)
	r.Register("reload memory", "reload memory.txt and relations.txt", h.HandleReloadMemory)
	r.Register("reload scenarios", "reload the scenario table", h.HandleReloadScenarios)
	r.RegisterWithArgs("add focus", "add focus <category>", "add an extraction category and persist focus.json", h.HandleAddFocus)
	r.RegisterWithArgs("add selfmemory", "add selfmemory <text>", "add a self memory fact and persist memory.txt", h.HandleAddSelfMemory)
	r.Register("save", "save sessions and user memory", h.HandleSave)
	r.Register("take over", "take over the conversation", h.HandleTakeOver)
	r.Register("stop take over", "give the conversation back", h.HandleStopTakeOver)
	r.Register("sessions", "list sessions", h.HandleSessions)
	r.RegisterWithArgs("reset", "reset <correspondent>", "forget a correspondent's session and memory", h.HandleReset)
	r.RegisterWithArgs("classify", "classify <text>", "show intent and tags for text", h.HandleClassify)
	if h.config != nil {
		r.RegisterWithArgs("config get", "config get <key>", "show a runtime knob", h.HandleConfigGet)
		r.RegisterWithArgs("config set", "config set <key> <value>", "change a runtime knob", h.HandleConfigSet)
		r.RegisterWithArgs("config unset", "config unset <key>", "revert a runtime knob to its default", h.HandleConfigUnset)
		r.Register("config list", "show every runtime knob", h.HandleConfigList)
	}
	return r
}

// HandleDing answers the heartbeat check.
func (h *Handlers) HandleDing(ctx context.Context, cmd *Command) (string, error) {
	return "dong -- " + h.play.Name(), nil
}

// HandleHelp lists the commands.
func (h *Handlers) HandleHelp(ctx context.Context, cmd *Command) (string, error) {
	return h.router.Help("Drama director code"), nil
}

// HandleVersion shows build information.
func (h *Handlers) HandleVersion(ctx context.Context, cmd *Command) (string, error) {
	return h.play.Name() + " " + version.Info(), nil
}

// HandleReloadDirectors re-reads the director list. An empty list is refused.
func (h *Handlers) HandleReloadDirectors(ctx context.Context, cmd *Command) (string, error) {
	n, err := h.play.ReloadDirectors()
	h.record(ctx, cmd, audit.KindReload, "", store.AuditPayload{"directors": n}, err)
	if errors.Is(err, drama.ErrNoDirectors) {
		return "there must be at least one director, director list not changed", nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Drama director list has been updated (%d directors)", n), nil
}

// HandleReloadMemory re-reads self memory and relations.
func (h *Handlers) HandleReloadMemory(ctx context.Context, cmd *Command) (string, error) {
	n, err := h.play.ReloadPersona(ctx)
	h.record(ctx, cmd, audit.KindMemory, "", store.AuditPayload{"facts": n}, err)
	if errors.Is(err, drama.ErrEmptyMemory) {
		return "memory.txt is empty, so I will not change my memory", nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("self memory has been updated (%d facts)", n), nil
}

// HandleReloadScenarios swaps in a freshly loaded scenario table. A table
// that changes the cast is refused.
func (h *Handlers) HandleReloadScenarios(ctx context.Context, cmd *Command) (string, error) {
	err := h.play.ReloadScenarios()
	h.record(ctx, cmd, audit.KindReload, "", nil, err)
	switch {
	case errors.Is(err, scenario.ErrCastChanged):
		return fmt.Sprintf("scenario reload rejected, the live scenarios are unchanged: %v", err), nil
	case errors.Is(err, scenario.ErrValidation):
		return fmt.Sprintf("scenario file is invalid, nothing changed:\n%v", err), nil
	case err != nil:
		return "", err
	}
	return "scenarios have been updated", nil
}

// HandleAddFocus adds an extraction category.
func (h *Handlers) HandleAddFocus(ctx context.Context, cmd *Command) (string, error) {
	if cmd.Args == "" {
		return "add the focus text close to the code, pls try again", nil
	}
	err := h.play.AddFocus(ctx, cmd.Args)
	h.record(ctx, cmd, audit.KindMemory, cmd.Args, nil, err)
	if err != nil {
		return "", err
	}
	return "focus updated, and self memory has been re-tagged. focus.json has been auto updated", nil
}

// HandleAddSelfMemory adds a self memory fact.
func (h *Handlers) HandleAddSelfMemory(ctx context.Context, cmd *Command) (string, error) {
	if cmd.Args == "" {
		return "add the memory text close to the code, pls try again", nil
	}
	err := h.play.AddSelfMemory(ctx, cmd.Args)
	h.record(ctx, cmd, audit.KindMemory, "", store.AuditPayload{"fact": cmd.Args}, err)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("self memory added new item: %s and memory.txt has been auto updated", cmd.Args), nil
}

// HandleSave writes the snapshot.
func (h *Handlers) HandleSave(ctx context.Context, cmd *Command) (string, error) {
	err := h.play.Save(ctx)
	h.record(ctx, cmd, audit.KindSave, "", nil, err)
	if err != nil {
		return "", err
	}
	return "user status and user memory have been saved; they will be restored on the next start", nil
}

// HandleTakeOver hands the conversation to the sending director.
func (h *Handlers) HandleTakeOver(ctx context.Context, cmd *Command) (string, error) {
	h.play.TakeOver(cmd.Sender, cmd.Room)
	h.record(ctx, cmd, audit.KindTakeover, "", nil, nil)
	return "ok your turn. to give the wheel back to me send: stop take over", nil
}

// HandleStopTakeOver gives the conversation back to the scripts.
func (h *Handlers) HandleStopTakeOver(ctx context.Context, cmd *Command) (string, error) {
	was := h.play.StopTakeOver()
	h.record(ctx, cmd, audit.KindTakeover, "", store.AuditPayload{"was_active": was}, nil)
	return "I will take the talk again. to take over send: take over", nil
}

// HandleSessions lists every correspondent and where they are in the play.
func (h *Handlers) HandleSessions(ctx context.Context, cmd *Command) (string, error) {
	sessions := h.play.Sessions()
	if len(sessions) == 0 {
		return "no sessions yet", nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d sessions:\n", len(sessions))
	for _, s := range sessions {
		fmt.Fprintf(&b, "%s: %s in %s (since %s, %d turns left)\n",
			s.Correspondent, s.Character, s.Scenario, s.CreatedAt.Format("2006-01-02 15:04"),
			h.play.TurnsLeft(s.Correspondent))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// HandleReset forgets one correspondent.
func (h *Handlers) HandleReset(ctx context.Context, cmd *Command) (string, error) {
	who := cmd.Args
	if who == "" {
		return "usage: reset <correspondent>", nil
	}
	var err error
	if !h.play.Reset(who) {
		err = fmt.Errorf("no session for %s", who)
	}
	h.record(ctx, cmd, audit.KindReset, who, nil, err)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s has been reset and will be greeted as a newcomer", who), nil
}

// HandleClassify shows what the understanding stage makes of text.
func (h *Handlers) HandleClassify(ctx context.Context, cmd *Command) (string, error) {
	if cmd.Args == "" {
		return "usage: classify <text>", nil
	}
	u, err := h.play.Classify(ctx, cmd.Args)
	if err != nil {
		return "", err
	}
	intent := u.Intent
	if intent == "" {
		intent = "(none)"
	}
	return fmt.Sprintf("intent: %s (%.2f)\ntags: %s\ntopics: %s\ntriggers: %s",
		intent, u.Confidence,
		strings.Join(u.Tags.Sorted(), ", "),
		strings.Join(u.Topics.Sorted(), ", "),
		strings.Join(u.TriggerKeys(), " > "),
	), nil
}

func (h *Handlers) record(ctx context.Context, cmd *Command, kind audit.Kind, target string, payload store.AuditPayload, err error) {
	h.audit.Record(ctx, audit.Event{
		Kind:    kind,
		Action:  strings.ReplaceAll(cmd.Name, " ", "."),
		Actor:   cmd.Sender,
		Target:  target,
		Message: cmd.RawText,
		Payload: payload,
		Err:     err,
	})
}
