// Package drama runs the play: it owns the session table and memory pools,
// serialises each correspondent's turns, and interprets the action script
// selected for every utterance.
package drama

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bdobrica/butai/internal/butai/memory"
	"github.com/bdobrica/butai/internal/butai/nlp"
	"github.com/bdobrica/butai/internal/butai/prompt"
	"github.com/bdobrica/butai/internal/butai/scenario"
	"github.com/bdobrica/butai/internal/butai/snapshot"
)

var (
	// ErrNoDirectors is returned when a director list reload yields no one.
	ErrNoDirectors = errors.New("director list is empty")
	// ErrEmptyMemory is returned when a self-memory reload finds no facts.
	ErrEmptyMemory = errors.New("self memory is empty")
	// ErrNotRunning is returned by HandleMessage before Start or after Close.
	ErrNotRunning = errors.New("engine is not running")
)

// Understander is the understanding stage as the engine uses it.
type Understander interface {
	Understand(ctx context.Context, utterance, prior string) (nlp.Understanding, error)
	Tag(ctx context.Context, text string) (tags, topics memory.TagSet, err error)
	Schema() []string
	SetSchema(schema []string)
}

// Generator produces one generated line for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt, history string) (string, error)
}

// Source reads and updates the play's configuration files.
type Source interface {
	Scenarios() (*scenario.Table, error)
	Directors() ([]string, error)
	SaveFocus(categories []string) error
	SelfMemory() ([]string, error)
	AppendSelfMemory(fact string) error
	Relations() (map[string]string, error)
}

// CommandHandler executes director commands. handled is false when the text
// is not a command.
type CommandHandler interface {
	HandleCommand(ctx context.Context, msg Inbound) (reply string, handled bool)
}

// Config holds engine settings.
type Config struct {
	// Name answers the heartbeat command.
	Name string
	// Initial is where a new correspondent starts. Defaults to
	// welcome / 陌生人.
	Initial Cast
	// Terminal scenarios end the play; the bot stays silent. Defaults to
	// ["bye"].
	Terminal []string
	// Restart maps a scenario to the one a returning correspondent is moved
	// to before their next turn.
	Restart map[string]string
	// Disclaimer is sent to every new correspondent before the welcome line.
	Disclaimer string
	// Fallback is sent when every generated line of a turn failed and
	// nothing else was said. Empty means silence.
	Fallback string
	Phrasing prompt.Phrasing
	// MemoryLimit caps each user memory pool; zero keeps everything.
	MemoryLimit int
	// QueueDepth bounds the pending messages per correspondent.
	QueueDepth int
	TurnLimit  int
	TurnWindow time.Duration
	// TypingTimeout is sent with typing notifications during pauses.
	TypingTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "butai"
	}
	if c.Initial.Scenario == "" {
		c.Initial.Scenario = "welcome"
	}
	if c.Initial.Character == "" {
		c.Initial.Character = "陌生人"
	}
	if c.Terminal == nil {
		c.Terminal = []string{"bye"}
	}
	if c.TypingTimeout <= 0 {
		c.TypingTimeout = 30 * time.Second
	}
	c.Phrasing = c.Phrasing.WithDefaults()
	return c
}

// Deps are the engine's collaborators. Snapshots may be nil, in which case
// the save command fails.
type Deps struct {
	Source       Source
	Understander Understander
	Generator    Generator
	Messenger    Messenger
	Snapshots    snapshot.Store
}

// Persona is the bot's static knowledge: tagged self-memory facts and the
// relation texts keyed by character name.
type Persona struct {
	Facts     []memory.Entry
	Relations map[string]string
}

// Engine runs the play for every correspondent.
type Engine struct {
	cfg  Config
	deps Deps

	table    *scenario.Holder
	sessions *Sessions
	pools    *memory.Pools
	turns    *memory.Turns
	limiter  *TurnLimiter
	persona  atomic.Pointer[Persona]
	started  time.Time

	commands atomic.Pointer[commandSlot]

	dirMu     sync.RWMutex
	directors map[string]struct{}

	takeMu   sync.Mutex
	takeover takeover

	runMu      sync.Mutex
	dispatcher *Dispatcher
}

type commandSlot struct{ h CommandHandler }

// New loads the scenario table, director list and persona from deps.Source.
// Configuration problems are returned as errors.
func New(ctx context.Context, cfg Config, deps Deps) (*Engine, error) {
	if deps.Source == nil || deps.Understander == nil || deps.Generator == nil || deps.Messenger == nil {
		return nil, errors.New("drama: source, understander, generator and messenger are required")
	}
	cfg = cfg.withDefaults()

	table, err := deps.Source.Scenarios()
	if err != nil {
		return nil, fmt.Errorf("load scenarios: %w", err)
	}
	if _, ok := table.Scene(cfg.Initial.Scenario); !ok {
		return nil, fmt.Errorf("initial scenario %q is not defined", cfg.Initial.Scenario)
	}
	for from, to := range cfg.Restart {
		if _, ok := table.Scene(to); !ok {
			return nil, fmt.Errorf("restart %q -> %q: unknown scenario", from, to)
		}
	}

	e := &Engine{
		cfg:       cfg,
		deps:      deps,
		table:     scenario.NewHolder(table),
		sessions:  NewSessions(),
		pools:     memory.NewPools(cfg.MemoryLimit),
		turns:     memory.NewTurns(),
		limiter:   NewTurnLimiter(cfg.TurnLimit, cfg.TurnWindow),
		directors: map[string]struct{}{},
		started:   time.Now(),
	}

	if _, err := e.ReloadDirectors(); err != nil && !errors.Is(err, ErrNoDirectors) {
		return nil, fmt.Errorf("load directors: %w", err)
	}
	persona, err := e.loadPersona(ctx)
	if err != nil {
		return nil, fmt.Errorf("load persona: %w", err)
	}
	e.persona.Store(persona)

	slog.Info("drama: engine ready",
		"scenarios", len(table.Scenarios()),
		"directors", len(e.Directors()),
		"self_memory", len(persona.Facts),
		"relations", len(persona.Relations),
	)
	return e, nil
}

// SetCommands installs the director command handler.
func (e *Engine) SetCommands(h CommandHandler) {
	e.commands.Store(&commandSlot{h: h})
}

// Name returns the bot's name.
func (e *Engine) Name() string { return e.cfg.Name }

// Phrasing returns the prompt phrasing in use.
func (e *Engine) Phrasing() prompt.Phrasing { return e.cfg.Phrasing }

// Table returns the live scenario table.
func (e *Engine) Table() *scenario.Table { return e.table.Current() }

// Start begins accepting messages. Handlers run under ctx; cancelling it
// aborts in-flight pauses and generation calls.
func (e *Engine) Start(ctx context.Context) {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.dispatcher != nil {
		return
	}
	e.dispatcher = NewDispatcher(ctx, e.cfg.QueueDepth, e.Process)
}

// Close stops accepting messages and waits for queued turns to finish.
func (e *Engine) Close() {
	e.runMu.Lock()
	d := e.dispatcher
	e.dispatcher = nil
	e.runMu.Unlock()
	if d != nil {
		d.Close()
	}
}

// HandleMessage queues msg on its correspondent's worker. It never blocks
// on a turn.
func (e *Engine) HandleMessage(msg Inbound) error {
	e.runMu.Lock()
	d := e.dispatcher
	e.runMu.Unlock()
	if d == nil {
		return ErrNotRunning
	}
	if !d.Submit(msg.From, msg) {
		return fmt.Errorf("message from %s dropped: queue full", msg.From)
	}
	return nil
}

// IsDirector reports whether who may issue commands.
func (e *Engine) IsDirector(who string) bool {
	e.dirMu.RLock()
	defer e.dirMu.RUnlock()
	_, ok := e.directors[who]
	return ok
}

// Directors returns the director IDs, sorted.
func (e *Engine) Directors() []string {
	e.dirMu.RLock()
	out := make([]string, 0, len(e.directors))
	for d := range e.directors {
		out = append(out, d)
	}
	e.dirMu.RUnlock()
	slices.Sort(out)
	return out
}

// ReloadDirectors re-reads the director list. An empty list is rejected
// and the current one kept.
func (e *Engine) ReloadDirectors() (int, error) {
	list, err := e.deps.Source.Directors()
	if err != nil {
		return 0, err
	}
	if len(list) == 0 {
		return 0, ErrNoDirectors
	}
	set := make(map[string]struct{}, len(list))
	for _, d := range list {
		set[d] = struct{}{}
	}
	e.dirMu.Lock()
	e.directors = set
	e.dirMu.Unlock()
	return len(set), nil
}

// ReloadScenarios re-reads the scenario table and swaps it in. A table
// that fails validation or casts different characters is rejected and the
// live table kept.
func (e *Engine) ReloadScenarios() error {
	next, err := e.deps.Source.Scenarios()
	if err != nil {
		return err
	}
	if err := e.table.Replace(next); err != nil {
		return err
	}
	slog.Info("drama: scenarios reloaded", "scenarios", len(next.Scenarios()))
	return nil
}

// ReloadPersona re-reads self memory and relations and re-extracts the
// tags of every fact. An empty self-memory file is rejected.
func (e *Engine) ReloadPersona(ctx context.Context) (int, error) {
	p, err := e.loadPersona(ctx)
	if err != nil {
		return 0, err
	}
	if len(p.Facts) == 0 {
		return 0, ErrEmptyMemory
	}
	e.persona.Store(p)
	return len(p.Facts), nil
}

// AddSelfMemory tags fact, appends it to the persona and persists it.
func (e *Engine) AddSelfMemory(ctx context.Context, fact string) error {
	tags, topics, err := e.deps.Understander.Tag(ctx, fact)
	if err != nil {
		return fmt.Errorf("tag fact: %w", err)
	}
	if err := e.deps.Source.AppendSelfMemory(fact); err != nil {
		return err
	}
	prev := e.persona.Load()
	next := &Persona{
		Facts:     append(slices.Clone(prev.Facts), memory.NewEntry(fact, tags, topics)),
		Relations: prev.Relations,
	}
	e.persona.Store(next)
	return nil
}

// AddFocus adds category to the extraction schema, persists the schema and
// re-tags the persona under it.
func (e *Engine) AddFocus(ctx context.Context, category string) error {
	schema := e.deps.Understander.Schema()
	if slices.Contains(schema, category) {
		return nil
	}
	schema = append(schema, category)
	e.deps.Understander.SetSchema(schema)
	if err := e.deps.Source.SaveFocus(schema); err != nil {
		return err
	}
	p, err := e.loadPersona(ctx)
	if err != nil {
		return fmt.Errorf("re-tag self memory: %w", err)
	}
	e.persona.Store(p)
	return nil
}

// Classify runs the understanding stage on text alone.
func (e *Engine) Classify(ctx context.Context, text string) (nlp.Understanding, error) {
	return e.deps.Understander.Understand(ctx, text, "")
}

// Sessions lists every session.
func (e *Engine) Sessions() []Session {
	return e.sessions.List()
}

// Session returns the session of who.
func (e *Engine) Session(who string) (Session, bool) {
	return e.sessions.Get(who)
}

// Memory returns who's memory pool for a scenario, oldest first.
func (e *Engine) Memory(who, scenarioID string) []memory.Entry {
	return e.pools.Pool(who, scenarioID)
}

// Reset forgets who entirely: session, memory and dialogue.
func (e *Engine) Reset(who string) bool {
	ok := e.sessions.Delete(who)
	e.pools.Forget(who)
	e.turns.Forget(who)
	e.limiter.Forget(who)
	return ok
}

// TurnsLeft reports how many more turns who may start before the rate
// limit drops their messages.
func (e *Engine) TurnsLeft(who string) int {
	return e.limiter.Remaining(who)
}

// Status is a point-in-time summary for the status endpoint.
type Status struct {
	Sessions      int       `json:"sessions"`
	Scenarios     int       `json:"scenarios"`
	Directors     int       `json:"directors"`
	SelfMemory    int       `json:"self_memory"`
	ActiveWorkers int       `json:"active_workers"`
	TakeoverBy    string    `json:"takeover_by,omitempty"`
	Started       time.Time `json:"started"`
}

// Status reports the engine's current state.
func (e *Engine) Status() Status {
	st := Status{
		Sessions:   e.sessions.Len(),
		Scenarios:  len(e.table.Current().Scenarios()),
		Directors:  len(e.Directors()),
		SelfMemory: len(e.persona.Load().Facts),
		TakeoverBy: e.TakeoverHolder(),
		Started:    e.started,
	}
	e.runMu.Lock()
	if e.dispatcher != nil {
		st.ActiveWorkers = e.dispatcher.Active()
	}
	e.runMu.Unlock()
	return st
}

func (e *Engine) loadPersona(ctx context.Context) (*Persona, error) {
	facts, err := e.deps.Source.SelfMemory()
	if err != nil {
		return nil, err
	}
	relations, err := e.deps.Source.Relations()
	if err != nil {
		return nil, err
	}
	p := &Persona{Relations: relations, Facts: make([]memory.Entry, 0, len(facts))}
	for _, fact := range facts {
		tags, topics, err := e.deps.Understander.Tag(ctx, fact)
		if err != nil {
			return nil, fmt.Errorf("tag %q: %w", fact, err)
		}
		p.Facts = append(p.Facts, memory.NewEntry(fact, tags, topics))
	}
	return p, nil
}

func (e *Engine) send(ctx context.Context, room, text string) bool {
	if err := e.deps.Messenger.SendText(ctx, room, text); err != nil {
		slog.Error("drama: send failed", "room", room, "err", err)
		return false
	}
	return true
}

func (e *Engine) typing(ctx context.Context, room string, on bool) {
	ty, ok := e.deps.Messenger.(Typer)
	if !ok {
		return
	}
	if err := ty.SetTyping(ctx, room, on, e.cfg.TypingTimeout); err != nil {
		slog.Debug("drama: typing notification failed", "room", room, "err", err)
	}
}
