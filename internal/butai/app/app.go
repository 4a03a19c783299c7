// Package app wires the play together and runs it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bdobrica/butai/internal/butai/audit"
	"github.com/bdobrica/butai/internal/butai/commands"
	"github.com/bdobrica/butai/internal/butai/config"
	"github.com/bdobrica/butai/internal/butai/drama"
	"github.com/bdobrica/butai/internal/butai/gateway"
	"github.com/bdobrica/butai/internal/butai/generation"
	"github.com/bdobrica/butai/internal/butai/matrix"
	"github.com/bdobrica/butai/internal/butai/nlp"
	"github.com/bdobrica/butai/internal/butai/playbook"
	"github.com/bdobrica/butai/internal/butai/snapshot"
	"github.com/bdobrica/butai/internal/butai/store"
)

const shutdownTimeout = 15 * time.Second

// NLUConfig locates the understanding services. With nothing set, intents
// come from the playbook's keyword rules (if any) and no entities are
// extracted.
type NLUConfig struct {
	// IntentURL is a Rasa-compatible intent service.
	IntentURL string
	// ExtractorURL is a UIE-compatible extraction service.
	ExtractorURL string
	Token        string
	// LLM extracts entities with a chat model when ExtractorURL is empty
	// and LLM.Token is set.
	LLM                 nlp.LLMConfig
	MinIntentConfidence float64
	// SkipCheck disables the startup reachability check.
	SkipCheck bool
}

// GenerationConfig selects the completion backend.
type GenerationConfig struct {
	// Backend is "openai" (default) or "gemini".
	Backend string
	OpenAI  generation.OpenAIConfig
	Gemini  generation.GeminiConfig
	// Defaults apply until a director overrides them with config set.
	Defaults generation.Settings
	// Completer replaces the configured backend when non-nil.
	Completer generation.Completer
}

// Config holds application configuration.
type Config struct {
	DatabasePath string
	// PlaybookDir holds scenarios, directors, focus, memory and relations.
	PlaybookDir string
	// StateDir receives users.json and user_memory.json when RedisURL is
	// empty.
	StateDir    string
	RedisURL    string
	RedisPrefix string

	// Matrix is enabled when Matrix.Homeserver is set.
	Matrix matrix.Config
	// Gateway mounts the WebSocket transport at /ws on the HTTP server.
	Gateway bool
	// HTTPAddr is the address for /health, /status and /ws. Empty disables
	// the HTTP server.
	HTTPAddr string
	// AuditRoomID receives a notice for every director command. It needs
	// Matrix.
	AuditRoomID string

	Drama      drama.Config
	NLU        NLUConfig
	Generation GenerationConfig
}

// App is the running bot.
type App struct {
	config    Config
	store     *store.Store
	knobs     config.Store
	engine    *drama.Engine
	snapshots snapshot.Store
	matrix    *matrix.Client
	gateway   *gateway.Server
	health    *HealthServer
	audit     *audit.Log
}

// New builds the application. Any configuration problem is returned here
// so that the process fails before it starts talking.
func New(ctx context.Context, cfg Config) (*App, error) {
	a := &App{config: cfg}
	ok := false
	defer func() {
		if !ok {
			a.closeResources()
		}
	}()

	db, err := store.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.store = db
	a.knobs = config.New(db)

	pb, err := playbook.Open(cfg.PlaybookDir)
	if err != nil {
		return nil, err
	}

	stage, err := newStage(ctx, cfg.NLU, pb)
	if err != nil {
		return nil, err
	}

	completer, err := newCompleter(ctx, cfg.Generation)
	if err != nil {
		return nil, err
	}
	phrasing := cfg.Drama.Phrasing.WithDefaults()
	gen := generation.New(completer, generation.Options{
		StopMarker: phrasing.CloseQuote,
		Settings:   settingsFrom(a.knobs, cfg.Generation.Defaults),
	})

	if a.snapshots, err = newSnapshots(ctx, cfg); err != nil {
		return nil, err
	}

	var fallback drama.Messenger
	if cfg.Matrix.Homeserver != "" {
		mcfg := cfg.Matrix
		mcfg.DB = db.DB()
		if cfg.AuditRoomID != "" {
			mcfg.Rooms = append(mcfg.Rooms, cfg.AuditRoomID)
		}
		if a.matrix, err = matrix.New(mcfg); err != nil {
			return nil, err
		}
		fallback = a.matrix
	}
	transports := drama.NewTransports(fallback)
	if cfg.Gateway {
		if cfg.HTTPAddr == "" {
			return nil, errors.New("the WebSocket gateway needs an HTTP address")
		}
		a.gateway = gateway.New(a.enqueue)
		transports.Route(gateway.RoomPrefix, a.gateway)
	}
	if a.matrix == nil && a.gateway == nil {
		return nil, errors.New("no transport configured: set a Matrix homeserver or enable the gateway")
	}

	a.engine, err = drama.New(ctx, cfg.Drama, drama.Deps{
		Source:       pb,
		Understander: stage,
		Generator:    gen,
		Messenger:    transports,
		Snapshots:    a.snapshots,
	})
	if err != nil {
		return nil, err
	}
	if err := a.engine.Restore(ctx); err != nil {
		return nil, fmt.Errorf("failed to restore snapshot: %w", err)
	}

	var notifier audit.Notifier = audit.Noop{}
	if a.matrix != nil && cfg.AuditRoomID != "" {
		notifier = audit.NewRoomNotifier(a.matrix, cfg.AuditRoomID)
	}
	a.audit = audit.NewLog(db, notifier)
	a.engine.SetCommands(commands.NewHandlers(a.engine, a.knobs, a.audit).Router())

	if cfg.HTTPAddr != "" {
		a.health = NewHealthServer(cfg.HTTPAddr, a.engine)
		if a.gateway != nil {
			a.health.Handle("/ws", a.gateway)
		}
	}

	ok = true
	return a, nil
}

// Engine returns the drama engine.
func (a *App) Engine() *drama.Engine { return a.engine }

// Health returns the HTTP server, or nil when HTTPAddr is empty.
func (a *App) Health() *HealthServer { return a.health }

// Run serves until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.engine.Start(ctx)

	if a.health != nil {
		if err := a.health.Start(ctx); err != nil {
			return err
		}
	}
	if a.matrix != nil {
		slog.Info("starting Matrix sync")
		if err := a.matrix.Start(ctx, a.enqueue); err != nil {
			return fmt.Errorf("failed to start Matrix client: %w", err)
		}
		if a.config.AuditRoomID != "" {
			if err := a.matrix.SendNotice(ctx, a.config.AuditRoomID, "✅ "+a.engine.Name()+" is on stage. Directors: send help for commands."); err != nil {
				slog.Warn("startup notice failed", "err", err)
			}
		}
	}

	slog.Info("butai is running", "name", a.engine.Name())
	<-ctx.Done()
	slog.Info("shutting down")
	return nil
}

// Stop stops the transports, lets queued turns finish, saves the snapshot
// and closes the database.
func (a *App) Stop() {
	if a.matrix != nil {
		slog.Info("stopping Matrix client")
		a.matrix.Stop()
	}
	if a.gateway != nil {
		a.gateway.Close()
	}
	if a.health != nil {
		a.health.Stop()
	}

	a.engine.Close()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.engine.Save(ctx); err != nil {
		slog.Error("failed to save snapshot on shutdown", "err", err)
	} else {
		slog.Info("snapshot saved")
	}

	a.closeResources()
}

func (a *App) enqueue(_ context.Context, msg drama.Inbound) {
	if err := a.engine.HandleMessage(msg); err != nil {
		slog.Warn("message not queued", "from", msg.From, "err", err)
	}
}

func (a *App) closeResources() {
	if r, ok := a.snapshots.(*snapshot.RedisStore); ok {
		if err := r.Close(); err != nil {
			slog.Warn("redis close failed", "err", err)
		}
	}
	if a.store != nil {
		slog.Info("closing database")
		a.store.Close()
	}
}

func newStage(ctx context.Context, cfg NLUConfig, pb *playbook.Playbook) (*nlp.Stage, error) {
	focus, err := pb.Focus()
	if err != nil {
		return nil, err
	}

	var intents nlp.IntentClassifier
	switch {
	case cfg.IntentURL != "":
		intents = nlp.NewRasa(nlp.ServiceConfig{BaseURL: cfg.IntentURL, Token: cfg.Token})
	case pb.HasIntents():
		k, err := nlp.LoadKeywordClassifier(pb.Path(playbook.IntentsFile))
		if err != nil {
			return nil, err
		}
		intents = k
	default:
		slog.Warn("no intent classifier configured; every turn uses the DEFAULT trigger unless entities match")
	}

	var extractor nlp.Extractor
	switch {
	case cfg.ExtractorURL != "":
		extractor = nlp.NewUIE(nlp.ServiceConfig{BaseURL: cfg.ExtractorURL, Token: cfg.Token})
	case cfg.LLM.Token != "":
		extractor = nlp.NewLLMExtractor(cfg.LLM)
	default:
		slog.Warn("no entity extractor configured; memory will not be tagged")
	}

	stage := nlp.NewStage(intents, extractor, focus, nlp.StageOptions{MinIntentConfidence: cfg.MinIntentConfidence})
	if !cfg.SkipCheck {
		if err := stage.Ping(ctx); err != nil {
			return nil, err
		}
	}
	return stage, nil
}

func newCompleter(ctx context.Context, cfg GenerationConfig) (generation.Completer, error) {
	if cfg.Completer != nil {
		return cfg.Completer, nil
	}
	switch cfg.Backend {
	case "", "openai":
		if cfg.OpenAI.APIKey == "" && cfg.OpenAI.BaseURL == "" {
			return nil, errors.New("openai backend needs an API key or a base URL")
		}
		return generation.NewOpenAI(cfg.OpenAI), nil
	case "gemini":
		return generation.NewGemini(ctx, cfg.Gemini)
	default:
		return nil, fmt.Errorf("unknown generation backend %q", cfg.Backend)
	}
}

func newSnapshots(ctx context.Context, cfg Config) (snapshot.Store, error) {
	if cfg.RedisURL != "" {
		r, err := snapshot.NewRedisStore(cfg.RedisURL, cfg.RedisPrefix)
		if err != nil {
			return nil, err
		}
		if err := r.Ping(ctx); err != nil {
			r.Close()
			return nil, err
		}
		return r, nil
	}
	dir := cfg.StateDir
	if dir == "" {
		dir = "state"
	}
	return snapshot.NewFileStore(dir)
}

// settingsFrom reads the generation knobs on every call so a director's
// config set applies to the next line generated.
func settingsFrom(knobs config.Store, def generation.Settings) func(context.Context) generation.Settings {
	return func(ctx context.Context) generation.Settings {
		return generation.Settings{
			Temperature: config.Float(ctx, knobs, config.KeyTemperature, def.Temperature),
			TopP:        config.Float(ctx, knobs, config.KeyTopP, def.TopP),
			MaxTokens:   config.Int(ctx, knobs, config.KeyMaxTokens, def.MaxTokens),
		}
	}
}
