// Butai is the drama bot binary.
//
// Configuration comes from environment variables, optionally loaded from a
// .env file in the working directory.
//
// Playbook and state:
//
//	BUTAI_PLAYBOOK_DIR    - directory with scenarios, directors, focus, memory, relations (default "drama_configs")
//	BUTAI_DB_PATH         - SQLite database (default "butai.db")
//	BUTAI_STATE_DIR       - users.json / user_memory.json directory (default "state")
//	REDIS_URL             - keep the snapshot in Redis instead (e.g. "redis://localhost:6379/0")
//	REDIS_PREFIX          - Redis key prefix (default "butai:snapshot:")
//
// Play:
//
//	BUTAI_NAME            - answered to ding (default "butai")
//	BUTAI_INITIAL_SCENARIO, BUTAI_INITIAL_CHARACTER (default "welcome", "陌生人")
//	BUTAI_TERMINAL        - comma separated scenarios where the bot stays silent (default "bye")
//	BUTAI_RESTART         - comma separated from=to pairs, e.g. "heddacomeagain=welcome"
//	BUTAI_DISCLAIMER      - sent to every new correspondent
//	BUTAI_FALLBACK        - sent when every generated line of a turn failed
//	BUTAI_MEMORY_LIMIT    - entries kept per user memory pool (default 0, unbounded)
//	BUTAI_TURN_LIMIT      - turns per correspondent per BUTAI_TURN_WINDOW (default 20 per 1m)
//
// Transports:
//
//	MATRIX_HOMESERVER, MATRIX_USER_ID, MATRIX_ACCESS_TOKEN
//	MATRIX_AUTO_JOIN      - accept room invites (default true)
//	BUTAI_AUDIT_ROOM      - Matrix room receiving director command notices
//	BUTAI_HTTP_ADDR       - /health, /status and /ws listen address (default ":8080")
//	BUTAI_GATEWAY         - enable the WebSocket gateway at /ws (default false)
//
// Understanding:
//
//	NLU_INTENT_URL        - Rasa-compatible intent service
//	NLU_EXTRACT_URL       - UIE-compatible extraction service
//	NLU_TOKEN             - bearer token for both
//	NLU_LLM_API_KEY, NLU_LLM_BASE_URL, NLU_LLM_MODEL - chat model extraction when NLU_EXTRACT_URL is empty
//	NLU_MIN_CONFIDENCE    - drop intents scored below this
//	NLU_SKIP_CHECK        - skip the startup reachability check
//
// Generation:
//
//	LLM_PROVIDER          - "openai" (default) or "gemini"
//	LLM_API_KEY, LLM_BASE_URL, LLM_MODEL, LLM_INSTRUCTION
//	LLM_TEMPERATURE, LLM_TOP_P, LLM_MAX_TOKENS - defaults until changed with config set (1, 0.9, 150)
//
// Logging:
//
//	LOG_LEVEL             - "debug", "info", "warn", "error" (default "info")
//	LOG_FORMAT            - "text" or "json" (default "text")
//	LOG_FILE              - also append logs to this file
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bdobrica/butai/common/environment"
	"github.com/bdobrica/butai/common/version"
	"github.com/bdobrica/butai/internal/butai/app"
	"github.com/bdobrica/butai/internal/butai/drama"
	"github.com/bdobrica/butai/internal/butai/generation"
	"github.com/bdobrica/butai/internal/butai/matrix"
	"github.com/bdobrica/butai/internal/butai/nlp"
	"github.com/bdobrica/butai/internal/butai/observability"
)

func main() {
	if err := environment.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logFile, err := observability.Setup(
		environment.StringOr("LOG_LEVEL", "info"),
		environment.StringOr("LOG_FORMAT", "text"),
		environment.StringOr("LOG_FILE", ""),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()

	slog.Info("butai drama bot", "version", version.Info())

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	butai, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize butai", "err", err)
		os.Exit(1)
	}
	defer butai.Stop()

	if err := butai.Run(ctx); err != nil {
		slog.Error("butai exited with error", "err", err)
		os.Exit(1)
	}
}

func loadConfig() (app.Config, error) {
	restart, err := parsePairs(environment.StringOr("BUTAI_RESTART", ""))
	if err != nil {
		return app.Config{}, fmt.Errorf("BUTAI_RESTART: %w", err)
	}

	return app.Config{
		DatabasePath: environment.StringOr("BUTAI_DB_PATH", "butai.db"),
		PlaybookDir:  environment.StringOr("BUTAI_PLAYBOOK_DIR", "drama_configs"),
		StateDir:     environment.StringOr("BUTAI_STATE_DIR", "state"),
		RedisURL:     environment.StringOr("REDIS_URL", ""),
		RedisPrefix:  environment.StringOr("REDIS_PREFIX", ""),
		Matrix: matrix.Config{
			Homeserver:  environment.StringOr("MATRIX_HOMESERVER", ""),
			UserID:      environment.StringOr("MATRIX_USER_ID", ""),
			AccessToken: environment.StringOr("MATRIX_ACCESS_TOKEN", ""),
			AutoJoin:    environment.BoolOr("MATRIX_AUTO_JOIN", true),
		},
		Gateway:     environment.BoolOr("BUTAI_GATEWAY", false),
		HTTPAddr:    environment.StringOr("BUTAI_HTTP_ADDR", ":8080"),
		AuditRoomID: environment.StringOr("BUTAI_AUDIT_ROOM", ""),
		Drama: drama.Config{
			Name: environment.StringOr("BUTAI_NAME", "butai"),
			Initial: drama.Cast{
				Scenario:  environment.StringOr("BUTAI_INITIAL_SCENARIO", "welcome"),
				Character: environment.StringOr("BUTAI_INITIAL_CHARACTER", "陌生人"),
			},
			Terminal:    environment.StringSliceOr("BUTAI_TERMINAL", []string{"bye"}),
			Restart:     restart,
			Disclaimer:  environment.StringOr("BUTAI_DISCLAIMER", ""),
			Fallback:    environment.StringOr("BUTAI_FALLBACK", ""),
			MemoryLimit: environment.IntOr("BUTAI_MEMORY_LIMIT", 0),
			TurnLimit:   environment.IntOr("BUTAI_TURN_LIMIT", drama.DefaultTurnLimit),
			TurnWindow:  environment.DurationOr("BUTAI_TURN_WINDOW", time.Minute),
		},
		NLU: app.NLUConfig{
			IntentURL:    environment.StringOr("NLU_INTENT_URL", ""),
			ExtractorURL: environment.StringOr("NLU_EXTRACT_URL", ""),
			Token:        environment.StringOr("NLU_TOKEN", ""),
			LLM: nlp.LLMConfig{
				ServiceConfig: nlp.ServiceConfig{
					BaseURL: environment.StringOr("NLU_LLM_BASE_URL", ""),
					Token:   environment.StringOr("NLU_LLM_API_KEY", ""),
				},
				Model: environment.StringOr("NLU_LLM_MODEL", ""),
			},
			MinIntentConfidence: environment.FloatOr("NLU_MIN_CONFIDENCE", 0),
			SkipCheck:           environment.BoolOr("NLU_SKIP_CHECK", false),
		},
		Generation: app.GenerationConfig{
			Backend: environment.StringOr("LLM_PROVIDER", "openai"),
			OpenAI: generation.OpenAIConfig{
				APIKey:      environment.StringOr("LLM_API_KEY", ""),
				BaseURL:     environment.StringOr("LLM_BASE_URL", ""),
				Model:       environment.StringOr("LLM_MODEL", ""),
				Instruction: environment.StringOr("LLM_INSTRUCTION", ""),
			},
			Gemini: generation.GeminiConfig{
				APIKey:  environment.StringOr("LLM_API_KEY", ""),
				BaseURL: environment.StringOr("LLM_BASE_URL", ""),
				Model:   environment.StringOr("LLM_MODEL", ""),
			},
			Defaults: generation.Settings{
				Temperature: environment.FloatOr("LLM_TEMPERATURE", 1),
				TopP:        environment.FloatOr("LLM_TOP_P", 0.9),
				MaxTokens:   environment.IntOr("LLM_MAX_TOKENS", 150),
			},
		},
	}, nil
}

// parsePairs reads "a=b,c=d".
func parsePairs(s string) (map[string]string, error) {
	out := map[string]string{}
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		from, to, ok := strings.Cut(item, "=")
		if !ok || strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" {
			return nil, fmt.Errorf("%q is not a from=to pair", item)
		}
		out[strings.TrimSpace(from)] = strings.TrimSpace(to)
	}
	return out, nil
}
