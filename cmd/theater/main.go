// Theater rehearses a scene: two personas, each with its own playbook
// directory, talk to each other and the dialogue is printed to stdout.
//
//	theater -scenario awake -rounds 10 \
//	    -a sunruo -a-name 孙若 -a-character sunruo \
//	    -b caixiao -b-name 蔡晓 -b-character caixiao
//
// Generation is configured as for butai: LLM_PROVIDER, LLM_API_KEY,
// LLM_BASE_URL, LLM_MODEL, LLM_TEMPERATURE, LLM_TOP_P and LLM_MAX_TOKENS.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bdobrica/butai/common/environment"
	"github.com/bdobrica/butai/internal/butai/generation"
	"github.com/bdobrica/butai/internal/butai/observability"
	"github.com/bdobrica/butai/internal/butai/playbook"
	"github.com/bdobrica/butai/internal/butai/prompt"
	"github.com/bdobrica/butai/internal/butai/theater"
)

type side struct {
	dir, name, character string
}

func main() {
	var a, b side
	scenarioID := flag.String("scenario", "awake", "scenario both personas play")
	rounds := flag.Int("rounds", 10, "rounds to play; 0 plays until interrupted")
	window := flag.Int("window", theater.DefaultWindow, "runes of recent dialogue each persona remembers")
	flag.StringVar(&a.dir, "a", "", "playbook directory of the persona speaking first")
	flag.StringVar(&a.name, "a-name", "", "how the second persona hears the first")
	flag.StringVar(&a.character, "a-character", "", "how the second persona's scenarios cast the first")
	flag.StringVar(&b.dir, "b", "", "playbook directory of the second persona")
	flag.StringVar(&b.name, "b-name", "", "how the first persona hears the second")
	flag.StringVar(&b.character, "b-character", "", "how the first persona's scenarios cast the second")
	flag.Parse()

	if err := environment.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if _, err := observability.Setup(environment.StringOr("LOG_LEVEL", "warn"), "text", ""); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, a, b, *scenarioID, *rounds, *window); err != nil && ctx.Err() == nil {
		slog.Error("theater stopped", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, a, b side, scenarioID string, rounds, window int) error {
	first, err := a.persona()
	if err != nil {
		return err
	}
	second, err := b.persona()
	if err != nil {
		return err
	}

	completer, err := newCompleter(ctx)
	if err != nil {
		return err
	}
	phrasing := prompt.DefaultPhrasing()
	defaults := generation.Settings{
		Temperature: environment.FloatOr("LLM_TEMPERATURE", 1),
		TopP:        environment.FloatOr("LLM_TOP_P", 0.9),
		MaxTokens:   environment.IntOr("LLM_MAX_TOKENS", 150),
	}
	gen := generation.New(completer, generation.Options{
		StopMarker: phrasing.CloseQuote,
		Settings:   func(context.Context) generation.Settings { return defaults },
	})

	stage := theater.New(gen, theater.Options{Phrasing: phrasing, Window: window})
	return stage.Run(ctx, scenarioID, rounds, first, second, func(l theater.Line) {
		fmt.Println(phrasing.Line(l.Speaker, l.Text))
	})
}

func (s side) persona() (*theater.Persona, error) {
	if s.dir == "" || s.name == "" || s.character == "" {
		return nil, fmt.Errorf("each persona needs a playbook directory, a name and a character")
	}
	pb, err := playbook.Open(s.dir)
	if err != nil {
		return nil, err
	}
	return theater.NewPersona(s.name, s.character, pb)
}

func newCompleter(ctx context.Context) (generation.Completer, error) {
	apiKey := environment.StringOr("LLM_API_KEY", "")
	baseURL := environment.StringOr("LLM_BASE_URL", "")
	model := environment.StringOr("LLM_MODEL", "")
	switch provider := environment.StringOr("LLM_PROVIDER", "openai"); provider {
	case "openai":
		return generation.NewOpenAI(generation.OpenAIConfig{APIKey: apiKey, BaseURL: baseURL, Model: model}), nil
	case "gemini":
		return generation.NewGemini(ctx, generation.GeminiConfig{APIKey: apiKey, BaseURL: baseURL, Model: model})
	default:
		return nil, fmt.Errorf("unknown LLM_PROVIDER %q", provider)
	}
}
