package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	defaultOpenAIModel   = "gpt-4o-mini"
	defaultOpenAITimeout = 60 * time.Second
)

// OpenAIConfig configures an OpenAI-compatible chat completion backend.
type OpenAIConfig struct {
	APIKey string
	// BaseURL points at any OpenAI-compatible endpoint (vLLM, Ollama,
	// OpenRouter). Empty uses the library default.
	BaseURL string
	Model   string
	// Instruction is sent as the system message when set.
	Instruction string
	Timeout     time.Duration
}

// OpenAICompleter sends the prompt as a single user message.
type OpenAICompleter struct {
	client      openai.Client
	model       string
	instruction string
}

var _ Completer = (*OpenAICompleter)(nil)

// NewOpenAI returns a completer. The library's own retries are disabled;
// Client owns the retry policy.
func NewOpenAI(cfg OpenAIConfig) *OpenAICompleter {
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultOpenAITimeout
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAICompleter{
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		instruction: cfg.Instruction,
	}
}

func (o *OpenAICompleter) Complete(ctx context.Context, prompt string, s Settings) (string, error) {
	var messages []openai.ChatCompletionMessageParamUnion
	if o.instruction != "" {
		messages = append(messages, openai.SystemMessage(o.instruction))
	}
	messages = append(messages, openai.UserMessage(prompt))

	params := openai.ChatCompletionNewParams{
		Model:    o.model,
		Messages: messages,
	}
	if s.Temperature > 0 {
		params.Temperature = openai.Float(s.Temperature)
	}
	if s.TopP > 0 {
		params.TopP = openai.Float(s.TopP)
	}
	if s.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(s.MaxTokens))
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) && permanentStatus(apiErr.StatusCode) {
			return "", fmt.Errorf("%w: openai: %v", ErrServiceFailure, err)
		}
		return "", fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// permanentStatus reports HTTP statuses that will not succeed on retry.
func permanentStatus(code int) bool {
	switch code {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}
