package nlp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	defaultLLMBase  = "https://api.openai.com/v1"
	defaultLLMModel = "gpt-4o-mini"
)

// LLMConfig configures the OpenAI-compatible extraction backend.
type LLMConfig struct {
	ServiceConfig
	// Model defaults to gpt-4o-mini.
	Model string
}

// LLMExtractor asks a chat model in JSON mode to extract entities. It is
// the fallback when no dedicated extraction service is deployed.
type LLMExtractor struct {
	svc   httpService
	model string
}

var _ Extractor = (*LLMExtractor)(nil)

// NewLLMExtractor returns an extractor backed by a chat completions API.
func NewLLMExtractor(cfg LLMConfig) *LLMExtractor {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultLLMBase
	}
	if cfg.Model == "" {
		cfg.Model = defaultLLMModel
	}
	return &LLMExtractor{svc: newHTTPService(cfg.ServiceConfig), model: cfg.Model}
}

// --- minimal chat completion wire types ---

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiFormat struct {
	Type string `json:"type"`
}

type oaiRequest struct {
	Model          string       `json:"model"`
	Messages       []oaiMessage `json:"messages"`
	Temperature    float64      `json:"temperature"`
	ResponseFormat *oaiFormat   `json:"response_format,omitempty"`
}

type oaiResponse struct {
	Choices []struct {
		Message oaiMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// extractionPrompt takes the comma-separated category list.
const extractionPrompt = `You extract named entities from a short chat message.

Categories: %s

Reply ONLY with a JSON object. Each key is one of the categories above; each
value is a list of {"text": <exact span from the message>, "probability": <0..1>}.
Omit categories with no entity. Never invent spans that are not in the message.`

func (l *LLMExtractor) Extract(ctx context.Context, text string, schema []string) (Extraction, error) {
	body := oaiRequest{
		Model: l.model,
		Messages: []oaiMessage{
			{Role: "system", Content: fmt.Sprintf(extractionPrompt, strings.Join(schema, ", "))},
			{Role: "user", Content: text},
		},
		ResponseFormat: &oaiFormat{Type: "json_object"},
	}

	var resp oaiResponse
	if err := l.svc.postJSON(ctx, "/chat/completions", body, &resp); err != nil {
		return nil, fmt.Errorf("llm extract: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("llm extract: API error (%s): %s", resp.Error.Type, resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("llm extract: %w: no choices", ErrMalformedOutput)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimSuffix(strings.TrimPrefix(content, "```"), "```")

	var out Extraction
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, fmt.Errorf("llm extract: %w: %v", ErrMalformedOutput, err)
	}
	// Drop spans the model made up.
	for cat, ents := range out {
		kept := ents[:0]
		for _, e := range ents {
			if e.Text != "" && strings.Contains(text, e.Text) {
				kept = append(kept, e)
			}
		}
		out[cat] = kept
	}
	return out, nil
}

func (l *LLMExtractor) Ping(ctx context.Context) error {
	return l.svc.get(ctx, "/models")
}
