package nlp

import (
	"context"
	"fmt"
)

// UIEExtractor calls a universal information extraction service that takes
// the schema with every request:
//
//	POST /extract {"text": "...", "schema": ["人物", "地点"]}
//	→ {"result": {"人物": [{"text": "海达", "probability": 0.93}]}}
type UIEExtractor struct {
	svc httpService
}

var _ Extractor = (*UIEExtractor)(nil)

// NewUIE returns an extractor for the service at cfg.BaseURL.
func NewUIE(cfg ServiceConfig) *UIEExtractor {
	return &UIEExtractor{svc: newHTTPService(cfg)}
}

type uieRequest struct {
	Text   string   `json:"text"`
	Schema []string `json:"schema"`
}

type uieResponse struct {
	Result Extraction `json:"result"`
}

func (u *UIEExtractor) Extract(ctx context.Context, text string, schema []string) (Extraction, error) {
	var out uieResponse
	if err := u.svc.postJSON(ctx, "/extract", uieRequest{Text: text, Schema: schema}, &out); err != nil {
		return nil, fmt.Errorf("uie: %w", err)
	}
	return out.Result, nil
}

func (u *UIEExtractor) Ping(ctx context.Context) error {
	return u.svc.get(ctx, "/health")
}
