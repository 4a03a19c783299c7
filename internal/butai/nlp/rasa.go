package nlp

import (
	"context"
	"fmt"
)

// RasaClassifier calls a Rasa NLU server's /model/parse endpoint.
type RasaClassifier struct {
	svc httpService
}

var _ IntentClassifier = (*RasaClassifier)(nil)

// NewRasa returns a classifier for the server at cfg.BaseURL.
func NewRasa(cfg ServiceConfig) *RasaClassifier {
	return &RasaClassifier{svc: newHTTPService(cfg)}
}

type rasaParseRequest struct {
	Text string `json:"text"`
}

type rasaParseResponse struct {
	Text   string  `json:"text"`
	Intent *Intent `json:"intent"`
}

func (r *RasaClassifier) ClassifyIntent(ctx context.Context, text string) (Intent, error) {
	var out rasaParseResponse
	if err := r.svc.postJSON(ctx, "/model/parse", rasaParseRequest{Text: text}, &out); err != nil {
		return Intent{}, fmt.Errorf("rasa: %w", err)
	}
	if out.Intent == nil {
		return Intent{}, nil
	}
	return *out.Intent, nil
}

// Ping hits the server root, which answers with a greeting when up.
func (r *RasaClassifier) Ping(ctx context.Context) error {
	return r.svc.get(ctx, "/")
}
