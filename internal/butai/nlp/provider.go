// Package nlp is the understanding stage: it asks external services what a
// correspondent meant (an intent label) and what they talked about (entities
// grouped by topic category).
//
// Both services are black boxes reached over HTTP. Their reachability is a
// startup precondition checked once by Stage.Ping; individual calls are not
// retried, and a failed call drops the turn.
package nlp

import (
	"context"
	"errors"
)

// ErrMalformedOutput is returned when a service answers with a body that
// cannot be interpreted.
var ErrMalformedOutput = errors.New("nlp: malformed response")

// Intent is a classifier verdict. An empty Name means no intent was found.
type Intent struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// Entity is one extracted span.
type Entity struct {
	Text        string  `json:"text"`
	Probability float64 `json:"probability"`
}

// Extraction maps a schema category to the entities found for it.
type Extraction map[string][]Entity

// IntentClassifier labels an utterance.
//
// Implementations must be safe for concurrent use.
type IntentClassifier interface {
	ClassifyIntent(ctx context.Context, text string) (Intent, error)
	// Ping reports whether the service is reachable.
	Ping(ctx context.Context) error
}

// Extractor finds entities for the given schema categories.
//
// Implementations must be safe for concurrent use.
type Extractor interface {
	Extract(ctx context.Context, text string, schema []string) (Extraction, error)
	// Ping reports whether the service is reachable.
	Ping(ctx context.Context) error
}
