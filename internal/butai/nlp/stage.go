package nlp

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/bdobrica/butai/common/retry"
	"github.com/bdobrica/butai/internal/butai/memory"
)

// ExtractionThreshold is the minimum probability for an entity to be kept.
const ExtractionThreshold = 0.58

// CategoryTags lists the kept entities of one category, sorted.
type CategoryTags struct {
	Category string
	Entities []string
}

// Understanding is the result of one Stage.Understand call.
type Understanding struct {
	Intent     string
	Confidence float64
	// Categories follows schema order and only holds categories with at
	// least one kept entity.
	Categories []CategoryTags
	Tags       memory.TagSet
	Topics     memory.TagSet
	// UsedPrior is set when tags came from the fallback pass over the prior
	// turn plus the utterance.
	UsedPrior bool
}

// Query returns the retrieval query for this understanding.
func (u Understanding) Query() memory.Query {
	return memory.Query{Tags: u.Tags, Topics: u.Topics}
}

// TriggerKeys lists candidate rule keys, most specific first: the intent,
// then for each category in schema order its entities followed by the
// category name itself.
func (u Understanding) TriggerKeys() []string {
	var keys []string
	if u.Intent != "" {
		keys = append(keys, u.Intent)
	}
	for _, c := range u.Categories {
		keys = append(keys, c.Entities...)
		keys = append(keys, c.Category)
	}
	return keys
}

// StageOptions configure a Stage.
type StageOptions struct {
	// Threshold defaults to ExtractionThreshold.
	Threshold float64
	// MinIntentConfidence discards intents scored below it.
	MinIntentConfidence float64
}

// Stage combines an intent classifier and an extractor restricted to a
// mutable schema of interesting categories. Either collaborator may be nil.
type Stage struct {
	intents   IntentClassifier
	extractor Extractor
	opts      StageOptions

	mu     sync.RWMutex
	schema []string
}

// NewStage returns a Stage using schema as the initial category list.
func NewStage(intents IntentClassifier, extractor Extractor, schema []string, opts StageOptions) *Stage {
	if opts.Threshold <= 0 {
		opts.Threshold = ExtractionThreshold
	}
	return &Stage{
		intents:   intents,
		extractor: extractor,
		opts:      opts,
		schema:    slices.Clone(schema),
	}
}

// Schema returns the current category list.
func (s *Stage) Schema() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.schema)
}

// SetSchema replaces the category list used by later calls.
func (s *Stage) SetSchema(schema []string) {
	s.mu.Lock()
	s.schema = slices.Clone(schema)
	s.mu.Unlock()
}

// Understand classifies utterance and extracts its tags. When the
// utterance alone yields no tags and prior is non-empty, extraction is
// repeated over prior followed by utterance.
func (s *Stage) Understand(ctx context.Context, utterance, prior string) (Understanding, error) {
	var u Understanding

	if s.intents != nil {
		intent, err := s.intents.ClassifyIntent(ctx, utterance)
		if err != nil {
			return u, fmt.Errorf("classify intent: %w", err)
		}
		if intent.Confidence >= s.opts.MinIntentConfidence {
			u.Intent, u.Confidence = intent.Name, intent.Confidence
		}
	}

	cats, err := s.tag(ctx, utterance)
	if err != nil {
		return u, err
	}
	if len(cats) == 0 && prior != "" {
		cats, err = s.tag(ctx, prior+utterance)
		if err != nil {
			return u, err
		}
		u.UsedPrior = len(cats) > 0
	}

	u.Categories = cats
	u.Tags, u.Topics = flatten(cats)
	return u, nil
}

// Tag extracts tags and topics from a standalone text such as a self-memory
// fact.
func (s *Stage) Tag(ctx context.Context, text string) (tags, topics memory.TagSet, err error) {
	cats, err := s.tag(ctx, text)
	if err != nil {
		return nil, nil, err
	}
	tags, topics = flatten(cats)
	return tags, topics, nil
}

func (s *Stage) tag(ctx context.Context, text string) ([]CategoryTags, error) {
	schema := s.Schema()
	if s.extractor == nil || len(schema) == 0 || text == "" {
		return nil, nil
	}
	ex, err := s.extractor.Extract(ctx, text, schema)
	if err != nil {
		return nil, fmt.Errorf("extract entities: %w", err)
	}

	var out []CategoryTags
	for _, category := range schema {
		kept := memory.TagSet{}
		for _, e := range ex[category] {
			if e.Probability > s.opts.Threshold {
				kept.Add(e.Text)
			}
		}
		if len(kept) > 0 {
			out = append(out, CategoryTags{Category: category, Entities: kept.Sorted()})
		}
	}
	return out, nil
}

func flatten(cats []CategoryTags) (tags, topics memory.TagSet) {
	tags, topics = memory.TagSet{}, memory.TagSet{}
	for _, c := range cats {
		topics.Add(c.Category)
		for _, e := range c.Entities {
			tags.Add(e)
		}
	}
	return tags, topics
}

// Ping checks both services, retrying with backoff. A failure here should
// stop the process from starting.
func (s *Stage) Ping(ctx context.Context) error {
	cfg := retry.Config{MaxAttempts: 5, InitialDelay: time.Second, MaxDelay: 8 * time.Second}
	if s.intents != nil {
		if err := retry.Do(ctx, cfg, func() error { return s.intents.Ping(ctx) }); err != nil {
			return fmt.Errorf("intent classifier unreachable: %w", err)
		}
	}
	if s.extractor != nil {
		if err := retry.Do(ctx, cfg, func() error { return s.extractor.Ping(ctx) }); err != nil {
			return fmt.Errorf("entity extractor unreachable: %w", err)
		}
	}
	slog.Info("nlp: services reachable", "schema", len(s.Schema()))
	return nil
}
