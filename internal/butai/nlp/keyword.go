package nlp

import (
	"context"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// KeywordRule labels an utterance with Intent when any pattern matches.
type KeywordRule struct {
	Intent   string   `yaml:"intent"`
	Patterns []string `yaml:"patterns"`
}

type compiledRule struct {
	intent   string
	patterns []*regexp.Regexp
}

// KeywordClassifier is a local regular-expression classifier used when no
// NLU server is configured. The first matching rule wins.
type KeywordClassifier struct {
	rules []compiledRule
}

var _ IntentClassifier = (*KeywordClassifier)(nil)

// NewKeywordClassifier compiles rules in order.
func NewKeywordClassifier(rules []KeywordRule) (*KeywordClassifier, error) {
	k := &KeywordClassifier{}
	for _, r := range rules {
		if r.Intent == "" {
			return nil, fmt.Errorf("keyword rule without intent")
		}
		cr := compiledRule{intent: r.Intent}
		for _, p := range r.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("intent %q: pattern %q: %w", r.Intent, p, err)
			}
			cr.patterns = append(cr.patterns, re)
		}
		k.rules = append(k.rules, cr)
	}
	return k, nil
}

// LoadKeywordClassifier reads rules from a YAML file:
//
//	rules:
//	  - intent: bye
//	    patterns: ["再见", "拜拜"]
func LoadKeywordClassifier(path string) (*KeywordClassifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read intent rules: %w", err)
	}
	var doc struct {
		Rules []KeywordRule `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse intent rules: %w", err)
	}
	return NewKeywordClassifier(doc.Rules)
}

func (k *KeywordClassifier) ClassifyIntent(_ context.Context, text string) (Intent, error) {
	for _, r := range k.rules {
		for _, re := range r.patterns {
			if re.MatchString(text) {
				return Intent{Name: r.intent, Confidence: 1}, nil
			}
		}
	}
	return Intent{}, nil
}

// Ping always succeeds; the classifier is local.
func (k *KeywordClassifier) Ping(context.Context) error { return nil }
