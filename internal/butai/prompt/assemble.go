// Package prompt turns a turn's context into the completion prompt.
//
// The prompt is written as a continuation: background text, what was said
// just now, and the persona's name with an open quote so the model writes
// the next line of dialogue.
package prompt

import (
	"strings"

	"github.com/bdobrica/butai/internal/butai/memory"
)

// Phrasing holds the connective text used to render dialogue.
type Phrasing struct {
	// Self is the persona's name as it appears in dialogue lines.
	Self string `yaml:"self"`
	// Says follows a speaker's name, before the opening quote.
	Says string `yaml:"says"`
	// OpenQuote and CloseQuote wrap a spoken line.
	OpenQuote  string `yaml:"open_quote"`
	CloseQuote string `yaml:"close_quote"`
	// JustNow and Now wrap retrieved conversation memory.
	JustNow string `yaml:"just_now"`
	Now     string `yaml:"now"`
	// Joiner merges consecutive messages from one speaker.
	Joiner string `yaml:"joiner"`
	// ReplyJoiner joins several bot replies from one turn.
	ReplyJoiner string `yaml:"reply_joiner"`
}

// DefaultPhrasing renders second-person Chinese stage dialogue.
func DefaultPhrasing() Phrasing {
	return Phrasing{
		Self:        "你",
		Says:        "说：",
		OpenQuote:   "“",
		CloseQuote:  "”",
		JustNow:     "刚才",
		Now:         "，现在",
		Joiner:      "，",
		ReplyJoiner: "。",
	}
}

// WithDefaults fills empty fields from DefaultPhrasing.
func (p Phrasing) WithDefaults() Phrasing {
	d := DefaultPhrasing()
	fill := func(dst *string, def string) {
		if *dst == "" {
			*dst = def
		}
	}
	fill(&p.Self, d.Self)
	fill(&p.Says, d.Says)
	fill(&p.OpenQuote, d.OpenQuote)
	fill(&p.CloseQuote, d.CloseQuote)
	fill(&p.JustNow, d.JustNow)
	fill(&p.Now, d.Now)
	fill(&p.Joiner, d.Joiner)
	fill(&p.ReplyJoiner, d.ReplyJoiner)
	return p
}

// Line renders a complete spoken line: 海达说：“你好”.
func (p Phrasing) Line(speaker, text string) string {
	return speaker + p.Says + p.OpenQuote + text + p.CloseQuote
}

// Dialogue renders utterances as consecutive lines.
func (p Phrasing) Dialogue(utterances []memory.Utterance) string {
	var b strings.Builder
	for _, u := range utterances {
		b.WriteString(p.Line(u.Speaker, u.Text))
	}
	return b.String()
}

// Parts are the inputs of Assemble. Empty fields are omitted.
type Parts struct {
	// PersonaRelation is the relation text keyed by the persona's own name.
	PersonaRelation string
	// CharacterRelation is the relation text keyed by the correspondent's character.
	CharacterRelation string
	// Description is the scenario's DESCRIPTIONTEXT for the character.
	Description string
	SelfMemory  string
	// Memory is retrieved conversation memory.
	Memory string
	// Dialogue is the rendered last-turn buffer.
	Dialogue string
	// Fragment is the generation token's persona fragment, e.g. "笑着".
	Fragment string
}

// Assemble builds the prompt. It is deterministic and has no side effects.
func Assemble(parts Parts, p Phrasing) string {
	var b strings.Builder
	b.WriteString(parts.PersonaRelation)
	b.WriteString(parts.CharacterRelation)
	b.WriteString(parts.Description)
	b.WriteString(parts.SelfMemory)
	if parts.Memory != "" {
		b.WriteString(p.JustNow)
		b.WriteString(parts.Memory)
		b.WriteString(p.Now)
	}
	b.WriteString(parts.Dialogue)
	b.WriteString(p.Self)
	b.WriteString(parts.Fragment)
	b.WriteString(p.Says)
	b.WriteString(p.OpenQuote)
	return b.String()
}
