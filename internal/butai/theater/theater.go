// Package theater lets two personas play a scene against each other with
// no human in the loop. It is used to rehearse a play before it goes live.
package theater

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/bdobrica/butai/internal/butai/generation"
	"github.com/bdobrica/butai/internal/butai/prompt"
	"github.com/bdobrica/butai/internal/butai/scenario"
)

// DefaultWindow is the least amount of recent dialogue, in runes, each
// persona keeps in its prompt.
const DefaultWindow = 150

// Generator produces one line for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt, history string) (string, error)
}

// Source is the part of a playbook a persona is read from.
type Source interface {
	Scenarios() (*scenario.Table, error)
	Relations() (map[string]string, error)
}

// Persona is one side of the rehearsal.
type Persona struct {
	// Name is how the other persona hears this one, e.g. 孙若.
	Name string
	// Character is how the other persona's scenario table casts this one.
	Character string

	table     *scenario.Table
	relations map[string]string
	memory    []string
}

// NewPersona loads a persona from src.
func NewPersona(name, character string, src Source) (*Persona, error) {
	table, err := src.Scenarios()
	if err != nil {
		return nil, fmt.Errorf("%s: load scenarios: %w", name, err)
	}
	relations, err := src.Relations()
	if err != nil {
		return nil, fmt.Errorf("%s: load relations: %w", name, err)
	}
	return &Persona{Name: name, Character: character, table: table, relations: relations}, nil
}

// Memory returns the persona's retained dialogue, oldest first.
func (p *Persona) Memory() []string {
	return append([]string(nil), p.memory...)
}

// Line is one spoken line of the rehearsal.
type Line struct {
	Round   int
	Speaker string
	Text    string
}

// Options configure a Theater.
type Options struct {
	Phrasing prompt.Phrasing
	// Window defaults to DefaultWindow.
	Window int
}

// Theater alternates two personas through one scenario.
type Theater struct {
	gen      Generator
	phrasing prompt.Phrasing
	window   int
}

// New returns a theater generating lines with gen.
func New(gen Generator, opts Options) *Theater {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	return &Theater{gen: gen, phrasing: opts.Phrasing.WithDefaults(), window: opts.Window}
}

// Run plays rounds rounds in scenarioID, first speaking first. Each line
// is passed to emit as soon as it is produced. A side whose generation is
// exhausted stays silent for that round; any other generation error ends
// the run.
func (t *Theater) Run(ctx context.Context, scenarioID string, rounds int, first, second *Persona, emit func(Line)) error {
	for _, p := range []*Persona{first, second} {
		other := second
		if p == second {
			other = first
		}
		if _, err := p.description(scenarioID, other.Character); err != nil {
			return err
		}
	}

	for round := 1; rounds <= 0 || round <= rounds; round++ {
		for _, pair := range [2][2]*Persona{{first, second}, {second, first}} {
			speaker, listener := pair[0], pair[1]
			text, err := t.speak(ctx, scenarioID, speaker, listener)
			if errors.Is(err, generation.ErrExhausted) {
				slog.Warn("theater: no usable line", "speaker", speaker.Name, "round", round)
				continue
			}
			if err != nil {
				return err
			}
			speaker.remember(t.phrasing.Line(t.phrasing.Self, text), t.window)
			listener.remember(t.phrasing.Line(speaker.Name, text), t.window)
			emit(Line{Round: round, Speaker: speaker.Name, Text: text})
		}
	}
	return nil
}

func (t *Theater) speak(ctx context.Context, scenarioID string, speaker, listener *Persona) (string, error) {
	desc, err := speaker.description(scenarioID, listener.Character)
	if err != nil {
		return "", err
	}
	recent := speaker.recent(t.window)
	parts := prompt.Parts{
		PersonaRelation:   speaker.relations[t.phrasing.Self],
		CharacterRelation: speaker.relations[listener.Character],
		Description:       desc,
		Dialogue:          recent,
	}
	return t.gen.Generate(ctx, prompt.Assemble(parts, t.phrasing), recent)
}

func (p *Persona) description(scenarioID, character string) (string, error) {
	scene, ok := p.table.Scene(scenarioID)
	if !ok {
		return "", fmt.Errorf("%s: unknown scenario %q", p.Name, scenarioID)
	}
	role, ok := scene.Role(character)
	if !ok {
		return "", fmt.Errorf("%s: scenario %q has no character %q", p.Name, scenarioID, character)
	}
	return role.Description, nil
}

// recent concatenates the newest lines until at least window runes are
// covered.
func (p *Persona) recent(window int) string {
	return strings.Join(p.memory[p.keepFrom(window):], "")
}

func (p *Persona) remember(line string, window int) {
	p.memory = append(p.memory, line)
	p.memory = p.memory[p.keepFrom(window):]
}

// keepFrom returns the index of the oldest line needed to cover window runes.
func (p *Persona) keepFrom(window int) int {
	n := 0
	for i := len(p.memory) - 1; i >= 0; i-- {
		n += utf8.RuneCountInString(p.memory[i])
		if n >= window {
			return i
		}
	}
	return 0
}
