// Package scenario holds the rule table that drives the play: for every
// scenario and every character cast in it, a mapping from trigger keys
// (intent labels or extracted entities) to pre-parsed action scripts.
package scenario

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"golang.org/x/text/cases"
)

// Reserved trigger keys.
const (
	KeyDescription = "DESCRIPTIONTEXT"
	KeyDefault     = "DEFAULT"
	KeyWelcome     = "WELCOMEWORD"
)

// ErrValidation is wrapped by every load-time validation failure.
var ErrValidation = errors.New("scenario validation failed")

// ErrCastChanged is returned by Holder.Replace when the replacement table
// does not cast the same characters in the same scenarios.
var ErrCastChanged = errors.New("scenario cast changed")

// FoldKey normalises a trigger key for lookup.
func FoldKey(key string) string {
	return cases.Fold().String(strings.TrimSpace(key))
}

// Role is one character's rules within a scenario.
type Role struct {
	Character   string
	Description string
	Welcome     string
	triggers    map[string]Script
	keys        []string
}

// Script returns the script for a trigger key.
func (r *Role) Script(key string) (Script, bool) {
	s, ok := r.triggers[FoldKey(key)]
	return s, ok
}

// Default returns the DEFAULT script. Validation guarantees it is present.
func (r *Role) Default() Script {
	return r.triggers[FoldKey(KeyDefault)]
}

// Triggers lists the role's trigger keys in sheet order, reserved keys excluded.
func (r *Role) Triggers() []string {
	return slices.Clone(r.keys)
}

// Scene is one scenario: its cast in column order and their roles.
type Scene struct {
	ID         string
	Characters []string
	roles      map[string]*Role
}

// Role returns the rules for character. A character not cast in this scene
// gets the first cast member's rules, and ok reports whether it was cast.
func (s *Scene) Role(character string) (role *Role, ok bool) {
	if r, found := s.roles[character]; found {
		return r, true
	}
	return s.roles[s.Characters[0]], false
}

// Table is an immutable, validated rule table.
type Table struct {
	order  []string
	scenes map[string]*Scene
}

// Scene looks up a scenario by ID.
func (t *Table) Scene(id string) (*Scene, bool) {
	s, ok := t.scenes[id]
	return s, ok
}

// Scenarios returns scenario IDs in load order.
func (t *Table) Scenarios() []string {
	return slices.Clone(t.order)
}

// Cast returns scenario ID → sorted character names.
func (t *Table) Cast() map[string][]string {
	out := make(map[string][]string, len(t.scenes))
	for id, s := range t.scenes {
		chars := slices.Clone(s.Characters)
		sort.Strings(chars)
		out[id] = chars
	}
	return out
}

// SameCast reports whether t and other contain the same scenarios with the
// same characters.
func (t *Table) SameCast(other *Table) bool {
	a, b := t.Cast(), other.Cast()
	if len(a) != len(b) {
		return false
	}
	for id, chars := range a {
		if !slices.Equal(chars, b[id]) {
			return false
		}
	}
	return true
}

// sheet is the loader-independent form of one scenario before compilation.
type sheet struct {
	name       string
	characters []string
	keys       []string
	// cells[key][character] is the raw cell text.
	cells map[string]map[string]string
}

// compile validates the sheets and builds a Table. All problems are
// reported together.
func compile(sheets []sheet) (*Table, error) {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	t := &Table{scenes: make(map[string]*Scene, len(sheets))}
	if len(sheets) == 0 {
		fail("no scenarios defined")
	}

	for _, sh := range sheets {
		if sh.name == "" {
			fail("scenario with empty name")
			continue
		}
		if _, dup := t.scenes[sh.name]; dup {
			fail("scenario %q: defined twice", sh.name)
			continue
		}
		if len(sh.characters) == 0 {
			fail("scenario %q: no characters", sh.name)
			continue
		}

		scene := &Scene{ID: sh.name, roles: make(map[string]*Role, len(sh.characters))}
		for _, ch := range sh.characters {
			if _, dup := scene.roles[ch]; dup {
				fail("scenario %q: character %q appears twice", sh.name, ch)
				continue
			}
			role := &Role{Character: ch, triggers: make(map[string]Script)}
			for _, key := range sh.keys {
				cell := strings.TrimSpace(sh.cells[key][ch])
				if cell == "" {
					continue
				}
				switch folded := FoldKey(key); folded {
				case FoldKey(KeyDescription):
					role.Description = cell
				case FoldKey(KeyWelcome):
					role.Welcome = cell
				default:
					if _, dup := role.triggers[folded]; dup {
						fail("scenario %q: trigger %q repeated", sh.name, key)
						continue
					}
					role.triggers[folded] = ParseScript(cell)
					if folded != FoldKey(KeyDefault) {
						role.keys = append(role.keys, key)
					}
				}
			}
			if role.Description == "" {
				fail("scenario %q: character %q has no %s", sh.name, ch, KeyDescription)
			}
			if len(role.Default()) == 0 {
				fail("scenario %q: character %q has no %s", sh.name, ch, KeyDefault)
			}
			scene.roles[ch] = role
			scene.Characters = append(scene.Characters, ch)
		}
		t.scenes[sh.name] = scene
		t.order = append(t.order, sh.name)
	}

	for _, id := range t.order {
		scene := t.scenes[id]
		for _, ch := range scene.Characters {
			role := scene.roles[ch]
			for _, script := range role.triggers {
				for _, target := range script.Transitions() {
					if _, ok := t.scenes[target]; !ok {
						fail("scenario %q: character %q transitions to unknown scenario %q", id, ch, target)
					}
				}
			}
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrValidation, errors.Join(errs...))
	}
	return t, nil
}
