package memory

import "sync"

// Utterance is one logical line of dialogue.
type Utterance struct {
	Speaker string
	Text    string
}

// LastTurn is the unresolved exchange for one (correspondent, scenario,
// character) triple: what the bot said last and everything the
// correspondent has said since.
type LastTurn struct {
	Utterances []Utterance
}

// Speaker returns who spoke last, or "" for an empty turn.
func (l LastTurn) Speaker() string {
	if len(l.Utterances) == 0 {
		return ""
	}
	return l.Utterances[len(l.Utterances)-1].Speaker
}

// Record adds text spoken by speaker. When speaker also spoke last, text is
// merged into that utterance with joiner so consecutive messages form one
// logical turn.
func (l *LastTurn) Record(speaker, text, joiner string) {
	if n := len(l.Utterances); n > 0 && l.Utterances[n-1].Speaker == speaker {
		l.Utterances[n-1].Text += joiner + text
		return
	}
	l.Utterances = append(l.Utterances, Utterance{Speaker: speaker, Text: text})
}

// Since returns the utterances after the last one by speaker.
func (l LastTurn) Since(speaker string) []Utterance {
	for i := len(l.Utterances) - 1; i >= 0; i-- {
		if l.Utterances[i].Speaker == speaker {
			return append([]Utterance(nil), l.Utterances[i+1:]...)
		}
	}
	return append([]Utterance(nil), l.Utterances...)
}

func (l LastTurn) clone() LastTurn {
	return LastTurn{Utterances: append([]Utterance(nil), l.Utterances...)}
}

type turnKey struct {
	who, scenario, character string
}

// Turns holds last-turn buffers. It is not persisted.
type Turns struct {
	mu sync.Mutex
	m  map[turnKey]LastTurn
}

// NewTurns returns an empty buffer set.
func NewTurns() *Turns {
	return &Turns{m: make(map[turnKey]LastTurn)}
}

// Get returns a copy of the buffer for the triple.
func (t *Turns) Get(who, scenario, character string) LastTurn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.m[turnKey{who, scenario, character}].clone()
}

// Set replaces the buffer for the triple.
func (t *Turns) Set(who, scenario, character string, turn LastTurn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m[turnKey{who, scenario, character}] = turn.clone()
}

// Forget drops every buffer belonging to who.
func (t *Turns) Forget(who string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k := range t.m {
		if k.who == who {
			delete(t.m, k)
		}
	}
}
