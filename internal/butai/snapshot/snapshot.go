// Package snapshot persists the play's durable state: which character and
// scenario every correspondent is in, and their accumulated memory.
//
// Last-turn buffers are not stored; they start empty
// after a restart.
package snapshot

import (
	"context"
	"time"

	"github.com/bdobrica/butai/internal/butai/memory"
)

// SessionRecord is the persisted form of one correspondent's session.
type SessionRecord struct {
	ID        string    `json:"id"`
	Character string    `json:"character"`
	Scenario  string    `json:"scenario"`
	Room      string    `json:"room,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot is everything saved by the "save" command.
type Snapshot struct {
	// Sessions is keyed by correspondent ID.
	Sessions map[string]SessionRecord
	// Memory is keyed by correspondent ID, then scenario ID.
	Memory map[string]map[string][]memory.Entry
}

// Empty returns a snapshot with initialised maps.
func Empty() Snapshot {
	return Snapshot{
		Sessions: map[string]SessionRecord{},
		Memory:   map[string]map[string][]memory.Entry{},
	}
}

// normalised replaces nil maps, which a stored JSON null decodes to.
func (s Snapshot) normalised() Snapshot {
	if s.Sessions == nil {
		s.Sessions = map[string]SessionRecord{}
	}
	if s.Memory == nil {
		s.Memory = map[string]map[string][]memory.Entry{}
	}
	return s
}

// Store saves and loads snapshots. Loading when nothing was saved yet
// returns Empty() and no error.
type Store interface {
	Save(ctx context.Context, s Snapshot) error
	Load(ctx context.Context) (Snapshot, error)
}
