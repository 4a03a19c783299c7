package drama

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bdobrica/butai/internal/butai/snapshot"
)

// ErrNoSnapshotStore is returned by Save and Restore when the engine was
// built without a snapshot store.
var ErrNoSnapshotStore = errors.New("no snapshot store configured")

// Save writes every session and user memory pool to the snapshot store.
func (e *Engine) Save(ctx context.Context) error {
	if e.deps.Snapshots == nil {
		return ErrNoSnapshotStore
	}
	snap := snapshot.Empty()
	for _, s := range e.sessions.List() {
		snap.Sessions[s.Correspondent] = snapshot.SessionRecord{
			ID:        s.ID,
			Character: s.Character,
			Scenario:  s.Scenario,
			Room:      s.Room,
			CreatedAt: s.CreatedAt,
			UpdatedAt: s.UpdatedAt,
		}
	}
	snap.Memory = e.pools.Export()
	if err := e.deps.Snapshots.Save(ctx, snap); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	slog.Info("drama: snapshot saved", "sessions", len(snap.Sessions))
	return nil
}

// Restore replaces sessions and user memory with the stored snapshot. An
// empty store leaves the engine empty. Last-turn buffers start fresh.
func (e *Engine) Restore(ctx context.Context) error {
	if e.deps.Snapshots == nil {
		return ErrNoSnapshotStore
	}
	snap, err := e.deps.Snapshots.Load(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	table := e.table.Current()
	sessions := make([]Session, 0, len(snap.Sessions))
	for who, rec := range snap.Sessions {
		if _, ok := table.Scene(rec.Scenario); !ok {
			slog.Warn("drama: restored session refers to an unknown scenario",
				"correspondent", who, "scenario", rec.Scenario)
		}
		sessions = append(sessions, Session{
			ID:            rec.ID,
			Correspondent: who,
			Room:          rec.Room,
			Scenario:      rec.Scenario,
			Character:     rec.Character,
			CreatedAt:     rec.CreatedAt,
			UpdatedAt:     rec.UpdatedAt,
		})
	}
	e.sessions.Replace(sessions)
	e.pools.Import(snap.Memory)
	slog.Info("drama: snapshot restored", "sessions", len(sessions))
	return nil
}
