package matrix

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
)

var _ mautrix.SyncStore = (*DBSyncStore)(nil)

// DBSyncStore persists the sync position so that a restarted bot does not
// answer the backlog a second time.
type DBSyncStore struct {
	db *sql.DB
}

// NewDBSyncStore needs the store migrations to have run on db.
func NewDBSyncStore(db *sql.DB) *DBSyncStore {
	return &DBSyncStore{db: db}
}

func (s *DBSyncStore) SaveFilterID(ctx context.Context, userID id.UserID, filterID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO matrix_sync_state (user_id, filter_id, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET filter_id = excluded.filter_id, updated_at = excluded.updated_at`,
		string(userID), filterID, now())
	if err != nil {
		return fmt.Errorf("sync store: filter for %s: %w", userID, err)
	}
	return nil
}

func (s *DBSyncStore) SaveNextBatch(ctx context.Context, userID id.UserID, nextBatchToken string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO matrix_sync_state (user_id, next_batch, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET next_batch = excluded.next_batch, updated_at = excluded.updated_at`,
		string(userID), nextBatchToken, now())
	if err != nil {
		return fmt.Errorf("sync store: position for %s: %w", userID, err)
	}
	return nil
}

func (s *DBSyncStore) LoadFilterID(ctx context.Context, userID id.UserID) (string, error) {
	filter, _, err := s.row(ctx, userID)
	return filter, err
}

// LoadNextBatch returns "" on the first run.
func (s *DBSyncStore) LoadNextBatch(ctx context.Context, userID id.UserID) (string, error) {
	_, batch, err := s.row(ctx, userID)
	return batch, err
}

func (s *DBSyncStore) row(ctx context.Context, userID id.UserID) (filter, batch string, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT filter_id, next_batch FROM matrix_sync_state WHERE user_id = ?`,
		string(userID)).Scan(&filter, &batch)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", nil
	}
	if err != nil {
		return "", "", fmt.Errorf("sync store: read %s: %w", userID, err)
	}
	return filter, batch, nil
}

func now() string { return time.Now().UTC().Format(time.RFC3339) }
