package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"TranchePool/internal/pool"
)

// SnapshotStore persists full engine-state snapshots to Postgres. On
// restart the newest snapshot is loaded and handed to the pool's Restore.
type SnapshotStore struct {
	db *sql.DB
}

func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// Save writes a snapshot and returns its encoded size in bytes.
func (s *SnapshotStore) Save(ctx context.Context, snap *pool.Snapshot) (int, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tranche_pool.snapshots (snapshot_id, data, size_bytes, created_at)
		VALUES ($1, $2, $3, $4)
	`, uuid.New(), data, len(data), snap.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}
	return len(data), nil
}

// LoadLatest returns the most recent snapshot, or nil when none exists.
func (s *SnapshotStore) LoadLatest(ctx context.Context) (*pool.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT data FROM tranche_pool.snapshots
		ORDER BY created_at DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap pool.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// Prune deletes all but the newest keep snapshots.
func (s *SnapshotStore) Prune(ctx context.Context, keep int) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM tranche_pool.snapshots
		WHERE snapshot_id NOT IN (
			SELECT snapshot_id FROM tranche_pool.snapshots
			ORDER BY created_at DESC
			LIMIT $1
		)
	`, keep)
	return err
}
