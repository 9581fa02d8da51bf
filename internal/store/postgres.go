package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createSnapshotsTable = `CREATE TABLE IF NOT EXISTS project_snapshots (
	project_id text PRIMARY KEY,
	document   jsonb NOT NULL,
	comments   jsonb NOT NULL,
	updated_at timestamptz NOT NULL
)`

const upsertSnapshot = `INSERT INTO project_snapshots (project_id, document, comments, updated_at)
VALUES ($1, $2::jsonb, $3::jsonb, $4)
ON CONFLICT (project_id) DO UPDATE
SET document = EXCLUDED.document, comments = EXCLUDED.comments, updated_at = EXCLUDED.updated_at
WHERE project_snapshots.updated_at <= EXCLUDED.updated_at`

// PostgresSink writes snapshots into the project_snapshots table.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// OpenPostgresSink connects to databaseURL and makes sure the snapshot table
// exists.
func OpenPostgresSink(ctx context.Context, databaseURL string) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, createSnapshotsTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create snapshot table: %w", err)
	}
	return &PostgresSink{pool: pool}, nil
}

// WriteSnapshots upserts all snapshots in one batch. An older snapshot never
// replaces a newer one.
func (s *PostgresSink) WriteSnapshots(ctx context.Context, snapshots []Snapshot) error {
	batch := &pgx.Batch{}
	for _, snap := range snapshots {
		doc, err := json.Marshal(snap.Document)
		if err != nil {
			return fmt.Errorf("encode snapshot document %s: %w", snap.ProjectID, err)
		}
		comments, err := json.Marshal(snap.Threads)
		if err != nil {
			return fmt.Errorf("encode snapshot comments %s: %w", snap.ProjectID, err)
		}
		batch.Queue(upsertSnapshot, snap.ProjectID, string(doc), string(comments), snap.TakenAt)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for _, snap := range snapshots {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert snapshot %s: %w", snap.ProjectID, err)
		}
	}
	return nil
}

// LoadSnapshot returns the last snapshot written for projectID.
func (s *PostgresSink) LoadSnapshot(ctx context.Context, projectID string) (Snapshot, error) {
	var (
		doc, comments []byte
		snap          = Snapshot{ProjectID: projectID}
	)
	err := s.pool.QueryRow(ctx,
		`SELECT document::text, comments::text, updated_at FROM project_snapshots WHERE project_id = $1`,
		projectID,
	).Scan(&doc, &comments, &snap.TakenAt)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load snapshot %s: %w", projectID, err)
	}
	if err := json.Unmarshal(doc, &snap.Document); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot document %s: %w", projectID, err)
	}
	if err := json.Unmarshal(comments, &snap.Threads); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot comments %s: %w", projectID, err)
	}
	return snap, nil
}

// Close releases the connection pool.
func (s *PostgresSink) Close() {
	s.pool.Close()
}
