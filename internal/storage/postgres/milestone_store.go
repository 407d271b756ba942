package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"contest-engine/internal/domain"
	"contest-engine/internal/storage"
)

// MilestoneStore implements storage.MilestoneStore using PostgreSQL.
// Concurrent workers racing on the same idempotency key are serialized by the
// primary key constraint, never by application locks.
type MilestoneStore struct {
	pool *Pool
}

// NewMilestoneStore creates a new MilestoneStore.
func NewMilestoneStore(pool *Pool) *MilestoneStore {
	return &MilestoneStore{pool: pool}
}

// Compile-time interface check.
var _ storage.MilestoneStore = (*MilestoneStore)(nil)

const milestoneSelect = `
	SELECT idempotency_key, contest_id, chain_id, milestone, source_tx_hash, source_log_index,
	       source_block, status, attempts, payload, last_error, updated_at
	FROM milestone_executions`

// Get retrieves a record by idempotency key.
func (s *MilestoneStore) Get(ctx context.Context, idempotencyKey string) (*domain.MilestoneExecution, error) {
	row := s.pool.QueryRow(ctx, milestoneSelect+` WHERE idempotency_key = $1`, idempotencyKey)
	return scanMilestone(row)
}

// Create inserts a new record. Returns ErrDuplicateKey if the key exists.
func (s *MilestoneStore) Create(ctx context.Context, rec *domain.MilestoneExecution) error {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("marshal milestone payload: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO milestone_executions (
			idempotency_key, contest_id, chain_id, milestone, source_tx_hash, source_log_index,
			source_block, status, attempts, payload, last_error, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		rec.IdempotencyKey, rec.ContestID, rec.ChainID, rec.Milestone,
		rec.SourceTxHash, rec.SourceLogIndex, rec.SourceBlock,
		rec.Status, rec.Attempts, payload, rec.LastError, rec.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert milestone execution: %w", err)
	}
	return nil
}

// Update persists status, attempts, lastError and updatedAt for the key.
func (s *MilestoneStore) Update(ctx context.Context, rec *domain.MilestoneExecution) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE milestone_executions
		SET status = $2, attempts = $3, last_error = $4, updated_at = $5
		WHERE idempotency_key = $1
	`, rec.IdempotencyKey, rec.Status, rec.Attempts, rec.LastError, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update milestone execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListByStatus returns records in the given status, oldest first.
func (s *MilestoneStore) ListByStatus(ctx context.Context, status string) ([]*domain.MilestoneExecution, error) {
	rows, err := s.pool.Query(ctx, milestoneSelect+` WHERE status = $1 ORDER BY updated_at ASC`, status)
	if err != nil {
		return nil, fmt.Errorf("list milestone executions: %w", err)
	}
	defer rows.Close()

	var recs []*domain.MilestoneExecution
	for rows.Next() {
		rec, err := scanMilestone(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate milestone rows: %w", err)
	}
	return recs, nil
}

func scanMilestone(row pgx.Row) (*domain.MilestoneExecution, error) {
	var rec domain.MilestoneExecution
	var payload []byte

	err := row.Scan(
		&rec.IdempotencyKey, &rec.ContestID, &rec.ChainID, &rec.Milestone,
		&rec.SourceTxHash, &rec.SourceLogIndex, &rec.SourceBlock,
		&rec.Status, &rec.Attempts, &payload, &rec.LastError, &rec.UpdatedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scan milestone row: %w", err)
	}
	if err := json.Unmarshal(payload, &rec.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal milestone payload: %w", err)
	}
	return &rec, nil
}

// ControlStore implements storage.ControlStore using PostgreSQL.
type ControlStore struct {
	pool *Pool
}

// NewControlStore creates a new ControlStore.
func NewControlStore(pool *Pool) *ControlStore {
	return &ControlStore{pool: pool}
}

var _ storage.ControlStore = (*ControlStore)(nil)

// Get retrieves the control row for a contest.
func (s *ControlStore) Get(ctx context.Context, contestID string) (*domain.ContestControl, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT contest_id, milestones_paused, updated_by, updated_at
		FROM contest_controls
		WHERE contest_id = $1
	`, contestID)

	var c domain.ContestControl
	err := row.Scan(&c.ContestID, &c.MilestonesPaused, &c.UpdatedBy, &c.UpdatedAt)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scan contest control: %w", err)
	}
	return &c, nil
}

// Upsert inserts or replaces the control row.
func (s *ControlStore) Upsert(ctx context.Context, c *domain.ContestControl) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO contest_controls (contest_id, milestones_paused, updated_by, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (contest_id) DO UPDATE
		SET milestones_paused = EXCLUDED.milestones_paused,
		    updated_by = EXCLUDED.updated_by,
		    updated_at = EXCLUDED.updated_at
	`, c.ContestID, c.MilestonesPaused, c.UpdatedBy, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert contest control: %w", err)
	}
	return nil
}
