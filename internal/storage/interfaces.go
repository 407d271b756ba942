package storage

import (
	"context"

	"contest-engine/internal/domain"
)

// DomainTx is the transactional view the write engine mutates. Every method
// runs inside the surrounding transaction; reads of contest rows take row
// locks so concurrent writers on the same contest serialize.
type DomainTx interface {
	// GetContestByID retrieves a contest by id. Returns ErrNotFound if not exists.
	GetContestByID(ctx context.Context, id string) (*domain.Contest, error)

	// GetContestByKey retrieves a contest by its deterministic internal key.
	GetContestByKey(ctx context.Context, internalKey string) (*domain.Contest, error)

	// GetContestByAddress retrieves a contest by (chain id, contract address).
	GetContestByAddress(ctx context.Context, chainID int64, address string) (*domain.Contest, error)

	// InsertContest adds a new contest. Returns ErrDuplicateKey if the
	// internal key already exists.
	InsertContest(ctx context.Context, c *domain.Contest) error

	// UpdateContest persists status, sealedAt, metadata and updatedAt.
	UpdateContest(ctx context.Context, c *domain.Contest) error

	// InsertParticipant adds a participant row. Returns ErrDuplicateKey if
	// the event locator already exists.
	InsertParticipant(ctx context.Context, p *domain.Participant) error

	// CountParticipants returns the number of participant rows for a contest.
	CountParticipants(ctx context.Context, contestID string) (int, error)

	// MaxLeaderboardVersion returns the highest stored version for a contest.
	// ok is false when no version has been written yet.
	MaxLeaderboardVersion(ctx context.Context, contestID string) (version int64, ok bool, err error)

	// GetLeaderboardVersion retrieves one stored version. Returns ErrNotFound
	// if not exists.
	GetLeaderboardVersion(ctx context.Context, contestID string, version int64) (*domain.LeaderboardVersion, error)

	// InsertLeaderboardVersion adds a version row. Returns ErrDuplicateKey if
	// (contest_id, version) already exists.
	InsertLeaderboardVersion(ctx context.Context, v *domain.LeaderboardVersion) error

	// InsertRewardClaim adds a reward claim row. Returns ErrDuplicateKey if
	// the event locator already exists.
	InsertRewardClaim(ctx context.Context, c *domain.RewardClaim) error

	// GetCursor retrieves the ingestion cursor for (chain id, contract
	// address). Returns ErrNotFound if no cursor has been written.
	GetCursor(ctx context.Context, chainID int64, address string) (*domain.IngestionCursor, error)

	// UpsertCursor inserts or replaces the cursor row. Ordering is enforced
	// by the caller; the store only persists.
	UpsertCursor(ctx context.Context, cur *domain.IngestionCursor) error

	// InsertIngestionEvent adds an audit row. Returns ErrDuplicateKey if
	// (contest_id, chain_id, tx_hash, log_index) already exists.
	InsertIngestionEvent(ctx context.Context, e *domain.IngestionEvent) error
}

// DomainStore provides transactional access for the write engine plus
// read-only lookups for collaborators.
type DomainStore interface {
	// WithinTx runs fn inside one transaction. Any error from fn rolls the
	// transaction back and is returned unchanged.
	WithinTx(ctx context.Context, fn func(tx DomainTx) error) error

	// GetContestByID retrieves a contest outside any transaction.
	GetContestByID(ctx context.Context, id string) (*domain.Contest, error)

	// GetContestByAddress retrieves a contest by (chain id, contract address).
	GetContestByAddress(ctx context.Context, chainID int64, address string) (*domain.Contest, error)

	// GetCursor retrieves the cursor for (chain id, contract address).
	GetCursor(ctx context.Context, chainID int64, address string) (*domain.IngestionCursor, error)

	// GetCursorByContest retrieves the cursor linked to a contest.
	GetCursorByContest(ctx context.Context, contestID string) (*domain.IngestionCursor, error)

	// ListContests returns every tracked contest.
	ListContests(ctx context.Context) ([]*domain.Contest, error)
}

// MilestoneStore provides persistence for milestone execution records.
// Coordination between concurrent workers relies on Create's unique key.
type MilestoneStore interface {
	// Get retrieves a record by idempotency key. Returns ErrNotFound if not exists.
	Get(ctx context.Context, idempotencyKey string) (*domain.MilestoneExecution, error)

	// Create inserts a new record. Returns ErrDuplicateKey if the key exists.
	Create(ctx context.Context, rec *domain.MilestoneExecution) error

	// Update persists status, attempts, lastError and updatedAt for the key.
	Update(ctx context.Context, rec *domain.MilestoneExecution) error

	// ListByStatus returns records in the given status, oldest first.
	ListByStatus(ctx context.Context, status string) ([]*domain.MilestoneExecution, error)
}

// ControlStore persists per-contest processing controls.
type ControlStore interface {
	// Get retrieves the control row. Returns ErrNotFound if none exists.
	Get(ctx context.Context, contestID string) (*domain.ContestControl, error)

	// Upsert inserts or replaces the control row.
	Upsert(ctx context.Context, c *domain.ContestControl) error
}

// ReportStore provides persistence for reconciliation reports.
type ReportStore interface {
	// Get retrieves a report by id. Returns ErrNotFound if not exists.
	Get(ctx context.Context, reportID string) (*domain.ReconciliationReport, error)

	// Create inserts a new report. Returns ErrDuplicateKey if reportID exists.
	Create(ctx context.Context, r *domain.ReconciliationReport) error

	// Update persists the mutable fields of an existing report.
	Update(ctx context.Context, r *domain.ReconciliationReport) error

	// ListByStatus returns reports in the given status, oldest first.
	ListByStatus(ctx context.Context, status string) ([]*domain.ReconciliationReport, error)
}
