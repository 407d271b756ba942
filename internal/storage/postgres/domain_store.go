package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"contest-engine/internal/domain"
	"contest-engine/internal/storage"
)

// DomainStore implements storage.DomainStore using PostgreSQL.
// Write-engine mutations run through WithinTx; contest reads inside a
// transaction take FOR UPDATE row locks so concurrent writers serialize.
type DomainStore struct {
	pool *Pool
}

// NewDomainStore creates a new DomainStore.
func NewDomainStore(pool *Pool) *DomainStore {
	return &DomainStore{pool: pool}
}

// Compile-time interface checks.
var (
	_ storage.DomainStore = (*DomainStore)(nil)
	_ storage.DomainTx    = (*domainTx)(nil)
)

// WithinTx runs fn inside one transaction. Any error rolls the transaction back.
func (s *DomainStore) WithinTx(ctx context.Context, fn func(tx storage.DomainTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&domainTx{q: tx, forUpdate: " FOR UPDATE"}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetContestByID retrieves a contest outside any transaction.
func (s *DomainStore) GetContestByID(ctx context.Context, id string) (*domain.Contest, error) {
	return (&domainTx{q: s.pool}).GetContestByID(ctx, id)
}

// GetContestByAddress retrieves a contest by (chain id, contract address).
func (s *DomainStore) GetContestByAddress(ctx context.Context, chainID int64, address string) (*domain.Contest, error) {
	return (&domainTx{q: s.pool}).GetContestByAddress(ctx, chainID, address)
}

// GetCursor retrieves the cursor for (chain id, contract address).
func (s *DomainStore) GetCursor(ctx context.Context, chainID int64, address string) (*domain.IngestionCursor, error) {
	return (&domainTx{q: s.pool}).GetCursor(ctx, chainID, address)
}

// GetCursorByContest retrieves the cursor linked to a contest.
func (s *DomainStore) GetCursorByContest(ctx context.Context, contestID string) (*domain.IngestionCursor, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT chain_id, contract_address, COALESCE(contest_id::text, ''), height, log_index, block_hash, updated_at
		FROM ingestion_cursors
		WHERE contest_id = $1
	`, contestID)
	return scanCursor(row)
}

// ListContests returns every tracked contest, oldest first.
func (s *DomainStore) ListContests(ctx context.Context) ([]*domain.Contest, error) {
	rows, err := s.pool.Query(ctx, contestSelect+` ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list contests: %w", err)
	}
	defer rows.Close()

	var contests []*domain.Contest
	for rows.Next() {
		c, err := scanContestRow(rows)
		if err != nil {
			return nil, err
		}
		contests = append(contests, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contest rows: %w", err)
	}
	return contests, nil
}

// domainTx implements storage.DomainTx over either a pgx.Tx or the pool.
type domainTx struct {
	q         querier
	forUpdate string // " FOR UPDATE" inside a transaction, "" otherwise
}

const contestSelect = `
	SELECT id, chain_id, contract_address, internal_key, status, window_start, window_end,
	       origin_tag, sealed_at, metadata, created_at, updated_at
	FROM contests`

func (t *domainTx) GetContestByID(ctx context.Context, id string) (*domain.Contest, error) {
	row := t.q.QueryRow(ctx, contestSelect+` WHERE id = $1`+t.forUpdate, id)
	return scanContestRow(row)
}

func (t *domainTx) GetContestByKey(ctx context.Context, internalKey string) (*domain.Contest, error) {
	row := t.q.QueryRow(ctx, contestSelect+` WHERE internal_key = $1`+t.forUpdate, internalKey)
	return scanContestRow(row)
}

func (t *domainTx) GetContestByAddress(ctx context.Context, chainID int64, address string) (*domain.Contest, error) {
	row := t.q.QueryRow(ctx, contestSelect+` WHERE chain_id = $1 AND contract_address = $2`+t.forUpdate, chainID, address)
	return scanContestRow(row)
}

func (t *domainTx) InsertContest(ctx context.Context, c *domain.Contest) error {
	meta, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("marshal contest metadata: %w", err)
	}

	_, err = t.q.Exec(ctx, `
		INSERT INTO contests (
			id, chain_id, contract_address, internal_key, status, window_start, window_end,
			origin_tag, sealed_at, metadata, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		c.ID, c.ChainID, c.ContractAddress, c.InternalKey, c.Status, c.WindowStart, c.WindowEnd,
		c.OriginTag, c.SealedAt, meta, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert contest: %w", err)
	}
	return nil
}

func (t *domainTx) UpdateContest(ctx context.Context, c *domain.Contest) error {
	meta, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("marshal contest metadata: %w", err)
	}

	tag, err := t.q.Exec(ctx, `
		UPDATE contests
		SET status = $2, sealed_at = $3, metadata = $4, updated_at = $5
		WHERE id = $1
	`, c.ID, c.Status, c.SealedAt, meta, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update contest: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (t *domainTx) InsertParticipant(ctx context.Context, p *domain.Participant) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO participants (
			contest_id, wallet_address, vault_ref, amount_wei, chain_id, tx_hash, log_index, occurred_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		p.ContestID, p.WalletAddress, p.VaultRef, p.AmountWei,
		p.Locator.ChainID, p.Locator.TxHash, p.Locator.LogIndex, p.OccurredAt, p.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

func (t *domainTx) CountParticipants(ctx context.Context, contestID string) (int, error) {
	var count int
	err := t.q.QueryRow(ctx, `SELECT COUNT(*) FROM participants WHERE contest_id = $1`, contestID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count participants: %w", err)
	}
	return count, nil
}

func (t *domainTx) MaxLeaderboardVersion(ctx context.Context, contestID string) (int64, bool, error) {
	var version *int64
	err := t.q.QueryRow(ctx, `
		SELECT MAX(version) FROM leaderboard_versions WHERE contest_id = $1
	`, contestID).Scan(&version)
	if err != nil {
		return 0, false, fmt.Errorf("max leaderboard version: %w", err)
	}
	if version == nil {
		return 0, false, nil
	}
	return *version, true, nil
}

func (t *domainTx) GetLeaderboardVersion(ctx context.Context, contestID string, version int64) (*domain.LeaderboardVersion, error) {
	row := t.q.QueryRow(ctx, `
		SELECT id, contest_id, version, entries, written_at, created_at
		FROM leaderboard_versions
		WHERE contest_id = $1 AND version = $2
	`, contestID, version)

	var v domain.LeaderboardVersion
	var entries []byte
	err := row.Scan(&v.ID, &v.ContestID, &v.Version, &entries, &v.WrittenAt, &v.CreatedAt)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get leaderboard version: %w", err)
	}
	if err := json.Unmarshal(entries, &v.Entries); err != nil {
		return nil, fmt.Errorf("unmarshal leaderboard entries: %w", err)
	}
	return &v, nil
}

func (t *domainTx) InsertLeaderboardVersion(ctx context.Context, v *domain.LeaderboardVersion) error {
	entries, err := json.Marshal(v.Entries)
	if err != nil {
		return fmt.Errorf("marshal leaderboard entries: %w", err)
	}

	_, err = t.q.Exec(ctx, `
		INSERT INTO leaderboard_versions (contest_id, version, entries, written_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, v.ContestID, v.Version, entries, v.WrittenAt, v.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert leaderboard version: %w", err)
	}
	return nil
}

func (t *domainTx) InsertRewardClaim(ctx context.Context, c *domain.RewardClaim) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO reward_claims (
			contest_id, wallet_address, amount_wei, chain_id, tx_hash, log_index, claimed_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		c.ContestID, c.WalletAddress, c.AmountWei,
		c.Locator.ChainID, c.Locator.TxHash, c.Locator.LogIndex, c.ClaimedAt, c.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert reward claim: %w", err)
	}
	return nil
}

func (t *domainTx) GetCursor(ctx context.Context, chainID int64, address string) (*domain.IngestionCursor, error) {
	row := t.q.QueryRow(ctx, `
		SELECT chain_id, contract_address, COALESCE(contest_id::text, ''), height, log_index, block_hash, updated_at
		FROM ingestion_cursors
		WHERE chain_id = $1 AND contract_address = $2`+t.forUpdate,
		chainID, address)
	return scanCursor(row)
}

func (t *domainTx) UpsertCursor(ctx context.Context, cur *domain.IngestionCursor) error {
	var contestID *string
	if cur.ContestID != "" {
		contestID = &cur.ContestID
	}

	_, err := t.q.Exec(ctx, `
		INSERT INTO ingestion_cursors (chain_id, contract_address, contest_id, height, log_index, block_hash, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (chain_id, contract_address) DO UPDATE
		SET contest_id = COALESCE(EXCLUDED.contest_id, ingestion_cursors.contest_id),
		    height = EXCLUDED.height,
		    log_index = EXCLUDED.log_index,
		    block_hash = EXCLUDED.block_hash,
		    updated_at = EXCLUDED.updated_at
	`, cur.ChainID, cur.ContractAddress, contestID, cur.Height, cur.LogIndex, cur.BlockHash, cur.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert cursor: %w", err)
	}
	return nil
}

func (t *domainTx) InsertIngestionEvent(ctx context.Context, e *domain.IngestionEvent) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	_, err = t.q.Exec(ctx, `
		INSERT INTO ingestion_events (contest_id, chain_id, tx_hash, log_index, kind, payload, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		e.ContestID, e.Locator.ChainID, e.Locator.TxHash, e.Locator.LogIndex,
		e.Kind, payload, e.RecordedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert ingestion event: %w", err)
	}
	return nil
}

// scanContestRow scans one contest row from either pgx.Row or pgx.Rows.
func scanContestRow(row pgx.Row) (*domain.Contest, error) {
	var c domain.Contest
	var meta []byte

	err := row.Scan(
		&c.ID, &c.ChainID, &c.ContractAddress, &c.InternalKey, &c.Status,
		&c.WindowStart, &c.WindowEnd, &c.OriginTag, &c.SealedAt, &meta,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scan contest row: %w", err)
	}
	if err := json.Unmarshal(meta, &c.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal contest metadata: %w", err)
	}
	return &c, nil
}

func scanCursor(row pgx.Row) (*domain.IngestionCursor, error) {
	var cur domain.IngestionCursor
	err := row.Scan(&cur.ChainID, &cur.ContractAddress, &cur.ContestID, &cur.Height, &cur.LogIndex, &cur.BlockHash, &cur.UpdatedAt)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scan cursor row: %w", err)
	}
	return &cur, nil
}
