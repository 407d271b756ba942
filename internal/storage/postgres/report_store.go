package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"contest-engine/internal/domain"
	"contest-engine/internal/storage"
)

// ReportStore implements storage.ReportStore using PostgreSQL.
type ReportStore struct {
	pool *Pool
}

// NewReportStore creates a new ReportStore.
func NewReportStore(pool *Pool) *ReportStore {
	return &ReportStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ReportStore = (*ReportStore)(nil)

const reportSelect = `
	SELECT report_id, contest_id, chain_id, from_block, to_block, status, attempts,
	       job_attempt_id, differences, notifications, audit, last_error, generated_at, updated_at
	FROM reconciliation_reports`

// Get retrieves a report by id.
func (s *ReportStore) Get(ctx context.Context, reportID string) (*domain.ReconciliationReport, error) {
	row := s.pool.QueryRow(ctx, reportSelect+` WHERE report_id = $1`, reportID)
	return scanReport(row)
}

// Create inserts a new report. Returns ErrDuplicateKey if reportID exists.
func (s *ReportStore) Create(ctx context.Context, r *domain.ReconciliationReport) error {
	differences, notifications, audit, err := marshalReportDocs(r)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO reconciliation_reports (
			report_id, contest_id, chain_id, from_block, to_block, status, attempts,
			job_attempt_id, differences, notifications, audit, last_error, generated_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		r.ReportID, r.ContestID, r.ChainID, r.FromBlock, r.ToBlock, r.Status, r.Attempts,
		r.JobAttemptID, differences, notifications, audit, r.LastError, r.GeneratedAt, r.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert reconciliation report: %w", err)
	}
	return nil
}

// Update persists the mutable fields of an existing report.
func (s *ReportStore) Update(ctx context.Context, r *domain.ReconciliationReport) error {
	differences, notifications, audit, err := marshalReportDocs(r)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE reconciliation_reports
		SET status = $2, attempts = $3, job_attempt_id = $4, differences = $5,
		    notifications = $6, audit = $7, last_error = $8, updated_at = $9
		WHERE report_id = $1
	`, r.ReportID, r.Status, r.Attempts, r.JobAttemptID, differences, notifications, audit, r.LastError, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update reconciliation report: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListByStatus returns reports in the given status, oldest first.
func (s *ReportStore) ListByStatus(ctx context.Context, status string) ([]*domain.ReconciliationReport, error) {
	rows, err := s.pool.Query(ctx, reportSelect+` WHERE status = $1 ORDER BY generated_at ASC`, status)
	if err != nil {
		return nil, fmt.Errorf("list reconciliation reports: %w", err)
	}
	defer rows.Close()

	var reports []*domain.ReconciliationReport
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate report rows: %w", err)
	}
	return reports, nil
}

func marshalReportDocs(r *domain.ReconciliationReport) (differences, notifications, audit []byte, err error) {
	if differences, err = json.Marshal(r.Differences); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal report differences: %w", err)
	}
	if notifications, err = json.Marshal(r.Notifications); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal report notifications: %w", err)
	}
	if audit, err = json.Marshal(r.Audit); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal report audit: %w", err)
	}
	return differences, notifications, audit, nil
}

func scanReport(row pgx.Row) (*domain.ReconciliationReport, error) {
	var r domain.ReconciliationReport
	var differences, notifications, audit []byte

	err := row.Scan(
		&r.ReportID, &r.ContestID, &r.ChainID, &r.FromBlock, &r.ToBlock, &r.Status, &r.Attempts,
		&r.JobAttemptID, &differences, &notifications, &audit, &r.LastError, &r.GeneratedAt, &r.UpdatedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scan report row: %w", err)
	}
	if err := json.Unmarshal(differences, &r.Differences); err != nil {
		return nil, fmt.Errorf("unmarshal report differences: %w", err)
	}
	if err := json.Unmarshal(notifications, &r.Notifications); err != nil {
		return nil, fmt.Errorf("unmarshal report notifications: %w", err)
	}
	if err := json.Unmarshal(audit, &r.Audit); err != nil {
		return nil, fmt.Errorf("unmarshal report audit: %w", err)
	}
	return &r, nil
}
