package domain

// ReconciliationReport tracks one periodic chain-vs-domain discrepancy report.
// Corresponds to reconciliation_reports table in PostgreSQL.
type ReconciliationReport struct {
	ReportID      string // primary key
	ContestID     string
	ChainID       int64
	FromBlock     int64
	ToBlock       int64
	Status        string // pending_review | in_review | resolved | needs_attention
	Attempts      int
	JobAttemptID  string // id of the job attempt that last touched the report
	Differences   []ReportDifference
	Notifications []NotificationRecord // append-only
	Audit         []AuditEntry         // append-only
	LastError     string
	GeneratedAt   int64 // Unix ms
	UpdatedAt     int64
}

// ReportDifference is one chain-vs-domain discrepancy inside a report.
type ReportDifference struct {
	Field       string `json:"field"`
	ChainValue  string `json:"chainValue"`
	DomainValue string `json:"domainValue"`
	Wallet      string `json:"wallet,omitempty"`
}

// NotificationRecord is one entry of the report's notification audit trail.
type NotificationRecord struct {
	Target       string `json:"target"`
	DispatchedAt int64  `json:"dispatchedAt"`
	JobAttemptID string `json:"jobAttemptId,omitempty"`
}

// AuditEntry records an operator-applied status change.
type AuditEntry struct {
	Actor      string `json:"actor"`
	FromStatus string `json:"from"`
	ToStatus   string `json:"to"`
	Note       string `json:"note,omitempty"`
	At         int64  `json:"at"`
}

// Reconciliation report status constants
const (
	ReportPendingReview  = "pending_review"
	ReportInReview       = "in_review"
	ReportResolved       = "resolved"
	ReportNeedsAttention = "needs_attention"
)
