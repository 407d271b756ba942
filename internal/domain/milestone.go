package domain

// MilestoneExecution is the durable record for one discrete on-chain milestone
// job, keyed by its deterministic idempotency key.
// Corresponds to milestone_executions table in PostgreSQL.
type MilestoneExecution struct {
	IdempotencyKey string // primary key
	ContestID      string
	ChainID        int64
	Milestone      string // milestone name, e.g. "vault_registered"
	SourceTxHash   string
	SourceLogIndex int64
	SourceBlock    int64
	Status         string // in_progress | retrying | succeeded | needs_attention
	Attempts       int
	Payload        map[string]any
	LastError      string
	UpdatedAt      int64 // Unix ms
}

// Milestone execution status constants
const (
	MilestoneInProgress     = "in_progress"
	MilestoneRetrying       = "retrying"
	MilestoneSucceeded      = "succeeded"
	MilestoneNeedsAttention = "needs_attention"
)

// MilestoneTerminal reports whether status permits no further automatic attempts.
func MilestoneTerminal(status string) bool {
	return status == MilestoneSucceeded || status == MilestoneNeedsAttention
}

// ContestControl is the persisted control-plane row governing automatic
// milestone processing for a contest. Persisted rather than process-local so
// pause/resume survives restarts and is visible to every worker.
// Corresponds to contest_controls table in PostgreSQL.
type ContestControl struct {
	ContestID        string
	MilestonesPaused bool
	UpdatedBy        string
	UpdatedAt        int64
}
