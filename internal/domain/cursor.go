package domain

// IngestionCursor is the highest (height, log index) known fully ingested for
// a contract. Scoped by (chain_id, contract_address) so ingestion can begin
// before the contest row exists; ContestID is linked once tracked.
// Corresponds to ingestion_cursors table in PostgreSQL.
type IngestionCursor struct {
	ChainID         int64
	ContractAddress string
	ContestID       string // optional link to contests
	Height          int64  // block height
	LogIndex        int64  // log index within the block's last ingested tx
	BlockHash       string
	UpdatedAt       int64 // Unix ms
}

// CompareCursorPosition compares two (height, logIndex) positions
// lexicographically. Returns negative if a < b, zero if equal, positive if
// a > b.
func CompareCursorPosition(aHeight, aLogIndex, bHeight, bLogIndex int64) int {
	if aHeight != bHeight {
		if aHeight < bHeight {
			return -1
		}
		return 1
	}
	if aLogIndex != bLogIndex {
		if aLogIndex < bLogIndex {
			return -1
		}
		return 1
	}
	return 0
}

// IngestionEvent is the audit row written for every applied chain event.
// Corresponds to ingestion_events table in PostgreSQL; unique on
// (contest_id, chain_id, tx_hash, log_index).
type IngestionEvent struct {
	ID         int64
	ContestID  string
	Locator    EventLocator
	Kind       string // participation | reward_claim | snapshot | milestone | other
	Payload    map[string]any
	RecordedAt int64
}
