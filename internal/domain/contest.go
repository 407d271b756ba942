package domain

// Contest represents a tracked trading contest bound to an on-chain contract.
// Corresponds to contests table in PostgreSQL.
type Contest struct {
	ID              string // UUID primary key
	ChainID         int64  // EVM chain id
	ContractAddress string // hex contract address (lowercased)
	InternalKey     string // deterministic key over (chain_id, contract_address, window)
	Status          string // registered | active | sealed | settled
	WindowStart     int64  // contest window start, Unix ms
	WindowEnd       int64  // contest window end, Unix ms
	OriginTag       string // free-form origin label ("factory", "manual", ...)
	SealedAt        int64  // seal timestamp, Unix ms; 0 if not sealed
	Metadata        ContestMetadata
	CreatedAt       int64 // record creation timestamp (ms)
	UpdatedAt       int64 // last mutation timestamp (ms)
}

// Contest status constants
const (
	ContestStatusRegistered = "registered"
	ContestStatusActive     = "active"
	ContestStatusSealed     = "sealed"
	ContestStatusSettled    = "settled"
)

// ValidContestStatus reports whether s is a known contest status.
func ValidContestStatus(s string) bool {
	switch s {
	case ContestStatusRegistered, ContestStatusActive, ContestStatusSealed, ContestStatusSettled:
		return true
	}
	return false
}
