package domain

// EventLocator identifies a chain event's origin. Used as a uniqueness
// constraint so replayed deliveries are detectable at insert time.
type EventLocator struct {
	ChainID  int64
	TxHash   string
	LogIndex int64
}

// Participant represents one vault registration inside a contest.
// Corresponds to participants table in PostgreSQL.
type Participant struct {
	ID            int64  // BIGSERIAL primary key
	ContestID     string // FK to contests
	WalletAddress string // hex wallet address (lowercased)
	VaultRef      string // on-chain vault reference
	AmountWei     string // stake amount in wei, decimal string
	Locator       EventLocator
	OccurredAt    int64 // event timestamp, Unix ms
	CreatedAt     int64 // record creation timestamp (ms)
}

// RewardClaim represents a paid-out reward observed on chain.
// Corresponds to reward_claims table in PostgreSQL.
type RewardClaim struct {
	ID            int64
	ContestID     string
	WalletAddress string
	AmountWei     string
	Locator       EventLocator
	ClaimedAt     int64
	CreatedAt     int64
}
