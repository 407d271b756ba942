// Package lifecycle drives on-chain contest state transitions from a polling
// control loop. The chain RPC client is a collaborator behind the ChainClient
// interface; this package never speaks to the network itself.
package lifecycle

import "context"

// On-chain contract states. An uninitialized contract is treated as registering.
const (
	StateUninitialized = "uninitialized"
	StateRegistering   = "registering"
	StateLive          = "live"
	StateFrozen        = "frozen"
	StateSealed        = "sealed"
	StateClosed        = "closed"
)

// Timeline is the contract-reported phase schedule.
type Timeline struct {
	RegisteringEnds int64 // Unix ms
	LiveEnds        int64 // Unix ms
}

// VaultStanding is one participant's on-chain score and settlement flag.
type VaultStanding struct {
	Score   string // decimal string
	Settled bool
}

// LeaderUpdate is one top-K leaderboard row to write on-chain.
type LeaderUpdate struct {
	Rank   int
	Wallet string
	Score  string
}

// ChainClient reads contract state and submits lifecycle transactions. Every
// submitted transaction is idempotent or contract-guarded, so re-polling
// after a success or a mid-sequence crash self-corrects.
type ChainClient interface {
	ContractState(ctx context.Context, chainID int64, address string) (string, error)
	ContractTimeline(ctx context.Context, chainID int64, address string) (Timeline, error)
	LeaderboardVersion(ctx context.Context, chainID int64, address string) (int64, error)
	VaultScore(ctx context.Context, chainID int64, address, wallet string) (VaultStanding, error)

	SubmitSyncState(ctx context.Context, chainID int64, address string) error
	SubmitFreeze(ctx context.Context, chainID int64, address string) error
	SubmitSettle(ctx context.Context, chainID int64, address, wallet string) error
	SubmitUpdateLeaders(ctx context.Context, chainID int64, address string, updates []LeaderUpdate) error
	SubmitSeal(ctx context.Context, chainID int64, address string) error
}

// RegistryParticipant is one registered wallet known to the domain.
type RegistryParticipant struct {
	Wallet  string
	Vault   string
	Settled bool
}

// TrackedContest is the registry's view of one contest.
type TrackedContest struct {
	ContestID       string
	ChainID         int64
	ContractAddress string
	WindowEnd       int64
	Participants    []RegistryParticipant
}

// ContestRegistry lists every contest the orchestrator must drive.
type ContestRegistry interface {
	ListTrackedContests(ctx context.Context) ([]TrackedContest, error)
}
