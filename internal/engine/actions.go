// Package engine implements the contest domain write engine: the sole
// transactional authority over contest state, ingestion cursors and event
// audit records. Every action runs in one database transaction, validates its
// payload before any mutation, and converts event-locator duplicate inserts
// into noop results so at-least-once deliveries are safe to replay.
package engine

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"contest-engine/internal/domain"
	"contest-engine/internal/storage"
)

// Write action names. This vocabulary is fixed; unknown actions are rejected
// with storage.ErrUnsupported.
const (
	ActionTrack                 = "track"
	ActionIngestSnapshot        = "ingest_snapshot"
	ActionRegisterParticipation = "register_participation"
	ActionWriteLeadersVersion   = "write_leaders_version"
	ActionSeal                  = "seal"
	ActionAppendRewardClaim     = "append_reward_claim"
	ActionUpdatePhase           = "update_phase"
	ActionUpdateParticipant     = "update_participant"
	ActionAdvanceCursor         = "advance_cursor"
	ActionRecordEvent           = "record_event"
)

// Result statuses. A noop means the write determined no new state change was
// needed; callers must treat it as forward progress, not failure.
const (
	StatusApplied = "applied"
	StatusNoop    = "noop"
)

// Request is a generic write action request, typically decoded from a job.
type Request struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload"`
	Actor   string          `json:"actorContext,omitempty"`
}

// Result is the outcome of a write action.
type Result struct {
	Status    string `json:"status"` // applied | noop
	ContestID string `json:"contestId,omitempty"`
}

func applied(contestID string) Result { return Result{Status: StatusApplied, ContestID: contestID} }
func noop(contestID string) Result    { return Result{Status: StatusNoop, ContestID: contestID} }

// TrackPayload registers a contest for ingestion.
type TrackPayload struct {
	ChainID         int64                  `json:"chainId"`
	ContractAddress string                 `json:"contractAddress"`
	WindowStart     int64                  `json:"windowStart"`
	WindowEnd       int64                  `json:"windowEnd"`
	OriginTag       string                 `json:"originTag,omitempty"`
	Capacity        int                    `json:"capacity,omitempty"`
	Rebalance       domain.RebalanceConfig `json:"rebalance,omitempty"`
}

// Validate checks the payload before any mutation.
func (p *TrackPayload) Validate() error {
	if err := validateChainID(p.ChainID); err != nil {
		return err
	}
	if err := validateAddress(p.ContractAddress); err != nil {
		return err
	}
	if p.WindowStart <= 0 || p.WindowEnd <= 0 || p.WindowEnd <= p.WindowStart {
		return fmt.Errorf("%w: window end must be after window start", storage.ErrInvalidInput)
	}
	if p.Capacity < 0 {
		return fmt.Errorf("%w: capacity must not be negative", storage.ErrInvalidInput)
	}
	return nil
}

// SnapshotPayload merges polled contract state into contest metadata.
type SnapshotPayload struct {
	ContestID  string                  `json:"contestId"`
	Phase      domain.PhaseInfo        `json:"phase,omitempty"`
	PrizePool  domain.PrizePoolInfo    `json:"prizePool,omitempty"`
	Addresses  domain.OnChainAddresses `json:"addresses,omitempty"`
	Rebalance  domain.RebalanceConfig  `json:"rebalance,omitempty"`
	ObservedAt int64                   `json:"observedAt"`
}

func (p *SnapshotPayload) Validate() error {
	if p.ContestID == "" {
		return fmt.Errorf("%w: contestId is required", storage.ErrInvalidInput)
	}
	if p.PrizePool.TotalWei != "" {
		if err := validateWei(p.PrizePool.TotalWei); err != nil {
			return err
		}
	}
	return nil
}

// ParticipationPayload records one on-chain vault registration.
type ParticipationPayload struct {
	ContestID     string              `json:"contestId"`
	WalletAddress string              `json:"walletAddress"`
	VaultRef      string              `json:"vaultReference"`
	AmountWei     string              `json:"amountWei"`
	Locator       domain.EventLocator `json:"eventLocator"`
	OccurredAt    int64               `json:"occurredAt"`
}

func (p *ParticipationPayload) Validate() error {
	if p.ContestID == "" {
		return fmt.Errorf("%w: contestId is required", storage.ErrInvalidInput)
	}
	if err := validateAddress(p.WalletAddress); err != nil {
		return err
	}
	if err := validateWei(p.AmountWei); err != nil {
		return err
	}
	if err := validateLocator(p.Locator); err != nil {
		return err
	}
	if p.OccurredAt <= 0 {
		return fmt.Errorf("%w: occurredAt is required", storage.ErrInvalidInput)
	}
	return nil
}

// LeadersVersionPayload writes one immutable leaderboard snapshot.
type LeadersVersionPayload struct {
	ContestID string                    `json:"contestId"`
	Version   int64                     `json:"version"`
	Entries   []domain.LeaderboardEntry `json:"entries"`
	WrittenAt int64                     `json:"writtenAt"`
}

func (p *LeadersVersionPayload) Validate() error {
	if p.ContestID == "" {
		return fmt.Errorf("%w: contestId is required", storage.ErrInvalidInput)
	}
	if p.Version <= 0 {
		return fmt.Errorf("%w: version must be positive", storage.ErrInvalidInput)
	}
	if len(p.Entries) == 0 {
		return fmt.Errorf("%w: entries must not be empty", storage.ErrInvalidInput)
	}
	for _, e := range p.Entries {
		if e.Rank <= 0 {
			return fmt.Errorf("%w: entry rank must be positive", storage.ErrInvalidInput)
		}
		if err := validateAddress(e.WalletAddress); err != nil {
			return err
		}
	}
	return nil
}

// SealPayload closes a contest's trading window.
type SealPayload struct {
	ContestID string `json:"contestId"`
	SealedAt  int64  `json:"sealedAt"`
}

func (p *SealPayload) Validate() error {
	if p.ContestID == "" {
		return fmt.Errorf("%w: contestId is required", storage.ErrInvalidInput)
	}
	if p.SealedAt <= 0 {
		return fmt.Errorf("%w: sealedAt is required", storage.ErrInvalidInput)
	}
	return nil
}

// RewardClaimPayload records one on-chain reward payout.
type RewardClaimPayload struct {
	ContestID     string              `json:"contestId"`
	WalletAddress string              `json:"walletAddress"`
	AmountWei     string              `json:"amountWei"`
	Locator       domain.EventLocator `json:"eventLocator"`
	ClaimedAt     int64               `json:"claimedAt"`
}

func (p *RewardClaimPayload) Validate() error {
	if p.ContestID == "" {
		return fmt.Errorf("%w: contestId is required", storage.ErrInvalidInput)
	}
	if err := validateAddress(p.WalletAddress); err != nil {
		return err
	}
	if err := validateWei(p.AmountWei); err != nil {
		return err
	}
	if err := validateLocator(p.Locator); err != nil {
		return err
	}
	if p.ClaimedAt <= 0 {
		return fmt.Errorf("%w: claimedAt is required", storage.ErrInvalidInput)
	}
	return nil
}

// PhasePayload merges contest-level phase metadata.
type PhasePayload struct {
	ContestID string           `json:"contestId"`
	Phase     domain.PhaseInfo `json:"phase"`
}

func (p *PhasePayload) Validate() error {
	if p.ContestID == "" {
		return fmt.Errorf("%w: contestId is required", storage.ErrInvalidInput)
	}
	if p.Phase.Name == "" && p.Phase.ChangedAt == 0 {
		return fmt.Errorf("%w: phase must not be empty", storage.ErrInvalidInput)
	}
	return nil
}

// ParticipantUpdatePayload merges a per-wallet metadata entry.
type ParticipantUpdatePayload struct {
	ContestID     string                  `json:"contestId"`
	WalletAddress string                  `json:"walletAddress"`
	Entry         domain.ParticipantEntry `json:"entry"`
}

func (p *ParticipantUpdatePayload) Validate() error {
	if p.ContestID == "" {
		return fmt.Errorf("%w: contestId is required", storage.ErrInvalidInput)
	}
	if err := validateAddress(p.WalletAddress); err != nil {
		return err
	}
	if p.Entry.AmountWei != "" {
		if err := validateWei(p.Entry.AmountWei); err != nil {
			return err
		}
	}
	return nil
}

// CursorPayload advances the ingestion cursor for a contract.
type CursorPayload struct {
	ChainID         int64  `json:"chainId"`
	ContractAddress string `json:"contractAddress"`
	Height          int64  `json:"height"`
	LogIndex        int64  `json:"logIndex"`
	BlockHash       string `json:"blockHash,omitempty"`
	ContestID       string `json:"contestId,omitempty"`
}

func (p *CursorPayload) Validate() error {
	if err := validateChainID(p.ChainID); err != nil {
		return err
	}
	if err := validateAddress(p.ContractAddress); err != nil {
		return err
	}
	if p.Height < 0 || p.LogIndex < 0 {
		return fmt.Errorf("%w: cursor position must not be negative", storage.ErrInvalidInput)
	}
	return nil
}

// EventPayload records one chain event audit row.
type EventPayload struct {
	ContestID  string              `json:"contestId"`
	Locator    domain.EventLocator `json:"eventLocator"`
	Kind       string              `json:"kind"`
	Payload    map[string]any      `json:"payload,omitempty"`
	RecordedAt int64               `json:"recordedAt"`
}

func (p *EventPayload) Validate() error {
	if p.ContestID == "" {
		return fmt.Errorf("%w: contestId is required", storage.ErrInvalidInput)
	}
	if err := validateLocator(p.Locator); err != nil {
		return err
	}
	if p.Kind == "" {
		return fmt.Errorf("%w: kind is required", storage.ErrInvalidInput)
	}
	return nil
}

// shared field validators

func validateChainID(chainID int64) error {
	if chainID <= 0 {
		return fmt.Errorf("%w: chainId must be positive", storage.ErrInvalidInput)
	}
	return nil
}

func validateAddress(addr string) error {
	if !strings.HasPrefix(addr, "0x") || len(addr) < 4 {
		return fmt.Errorf("%w: address %q is not a hex address", storage.ErrInvalidInput, addr)
	}
	for _, r := range addr[2:] {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') && (r < 'A' || r > 'F') {
			return fmt.Errorf("%w: address %q is not a hex address", storage.ErrInvalidInput, addr)
		}
	}
	return nil
}

func validateWei(amount string) error {
	n, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return fmt.Errorf("%w: amount %q is not a decimal integer", storage.ErrInvalidInput, amount)
	}
	if n.Sign() < 0 {
		return fmt.Errorf("%w: amount must not be negative", storage.ErrInvalidInput)
	}
	return nil
}

func validateLocator(l domain.EventLocator) error {
	if err := validateChainID(l.ChainID); err != nil {
		return err
	}
	if l.TxHash == "" {
		return fmt.Errorf("%w: txHash is required", storage.ErrInvalidInput)
	}
	if l.LogIndex < 0 {
		return fmt.Errorf("%w: logIndex must not be negative", storage.ErrInvalidInput)
	}
	return nil
}

// normalizeAddress lowercases hex addresses so lookups and uniqueness behave
// regardless of submitted casing.
func normalizeAddress(addr string) string {
	return strings.ToLower(addr)
}
