package domain

// ContestMetadata is the contest's nested metadata document, stored as JSONB.
// Each sub-structure has exactly one merge method; callers never replace the
// whole document, so independent write paths cannot clobber each other.
type ContestMetadata struct {
	Phase        PhaseInfo                   `json:"phase,omitempty"`
	PrizePool    PrizePoolInfo               `json:"prizePool,omitempty"`
	Registration RegistrationInfo            `json:"registration,omitempty"`
	Rebalance    RebalanceConfig             `json:"rebalance,omitempty"`
	Addresses    OnChainAddresses            `json:"addresses,omitempty"`
	Participants map[string]ParticipantEntry `json:"participants,omitempty"` // keyed by wallet address
}

// PhaseInfo mirrors the contract-reported phase.
type PhaseInfo struct {
	Name      string `json:"name,omitempty"` // registering | live | frozen | sealed | closed
	ChangedAt int64  `json:"changedAt,omitempty"`
}

// PrizePoolInfo mirrors the contract-reported prize pool.
type PrizePoolInfo struct {
	TotalWei string `json:"totalWei,omitempty"`
	Token    string `json:"token,omitempty"`
}

// RegistrationInfo tracks registration capacity state.
type RegistrationInfo struct {
	Capacity         int  `json:"capacity,omitempty"`
	ParticipantCount int  `json:"participantCount"`
	Full             bool `json:"full"`
}

// RebalanceConfig holds vault rebalance parameters.
type RebalanceConfig struct {
	IntervalSeconds int64  `json:"intervalSeconds,omitempty"`
	MaxDriftBps     int64  `json:"maxDriftBps,omitempty"`
	Policy          string `json:"policy,omitempty"`
}

// OnChainAddresses holds auxiliary contract addresses discovered from chain state.
type OnChainAddresses struct {
	VaultFactory string `json:"vaultFactory,omitempty"`
	PriceOracle  string `json:"priceOracle,omitempty"`
	Treasury     string `json:"treasury,omitempty"`
}

// ParticipantEntry is the per-wallet record inside the metadata registry.
type ParticipantEntry struct {
	Vault        string `json:"vault,omitempty"`
	AmountWei    string `json:"amountWei,omitempty"`
	RegisteredAt int64  `json:"registeredAt,omitempty"`
	Settled      bool   `json:"settled"`
	SettledAt    int64  `json:"settledAt,omitempty"`
}

// MergePhase overlays non-zero fields of p onto the stored phase.
func (m *ContestMetadata) MergePhase(p PhaseInfo) {
	if p.Name != "" {
		m.Phase.Name = p.Name
	}
	if p.ChangedAt != 0 {
		m.Phase.ChangedAt = p.ChangedAt
	}
}

// MergePrizePool overlays non-zero fields of p onto the stored prize pool.
func (m *ContestMetadata) MergePrizePool(p PrizePoolInfo) {
	if p.TotalWei != "" {
		m.PrizePool.TotalWei = p.TotalWei
	}
	if p.Token != "" {
		m.PrizePool.Token = p.Token
	}
}

// MergeRegistration overlays r onto the stored registration info. Capacity is
// overlaid only when non-zero; count and full flag are always taken because
// they are recomputed from the participants table on every write.
func (m *ContestMetadata) MergeRegistration(r RegistrationInfo) {
	if r.Capacity != 0 {
		m.Registration.Capacity = r.Capacity
	}
	m.Registration.ParticipantCount = r.ParticipantCount
	m.Registration.Full = r.Full
}

// MergeRebalance overlays non-zero fields of r onto the stored rebalance config.
func (m *ContestMetadata) MergeRebalance(r RebalanceConfig) {
	if r.IntervalSeconds != 0 {
		m.Rebalance.IntervalSeconds = r.IntervalSeconds
	}
	if r.MaxDriftBps != 0 {
		m.Rebalance.MaxDriftBps = r.MaxDriftBps
	}
	if r.Policy != "" {
		m.Rebalance.Policy = r.Policy
	}
}

// MergeAddresses overlays non-empty fields of a onto the stored addresses.
func (m *ContestMetadata) MergeAddresses(a OnChainAddresses) {
	if a.VaultFactory != "" {
		m.Addresses.VaultFactory = a.VaultFactory
	}
	if a.PriceOracle != "" {
		m.Addresses.PriceOracle = a.PriceOracle
	}
	if a.Treasury != "" {
		m.Addresses.Treasury = a.Treasury
	}
}

// MergeParticipant overlays non-zero fields of e onto the wallet's registry
// entry, creating the entry if absent. Existing fields are never cleared.
func (m *ContestMetadata) MergeParticipant(wallet string, e ParticipantEntry) {
	if m.Participants == nil {
		m.Participants = make(map[string]ParticipantEntry)
	}
	cur := m.Participants[wallet]
	if e.Vault != "" {
		cur.Vault = e.Vault
	}
	if e.AmountWei != "" {
		cur.AmountWei = e.AmountWei
	}
	if e.RegisteredAt != 0 {
		cur.RegisteredAt = e.RegisteredAt
	}
	if e.Settled {
		cur.Settled = true
	}
	if e.SettledAt != 0 {
		cur.SettledAt = e.SettledAt
	}
	m.Participants[wallet] = cur
}
