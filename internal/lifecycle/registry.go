package lifecycle

import (
	"context"
	"sort"

	"contest-engine/internal/domain"
	"contest-engine/internal/storage"
)

// StoreRegistry implements ContestRegistry over the domain store, exposing
// the participant registry kept in contest metadata.
type StoreRegistry struct {
	store storage.DomainStore
}

// NewStoreRegistry creates a registry backed by the domain store.
func NewStoreRegistry(store storage.DomainStore) *StoreRegistry {
	return &StoreRegistry{store: store}
}

var _ ContestRegistry = (*StoreRegistry)(nil)

// ListTrackedContests returns every non-settled contest with its participants.
func (r *StoreRegistry) ListTrackedContests(ctx context.Context) ([]TrackedContest, error) {
	contests, err := r.store.ListContests(ctx)
	if err != nil {
		return nil, err
	}

	tracked := make([]TrackedContest, 0, len(contests))
	for _, c := range contests {
		if c.Status == domain.ContestStatusSettled {
			continue
		}

		t := TrackedContest{
			ContestID:       c.ID,
			ChainID:         c.ChainID,
			ContractAddress: c.ContractAddress,
			WindowEnd:       c.WindowEnd,
		}
		for wallet, entry := range c.Metadata.Participants {
			t.Participants = append(t.Participants, RegistryParticipant{
				Wallet:  wallet,
				Vault:   entry.Vault,
				Settled: entry.Settled,
			})
		}
		// Deterministic order for stable per-tick behavior.
		sort.Slice(t.Participants, func(i, j int) bool {
			return t.Participants[i].Wallet < t.Participants[j].Wallet
		})
		tracked = append(tracked, t)
	}
	return tracked, nil
}
