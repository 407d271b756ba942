package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testChainID  = int64(31337)
	testContract = "0xc0ffee254729296a45a3885639ac7e10f9d54979"
)

// fakeChain scripts chain reads and records every submitted transaction.
type fakeChain struct {
	mu sync.Mutex

	state     string
	timeline  Timeline
	version   int64
	standings map[string]VaultStanding
	stateErr  error

	calls   []string
	updates []LeaderUpdate
}

func (f *fakeChain) record(kind string) {
	f.mu.Lock()
	f.calls = append(f.calls, kind)
	f.mu.Unlock()
}

func (f *fakeChain) submitted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeChain) ContractState(ctx context.Context, chainID int64, address string) (string, error) {
	if f.stateErr != nil {
		return "", f.stateErr
	}
	return f.state, nil
}

func (f *fakeChain) ContractTimeline(ctx context.Context, chainID int64, address string) (Timeline, error) {
	return f.timeline, nil
}

func (f *fakeChain) LeaderboardVersion(ctx context.Context, chainID int64, address string) (int64, error) {
	return f.version, nil
}

func (f *fakeChain) VaultScore(ctx context.Context, chainID int64, address, wallet string) (VaultStanding, error) {
	st, ok := f.standings[wallet]
	if !ok {
		return VaultStanding{}, errors.New("unknown vault")
	}
	return st, nil
}

func (f *fakeChain) SubmitSyncState(ctx context.Context, chainID int64, address string) error {
	f.record("sync_state")
	return nil
}

func (f *fakeChain) SubmitFreeze(ctx context.Context, chainID int64, address string) error {
	f.record("freeze")
	return nil
}

func (f *fakeChain) SubmitSettle(ctx context.Context, chainID int64, address, wallet string) error {
	f.record("settle:" + wallet)
	return nil
}

func (f *fakeChain) SubmitUpdateLeaders(ctx context.Context, chainID int64, address string, updates []LeaderUpdate) error {
	f.record("update_leaders")
	f.mu.Lock()
	f.updates = updates
	f.mu.Unlock()
	return nil
}

func (f *fakeChain) SubmitSeal(ctx context.Context, chainID int64, address string) error {
	f.record("seal")
	return nil
}

type staticRegistry struct {
	contests []TrackedContest

	mu    sync.Mutex
	lists int
}

func (r *staticRegistry) ListTrackedContests(ctx context.Context) ([]TrackedContest, error) {
	r.mu.Lock()
	r.lists++
	r.mu.Unlock()
	return r.contests, nil
}

func tracked(participants ...RegistryParticipant) TrackedContest {
	return TrackedContest{
		ContestID:       "contest-1",
		ChainID:         testChainID,
		ContractAddress: testContract,
		WindowEnd:       2_000_000,
		Participants:    participants,
	}
}

func newTestOrchestrator(chain ChainClient, reg ContestRegistry, nowMillis int64) *Orchestrator {
	return New(Options{
		Chain:    chain,
		Registry: reg,
		Now:      func() time.Time { return time.UnixMilli(nowMillis) },
	})
}

func TestTick_RegistrationOverTriggersSyncState(t *testing.T) {
	chain := &fakeChain{
		state:    StateRegistering,
		timeline: Timeline{RegisteringEnds: 1_000_000, LiveEnds: 2_000_000},
	}
	reg := &staticRegistry{contests: []TrackedContest{tracked()}}

	o := newTestOrchestrator(chain, reg, 1_000_001)
	o.Tick(context.Background())

	assert.Equal(t, []string{"sync_state"}, chain.submitted())
}

func TestTick_UninitializedTreatedAsRegistering(t *testing.T) {
	chain := &fakeChain{
		state:    StateUninitialized,
		timeline: Timeline{RegisteringEnds: 1_000_000},
	}
	reg := &staticRegistry{contests: []TrackedContest{tracked()}}

	o := newTestOrchestrator(chain, reg, 1_500_000)
	o.Tick(context.Background())

	assert.Equal(t, []string{"sync_state"}, chain.submitted())
}

func TestTick_LiveWindowOverTriggersExactlyOneFreeze(t *testing.T) {
	chain := &fakeChain{
		state:    StateLive,
		timeline: Timeline{RegisteringEnds: 1_000_000, LiveEnds: 2_000_000},
	}
	reg := &staticRegistry{contests: []TrackedContest{tracked()}}

	o := newTestOrchestrator(chain, reg, 2_000_001)
	o.Tick(context.Background())

	// One state-advancing call per contest per tick; the rest of the chain
	// waits for the next tick's re-read.
	assert.Equal(t, []string{"freeze"}, chain.submitted())
}

func TestTick_LiveBeforeWindowEndDoesNothing(t *testing.T) {
	chain := &fakeChain{
		state:    StateLive,
		timeline: Timeline{RegisteringEnds: 1_000_000, LiveEnds: 2_000_000},
	}
	reg := &staticRegistry{contests: []TrackedContest{tracked()}}

	o := newTestOrchestrator(chain, reg, 1_999_999)
	o.Tick(context.Background())

	assert.Empty(t, chain.submitted())
}

func TestTick_FrozenSettlesUnsettledVaultsFirst(t *testing.T) {
	chain := &fakeChain{
		state:    StateFrozen,
		timeline: Timeline{RegisteringEnds: 1_000_000, LiveEnds: 2_000_000},
		version:  1,
		standings: map[string]VaultStanding{
			"0xaaa": {Score: "100", Settled: true},
			"0xbbb": {Score: "200", Settled: false},
		},
	}
	reg := &staticRegistry{contests: []TrackedContest{tracked(
		RegistryParticipant{Wallet: "0xaaa", Settled: true},
		RegistryParticipant{Wallet: "0xbbb"},
	)}}

	o := newTestOrchestrator(chain, reg, 3_000_000)
	o.Tick(context.Background())

	// Settlement fan-out stops the chain for this tick; no seal yet even
	// though a leaderboard version exists.
	assert.Equal(t, []string{"settle:0xbbb"}, chain.submitted())
}

func TestTick_FrozenWritesLeadersWhenVersionZero(t *testing.T) {
	chain := &fakeChain{
		state:    StateFrozen,
		timeline: Timeline{RegisteringEnds: 1_000_000, LiveEnds: 2_000_000},
		version:  0,
		standings: map[string]VaultStanding{
			"0xaaa": {Score: "9", Settled: true},
			"0xbbb": {Score: "10", Settled: true},
			"0xccc": {Score: "10", Settled: true},
		},
	}
	reg := &staticRegistry{contests: []TrackedContest{tracked(
		RegistryParticipant{Wallet: "0xaaa", Settled: true},
		RegistryParticipant{Wallet: "0xbbb", Settled: true},
		RegistryParticipant{Wallet: "0xccc", Settled: true},
	)}}

	o := newTestOrchestrator(chain, reg, 3_000_000)
	o.Tick(context.Background())

	require.Equal(t, []string{"update_leaders"}, chain.submitted())

	// Numeric score ordering, wallet tiebreak: "10" beats "9".
	require.Len(t, chain.updates, 3)
	assert.Equal(t, LeaderUpdate{Rank: 1, Wallet: "0xbbb", Score: "10"}, chain.updates[0])
	assert.Equal(t, LeaderUpdate{Rank: 2, Wallet: "0xccc", Score: "10"}, chain.updates[1])
	assert.Equal(t, LeaderUpdate{Rank: 3, Wallet: "0xaaa", Score: "9"}, chain.updates[2])
}

func TestTick_FrozenSealsWhenSettledAndVersioned(t *testing.T) {
	chain := &fakeChain{
		state:    StateFrozen,
		timeline: Timeline{RegisteringEnds: 1_000_000, LiveEnds: 2_000_000},
		version:  1,
		standings: map[string]VaultStanding{
			"0xaaa": {Score: "100", Settled: true},
		},
	}
	reg := &staticRegistry{contests: []TrackedContest{tracked(
		RegistryParticipant{Wallet: "0xaaa", Settled: true},
	)}}

	o := newTestOrchestrator(chain, reg, 3_000_000)
	o.Tick(context.Background())

	assert.Equal(t, []string{"seal"}, chain.submitted())
}

func TestTick_SealedOnlySettlesNeverSeals(t *testing.T) {
	chain := &fakeChain{
		state:    StateSealed,
		timeline: Timeline{RegisteringEnds: 1_000_000, LiveEnds: 2_000_000},
		version:  1,
		standings: map[string]VaultStanding{
			"0xaaa": {Score: "100", Settled: false},
		},
	}
	reg := &staticRegistry{contests: []TrackedContest{tracked(
		RegistryParticipant{Wallet: "0xaaa"},
	)}}

	o := newTestOrchestrator(chain, reg, 3_000_000)
	o.Tick(context.Background())
	assert.Equal(t, []string{"settle:0xaaa"}, chain.submitted())

	// Once everything is settled, a sealed contract needs nothing more.
	chain.standings["0xaaa"] = VaultStanding{Score: "100", Settled: true}
	o.Tick(context.Background())
	assert.Equal(t, []string{"settle:0xaaa"}, chain.submitted())
}

func TestTick_ContestFailureIsIsolated(t *testing.T) {
	broken := tracked()
	broken.ContestID = "contest-broken"
	broken.ContractAddress = "0xdead"

	healthy := tracked(RegistryParticipant{Wallet: "0xaaa", Settled: true})

	chain := &scriptedChain{
		perContract: map[string]*fakeChain{
			"0xdead": {stateErr: errors.New("rpc timeout")},
			testContract: {
				state:     StateFrozen,
				timeline:  Timeline{RegisteringEnds: 1_000_000, LiveEnds: 2_000_000},
				version:   1,
				standings: map[string]VaultStanding{"0xaaa": {Score: "1", Settled: true}},
			},
		},
	}
	reg := &staticRegistry{contests: []TrackedContest{broken, healthy}}

	o := newTestOrchestrator(chain, reg, 3_000_000)
	o.Tick(context.Background())

	assert.Equal(t, []string{"seal"}, chain.perContract[testContract].submitted())
}

func TestTick_ReentrancyGuardSuppressesOverlap(t *testing.T) {
	release := make(chan struct{})
	listing := make(chan struct{})
	reg := &blockingRegistry{release: release, listing: listing}

	o := newTestOrchestrator(&fakeChain{state: StateRegistering}, reg, 1_000)

	done := make(chan struct{})
	go func() {
		o.Tick(context.Background())
		close(done)
	}()

	<-listing // first tick is inside the registry call

	o.Tick(context.Background()) // must return immediately, not queue

	close(release)
	<-done

	assert.Equal(t, 1, reg.calls, "overlapping tick must be suppressed, not queued")
}

// scriptedChain routes calls to a per-contract fakeChain.
type scriptedChain struct {
	perContract map[string]*fakeChain
}

func (s *scriptedChain) forAddr(address string) *fakeChain { return s.perContract[address] }

func (s *scriptedChain) ContractState(ctx context.Context, chainID int64, address string) (string, error) {
	return s.forAddr(address).ContractState(ctx, chainID, address)
}

func (s *scriptedChain) ContractTimeline(ctx context.Context, chainID int64, address string) (Timeline, error) {
	return s.forAddr(address).ContractTimeline(ctx, chainID, address)
}

func (s *scriptedChain) LeaderboardVersion(ctx context.Context, chainID int64, address string) (int64, error) {
	return s.forAddr(address).LeaderboardVersion(ctx, chainID, address)
}

func (s *scriptedChain) VaultScore(ctx context.Context, chainID int64, address, wallet string) (VaultStanding, error) {
	return s.forAddr(address).VaultScore(ctx, chainID, address, wallet)
}

func (s *scriptedChain) SubmitSyncState(ctx context.Context, chainID int64, address string) error {
	return s.forAddr(address).SubmitSyncState(ctx, chainID, address)
}

func (s *scriptedChain) SubmitFreeze(ctx context.Context, chainID int64, address string) error {
	return s.forAddr(address).SubmitFreeze(ctx, chainID, address)
}

func (s *scriptedChain) SubmitSettle(ctx context.Context, chainID int64, address, wallet string) error {
	return s.forAddr(address).SubmitSettle(ctx, chainID, address, wallet)
}

func (s *scriptedChain) SubmitUpdateLeaders(ctx context.Context, chainID int64, address string, updates []LeaderUpdate) error {
	return s.forAddr(address).SubmitUpdateLeaders(ctx, chainID, address, updates)
}

func (s *scriptedChain) SubmitSeal(ctx context.Context, chainID int64, address string) error {
	return s.forAddr(address).SubmitSeal(ctx, chainID, address)
}

// blockingRegistry parks the first caller until released.
type blockingRegistry struct {
	release chan struct{}
	listing chan struct{}
	calls   int
}

func (r *blockingRegistry) ListTrackedContests(ctx context.Context) ([]TrackedContest, error) {
	r.calls++
	close(r.listing)
	<-r.release
	return nil, nil
}

func TestTopKUpdates_TruncatesAndSkipsUnknown(t *testing.T) {
	participants := []RegistryParticipant{
		{Wallet: "0xaaa"}, {Wallet: "0xbbb"}, {Wallet: "0xccc"}, {Wallet: "0xmissing"},
	}
	standings := map[string]VaultStanding{
		"0xaaa": {Score: "5"},
		"0xbbb": {Score: "50"},
		"0xccc": {Score: "not-a-number"},
	}

	updates := topKUpdates(participants, standings, 2)

	require.Len(t, updates, 2)
	assert.Equal(t, "0xbbb", updates[0].Wallet)
	assert.Equal(t, 1, updates[0].Rank)
	assert.Equal(t, "0xaaa", updates[1].Wallet)
}
