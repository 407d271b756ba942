package lifecycle

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"sort"
	"sync/atomic"
	"time"

	"contest-engine/internal/domain"
	"contest-engine/internal/engine"
	"contest-engine/internal/observability"
)

// DefaultCallTimeout bounds every chain call issued from a tick.
const DefaultCallTimeout = 30 * time.Second

// DefaultTopK is the leaderboard depth written on-chain.
const DefaultTopK = 10

// Orchestrator is a reentrancy-guarded polling loop. Per tick it issues at
// most one state-advancing chain call per contest; contests fail and recover
// independently.
type Orchestrator struct {
	chain    ChainClient
	registry ContestRegistry
	eng      *engine.Engine // settlement bookkeeping; optional

	interval    time.Duration
	callTimeout time.Duration
	topK        int
	metrics     *observability.Metrics
	logger      *log.Logger
	now         func() time.Time

	inFlight atomic.Bool
}

// Options configures an Orchestrator.
type Options struct {
	Chain       ChainClient
	Registry    ContestRegistry
	Engine      *engine.Engine // optional
	Interval    time.Duration
	CallTimeout time.Duration          // defaults to DefaultCallTimeout
	TopK        int                    // defaults to DefaultTopK
	Metrics     *observability.Metrics // optional
	Logger      *log.Logger            // optional
	Now         func() time.Time       // optional, for tests
}

// New creates a lifecycle orchestrator.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		chain:       opts.Chain,
		registry:    opts.Registry,
		eng:         opts.Engine,
		interval:    opts.Interval,
		callTimeout: opts.CallTimeout,
		topK:        opts.TopK,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		now:         opts.Now,
	}
	if o.interval <= 0 {
		o.interval = time.Minute
	}
	if o.callTimeout <= 0 {
		o.callTimeout = DefaultCallTimeout
	}
	if o.topK <= 0 {
		o.topK = DefaultTopK
	}
	if o.logger == nil {
		o.logger = log.Default()
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// Run ticks until ctx is cancelled. Shutdown stops future ticks and lets an
// in-flight tick finish.
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	o.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.Tick(ctx)
		}
	}
}

// Tick runs one polling pass. A tick arriving while another is in flight is
// suppressed, never queued.
func (o *Orchestrator) Tick(ctx context.Context) {
	if !o.inFlight.CompareAndSwap(false, true) {
		if o.metrics != nil {
			o.metrics.TicksSkipped.Inc()
		}
		return
	}
	defer o.inFlight.Store(false)

	start := o.now()
	if o.metrics != nil {
		o.metrics.TicksStarted.Inc()
	}

	contests, err := o.registry.ListTrackedContests(ctx)
	if err != nil {
		o.logger.Printf("lifecycle: list tracked contests: %v", err)
		return
	}

	for _, c := range contests {
		if err := o.processContest(ctx, c); err != nil {
			// One contest's failure never aborts the batch.
			o.logger.Printf("lifecycle: contest %s: %v", c.ContestID, err)
			if o.metrics != nil {
				o.metrics.ContestErrors.Inc()
			}
		}
	}

	if o.metrics != nil {
		o.metrics.TickDuration.Observe(o.now().Sub(start).Seconds())
	}
}

// processContest issues at most one state-advancing chain call, then stops
// until the next tick re-reads chain truth.
func (o *Orchestrator) processContest(ctx context.Context, c TrackedContest) error {
	if c.ContractAddress == "" {
		o.logger.Printf("lifecycle: contest %s has no on-chain address, skipping", c.ContestID)
		return nil
	}

	state, err := o.readState(ctx, c)
	if err != nil {
		return fmt.Errorf("read contract state: %w", err)
	}
	if state == StateUninitialized {
		state = StateRegistering
	}

	tl, err := o.readTimeline(ctx, c)
	if err != nil {
		return fmt.Errorf("read contract timeline: %w", err)
	}
	now := o.now().UnixMilli()

	if state == StateRegistering && tl.RegisteringEnds > 0 && now >= tl.RegisteringEnds {
		return o.submit(ctx, "sync_state", func(callCtx context.Context) error {
			return o.chain.SubmitSyncState(callCtx, c.ChainID, c.ContractAddress)
		})
	}

	if state == StateLive && tl.LiveEnds > 0 && now >= tl.LiveEnds {
		return o.submit(ctx, "freeze", func(callCtx context.Context) error {
			return o.chain.SubmitFreeze(callCtx, c.ChainID, c.ContractAddress)
		})
	}

	if state != StateFrozen && state != StateSealed {
		return nil
	}

	standings, settledCount, err := o.readStandings(ctx, c)
	if err != nil {
		return err
	}

	// Settle every unsettled vault before anything else can advance.
	var settleIssued bool
	for _, p := range c.Participants {
		st := standings[p.Wallet]
		if st.Settled {
			continue
		}
		settleIssued = true
		if err := o.submit(ctx, "settle", func(callCtx context.Context) error {
			return o.chain.SubmitSettle(callCtx, c.ChainID, c.ContractAddress, p.Wallet)
		}); err != nil {
			return err
		}
	}
	if settleIssued {
		return nil
	}

	if state != StateFrozen {
		return nil
	}

	version, err := o.readLeadersVersion(ctx, c)
	if err != nil {
		return fmt.Errorf("read leaderboard version: %w", err)
	}

	if version == 0 {
		updates := topKUpdates(c.Participants, standings, o.topK)
		if len(updates) > 0 {
			return o.submit(ctx, "update_leaders", func(callCtx context.Context) error {
				return o.chain.SubmitUpdateLeaders(callCtx, c.ChainID, c.ContractAddress, updates)
			})
		}
		return nil
	}

	if settledCount == len(c.Participants) {
		return o.submit(ctx, "seal", func(callCtx context.Context) error {
			return o.chain.SubmitSeal(callCtx, c.ChainID, c.ContractAddress)
		})
	}
	return nil
}

func (o *Orchestrator) readState(ctx context.Context, c TrackedContest) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()
	return o.chain.ContractState(callCtx, c.ChainID, c.ContractAddress)
}

func (o *Orchestrator) readTimeline(ctx context.Context, c TrackedContest) (Timeline, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()
	return o.chain.ContractTimeline(callCtx, c.ChainID, c.ContractAddress)
}

func (o *Orchestrator) readLeadersVersion(ctx context.Context, c TrackedContest) (int64, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()
	return o.chain.LeaderboardVersion(callCtx, c.ChainID, c.ContractAddress)
}

// readStandings reads every participant's on-chain standing and records
// settlement bookkeeping for vaults newly observed as settled.
func (o *Orchestrator) readStandings(ctx context.Context, c TrackedContest) (map[string]VaultStanding, int, error) {
	standings := make(map[string]VaultStanding, len(c.Participants))
	settled := 0
	for _, p := range c.Participants {
		callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
		st, err := o.chain.VaultScore(callCtx, c.ChainID, c.ContractAddress, p.Wallet)
		cancel()
		if err != nil {
			return nil, 0, fmt.Errorf("read vault score for %s: %w", p.Wallet, err)
		}
		standings[p.Wallet] = st
		if st.Settled {
			settled++
			if !p.Settled {
				o.bookkeepSettlement(ctx, c, p.Wallet)
			}
		}
	}
	return standings, settled, nil
}

// bookkeepSettlement merges the settled flag into the contest's participant
// registry. Best effort: a failure here is logged, never stops the tick.
func (o *Orchestrator) bookkeepSettlement(ctx context.Context, c TrackedContest, wallet string) {
	if o.eng == nil {
		return
	}
	_, err := o.eng.UpdateParticipant(ctx, engine.ParticipantUpdatePayload{
		ContestID:     c.ContestID,
		WalletAddress: wallet,
		Entry: domain.ParticipantEntry{
			Settled:   true,
			SettledAt: o.now().UnixMilli(),
		},
	})
	if err != nil {
		o.logger.Printf("lifecycle: settlement bookkeeping for %s/%s: %v", c.ContestID, wallet, err)
	}
}

func (o *Orchestrator) submit(ctx context.Context, kind string, call func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()
	if err := call(callCtx); err != nil {
		return fmt.Errorf("submit %s: %w", kind, err)
	}
	if o.metrics != nil {
		o.metrics.ChainCalls.WithLabelValues(kind).Inc()
	}
	return nil
}

// topKUpdates ranks participants by on-chain vault score, descending.
func topKUpdates(participants []RegistryParticipant, standings map[string]VaultStanding, k int) []LeaderUpdate {
	type scored struct {
		wallet string
		score  *big.Int
		raw    string
	}

	ranked := make([]scored, 0, len(participants))
	for _, p := range participants {
		st, ok := standings[p.Wallet]
		if !ok {
			continue
		}
		n, ok := new(big.Int).SetString(st.Score, 10)
		if !ok {
			continue
		}
		ranked = append(ranked, scored{wallet: p.Wallet, score: n, raw: st.Score})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if cmp := ranked[i].score.Cmp(ranked[j].score); cmp != 0 {
			return cmp > 0
		}
		return ranked[i].wallet < ranked[j].wallet
	})

	if len(ranked) > k {
		ranked = ranked[:k]
	}
	updates := make([]LeaderUpdate, len(ranked))
	for i, r := range ranked {
		updates[i] = LeaderUpdate{Rank: i + 1, Wallet: r.wallet, Score: r.raw}
	}
	return updates
}
