package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"

	"contest-engine/internal/domain"
	"contest-engine/internal/idhash"
	"contest-engine/internal/storage"
)

// errNoopInsert is returned from inside a transaction when an event-locator
// insert collided; the transaction rolls back (nothing else was written) and
// the action reports noop.
var errNoopInsert = errors.New("noop: duplicate event locator")

// Engine executes the fixed vocabulary of domain write actions.
type Engine struct {
	store storage.DomainStore
	now   func() time.Time
	newID func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator overrides contest id generation, for tests.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) { e.newID = gen }
}

// New creates a write engine over the given store.
func New(store storage.DomainStore, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) nowMillis() int64 {
	return e.now().UnixMilli()
}

// Apply decodes and executes a generic write request.
func (e *Engine) Apply(ctx context.Context, req Request) (Result, error) {
	switch req.Action {
	case ActionTrack:
		return decodeAndRun(ctx, req.Payload, e.Track)
	case ActionIngestSnapshot:
		return decodeAndRun(ctx, req.Payload, e.IngestSnapshot)
	case ActionRegisterParticipation:
		return decodeAndRun(ctx, req.Payload, e.RegisterParticipation)
	case ActionWriteLeadersVersion:
		return decodeAndRun(ctx, req.Payload, e.WriteLeadersVersion)
	case ActionSeal:
		return decodeAndRun(ctx, req.Payload, e.Seal)
	case ActionAppendRewardClaim:
		return decodeAndRun(ctx, req.Payload, e.AppendRewardClaim)
	case ActionUpdatePhase:
		return decodeAndRun(ctx, req.Payload, e.UpdatePhase)
	case ActionUpdateParticipant:
		return decodeAndRun(ctx, req.Payload, e.UpdateParticipant)
	case ActionAdvanceCursor:
		return decodeAndRun(ctx, req.Payload, e.AdvanceCursor)
	case ActionRecordEvent:
		return decodeAndRun(ctx, req.Payload, e.RecordEvent)
	default:
		return Result{}, fmt.Errorf("%w: unknown action %q", storage.ErrUnsupported, req.Action)
	}
}

func decodeAndRun[P any](ctx context.Context, raw json.RawMessage, run func(context.Context, P) (Result, error)) (Result, error) {
	var payload P
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Result{}, fmt.Errorf("%w: decode payload: %v", storage.ErrInvalidInput, err)
	}
	return run(ctx, payload)
}

// Track registers a contest for ingestion, keyed by the deterministic
// internal key over (chainId, contractAddress, window). Re-tracking identical
// fields is a noop returning the existing id.
func (e *Engine) Track(ctx context.Context, p TrackPayload) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}
	p.ContractAddress = normalizeAddress(p.ContractAddress)
	key := idhash.ComputeContestKey(p.ChainID, p.ContractAddress, p.WindowStart, p.WindowEnd)

	var res Result
	err := e.store.WithinTx(ctx, func(tx storage.DomainTx) error {
		existing, err := tx.GetContestByKey(ctx, key)
		if err == nil {
			if existing.OriginTag != p.OriginTag && p.OriginTag != "" {
				return fmt.Errorf("%w: contest %s already tracked with origin %q", storage.ErrConflict, existing.ID, existing.OriginTag)
			}
			res = noop(existing.ID)
			return nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		now := e.nowMillis()
		contest := &domain.Contest{
			ID:              e.newID(),
			ChainID:         p.ChainID,
			ContractAddress: p.ContractAddress,
			InternalKey:     key,
			Status:          domain.ContestStatusRegistered,
			WindowStart:     p.WindowStart,
			WindowEnd:       p.WindowEnd,
			OriginTag:       p.OriginTag,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		contest.Metadata.MergeRegistration(domain.RegistrationInfo{Capacity: p.Capacity})
		contest.Metadata.MergeRebalance(p.Rebalance)

		if err := tx.InsertContest(ctx, contest); err != nil {
			return err
		}

		// Link a pre-existing cursor for this contract to the new contest.
		if cur, err := tx.GetCursor(ctx, p.ChainID, p.ContractAddress); err == nil && cur.ContestID == "" {
			cur.ContestID = contest.ID
			cur.UpdatedAt = now
			if err := tx.UpsertCursor(ctx, cur); err != nil {
				return err
			}
		} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		res = applied(contest.ID)
		return nil
	})
	if errors.Is(err, storage.ErrDuplicateKey) {
		// Lost a race with a concurrent track for the same key.
		var existingID string
		readErr := e.store.WithinTx(ctx, func(tx storage.DomainTx) error {
			c, err := tx.GetContestByKey(ctx, key)
			if err != nil {
				return err
			}
			existingID = c.ID
			return nil
		})
		if readErr == nil {
			return noop(existingID), nil
		}
		return Result{}, err
	}
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// IngestSnapshot merges a polled contract snapshot into contest metadata.
func (e *Engine) IngestSnapshot(ctx context.Context, p SnapshotPayload) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}

	var res Result
	err := e.store.WithinTx(ctx, func(tx storage.DomainTx) error {
		contest, err := tx.GetContestByID(ctx, p.ContestID)
		if err != nil {
			return err
		}

		before := cloneMetadata(contest.Metadata)
		contest.Metadata.MergePhase(p.Phase)
		contest.Metadata.MergePrizePool(p.PrizePool)
		contest.Metadata.MergeAddresses(p.Addresses)
		contest.Metadata.MergeRebalance(p.Rebalance)

		if reflect.DeepEqual(before, contest.Metadata) {
			res = noop(contest.ID)
			return nil
		}

		contest.UpdatedAt = e.nowMillis()
		if err := tx.UpdateContest(ctx, contest); err != nil {
			return err
		}
		res = applied(contest.ID)
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// RegisterParticipation inserts a participant row and, in the same
// transaction, recomputes the participant count and capacity-full flag and
// merges the wallet's entry into the contest metadata registry. A duplicate
// event locator makes the whole action a noop.
func (e *Engine) RegisterParticipation(ctx context.Context, p ParticipationPayload) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}
	p.WalletAddress = normalizeAddress(p.WalletAddress)

	var res Result
	err := e.store.WithinTx(ctx, func(tx storage.DomainTx) error {
		contest, err := tx.GetContestByID(ctx, p.ContestID)
		if err != nil {
			return err
		}

		now := e.nowMillis()
		participant := &domain.Participant{
			ContestID:     contest.ID,
			WalletAddress: p.WalletAddress,
			VaultRef:      p.VaultRef,
			AmountWei:     p.AmountWei,
			Locator:       p.Locator,
			OccurredAt:    p.OccurredAt,
			CreatedAt:     now,
		}
		if err := tx.InsertParticipant(ctx, participant); err != nil {
			if errors.Is(err, storage.ErrDuplicateKey) {
				return errNoopInsert
			}
			return err
		}

		count, err := tx.CountParticipants(ctx, contest.ID)
		if err != nil {
			return err
		}
		capacity := contest.Metadata.Registration.Capacity
		contest.Metadata.MergeRegistration(domain.RegistrationInfo{
			ParticipantCount: count,
			Full:             capacity > 0 && count >= capacity,
		})
		contest.Metadata.MergeParticipant(p.WalletAddress, domain.ParticipantEntry{
			Vault:        p.VaultRef,
			AmountWei:    p.AmountWei,
			RegisteredAt: p.OccurredAt,
		})

		event := &domain.IngestionEvent{
			ContestID:  contest.ID,
			Locator:    p.Locator,
			Kind:       "participation",
			Payload:    map[string]any{"wallet": p.WalletAddress, "amountWei": p.AmountWei},
			RecordedAt: now,
		}
		if err := tx.InsertIngestionEvent(ctx, event); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
			return err
		}

		contest.UpdatedAt = now
		if err := tx.UpdateContest(ctx, contest); err != nil {
			return err
		}
		res = applied(contest.ID)
		return nil
	})
	if errors.Is(err, errNoopInsert) {
		return noop(p.ContestID), nil
	}
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// WriteLeadersVersion writes a strictly-increasing leaderboard snapshot.
// A version below the stored maximum is an order violation unless it is an
// exact duplicate of the stored row, which is a noop.
func (e *Engine) WriteLeadersVersion(ctx context.Context, p LeadersVersionPayload) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}

	var res Result
	err := e.store.WithinTx(ctx, func(tx storage.DomainTx) error {
		contest, err := tx.GetContestByID(ctx, p.ContestID)
		if err != nil {
			return err
		}

		max, ok, err := tx.MaxLeaderboardVersion(ctx, contest.ID)
		if err != nil {
			return err
		}
		if ok && p.Version <= max {
			stored, err := tx.GetLeaderboardVersion(ctx, contest.ID, p.Version)
			if err == nil && reflect.DeepEqual(stored.Entries, p.Entries) {
				res = noop(contest.ID)
				return nil
			}
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				return err
			}
			return fmt.Errorf("%w: version %d does not exceed stored maximum %d", storage.ErrOrderViolation, p.Version, max)
		}

		writtenAt := p.WrittenAt
		if writtenAt == 0 {
			writtenAt = e.nowMillis()
		}
		version := &domain.LeaderboardVersion{
			ContestID: contest.ID,
			Version:   p.Version,
			Entries:   p.Entries,
			WrittenAt: writtenAt,
			CreatedAt: e.nowMillis(),
		}
		if err := tx.InsertLeaderboardVersion(ctx, version); err != nil {
			if errors.Is(err, storage.ErrDuplicateKey) {
				return errNoopInsert
			}
			return err
		}
		res = applied(contest.ID)
		return nil
	})
	if errors.Is(err, errNoopInsert) {
		return noop(p.ContestID), nil
	}
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// Seal closes the contest. Requires sealedAt at or after the contest window
// end; sealing an already-sealed contest with an equal or earlier timestamp
// is a noop.
func (e *Engine) Seal(ctx context.Context, p SealPayload) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}

	var res Result
	err := e.store.WithinTx(ctx, func(tx storage.DomainTx) error {
		contest, err := tx.GetContestByID(ctx, p.ContestID)
		if err != nil {
			return err
		}
		if p.SealedAt < contest.WindowEnd || p.SealedAt < contest.WindowStart {
			return fmt.Errorf("%w: sealedAt %d precedes contest window end %d", storage.ErrInvalidInput, p.SealedAt, contest.WindowEnd)
		}

		if contest.Status == domain.ContestStatusSealed || contest.Status == domain.ContestStatusSettled {
			if contest.SealedAt >= p.SealedAt {
				res = noop(contest.ID)
				return nil
			}
			return fmt.Errorf("%w: contest %s already sealed at %d", storage.ErrConflict, contest.ID, contest.SealedAt)
		}

		contest.Status = domain.ContestStatusSealed
		contest.SealedAt = p.SealedAt
		contest.Metadata.MergePhase(domain.PhaseInfo{Name: "sealed", ChangedAt: p.SealedAt})
		contest.UpdatedAt = e.nowMillis()
		if err := tx.UpdateContest(ctx, contest); err != nil {
			return err
		}
		res = applied(contest.ID)
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// AppendRewardClaim records one reward payout; a duplicate event locator is a noop.
func (e *Engine) AppendRewardClaim(ctx context.Context, p RewardClaimPayload) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}
	p.WalletAddress = normalizeAddress(p.WalletAddress)

	var res Result
	err := e.store.WithinTx(ctx, func(tx storage.DomainTx) error {
		contest, err := tx.GetContestByID(ctx, p.ContestID)
		if err != nil {
			return err
		}

		now := e.nowMillis()
		claim := &domain.RewardClaim{
			ContestID:     contest.ID,
			WalletAddress: p.WalletAddress,
			AmountWei:     p.AmountWei,
			Locator:       p.Locator,
			ClaimedAt:     p.ClaimedAt,
			CreatedAt:     now,
		}
		if err := tx.InsertRewardClaim(ctx, claim); err != nil {
			if errors.Is(err, storage.ErrDuplicateKey) {
				return errNoopInsert
			}
			return err
		}

		event := &domain.IngestionEvent{
			ContestID:  contest.ID,
			Locator:    p.Locator,
			Kind:       "reward_claim",
			Payload:    map[string]any{"wallet": p.WalletAddress, "amountWei": p.AmountWei},
			RecordedAt: now,
		}
		if err := tx.InsertIngestionEvent(ctx, event); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
			return err
		}
		res = applied(contest.ID)
		return nil
	})
	if errors.Is(err, errNoopInsert) {
		return noop(p.ContestID), nil
	}
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// UpdatePhase merges contest-level phase metadata.
func (e *Engine) UpdatePhase(ctx context.Context, p PhasePayload) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}

	var res Result
	err := e.store.WithinTx(ctx, func(tx storage.DomainTx) error {
		contest, err := tx.GetContestByID(ctx, p.ContestID)
		if err != nil {
			return err
		}

		before := contest.Metadata.Phase
		contest.Metadata.MergePhase(p.Phase)
		if before == contest.Metadata.Phase {
			res = noop(contest.ID)
			return nil
		}

		contest.UpdatedAt = e.nowMillis()
		if err := tx.UpdateContest(ctx, contest); err != nil {
			return err
		}
		res = applied(contest.ID)
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// UpdateParticipant merges a per-wallet sub-object into the metadata registry.
func (e *Engine) UpdateParticipant(ctx context.Context, p ParticipantUpdatePayload) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}
	p.WalletAddress = normalizeAddress(p.WalletAddress)

	var res Result
	err := e.store.WithinTx(ctx, func(tx storage.DomainTx) error {
		contest, err := tx.GetContestByID(ctx, p.ContestID)
		if err != nil {
			return err
		}

		before := contest.Metadata.Participants[p.WalletAddress]
		contest.Metadata.MergeParticipant(p.WalletAddress, p.Entry)
		if before == contest.Metadata.Participants[p.WalletAddress] {
			res = noop(contest.ID)
			return nil
		}

		contest.UpdatedAt = e.nowMillis()
		if err := tx.UpdateContest(ctx, contest); err != nil {
			return err
		}
		res = applied(contest.ID)
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// AdvanceCursor moves the ingestion cursor strictly forward. The first write
// for a new contract accepts any position; afterwards the attempted
// (height, logIndex) must exceed the stored tuple lexicographically.
func (e *Engine) AdvanceCursor(ctx context.Context, p CursorPayload) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}
	p.ContractAddress = normalizeAddress(p.ContractAddress)

	var res Result
	err := e.store.WithinTx(ctx, func(tx storage.DomainTx) error {
		stored, err := tx.GetCursor(ctx, p.ChainID, p.ContractAddress)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		if err == nil {
			if domain.CompareCursorPosition(p.Height, p.LogIndex, stored.Height, stored.LogIndex) <= 0 {
				return fmt.Errorf("%w: cursor (%d,%d) does not advance stored (%d,%d)",
					storage.ErrOrderViolation, p.Height, p.LogIndex, stored.Height, stored.LogIndex)
			}
		}

		contestID := p.ContestID
		if contestID == "" && stored != nil {
			contestID = stored.ContestID
		}
		cur := &domain.IngestionCursor{
			ChainID:         p.ChainID,
			ContractAddress: p.ContractAddress,
			ContestID:       contestID,
			Height:          p.Height,
			LogIndex:        p.LogIndex,
			BlockHash:       p.BlockHash,
			UpdatedAt:       e.nowMillis(),
		}
		if err := tx.UpsertCursor(ctx, cur); err != nil {
			return err
		}
		res = applied(contestID)
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// RecordEvent writes one audit row; a duplicate locator for the contest is a noop.
func (e *Engine) RecordEvent(ctx context.Context, p EventPayload) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}

	var res Result
	err := e.store.WithinTx(ctx, func(tx storage.DomainTx) error {
		contest, err := tx.GetContestByID(ctx, p.ContestID)
		if err != nil {
			return err
		}

		recordedAt := p.RecordedAt
		if recordedAt == 0 {
			recordedAt = e.nowMillis()
		}
		event := &domain.IngestionEvent{
			ContestID:  contest.ID,
			Locator:    p.Locator,
			Kind:       p.Kind,
			Payload:    p.Payload,
			RecordedAt: recordedAt,
		}
		if err := tx.InsertIngestionEvent(ctx, event); err != nil {
			if errors.Is(err, storage.ErrDuplicateKey) {
				return errNoopInsert
			}
			return err
		}
		res = applied(contest.ID)
		return nil
	})
	if errors.Is(err, errNoopInsert) {
		return noop(p.ContestID), nil
	}
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

func cloneMetadata(m domain.ContestMetadata) domain.ContestMetadata {
	out := m
	if m.Participants != nil {
		out.Participants = make(map[string]domain.ParticipantEntry, len(m.Participants))
		for k, v := range m.Participants {
			out.Participants[k] = v
		}
	}
	return out
}
