package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"contest-engine/internal/domain"
	"contest-engine/internal/storage"
)

// DomainStore is an in-memory implementation of storage.DomainStore.
// WithinTx takes the store lock for the whole callback and restores a
// snapshot of every map on error, so a failed action leaves no partial state.
type DomainStore struct {
	mu           sync.Mutex
	contests     map[string]*domain.Contest // keyed by id
	keyIndex     map[string]string          // internal key -> id
	addrIndex    map[string]string          // chain|address -> id
	participants map[string]*domain.Participant
	leaderboards map[string]*domain.LeaderboardVersion
	rewards      map[string]*domain.RewardClaim
	cursors      map[string]*domain.IngestionCursor
	events       map[string]*domain.IngestionEvent
	nextRowID    int64
}

// NewDomainStore creates a new in-memory domain store.
func NewDomainStore() *DomainStore {
	return &DomainStore{
		contests:     make(map[string]*domain.Contest),
		keyIndex:     make(map[string]string),
		addrIndex:    make(map[string]string),
		participants: make(map[string]*domain.Participant),
		leaderboards: make(map[string]*domain.LeaderboardVersion),
		rewards:      make(map[string]*domain.RewardClaim),
		cursors:      make(map[string]*domain.IngestionCursor),
		events:       make(map[string]*domain.IngestionEvent),
	}
}

// Compile-time interface checks.
var (
	_ storage.DomainStore = (*DomainStore)(nil)
	_ storage.DomainTx    = (*domainTx)(nil)
)

func locatorKey(l domain.EventLocator) string {
	return fmt.Sprintf("%d|%s|%d", l.ChainID, l.TxHash, l.LogIndex)
}

func addrKey(chainID int64, address string) string {
	return fmt.Sprintf("%d|%s", chainID, address)
}

// WithinTx runs fn under the store lock, rolling back to a snapshot on error.
func (s *DomainStore) WithinTx(_ context.Context, fn func(tx storage.DomainTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(&domainTx{s: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type storeSnapshot struct {
	contests     map[string]*domain.Contest
	keyIndex     map[string]string
	addrIndex    map[string]string
	participants map[string]*domain.Participant
	leaderboards map[string]*domain.LeaderboardVersion
	rewards      map[string]*domain.RewardClaim
	cursors      map[string]*domain.IngestionCursor
	events       map[string]*domain.IngestionEvent
	nextRowID    int64
}

// snapshot copies every map. Stored values are never mutated in place (all
// writes replace the entry with a fresh copy), so a shallow copy is enough.
func (s *DomainStore) snapshot() storeSnapshot {
	return storeSnapshot{
		contests:     copyMap(s.contests),
		keyIndex:     copyMap(s.keyIndex),
		addrIndex:    copyMap(s.addrIndex),
		participants: copyMap(s.participants),
		leaderboards: copyMap(s.leaderboards),
		rewards:      copyMap(s.rewards),
		cursors:      copyMap(s.cursors),
		events:       copyMap(s.events),
		nextRowID:    s.nextRowID,
	}
}

func (s *DomainStore) restore(snap storeSnapshot) {
	s.contests = snap.contests
	s.keyIndex = snap.keyIndex
	s.addrIndex = snap.addrIndex
	s.participants = snap.participants
	s.leaderboards = snap.leaderboards
	s.rewards = snap.rewards
	s.cursors = snap.cursors
	s.events = snap.events
	s.nextRowID = snap.nextRowID
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// GetContestByID retrieves a contest by id.
func (s *DomainStore) GetContestByID(_ context.Context, id string) (*domain.Contest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getContestByID(id)
}

// GetContestByAddress retrieves a contest by (chain id, contract address).
func (s *DomainStore) GetContestByAddress(_ context.Context, chainID int64, address string) (*domain.Contest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getContestByAddress(chainID, address)
}

// GetCursor retrieves the cursor for (chain id, contract address).
func (s *DomainStore) GetCursor(_ context.Context, chainID int64, address string) (*domain.IngestionCursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getCursor(chainID, address)
}

// GetCursorByContest retrieves the cursor linked to a contest.
func (s *DomainStore) GetCursorByContest(_ context.Context, contestID string) (*domain.IngestionCursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, cur := range s.cursors {
		if cur.ContestID == contestID {
			c := *cur
			return &c, nil
		}
	}
	return nil, storage.ErrNotFound
}

// ListContests returns every tracked contest, oldest first.
func (s *DomainStore) ListContests(_ context.Context) ([]*domain.Contest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	contests := make([]*domain.Contest, 0, len(s.contests))
	for _, c := range s.contests {
		contests = append(contests, cloneContest(c))
	}
	sort.Slice(contests, func(i, j int) bool {
		if contests[i].CreatedAt != contests[j].CreatedAt {
			return contests[i].CreatedAt < contests[j].CreatedAt
		}
		return contests[i].ID < contests[j].ID
	})
	return contests, nil
}

// CountParticipants returns the participant row count for a contest. Exposed
// for tests; the write engine uses the transactional view.
func (s *DomainStore) CountParticipants(_ context.Context, contestID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&domainTx{s: s}).countParticipants(contestID), nil
}

// unlocked helpers shared by the public methods and the tx view

func (s *DomainStore) getContestByID(id string) (*domain.Contest, error) {
	c, ok := s.contests[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneContest(c), nil
}

func (s *DomainStore) getContestByAddress(chainID int64, address string) (*domain.Contest, error) {
	id, ok := s.addrIndex[addrKey(chainID, address)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return s.getContestByID(id)
}

func (s *DomainStore) getCursor(chainID int64, address string) (*domain.IngestionCursor, error) {
	cur, ok := s.cursors[addrKey(chainID, address)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *cur
	return &c, nil
}

// cloneContest deep-copies the contest, including the metadata registry map.
func cloneContest(c *domain.Contest) *domain.Contest {
	out := *c
	if c.Metadata.Participants != nil {
		out.Metadata.Participants = copyMap(c.Metadata.Participants)
	}
	return &out
}

// domainTx is the transactional view; the store lock is already held.
type domainTx struct {
	s *DomainStore
}

func (t *domainTx) GetContestByID(_ context.Context, id string) (*domain.Contest, error) {
	return t.s.getContestByID(id)
}

func (t *domainTx) GetContestByKey(_ context.Context, internalKey string) (*domain.Contest, error) {
	id, ok := t.s.keyIndex[internalKey]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return t.s.getContestByID(id)
}

func (t *domainTx) GetContestByAddress(_ context.Context, chainID int64, address string) (*domain.Contest, error) {
	return t.s.getContestByAddress(chainID, address)
}

func (t *domainTx) InsertContest(_ context.Context, c *domain.Contest) error {
	if c == nil || c.ID == "" || c.InternalKey == "" {
		return storage.ErrInvalidInput
	}
	if _, exists := t.s.keyIndex[c.InternalKey]; exists {
		return storage.ErrDuplicateKey
	}
	if _, exists := t.s.addrIndex[addrKey(c.ChainID, c.ContractAddress)]; exists {
		return storage.ErrDuplicateKey
	}

	t.s.contests[c.ID] = cloneContest(c)
	t.s.keyIndex[c.InternalKey] = c.ID
	t.s.addrIndex[addrKey(c.ChainID, c.ContractAddress)] = c.ID
	return nil
}

func (t *domainTx) UpdateContest(_ context.Context, c *domain.Contest) error {
	if c == nil || c.ID == "" {
		return storage.ErrInvalidInput
	}
	stored, ok := t.s.contests[c.ID]
	if !ok {
		return storage.ErrNotFound
	}

	updated := cloneContest(c)
	// Immutable identity fields keep their stored values.
	updated.InternalKey = stored.InternalKey
	updated.ChainID = stored.ChainID
	updated.ContractAddress = stored.ContractAddress
	updated.CreatedAt = stored.CreatedAt
	t.s.contests[c.ID] = updated
	return nil
}

func (t *domainTx) InsertParticipant(_ context.Context, p *domain.Participant) error {
	if p == nil || p.ContestID == "" {
		return storage.ErrInvalidInput
	}
	key := locatorKey(p.Locator)
	if _, exists := t.s.participants[key]; exists {
		return storage.ErrDuplicateKey
	}

	t.s.nextRowID++
	cp := *p
	cp.ID = t.s.nextRowID
	t.s.participants[key] = &cp
	return nil
}

func (t *domainTx) CountParticipants(_ context.Context, contestID string) (int, error) {
	return t.countParticipants(contestID), nil
}

func (t *domainTx) countParticipants(contestID string) int {
	count := 0
	for _, p := range t.s.participants {
		if p.ContestID == contestID {
			count++
		}
	}
	return count
}

func (t *domainTx) MaxLeaderboardVersion(_ context.Context, contestID string) (int64, bool, error) {
	var max int64
	found := false
	for _, v := range t.s.leaderboards {
		if v.ContestID == contestID && (!found || v.Version > max) {
			max = v.Version
			found = true
		}
	}
	return max, found, nil
}

func (t *domainTx) GetLeaderboardVersion(_ context.Context, contestID string, version int64) (*domain.LeaderboardVersion, error) {
	v, ok := t.s.leaderboards[fmt.Sprintf("%s|%d", contestID, version)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *v
	cp.Entries = append([]domain.LeaderboardEntry(nil), v.Entries...)
	return &cp, nil
}

func (t *domainTx) InsertLeaderboardVersion(_ context.Context, v *domain.LeaderboardVersion) error {
	if v == nil || v.ContestID == "" {
		return storage.ErrInvalidInput
	}
	key := fmt.Sprintf("%s|%d", v.ContestID, v.Version)
	if _, exists := t.s.leaderboards[key]; exists {
		return storage.ErrDuplicateKey
	}

	t.s.nextRowID++
	cp := *v
	cp.ID = t.s.nextRowID
	cp.Entries = append([]domain.LeaderboardEntry(nil), v.Entries...)
	t.s.leaderboards[key] = &cp
	return nil
}

func (t *domainTx) InsertRewardClaim(_ context.Context, c *domain.RewardClaim) error {
	if c == nil || c.ContestID == "" {
		return storage.ErrInvalidInput
	}
	key := locatorKey(c.Locator)
	if _, exists := t.s.rewards[key]; exists {
		return storage.ErrDuplicateKey
	}

	t.s.nextRowID++
	cp := *c
	cp.ID = t.s.nextRowID
	t.s.rewards[key] = &cp
	return nil
}

func (t *domainTx) GetCursor(_ context.Context, chainID int64, address string) (*domain.IngestionCursor, error) {
	return t.s.getCursor(chainID, address)
}

func (t *domainTx) UpsertCursor(_ context.Context, cur *domain.IngestionCursor) error {
	if cur == nil || cur.ContractAddress == "" {
		return storage.ErrInvalidInput
	}
	key := addrKey(cur.ChainID, cur.ContractAddress)
	cp := *cur
	if cp.ContestID == "" {
		if prev, ok := t.s.cursors[key]; ok {
			cp.ContestID = prev.ContestID
		}
	}
	t.s.cursors[key] = &cp
	return nil
}

func (t *domainTx) InsertIngestionEvent(_ context.Context, e *domain.IngestionEvent) error {
	if e == nil || e.ContestID == "" {
		return storage.ErrInvalidInput
	}
	key := fmt.Sprintf("%s|%s", e.ContestID, locatorKey(e.Locator))
	if _, exists := t.s.events[key]; exists {
		return storage.ErrDuplicateKey
	}

	t.s.nextRowID++
	cp := *e
	cp.ID = t.s.nextRowID
	t.s.events[key] = &cp
	return nil
}
