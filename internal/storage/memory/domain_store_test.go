package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contest-engine/internal/domain"
	"contest-engine/internal/storage"
)

func testContest(id string) *domain.Contest {
	return &domain.Contest{
		ID:              id,
		ChainID:         31337,
		ContractAddress: "0xc0ffee",
		InternalKey:     "key-" + id,
		Status:          domain.ContestStatusRegistered,
		WindowStart:     1000,
		WindowEnd:       2000,
	}
}

func TestWithinTx_RollbackRestoresState(t *testing.T) {
	store := NewDomainStore()
	ctx := context.Background()

	require.NoError(t, store.WithinTx(ctx, func(tx storage.DomainTx) error {
		return tx.InsertContest(ctx, testContest("c1"))
	}))

	boom := errors.New("mid-transaction failure")
	err := store.WithinTx(ctx, func(tx storage.DomainTx) error {
		if err := tx.InsertParticipant(ctx, &domain.Participant{
			ContestID:     "c1",
			WalletAddress: "0xwallet",
			AmountWei:     "1",
			Locator:       domain.EventLocator{ChainID: 31337, TxHash: "0xtx", LogIndex: 0},
		}); err != nil {
			return err
		}
		contest, err := tx.GetContestByID(ctx, "c1")
		if err != nil {
			return err
		}
		contest.Status = domain.ContestStatusActive
		if err := tx.UpdateContest(ctx, contest); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	// Everything written inside the failed transaction is gone.
	contest, err := store.GetContestByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.ContestStatusRegistered, contest.Status)

	err = store.WithinTx(ctx, func(tx storage.DomainTx) error {
		count, err := tx.CountParticipants(ctx, "c1")
		if err != nil {
			return err
		}
		assert.Zero(t, count)
		return nil
	})
	require.NoError(t, err)
}

func TestInsertParticipant_DuplicateLocator(t *testing.T) {
	store := NewDomainStore()
	ctx := context.Background()

	locator := domain.EventLocator{ChainID: 31337, TxHash: "0xtx", LogIndex: 0}

	err := store.WithinTx(ctx, func(tx storage.DomainTx) error {
		if err := tx.InsertContest(ctx, testContest("c1")); err != nil {
			return err
		}
		return tx.InsertParticipant(ctx, &domain.Participant{
			ContestID: "c1", WalletAddress: "0xwallet", AmountWei: "1", Locator: locator,
		})
	})
	require.NoError(t, err)

	err = store.WithinTx(ctx, func(tx storage.DomainTx) error {
		return tx.InsertParticipant(ctx, &domain.Participant{
			ContestID: "c1", WalletAddress: "0xother", AmountWei: "2", Locator: locator,
		})
	})
	require.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestInsertContest_DuplicateInternalKey(t *testing.T) {
	store := NewDomainStore()
	ctx := context.Background()

	require.NoError(t, store.WithinTx(ctx, func(tx storage.DomainTx) error {
		return tx.InsertContest(ctx, testContest("c1"))
	}))

	dup := testContest("c2")
	dup.InternalKey = "key-c1"
	err := store.WithinTx(ctx, func(tx storage.DomainTx) error {
		return tx.InsertContest(ctx, dup)
	})
	require.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestGetContest_ReturnsIsolatedCopies(t *testing.T) {
	store := NewDomainStore()
	ctx := context.Background()

	c := testContest("c1")
	c.Metadata.MergeParticipant("0xwallet", domain.ParticipantEntry{Vault: "v1"})
	require.NoError(t, store.WithinTx(ctx, func(tx storage.DomainTx) error {
		return tx.InsertContest(ctx, c)
	}))

	first, err := store.GetContestByID(ctx, "c1")
	require.NoError(t, err)

	// Mutating the returned value must not leak into the store.
	first.Status = domain.ContestStatusSettled
	first.Metadata.Participants["0xwallet"] = domain.ParticipantEntry{Vault: "hacked"}

	second, err := store.GetContestByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.ContestStatusRegistered, second.Status)
	assert.Equal(t, "v1", second.Metadata.Participants["0xwallet"].Vault)
}

func TestListContests_Sorted(t *testing.T) {
	store := NewDomainStore()
	ctx := context.Background()

	for _, id := range []string{"c3", "c1", "c2"} {
		c := testContest(id)
		c.ContractAddress = "0x" + id
		require.NoError(t, store.WithinTx(ctx, func(tx storage.DomainTx) error {
			return tx.InsertContest(ctx, c)
		}))
	}

	contests, err := store.ListContests(ctx)
	require.NoError(t, err)
	require.Len(t, contests, 3)
	assert.Equal(t, "c1", contests[0].ID)
	assert.Equal(t, "c2", contests[1].ID)
	assert.Equal(t, "c3", contests[2].ID)
}
