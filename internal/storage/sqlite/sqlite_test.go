package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/givepool/givepool/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "givepool.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestDonors_CreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	donor := &models.Donor{
		Email:        "alice@example.com",
		DisplayName:  "Alice",
		PasswordHash: "hash",
		Admin:        true,
	}
	require.NoError(t, store.CreateDonor(ctx, donor))
	assert.NotEmpty(t, donor.ID)
	assert.NotZero(t, donor.CreatedAt)

	byEmail, err := store.GetDonorByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, donor.ID, byEmail.ID)
	assert.True(t, byEmail.Admin)

	byID, err := store.GetDonorByID(ctx, donor.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", byID.DisplayName)

	_, err = store.GetDonorByEmail(ctx, "nobody@example.com")
	require.Error(t, err)

	// Email is unique.
	err = store.CreateDonor(ctx, &models.Donor{Email: "alice@example.com", DisplayName: "Dup", PasswordHash: "h"})
	require.Error(t, err)
}

func TestAllocations_SaveAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	donor := &models.Donor{Email: "bob@example.com", DisplayName: "Bob", PasswordHash: "h"}
	require.NoError(t, store.CreateDonor(ctx, donor))

	for i, b := range []string{"water", "shelter"} {
		require.NoError(t, store.SaveAllocation(ctx, &models.AllocationRecord{
			Epoch:       1,
			DonorID:     donor.ID,
			Beneficiary: b,
			Votes:       int64(10 * (i + 1)),
			Assets:      int64(10 * (i + 1)),
			CreatedAt:   int64(1000 + i),
		}))
	}

	recs, err := store.ListAllocations(ctx, 1, donor.ID)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "water", recs[0].Beneficiary)
	assert.Equal(t, "shelter", recs[1].Beneficiary)

	empty, err := store.ListAllocations(ctx, 2, donor.ID)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestEpochs_SaveGetAndSettlePending(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	epoch := &models.EpochRecord{
		Number:          1,
		StartedAt:       1000,
		FinalizedAt:     2000,
		DurationSeconds: 1000,
		TotalAssets:     150,
		Distributed:     100,
		Pending:         50,
	}
	dists := []*models.DistributionRecord{
		{Epoch: 1, Beneficiary: "shelter", TotalVotes: 100, TotalAssets: 100, UserCount: 1, Settled: true},
		{Epoch: 1, Beneficiary: "water", TotalVotes: 50, TotalAssets: 50, UserCount: 2, Reason: "destination no longer eligible"},
	}
	require.NoError(t, store.SaveEpoch(ctx, epoch, dists))

	got, err := store.GetEpoch(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(150), got.TotalAssets)
	assert.Equal(t, int64(50), got.Pending)

	_, err = store.GetEpoch(ctx, 99)
	require.Error(t, err)

	list, err := store.ListDistributions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.False(t, list[1].Settled)
	assert.Equal(t, "destination no longer eligible", list[1].Reason)

	// A retried payout settles the pending row and moves the epoch totals.
	require.NoError(t, store.MarkDistributionSettled(ctx, 1, "water"))
	got, err = store.GetEpoch(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(150), got.Distributed)
	assert.Equal(t, int64(0), got.Pending)

	list, err = store.ListDistributions(ctx, 1)
	require.NoError(t, err)
	for _, d := range list {
		assert.True(t, d.Settled)
	}

	// Marking twice is a no-op, not a double move.
	require.NoError(t, store.MarkDistributionSettled(ctx, 1, "water"))
	got, err = store.GetEpoch(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(150), got.Distributed)
}
