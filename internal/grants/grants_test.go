package grants

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReleaser struct {
	released map[string]int64
	calls    int
	fail     bool
}

func (r *fakeReleaser) Release(recipient string, amount int64) error {
	r.calls++
	if r.fail {
		return assert.AnError
	}
	if r.released == nil {
		r.released = make(map[string]int64)
	}
	r.released[recipient] += amount
	return nil
}

func newTestBoard(t *testing.T, quorumBps int64) (*Board, *fakeReleaser, *time.Time) {
	t.Helper()
	rel := &fakeReleaser{}
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	b := NewBoard(BoardConfig{
		Beneficiary: "water",
		QuorumBps:   quorumBps,
		Releaser:    rel,
		Now:         func() time.Time { return now },
	})
	return b, rel, &now
}

func TestMintCredits_ArityMismatch(t *testing.T) {
	b, _, _ := newTestBoard(t, 2000)

	err := b.MintCredits([]string{"a", "b"}, []int64{10})
	require.ErrorIs(t, err, ErrArityMismatch)
	assert.Equal(t, int64(0), b.TotalMinted())

	require.NoError(t, b.MintCredits([]string{"a", "b"}, []int64{10, 30}))
	assert.Equal(t, int64(40), b.TotalMinted())
	assert.Equal(t, int64(10), b.CreditOf("a"))
	assert.Equal(t, int64(30), b.CreditOf("b"))
}

func TestVote_WeightedByCreditUntilDeadline(t *testing.T) {
	b, _, now := newTestBoard(t, 2000)
	require.NoError(t, b.MintCredits([]string{"a", "b"}, []int64{10, 30}))

	p, err := b.Propose("new well", "builder", 100, time.Hour)
	require.NoError(t, err)

	require.NoError(t, b.Vote("a", p.ID, true))
	require.NoError(t, b.Vote("b", p.ID, false))

	got, ok := b.Proposal(p.ID)
	require.True(t, ok)
	assert.Equal(t, int64(10), got.Yes)
	assert.Equal(t, int64(30), got.No)

	// One vote per voter.
	require.ErrorIs(t, b.Vote("a", p.ID, true), ErrAlreadyVoted)
	// No credit, no vote.
	require.ErrorIs(t, b.Vote("stranger", p.ID, true), ErrNoCredit)
	// Nothing after the deadline.
	*now = now.Add(2 * time.Hour)
	require.ErrorIs(t, b.Vote("a", p.ID, true), ErrVotingClosed)

	require.ErrorIs(t, b.Vote("a", "nope", true), ErrUnknownProposal)
}

func TestExecute_QuorumAgainstTotalEverMinted(t *testing.T) {
	// Quorum: half of all credit ever minted must vote.
	b, rel, now := newTestBoard(t, 5000)
	require.NoError(t, b.MintCredits([]string{"a", "b", "c"}, []int64{25, 25, 50}))

	p, err := b.Propose("supplies", "shop", 40, time.Hour)
	require.NoError(t, err)
	require.NoError(t, b.Vote("a", p.ID, true))

	require.ErrorIs(t, b.Execute(p.ID), ErrVotingOpen)

	*now = now.Add(time.Hour)
	// Only 25 of 100 voted; quorum needs 50.
	require.ErrorIs(t, b.Execute(p.ID), ErrQuorumNotReached)
	assert.Zero(t, rel.calls)
}

func TestExecute_MajorityAndOneShotRelease(t *testing.T) {
	b, rel, now := newTestBoard(t, 2000)
	require.NoError(t, b.MintCredits([]string{"a", "b"}, []int64{60, 40}))

	p, err := b.Propose("supplies", "shop", 40, time.Hour)
	require.NoError(t, err)
	require.NoError(t, b.Vote("a", p.ID, true))
	require.NoError(t, b.Vote("b", p.ID, false))

	*now = now.Add(time.Hour)
	require.NoError(t, b.Execute(p.ID))
	assert.Equal(t, int64(40), rel.released["shop"])

	// Funds release exactly once.
	require.ErrorIs(t, b.Execute(p.ID), ErrAlreadyExecuted)
	assert.Equal(t, 1, rel.calls)
}

func TestExecute_RejectedOnTieOrMinority(t *testing.T) {
	b, rel, now := newTestBoard(t, 2000)
	require.NoError(t, b.MintCredits([]string{"a", "b"}, []int64{50, 50}))

	p, err := b.Propose("supplies", "shop", 40, time.Hour)
	require.NoError(t, err)
	require.NoError(t, b.Vote("a", p.ID, true))
	require.NoError(t, b.Vote("b", p.ID, false))

	*now = now.Add(time.Hour)
	// 50 yes vs 50 no: a tie does not pass.
	require.ErrorIs(t, b.Execute(p.ID), ErrRejected)
	assert.Zero(t, rel.calls)
}

func TestExecute_FailedReleaseStaysRetryable(t *testing.T) {
	b, rel, now := newTestBoard(t, 2000)
	require.NoError(t, b.MintCredits([]string{"a"}, []int64{100}))

	p, err := b.Propose("supplies", "shop", 40, time.Hour)
	require.NoError(t, err)
	require.NoError(t, b.Vote("a", p.ID, true))
	*now = now.Add(time.Hour)

	rel.fail = true
	require.Error(t, b.Execute(p.ID))

	rel.fail = false
	require.NoError(t, b.Execute(p.ID))
	assert.Equal(t, int64(40), rel.released["shop"])
}
