// Package grants implements the proposal voting layer that sits on top of a
// settled beneficiary balance: non-transferable voting credit, yes/no votes
// weighted by credit balance until a deadline, a quorum measured against all
// credit ever minted, and a one-shot release of the granted funds.
package grants

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/givepool/givepool/internal/journal"
)

var (
	// ErrArityMismatch is returned when paired recipient/amount slices have
	// different lengths.
	ErrArityMismatch = errors.New("recipients and amounts length mismatch")

	// ErrNoCredit means the voter holds no voting credit.
	ErrNoCredit = errors.New("voter holds no credit")

	// ErrAlreadyVoted means the voter already voted on this proposal.
	ErrAlreadyVoted = errors.New("already voted on proposal")

	// ErrVotingClosed means the proposal deadline has passed.
	ErrVotingClosed = errors.New("voting period has ended")

	// ErrVotingOpen means the proposal cannot execute before its deadline.
	ErrVotingOpen = errors.New("voting period still open")

	// ErrQuorumNotReached means too little of the minted credit voted.
	ErrQuorumNotReached = errors.New("quorum not reached")

	// ErrRejected means the proposal did not gather a majority of yes votes.
	ErrRejected = errors.New("proposal rejected")

	// ErrAlreadyExecuted means the proposal's funds were already released.
	ErrAlreadyExecuted = errors.New("proposal already executed")

	// ErrUnknownProposal means no proposal exists under the given ID.
	ErrUnknownProposal = errors.New("unknown proposal")

	// ErrNonPositiveAmount rejects zero or negative credit/grant amounts.
	ErrNonPositiveAmount = errors.New("amount must be positive")
)

// FundsReleaser pays an approved grant out of the beneficiary's balance.
type FundsReleaser interface {
	Release(recipient string, amount int64) error
}

// Proposal is a request to pay amount to recipient out of the board's funds.
type Proposal struct {
	ID        string
	Title     string
	Recipient string
	Amount    int64
	Deadline  time.Time
	Yes       int64
	No        int64
	Executed  bool

	voted map[string]bool
}

// TotalVotes returns the credit that voted either way.
func (p *Proposal) TotalVotes() int64 { return p.Yes + p.No }

// Board runs grant voting for one beneficiary. Credit is non-transferable:
// it is minted to receipt holders after settlement and can only ever be
// spent on voting weight.
type Board struct {
	mu sync.Mutex

	beneficiary string
	quorumBps   int64 // basis points of total credit ever minted

	credits     map[string]int64
	totalMinted int64

	proposals map[string]*Proposal
	order     []string

	releaser FundsReleaser
	events   journal.Writer
	now      func() time.Time
}

// BoardConfig wires a Board.
type BoardConfig struct {
	Beneficiary string
	// QuorumBps is the quorum as basis points of all credit ever minted.
	// 2000 means a fifth of the electorate must vote.
	QuorumBps int64
	Releaser  FundsReleaser
	Events    journal.Writer
	Now       func() time.Time
}

// NewBoard creates a board with no credit minted and no proposals.
func NewBoard(cfg BoardConfig) *Board {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Board{
		beneficiary: cfg.Beneficiary,
		quorumBps:   cfg.QuorumBps,
		credits:     make(map[string]int64),
		proposals:   make(map[string]*Proposal),
		releaser:    cfg.Releaser,
		events:      cfg.Events,
		now:         now,
	}
}

func (b *Board) emit(entry journal.Entry) {
	if b.events == nil {
		return
	}
	_ = b.events.Append(entry)
}

// MintCredits mints voting credit to each recipient. The slices are paired
// element-wise and must have equal length.
func (b *Board) MintCredits(recipients []string, amounts []int64) error {
	if len(recipients) != len(amounts) {
		return fmt.Errorf("%w: %d recipients, %d amounts",
			ErrArityMismatch, len(recipients), len(amounts))
	}
	for _, amt := range amounts {
		if amt <= 0 {
			return fmt.Errorf("%w: credit %d", ErrNonPositiveAmount, amt)
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, r := range recipients {
		b.credits[r] += amounts[i]
		b.totalMinted += amounts[i]
	}
	return nil
}

// CreditOf returns the voter's current credit balance.
func (b *Board) CreditOf(voter string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.credits[voter]
}

// TotalMinted returns all credit ever minted, the quorum denominator.
func (b *Board) TotalMinted() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalMinted
}

// Propose opens a proposal that stays votable until the deadline.
func (b *Board) Propose(title, recipient string, amount int64, votingPeriod time.Duration) (*Proposal, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: grant %d", ErrNonPositiveAmount, amount)
	}
	if votingPeriod <= 0 {
		return nil, fmt.Errorf("%w: voting period %s", ErrNonPositiveAmount, votingPeriod)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	p := &Proposal{
		ID:        uuid.New().String(),
		Title:     title,
		Recipient: recipient,
		Amount:    amount,
		Deadline:  b.now().Add(votingPeriod),
		voted:     make(map[string]bool),
	}
	b.proposals[p.ID] = p
	b.order = append(b.order, p.ID)

	b.emit(journal.Entry{
		Kind:        journal.KindGrantProposed,
		Beneficiary: b.beneficiary,
		User:        recipient,
		Assets:      amount,
		Reason:      title,
	})
	return b.snapshot(p), nil
}

// Vote casts the voter's full credit balance for or against the proposal.
// One vote per voter per proposal, and only before the deadline.
func (b *Board) Vote(voter, proposalID string, support bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.proposals[proposalID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProposal, proposalID)
	}
	if !b.now().Before(p.Deadline) {
		return fmt.Errorf("%w: deadline %s", ErrVotingClosed, p.Deadline)
	}
	if p.voted[voter] {
		return fmt.Errorf("%w: %q", ErrAlreadyVoted, voter)
	}
	weight := b.credits[voter]
	if weight == 0 {
		return fmt.Errorf("%w: %q", ErrNoCredit, voter)
	}

	p.voted[voter] = true
	if support {
		p.Yes += weight
	} else {
		p.No += weight
	}

	b.emit(journal.Entry{
		Kind:        journal.KindGrantVote,
		Beneficiary: b.beneficiary,
		User:        voter,
		Votes:       weight,
		Reason:      proposalID,
	})
	return nil
}

// quorumReached compares voted credit against the quorum fraction of all
// credit ever minted, in big integers so large electorates cannot overflow.
func (b *Board) quorumReached(p *Proposal) bool {
	voted := new(big.Int).Mul(big.NewInt(p.TotalVotes()), big.NewInt(10000))
	need := new(big.Int).Mul(big.NewInt(b.totalMinted), big.NewInt(b.quorumBps))
	return voted.Cmp(need) >= 0
}

// Execute releases the granted funds once the deadline has passed, the
// quorum is met and yes outweighs no. A proposal releases funds at most
// once.
func (b *Board) Execute(proposalID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.proposals[proposalID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProposal, proposalID)
	}
	if p.Executed {
		return fmt.Errorf("%w: %q", ErrAlreadyExecuted, proposalID)
	}
	if b.now().Before(p.Deadline) {
		return fmt.Errorf("%w: until %s", ErrVotingOpen, p.Deadline)
	}
	if !b.quorumReached(p) {
		return fmt.Errorf("%w: %d of %d credit voted, need %d bps",
			ErrQuorumNotReached, p.TotalVotes(), b.totalMinted, b.quorumBps)
	}
	if p.Yes <= p.No {
		return fmt.Errorf("%w: %d yes vs %d no", ErrRejected, p.Yes, p.No)
	}

	// Set before the release; rolled back on failure so a transient release
	// error stays retryable without ever allowing a second payment.
	p.Executed = true
	if err := b.releaser.Release(p.Recipient, p.Amount); err != nil {
		p.Executed = false
		return fmt.Errorf("release grant: %w", err)
	}

	b.emit(journal.Entry{
		Kind:        journal.KindGrantExecuted,
		Beneficiary: b.beneficiary,
		User:        p.Recipient,
		Assets:      p.Amount,
		Reason:      proposalID,
	})
	return nil
}

// Proposal returns a copy of the proposal.
func (b *Board) Proposal(proposalID string) (*Proposal, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.proposals[proposalID]
	if !ok {
		return nil, false
	}
	return b.snapshot(p), true
}

// Proposals returns copies of all proposals in creation order.
func (b *Board) Proposals() []*Proposal {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Proposal, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.snapshot(b.proposals[id]))
	}
	return out
}

func (b *Board) snapshot(p *Proposal) *Proposal {
	cp := *p
	cp.voted = nil
	return &cp
}
