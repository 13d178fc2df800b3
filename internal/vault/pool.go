package vault

import (
	"fmt"
	"sync"
)

// Recorder is the slice of the settlement engine the pool talks to. The pool
// is the engine's single authorized caller; it passes its own identity on
// every record call.
type Recorder interface {
	RecordAllocation(caller, user, beneficiary string, votes, assets int64) error
}

// Pool is the shared donation pool. Deposits mint vote credit (pool shares);
// allocating votes converts them to assets at the current share price, moves
// the assets into the engine's escrow and records the allocation — one
// atomic step from the donor's perspective.
type Pool struct {
	mu       sync.Mutex
	id       string
	vault    *Vault
	recorder Recorder
}

// NewPool creates a pool that records allocations under the given caller
// identity.
func NewPool(id string, recorder Recorder) *Pool {
	return &Pool{id: id, vault: NewVault(), recorder: recorder}
}

// ID returns the identity the pool presents to the engine.
func (p *Pool) ID() string { return p.id }

// Deposit adds assets for user and mints vote credit proportional to the
// deposit.
func (p *Pool) Deposit(user string, assets int64) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.vault.Deposit(user, assets)
}

// Donate adds assets to the pool without minting vote credit.
func (p *Pool) Donate(assets int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.vault.Donate(assets)
}

// AllocateVotes converts votes to their asset value at the current rate and
// records the allocation against beneficiary. The shares are burned and the
// assets leave the pool only if the engine accepts the record, so a rejected
// beneficiary costs the donor nothing.
func (p *Pool) AllocateVotes(user, beneficiary string, votes int64) (int64, error) {
	if votes <= 0 {
		return 0, ErrNonPositiveAmount
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.vault.SharesOf(user) < votes {
		return 0, fmt.Errorf("%w: user %q has %d votes, needs %d",
			ErrInsufficientShares, user, p.vault.SharesOf(user), votes)
	}
	assets := p.vault.ConvertToAssets(votes)

	if err := p.recorder.RecordAllocation(p.id, user, beneficiary, votes, assets); err != nil {
		return 0, err
	}
	if err := p.vault.redeemExact(user, votes, assets); err != nil {
		// The engine already booked the allocation; a failure here would
		// desynchronize pool and ledger. The balance was checked above, so
		// this cannot happen short of memory corruption.
		return 0, fmt.Errorf("pool burn after record: %w", err)
	}
	return assets, nil
}

// Withdraw redeems unallocated vote credit back into assets.
func (p *Pool) Withdraw(user string, votes int64) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.vault.Redeem(user, votes)
}

// VotesOf returns user's unallocated vote credit.
func (p *Pool) VotesOf(user string) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.vault.SharesOf(user)
}

// AssetsOf returns the asset value of user's unallocated vote credit.
func (p *Pool) AssetsOf(user string) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.vault.AssetsOf(user)
}

// TotalAssets returns the assets held by the pool.
func (p *Pool) TotalAssets() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.vault.TotalAssets()
}
