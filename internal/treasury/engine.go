// Package treasury implements the epoch accounting and settlement engine of
// the pooled-donation treasury: the ledger that accumulates per-user,
// per-beneficiary allocations within an epoch, the epoch clock, the escrow
// gateway holding the backing assets, and the one-shot settlement that fans
// escrowed assets out into beneficiary-vault receipts.
package treasury

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/givepool/givepool/internal/journal"
)

// Registry is the beneficiary membership test, queried on every allocation
// and again before settling a beneficiary.
type Registry interface {
	IsEligibleDestination(beneficiary string) bool
}

// ShareConverter converts escrowed assets into destination-vault receipt
// shares credited to recipient. Implementations must transfer-and-mint
// atomically and must fail loudly, never silently no-op, when the
// destination rejects the deposit.
type ShareConverter interface {
	ConvertAssetsToDestinationShares(destination string, assets int64, recipient string) (int64, error)
}

// Config wires an Engine's collaborators.
type Config struct {
	// PoolID is the only caller identity allowed to record allocations.
	PoolID string
	// Registry and Converter are required collaborators.
	Registry  Registry
	Converter ShareConverter
	// Events receives an audit entry for every state change. Optional.
	Events journal.Writer
	// EpochDuration defaults to DefaultEpochDuration when zero.
	EpochDuration time.Duration
	// Start is the first epoch's start time. Defaults to Now().
	Start time.Time
	// Now overrides the time source, for tests. Defaults to time.Now.
	Now func() time.Time
}

// pendingKey identifies a payout held back by a failed settlement.
type pendingKey struct {
	epoch       uint64
	beneficiary string
}

// PendingEntry is one user's unconverted portion of a pending payout.
type PendingEntry struct {
	User   string
	Assets int64
}

// PendingPayout records a beneficiary settlement that could not complete.
// The earmarked assets remain in escrow until a retry succeeds.
type PendingPayout struct {
	Epoch       uint64
	Beneficiary string
	TotalVotes  int64
	Entries     []PendingEntry
	Reason      string
}

// Remaining returns the total assets still held for this payout.
func (p *PendingPayout) Remaining() int64 {
	var total int64
	for _, e := range p.Entries {
		total += e.Assets
	}
	return total
}

// UserShare is one user's settled portion of a distribution.
type UserShare struct {
	User   string
	Assets int64
	Shares int64
}

// Distribution reports the settlement outcome for one beneficiary.
type Distribution struct {
	Beneficiary string
	TotalVotes  int64
	TotalAssets int64
	Users       []UserShare
	Settled     bool
	Reason      string
}

// FinalizeResult summarizes one epoch settlement.
type FinalizeResult struct {
	Epoch         uint64
	Distributed   int64
	Pending       int64
	Distributions []Distribution
}

// Engine serializes every operation behind a single mutex, reproducing the
// run-to-completion semantics the accounting invariants assume: there is no
// interleaving between a record call and a finalize, and the finalized flag
// check-then-set at the top of Finalize makes double settlement structurally
// impossible.
type Engine struct {
	mu sync.Mutex

	poolID    string
	registry  Registry
	converter ShareConverter
	events    journal.Writer

	ledger *ledger
	clock  *clock
	escrow *escrow

	pending      map[pendingKey]*PendingPayout
	pendingOrder []pendingKey

	now func() time.Time
}

// New creates an engine for epoch 1.
func New(cfg Config) *Engine {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	start := cfg.Start
	if start.IsZero() {
		start = now()
	}
	return &Engine{
		poolID:    cfg.PoolID,
		registry:  cfg.Registry,
		converter: cfg.Converter,
		events:    cfg.Events,
		ledger:    newLedger(),
		clock:     newClock(start, cfg.EpochDuration),
		escrow:    &escrow{},
		pending:   make(map[pendingKey]*PendingPayout),
		now:       now,
	}
}

// emit appends an audit entry. Journal trouble is logged, not propagated:
// the funds movement it describes has already happened.
func (e *Engine) emit(entry journal.Entry) {
	if e.events == nil {
		return
	}
	if err := e.events.Append(entry); err != nil {
		slog.Error("audit journal append failed", "kind", entry.Kind, "epoch", entry.Epoch, "error", err)
	}
}

// RecordAllocation accumulates votes and their asset value against
// (current epoch, user, beneficiary). Only the designated pool may call it;
// the asset transfer into escrow and the ledger mutation are atomic from the
// pool's perspective because both happen under the engine lock.
func (e *Engine) RecordAllocation(caller, user, beneficiary string, votes, assets int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.poolID {
		return fmt.Errorf("%w: %q", ErrUnauthorized, caller)
	}
	if votes <= 0 || assets < 0 {
		return fmt.Errorf("%w: votes=%d assets=%d", ErrNonPositiveAmount, votes, assets)
	}
	if !e.registry.IsEligibleDestination(beneficiary) {
		return fmt.Errorf("%w: %q", ErrInvalidDestination, beneficiary)
	}

	epoch := e.clock.current
	e.ledger.record(epoch, user, beneficiary, votes, assets)
	e.escrow.credit(assets)

	e.emit(journal.Entry{
		Kind:        journal.KindAllocationRecorded,
		Epoch:       epoch,
		User:        user,
		Beneficiary: beneficiary,
		Votes:       votes,
		Assets:      assets,
	})
	return nil
}

// Finalize settles the current epoch and opens the next one. Callable by
// anyone once the epoch window has elapsed. The finalized flag is set before
// any conversion so a repeated call fails with ErrAlreadyFinalized and moves
// no funds.
//
// Settlement is isolated per beneficiary: a destination that fails (for
// example, deregistered since allocation time) does not abort the epoch. Its
// earmarked assets stay in escrow and the payout is queued for RetryPayout.
func (e *Engine) Finalize() (*FinalizeResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	epoch := e.clock.current
	st := e.ledger.epoch(epoch)
	if st.finalized {
		return nil, fmt.Errorf("%w: epoch %d", ErrAlreadyFinalized, epoch)
	}
	if !e.clock.ready(now) {
		return nil, fmt.Errorf("%w: %s remaining", ErrEpochNotReady, e.clock.timeRemaining(now))
	}
	st.finalized = true

	res := &FinalizeResult{Epoch: epoch}
	for _, beneficiary := range st.beneficiaries {
		sum := st.summaries[beneficiary]
		if sum.TotalAssets == 0 {
			continue
		}
		if err := e.escrow.setAside(sum.TotalAssets); err != nil {
			return nil, err
		}
		dist := e.settleBeneficiary(epoch, beneficiary, sum)
		e.escrow.clearEarmark()

		for _, us := range dist.Users {
			res.Distributed += us.Assets
		}
		if !dist.Settled {
			res.Pending += e.pending[pendingKey{epoch, beneficiary}].Remaining()
		}
		res.Distributions = append(res.Distributions, dist)
	}

	e.clock.advance(now)

	e.emit(journal.Entry{
		Kind:  journal.KindEpochFinalized,
		Epoch: epoch,
		Total: res.Distributed,
	})
	return res, nil
}

// settleBeneficiary converts each touched user's allocation into destination
// receipts, in first-allocation order. Eligibility is re-checked up front so
// the common failure (a deregistered destination) queues the whole payout
// before any receipts are minted; a conversion failure partway through
// queues only the unconverted remainder.
func (e *Engine) settleBeneficiary(epoch uint64, beneficiary string, sum *BeneficiarySummary) Distribution {
	dist := Distribution{
		Beneficiary: beneficiary,
		TotalVotes:  sum.TotalVotes,
		TotalAssets: sum.TotalAssets,
	}

	plan := make([]PendingEntry, 0, len(sum.Users))
	st := e.ledger.epochs[epoch]
	for _, user := range sum.Users {
		alloc := st.allocations[allocKey{user: user, beneficiary: beneficiary}]
		if alloc.Assets == 0 {
			continue
		}
		plan = append(plan, PendingEntry{User: user, Assets: alloc.Assets})
	}

	if !e.registry.IsEligibleDestination(beneficiary) {
		dist.Reason = "destination no longer eligible"
		e.queuePayout(epoch, beneficiary, sum.TotalVotes, plan, dist.Reason)
		return dist
	}

	for i, entry := range plan {
		shares, err := e.converter.ConvertAssetsToDestinationShares(beneficiary, entry.Assets, entry.User)
		if err != nil {
			e.queuePayout(epoch, beneficiary, sum.TotalVotes, plan[i:], err.Error())
			dist.Reason = err.Error()
			return dist
		}
		if rerr := e.escrow.release(entry.Assets); rerr != nil {
			// Conservation violation; nothing sane to do but surface it.
			slog.Error("escrow release failed during settlement",
				"epoch", epoch, "beneficiary", beneficiary, "error", rerr)
			e.queuePayout(epoch, beneficiary, sum.TotalVotes, plan[i:], rerr.Error())
			dist.Reason = rerr.Error()
			return dist
		}
		dist.Users = append(dist.Users, UserShare{User: entry.User, Assets: entry.Assets, Shares: shares})
	}

	dist.Settled = true
	e.emit(journal.Entry{
		Kind:        journal.KindFundsDistributed,
		Epoch:       epoch,
		Beneficiary: beneficiary,
		Votes:       sum.TotalVotes,
		Assets:      sum.TotalAssets,
	})
	return dist
}

func (e *Engine) queuePayout(epoch uint64, beneficiary string, votes int64, entries []PendingEntry, reason string) {
	key := pendingKey{epoch, beneficiary}
	held := make([]PendingEntry, len(entries))
	copy(held, entries)
	e.pending[key] = &PendingPayout{
		Epoch:       epoch,
		Beneficiary: beneficiary,
		TotalVotes:  votes,
		Entries:     held,
		Reason:      reason,
	}
	e.pendingOrder = append(e.pendingOrder, key)

	var total int64
	for _, en := range held {
		total += en.Assets
	}
	slog.Warn("settlement held back, payout pending",
		"epoch", epoch, "beneficiary", beneficiary, "assets", total, "reason", reason)
	e.emit(journal.Entry{
		Kind:        journal.KindPayoutPending,
		Epoch:       epoch,
		Beneficiary: beneficiary,
		Votes:       votes,
		Assets:      total,
		Reason:      reason,
	})
}

// RetryPayout re-attempts a payout that settlement held back. Callable by
// anyone, like Finalize. On partial failure the unconverted remainder stays
// queued under the same key.
func (e *Engine) RetryPayout(epoch uint64, beneficiary string) (*Distribution, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := pendingKey{epoch, beneficiary}
	p, ok := e.pending[key]
	if !ok {
		return nil, fmt.Errorf("%w: epoch %d, %q", ErrUnknownPayout, epoch, beneficiary)
	}
	if !e.registry.IsEligibleDestination(beneficiary) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDestination, beneficiary)
	}

	if err := e.escrow.setAside(p.Remaining()); err != nil {
		return nil, err
	}
	defer e.escrow.clearEarmark()

	dist := Distribution{
		Beneficiary: beneficiary,
		TotalVotes:  p.TotalVotes,
		TotalAssets: p.Remaining(),
	}
	for i, entry := range p.Entries {
		shares, err := e.converter.ConvertAssetsToDestinationShares(beneficiary, entry.Assets, entry.User)
		if err != nil {
			p.Entries = p.Entries[i:]
			p.Reason = err.Error()
			return nil, fmt.Errorf("retry payout for %q: %w", beneficiary, err)
		}
		if rerr := e.escrow.release(entry.Assets); rerr != nil {
			p.Entries = p.Entries[i:]
			p.Reason = rerr.Error()
			return nil, rerr
		}
		dist.Users = append(dist.Users, UserShare{User: entry.User, Assets: entry.Assets, Shares: shares})
	}

	delete(e.pending, key)
	for i, k := range e.pendingOrder {
		if k == key {
			e.pendingOrder = append(e.pendingOrder[:i], e.pendingOrder[i+1:]...)
			break
		}
	}
	dist.Settled = true

	e.emit(journal.Entry{
		Kind:        journal.KindFundsDistributed,
		Epoch:       epoch,
		Beneficiary: beneficiary,
		Votes:       p.TotalVotes,
		Assets:      dist.TotalAssets,
	})
	return &dist, nil
}

// SetEpochDuration changes the epoch length, effective immediately for the
// epoch already in progress. Role restriction is enforced by the HTTP layer.
func (e *Engine) SetEpochDuration(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: duration %s", ErrNonPositiveAmount, d)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clock.duration = d
	return nil
}

// CurrentEpoch returns the open epoch number.
func (e *Engine) CurrentEpoch() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clock.current
}

// EpochStart returns the current epoch's start time.
func (e *Engine) EpochStart() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clock.start
}

// EpochDuration returns the configured epoch length.
func (e *Engine) EpochDuration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clock.duration
}

// Ready reports whether the current epoch can be finalized now.
func (e *Engine) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clock.ready(e.now())
}

// TimeRemaining returns the time until the current epoch becomes ready.
func (e *Engine) TimeRemaining() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clock.timeRemaining(e.now())
}

// Allocation returns the accumulated allocation for (epoch, user,
// beneficiary), reporting whether the key was ever recorded.
func (e *Engine) Allocation(epoch uint64, user, beneficiary string) (Allocation, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.ledger.lookup(epoch)
	if !ok {
		return Allocation{}, false
	}
	alloc, ok := st.allocations[allocKey{user: user, beneficiary: beneficiary}]
	if !ok {
		return Allocation{}, false
	}
	return *alloc, true
}

// Summary returns a copy of the beneficiary's epoch summary.
func (e *Engine) Summary(epoch uint64, beneficiary string) (BeneficiarySummary, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.ledger.lookup(epoch)
	if !ok {
		return BeneficiarySummary{}, false
	}
	sum, ok := st.summaries[beneficiary]
	if !ok {
		return BeneficiarySummary{}, false
	}
	out := *sum
	out.Users = append([]string(nil), sum.Users...)
	return out, true
}

// EpochTotal returns the running asset total recorded for the epoch.
func (e *Engine) EpochTotal(epoch uint64) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.ledger.lookup(epoch)
	if !ok {
		return 0
	}
	return st.totalAssets
}

// Beneficiaries returns the epoch's touched beneficiaries in first-allocation
// order.
func (e *Engine) Beneficiaries(epoch uint64) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.ledger.lookup(epoch)
	if !ok {
		return nil
	}
	return append([]string(nil), st.beneficiaries...)
}

// Users returns the epoch's touched users in first-allocation order.
func (e *Engine) Users(epoch uint64) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.ledger.lookup(epoch)
	if !ok {
		return nil
	}
	return append([]string(nil), st.users...)
}

// UserBeneficiaries returns the beneficiaries a user allocated to in an
// epoch, in first-allocation order.
func (e *Engine) UserBeneficiaries(epoch uint64, user string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.ledger.lookup(epoch)
	if !ok {
		return nil
	}
	return append([]string(nil), st.userBeneficiaries[user]...)
}

// Finalized reports whether the epoch has settled.
func (e *Engine) Finalized(epoch uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.ledger.lookup(epoch)
	return ok && st.finalized
}

// EscrowBalance returns the assets currently held for unsettled allocations
// and pending payouts.
func (e *Engine) EscrowBalance() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.escrow.balance
}

// PendingPayouts returns the payouts held back by failed settlements, oldest
// first.
func (e *Engine) PendingPayouts() []PendingPayout {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]PendingPayout, 0, len(e.pendingOrder))
	for _, key := range e.pendingOrder {
		p := e.pending[key]
		cp := *p
		cp.Entries = append([]PendingEntry(nil), p.Entries...)
		out = append(out, cp)
	}
	return out
}
