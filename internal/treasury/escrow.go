package treasury

import "fmt"

// escrow holds the pooled-asset balance backing every not-yet-settled
// allocation. It does no ownership bookkeeping of its own; the ledger knows
// who the balance belongs to. Funds leave only through settlement, and only
// up to the earmark set for the beneficiary currently being paid out.
type escrow struct {
	balance int64
	earmark int64
}

// credit adds incoming assets. Called under the engine lock together with
// the ledger mutation, so the two are atomic from the caller's perspective.
func (e *escrow) credit(amount int64) {
	e.balance += amount
}

// setAside earmarks exactly amount for the beneficiary about to be settled.
func (e *escrow) setAside(amount int64) error {
	if amount > e.balance {
		return fmt.Errorf("%w: earmark %d exceeds balance %d", ErrInsufficientBalance, amount, e.balance)
	}
	e.earmark = amount
	return nil
}

// release debits amount from the balance within the current earmark.
func (e *escrow) release(amount int64) error {
	if amount > e.earmark {
		return fmt.Errorf("%w: release %d exceeds earmark %d", ErrInsufficientBalance, amount, e.earmark)
	}
	e.earmark -= amount
	e.balance -= amount
	return nil
}

// clearEarmark drops whatever earmark remains. Unreleased funds stay in the
// balance.
func (e *escrow) clearEarmark() {
	e.earmark = 0
}
