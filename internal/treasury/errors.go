package treasury

import "errors"

var (
	// ErrUnauthorized is returned when a caller other than the designated
	// pool attempts to record an allocation.
	ErrUnauthorized = errors.New("caller is not the authorized pool")

	// ErrInvalidDestination is returned when the beneficiary fails the
	// registry membership check.
	ErrInvalidDestination = errors.New("beneficiary is not an eligible destination")

	// ErrEpochNotReady is returned by Finalize before the epoch window has
	// elapsed.
	ErrEpochNotReady = errors.New("epoch is not ready to finalize")

	// ErrAlreadyFinalized is returned by Finalize once the current epoch has
	// been settled.
	ErrAlreadyFinalized = errors.New("epoch already finalized")

	// ErrInsufficientBalance means a settlement step would exceed the escrow
	// balance. The ledger's conservation invariant makes this unreachable;
	// seeing it means the accounting is corrupt.
	ErrInsufficientBalance = errors.New("escrow balance below required amount")

	// ErrNonPositiveAmount rejects zero or negative vote-weight on a record
	// call. A zero asset value is allowed (rounding can produce it); a zero
	// vote-weight cannot.
	ErrNonPositiveAmount = errors.New("amount must be positive")

	// ErrUnknownPayout is returned when retrying a payout that is not pending.
	ErrUnknownPayout = errors.New("no pending payout for beneficiary")
)
