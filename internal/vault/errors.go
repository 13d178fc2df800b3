package vault

import "errors"

var (
	// ErrNonPositiveAmount rejects zero or negative asset/share amounts.
	ErrNonPositiveAmount = errors.New("amount must be positive")

	// ErrInsufficientShares means the holder does not own the shares being
	// spent.
	ErrInsufficientShares = errors.New("insufficient shares")

	// ErrInsufficientAssets means a payout would exceed the vault's assets.
	ErrInsufficientAssets = errors.New("insufficient vault assets")

	// ErrUnknownBeneficiary means the name was never registered.
	ErrUnknownBeneficiary = errors.New("unknown beneficiary")

	// ErrAlreadyRegistered means the beneficiary is already eligible.
	ErrAlreadyRegistered = errors.New("beneficiary already registered")

	// ErrIneligibleDestination means the destination vault refuses deposits
	// because the beneficiary has been deregistered.
	ErrIneligibleDestination = errors.New("destination is not eligible for deposits")
)
