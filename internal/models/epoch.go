package models

// EpochRecord is the durable summary of one settled epoch.
type EpochRecord struct {
	// Number is the epoch number, starting at 1.
	Number uint64

	// StartedAt is the Unix timestamp of the epoch's start.
	StartedAt int64

	// FinalizedAt is the Unix timestamp of the settlement.
	FinalizedAt int64

	// DurationSeconds is the epoch duration that was in effect at settlement.
	DurationSeconds int64

	// TotalAssets is the asset total recorded across all allocations.
	TotalAssets int64

	// Distributed is the portion converted into beneficiary receipts during
	// finalize.
	Distributed int64

	// Pending is the portion held back in escrow by failed settlements.
	Pending int64
}

// AllocationRecord is the durable trace of one allocate-votes call.
type AllocationRecord struct {
	// ID is the unique identifier for the record (UUID format).
	ID string

	// Epoch is the epoch the allocation was recorded in.
	Epoch uint64

	// DonorID identifies the allocating donor.
	DonorID string

	// Beneficiary is the destination the votes were allocated to.
	Beneficiary string

	// Votes is the vote-weight spent.
	Votes int64

	// Assets is the asset value the votes converted to at allocation time.
	Assets int64

	// CreatedAt is the Unix timestamp of the call.
	CreatedAt int64
}

// DistributionRecord is one beneficiary's payout within a settled epoch.
type DistributionRecord struct {
	// ID is the unique identifier for the record (UUID format).
	ID string

	// Epoch is the settled epoch.
	Epoch uint64

	// Beneficiary is the payout destination.
	Beneficiary string

	// TotalVotes is the vote-weight the beneficiary received in the epoch.
	TotalVotes int64

	// TotalAssets is the asset total distributed (or held pending).
	TotalAssets int64

	// UserCount is the number of distinct contributing donors.
	UserCount int

	// Settled is false while the payout is held back in escrow.
	Settled bool

	// Reason carries the failure reason for a pending payout.
	Reason string

	// CreatedAt is the Unix timestamp of the settlement attempt.
	CreatedAt int64
}
