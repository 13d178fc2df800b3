// Package storage provides abstractions for persistent data storage.
package storage

import (
	"context"

	"github.com/givepool/givepool/internal/models"
)

// Store defines the durable projection of the treasury: donor accounts and
// the write-once allocation/epoch/distribution history. The live epoch
// accounting stays in the engine; this interface exists so the service layer
// can swap storage backends (SQLite, PostgreSQL, ...) without changes.
type Store interface {
	// CreateDonor persists a new donor. The ID and CreatedAt fields are
	// populated by the store when unset.
	CreateDonor(ctx context.Context, donor *models.Donor) error

	// GetDonorByEmail retrieves a donor by email address.
	GetDonorByEmail(ctx context.Context, email string) (*models.Donor, error)

	// GetDonorByID retrieves a donor by ID.
	GetDonorByID(ctx context.Context, id string) (*models.Donor, error)

	// SaveAllocation appends one allocation record.
	SaveAllocation(ctx context.Context, rec *models.AllocationRecord) error

	// ListAllocations returns a donor's allocation records for an epoch in
	// insertion order.
	ListAllocations(ctx context.Context, epoch uint64, donorID string) ([]*models.AllocationRecord, error)

	// SaveEpoch persists a settled epoch together with its per-beneficiary
	// distributions, atomically.
	SaveEpoch(ctx context.Context, epoch *models.EpochRecord, dists []*models.DistributionRecord) error

	// GetEpoch retrieves a settled epoch by number.
	GetEpoch(ctx context.Context, number uint64) (*models.EpochRecord, error)

	// ListDistributions returns an epoch's distributions in settlement order.
	ListDistributions(ctx context.Context, epoch uint64) ([]*models.DistributionRecord, error)

	// MarkDistributionSettled flips a pending distribution to settled after a
	// successful payout retry and moves its assets from pending to
	// distributed on the epoch row.
	MarkDistributionSettled(ctx context.Context, epoch uint64, beneficiary string) error

	// Close releases any resources held by the store.
	Close() error
}
