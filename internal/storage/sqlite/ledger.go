package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/givepool/givepool/internal/models"
)

// SaveAllocation appends one allocation record.
func (s *SQLiteStore) SaveAllocation(ctx context.Context, rec *models.AllocationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt == 0 {
		rec.CreatedAt = time.Now().Unix()
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO allocations (id, epoch, donor_id, beneficiary, votes, assets, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		rec.ID, rec.Epoch, rec.DonorID, rec.Beneficiary, rec.Votes, rec.Assets, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert allocation: %w", err)
	}
	return nil
}

// ListAllocations returns a donor's allocation records for an epoch in
// insertion order.
func (s *SQLiteStore) ListAllocations(ctx context.Context, epoch uint64, donorID string) ([]*models.AllocationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, epoch, donor_id, beneficiary, votes, assets, created_at FROM allocations WHERE epoch = ? AND donor_id = ? ORDER BY rowid",
		epoch, donorID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list allocations: %w", err)
	}
	defer rows.Close()

	var recs []*models.AllocationRecord
	for rows.Next() {
		rec := &models.AllocationRecord{}
		if err := rows.Scan(&rec.ID, &rec.Epoch, &rec.DonorID, &rec.Beneficiary, &rec.Votes, &rec.Assets, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate allocations: %w", err)
	}
	return recs, nil
}

// SaveEpoch persists a settled epoch and its distributions in one transaction.
func (s *SQLiteStore) SaveEpoch(ctx context.Context, epoch *models.EpochRecord, dists []*models.DistributionRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO epochs (number, started_at, finalized_at, duration_seconds, total_assets, distributed, pending) VALUES (?, ?, ?, ?, ?, ?, ?)",
		epoch.Number, epoch.StartedAt, epoch.FinalizedAt, epoch.DurationSeconds, epoch.TotalAssets, epoch.Distributed, epoch.Pending,
	)
	if err != nil {
		return fmt.Errorf("failed to insert epoch: %w", err)
	}

	for _, d := range dists {
		if d.ID == "" {
			d.ID = uuid.New().String()
		}
		if d.CreatedAt == 0 {
			d.CreatedAt = epoch.FinalizedAt
		}
		var reason interface{}
		if d.Reason != "" {
			reason = d.Reason
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO distributions (id, epoch, beneficiary, total_votes, total_assets, user_count, settled, reason, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
			d.ID, d.Epoch, d.Beneficiary, d.TotalVotes, d.TotalAssets, d.UserCount, boolToInt(d.Settled), reason, d.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert distribution: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetEpoch retrieves a settled epoch by number.
func (s *SQLiteStore) GetEpoch(ctx context.Context, number uint64) (*models.EpochRecord, error) {
	epoch := &models.EpochRecord{}
	err := s.db.QueryRowContext(ctx,
		"SELECT number, started_at, finalized_at, duration_seconds, total_assets, distributed, pending FROM epochs WHERE number = ?",
		number,
	).Scan(&epoch.Number, &epoch.StartedAt, &epoch.FinalizedAt, &epoch.DurationSeconds, &epoch.TotalAssets, &epoch.Distributed, &epoch.Pending)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("epoch not found: %d", number)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get epoch: %w", err)
	}
	return epoch, nil
}

// ListDistributions returns an epoch's distributions in settlement order.
func (s *SQLiteStore) ListDistributions(ctx context.Context, epoch uint64) ([]*models.DistributionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, epoch, beneficiary, total_votes, total_assets, user_count, settled, reason, created_at FROM distributions WHERE epoch = ? ORDER BY rowid",
		epoch,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list distributions: %w", err)
	}
	defer rows.Close()

	var dists []*models.DistributionRecord
	for rows.Next() {
		d := &models.DistributionRecord{}
		var settled int
		var reason sql.NullString
		if err := rows.Scan(&d.ID, &d.Epoch, &d.Beneficiary, &d.TotalVotes, &d.TotalAssets, &d.UserCount, &settled, &reason, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan distribution: %w", err)
		}
		d.Settled = settled != 0
		if reason.Valid {
			d.Reason = reason.String
		}
		dists = append(dists, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate distributions: %w", err)
	}
	return dists, nil
}

// MarkDistributionSettled flips a pending distribution to settled and moves
// its assets from the epoch's pending column to distributed.
func (s *SQLiteStore) MarkDistributionSettled(ctx context.Context, epoch uint64, beneficiary string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var assets int64
	var settled int
	err = tx.QueryRowContext(ctx,
		"SELECT total_assets, settled FROM distributions WHERE epoch = ? AND beneficiary = ?",
		epoch, beneficiary,
	).Scan(&assets, &settled)
	if err == sql.ErrNoRows {
		return fmt.Errorf("distribution not found: epoch %d, %s", epoch, beneficiary)
	}
	if err != nil {
		return fmt.Errorf("failed to get distribution: %w", err)
	}
	if settled != 0 {
		return nil // already settled, nothing to move
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE distributions SET settled = 1, reason = NULL WHERE epoch = ? AND beneficiary = ?",
		epoch, beneficiary,
	)
	if err != nil {
		return fmt.Errorf("failed to update distribution: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		"UPDATE epochs SET distributed = distributed + ?, pending = pending - ? WHERE number = ?",
		assets, assets, epoch,
	)
	if err != nil {
		return fmt.Errorf("failed to update epoch totals: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
