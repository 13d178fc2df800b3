package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/givepool/givepool/internal/models"
)

// CreateDonor persists a new donor account.
func (s *SQLiteStore) CreateDonor(ctx context.Context, donor *models.Donor) error {
	if donor.ID == "" {
		donor.ID = uuid.New().String()
	}
	if donor.CreatedAt == 0 {
		donor.CreatedAt = time.Now().Unix()
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO donors (id, email, display_name, password_hash, admin, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		donor.ID, donor.Email, donor.DisplayName, donor.PasswordHash, boolToInt(donor.Admin), donor.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert donor: %w", err)
	}
	return nil
}

// GetDonorByEmail retrieves a donor by email address.
func (s *SQLiteStore) GetDonorByEmail(ctx context.Context, email string) (*models.Donor, error) {
	return s.getDonor(ctx, "email = ?", email)
}

// GetDonorByID retrieves a donor by ID.
func (s *SQLiteStore) GetDonorByID(ctx context.Context, id string) (*models.Donor, error) {
	return s.getDonor(ctx, "id = ?", id)
}

func (s *SQLiteStore) getDonor(ctx context.Context, where string, arg interface{}) (*models.Donor, error) {
	donor := &models.Donor{}
	var admin int
	err := s.db.QueryRowContext(ctx,
		"SELECT id, email, display_name, password_hash, admin, created_at FROM donors WHERE "+where,
		arg,
	).Scan(&donor.ID, &donor.Email, &donor.DisplayName, &donor.PasswordHash, &admin, &donor.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("donor not found: %v", arg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get donor: %w", err)
	}
	donor.Admin = admin != 0
	return donor, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
