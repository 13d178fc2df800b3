package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/givepool/givepool/internal/models"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrEmailExists        = errors.New("email already registered")
)

// DonorStorage defines the interface for donor persistence operations.
// This allows the authenticator to be independent of the storage implementation.
type DonorStorage interface {
	CreateDonor(ctx context.Context, donor *models.Donor) error
	GetDonorByEmail(ctx context.Context, email string) (*models.Donor, error)
	GetDonorByID(ctx context.Context, id string) (*models.Donor, error)
}

// PasswordAuthenticator implements password-based authentication using bcrypt.
type PasswordAuthenticator struct {
	storage DonorStorage
	// adminEmail marks the one account registered as administrator.
	adminEmail string
}

// NewPasswordAuthenticator creates a new password-based authenticator.
// A donor registering with adminEmail receives the admin role.
func NewPasswordAuthenticator(storage DonorStorage, adminEmail string) *PasswordAuthenticator {
	return &PasswordAuthenticator{storage: storage, adminEmail: adminEmail}
}

// ValidateCredential checks if the password meets minimum requirements.
func (a *PasswordAuthenticator) ValidateCredential(credential string) error {
	if len(credential) < 8 {
		return ErrWeakPassword
	}
	return nil
}

// Register creates a new donor account with a hashed password.
func (a *PasswordAuthenticator) Register(ctx context.Context, email, displayName, credential string) (*models.Donor, error) {
	if err := a.ValidateCredential(credential); err != nil {
		return nil, err
	}

	// Check if email already exists
	existing, err := a.storage.GetDonorByEmail(ctx, email)
	if err == nil && existing != nil {
		return nil, ErrEmailExists
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(credential), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	donor := &models.Donor{
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: string(hashed),
		Admin:        a.adminEmail != "" && email == a.adminEmail,
	}
	if err := a.storage.CreateDonor(ctx, donor); err != nil {
		return nil, fmt.Errorf("failed to create donor: %w", err)
	}
	return donor, nil
}

// Authenticate verifies the email and password, returning the donor if valid.
func (a *PasswordAuthenticator) Authenticate(ctx context.Context, email, credential string) (*models.Donor, error) {
	donor, err := a.storage.GetDonorByEmail(ctx, email)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(donor.PasswordHash), []byte(credential)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return donor, nil
}
