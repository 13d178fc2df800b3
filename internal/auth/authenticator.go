package auth

import (
	"context"

	"github.com/givepool/givepool/internal/models"
)

// Authenticator defines the interface for authentication implementations.
// This abstraction allows swapping between different auth methods (password,
// passkeys, OAuth, etc.) without changing the service layer code.
type Authenticator interface {
	// Register creates a new donor account with the given email and credential.
	// Returns the created donor or an error if registration fails.
	Register(ctx context.Context, email, displayName, credential string) (*models.Donor, error)

	// Authenticate verifies the donor's credentials and returns the donor if
	// successful.
	Authenticate(ctx context.Context, email, credential string) (*models.Donor, error)

	// ValidateCredential checks if the credential meets the implementation's
	// requirements.
	ValidateCredential(credential string) error
}
