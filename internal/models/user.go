package models

// Donor represents a registered account. Donors deposit the stable asset
// into the shared pool and receive vote credit; the Admin flag gates epoch
// configuration and beneficiary registry changes.
type Donor struct {
	// ID is the unique identifier for the donor (UUID format).
	ID string

	// Email is the donor's email address (unique). Used for login.
	Email string

	// DisplayName is the donor's display name.
	DisplayName string

	// PasswordHash is the bcrypt hash of the donor's password.
	PasswordHash string

	// Admin marks accounts allowed to change epoch duration and manage the
	// beneficiary registry.
	Admin bool

	// CreatedAt is the Unix timestamp when the account was created.
	CreatedAt int64
}
