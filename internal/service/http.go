// Package service exposes the pooled-donation treasury over JSON HTTP.
package service

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/givepool/givepool/internal/auth"
	"github.com/givepool/givepool/internal/grants"
	"github.com/givepool/givepool/internal/treasury"
	"github.com/givepool/givepool/internal/vault"
)

const maxBodyBytes = 1 << 20

var errBadRequest = errors.New("malformed request body")

// readJSON decodes the request body into v.
func readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errBadRequest
	}
	return nil
}

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encoding failed", "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps a domain error onto an HTTP status and writes it as JSON.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, treasury.ErrInvalidDestination),
		errors.Is(err, vault.ErrIneligibleDestination),
		errors.Is(err, treasury.ErrNonPositiveAmount),
		errors.Is(err, vault.ErrNonPositiveAmount),
		errors.Is(err, grants.ErrNonPositiveAmount),
		errors.Is(err, grants.ErrArityMismatch):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrMissingToken):
		return http.StatusUnauthorized
	case errors.Is(err, treasury.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, vault.ErrUnknownBeneficiary),
		errors.Is(err, treasury.ErrUnknownPayout),
		errors.Is(err, grants.ErrUnknownProposal):
		return http.StatusNotFound
	case errors.Is(err, auth.ErrEmailExists),
		errors.Is(err, treasury.ErrEpochNotReady),
		errors.Is(err, treasury.ErrAlreadyFinalized),
		errors.Is(err, vault.ErrAlreadyRegistered),
		errors.Is(err, grants.ErrAlreadyVoted),
		errors.Is(err, grants.ErrAlreadyExecuted),
		errors.Is(err, grants.ErrVotingClosed),
		errors.Is(err, grants.ErrVotingOpen),
		errors.Is(err, grants.ErrQuorumNotReached),
		errors.Is(err, grants.ErrRejected):
		return http.StatusConflict
	case errors.Is(err, treasury.ErrInsufficientBalance),
		errors.Is(err, vault.ErrInsufficientShares),
		errors.Is(err, vault.ErrInsufficientAssets),
		errors.Is(err, grants.ErrNoCredit):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
