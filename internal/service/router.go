package service

import (
	"net/http"

	"github.com/givepool/givepool/internal/auth"
	"github.com/givepool/givepool/internal/metrics"
	"github.com/givepool/givepool/internal/middleware"
)

// Deps carries everything the router needs.
type Deps struct {
	Auth     *AuthService
	Treasury *TreasuryService
	Grants   *GrantsService
	JWT      *auth.JWTManager
	Metrics  *metrics.Metrics
}

// NewRouter builds the API mux. Finalize and payout retry are deliberately
// open to unauthenticated callers; everything else donor-facing requires a
// session, and the admin endpoints require the admin role.
func NewRouter(d Deps) *http.ServeMux {
	mux := http.NewServeMux()

	donor := func(h http.HandlerFunc) http.Handler {
		return middleware.RequireAuth(d.JWT, h)
	}
	admin := func(h http.HandlerFunc) http.Handler {
		return middleware.RequireAdmin(d.JWT, h)
	}
	open := func(h http.HandlerFunc) http.Handler {
		return middleware.OptionalAuth(d.JWT, h)
	}
	route := func(pattern, path string, h http.Handler) {
		mux.Handle(pattern, d.Metrics.Instrument(path, h))
	}

	route("POST /v1/auth/register", "/v1/auth/register", http.HandlerFunc(d.Auth.HandleRegister))
	route("POST /v1/auth/login", "/v1/auth/login", http.HandlerFunc(d.Auth.HandleLogin))

	route("POST /v1/deposit", "/v1/deposit", donor(d.Treasury.HandleDeposit))
	route("POST /v1/donate", "/v1/donate", donor(d.Treasury.HandleDonate))
	route("POST /v1/allocate", "/v1/allocate", donor(d.Treasury.HandleAllocate))
	route("POST /v1/withdraw", "/v1/withdraw", donor(d.Treasury.HandleWithdraw))
	route("GET /v1/balance", "/v1/balance", donor(d.Treasury.HandleBalance))
	route("GET /v1/allocations", "/v1/allocations", donor(d.Treasury.HandleListAllocations))

	route("POST /v1/finalize", "/v1/finalize", open(d.Treasury.HandleFinalize))
	route("POST /v1/payouts/retry", "/v1/payouts/retry", open(d.Treasury.HandleRetryPayout))
	route("GET /v1/epoch", "/v1/epoch", open(d.Treasury.HandleEpochStatus))
	route("GET /v1/epochs/{number}", "/v1/epochs", open(d.Treasury.HandleGetEpoch))
	route("GET /v1/beneficiaries", "/v1/beneficiaries", open(d.Treasury.HandleListBeneficiaries))

	route("PUT /v1/admin/epoch-duration", "/v1/admin/epoch-duration", admin(d.Treasury.HandleSetEpochDuration))
	route("POST /v1/admin/beneficiaries", "/v1/admin/beneficiaries", admin(d.Treasury.HandleRegisterBeneficiary))
	route("DELETE /v1/admin/beneficiaries/{name}", "/v1/admin/beneficiaries", admin(d.Treasury.HandleDeregisterBeneficiary))

	route("POST /v1/grants/propose", "/v1/grants/propose", donor(d.Grants.HandlePropose))
	route("POST /v1/grants/vote", "/v1/grants/vote", donor(d.Grants.HandleVote))
	route("POST /v1/grants/execute", "/v1/grants/execute", open(d.Grants.HandleExecute))
	route("GET /v1/grants", "/v1/grants", donor(d.Grants.HandleList))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return mux
}
