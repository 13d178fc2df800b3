package service

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/givepool/givepool/internal/auth"
	"github.com/givepool/givepool/internal/journal"
	"github.com/givepool/givepool/internal/metrics"
	"github.com/givepool/givepool/internal/storage/sqlite"
	"github.com/givepool/givepool/internal/treasury"
	"github.com/givepool/givepool/internal/vault"
)

const testAdminEmail = "admin@example.com"

type testServer struct {
	t   *testing.T
	srv *httptest.Server

	now      *time.Time
	registry *vault.Registry
	engine   *treasury.Engine
	pool     *vault.Pool
}

// newTestServer stands up the full stack on a controllable clock with a
// one-hour epoch.
func newTestServer(t *testing.T, beneficiaries ...string) *testServer {
	t.Helper()

	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	now := start
	nowFn := func() time.Time { return now }

	store, err := sqlite.New(filepath.Join(t.TempDir(), "givepool.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	events, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = events.Close() })

	registry := vault.NewRegistry()
	for _, name := range beneficiaries {
		require.NoError(t, registry.Register(name))
	}

	engine := treasury.New(treasury.Config{
		PoolID:        "pool",
		Registry:      registry,
		Converter:     vault.NewConverter(registry),
		Events:        events,
		EpochDuration: time.Hour,
		Start:         start,
		Now:           nowFn,
	})
	pool := vault.NewPool("pool", engine)

	m := metrics.New(prometheus.NewRegistry())
	jwtManager := auth.NewJWTManager("test-secret-test-secret-test!!32", time.Hour)
	authenticator := auth.NewPasswordAuthenticator(store, testAdminEmail)

	grantsSvc := NewGrantsService(registry, 2000, events, nowFn, slog.Default())
	treasurySvc := NewTreasuryService(pool, engine, registry, store, events, grantsSvc, m, slog.Default())
	authSvc := NewAuthService(authenticator, jwtManager, slog.Default())

	mux := NewRouter(Deps{
		Auth:     authSvc,
		Treasury: treasurySvc,
		Grants:   grantsSvc,
		JWT:      jwtManager,
		Metrics:  m,
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &testServer{t: t, srv: srv, now: &now, registry: registry, engine: engine, pool: pool}
}

func (ts *testServer) advance(d time.Duration) {
	*ts.now = ts.now.Add(d)
}

// do issues a request and decodes the JSON response into out (if non-nil),
// returning the status code.
func (ts *testServer) do(method, path, token string, body, out any) int {
	ts.t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(ts.t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, reader)
	require.NoError(ts.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := ts.srv.Client().Do(req)
	require.NoError(ts.t, err)
	defer resp.Body.Close()

	if out != nil {
		raw, err := io.ReadAll(resp.Body)
		require.NoError(ts.t, err)
		if len(raw) > 0 {
			require.NoError(ts.t, json.Unmarshal(raw, out), "body: %s", raw)
		}
	}
	return resp.StatusCode
}

// register creates a donor and returns its ID and session token.
func (ts *testServer) register(email, name string) (id, token string) {
	ts.t.Helper()
	var resp sessionResponse
	status := ts.do(http.MethodPost, "/v1/auth/register", "", map[string]any{
		"email":        email,
		"display_name": name,
		"password":     "correct horse",
	}, &resp)
	require.Equal(ts.t, http.StatusCreated, status)
	require.NotEmpty(ts.t, resp.Token)
	return resp.Donor.ID, resp.Token
}

func TestAuth_RegisterAndLogin(t *testing.T) {
	ts := newTestServer(t)

	_, token := ts.register("alice@example.com", "Alice")
	require.NotEmpty(t, token)

	// Duplicate email.
	status := ts.do(http.MethodPost, "/v1/auth/register", "", map[string]any{
		"email": "alice@example.com", "display_name": "Alice", "password": "correct horse",
	}, nil)
	assert.Equal(t, http.StatusConflict, status)

	// Weak password.
	status = ts.do(http.MethodPost, "/v1/auth/register", "", map[string]any{
		"email": "bob@example.com", "display_name": "Bob", "password": "short",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	// Wrong password.
	status = ts.do(http.MethodPost, "/v1/auth/login", "", map[string]any{
		"email": "alice@example.com", "password": "wrong password",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	var session sessionResponse
	status = ts.do(http.MethodPost, "/v1/auth/login", "", map[string]any{
		"email": "alice@example.com", "password": "correct horse",
	}, &session)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "alice@example.com", session.Donor.Email)
	assert.False(t, session.Donor.Admin)

	// The admin email gets the admin role.
	var adminSession sessionResponse
	status = ts.do(http.MethodPost, "/v1/auth/register", "", map[string]any{
		"email": testAdminEmail, "display_name": "Admin", "password": "correct horse",
	}, &adminSession)
	require.Equal(t, http.StatusCreated, status)
	assert.True(t, adminSession.Donor.Admin)

	// Protected endpoint without a token.
	status = ts.do(http.MethodGet, "/v1/balance", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestTreasury_DepositAllocateFinalize(t *testing.T) {
	ts := newTestServer(t, "water", "shelter")

	u1ID, u1 := ts.register("u1@example.com", "U1")
	_, u2 := ts.register("u2@example.com", "U2")
	_, u3 := ts.register("u3@example.com", "U3")

	for _, d := range []struct {
		token  string
		amount int64
	}{{u1, 20}, {u2, 30}, {u3, 1000}} {
		var resp struct {
			Votes int64 `json:"votes"`
		}
		status := ts.do(http.MethodPost, "/v1/deposit", d.token, map[string]any{"amount": d.amount}, &resp)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, d.amount, resp.Votes, "undiluted pool deposits 1:1")
	}

	allocate := func(token, beneficiary string, votes int64) int {
		return ts.do(http.MethodPost, "/v1/allocate", token, map[string]any{
			"beneficiary": beneficiary, "votes": votes,
		}, nil)
	}
	require.Equal(t, http.StatusOK, allocate(u1, "water", 20))
	require.Equal(t, http.StatusOK, allocate(u2, "water", 30))
	require.Equal(t, http.StatusOK, allocate(u3, "shelter", 100))

	// Unknown destination is rejected and costs the donor nothing.
	status := allocate(u3, "nonexistent", 10)
	assert.Equal(t, http.StatusBadRequest, status)
	var balance struct {
		Votes  int64 `json:"votes"`
		Assets int64 `json:"assets"`
	}
	status = ts.do(http.MethodGet, "/v1/balance", u3, nil, &balance)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(900), balance.Votes)
	assert.Equal(t, int64(900), balance.Assets)

	// Allocating more votes than held.
	status = allocate(u1, "water", 999)
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	// Too early to settle.
	status = ts.do(http.MethodPost, "/v1/finalize", "", nil, nil)
	assert.Equal(t, http.StatusConflict, status)

	ts.advance(time.Hour)

	// Settlement is open to unauthenticated callers.
	var fin finalizeResponse
	status = ts.do(http.MethodPost, "/v1/finalize", "", nil, &fin)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, uint64(1), fin.Epoch)
	assert.Equal(t, int64(150), fin.Distributed)
	assert.Equal(t, int64(0), fin.Pending)
	require.Len(t, fin.Distributions, 2)
	assert.Equal(t, "water", fin.Distributions[0].Beneficiary)
	assert.Equal(t, int64(50), fin.Distributions[0].TotalAssets)
	assert.Equal(t, "shelter", fin.Distributions[1].Beneficiary)

	// Beneficiary vaults hold the settled assets.
	var bens struct {
		Beneficiaries []struct {
			Name        string `json:"name"`
			TotalAssets int64  `json:"total_assets"`
		} `json:"beneficiaries"`
	}
	status = ts.do(http.MethodGet, "/v1/beneficiaries", "", nil, &bens)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, bens.Beneficiaries, 2)
	assert.Equal(t, int64(50), bens.Beneficiaries[0].TotalAssets)
	assert.Equal(t, int64(100), bens.Beneficiaries[1].TotalAssets)

	// The settled epoch is durable.
	var hist struct {
		Epoch struct {
			Number      uint64 `json:"Number"`
			TotalAssets int64  `json:"TotalAssets"`
			Distributed int64  `json:"Distributed"`
			Pending     int64  `json:"Pending"`
		} `json:"epoch"`
		Distributions []struct {
			Beneficiary string `json:"Beneficiary"`
			Settled     bool   `json:"Settled"`
		} `json:"distributions"`
	}
	status = ts.do(http.MethodGet, "/v1/epochs/1", "", nil, &hist)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(150), hist.Epoch.TotalAssets)
	assert.Equal(t, int64(150), hist.Epoch.Distributed)
	assert.Equal(t, int64(0), hist.Epoch.Pending)
	require.Len(t, hist.Distributions, 2)
	assert.True(t, hist.Distributions[0].Settled)

	status = ts.do(http.MethodGet, "/v1/epochs/99", "", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)

	// Allocation history for the settled epoch.
	var allocs struct {
		Allocations []struct {
			DonorID     string `json:"DonorID"`
			Beneficiary string `json:"Beneficiary"`
			Assets      int64  `json:"Assets"`
		} `json:"allocations"`
	}
	status = ts.do(http.MethodGet, "/v1/allocations?epoch=1", u1, nil, &allocs)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, allocs.Allocations, 1)
	assert.Equal(t, u1ID, allocs.Allocations[0].DonorID)
	assert.Equal(t, "water", allocs.Allocations[0].Beneficiary)
	assert.Equal(t, int64(20), allocs.Allocations[0].Assets)

	// The next epoch is open.
	var epochStatus struct {
		Epoch uint64 `json:"epoch"`
		Ready bool   `json:"ready"`
	}
	status = ts.do(http.MethodGet, "/v1/epoch", "", nil, &epochStatus)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, uint64(2), epochStatus.Epoch)
	assert.False(t, epochStatus.Ready)

	// Unspent credit is still redeemable.
	var withdrawal struct {
		Assets int64 `json:"assets"`
	}
	status = ts.do(http.MethodPost, "/v1/withdraw", u3, map[string]any{"votes": int64(900)}, &withdrawal)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(900), withdrawal.Assets)
}

func TestAdmin_Endpoints(t *testing.T) {
	ts := newTestServer(t, "water")

	_, donor := ts.register("donor@example.com", "Donor")
	_, admin := ts.register(testAdminEmail, "Admin")

	// Non-admin is refused.
	status := ts.do(http.MethodPost, "/v1/admin/beneficiaries", donor, map[string]any{"name": "shelter"}, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status = ts.do(http.MethodPost, "/v1/admin/beneficiaries", admin, map[string]any{"name": "shelter"}, nil)
	require.Equal(t, http.StatusCreated, status)
	assert.True(t, ts.registry.IsEligibleDestination("shelter"))

	// Registering twice conflicts.
	status = ts.do(http.MethodPost, "/v1/admin/beneficiaries", admin, map[string]any{"name": "shelter"}, nil)
	assert.Equal(t, http.StatusConflict, status)

	status = ts.do(http.MethodDelete, "/v1/admin/beneficiaries/shelter", admin, nil, nil)
	require.Equal(t, http.StatusNoContent, status)
	assert.False(t, ts.registry.IsEligibleDestination("shelter"))

	// Shortening the epoch makes it settleable immediately.
	ts.advance(30 * time.Minute)
	var durResp struct {
		Ready bool `json:"ready"`
	}
	status = ts.do(http.MethodPut, "/v1/admin/epoch-duration", admin, map[string]any{"seconds": int64(60)}, &durResp)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, durResp.Ready)

	status = ts.do(http.MethodPut, "/v1/admin/epoch-duration", donor, map[string]any{"seconds": int64(60)}, nil)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestRetryPayout_Flow(t *testing.T) {
	ts := newTestServer(t, "water")

	_, donor := ts.register("donor@example.com", "Donor")
	_, admin := ts.register(testAdminEmail, "Admin")

	status := ts.do(http.MethodPost, "/v1/deposit", donor, map[string]any{"amount": int64(50)}, nil)
	require.Equal(t, http.StatusOK, status)
	status = ts.do(http.MethodPost, "/v1/allocate", donor, map[string]any{"beneficiary": "water", "votes": int64(50)}, nil)
	require.Equal(t, http.StatusOK, status)

	// Deregistered between allocation and settlement.
	status = ts.do(http.MethodDelete, "/v1/admin/beneficiaries/water", admin, nil, nil)
	require.Equal(t, http.StatusNoContent, status)

	ts.advance(time.Hour)

	var fin finalizeResponse
	status = ts.do(http.MethodPost, "/v1/finalize", "", nil, &fin)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(0), fin.Distributed)
	assert.Equal(t, int64(50), fin.Pending)
	require.Len(t, fin.Distributions, 1)
	assert.False(t, fin.Distributions[0].Settled)

	// Escrow still holds the assets.
	assert.Equal(t, int64(50), ts.engine.EscrowBalance())

	retry := map[string]any{"epoch": uint64(1), "beneficiary": "water"}

	// Still ineligible.
	status = ts.do(http.MethodPost, "/v1/payouts/retry", "", retry, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	// Restore eligibility, then anyone can retry.
	status = ts.do(http.MethodPost, "/v1/admin/beneficiaries", admin, map[string]any{"name": "water"}, nil)
	require.Equal(t, http.StatusCreated, status)

	var dist distributionResponse
	status = ts.do(http.MethodPost, "/v1/payouts/retry", "", retry, &dist)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, dist.Settled)
	assert.Equal(t, int64(50), dist.TotalAssets)
	assert.Equal(t, int64(0), ts.engine.EscrowBalance())

	// Unknown payout after success.
	status = ts.do(http.MethodPost, "/v1/payouts/retry", "", retry, nil)
	assert.Equal(t, http.StatusNotFound, status)

	// The durable record moved from pending to distributed.
	var hist struct {
		Epoch struct {
			Distributed int64 `json:"Distributed"`
			Pending     int64 `json:"Pending"`
		} `json:"epoch"`
	}
	status = ts.do(http.MethodGet, "/v1/epochs/1", "", nil, &hist)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(50), hist.Epoch.Distributed)
	assert.Equal(t, int64(0), hist.Epoch.Pending)
}

func TestGrants_EndToEnd(t *testing.T) {
	ts := newTestServer(t, "water")

	_, u1 := ts.register("u1@example.com", "U1")
	_, u2 := ts.register("u2@example.com", "U2")

	for _, c := range []struct {
		token  string
		amount int64
	}{{u1, 20}, {u2, 30}} {
		status := ts.do(http.MethodPost, "/v1/deposit", c.token, map[string]any{"amount": c.amount}, nil)
		require.Equal(t, http.StatusOK, status)
		status = ts.do(http.MethodPost, "/v1/allocate", c.token, map[string]any{"beneficiary": "water", "votes": c.amount}, nil)
		require.Equal(t, http.StatusOK, status)
	}

	ts.advance(time.Hour)
	status := ts.do(http.MethodPost, "/v1/finalize", "", nil, nil)
	require.Equal(t, http.StatusOK, status)

	// Settlement minted voting credit equal to the receipts.
	var board struct {
		Credit      int64 `json:"credit"`
		TotalMinted int64 `json:"total_minted"`
	}
	status = ts.do(http.MethodGet, "/v1/grants?beneficiary=water", u1, nil, &board)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(20), board.Credit)
	assert.Equal(t, int64(50), board.TotalMinted)

	var prop proposalResponse
	status = ts.do(http.MethodPost, "/v1/grants/propose", u1, map[string]any{
		"beneficiary":           "water",
		"title":                 "well drilling",
		"recipient":             "contractor-7",
		"amount":                int64(10),
		"voting_period_seconds": int64(3600),
	}, &prop)
	require.Equal(t, http.StatusCreated, status)
	require.NotEmpty(t, prop.ID)

	// Executing before the deadline conflicts.
	execute := map[string]any{"beneficiary": "water", "proposal_id": prop.ID}
	status = ts.do(http.MethodPost, "/v1/grants/execute", "", execute, nil)
	assert.Equal(t, http.StatusConflict, status)

	vote := func(token string, support bool) int {
		return ts.do(http.MethodPost, "/v1/grants/vote", token, map[string]any{
			"beneficiary": "water", "proposal_id": prop.ID, "support": support,
		}, nil)
	}
	require.Equal(t, http.StatusOK, vote(u1, true))
	assert.Equal(t, http.StatusConflict, vote(u1, true), "one vote per voter")

	ts.advance(2 * time.Hour)
	assert.Equal(t, http.StatusConflict, vote(u2, false), "deadline passed")

	waterVault, ok := ts.registry.Vault("water")
	require.True(t, ok)
	before := waterVault.TotalAssets()

	var executed proposalResponse
	status = ts.do(http.MethodPost, "/v1/grants/execute", "", execute, &executed)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, executed.Executed)
	assert.Equal(t, before-10, waterVault.TotalAssets())

	// Funds release at most once.
	status = ts.do(http.MethodPost, "/v1/grants/execute", "", execute, nil)
	assert.Equal(t, http.StatusConflict, status)

	// Unknown board.
	status = ts.do(http.MethodGet, "/v1/grants?beneficiary=nonexistent", u1, nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
}
