package service

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/givepool/givepool/internal/journal"
	"github.com/givepool/givepool/internal/metrics"
	"github.com/givepool/givepool/internal/middleware"
	"github.com/givepool/givepool/internal/models"
	"github.com/givepool/givepool/internal/storage"
	"github.com/givepool/givepool/internal/treasury"
	"github.com/givepool/givepool/internal/vault"
)

// CreditMinter mints grant voting credit to the receipt holders of a settled
// distribution.
type CreditMinter interface {
	MintForBeneficiary(beneficiary string, recipients []string, amounts []int64) error
}

// TreasuryService handles deposits, allocations, settlement, and the
// read-side queries over the pool.
type TreasuryService struct {
	pool     *vault.Pool
	engine   *treasury.Engine
	registry *vault.Registry
	store    storage.Store
	events   journal.Writer
	minter   CreditMinter
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewTreasuryService wires the treasury endpoints. minter and events may be
// nil.
func NewTreasuryService(pool *vault.Pool, engine *treasury.Engine, registry *vault.Registry, store storage.Store, events journal.Writer, minter CreditMinter, m *metrics.Metrics, logger *slog.Logger) *TreasuryService {
	return &TreasuryService{
		pool:     pool,
		engine:   engine,
		registry: registry,
		store:    store,
		events:   events,
		minter:   minter,
		metrics:  m,
		logger:   logger,
	}
}

// HandleDeposit adds assets to the pool for the authenticated donor and
// mints vote credit.
func (s *TreasuryService) HandleDeposit(w http.ResponseWriter, r *http.Request) {
	donorID := middleware.GetDonorID(r.Context())
	var req struct {
		Amount int64 `json:"amount"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	votes, err := s.pool.Deposit(donorID, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}

	if s.events != nil {
		if err := s.events.Append(journal.Entry{
			Kind:   journal.KindDeposit,
			Epoch:  s.engine.CurrentEpoch(),
			User:   donorID,
			Votes:  votes,
			Assets: req.Amount,
		}); err != nil {
			s.logger.Error("audit journal append failed", "kind", journal.KindDeposit, "error", err)
		}
	}
	s.metrics.DepositsTotal.Inc()

	s.logger.Info("deposit", "donor_id", donorID, "assets", req.Amount, "votes", votes)
	writeJSON(w, http.StatusOK, map[string]any{
		"votes":       votes,
		"pool_assets": s.pool.TotalAssets(),
	})
}

// HandleDonate adds assets to the pool without minting vote credit, diluting
// nobody and raising the value of every outstanding vote.
func (s *TreasuryService) HandleDonate(w http.ResponseWriter, r *http.Request) {
	donorID := middleware.GetDonorID(r.Context())
	var req struct {
		Amount int64 `json:"amount"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := s.pool.Donate(req.Amount); err != nil {
		writeError(w, err)
		return
	}

	s.logger.Info("donation", "donor_id", donorID, "assets", req.Amount)
	writeJSON(w, http.StatusOK, map[string]any{
		"pool_assets": s.pool.TotalAssets(),
	})
}

// HandleAllocate spends the donor's vote credit on a beneficiary. The asset
// value moves into escrow until the epoch settles.
func (s *TreasuryService) HandleAllocate(w http.ResponseWriter, r *http.Request) {
	donorID := middleware.GetDonorID(r.Context())
	var req struct {
		Beneficiary string `json:"beneficiary"`
		Votes       int64  `json:"votes"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	epoch := s.engine.CurrentEpoch()
	assets, err := s.pool.AllocateVotes(donorID, req.Beneficiary, req.Votes)
	if err != nil {
		writeError(w, err)
		return
	}

	rec := &models.AllocationRecord{
		Epoch:       epoch,
		DonorID:     donorID,
		Beneficiary: req.Beneficiary,
		Votes:       req.Votes,
		Assets:      assets,
	}
	if err := s.store.SaveAllocation(r.Context(), rec); err != nil {
		// The allocation itself is booked; the durable trace is best-effort.
		s.logger.Error("allocation record not persisted", "donor_id", donorID, "error", err)
	}

	s.metrics.AllocationsTotal.Inc()
	s.metrics.EscrowBalance.Set(float64(s.engine.EscrowBalance()))

	s.logger.Info("allocation", "donor_id", donorID, "beneficiary", req.Beneficiary,
		"votes", req.Votes, "assets", assets, "epoch", epoch)
	writeJSON(w, http.StatusOK, map[string]any{
		"epoch":  epoch,
		"votes":  req.Votes,
		"assets": assets,
	})
}

// HandleWithdraw redeems unallocated vote credit back into assets.
func (s *TreasuryService) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
	donorID := middleware.GetDonorID(r.Context())
	var req struct {
		Votes int64 `json:"votes"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	assets, err := s.pool.Withdraw(donorID, req.Votes)
	if err != nil {
		writeError(w, err)
		return
	}

	s.logger.Info("withdrawal", "donor_id", donorID, "votes", req.Votes, "assets", assets)
	writeJSON(w, http.StatusOK, map[string]any{"assets": assets})
}

// HandleBalance returns the donor's unallocated vote credit and its asset
// value.
func (s *TreasuryService) HandleBalance(w http.ResponseWriter, r *http.Request) {
	donorID := middleware.GetDonorID(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"votes":  s.pool.VotesOf(donorID),
		"assets": s.pool.AssetsOf(donorID),
	})
}

// HandleFinalize settles the current epoch. Open to anyone, authenticated or
// not, once the epoch window has elapsed.
func (s *TreasuryService) HandleFinalize(w http.ResponseWriter, r *http.Request) {
	// Captured before the clock advances; discarded if finalize fails.
	startedAt := s.engine.EpochStart()
	duration := s.engine.EpochDuration()

	res, err := s.engine.Finalize()
	if err != nil {
		writeError(w, err)
		return
	}

	s.persistEpoch(r.Context(), res, startedAt, duration)
	s.mintCredits(res)

	s.metrics.EpochsFinalized.Inc()
	s.metrics.AssetsDistributed.Add(float64(res.Distributed))
	s.metrics.EscrowBalance.Set(float64(s.engine.EscrowBalance()))
	s.metrics.PendingPayouts.Set(float64(len(s.engine.PendingPayouts())))

	s.logger.Info("epoch finalized", "epoch", res.Epoch,
		"distributed", res.Distributed, "pending", res.Pending,
		"beneficiaries", len(res.Distributions))
	writeJSON(w, http.StatusOK, toFinalizeResponse(res))
}

// persistEpoch writes the settled epoch and its distributions. For a payout
// held back, the row carries the assets still in escrow, so the epoch's
// pending column always equals the sum of its unsettled rows.
func (s *TreasuryService) persistEpoch(ctx context.Context, res *treasury.FinalizeResult, startedAt time.Time, duration time.Duration) {
	held := make(map[string]int64)
	for _, p := range s.engine.PendingPayouts() {
		if p.Epoch == res.Epoch {
			held[p.Beneficiary] = p.Remaining()
		}
	}

	epoch := &models.EpochRecord{
		Number:          res.Epoch,
		StartedAt:       startedAt.Unix(),
		FinalizedAt:     s.engine.EpochStart().Unix(),
		DurationSeconds: int64(duration / time.Second),
		TotalAssets:     s.engine.EpochTotal(res.Epoch),
		Distributed:     res.Distributed,
		Pending:         res.Pending,
	}

	dists := make([]*models.DistributionRecord, 0, len(res.Distributions))
	for _, d := range res.Distributions {
		rec := &models.DistributionRecord{
			Epoch:       res.Epoch,
			Beneficiary: d.Beneficiary,
			TotalVotes:  d.TotalVotes,
			TotalAssets: d.TotalAssets,
			Settled:     d.Settled,
			Reason:      d.Reason,
		}
		if sum, ok := s.engine.Summary(res.Epoch, d.Beneficiary); ok {
			rec.UserCount = len(sum.Users)
		}
		if !d.Settled {
			rec.TotalAssets = held[d.Beneficiary]
		}
		dists = append(dists, rec)
	}

	if err := s.store.SaveEpoch(ctx, epoch, dists); err != nil {
		s.logger.Error("epoch record not persisted", "epoch", res.Epoch, "error", err)
	}
}

// mintCredits gives each receipt holder of a settled distribution grant
// voting credit equal to the shares they received.
func (s *TreasuryService) mintCredits(res *treasury.FinalizeResult) {
	if s.minter == nil {
		return
	}
	for _, d := range res.Distributions {
		if len(d.Users) == 0 {
			continue
		}
		recipients := make([]string, 0, len(d.Users))
		amounts := make([]int64, 0, len(d.Users))
		for _, us := range d.Users {
			if us.Shares == 0 {
				continue
			}
			recipients = append(recipients, us.User)
			amounts = append(amounts, us.Shares)
		}
		if len(recipients) == 0 {
			continue
		}
		if err := s.minter.MintForBeneficiary(d.Beneficiary, recipients, amounts); err != nil {
			s.logger.Error("grant credit minting failed",
				"beneficiary", d.Beneficiary, "error", err)
		}
	}
}

// HandleRetryPayout re-attempts a payout held back by a failed settlement.
// Like finalize, anyone may call it.
func (s *TreasuryService) HandleRetryPayout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Epoch       uint64 `json:"epoch"`
		Beneficiary string `json:"beneficiary"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	dist, err := s.engine.RetryPayout(req.Epoch, req.Beneficiary)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.store.MarkDistributionSettled(r.Context(), req.Epoch, req.Beneficiary); err != nil {
		s.logger.Error("distribution record not updated", "epoch", req.Epoch,
			"beneficiary", req.Beneficiary, "error", err)
	}
	s.mintCredits(&treasury.FinalizeResult{Distributions: []treasury.Distribution{*dist}})

	s.metrics.AssetsDistributed.Add(float64(dist.TotalAssets))
	s.metrics.EscrowBalance.Set(float64(s.engine.EscrowBalance()))
	s.metrics.PendingPayouts.Set(float64(len(s.engine.PendingPayouts())))

	s.logger.Info("payout retried", "epoch", req.Epoch, "beneficiary", req.Beneficiary,
		"assets", dist.TotalAssets)
	writeJSON(w, http.StatusOK, toDistributionResponse(*dist))
}

// HandleEpochStatus reports the open epoch.
func (s *TreasuryService) HandleEpochStatus(w http.ResponseWriter, r *http.Request) {
	epoch := s.engine.CurrentEpoch()
	writeJSON(w, http.StatusOK, map[string]any{
		"epoch":                  epoch,
		"started_at":             s.engine.EpochStart().Unix(),
		"duration_seconds":       int64(s.engine.EpochDuration() / time.Second),
		"ready":                  s.engine.Ready(),
		"time_remaining_seconds": int64(s.engine.TimeRemaining() / time.Second),
		"total_assets":           s.engine.EpochTotal(epoch),
		"escrow_balance":         s.engine.EscrowBalance(),
		"pool_assets":            s.pool.TotalAssets(),
	})
}

// HandleListAllocations returns the donor's allocations for an epoch
// (?epoch=N, default current).
func (s *TreasuryService) HandleListAllocations(w http.ResponseWriter, r *http.Request) {
	donorID := middleware.GetDonorID(r.Context())
	epoch := s.engine.CurrentEpoch()
	if raw := r.URL.Query().Get("epoch"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, errBadRequest)
			return
		}
		epoch = n
	}

	recs, err := s.store.ListAllocations(r.Context(), epoch, donorID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"epoch":       epoch,
		"allocations": recs,
	})
}

// HandleListBeneficiaries returns the eligible beneficiaries and their vault
// totals.
func (s *TreasuryService) HandleListBeneficiaries(w http.ResponseWriter, r *http.Request) {
	type beneficiaryResponse struct {
		Name        string `json:"name"`
		TotalAssets int64  `json:"total_assets"`
		TotalShares int64  `json:"total_shares"`
	}
	names := s.registry.Beneficiaries()
	out := make([]beneficiaryResponse, 0, len(names))
	for _, name := range names {
		b := beneficiaryResponse{Name: name}
		if v, ok := s.registry.Vault(name); ok {
			b.TotalAssets = v.TotalAssets()
			b.TotalShares = v.TotalShares()
		}
		out = append(out, b)
	}
	writeJSON(w, http.StatusOK, map[string]any{"beneficiaries": out})
}

// HandleGetEpoch returns a settled epoch and its distributions.
func (s *TreasuryService) HandleGetEpoch(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.ParseUint(r.PathValue("number"), 10, 64)
	if err != nil {
		writeError(w, errBadRequest)
		return
	}

	epoch, err := s.store.GetEpoch(r.Context(), n)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	dists, err := s.store.ListDistributions(r.Context(), n)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"epoch":         epoch,
		"distributions": dists,
	})
}

// HandleSetEpochDuration changes the epoch length, effective immediately for
// the epoch in progress. Admin only (enforced by routing middleware).
func (s *TreasuryService) HandleSetEpochDuration(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Seconds int64 `json:"seconds"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := s.engine.SetEpochDuration(time.Duration(req.Seconds) * time.Second); err != nil {
		writeError(w, err)
		return
	}

	s.logger.Info("epoch duration changed", "seconds", req.Seconds,
		"admin", middleware.GetEmail(r.Context()))
	writeJSON(w, http.StatusOK, map[string]any{
		"duration_seconds":       req.Seconds,
		"ready":                  s.engine.Ready(),
		"time_remaining_seconds": int64(s.engine.TimeRemaining() / time.Second),
	})
}

// HandleRegisterBeneficiary makes a beneficiary an eligible destination.
// Admin only.
func (s *TreasuryService) HandleRegisterBeneficiary(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Name == "" {
		writeError(w, errBadRequest)
		return
	}

	if err := s.registry.Register(req.Name); err != nil {
		writeError(w, err)
		return
	}

	s.logger.Info("beneficiary registered", "name", req.Name,
		"admin", middleware.GetEmail(r.Context()))
	writeJSON(w, http.StatusCreated, map[string]any{"name": req.Name})
}

// HandleDeregisterBeneficiary removes a beneficiary from the eligible set.
// Receipts already minted are untouched. Admin only.
func (s *TreasuryService) HandleDeregisterBeneficiary(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.registry.Deregister(name); err != nil {
		writeError(w, err)
		return
	}

	s.logger.Info("beneficiary deregistered", "name", name,
		"admin", middleware.GetEmail(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

type userShareResponse struct {
	User   string `json:"user"`
	Assets int64  `json:"assets"`
	Shares int64  `json:"shares"`
}

type distributionResponse struct {
	Beneficiary string              `json:"beneficiary"`
	TotalVotes  int64               `json:"total_votes"`
	TotalAssets int64               `json:"total_assets"`
	Users       []userShareResponse `json:"users"`
	Settled     bool                `json:"settled"`
	Reason      string              `json:"reason,omitempty"`
}

type finalizeResponse struct {
	Epoch         uint64                 `json:"epoch"`
	Distributed   int64                  `json:"distributed"`
	Pending       int64                  `json:"pending"`
	Distributions []distributionResponse `json:"distributions"`
}

func toDistributionResponse(d treasury.Distribution) distributionResponse {
	out := distributionResponse{
		Beneficiary: d.Beneficiary,
		TotalVotes:  d.TotalVotes,
		TotalAssets: d.TotalAssets,
		Users:       make([]userShareResponse, 0, len(d.Users)),
		Settled:     d.Settled,
		Reason:      d.Reason,
	}
	for _, us := range d.Users {
		out.Users = append(out.Users, userShareResponse{User: us.User, Assets: us.Assets, Shares: us.Shares})
	}
	return out
}

func toFinalizeResponse(res *treasury.FinalizeResult) finalizeResponse {
	out := finalizeResponse{
		Epoch:         res.Epoch,
		Distributed:   res.Distributed,
		Pending:       res.Pending,
		Distributions: make([]distributionResponse, 0, len(res.Distributions)),
	}
	for _, d := range res.Distributions {
		out.Distributions = append(out.Distributions, toDistributionResponse(d))
	}
	return out
}
