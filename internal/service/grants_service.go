package service

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/givepool/givepool/internal/grants"
	"github.com/givepool/givepool/internal/journal"
	"github.com/givepool/givepool/internal/middleware"
	"github.com/givepool/givepool/internal/vault"
)

// vaultReleaser pays approved grants out of a beneficiary's receipt vault.
type vaultReleaser struct {
	beneficiary string
	vault       *vault.Vault
	logger      *slog.Logger
}

func (r *vaultReleaser) Release(recipient string, amount int64) error {
	if err := r.vault.Spend(amount); err != nil {
		return err
	}
	r.logger.Info("grant released", "beneficiary", r.beneficiary,
		"recipient", recipient, "amount", amount)
	return nil
}

// GrantsService runs one grant board per beneficiary, created lazily the
// first time credit is minted or a proposal arrives.
type GrantsService struct {
	mu     sync.Mutex
	boards map[string]*grants.Board

	registry  *vault.Registry
	quorumBps int64
	events    journal.Writer
	now       func() time.Time
	logger    *slog.Logger
}

// NewGrantsService wires the grant voting endpoints. now may be nil.
func NewGrantsService(registry *vault.Registry, quorumBps int64, events journal.Writer, now func() time.Time, logger *slog.Logger) *GrantsService {
	return &GrantsService{
		boards:    make(map[string]*grants.Board),
		registry:  registry,
		quorumBps: quorumBps,
		events:    events,
		now:       now,
		logger:    logger,
	}
}

// boardFor returns the beneficiary's board, creating it on first use. The
// beneficiary must have a vault, eligible or not: a deregistered destination
// keeps governing the receipts already minted.
func (s *GrantsService) boardFor(beneficiary string) (*grants.Board, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.boards[beneficiary]; ok {
		return b, nil
	}
	v, ok := s.registry.Vault(beneficiary)
	if !ok {
		return nil, fmt.Errorf("%w: %q", vault.ErrUnknownBeneficiary, beneficiary)
	}
	b := grants.NewBoard(grants.BoardConfig{
		Beneficiary: beneficiary,
		QuorumBps:   s.quorumBps,
		Releaser:    &vaultReleaser{beneficiary: beneficiary, vault: v, logger: s.logger},
		Events:      s.events,
		Now:         s.now,
	})
	s.boards[beneficiary] = b
	return b, nil
}

// MintForBeneficiary implements CreditMinter: settlement calls it to hand
// each receipt holder voting credit on the beneficiary's board.
func (s *GrantsService) MintForBeneficiary(beneficiary string, recipients []string, amounts []int64) error {
	b, err := s.boardFor(beneficiary)
	if err != nil {
		return err
	}
	return b.MintCredits(recipients, amounts)
}

type proposalResponse struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Recipient string `json:"recipient"`
	Amount    int64  `json:"amount"`
	Deadline  int64  `json:"deadline"`
	Yes       int64  `json:"yes"`
	No        int64  `json:"no"`
	Executed  bool   `json:"executed"`
}

func toProposalResponse(p *grants.Proposal) proposalResponse {
	return proposalResponse{
		ID:        p.ID,
		Title:     p.Title,
		Recipient: p.Recipient,
		Amount:    p.Amount,
		Deadline:  p.Deadline.Unix(),
		Yes:       p.Yes,
		No:        p.No,
		Executed:  p.Executed,
	}
}

// HandlePropose opens a grant proposal on a beneficiary's board.
func (s *GrantsService) HandlePropose(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Beneficiary   string `json:"beneficiary"`
		Title         string `json:"title"`
		Recipient     string `json:"recipient"`
		Amount        int64  `json:"amount"`
		PeriodSeconds int64  `json:"voting_period_seconds"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	b, err := s.boardFor(req.Beneficiary)
	if err != nil {
		writeError(w, err)
		return
	}
	p, err := b.Propose(req.Title, req.Recipient, req.Amount, time.Duration(req.PeriodSeconds)*time.Second)
	if err != nil {
		writeError(w, err)
		return
	}

	s.logger.Info("grant proposed", "beneficiary", req.Beneficiary,
		"proposal_id", p.ID, "amount", req.Amount,
		"proposer", middleware.GetDonorID(r.Context()))
	writeJSON(w, http.StatusCreated, toProposalResponse(p))
}

// HandleVote casts the authenticated donor's full credit balance on a
// proposal.
func (s *GrantsService) HandleVote(w http.ResponseWriter, r *http.Request) {
	voter := middleware.GetDonorID(r.Context())
	var req struct {
		Beneficiary string `json:"beneficiary"`
		ProposalID  string `json:"proposal_id"`
		Support     bool   `json:"support"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	b, err := s.boardFor(req.Beneficiary)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := b.Vote(voter, req.ProposalID, req.Support); err != nil {
		writeError(w, err)
		return
	}

	s.logger.Info("grant vote", "beneficiary", req.Beneficiary,
		"proposal_id", req.ProposalID, "voter", voter, "support", req.Support)
	p, _ := b.Proposal(req.ProposalID)
	writeJSON(w, http.StatusOK, toProposalResponse(p))
}

// HandleExecute releases an approved grant's funds. Anyone may call it once
// the deadline has passed.
func (s *GrantsService) HandleExecute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Beneficiary string `json:"beneficiary"`
		ProposalID  string `json:"proposal_id"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	b, err := s.boardFor(req.Beneficiary)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := b.Execute(req.ProposalID); err != nil {
		writeError(w, err)
		return
	}

	p, _ := b.Proposal(req.ProposalID)
	writeJSON(w, http.StatusOK, toProposalResponse(p))
}

// HandleList returns a board's proposals (?beneficiary=X) or a single one
// (?beneficiary=X&id=Y), plus the caller's remaining credit.
func (s *GrantsService) HandleList(w http.ResponseWriter, r *http.Request) {
	beneficiary := r.URL.Query().Get("beneficiary")
	if beneficiary == "" {
		writeError(w, errBadRequest)
		return
	}
	b, err := s.boardFor(beneficiary)
	if err != nil {
		writeError(w, err)
		return
	}

	caller := middleware.GetDonorID(r.Context())
	if id := r.URL.Query().Get("id"); id != "" {
		p, ok := b.Proposal(id)
		if !ok {
			writeError(w, fmt.Errorf("%w: %q", grants.ErrUnknownProposal, id))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"proposal": toProposalResponse(p),
			"credit":   b.CreditOf(caller),
		})
		return
	}

	all := b.Proposals()
	out := make([]proposalResponse, 0, len(all))
	for _, p := range all {
		out = append(out, toProposalResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"proposals":    out,
		"credit":       b.CreditOf(caller),
		"total_minted": b.TotalMinted(),
	})
}
