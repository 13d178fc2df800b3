package treasury

// Allocation is the accumulated contribution of one user to one beneficiary
// within one epoch. Entries only ever grow until the epoch settles.
type Allocation struct {
	Votes  int64
	Assets int64
}

// BeneficiarySummary aggregates all allocations made to one beneficiary in
// one epoch. Users holds every distinct contributor in first-allocation
// order; TotalAssets always equals the sum of the per-user allocations.
type BeneficiarySummary struct {
	TotalVotes  int64
	TotalAssets int64
	Users       []string
}

type allocKey struct {
	user        string
	beneficiary string
}

// epochState is the full accounting for a single epoch. The touched-user and
// touched-beneficiary lists are append-only and deduplicated through the
// parallel membership maps, so recording cost does not depend on how much
// history the epoch already holds.
type epochState struct {
	totalAssets int64
	finalized   bool

	allocations map[allocKey]*Allocation
	summaries   map[string]*BeneficiarySummary

	beneficiaries   []string
	beneficiarySeen map[string]bool

	users    []string
	userSeen map[string]bool

	// userBeneficiaries lists, per user, the beneficiaries they allocated to
	// in first-allocation order.
	userBeneficiaries map[string][]string
}

func newEpochState() *epochState {
	return &epochState{
		allocations:       make(map[allocKey]*Allocation),
		summaries:         make(map[string]*BeneficiarySummary),
		beneficiarySeen:   make(map[string]bool),
		userSeen:          make(map[string]bool),
		userBeneficiaries: make(map[string][]string),
	}
}

// ledger holds the per-epoch accounting for every epoch ever opened.
// History is never discarded; finalized epochs are read-only.
type ledger struct {
	epochs map[uint64]*epochState
}

func newLedger() *ledger {
	return &ledger{epochs: make(map[uint64]*epochState)}
}

// epoch returns the state for the given epoch number, creating it on first
// touch.
func (l *ledger) epoch(n uint64) *epochState {
	st, ok := l.epochs[n]
	if !ok {
		st = newEpochState()
		l.epochs[n] = st
	}
	return st
}

// lookup returns the epoch state without creating it.
func (l *ledger) lookup(n uint64) (*epochState, bool) {
	st, ok := l.epochs[n]
	return st, ok
}

// record accumulates one allocation. Membership lists gain an entry on the
// first record for the key regardless of the asset value, so a zero-asset
// record (vote-weight rounded down to nothing) still claims its slot exactly
// once.
func (l *ledger) record(epoch uint64, user, beneficiary string, votes, assets int64) {
	st := l.epoch(epoch)
	key := allocKey{user: user, beneficiary: beneficiary}

	alloc, seen := st.allocations[key]
	if !seen {
		alloc = &Allocation{}
		st.allocations[key] = alloc
	}
	alloc.Votes += votes
	alloc.Assets += assets

	sum, ok := st.summaries[beneficiary]
	if !ok {
		sum = &BeneficiarySummary{}
		st.summaries[beneficiary] = sum
	}
	sum.TotalVotes += votes
	sum.TotalAssets += assets
	if !seen {
		sum.Users = append(sum.Users, user)
		st.userBeneficiaries[user] = append(st.userBeneficiaries[user], beneficiary)
	}

	if !st.beneficiarySeen[beneficiary] {
		st.beneficiarySeen[beneficiary] = true
		st.beneficiaries = append(st.beneficiaries, beneficiary)
	}
	if !st.userSeen[user] {
		st.userSeen[user] = true
		st.users = append(st.users, user)
	}

	st.totalAssets += assets
}
