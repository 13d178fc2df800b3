package vault

import (
	"fmt"
	"sync"
)

type registryEntry struct {
	vault    *Vault
	eligible bool
}

// Registry tracks eligible settlement destinations and owns their receipt
// vaults. Deregistering a beneficiary stops new deposits but leaves its vault
// and the receipts already minted untouched.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*registryEntry
	order   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*registryEntry)}
}

// Register makes a beneficiary an eligible destination, creating its vault
// on first registration. Re-registering a deregistered beneficiary restores
// eligibility; registering an eligible one fails.
func (r *Registry) Register(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[name]; ok {
		if e.eligible {
			return fmt.Errorf("%w: %q", ErrAlreadyRegistered, name)
		}
		e.eligible = true
		return nil
	}
	r.entries[name] = &registryEntry{vault: NewVault(), eligible: true}
	r.order = append(r.order, name)
	return nil
}

// Deregister removes a beneficiary from the eligible set.
func (r *Registry) Deregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownBeneficiary, name)
	}
	e.eligible = false
	return nil
}

// IsEligibleDestination is the membership predicate the engine queries on
// every allocation and before every settlement.
func (r *Registry) IsEligibleDestination(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	return ok && e.eligible
}

// Vault returns the beneficiary's receipt vault, registered or not.
func (r *Registry) Vault(name string) (*Vault, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.vault, true
}

// Beneficiaries returns the currently eligible beneficiaries in registration
// order.
func (r *Registry) Beneficiaries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.order))
	for _, name := range r.order {
		if r.entries[name].eligible {
			out = append(out, name)
		}
	}
	return out
}

// Converter is the ShareConverter the settlement engine fans out through: it
// deposits escrowed assets into the destination vault, minting receipt
// shares to the recipient. It refuses, loudly, to deposit into a
// deregistered destination.
type Converter struct {
	registry *Registry
}

// NewConverter creates a converter over the registry's vaults.
func NewConverter(registry *Registry) *Converter {
	return &Converter{registry: registry}
}

// ConvertAssetsToDestinationShares mints destination receipts for recipient
// in exchange for assets.
func (c *Converter) ConvertAssetsToDestinationShares(destination string, assets int64, recipient string) (int64, error) {
	c.registry.mu.Lock()
	e, ok := c.registry.entries[destination]
	eligible := ok && e.eligible
	c.registry.mu.Unlock()
	if !eligible {
		return 0, fmt.Errorf("%w: %q", ErrIneligibleDestination, destination)
	}
	return e.vault.Deposit(recipient, assets)
}
