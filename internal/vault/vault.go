// Package vault implements proportional-share vaults: the shared donation
// pool whose shares double as vote credit, and the per-beneficiary vaults
// that mint receipt shares when an epoch settles. Amounts are int64 base
// units of the stable asset.
package vault

import (
	"math/big"
	"sync"
)

// Vault is a proportional-share vault. Share conversion uses the
// anti-inflation convention
//
//	shares = assets * (totalShares + 1) / (totalAssets + 1)
//
// with floor division, so a direct asset transfer (Donate) inflates the
// share price instead of being capturable by the next depositor, at the
// cost of a fixed-point offset of at most a few base units absorbed by the
// first conversion after the transfer.
type Vault struct {
	mu          sync.Mutex
	totalAssets int64
	totalShares int64
	shares      map[string]int64
}

// NewVault creates an empty vault.
func NewVault() *Vault {
	return &Vault{shares: make(map[string]int64)}
}

// mulDiv computes floor(a*b/den) without intermediate overflow.
func mulDiv(a, b, den int64) int64 {
	n := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	n.Quo(n, big.NewInt(den))
	return n.Int64()
}

func (v *Vault) convertToShares(assets int64) int64 {
	return mulDiv(assets, v.totalShares+1, v.totalAssets+1)
}

func (v *Vault) convertToAssets(shares int64) int64 {
	return mulDiv(shares, v.totalAssets+1, v.totalShares+1)
}

// ConvertToShares returns the shares currently minted for an asset deposit.
func (v *Vault) ConvertToShares(assets int64) int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.convertToShares(assets)
}

// ConvertToAssets returns the asset value of shares at the current rate.
func (v *Vault) ConvertToAssets(shares int64) int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.convertToAssets(shares)
}

// Deposit adds assets and mints the proportional shares to holder.
func (v *Vault) Deposit(holder string, assets int64) (int64, error) {
	if assets <= 0 {
		return 0, ErrNonPositiveAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	shares := v.convertToShares(assets)
	v.totalAssets += assets
	v.totalShares += shares
	v.shares[holder] += shares
	return shares, nil
}

// Donate adds assets without minting shares, raising the share price for
// every existing holder.
func (v *Vault) Donate(assets int64) error {
	if assets <= 0 {
		return ErrNonPositiveAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.totalAssets += assets
	return nil
}

// Redeem burns shares from holder and returns the asset value at the
// current rate.
func (v *Vault) Redeem(holder string, shares int64) (int64, error) {
	if shares <= 0 {
		return 0, ErrNonPositiveAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.shares[holder] < shares {
		return 0, ErrInsufficientShares
	}
	assets := v.convertToAssets(shares)
	v.shares[holder] -= shares
	v.totalShares -= shares
	v.totalAssets -= assets
	return assets, nil
}

// redeemExact burns shares from holder and removes a pre-computed asset
// amount. The pool uses it to keep the burn consistent with the asset value
// it already reported to the settlement ledger.
func (v *Vault) redeemExact(holder string, shares, assets int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.shares[holder] < shares {
		return ErrInsufficientShares
	}
	if assets > v.totalAssets {
		return ErrInsufficientAssets
	}
	v.shares[holder] -= shares
	v.totalShares -= shares
	v.totalAssets -= assets
	return nil
}

// Spend removes assets without touching shares. Used when a grant proposal
// pays out of a beneficiary vault.
func (v *Vault) Spend(assets int64) error {
	if assets <= 0 {
		return ErrNonPositiveAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if assets > v.totalAssets {
		return ErrInsufficientAssets
	}
	v.totalAssets -= assets
	return nil
}

// SharesOf returns holder's share balance.
func (v *Vault) SharesOf(holder string) int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.shares[holder]
}

// AssetsOf returns the current asset value of holder's shares.
func (v *Vault) AssetsOf(holder string) int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.convertToAssets(v.shares[holder])
}

// TotalAssets returns the assets held by the vault.
func (v *Vault) TotalAssets() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.totalAssets
}

// TotalShares returns the shares outstanding.
func (v *Vault) TotalShares() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.totalShares
}
