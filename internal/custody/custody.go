// Package custody abstracts the external asset-transfer mechanism that holds
// collateral on behalf of the engine. Mint deposits into custody; burn and
// redemption withdraw. A custody failure aborts the surrounding ledger
// operation before any balance is touched.
package custody

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"
)

// ErrTransferRejected is returned when the external transfer mechanism
// declines a deposit or withdrawal.
var ErrTransferRejected = errors.New("custody: transfer rejected")

// Custody is the external collateral collaborator consumed by the ledger.
type Custody interface {
	// Deposit moves amount of asset from the account's wallet into custody.
	Deposit(ctx context.Context, account, asset string, amount decimal.Decimal) error

	// Withdraw moves amount of asset from custody back to the account.
	Withdraw(ctx context.Context, account, asset string, amount decimal.Decimal) error
}

// Vault is an in-memory Custody used for development and tests. It tracks
// the total held per asset and refuses withdrawals that exceed it.
type Vault struct {
	mu   sync.Mutex
	held map[string]decimal.Decimal // asset → total in custody
}

// NewVault creates an empty in-memory vault.
func NewVault() *Vault {
	return &Vault{held: make(map[string]decimal.Decimal)}
}

func (v *Vault) Deposit(_ context.Context, _, asset string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrTransferRejected
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.held[asset] = v.held[asset].Add(amount)
	return nil
}

func (v *Vault) Withdraw(_ context.Context, _, asset string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrTransferRejected
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	next := v.held[asset].Sub(amount)
	if next.IsNegative() {
		return ErrTransferRejected
	}
	v.held[asset] = next
	return nil
}

// Held returns the total amount of asset currently in custody.
func (v *Vault) Held(asset string) decimal.Decimal {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.held[asset]
}

// Flaky wraps a Custody and fails every call while Fail is set. Test helper
// for exercising abort-on-external-failure paths.
type Flaky struct {
	Inner Custody
	Fail  bool
}

func (f *Flaky) Deposit(ctx context.Context, account, asset string, amount decimal.Decimal) error {
	if f.Fail {
		return ErrTransferRejected
	}
	return f.Inner.Deposit(ctx, account, asset, amount)
}

func (f *Flaky) Withdraw(ctx context.Context, account, asset string, amount decimal.Decimal) error {
	if f.Fail {
		return ErrTransferRejected
	}
	return f.Inner.Withdraw(ctx, account, asset, amount)
}
