// Package store defines the persistence interface for the settlement engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/hypermarket/settlement-engine/internal/model"
)

// Sentinel errors shared by all Store implementations.
var (
	// ErrNotFound is returned when a market or resolution does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrAlreadyExists is returned on duplicate market or resolution writes.
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrNegativeBalance is returned when an adjustment would take a
	// balance below zero.
	ErrNegativeBalance = errors.New("store: balance would go negative")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer. The ledger serializes mutating
// operations per market, so implementations only need to make multi-write
// operations atomic via WithTx.
type Store interface {
	// --- Market operations ---

	// CreateMarket persists a new market. Fails with ErrAlreadyExists on a
	// duplicate id.
	CreateMarket(ctx context.Context, m *model.Market) error

	// GetMarket retrieves a market by its ID.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// ListMarkets returns all markets, newest first.
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// SetMarketResolved stores the terminal status and outcome of a market.
	SetMarketResolved(ctx context.Context, id string, outcome model.Outcome) error

	// AddMarketCollateral adjusts the collateral held in custody for a
	// market by a signed delta.
	AddMarketCollateral(ctx context.Context, id string, delta decimal.Decimal) error

	// --- Oracle whitelist ---

	// AddOracle records an oracle address as recognized.
	AddOracle(ctx context.Context, addr string) error

	// IsOracle reports whether addr is a recognized oracle.
	IsOracle(ctx context.Context, addr string) (bool, error)

	// --- Resolution records (write-once) ---

	// InsertResolution appends the resolution record for a market. Fails
	// with ErrAlreadyExists if one is already recorded.
	InsertResolution(ctx context.Context, r *model.Resolution) error

	// GetResolution returns the resolution record for a market.
	GetResolution(ctx context.Context, marketID string) (*model.Resolution, error)

	// --- Positions ---

	// GetPosition returns the position for (market, account). A position
	// that was never written is returned with zero balances, not an error.
	GetPosition(ctx context.Context, marketID, account string) (*model.Position, error)

	// PutPosition upserts a position.
	PutPosition(ctx context.Context, p *model.Position) error

	// ListPositionsByMarket returns every stored position for a market.
	ListPositionsByMarket(ctx context.Context, marketID string) ([]model.Position, error)

	// --- Collateral accounts ---

	// GetCollateral returns an account's free collateral balance for an asset.
	GetCollateral(ctx context.Context, account, asset string) (decimal.Decimal, error)

	// AddCollateral adjusts an account's free collateral balance by a signed
	// delta. Fails with ErrNegativeBalance if the result would be negative.
	AddCollateral(ctx context.Context, account, asset string, delta decimal.Decimal) error

	// --- Idempotency ---

	// ClaimIdempotencyKey records a caller-supplied idempotency key. The
	// first claim returns true; replays return false.
	ClaimIdempotencyKey(ctx context.Context, key string) (bool, error)

	// --- Atomicity ---

	// WithTx runs fn against a transactional view of the store. All writes
	// made through the argument are applied together or not at all.
	WithTx(ctx context.Context, fn func(Store) error) error
}
