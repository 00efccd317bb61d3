// Package registry creates markets and answers status queries. It owns the
// oracle whitelist and each market's immutable parameters; status/outcome
// mutation after creation happens only through resolution in the ledger.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hypermarket/settlement-engine/internal/auth"
	"github.com/hypermarket/settlement-engine/internal/events"
	"github.com/hypermarket/settlement-engine/internal/model"
	"github.com/hypermarket/settlement-engine/internal/store"
)

var (
	// ErrEmptyQuestion is returned when a market is created without a question.
	ErrEmptyQuestion = errors.New("registry: question must not be empty")

	// ErrInvalidExpiry is returned when expiry is not strictly in the future.
	ErrInvalidExpiry = errors.New("registry: expiry must be in the future")

	// ErrInvalidOracleID is returned for a malformed oracle identity.
	ErrInvalidOracleID = errors.New("registry: oracle id is not a valid address")

	// ErrUnknownOracle is returned when the oracle is not whitelisted.
	ErrUnknownOracle = errors.New("registry: oracle is not recognized")

	// ErrEmptyAsset is returned when no collateral asset is named.
	ErrEmptyAsset = errors.New("registry: collateral asset must not be empty")
)

// Registry creates and queries markets.
type Registry struct {
	store   store.Store
	emitter events.Emitter
	now     func() time.Time
}

// New creates a Registry. Pass nil emitter to discard events.
func New(st store.Store, emitter events.Emitter) *Registry {
	if emitter == nil {
		emitter = events.Discard{}
	}
	return &Registry{store: st, emitter: emitter, now: time.Now}
}

// SetClock replaces the registry's time source. Test hook.
func (r *Registry) SetClock(now func() time.Time) { r.now = now }

// CreateParams are the caller-supplied market parameters.
type CreateParams struct {
	Question        string    `json:"question"`
	Expiry          time.Time `json:"expiry"`
	OracleID        string    `json:"oracle_id"`
	CollateralAsset string    `json:"collateral_asset"`
	Creator         string    `json:"creator"`
}

// CreateMarket validates params, persists a new Active market with a fresh
// id, and emits MarketCreated.
func (r *Registry) CreateMarket(ctx context.Context, p CreateParams) (*model.Market, error) {
	if strings.TrimSpace(p.Question) == "" {
		return nil, ErrEmptyQuestion
	}
	now := r.now().UTC()
	if !p.Expiry.After(now) {
		return nil, ErrInvalidExpiry
	}
	if !auth.ValidAddress(p.OracleID) {
		return nil, ErrInvalidOracleID
	}
	if p.CollateralAsset == "" {
		return nil, ErrEmptyAsset
	}

	known, err := r.store.IsOracle(ctx, strings.ToLower(p.OracleID))
	if err != nil {
		return nil, fmt.Errorf("registry: oracle lookup: %w", err)
	}
	if !known {
		return nil, ErrUnknownOracle
	}

	market := &model.Market{
		ID:              uuid.New().String(),
		Question:        p.Question,
		Expiry:          p.Expiry.UTC(),
		OracleID:        strings.ToLower(p.OracleID),
		CollateralAsset: p.CollateralAsset,
		Status:          model.StatusActive,
		ResolvedOutcome: model.OutcomeNone,
		Creator:         p.Creator,
		TotalCollateral: decimal.Zero,
		CreatedAt:       now,
	}

	if err := r.store.CreateMarket(ctx, market); err != nil {
		return nil, err
	}

	slog.Info("market created",
		"id", market.ID,
		"oracle", market.OracleID,
		"asset", market.CollateralAsset,
		"expiry", market.Expiry,
	)

	r.emitter.Emit(events.Event{
		ID:        uuid.New().String(),
		Type:      events.TypeMarketCreated,
		MarketID:  market.ID,
		Account:   market.Creator,
		Timestamp: now,
	})

	return market, nil
}

// AddOracle whitelists an oracle address for future markets.
func (r *Registry) AddOracle(ctx context.Context, addr string) error {
	if !auth.ValidAddress(addr) {
		return ErrInvalidOracleID
	}
	if err := r.store.AddOracle(ctx, strings.ToLower(addr)); err != nil {
		return err
	}
	r.emitter.Emit(events.Event{
		ID:        uuid.New().String(),
		Type:      events.TypeOracleAdded,
		Account:   strings.ToLower(addr),
		Timestamp: r.now().UTC(),
	})
	return nil
}

// GetMarket returns a market with its effective status computed as of now.
// The stored status is never mutated here (lazy expiry).
func (r *Registry) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	m, err := r.store.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	m.Status = m.EffectiveStatus(r.now())
	return m, nil
}

// Status returns the effective status of a market.
func (r *Registry) Status(ctx context.Context, id string) (string, error) {
	m, err := r.store.GetMarket(ctx, id)
	if err != nil {
		return "", err
	}
	return m.EffectiveStatus(r.now()), nil
}

// ListMarkets returns all markets with effective statuses, optionally
// filtered to one status.
func (r *Registry) ListMarkets(ctx context.Context, statusFilter string) ([]model.Market, error) {
	markets, err := r.store.ListMarkets(ctx)
	if err != nil {
		return nil, err
	}

	now := r.now()
	out := make([]model.Market, 0, len(markets))
	for _, m := range markets {
		m.Status = m.EffectiveStatus(now)
		if statusFilter != "" && m.Status != statusFilter {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}
