// Package model defines the core domain types shared across the settlement
// engine. All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Market statuses. Expired is derived from expiry time, never written back
// to storage except as part of resolution.
const (
	StatusActive   = "active"
	StatusExpired  = "expired"
	StatusResolved = "resolved"
)

// Outcome is the oracle-reported result of a binary market.
type Outcome string

const (
	OutcomeNone Outcome = ""
	OutcomeYes  Outcome = "YES"
	OutcomeNo   Outcome = "NO"
)

// Valid reports whether o is a settable outcome (YES or NO).
func (o Outcome) Valid() bool {
	return o == OutcomeYes || o == OutcomeNo
}

// Side identifies one of the two claim legs of a position.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// Valid reports whether s names a claim side.
func (s Side) Valid() bool {
	return s == SideYes || s == SideNo
}

// WinningSide returns the claim side paid out under outcome o.
func WinningSide(o Outcome) Side {
	if o == OutcomeYes {
		return SideYes
	}
	return SideNo
}

// Market holds the immutable parameters and mutable status/outcome of one
// binary prediction market. Status and outcome are mutated only through the
// registry and ledger; the resolved outcome is non-empty iff status is
// resolved.
type Market struct {
	ID              string          `json:"id" db:"id"`
	Question        string          `json:"question" db:"question"`
	Expiry          time.Time       `json:"expiry" db:"expiry"`
	OracleID        string          `json:"oracle_id" db:"oracle_id"`
	CollateralAsset string          `json:"collateral_asset" db:"collateral_asset"`
	Status          string          `json:"status" db:"status"`
	ResolvedOutcome Outcome         `json:"resolved_outcome" db:"resolved_outcome"`
	Creator         string          `json:"creator" db:"creator"`
	TotalCollateral decimal.Decimal `json:"total_collateral" db:"total_collateral"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// EffectiveStatus computes the market's status as of now. A stored-active
// market past its expiry reports expired without any storage mutation; the
// transition is persisted only as a side effect of resolution.
func (m *Market) EffectiveStatus(now time.Time) string {
	if m.Status == StatusActive && !now.Before(m.Expiry) {
		return StatusExpired
	}
	return m.Status
}

// Position is one account's claim balances in one market. Created lazily on
// first mint or transfer credit; a zero balance is a valid terminal state.
type Position struct {
	MarketID string          `json:"market_id" db:"market_id"`
	Account  string          `json:"account" db:"account"`
	ClaimYes decimal.Decimal `json:"claim_yes" db:"claim_yes"`
	ClaimNo  decimal.Decimal `json:"claim_no" db:"claim_no"`
}

// Balance returns the claim balance for one side.
func (p *Position) Balance(side Side) decimal.Decimal {
	if side == SideYes {
		return p.ClaimYes
	}
	return p.ClaimNo
}

// SetBalance overwrites the claim balance for one side.
func (p *Position) SetBalance(side Side, v decimal.Decimal) {
	if side == SideYes {
		p.ClaimYes = v
	} else {
		p.ClaimNo = v
	}
}

// Resolution is the write-once record of the oracle's outcome submission for
// a market. A second write attempt for the same market fails.
type Resolution struct {
	MarketID  string    `json:"market_id" db:"market_id"`
	Outcome   Outcome   `json:"outcome" db:"outcome"`
	OracleID  string    `json:"oracle_id" db:"oracle_id"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
	Signature string    `json:"signature" db:"signature"`
}
