// Package events defines the state-change notifications emitted for external
// indexing. Events are the only channel through which the indexer/UI layer
// learns of ledger changes; the engine never calls into them directly.
// Emission is post-commit and best-effort — it never blocks or fails a
// ledger operation.
package events

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/hypermarket/settlement-engine/internal/model"
)

// Event types.
const (
	TypeMarketCreated       = "MarketCreated"
	TypeTokensMinted        = "TokensMinted"
	TypeTokensBurned        = "TokensBurned"
	TypeTokensTransferred   = "TokensTransferred"
	TypeMarketResolved      = "MarketResolved"
	TypeWinningsClaimed     = "WinningsClaimed"
	TypeCollateralDeposited = "CollateralDeposited"
	TypeCollateralWithdrawn = "CollateralWithdrawn"
	TypeOracleAdded         = "OracleAdded"
)

// Event is a single state-change notification. String fields not relevant
// to a given type are omitted from the JSON encoding; amount is always
// present and reads "0" for non-monetary events.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	MarketID  string          `json:"market_id,omitempty"`
	Account   string          `json:"account,omitempty"`
	From      string          `json:"from,omitempty"`
	To        string          `json:"to,omitempty"`
	Side      model.Side      `json:"side,omitempty"`
	Outcome   model.Outcome   `json:"outcome,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
}

// Emitter receives events after the corresponding state change commits.
type Emitter interface {
	Emit(ev Event)
}

// Multi fans one event out to several emitters.
type Multi []Emitter

func (m Multi) Emit(ev Event) {
	for _, e := range m {
		e.Emit(ev)
	}
}

// Discard drops all events. Used where no emitter is configured.
type Discard struct{}

func (Discard) Emit(Event) {}
