// Package venue defines the external order-matching collaborator. The engine
// never matches orders itself: it places orders and reads book snapshots
// through the Venue interface, and applies the venue's fill notifications to
// the ledger as claim transfers, trusting price and matching correctness to
// the venue.
package venue

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hypermarket/settlement-engine/internal/model"
)

// Order is a resting order on the external venue.
type Order struct {
	ID        string          `json:"id"`
	MarketID  string          `json:"market_id"`
	Account   string          `json:"account"`
	Side      model.Side      `json:"side"`
	Price     decimal.Decimal `json:"price"` // collateral units per claim, 0..1
	Size      decimal.Decimal `json:"size"`
	Timestamp time.Time       `json:"timestamp"`
}

// BookLevel is one aggregated price level of an order book side.
type BookLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// Book is a point-in-time order book snapshot for one market side.
type Book struct {
	MarketID  string      `json:"market_id"`
	Side      model.Side  `json:"side"`
	Bids      []BookLevel `json:"bids"`
	Asks      []BookLevel `json:"asks"`
	Timestamp time.Time   `json:"timestamp"`
}

// Venue is the interface to the external matching engine. Consumed only;
// never implemented by the settlement core.
type Venue interface {
	// PlaceOrder submits an order for matching.
	PlaceOrder(ctx context.Context, o Order) (*Order, error)

	// OrderBook returns the current book snapshot for a market side.
	OrderBook(ctx context.Context, marketID string, side model.Side) (*Book, error)
}

// Fill is a matched-trade notification from the venue. FillID doubles as the
// idempotency key so a redelivered fill is applied at most once.
type Fill struct {
	FillID   string          `json:"fill_id"`
	MarketID string          `json:"market_id"`
	From     string          `json:"from"`
	To       string          `json:"to"`
	Side     model.Side      `json:"side"`
	Amount   decimal.Decimal `json:"amount"`
}
