package venue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hypermarket/settlement-engine/internal/model"
)

// MockVenue is an in-memory Venue for development and tests. Orders rest
// unmatched; the book snapshot aggregates them per price level. Orders carry
// no buy/sell direction, so all resting size reports as asks and Bids stays
// empty; a real venue adapter maps its own book sides.
type MockVenue struct {
	mu     sync.Mutex
	orders map[string][]Order // marketID → resting orders
}

// NewMockVenue creates an empty mock venue.
func NewMockVenue() *MockVenue {
	return &MockVenue{orders: make(map[string][]Order)}
}

func (v *MockVenue) PlaceOrder(_ context.Context, o Order) (*Order, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	o.ID = uuid.New().String()
	o.Timestamp = time.Now().UTC()
	v.orders[o.MarketID] = append(v.orders[o.MarketID], o)
	return &o, nil
}

func (v *MockVenue) OrderBook(_ context.Context, marketID string, side model.Side) (*Book, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	levels := make(map[string]decimal.Decimal)
	for _, o := range v.orders[marketID] {
		if o.Side != side {
			continue
		}
		key := o.Price.String()
		levels[key] = levels[key].Add(o.Size)
	}

	book := &Book{
		MarketID:  marketID,
		Side:      side,
		Timestamp: time.Now().UTC(),
	}
	for price, size := range levels {
		p, _ := decimal.NewFromString(price)
		book.Asks = append(book.Asks, BookLevel{Price: p, Size: size})
	}
	return book, nil
}
