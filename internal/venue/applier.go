package venue

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hypermarket/settlement-engine/internal/ledger"
)

// ErrMissingFillID is returned for a fill without an id. The id doubles as
// the idempotency key, so an empty one would make distinct fills collide.
var ErrMissingFillID = errors.New("venue: fill id must not be empty")

// Applier turns venue fills into ledger transfers.
type Applier struct {
	engine *ledger.Engine
}

// NewApplier creates an Applier over the given ledger engine.
func NewApplier(engine *ledger.Engine) *Applier {
	return &Applier{engine: engine}
}

// Apply moves the filled side's balance from seller to buyer. Redelivered
// fills (same FillID) are dropped silently; any other ledger rejection is
// returned to the caller for the venue's reconciliation.
func (a *Applier) Apply(ctx context.Context, f Fill) error {
	if f.FillID == "" {
		return ErrMissingFillID
	}
	err := a.engine.Transfer(ctx, ledger.TransferRequest{
		MarketID:       f.MarketID,
		From:           f.From,
		To:             f.To,
		Side:           f.Side,
		Amount:         f.Amount,
		IdempotencyKey: "fill:" + f.FillID,
	})
	if errors.Is(err, ledger.ErrDuplicateRequest) {
		slog.Debug("duplicate fill dropped", "fill_id", f.FillID)
		return nil
	}
	return err
}
