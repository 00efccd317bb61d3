package venue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hypermarket/settlement-engine/internal/custody"
	"github.com/hypermarket/settlement-engine/internal/ledger"
	"github.com/hypermarket/settlement-engine/internal/model"
	"github.com/hypermarket/settlement-engine/internal/store"
	"github.com/hypermarket/settlement-engine/internal/venue"
)

const (
	seller = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	buyer  = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

func setup(t *testing.T) (*venue.Applier, *store.MemoryStore, string) {
	t.Helper()
	ms := store.NewMemoryStore()
	eng := ledger.NewEngine(ms, custody.NewVault(), nil)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	eng.SetClock(func() time.Time { return now })

	m := &model.Market{
		ID:              "m1",
		Question:        "q",
		Expiry:          now.Add(time.Hour),
		OracleID:        "0xcccccccccccccccccccccccccccccccccccccccc",
		CollateralAsset: "USDC",
		Status:          model.StatusActive,
		TotalCollateral: decimal.Zero,
		CreatedAt:       now,
	}
	if err := ms.CreateMarket(context.Background(), m); err != nil {
		t.Fatalf("seed market: %v", err)
	}

	if err := ms.AddCollateral(context.Background(), seller, "USDC", decimal.NewFromInt(100)); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if err := eng.Mint(context.Background(), ledger.MintRequest{
		MarketID: "m1", Account: seller, Amount: decimal.NewFromInt(100),
	}); err != nil {
		t.Fatalf("mint: %v", err)
	}

	return venue.NewApplier(eng), ms, "m1"
}

func TestApply_TransfersFilledSide(t *testing.T) {
	applier, ms, marketID := setup(t)

	fill := venue.Fill{
		FillID:   "f1",
		MarketID: marketID,
		From:     seller,
		To:       buyer,
		Side:     model.SideYes,
		Amount:   decimal.NewFromInt(25),
	}
	if err := applier.Apply(context.Background(), fill); err != nil {
		t.Fatalf("apply: %v", err)
	}

	got, _ := ms.GetPosition(context.Background(), marketID, buyer)
	if !got.ClaimYes.Equal(decimal.NewFromInt(25)) {
		t.Errorf("buyer YES = %s, want 25", got.ClaimYes)
	}
}

func TestApply_RedeliveredFillDroppedSilently(t *testing.T) {
	applier, ms, marketID := setup(t)

	fill := venue.Fill{
		FillID:   "f1",
		MarketID: marketID,
		From:     seller,
		To:       buyer,
		Side:     model.SideYes,
		Amount:   decimal.NewFromInt(25),
	}
	if err := applier.Apply(context.Background(), fill); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if err := applier.Apply(context.Background(), fill); err != nil {
		t.Fatalf("redelivery must be silent, got %v", err)
	}

	got, _ := ms.GetPosition(context.Background(), marketID, buyer)
	if !got.ClaimYes.Equal(decimal.NewFromInt(25)) {
		t.Errorf("buyer YES = %s, redelivery double-applied", got.ClaimYes)
	}
}

func TestApply_EmptyFillIDRejected(t *testing.T) {
	applier, ms, marketID := setup(t)

	// Two distinct fills without ids must not collapse onto one idempotency
	// key: neither may apply, and neither may be dropped as a redelivery.
	for _, amount := range []int64{10, 20} {
		err := applier.Apply(context.Background(), venue.Fill{
			MarketID: marketID,
			From:     seller,
			To:       buyer,
			Side:     model.SideYes,
			Amount:   decimal.NewFromInt(amount),
		})
		if !errors.Is(err, venue.ErrMissingFillID) {
			t.Fatalf("fill of %d: err = %v, want ErrMissingFillID", amount, err)
		}
	}

	got, _ := ms.GetPosition(context.Background(), marketID, buyer)
	if !got.ClaimYes.IsZero() {
		t.Errorf("buyer YES = %s, want 0 after rejected fills", got.ClaimYes)
	}
}

func TestApply_InsufficientBalanceSurfaced(t *testing.T) {
	applier, _, marketID := setup(t)

	fill := venue.Fill{
		FillID:   "f2",
		MarketID: marketID,
		From:     seller,
		To:       buyer,
		Side:     model.SideNo,
		Amount:   decimal.NewFromInt(500),
	}
	err := applier.Apply(context.Background(), fill)
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
}

func TestMockVenue_RestingOrdersAggregateIntoBook(t *testing.T) {
	mv := venue.NewMockVenue()
	ctx := context.Background()

	orders := []venue.Order{
		{MarketID: "m1", Account: seller, Side: model.SideYes, Price: decimal.NewFromFloat(0.6), Size: decimal.NewFromInt(10)},
		{MarketID: "m1", Account: seller, Side: model.SideYes, Price: decimal.NewFromFloat(0.6), Size: decimal.NewFromInt(5)},
		{MarketID: "m1", Account: buyer, Side: model.SideYes, Price: decimal.NewFromFloat(0.4), Size: decimal.NewFromInt(8)},
	}
	for _, o := range orders {
		if _, err := mv.PlaceOrder(ctx, o); err != nil {
			t.Fatalf("place: %v", err)
		}
	}

	book, err := mv.OrderBook(ctx, "m1", model.SideYes)
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	total := decimal.Zero
	for _, lvl := range append(book.Bids, book.Asks...) {
		total = total.Add(lvl.Size)
	}
	if !total.Equal(decimal.NewFromInt(23)) {
		t.Errorf("book size = %s, want 23", total)
	}
}
