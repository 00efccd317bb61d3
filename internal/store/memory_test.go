package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hypermarket/settlement-engine/internal/model"
	"github.com/hypermarket/settlement-engine/internal/store"
)

func seedMarket(t *testing.T, ms *store.MemoryStore, id string) *model.Market {
	t.Helper()
	m := &model.Market{
		ID:              id,
		Question:        "test question",
		Expiry:          time.Now().Add(time.Hour),
		OracleID:        "0xcccccccccccccccccccccccccccccccccccccccc",
		CollateralAsset: "USDC",
		Status:          model.StatusActive,
		TotalCollateral: decimal.Zero,
		CreatedAt:       time.Now().UTC(),
	}
	if err := ms.CreateMarket(context.Background(), m); err != nil {
		t.Fatalf("seed market: %v", err)
	}
	return m
}

func TestCreateMarket_DuplicateID(t *testing.T) {
	ms := store.NewMemoryStore()
	seedMarket(t, ms, "m1")

	err := ms.CreateMarket(context.Background(), &model.Market{ID: "m1"})
	if !errors.Is(err, store.ErrAlreadyExists) {
		t.Fatalf("err = %v, want ErrAlreadyExists", err)
	}
}

func TestGetMarket_ReturnsCopy(t *testing.T) {
	ms := store.NewMemoryStore()
	seedMarket(t, ms, "m1")
	ctx := context.Background()

	a, err := ms.GetMarket(ctx, "m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	a.Status = model.StatusResolved

	b, _ := ms.GetMarket(ctx, "m1")
	if b.Status != model.StatusActive {
		t.Error("mutating a returned market leaked into the store")
	}
}

func TestGetPosition_ZeroWhenAbsent(t *testing.T) {
	ms := store.NewMemoryStore()

	pos, err := ms.GetPosition(context.Background(), "m1", "0xabc")
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if !pos.ClaimYes.IsZero() || !pos.ClaimNo.IsZero() {
		t.Errorf("absent position = %s/%s, want zeroes", pos.ClaimYes, pos.ClaimNo)
	}
}

func TestInsertResolution_WriteOnce(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	rec := &model.Resolution{
		MarketID:  "m1",
		Outcome:   model.OutcomeYes,
		OracleID:  "0xccc",
		Timestamp: time.Now().UTC(),
	}
	if err := ms.InsertResolution(ctx, rec); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	again := *rec
	again.Outcome = model.OutcomeNo
	err := ms.InsertResolution(ctx, &again)
	if !errors.Is(err, store.ErrAlreadyExists) {
		t.Fatalf("second insert err = %v, want ErrAlreadyExists", err)
	}

	stored, err := ms.GetResolution(ctx, "m1")
	if err != nil {
		t.Fatalf("get resolution: %v", err)
	}
	if stored.Outcome != model.OutcomeYes {
		t.Errorf("stored outcome = %s, first write must win", stored.Outcome)
	}
}

func TestAddCollateral_NegativeGuard(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	if err := ms.AddCollateral(ctx, "0xabc", "USDC", decimal.NewFromInt(50)); err != nil {
		t.Fatalf("credit: %v", err)
	}

	err := ms.AddCollateral(ctx, "0xabc", "USDC", decimal.NewFromInt(-80))
	if !errors.Is(err, store.ErrNegativeBalance) {
		t.Fatalf("overdraw err = %v, want ErrNegativeBalance", err)
	}

	bal, _ := ms.GetCollateral(ctx, "0xabc", "USDC")
	if !bal.Equal(decimal.NewFromInt(50)) {
		t.Errorf("balance = %s, failed debit must not apply", bal)
	}
}

func TestAddCollateral_PerAssetIsolation(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	if err := ms.AddCollateral(ctx, "0xabc", "USDC", decimal.NewFromInt(10)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	bal, err := ms.GetCollateral(ctx, "0xabc", "DAI")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bal.IsZero() {
		t.Errorf("DAI balance = %s, want 0", bal)
	}
}

func TestClaimIdempotencyKey(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	ok, err := ms.ClaimIdempotencyKey(ctx, "k1")
	if err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}
	ok, err = ms.ClaimIdempotencyKey(ctx, "k1")
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if ok {
		t.Error("key claimed twice")
	}
}

func TestAddMarketCollateral(t *testing.T) {
	ms := store.NewMemoryStore()
	seedMarket(t, ms, "m1")
	ctx := context.Background()

	if err := ms.AddMarketCollateral(ctx, "m1", decimal.NewFromInt(75)); err != nil {
		t.Fatalf("add: %v", err)
	}
	m, _ := ms.GetMarket(ctx, "m1")
	if !m.TotalCollateral.Equal(decimal.NewFromInt(75)) {
		t.Errorf("custody = %s, want 75", m.TotalCollateral)
	}

	if err := ms.AddMarketCollateral(ctx, "missing", decimal.NewFromInt(1)); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing market err = %v, want ErrNotFound", err)
	}
}

func TestListPositionsByMarket(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	for _, acct := range []string{"0xaaa", "0xbbb"} {
		pos := &model.Position{MarketID: "m1", Account: acct,
			ClaimYes: decimal.NewFromInt(1), ClaimNo: decimal.NewFromInt(1)}
		if err := ms.PutPosition(ctx, pos); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	other := &model.Position{MarketID: "m2", Account: "0xaaa",
		ClaimYes: decimal.NewFromInt(5), ClaimNo: decimal.Zero}
	if err := ms.PutPosition(ctx, other); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := ms.ListPositionsByMarket(ctx, "m1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("count = %d, want 2", len(got))
	}
}

func TestSetMarketResolved(t *testing.T) {
	ms := store.NewMemoryStore()
	seedMarket(t, ms, "m1")
	ctx := context.Background()

	if err := ms.SetMarketResolved(ctx, "m1", model.OutcomeNo); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	m, _ := ms.GetMarket(ctx, "m1")
	if m.Status != model.StatusResolved || m.ResolvedOutcome != model.OutcomeNo {
		t.Errorf("market = %s/%s, want resolved/NO", m.Status, m.ResolvedOutcome)
	}
}
