// Package ledger implements the outcome token engine and settlement logic:
// minting claim pairs against collateral, burning them back, applying venue
// fills as transfers, gating oracle resolution, and paying out redemptions.
//
// Every market obeys the conservation law: one collateral unit in custody
// per outstanding claim pair. Before resolution the sum of all YES balances
// equals the sum of all NO balances equals the collateral in custody; after
// resolution the winning side redeems 1:1 until custody is empty.
//
// All monetary values use shopspring/decimal — never float64 for money.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hypermarket/settlement-engine/internal/custody"
	"github.com/hypermarket/settlement-engine/internal/events"
	"github.com/hypermarket/settlement-engine/internal/metrics"
	"github.com/hypermarket/settlement-engine/internal/model"
	"github.com/hypermarket/settlement-engine/internal/oracle"
	"github.com/hypermarket/settlement-engine/internal/store"
)

// Engine executes ledger-mutating operations under one lock per market.
// Signature and proof verification happen before any lock is taken; the
// custody collaborator is called before ledger writes so an external
// failure aborts with no state change.
type Engine struct {
	store   store.Store
	custody custody.Custody
	emitter events.Emitter
	locks   *lockTable
	now     func() time.Time
}

// NewEngine creates a ledger engine. Pass nil emitter to discard events.
func NewEngine(st store.Store, cust custody.Custody, emitter events.Emitter) *Engine {
	if emitter == nil {
		emitter = events.Discard{}
	}
	return &Engine{
		store:   st,
		custody: cust,
		emitter: emitter,
		locks:   newLockTable(),
		now:     time.Now,
	}
}

// SetClock replaces the engine's time source. Test hook.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// --- Mint ---

// MintRequest deposits collateral and mints an equal quantity of YES and NO
// claims. IdempotencyKey is optional; a replayed key fails with
// ErrDuplicateRequest instead of double-applying.
type MintRequest struct {
	MarketID       string          `json:"market_id"`
	Account        string          `json:"account"`
	Amount         decimal.Decimal `json:"amount"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// Mint debits the account's free collateral, moves it into custody, and
// credits both claim balances by the same amount. Permitted only while the
// market is Active (re-derived at call time, not stale).
func (e *Engine) Mint(ctx context.Context, req MintRequest) error {
	if !req.Amount.IsPositive() {
		return ErrInvalidAmount
	}

	lock := e.locks.get(req.MarketID)
	lock.Lock()
	defer lock.Unlock()

	m, err := e.store.GetMarket(ctx, req.MarketID)
	if err != nil {
		return err
	}
	if m.EffectiveStatus(e.now()) != model.StatusActive {
		metrics.RejectedOps.WithLabelValues("mint", "invalid_state").Inc()
		return ErrMarketNotActive
	}

	if err := e.claimKey(ctx, req.IdempotencyKey); err != nil {
		return err
	}

	// External transfer first: a custody failure must leave the ledger
	// untouched.
	if err := e.custody.Deposit(ctx, req.Account, m.CollateralAsset, req.Amount); err != nil {
		metrics.RejectedOps.WithLabelValues("mint", "external_transfer").Inc()
		return fmt.Errorf("%w: %v", ErrExternalTransfer, err)
	}

	err = e.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.AddCollateral(ctx, req.Account, m.CollateralAsset, req.Amount.Neg()); err != nil {
			if errors.Is(err, store.ErrNegativeBalance) {
				return ErrInsufficientCollateral
			}
			return err
		}
		pos, err := tx.GetPosition(ctx, req.MarketID, req.Account)
		if err != nil {
			return err
		}
		pos.ClaimYes = pos.ClaimYes.Add(req.Amount)
		pos.ClaimNo = pos.ClaimNo.Add(req.Amount)
		if err := tx.PutPosition(ctx, pos); err != nil {
			return err
		}
		return tx.AddMarketCollateral(ctx, req.MarketID, req.Amount)
	})
	if err != nil {
		// Undo the deposit so custody matches the unchanged ledger.
		if werr := e.custody.Withdraw(ctx, req.Account, m.CollateralAsset, req.Amount); werr != nil {
			slog.Error("mint compensation failed, custody and ledger diverged",
				"market", req.MarketID, "account", req.Account,
				"amount", req.Amount.String(), "err", werr)
		}
		return err
	}

	metrics.MintsTotal.Inc()
	e.gaugeCustody(ctx, req.MarketID)

	slog.Info("tokens minted",
		"market", req.MarketID,
		"account", req.Account,
		"amount", req.Amount.String(),
	)

	now := e.now().UTC()
	e.emitter.Emit(events.Event{
		ID: uuid.New().String(), Type: events.TypeCollateralDeposited,
		MarketID: req.MarketID, Account: req.Account,
		Amount: req.Amount, Timestamp: now,
	})
	e.emitter.Emit(events.Event{
		ID: uuid.New().String(), Type: events.TypeTokensMinted,
		MarketID: req.MarketID, Account: req.Account,
		Amount: req.Amount, Timestamp: now,
	})
	return nil
}

// --- Burn ---

// BurnRequest destroys an equal quantity of both claims and returns the
// backing collateral. The inverse of minting, valid before resolution.
type BurnRequest struct {
	MarketID       string          `json:"market_id"`
	Account        string          `json:"account"`
	Amount         decimal.Decimal `json:"amount"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// Burn decrements both claim balances by amount, withdraws the collateral
// from custody, and credits the account. Permitted in Active and Expired
// status; rejected once resolved (claim values have diverged — redeem
// instead).
func (e *Engine) Burn(ctx context.Context, req BurnRequest) error {
	if !req.Amount.IsPositive() {
		return ErrInvalidAmount
	}

	lock := e.locks.get(req.MarketID)
	lock.Lock()
	defer lock.Unlock()

	m, err := e.store.GetMarket(ctx, req.MarketID)
	if err != nil {
		return err
	}
	if m.EffectiveStatus(e.now()) == model.StatusResolved {
		metrics.RejectedOps.WithLabelValues("burn", "invalid_state").Inc()
		return ErrMarketResolved
	}

	pos, err := e.store.GetPosition(ctx, req.MarketID, req.Account)
	if err != nil {
		return err
	}
	if pos.ClaimYes.LessThan(req.Amount) || pos.ClaimNo.LessThan(req.Amount) {
		metrics.RejectedOps.WithLabelValues("burn", "insufficient_balance").Inc()
		return ErrInsufficientBalance
	}

	if err := e.claimKey(ctx, req.IdempotencyKey); err != nil {
		return err
	}

	if err := e.custody.Withdraw(ctx, req.Account, m.CollateralAsset, req.Amount); err != nil {
		metrics.RejectedOps.WithLabelValues("burn", "external_transfer").Inc()
		return fmt.Errorf("%w: %v", ErrExternalTransfer, err)
	}

	err = e.store.WithTx(ctx, func(tx store.Store) error {
		pos.ClaimYes = pos.ClaimYes.Sub(req.Amount)
		pos.ClaimNo = pos.ClaimNo.Sub(req.Amount)
		if err := tx.PutPosition(ctx, pos); err != nil {
			return err
		}
		if err := tx.AddMarketCollateral(ctx, req.MarketID, req.Amount.Neg()); err != nil {
			return err
		}
		return tx.AddCollateral(ctx, req.Account, m.CollateralAsset, req.Amount)
	})
	if err != nil {
		if derr := e.custody.Deposit(ctx, req.Account, m.CollateralAsset, req.Amount); derr != nil {
			slog.Error("burn compensation failed, custody and ledger diverged",
				"market", req.MarketID, "account", req.Account,
				"amount", req.Amount.String(), "err", derr)
		}
		return err
	}

	metrics.BurnsTotal.Inc()
	e.gaugeCustody(ctx, req.MarketID)

	slog.Info("tokens burned",
		"market", req.MarketID,
		"account", req.Account,
		"amount", req.Amount.String(),
	)

	now := e.now().UTC()
	e.emitter.Emit(events.Event{
		ID: uuid.New().String(), Type: events.TypeTokensBurned,
		MarketID: req.MarketID, Account: req.Account,
		Amount: req.Amount, Timestamp: now,
	})
	e.emitter.Emit(events.Event{
		ID: uuid.New().String(), Type: events.TypeCollateralWithdrawn,
		MarketID: req.MarketID, Account: req.Account,
		Amount: req.Amount, Timestamp: now,
	})
	return nil
}

// --- Transfer ---

// TransferRequest moves one side's claim balance between accounts. This is
// how fills executed on the external venue reach the ledger; the engine
// trusts the fill and does not validate price or matching.
type TransferRequest struct {
	MarketID       string          `json:"market_id"`
	From           string          `json:"from"`
	To             string          `json:"to"`
	Side           model.Side      `json:"side"`
	Amount         decimal.Decimal `json:"amount"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// Transfer is permitted in any market status: trading a claim whose value
// is undetermined, or fully determined, are both legitimate.
func (e *Engine) Transfer(ctx context.Context, req TransferRequest) error {
	if !req.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !req.Side.Valid() {
		return ErrInvalidSide
	}

	lock := e.locks.get(req.MarketID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := e.store.GetMarket(ctx, req.MarketID); err != nil {
		return err
	}

	if err := e.claimKey(ctx, req.IdempotencyKey); err != nil {
		return err
	}

	err := e.store.WithTx(ctx, func(tx store.Store) error {
		from, err := tx.GetPosition(ctx, req.MarketID, req.From)
		if err != nil {
			return err
		}
		if from.Balance(req.Side).LessThan(req.Amount) {
			metrics.RejectedOps.WithLabelValues("transfer", "insufficient_balance").Inc()
			return ErrInsufficientBalance
		}
		to, err := tx.GetPosition(ctx, req.MarketID, req.To)
		if err != nil {
			return err
		}
		from.SetBalance(req.Side, from.Balance(req.Side).Sub(req.Amount))
		to.SetBalance(req.Side, to.Balance(req.Side).Add(req.Amount))
		if err := tx.PutPosition(ctx, from); err != nil {
			return err
		}
		return tx.PutPosition(ctx, to)
	})
	if err != nil {
		return err
	}

	metrics.TransfersTotal.WithLabelValues(string(req.Side)).Inc()

	slog.Info("claims transferred",
		"market", req.MarketID,
		"from", req.From,
		"to", req.To,
		"side", string(req.Side),
		"amount", req.Amount.String(),
	)

	e.emitter.Emit(events.Event{
		ID: uuid.New().String(), Type: events.TypeTokensTransferred,
		MarketID: req.MarketID, From: req.From, To: req.To,
		Side: req.Side, Amount: req.Amount, Timestamp: e.now().UTC(),
	})
	return nil
}

// --- Resolve ---

// Resolve records the oracle's outcome and flips the market to Resolved,
// exactly once. The submission proof is verified before the market lock is
// taken. A retried identical call after success fails with ErrAlreadyResolved
// so callers can detect duplicate submissions.
func (e *Engine) Resolve(ctx context.Context, sub oracle.Submission) error {
	if !sub.Outcome.Valid() {
		return ErrInvalidOutcome
	}
	if err := sub.Verify(); err != nil {
		metrics.RejectedOps.WithLabelValues("resolve", "unauthorized").Inc()
		return fmt.Errorf("%w: %v", ErrUnauthorizedOracle, err)
	}

	lock := e.locks.get(sub.MarketID)
	lock.Lock()
	defer lock.Unlock()

	m, err := e.store.GetMarket(ctx, sub.MarketID)
	if err != nil {
		return err
	}
	switch m.EffectiveStatus(e.now()) {
	case model.StatusResolved:
		return ErrAlreadyResolved
	case model.StatusActive:
		metrics.RejectedOps.WithLabelValues("resolve", "not_expired").Inc()
		return ErrNotYetExpired
	}
	if !strings.EqualFold(sub.OracleID, m.OracleID) {
		metrics.RejectedOps.WithLabelValues("resolve", "unauthorized").Inc()
		return ErrUnauthorizedOracle
	}

	err = e.store.WithTx(ctx, func(tx store.Store) error {
		rec := &model.Resolution{
			MarketID:  sub.MarketID,
			Outcome:   sub.Outcome,
			OracleID:  strings.ToLower(sub.OracleID),
			Timestamp: sub.Timestamp.UTC(),
			Signature: sub.Signature,
		}
		if err := tx.InsertResolution(ctx, rec); err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				return ErrAlreadyResolved
			}
			return err
		}
		return tx.SetMarketResolved(ctx, sub.MarketID, sub.Outcome)
	})
	if err != nil {
		return err
	}

	metrics.ResolutionsTotal.WithLabelValues(string(sub.Outcome)).Inc()

	slog.Info("market resolved",
		"market", sub.MarketID,
		"outcome", string(sub.Outcome),
		"oracle", sub.OracleID,
	)

	e.emitter.Emit(events.Event{
		ID: uuid.New().String(), Type: events.TypeMarketResolved,
		MarketID: sub.MarketID, Account: strings.ToLower(sub.OracleID),
		Outcome: sub.Outcome, Timestamp: e.now().UTC(),
	})
	return nil
}

// --- Redeem ---

// Redeem converts the account's winning claims to collateral 1:1 and its
// losing claims to nothing, zeroing both balances. Idempotent by design:
// a second call finds zero balances and returns zero paid with no error,
// since redemption is the operation most likely to be retried after a
// timeout.
func (e *Engine) Redeem(ctx context.Context, marketID, account string) (decimal.Decimal, error) {
	lock := e.locks.get(marketID)
	lock.Lock()
	defer lock.Unlock()

	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return decimal.Zero, err
	}
	if m.EffectiveStatus(e.now()) != model.StatusResolved {
		metrics.RejectedOps.WithLabelValues("redeem", "invalid_state").Inc()
		return decimal.Zero, ErrMarketNotResolved
	}

	pos, err := e.store.GetPosition(ctx, marketID, account)
	if err != nil {
		return decimal.Zero, err
	}

	payout := pos.Balance(model.WinningSide(m.ResolvedOutcome))
	if pos.ClaimYes.IsZero() && pos.ClaimNo.IsZero() {
		return decimal.Zero, nil
	}

	if payout.IsPositive() {
		if err := e.custody.Withdraw(ctx, account, m.CollateralAsset, payout); err != nil {
			metrics.RejectedOps.WithLabelValues("redeem", "external_transfer").Inc()
			return decimal.Zero, fmt.Errorf("%w: %v", ErrExternalTransfer, err)
		}
	}

	err = e.store.WithTx(ctx, func(tx store.Store) error {
		pos.ClaimYes = decimal.Zero
		pos.ClaimNo = decimal.Zero
		if err := tx.PutPosition(ctx, pos); err != nil {
			return err
		}
		if payout.IsPositive() {
			if err := tx.AddMarketCollateral(ctx, marketID, payout.Neg()); err != nil {
				return err
			}
			return tx.AddCollateral(ctx, account, m.CollateralAsset, payout)
		}
		return nil
	})
	if err != nil {
		if payout.IsPositive() {
			if derr := e.custody.Deposit(ctx, account, m.CollateralAsset, payout); derr != nil {
				slog.Error("redeem compensation failed, custody and ledger diverged",
					"market", marketID, "account", account,
					"amount", payout.String(), "err", derr)
			}
		}
		return decimal.Zero, err
	}

	if payout.IsPositive() {
		metrics.RedemptionsTotal.Inc()
	}
	e.gaugeCustody(ctx, marketID)

	slog.Info("winnings claimed",
		"market", marketID,
		"account", account,
		"paid", payout.String(),
	)

	e.emitter.Emit(events.Event{
		ID: uuid.New().String(), Type: events.TypeWinningsClaimed,
		MarketID: marketID, Account: account,
		Amount: payout, Timestamp: e.now().UTC(),
	})
	return payout, nil
}

// --- Invariant check ---

// CheckConservation verifies the market's conservation law against stored
// balances: before resolution the YES and NO claim sums must each equal the
// collateral in custody; after resolution the winning-side sum must.
func (e *Engine) CheckConservation(ctx context.Context, marketID string) error {
	lock := e.locks.get(marketID)
	lock.Lock()
	defer lock.Unlock()

	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return err
	}
	positions, err := e.store.ListPositionsByMarket(ctx, marketID)
	if err != nil {
		return err
	}

	sumYes, sumNo := decimal.Zero, decimal.Zero
	for _, p := range positions {
		if p.ClaimYes.IsNegative() || p.ClaimNo.IsNegative() {
			return fmt.Errorf("%w: negative balance for %s", ErrConservation, p.Account)
		}
		sumYes = sumYes.Add(p.ClaimYes)
		sumNo = sumNo.Add(p.ClaimNo)
	}

	if m.Status == model.StatusResolved {
		winning := sumYes
		if m.ResolvedOutcome == model.OutcomeNo {
			winning = sumNo
		}
		if !winning.Equal(m.TotalCollateral) {
			return fmt.Errorf("%w: winning claims %s != custody %s",
				ErrConservation, winning, m.TotalCollateral)
		}
		return nil
	}

	if !sumYes.Equal(m.TotalCollateral) || !sumNo.Equal(m.TotalCollateral) {
		return fmt.Errorf("%w: yes %s / no %s != custody %s",
			ErrConservation, sumYes, sumNo, m.TotalCollateral)
	}
	return nil
}

// --- Helpers ---

// claimKey claims an optional idempotency key; empty keys pass through.
func (e *Engine) claimKey(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	ok, err := e.store.ClaimIdempotencyKey(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return ErrDuplicateRequest
	}
	return nil
}

func (e *Engine) gaugeCustody(ctx context.Context, marketID string) {
	if m, err := e.store.GetMarket(ctx, marketID); err == nil {
		f, _ := m.TotalCollateral.Float64()
		metrics.CollateralInCustody.WithLabelValues(marketID).Set(f)
	}
}
