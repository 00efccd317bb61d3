// Package api provides the HTTP handlers for market creation, minting,
// burning, fills, resolution, redemption, and ledger queries.
//
// Every mutating route takes a signed envelope: the caller signs the exact
// payload bytes together with its account, timestamp, and nonce, and the
// signature is verified before any ledger effect.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/hypermarket/settlement-engine/internal/auth"
	"github.com/hypermarket/settlement-engine/internal/ledger"
	"github.com/hypermarket/settlement-engine/internal/model"
	"github.com/hypermarket/settlement-engine/internal/oracle"
	"github.com/hypermarket/settlement-engine/internal/registry"
	"github.com/hypermarket/settlement-engine/internal/store"
	"github.com/hypermarket/settlement-engine/internal/venue"
)

// maxClockSkew bounds how stale a signed envelope's timestamp may be.
const maxClockSkew = 5 * time.Minute

// Service handles settlement API requests.
type Service struct {
	registry *registry.Registry
	engine   *ledger.Engine
	applier  *venue.Applier
	store    store.Store
	now      func() time.Time
}

// NewService creates the API service.
func NewService(reg *registry.Registry, eng *ledger.Engine, st store.Store) *Service {
	return &Service{
		registry: reg,
		engine:   eng,
		applier:  venue.NewApplier(eng),
		store:    st,
		now:      time.Now,
	}
}

// SetClock replaces the service's time source. Test hook.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Routes mounts all API routes on r.
func (s *Service) Routes(r chi.Router) {
	r.Get("/markets", s.ListMarkets)
	r.Post("/markets", s.CreateMarket)
	r.Get("/markets/{marketID}", s.GetMarket)
	r.Get("/markets/{marketID}/status", s.GetStatus)
	r.Get("/markets/{marketID}/resolution", s.GetResolution)
	r.Get("/markets/{marketID}/positions/{account}", s.GetPosition)

	r.Post("/markets/{marketID}/mint", s.Mint)
	r.Post("/markets/{marketID}/burn", s.Burn)
	r.Post("/markets/{marketID}/redeem", s.Redeem)
	r.Post("/markets/{marketID}/transfer", s.Transfer)
	r.Post("/markets/{marketID}/resolve", s.Resolve)

	r.Post("/fills", s.ApplyFill)

	r.Post("/oracles", s.AddOracle)

	r.Get("/accounts/{account}/collateral", s.GetCollateral)
	r.Post("/accounts/deposit", s.DepositCollateral)
	r.Post("/accounts/withdraw", s.WithdrawCollateral)
}

// SignedRequest is the envelope for mutating calls. The signature covers
// account, timestamp, nonce, and the exact payload bytes.
type SignedRequest struct {
	Account   string          `json:"account"`
	Timestamp int64           `json:"timestamp"`
	Nonce     string          `json:"nonce"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// SigningBytes returns the canonical byte string the envelope signature
// must cover.
func (sr *SignedRequest) SigningBytes() []byte {
	return []byte(fmt.Sprintf("%s:%d:%s:%s",
		strings.ToLower(sr.Account), sr.Timestamp, sr.Nonce, sr.Payload))
}

// SignEnvelope builds a signed envelope around payload. Client/test helper.
func SignEnvelope(signer *auth.Signer, payload any, at time.Time, nonce string) (*SignedRequest, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	sr := &SignedRequest{
		Account:   signer.Address(),
		Timestamp: at.Unix(),
		Nonce:     nonce,
		Payload:   raw,
	}
	sig, err := signer.Sign(sr.SigningBytes())
	if err != nil {
		return nil, err
	}
	sr.Signature = sig
	return sr, nil
}

// decodeSigned reads a signed envelope, verifies its signature and
// freshness, and unmarshals the payload into dst. Returns the verified
// account (lowercased) or writes an error response and returns "".
func (s *Service) decodeSigned(w http.ResponseWriter, r *http.Request, dst any) string {
	var sr SignedRequest
	if err := json.NewDecoder(r.Body).Decode(&sr); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return ""
	}
	if !auth.ValidAddress(sr.Account) {
		writeError(w, "invalid account address", http.StatusBadRequest)
		return ""
	}

	age := s.now().Sub(time.Unix(sr.Timestamp, 0))
	if age > maxClockSkew || age < -maxClockSkew {
		writeError(w, "request timestamp outside allowed window", http.StatusUnauthorized)
		return ""
	}

	if err := auth.Verify(sr.SigningBytes(), sr.Signature, sr.Account); err != nil {
		writeError(w, "signature verification failed", http.StatusUnauthorized)
		return ""
	}

	if dst != nil {
		if err := json.Unmarshal(sr.Payload, dst); err != nil {
			writeError(w, "invalid payload", http.StatusBadRequest)
			return ""
		}
	}
	return strings.ToLower(sr.Account)
}

// --- Market management ---

// CreateMarketPayload is the signed payload for POST /markets.
type CreateMarketPayload struct {
	Question        string    `json:"question"`
	Expiry          time.Time `json:"expiry"`
	OracleID        string    `json:"oracle_id"`
	CollateralAsset string    `json:"collateral_asset"`
}

// CreateMarket handles POST /api/v1/markets.
func (s *Service) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var p CreateMarketPayload
	account := s.decodeSigned(w, r, &p)
	if account == "" {
		return
	}

	market, err := s.registry.CreateMarket(r.Context(), registry.CreateParams{
		Question:        p.Question,
		Expiry:          p.Expiry,
		OracleID:        p.OracleID,
		CollateralAsset: p.CollateralAsset,
		Creator:         account,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, market)
}

// GetMarket handles GET /api/v1/markets/{marketID}.
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	market, err := s.registry.GetMarket(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, market)
}

// GetStatus handles GET /api/v1/markets/{marketID}/status.
func (s *Service) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.registry.Status(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

// ListMarkets handles GET /api/v1/markets, optionally filtered by ?status=.
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.registry.ListMarkets(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if markets == nil {
		markets = []model.Market{}
	}
	writeJSON(w, http.StatusOK, markets)
}

// GetResolution handles GET /api/v1/markets/{marketID}/resolution.
func (s *Service) GetResolution(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetResolution(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// AddOraclePayload is the signed payload for POST /oracles. The envelope
// must be signed by the oracle key itself, proving control of the address.
type AddOraclePayload struct {
	Address string `json:"address"`
}

// AddOracle handles POST /api/v1/oracles.
func (s *Service) AddOracle(w http.ResponseWriter, r *http.Request) {
	var p AddOraclePayload
	account := s.decodeSigned(w, r, &p)
	if account == "" {
		return
	}
	if !strings.EqualFold(account, p.Address) {
		writeError(w, "oracle registration must be signed by the oracle key", http.StatusForbidden)
		return
	}
	if err := s.registry.AddOracle(r.Context(), p.Address); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"address": strings.ToLower(p.Address)})
}

// --- Token operations ---

// AmountPayload is the signed payload for mint, burn, deposit and withdraw.
type AmountPayload struct {
	Amount         decimal.Decimal `json:"amount"`
	Asset          string          `json:"asset,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// Mint handles POST /api/v1/markets/{marketID}/mint.
func (s *Service) Mint(w http.ResponseWriter, r *http.Request) {
	var p AmountPayload
	account := s.decodeSigned(w, r, &p)
	if account == "" {
		return
	}

	err := s.engine.Mint(r.Context(), ledger.MintRequest{
		MarketID:       chi.URLParam(r, "marketID"),
		Account:        account,
		Amount:         p.Amount,
		IdempotencyKey: p.IdempotencyKey,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.writePosition(w, r, chi.URLParam(r, "marketID"), account)
}

// Burn handles POST /api/v1/markets/{marketID}/burn.
func (s *Service) Burn(w http.ResponseWriter, r *http.Request) {
	var p AmountPayload
	account := s.decodeSigned(w, r, &p)
	if account == "" {
		return
	}

	err := s.engine.Burn(r.Context(), ledger.BurnRequest{
		MarketID:       chi.URLParam(r, "marketID"),
		Account:        account,
		Amount:         p.Amount,
		IdempotencyKey: p.IdempotencyKey,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.writePosition(w, r, chi.URLParam(r, "marketID"), account)
}

// RedeemResponse reports the collateral paid out by a redemption.
type RedeemResponse struct {
	MarketID string          `json:"market_id"`
	Account  string          `json:"account"`
	Paid     decimal.Decimal `json:"paid"`
}

// Redeem handles POST /api/v1/markets/{marketID}/redeem.
func (s *Service) Redeem(w http.ResponseWriter, r *http.Request) {
	account := s.decodeSigned(w, r, nil)
	if account == "" {
		return
	}

	marketID := chi.URLParam(r, "marketID")
	paid, err := s.engine.Redeem(r.Context(), marketID, account)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, RedeemResponse{
		MarketID: marketID,
		Account:  account,
		Paid:     paid,
	})
}

// TransferPayload is the signed payload for POST /markets/{marketID}/transfer.
// The envelope must be signed by the sending account.
type TransferPayload struct {
	To             string          `json:"to"`
	Side           model.Side      `json:"side"`
	Amount         decimal.Decimal `json:"amount"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// Transfer handles POST /api/v1/markets/{marketID}/transfer.
func (s *Service) Transfer(w http.ResponseWriter, r *http.Request) {
	var p TransferPayload
	account := s.decodeSigned(w, r, &p)
	if account == "" {
		return
	}
	if !auth.ValidAddress(p.To) {
		writeError(w, "invalid recipient address", http.StatusBadRequest)
		return
	}

	marketID := chi.URLParam(r, "marketID")
	err := s.engine.Transfer(r.Context(), ledger.TransferRequest{
		MarketID:       marketID,
		From:           account,
		To:             strings.ToLower(p.To),
		Side:           p.Side,
		Amount:         p.Amount,
		IdempotencyKey: p.IdempotencyKey,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.writePosition(w, r, marketID, account)
}

// ResolvePayload is the body for POST /markets/{marketID}/resolve. The
// oracle's signature over the canonical submission message is the proof;
// no additional envelope is required.
type ResolvePayload struct {
	Outcome   model.Outcome `json:"outcome"`
	OracleID  string        `json:"oracle_id"`
	Timestamp int64         `json:"timestamp"`
	Signature string        `json:"signature"`
}

// Resolve handles POST /api/v1/markets/{marketID}/resolve.
func (s *Service) Resolve(w http.ResponseWriter, r *http.Request) {
	var p ResolvePayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	err := s.engine.Resolve(r.Context(), oracle.Submission{
		MarketID:  chi.URLParam(r, "marketID"),
		Outcome:   p.Outcome,
		OracleID:  p.OracleID,
		Timestamp: time.Unix(p.Timestamp, 0),
		Signature: p.Signature,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"market_id": chi.URLParam(r, "marketID"),
		"outcome":   string(p.Outcome),
	})
}

// FillPayload is the signed payload for POST /fills. The envelope must be
// signed by the releasing (from) account: the ledger trusts the fill's
// price and matching, but claim release still requires the owner's key.
type FillPayload struct {
	FillID   string          `json:"fill_id"`
	MarketID string          `json:"market_id"`
	To       string          `json:"to"`
	Side     model.Side      `json:"side"`
	Amount   decimal.Decimal `json:"amount"`
}

// ApplyFill handles POST /api/v1/fills.
func (s *Service) ApplyFill(w http.ResponseWriter, r *http.Request) {
	var p FillPayload
	account := s.decodeSigned(w, r, &p)
	if account == "" {
		return
	}
	if p.FillID == "" {
		writeError(w, "fill_id is required", http.StatusBadRequest)
		return
	}
	if !auth.ValidAddress(p.To) {
		writeError(w, "invalid recipient address", http.StatusBadRequest)
		return
	}

	err := s.applier.Apply(r.Context(), venue.Fill{
		FillID:   p.FillID,
		MarketID: p.MarketID,
		From:     account,
		To:       strings.ToLower(p.To),
		Side:     p.Side,
		Amount:   p.Amount,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"fill_id": p.FillID, "status": "applied"})
}

// --- Queries and collateral on/off-ramp ---

// GetPosition handles GET /api/v1/markets/{marketID}/positions/{account}.
func (s *Service) GetPosition(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	// Position reads are lazy-zero; surface NotFound for unknown markets.
	if _, err := s.registry.GetMarket(r.Context(), marketID); err != nil {
		writeDomainError(w, err)
		return
	}

	pos, err := s.store.GetPosition(r.Context(), marketID, strings.ToLower(chi.URLParam(r, "account")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// CollateralResponse reports an account's free collateral for one asset.
type CollateralResponse struct {
	Account string          `json:"account"`
	Asset   string          `json:"asset"`
	Balance decimal.Decimal `json:"balance"`
}

// GetCollateral handles GET /api/v1/accounts/{account}/collateral?asset=X.
func (s *Service) GetCollateral(w http.ResponseWriter, r *http.Request) {
	account := strings.ToLower(chi.URLParam(r, "account"))
	asset := r.URL.Query().Get("asset")
	if asset == "" {
		writeError(w, "asset query parameter is required", http.StatusBadRequest)
		return
	}

	bal, err := s.store.GetCollateral(r.Context(), account, asset)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CollateralResponse{Account: account, Asset: asset, Balance: bal})
}

// DepositCollateral handles POST /api/v1/accounts/deposit: the on-ramp that
// credits free collateral after an external transfer in.
func (s *Service) DepositCollateral(w http.ResponseWriter, r *http.Request) {
	var p AmountPayload
	account := s.decodeSigned(w, r, &p)
	if account == "" {
		return
	}
	if !p.Amount.IsPositive() || p.Asset == "" {
		writeError(w, "amount must be positive and asset named", http.StatusBadRequest)
		return
	}

	if err := s.store.AddCollateral(r.Context(), account, p.Asset, p.Amount); err != nil {
		writeDomainError(w, err)
		return
	}

	bal, _ := s.store.GetCollateral(r.Context(), account, p.Asset)
	writeJSON(w, http.StatusOK, CollateralResponse{Account: account, Asset: p.Asset, Balance: bal})
}

// WithdrawCollateral handles POST /api/v1/accounts/withdraw: the off-ramp
// that debits free collateral for an external transfer out.
func (s *Service) WithdrawCollateral(w http.ResponseWriter, r *http.Request) {
	var p AmountPayload
	account := s.decodeSigned(w, r, &p)
	if account == "" {
		return
	}
	if !p.Amount.IsPositive() || p.Asset == "" {
		writeError(w, "amount must be positive and asset named", http.StatusBadRequest)
		return
	}

	if err := s.store.AddCollateral(r.Context(), account, p.Asset, p.Amount.Neg()); err != nil {
		if errors.Is(err, store.ErrNegativeBalance) {
			writeError(w, "withdrawal exceeds available balance", http.StatusConflict)
			return
		}
		writeDomainError(w, err)
		return
	}

	bal, _ := s.store.GetCollateral(r.Context(), account, p.Asset)
	writeJSON(w, http.StatusOK, CollateralResponse{Account: account, Asset: p.Asset, Balance: bal})
}

// writePosition responds with the account's current position.
func (s *Service) writePosition(w http.ResponseWriter, r *http.Request, marketID, account string) {
	pos, err := s.store.GetPosition(r.Context(), marketID, account)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// --- Response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeDomainError maps domain error kinds onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ledger.ErrUnauthorizedOracle):
		writeError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, ledger.ErrInvalidState),
		errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrInsufficientCollateral),
		errors.Is(err, ledger.ErrDuplicateRequest),
		errors.Is(err, store.ErrAlreadyExists):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ledger.ErrExternalTransfer):
		writeError(w, err.Error(), http.StatusBadGateway)
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidSide),
		errors.Is(err, ledger.ErrInvalidOutcome),
		errors.Is(err, venue.ErrMissingFillID),
		errors.Is(err, registry.ErrEmptyQuestion),
		errors.Is(err, registry.ErrInvalidExpiry),
		errors.Is(err, registry.ErrInvalidOracleID),
		errors.Is(err, registry.ErrUnknownOracle),
		errors.Is(err, registry.ErrEmptyAsset):
		writeError(w, err.Error(), http.StatusBadRequest)
	default:
		writeError(w, err.Error(), http.StatusInternalServerError)
	}
}
