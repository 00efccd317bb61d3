package store

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/hypermarket/settlement-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	markets     map[string]*model.Market
	oracles     map[string]bool
	resolutions map[string]*model.Resolution
	positions   map[string]*model.Position // key: marketID + "|" + account
	collateral  map[string]decimal.Decimal // key: account + "|" + asset
	idemKeys    map[string]bool
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets:     make(map[string]*model.Market),
		oracles:     make(map[string]bool),
		resolutions: make(map[string]*model.Resolution),
		positions:   make(map[string]*model.Position),
		collateral:  make(map[string]decimal.Decimal),
		idemKeys:    make(map[string]bool),
	}
}

func posKey(marketID, account string) string { return marketID + "|" + account }
func collKey(account, asset string) string { return account + "|" + asset }

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[m.ID]; ok {
		return ErrAlreadyExists
	}

	// Store a copy to avoid external mutation.
	cp := *m
	s.markets[m.ID] = &cp
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		markets = append(markets, *m)
	}
	return markets, nil
}

func (s *MemoryStore) SetMarketResolved(_ context.Context, id string, outcome model.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[id]
	if !ok {
		return ErrNotFound
	}
	m.Status = model.StatusResolved
	m.ResolvedOutcome = outcome
	return nil
}

func (s *MemoryStore) AddMarketCollateral(_ context.Context, id string, delta decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[id]
	if !ok {
		return ErrNotFound
	}
	next := m.TotalCollateral.Add(delta)
	if next.IsNegative() {
		return ErrNegativeBalance
	}
	m.TotalCollateral = next
	return nil
}

func (s *MemoryStore) AddOracle(_ context.Context, addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.oracles[addr] = true
	return nil
}

func (s *MemoryStore) IsOracle(_ context.Context, addr string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.oracles[addr], nil
}

func (s *MemoryStore) InsertResolution(_ context.Context, r *model.Resolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.resolutions[r.MarketID]; ok {
		return ErrAlreadyExists
	}
	cp := *r
	s.resolutions[r.MarketID] = &cp
	return nil
}

func (s *MemoryStore) GetResolution(_ context.Context, marketID string) (*model.Resolution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.resolutions[marketID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) GetPosition(_ context.Context, marketID, account string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.positions[posKey(marketID, account)]; ok {
		cp := *p
		return &cp, nil
	}
	// Lazily-created positions read back as zero.
	return &model.Position{
		MarketID: marketID,
		Account:  account,
		ClaimYes: decimal.Zero,
		ClaimNo:  decimal.Zero,
	}, nil
}

func (s *MemoryStore) PutPosition(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *p
	s.positions[posKey(p.MarketID, p.Account)] = &cp
	return nil
}

func (s *MemoryStore) ListPositionsByMarket(_ context.Context, marketID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Position
	for _, p := range s.positions {
		if p.MarketID == marketID {
			result = append(result, *p)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetCollateral(_ context.Context, account, asset string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collateral[collKey(account, asset)], nil
}

func (s *MemoryStore) AddCollateral(_ context.Context, account, asset string, delta decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := collKey(account, asset)
	next := s.collateral[key].Add(delta)
	if next.IsNegative() {
		return ErrNegativeBalance
	}
	s.collateral[key] = next
	return nil
}

func (s *MemoryStore) ClaimIdempotencyKey(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.idemKeys[key] {
		return false, nil
	}
	s.idemKeys[key] = true
	return true, nil
}

// WithTx runs fn against the store directly. The ledger already serializes
// mutating operations per market, so the in-memory implementation needs no
// further isolation.
func (s *MemoryStore) WithTx(_ context.Context, fn func(Store) error) error {
	return fn(s)
}
