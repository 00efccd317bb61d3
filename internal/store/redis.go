package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/hypermarket/settlement-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary. Idempotency keys are
// claimed in Redis via SETNX so replays are rejected without a round trip
// to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.CreateMarket(ctx, m); err != nil {
		return err
	}
	s.cacheMarket(ctx, m)
	return nil
}

func (s *CachedStore) SetMarketResolved(ctx context.Context, id string, outcome model.Outcome) error {
	if err := s.primary.SetMarketResolved(ctx, id, outcome); err != nil {
		return err
	}
	s.rdb.Del(ctx, marketKey(id))
	return nil
}

func (s *CachedStore) AddMarketCollateral(ctx context.Context, id string, delta decimal.Decimal) error {
	if err := s.primary.AddMarketCollateral(ctx, id, delta); err != nil {
		return err
	}
	s.rdb.Del(ctx, marketKey(id))
	return nil
}

func (s *CachedStore) PutPosition(ctx context.Context, p *model.Position) error {
	if err := s.primary.PutPosition(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionKey(p.MarketID, p.Account))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	data, err := s.rdb.Get(ctx, marketKey(id)).Bytes()
	if err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	m, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheMarket(ctx, m)
	return m, nil
}

func (s *CachedStore) GetPosition(ctx context.Context, marketID, account string) (*model.Position, error) {
	data, err := s.rdb.Get(ctx, positionKey(marketID, account)).Bytes()
	if err == nil {
		var p model.Position
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	p, err := s.primary.GetPosition(ctx, marketID, account)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, positionKey(marketID, account), data, s.ttl)
	}
	return p, nil
}

// --- Idempotency via SETNX ---

func (s *CachedStore) ClaimIdempotencyKey(ctx context.Context, key string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, idemKey(key), "1", 24*time.Hour).Result()
	if err != nil {
		// Redis unavailable: fall back to the primary's durable claim.
		return s.primary.ClaimIdempotencyKey(ctx, key)
	}
	if !ok {
		return false, nil
	}
	// Record durably as well so claims survive Redis eviction.
	return s.primary.ClaimIdempotencyKey(ctx, key)
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx)
}

func (s *CachedStore) AddOracle(ctx context.Context, addr string) error {
	return s.primary.AddOracle(ctx, addr)
}

func (s *CachedStore) IsOracle(ctx context.Context, addr string) (bool, error) {
	return s.primary.IsOracle(ctx, addr)
}

func (s *CachedStore) InsertResolution(ctx context.Context, r *model.Resolution) error {
	return s.primary.InsertResolution(ctx, r)
}

func (s *CachedStore) GetResolution(ctx context.Context, marketID string) (*model.Resolution, error) {
	return s.primary.GetResolution(ctx, marketID)
}

func (s *CachedStore) ListPositionsByMarket(ctx context.Context, marketID string) ([]model.Position, error) {
	return s.primary.ListPositionsByMarket(ctx, marketID)
}

func (s *CachedStore) GetCollateral(ctx context.Context, account, asset string) (decimal.Decimal, error) {
	return s.primary.GetCollateral(ctx, account, asset)
}

func (s *CachedStore) AddCollateral(ctx context.Context, account, asset string, delta decimal.Decimal) error {
	return s.primary.AddCollateral(ctx, account, asset, delta)
}

// WithTx delegates to the primary store and invalidates the cache keys of
// everything written inside the transaction, strictly after it commits.
// Deleting a key while the transaction is still open would let a concurrent
// read re-cache the pre-commit row for the full TTL; reads inside the
// transaction bypass the cache entirely so they see the transaction's own
// writes.
func (s *CachedStore) WithTx(ctx context.Context, fn func(Store) error) error {
	var stale []string
	err := s.primary.WithTx(ctx, func(tx Store) error {
		return fn(&txCachedStore{Store: tx, stale: &stale})
	})
	if err != nil {
		return err
	}
	if len(stale) > 0 {
		s.rdb.Del(ctx, stale...)
	}
	return nil
}

// txCachedStore is the transaction-scoped view handed to WithTx callbacks.
// All calls go straight to the transactional primary; writes additionally
// record the cache keys to invalidate once the transaction commits.
type txCachedStore struct {
	Store
	stale *[]string
}

func (s *txCachedStore) CreateMarket(ctx context.Context, m *model.Market) error {
	if err := s.Store.CreateMarket(ctx, m); err != nil {
		return err
	}
	*s.stale = append(*s.stale, marketKey(m.ID))
	return nil
}

func (s *txCachedStore) SetMarketResolved(ctx context.Context, id string, outcome model.Outcome) error {
	if err := s.Store.SetMarketResolved(ctx, id, outcome); err != nil {
		return err
	}
	*s.stale = append(*s.stale, marketKey(id))
	return nil
}

func (s *txCachedStore) AddMarketCollateral(ctx context.Context, id string, delta decimal.Decimal) error {
	if err := s.Store.AddMarketCollateral(ctx, id, delta); err != nil {
		return err
	}
	*s.stale = append(*s.stale, marketKey(id))
	return nil
}

func (s *txCachedStore) PutPosition(ctx context.Context, p *model.Position) error {
	if err := s.Store.PutPosition(ctx, p); err != nil {
		return err
	}
	*s.stale = append(*s.stale, positionKey(p.MarketID, p.Account))
	return nil
}

// WithTx keeps recording invalidation keys across nested transaction scopes.
func (s *txCachedStore) WithTx(ctx context.Context, fn func(Store) error) error {
	return s.Store.WithTx(ctx, func(tx Store) error {
		return fn(&txCachedStore{Store: tx, stale: s.stale})
	})
}

// --- Cache helpers ---

func (s *CachedStore) cacheMarket(ctx context.Context, m *model.Market) {
	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, marketKey(m.ID), data, s.ttl)
	}
}

func marketKey(id string) string { return fmt.Sprintf("market:%s", id) }

func positionKey(marketID, account string) string {
	return fmt.Sprintf("position:%s:%s", marketID, account)
}

func idemKey(key string) string { return fmt.Sprintf("idem:%s", key) }
