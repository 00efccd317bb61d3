package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/hypermarket/settlement-engine/internal/model"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so the same store
// code serves pooled and transactional access.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
	q    querier
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, q: pool}
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.q.Exec(ctx, `
CREATE TABLE IF NOT EXISTS markets (
  id               TEXT PRIMARY KEY,
  question         TEXT NOT NULL,
  expiry           TIMESTAMPTZ NOT NULL,
  oracle_id        TEXT NOT NULL,
  collateral_asset TEXT NOT NULL,
  status           TEXT NOT NULL,
  resolved_outcome TEXT NOT NULL DEFAULT '',
  creator          TEXT NOT NULL,
  total_collateral NUMERIC NOT NULL DEFAULT 0,
  created_at       TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS oracles (
  address TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS resolutions (
  market_id TEXT PRIMARY KEY REFERENCES markets(id),
  outcome   TEXT NOT NULL,
  oracle_id TEXT NOT NULL,
  ts        TIMESTAMPTZ NOT NULL,
  signature TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS positions (
  market_id TEXT NOT NULL REFERENCES markets(id),
  account   TEXT NOT NULL,
  claim_yes NUMERIC NOT NULL DEFAULT 0 CHECK (claim_yes >= 0),
  claim_no  NUMERIC NOT NULL DEFAULT 0 CHECK (claim_no >= 0),
  PRIMARY KEY (market_id, account)
);
CREATE TABLE IF NOT EXISTS collateral_accounts (
  account TEXT NOT NULL,
  asset   TEXT NOT NULL,
  balance NUMERIC NOT NULL DEFAULT 0 CHECK (balance >= 0),
  PRIMARY KEY (account, asset)
);
CREATE TABLE IF NOT EXISTS idempotency_keys (
  key        TEXT PRIMARY KEY,
  claimed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`)
	return err
}

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	ct, err := s.q.Exec(ctx,
		`INSERT INTO markets (id, question, expiry, oracle_id, collateral_asset, status, resolved_outcome, creator, total_collateral, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::NUMERIC, $10)
		 ON CONFLICT (id) DO NOTHING`,
		m.ID, m.Question, m.Expiry, m.OracleID, m.CollateralAsset,
		m.Status, string(m.ResolvedOutcome), m.Creator,
		m.TotalCollateral.String(), m.CreatedAt,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

const marketCols = `id, question, expiry, oracle_id, collateral_asset, status, resolved_outcome, creator, total_collateral::TEXT, created_at`

func scanMarket(row pgx.Row) (*model.Market, error) {
	var m model.Market
	var outcome, total string

	err := row.Scan(&m.ID, &m.Question, &m.Expiry, &m.OracleID,
		&m.CollateralAsset, &m.Status, &outcome, &m.Creator,
		&total, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	m.ResolvedOutcome = model.Outcome(outcome)
	m.TotalCollateral, _ = decimal.NewFromString(total)
	return &m, nil
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	m, err := scanMarket(s.q.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}
	return m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+marketCols+` FROM markets ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) SetMarketResolved(ctx context.Context, id string, outcome model.Outcome) error {
	ct, err := s.q.Exec(ctx,
		`UPDATE markets SET status = $2, resolved_outcome = $3 WHERE id = $1`,
		id, model.StatusResolved, string(outcome))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AddMarketCollateral(ctx context.Context, id string, delta decimal.Decimal) error {
	ct, err := s.q.Exec(ctx,
		`UPDATE markets SET total_collateral = total_collateral + $2::NUMERIC
		 WHERE id = $1 AND total_collateral + $2::NUMERIC >= 0`,
		id, delta.String())
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		// Distinguish missing market from an underflowing adjustment.
		var exists bool
		if err := s.q.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM markets WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrNegativeBalance
	}
	return nil
}

func (s *PostgresStore) AddOracle(ctx context.Context, addr string) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO oracles (address) VALUES ($1) ON CONFLICT DO NOTHING`, addr)
	return err
}

func (s *PostgresStore) IsOracle(ctx context.Context, addr string) (bool, error) {
	var exists bool
	err := s.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM oracles WHERE address = $1)`, addr).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) InsertResolution(ctx context.Context, r *model.Resolution) error {
	ct, err := s.q.Exec(ctx,
		`INSERT INTO resolutions (market_id, outcome, oracle_id, ts, signature)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (market_id) DO NOTHING`,
		r.MarketID, string(r.Outcome), r.OracleID, r.Timestamp, r.Signature)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (s *PostgresStore) GetResolution(ctx context.Context, marketID string) (*model.Resolution, error) {
	var r model.Resolution
	var outcome string

	err := s.q.QueryRow(ctx,
		`SELECT market_id, outcome, oracle_id, ts, signature
		 FROM resolutions WHERE market_id = $1`, marketID).
		Scan(&r.MarketID, &outcome, &r.OracleID, &r.Timestamp, &r.Signature)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	r.Outcome = model.Outcome(outcome)
	return &r, nil
}

func (s *PostgresStore) GetPosition(ctx context.Context, marketID, account string) (*model.Position, error) {
	p := &model.Position{MarketID: marketID, Account: account}
	var yes, no string

	err := s.q.QueryRow(ctx,
		`SELECT claim_yes::TEXT, claim_no::TEXT
		 FROM positions WHERE market_id = $1 AND account = $2`,
		marketID, account).Scan(&yes, &no)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			p.ClaimYes = decimal.Zero
			p.ClaimNo = decimal.Zero
			return p, nil
		}
		return nil, err
	}

	p.ClaimYes, _ = decimal.NewFromString(yes)
	p.ClaimNo, _ = decimal.NewFromString(no)
	return p, nil
}

func (s *PostgresStore) PutPosition(ctx context.Context, p *model.Position) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO positions (market_id, account, claim_yes, claim_no)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC)
		 ON CONFLICT (market_id, account)
		 DO UPDATE SET claim_yes = EXCLUDED.claim_yes, claim_no = EXCLUDED.claim_no`,
		p.MarketID, p.Account, p.ClaimYes.String(), p.ClaimNo.String())
	return err
}

func (s *PostgresStore) ListPositionsByMarket(ctx context.Context, marketID string) ([]model.Position, error) {
	rows, err := s.q.Query(ctx,
		`SELECT market_id, account, claim_yes::TEXT, claim_no::TEXT
		 FROM positions WHERE market_id = $1 ORDER BY account`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var yes, no string
		if err := rows.Scan(&p.MarketID, &p.Account, &yes, &no); err != nil {
			return nil, err
		}
		p.ClaimYes, _ = decimal.NewFromString(yes)
		p.ClaimNo, _ = decimal.NewFromString(no)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) GetCollateral(ctx context.Context, account, asset string) (decimal.Decimal, error) {
	var bal string
	err := s.q.QueryRow(ctx,
		`SELECT balance::TEXT FROM collateral_accounts WHERE account = $1 AND asset = $2`,
		account, asset).Scan(&bal)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	d, _ := decimal.NewFromString(bal)
	return d, nil
}

func (s *PostgresStore) AddCollateral(ctx context.Context, account, asset string, delta decimal.Decimal) error {
	if delta.IsNegative() {
		ct, err := s.q.Exec(ctx,
			`UPDATE collateral_accounts SET balance = balance + $3::NUMERIC
			 WHERE account = $1 AND asset = $2 AND balance + $3::NUMERIC >= 0`,
			account, asset, delta.String())
		if err != nil {
			return err
		}
		if ct.RowsAffected() == 0 {
			return ErrNegativeBalance
		}
		return nil
	}

	_, err := s.q.Exec(ctx,
		`INSERT INTO collateral_accounts (account, asset, balance)
		 VALUES ($1, $2, $3::NUMERIC)
		 ON CONFLICT (account, asset)
		 DO UPDATE SET balance = collateral_accounts.balance + EXCLUDED.balance`,
		account, asset, delta.String())
	return err
}

func (s *PostgresStore) ClaimIdempotencyKey(ctx context.Context, key string) (bool, error) {
	ct, err := s.q.Exec(ctx,
		`INSERT INTO idempotency_keys (key) VALUES ($1) ON CONFLICT DO NOTHING`, key)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

// WithTx runs fn against a transaction-scoped view of the store. Nested
// calls reuse the enclosing transaction.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(Store) error) error {
	if _, inTx := s.q.(pgx.Tx); inTx {
		return fn(s)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&PostgresStore{pool: s.pool, q: tx})
	})
}
