package postgres

import (
	"context"
	"fmt"
	"time"

	"stockcast/internal/domain"
	"stockcast/internal/storage"
)

// FeatureStore implements storage.FeatureStore using PostgreSQL.
type FeatureStore struct {
	pool *Pool
}

// NewFeatureStore creates a new FeatureStore.
func NewFeatureStore(pool *Pool) *FeatureStore {
	return &FeatureStore{pool: pool}
}

// Compile-time interface check.
var _ storage.FeatureStore = (*FeatureStore)(nil)

// Upsert inserts or replaces the row for (ticker, trade_date).
func (s *FeatureStore) Upsert(ctx context.Context, f *domain.FeatureDaily) error {
	query := `
		INSERT INTO features_daily (
			ticker, trade_date, market, ret_1d, ret_3d, ret_5d,
			volatility_20d, dollar_volume, beta, sector_ret, market_ret,
			close_price, volume
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (ticker, trade_date) DO UPDATE SET
			market = EXCLUDED.market,
			ret_1d = EXCLUDED.ret_1d,
			ret_3d = EXCLUDED.ret_3d,
			ret_5d = EXCLUDED.ret_5d,
			volatility_20d = EXCLUDED.volatility_20d,
			dollar_volume = EXCLUDED.dollar_volume,
			beta = EXCLUDED.beta,
			sector_ret = EXCLUDED.sector_ret,
			market_ret = EXCLUDED.market_ret,
			close_price = EXCLUDED.close_price,
			volume = EXCLUDED.volume
		RETURNING id, created_at
	`

	err := s.pool.QueryRow(ctx, query,
		f.Ticker, f.TradeDate, f.Market, f.Ret1D, f.Ret3D, f.Ret5D,
		f.Volatility20D, f.DollarVolume, f.Beta, f.SectorRet, f.MarketRet,
		f.ClosePrice, f.Volume,
	).Scan(&f.ID, &f.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert feature row: %w", err)
	}
	return nil
}

// On returns the row for (ticker, date) or ErrNotFound.
func (s *FeatureStore) On(ctx context.Context, ticker string, date time.Time) (*domain.FeatureDaily, error) {
	query := `
		SELECT id, ticker, trade_date, market, ret_1d, ret_3d, ret_5d,
		       volatility_20d, dollar_volume, beta, sector_ret, market_ret,
		       close_price, volume, created_at
		FROM features_daily
		WHERE ticker = $1 AND trade_date = $2
	`

	var f domain.FeatureDaily
	err := s.pool.QueryRow(ctx, query, ticker, domain.Date(date)).Scan(
		&f.ID, &f.Ticker, &f.TradeDate, &f.Market, &f.Ret1D, &f.Ret3D, &f.Ret5D,
		&f.Volatility20D, &f.DollarVolume, &f.Beta, &f.SectorRet, &f.MarketRet,
		&f.ClosePrice, &f.Volume, &f.CreatedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get feature row: %w", err)
	}
	return &f, nil
}

// CountRange counts feature rows with trade_date in [from, to).
func (s *FeatureStore) CountRange(ctx context.Context, from, to time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM features_daily WHERE trade_date >= $1 AND trade_date < $2`

	var n int
	err := s.pool.QueryRow(ctx, query, domain.Date(from), domain.Date(to)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count feature rows: %w", err)
	}
	return n, nil
}
