package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// PoolMeta is the cached on-chain description of a Uniswap V3 pool.
type PoolMeta struct {
	Address   string
	Token0    string
	Token1    string
	Fee       int64
	Liquidity string
	Symbol0   string
	Symbol1   string
	UpdatedAt int64
}

// UpsertPool inserts or refreshes a pool's metadata row.
func (s *Store) UpsertPool(ctx context.Context, p PoolMeta) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pools (address, token0, token1, fee, liquidity, symbol0, symbol1, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			token0     = excluded.token0,
			token1     = excluded.token1,
			fee        = excluded.fee,
			liquidity  = excluded.liquidity,
			symbol0    = excluded.symbol0,
			symbol1    = excluded.symbol1,
			updated_at = excluded.updated_at`,
		strings.ToLower(p.Address), strings.ToLower(p.Token0), strings.ToLower(p.Token1),
		p.Fee, p.Liquidity, p.Symbol0, p.Symbol1, s.now().Unix())
	if err != nil {
		return fmt.Errorf("store: upsert pool: %w", err)
	}
	return nil
}

// GetPool returns the cached metadata for a pool or ErrNotFound.
func (s *Store) GetPool(ctx context.Context, address string) (PoolMeta, error) {
	var p PoolMeta
	err := s.db.QueryRowContext(ctx, `
		SELECT address, token0, token1, fee, liquidity, symbol0, symbol1, updated_at
		FROM pools WHERE address = ?`, strings.ToLower(address)).
		Scan(&p.Address, &p.Token0, &p.Token1, &p.Fee, &p.Liquidity, &p.Symbol0, &p.Symbol1, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return PoolMeta{}, ErrNotFound
	}
	if err != nil {
		return PoolMeta{}, fmt.Errorf("store: get pool: %w", err)
	}
	return p, nil
}

// PoolsByAddresses returns the cached rows for the given addresses,
// keyed by lowercase address. Addresses with no row are absent from
// the map rather than an error.
func (s *Store) PoolsByAddresses(ctx context.Context, addresses []string) (map[string]PoolMeta, error) {
	out := make(map[string]PoolMeta, len(addresses))
	if len(addresses) == 0 {
		return out, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(addresses)), ",")
	args := make([]any, len(addresses))
	for i, a := range addresses {
		args[i] = strings.ToLower(a)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT address, token0, token1, fee, liquidity, symbol0, symbol1, updated_at
		FROM pools WHERE address IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("store: pools by addresses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p PoolMeta
		if err := rows.Scan(&p.Address, &p.Token0, &p.Token1, &p.Fee, &p.Liquidity, &p.Symbol0, &p.Symbol1, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: pools by addresses: %w", err)
		}
		out[p.Address] = p
	}
	return out, rows.Err()
}

// MissingPoolAddresses filters addresses down to those with no cached row.
func (s *Store) MissingPoolAddresses(ctx context.Context, addresses []string) ([]string, error) {
	have, err := s.PoolsByAddresses(ctx, addresses)
	if err != nil {
		return nil, err
	}
	var missing []string
	seen := make(map[string]bool, len(addresses))
	for _, a := range addresses {
		a = strings.ToLower(a)
		if seen[a] {
			continue
		}
		seen[a] = true
		if _, ok := have[a]; !ok {
			missing = append(missing, a)
		}
	}
	return missing, nil
}
