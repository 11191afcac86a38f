package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Binding links a subnet hotkey to the EVM account it proved control of.
type Binding struct {
	Voter      string
	EVMAddress string
	UpdatedAt  int64
}

// UpsertBinding stores the hotkey→EVM link, displacing any row that claims
// either side. The claim flow verifies signatures from both keys, so a
// re-claimed address legitimately moves to its new hotkey. Returns false
// with no error when the identical binding already exists.
func (s *Store) UpsertBinding(ctx context.Context, voter, evmAddress string) (bool, error) {
	evmAddress = strings.ToLower(evmAddress)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("store: upsert binding: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx,
		`SELECT evm_address FROM bindings WHERE voter = ?`, voter).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("store: upsert binding: %w", err)
	}
	if err == nil && current == evmAddress {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM bindings WHERE evm_address = ? AND voter != ?`, evmAddress, voter); err != nil {
		return false, fmt.Errorf("store: upsert binding: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO bindings (voter, evm_address, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(voter) DO UPDATE SET
			evm_address = excluded.evm_address,
			updated_at  = excluded.updated_at`,
		voter, evmAddress, s.now().Unix()); err != nil {
		return false, fmt.Errorf("store: upsert binding: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("store: upsert binding: %w", err)
	}
	return true, nil
}

// BindingByVoter returns the binding for a hotkey or ErrNotFound.
func (s *Store) BindingByVoter(ctx context.Context, voter string) (Binding, error) {
	var b Binding
	err := s.db.QueryRowContext(ctx, `
		SELECT voter, evm_address, updated_at FROM bindings WHERE voter = ?`, voter).
		Scan(&b.Voter, &b.EVMAddress, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Binding{}, ErrNotFound
	}
	if err != nil {
		return Binding{}, fmt.Errorf("store: binding by voter: %w", err)
	}
	return b, nil
}

// BindingByAddress returns the binding owning an EVM address or ErrNotFound.
func (s *Store) BindingByAddress(ctx context.Context, evmAddress string) (Binding, error) {
	var b Binding
	err := s.db.QueryRowContext(ctx, `
		SELECT voter, evm_address, updated_at FROM bindings WHERE evm_address = ?`,
		strings.ToLower(evmAddress)).
		Scan(&b.Voter, &b.EVMAddress, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Binding{}, ErrNotFound
	}
	if err != nil {
		return Binding{}, fmt.Errorf("store: binding by address: %w", err)
	}
	return b, nil
}

// AllBindings returns every stored binding ordered by voter.
func (s *Store) AllBindings(ctx context.Context) ([]Binding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT voter, evm_address, updated_at FROM bindings ORDER BY voter`)
	if err != nil {
		return nil, fmt.Errorf("store: all bindings: %w", err)
	}
	defer rows.Close()

	var out []Binding
	for rows.Next() {
		var b Binding
		if err := rows.Scan(&b.Voter, &b.EVMAddress, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: all bindings: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
