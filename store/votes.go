package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/log"
)

// Vote is a voter's current pool allocation. Pools is the normalized
// allocation serialized as JSON; vote comparison happens on this exact
// string.
type Vote struct {
	Voter       string
	PoolsJSON   string
	Signature   string
	Message     string
	BlockNumber uint64
	TotalWeight int64
	UpdatedAt   int64
}

// UpsertVote inserts or replaces the voter's current vote. A stored vote
// with a block number at or past v.BlockNumber rejects the write, except
// the exact retry case (same block, same pools) which is a no-op so client
// retries stay idempotent.
func (s *Store) UpsertVote(ctx context.Context, v Vote) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: upsert vote: %w", err)
	}
	defer tx.Rollback()

	var prevPools string
	var prevBlock uint64
	err = tx.QueryRowContext(ctx,
		`SELECT pools, block_number FROM votes WHERE voter = ?`, v.Voter).
		Scan(&prevPools, &prevBlock)
	exists := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("store: upsert vote: %w", err)
	}
	if exists && prevBlock >= v.BlockNumber {
		if prevBlock == v.BlockNumber && prevPools == v.PoolsJSON {
			return nil
		}
		return fmt.Errorf("%w: stored %d submitted %d", ErrStaleBlock, prevBlock, v.BlockNumber)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO votes (voter, pools, signature, message, block_number, total_weight, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(voter) DO UPDATE SET
			pools        = excluded.pools,
			signature    = excluded.signature,
			message      = excluded.message,
			block_number = excluded.block_number,
			total_weight = excluded.total_weight,
			updated_at   = excluded.updated_at`,
		v.Voter, v.PoolsJSON, v.Signature, v.Message, v.BlockNumber, v.TotalWeight, s.now().Unix())
	if err != nil {
		return fmt.Errorf("store: upsert vote: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: upsert vote: %w", err)
	}

	if !exists {
		log.Info("New vote stored", "voter", v.Voter, "pools", v.PoolsJSON, "block", v.BlockNumber)
	} else if prevPools != v.PoolsJSON {
		log.Info("Vote overwritten", "voter", v.Voter, "old", prevPools, "new", v.PoolsJSON, "block", v.BlockNumber)
	}
	return nil
}

// GetVote returns the voter's current vote or ErrNotFound.
func (s *Store) GetVote(ctx context.Context, voter string) (Vote, error) {
	var v Vote
	err := s.db.QueryRowContext(ctx, `
		SELECT voter, pools, signature, message, block_number, total_weight, updated_at
		FROM votes WHERE voter = ?`, voter).
		Scan(&v.Voter, &v.PoolsJSON, &v.Signature, &v.Message, &v.BlockNumber, &v.TotalWeight, &v.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Vote{}, ErrNotFound
	}
	if err != nil {
		return Vote{}, fmt.Errorf("store: get vote: %w", err)
	}
	return v, nil
}

// AllVotes returns every current vote ordered by voter.
func (s *Store) AllVotes(ctx context.Context) ([]Vote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT voter, pools, signature, message, block_number, total_weight, updated_at
		FROM votes ORDER BY voter`)
	if err != nil {
		return nil, fmt.Errorf("store: all votes: %w", err)
	}
	defer rows.Close()

	var votes []Vote
	for rows.Next() {
		var v Vote
		if err := rows.Scan(&v.Voter, &v.PoolsJSON, &v.Signature, &v.Message,
			&v.BlockNumber, &v.TotalWeight, &v.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: all votes: %w", err)
		}
		votes = append(votes, v)
	}
	return votes, rows.Err()
}
