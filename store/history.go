package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// VoteChange is one row of the append-only change history. Timestamps are
// unix seconds so cooldown arithmetic stays exact.
type VoteChange struct {
	ID              int64
	Voter           string
	OldPoolsJSON    string
	NewPoolsJSON    string
	ChangeTimestamp int64
	CooldownUntil   int64
	ChangeCount     int
}

// AppendVoteChange records a vote change. Rows are never updated.
func (s *Store) AppendVoteChange(ctx context.Context, vc VoteChange) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vote_changes (voter, old_pools, new_pools, change_timestamp, cooldown_until, change_count)
		VALUES (?, ?, ?, ?, ?, ?)`,
		vc.Voter, vc.OldPoolsJSON, vc.NewPoolsJSON, vc.ChangeTimestamp, vc.CooldownUntil, vc.ChangeCount)
	if err != nil {
		return fmt.Errorf("store: append vote change: %w", err)
	}
	return nil
}

// LatestVoteChange returns the most recent change row for voter, or
// ErrNotFound when the voter has never changed a vote (or cleanup removed
// the rows).
func (s *Store) LatestVoteChange(ctx context.Context, voter string) (VoteChange, error) {
	var vc VoteChange
	err := s.db.QueryRowContext(ctx, `
		SELECT id, voter, old_pools, new_pools, change_timestamp, cooldown_until, change_count
		FROM vote_changes WHERE voter = ?
		ORDER BY change_timestamp DESC, id DESC LIMIT 1`, voter).
		Scan(&vc.ID, &vc.Voter, &vc.OldPoolsJSON, &vc.NewPoolsJSON,
			&vc.ChangeTimestamp, &vc.CooldownUntil, &vc.ChangeCount)
	if errors.Is(err, sql.ErrNoRows) {
		return VoteChange{}, ErrNotFound
	}
	if err != nil {
		return VoteChange{}, fmt.Errorf("store: latest vote change: %w", err)
	}
	return vc, nil
}

// VoteHistory lists a voter's change rows, newest first.
func (s *Store) VoteHistory(ctx context.Context, voter string, limit int) ([]VoteChange, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, voter, old_pools, new_pools, change_timestamp, cooldown_until, change_count
		FROM vote_changes WHERE voter = ?
		ORDER BY change_timestamp DESC, id DESC LIMIT ?`, voter, limit)
	if err != nil {
		return nil, fmt.Errorf("store: vote history: %w", err)
	}
	defer rows.Close()

	var out []VoteChange
	for rows.Next() {
		var vc VoteChange
		if err := rows.Scan(&vc.ID, &vc.Voter, &vc.OldPoolsJSON, &vc.NewPoolsJSON,
			&vc.ChangeTimestamp, &vc.CooldownUntil, &vc.ChangeCount); err != nil {
			return nil, fmt.Errorf("store: vote history: %w", err)
		}
		out = append(out, vc)
	}
	return out, rows.Err()
}

// DeleteExpiredCooldowns drops change rows whose cooldown has lapsed,
// returning the number removed.
func (s *Store) DeleteExpiredCooldowns(ctx context.Context, nowUnix int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM vote_changes WHERE cooldown_until < ?`, nowUnix)
	if err != nil {
		return 0, fmt.Errorf("store: cleanup cooldowns: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: cleanup cooldowns: %w", err)
	}
	return n, nil
}
