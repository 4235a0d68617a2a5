package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/intercomswap/swapd/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a TradeStore backed by the given pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Upsert writes the latest snapshot for a trade.
func (s *TradeStore) Upsert(ctx context.Context, snap domain.TradeSnapshot) error {
	const query = `
		INSERT INTO trades (trade_id, state, terms_hash, payment_hash, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (trade_id) DO UPDATE SET
			state = EXCLUDED.state,
			terms_hash = EXCLUDED.terms_hash,
			payment_hash = EXCLUDED.payment_hash,
			updated_at = EXCLUDED.updated_at`

	updatedAt := snap.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, query,
		snap.TradeID, string(snap.State), snap.TermsHash, snap.PaymentHash, updatedAt)
	if err != nil {
		return fmt.Errorf("postgres: upsert trade %s: %w", snap.TradeID, err)
	}
	return nil
}

// Get returns the snapshot for tradeID.
func (s *TradeStore) Get(ctx context.Context, tradeID string) (domain.TradeSnapshot, error) {
	const query = `
		SELECT trade_id, state, terms_hash, payment_hash, updated_at
		FROM trades WHERE trade_id = $1`

	var snap domain.TradeSnapshot
	var state string
	err := s.pool.QueryRow(ctx, query, tradeID).Scan(
		&snap.TradeID, &state, &snap.TermsHash, &snap.PaymentHash, &snap.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TradeSnapshot{}, fmt.Errorf("postgres: trade %s: %w", tradeID, domain.ErrNotFound)
		}
		return domain.TradeSnapshot{}, fmt.Errorf("postgres: get trade %s: %w", tradeID, err)
	}
	snap.State = domain.TradeState(state)
	return snap, nil
}

// List returns snapshots ordered by most recent update.
func (s *TradeStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.TradeSnapshot, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	const query = `
		SELECT trade_id, state, terms_hash, payment_hash, updated_at
		FROM trades
		ORDER BY updated_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := s.pool.Query(ctx, query, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	var snaps []domain.TradeSnapshot
	for rows.Next() {
		var snap domain.TradeSnapshot
		var state string
		if err := rows.Scan(&snap.TradeID, &state, &snap.TermsHash, &snap.PaymentHash, &snap.UpdatedAt); err != nil {
			return nil, err
		}
		snap.State = domain.TradeState(state)
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

var _ domain.TradeStore = (*TradeStore)(nil)
