package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/intercomswap/swapd/internal/domain"
)

// ReceiptStore implements domain.ReceiptStore using PostgreSQL.
type ReceiptStore struct {
	pool *pgxpool.Pool
}

// NewReceiptStore creates a ReceiptStore backed by the given pool.
func NewReceiptStore(pool *pgxpool.Pool) *ReceiptStore {
	return &ReceiptStore{pool: pool}
}

const receiptSelectCols = `trade_id, seq, direction, kind, envelope, envelope_id, received_at`

func scanReceiptRows(rows pgx.Rows) ([]domain.Receipt, error) {
	var receipts []domain.Receipt
	for rows.Next() {
		var r domain.Receipt
		var kind string
		if err := rows.Scan(
			&r.TradeID, &r.Seq, &r.Direction, &kind,
			&r.Envelope, &r.EnvelopeID, &r.ReceivedAt,
		); err != nil {
			return nil, err
		}
		r.Kind = domain.Kind(kind)
		receipts = append(receipts, r)
	}
	return receipts, rows.Err()
}

// Append writes a receipt with the next per-trade sequence number and
// returns it. The insert and the sequence read happen in one statement so
// concurrent writers on the same trade cannot collide.
func (s *ReceiptStore) Append(ctx context.Context, r domain.Receipt) (int64, error) {
	const query = `
		INSERT INTO receipts (trade_id, seq, direction, kind, envelope, envelope_id, received_at)
		SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4, $5, $6
		FROM receipts WHERE trade_id = $1
		RETURNING seq`

	receivedAt := r.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	var seq int64
	err := s.pool.QueryRow(ctx, query,
		r.TradeID, r.Direction, string(r.Kind), r.Envelope, r.EnvelopeID, receivedAt,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("postgres: append receipt for %s: %w", r.TradeID, err)
	}
	return seq, nil
}

// ListByTrade returns the receipts of a trade in sequence order.
func (s *ReceiptStore) ListByTrade(ctx context.Context, tradeID string, opts domain.ListOpts) ([]domain.Receipt, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 1000
	}
	query := fmt.Sprintf(`
		SELECT %s FROM receipts
		WHERE trade_id = $1
		ORDER BY seq ASC
		LIMIT $2 OFFSET $3`, receiptSelectCols)

	rows, err := s.pool.Query(ctx, query, tradeID, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list receipts for %s: %w", tradeID, err)
	}
	defer rows.Close()
	return scanReceiptRows(rows)
}

// ListBefore returns up to limit receipts received before the cutoff, for
// the archiver.
func (s *ReceiptStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Receipt, error) {
	if limit <= 0 {
		limit = 1000
	}
	query := fmt.Sprintf(`
		SELECT %s FROM receipts
		WHERE received_at < $1
		ORDER BY received_at ASC
		LIMIT $2`, receiptSelectCols)

	rows, err := s.pool.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list receipts before %s: %w", before, err)
	}
	defer rows.Close()
	return scanReceiptRows(rows)
}

// DeleteBefore prunes receipts received before the cutoff and returns the
// number of rows removed.
func (s *ReceiptStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM receipts WHERE received_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete receipts before %s: %w", before, err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.ReceiptStore = (*ReceiptStore)(nil)
