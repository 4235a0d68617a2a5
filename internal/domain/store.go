package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// Receipt is one appended envelope, sent or received, in the durable log.
// Seq is monotonic per trade; (TradeID, Seq) is the primary key.
type Receipt struct {
	TradeID    string
	Seq        int64
	Direction  string // "in" or "out"
	Kind       Kind
	Envelope   []byte // signed envelope wire bytes
	EnvelopeID string // hash of the unsigned envelope, hex
	ReceivedAt time.Time
}

// ReceiptStore is the append-only log of envelopes. Trade snapshots are
// derivable from it by replay.
type ReceiptStore interface {
	Append(ctx context.Context, r Receipt) (seq int64, err error)
	ListByTrade(ctx context.Context, tradeID string, opts ListOpts) ([]Receipt, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]Receipt, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// TradeSnapshot is the persisted materialization of a Trade for cheap
// reads; it can always be rebuilt from receipts.
type TradeSnapshot struct {
	TradeID     string
	State       TradeState
	TermsHash   string
	PaymentHash string
	UpdatedAt   time.Time
}

// TradeStore persists derived trade snapshots.
type TradeStore interface {
	Upsert(ctx context.Context, snap TradeSnapshot) error
	Get(ctx context.Context, tradeID string) (TradeSnapshot, error)
	List(ctx context.Context, opts ListOpts) ([]TradeSnapshot, error)
}
