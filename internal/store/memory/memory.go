// Package memory provides in-process store implementations for simnet
// mode and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/intercomswap/swapd/internal/domain"
)

// ReceiptStore is an in-memory domain.ReceiptStore.
type ReceiptStore struct {
	mu       sync.Mutex
	receipts map[string][]domain.Receipt // trade_id -> ordered receipts
}

// NewReceiptStore returns an empty store.
func NewReceiptStore() *ReceiptStore {
	return &ReceiptStore{receipts: make(map[string][]domain.Receipt)}
}

// Append assigns the next sequence number and stores the receipt.
func (s *ReceiptStore) Append(_ context.Context, r domain.Receipt) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.Seq = int64(len(s.receipts[r.TradeID]) + 1)
	if r.ReceivedAt.IsZero() {
		r.ReceivedAt = time.Now().UTC()
	}
	s.receipts[r.TradeID] = append(s.receipts[r.TradeID], r)
	return r.Seq, nil
}

// ListByTrade returns the receipts of a trade in sequence order.
func (s *ReceiptStore) ListByTrade(_ context.Context, tradeID string, opts domain.ListOpts) ([]domain.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.receipts[tradeID]
	start := opts.Offset
	if start > len(all) {
		start = len(all)
	}
	end := len(all)
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}
	out := make([]domain.Receipt, end-start)
	copy(out, all[start:end])
	return out, nil
}

// ListBefore returns receipts older than the cutoff across all trades.
func (s *ReceiptStore) ListBefore(_ context.Context, before time.Time, limit int) ([]domain.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Receipt
	for _, rs := range s.receipts {
		for _, r := range rs {
			if r.ReceivedAt.Before(before) {
				out = append(out, r)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteBefore prunes receipts older than the cutoff.
func (s *ReceiptStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for id, rs := range s.receipts {
		kept := rs[:0]
		for _, r := range rs {
			if r.ReceivedAt.Before(before) {
				removed++
				continue
			}
			kept = append(kept, r)
		}
		s.receipts[id] = kept
	}
	return removed, nil
}

// TradeStore is an in-memory domain.TradeStore.
type TradeStore struct {
	mu    sync.Mutex
	snaps map[string]domain.TradeSnapshot
}

// NewTradeStore returns an empty store.
func NewTradeStore() *TradeStore {
	return &TradeStore{snaps: make(map[string]domain.TradeSnapshot)}
}

// Upsert stores the snapshot.
func (s *TradeStore) Upsert(_ context.Context, snap domain.TradeSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now().UTC()
	}
	s.snaps[snap.TradeID] = snap
	return nil
}

// Get returns the snapshot for tradeID.
func (s *TradeStore) Get(_ context.Context, tradeID string) (domain.TradeSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[tradeID]
	if !ok {
		return domain.TradeSnapshot{}, fmt.Errorf("memory: trade %s: %w", tradeID, domain.ErrNotFound)
	}
	return snap, nil
}

// List returns snapshots ordered by most recent update.
func (s *TradeStore) List(_ context.Context, opts domain.ListOpts) ([]domain.TradeSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.TradeSnapshot, 0, len(s.snaps))
	for _, snap := range s.snaps {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

var (
	_ domain.ReceiptStore = (*ReceiptStore)(nil)
	_ domain.TradeStore   = (*TradeStore)(nil)
)
