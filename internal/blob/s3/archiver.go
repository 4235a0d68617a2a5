package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/intercomswap/swapd/internal/domain"
)

// Archiver implements domain.Archiver: receipts past the retention cutoff
// are serialized to JSONL, uploaded to object storage, and then pruned
// from the primary store. The upload happens before the delete, so a
// failed upload never loses receipts.
type Archiver struct {
	writer   domain.BlobWriter
	receipts domain.ReceiptStore
}

// NewArchiver creates an Archiver over the given writer and store.
func NewArchiver(writer domain.BlobWriter, receipts domain.ReceiptStore) *Archiver {
	return &Archiver{writer: writer, receipts: receipts}
}

// archiveBatch bounds how many receipts one object holds.
const archiveBatch = 5000

type archivedReceipt struct {
	TradeID    string    `json:"trade_id"`
	Seq        int64     `json:"seq"`
	Direction  string    `json:"direction"`
	Kind       string    `json:"kind"`
	Envelope   []byte    `json:"envelope"`
	EnvelopeID string    `json:"envelope_id"`
	ReceivedAt time.Time `json:"received_at"`
}

// ArchiveReceipts exports receipts received before the cutoff and removes
// them from the store. It returns the number of receipts archived.
func (a *Archiver) ArchiveReceipts(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for {
		batch, err := a.receipts.ListBefore(ctx, before, archiveBatch)
		if err != nil {
			return total, fmt.Errorf("s3blob: list receipts: %w", err)
		}
		if len(batch) == 0 {
			return total, nil
		}

		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		var lastSeen time.Time
		for _, r := range batch {
			if err := enc.Encode(archivedReceipt{
				TradeID:    r.TradeID,
				Seq:        r.Seq,
				Direction:  r.Direction,
				Kind:       string(r.Kind),
				Envelope:   r.Envelope,
				EnvelopeID: r.EnvelopeID,
				ReceivedAt: r.ReceivedAt,
			}); err != nil {
				return total, fmt.Errorf("s3blob: encode receipt: %w", err)
			}
			lastSeen = r.ReceivedAt
		}

		path := fmt.Sprintf("receipts/%s/%d.jsonl",
			lastSeen.UTC().Format("2006/01/02"), lastSeen.UnixNano())
		if err := a.writer.Put(ctx, path, &buf, "application/x-ndjson"); err != nil {
			return total, fmt.Errorf("s3blob: upload archive: %w", err)
		}

		// Delete only what this batch covered; anything newer waits for
		// the next call.
		cutoff := lastSeen.Add(time.Nanosecond)
		if cutoff.After(before) {
			cutoff = before
		}
		removed, err := a.receipts.DeleteBefore(ctx, cutoff)
		if err != nil {
			return total, fmt.Errorf("s3blob: prune receipts: %w", err)
		}
		total += removed
		if len(batch) < archiveBatch {
			return total, nil
		}
	}
}

var _ domain.Archiver = (*Archiver)(nil)
