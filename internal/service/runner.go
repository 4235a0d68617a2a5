// Package service orchestrates swaps: the runner serializes envelope
// processing per trade and persists receipts; the maker and taker flows
// drive the negotiation and settlement over the sidechannel.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/intercomswap/swapd/internal/crypto"
	"github.com/intercomswap/swapd/internal/domain"
	"github.com/intercomswap/swapd/internal/envelope"
	"github.com/intercomswap/swapd/internal/notify"
	"github.com/intercomswap/swapd/internal/trade"
)

// Runner owns the live trade records. Every mutation goes through the pure
// state machine under a per-trade lock, so envelopes for one trade are
// linearized while different trades proceed in parallel.
type Runner struct {
	keys     *crypto.Keypair
	bus      domain.Sidechannel
	receipts domain.ReceiptStore
	trades   domain.TradeStore
	locks    domain.LockManager
	notifier *notify.Notifier
	metrics  *Metrics
	logger   *slog.Logger
	now      func() int64

	mu   sync.Mutex
	live map[string]*domain.Trade
}

// RunnerConfig wires a Runner.
type RunnerConfig struct {
	Keys     *crypto.Keypair
	Bus      domain.Sidechannel
	Receipts domain.ReceiptStore
	Trades   domain.TradeStore
	Locks    domain.LockManager
	Notifier *notify.Notifier
	Metrics  *Metrics
	Logger   *slog.Logger
	Now      func() int64
}

// NewRunner constructs a Runner.
func NewRunner(cfg RunnerConfig) *Runner {
	now := cfg.Now
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	return &Runner{
		keys:     cfg.Keys,
		bus:      cfg.Bus,
		receipts: cfg.Receipts,
		trades:   cfg.Trades,
		locks:    cfg.Locks,
		notifier: cfg.Notifier,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger.With(slog.String("component", "trade_runner")),
		now:      now,
		live:     make(map[string]*domain.Trade),
	}
}

// Trade returns a clone of the live record for tradeID.
func (r *Runner) Trade(tradeID string) (*domain.Trade, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.live[tradeID]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// stateKinds are the envelope kinds the state machine consumes; the
// negotiation kinds before TERMS only produce receipts and flow state.
func stateKind(k domain.Kind) bool {
	switch k {
	case domain.KindTerms, domain.KindAccept, domain.KindLNInvoice,
		domain.KindSolEscrowCreated, domain.KindLNPaid, domain.KindSolClaimed,
		domain.KindCancel:
		return true
	default:
		return false
	}
}

// HandleIncoming decodes and processes one raw envelope delivered on the
// sidechannel. Protocol and state rejections are logged and counted, never
// fatal: the envelope is simply not applied.
func (r *Runner) HandleIncoming(ctx context.Context, raw []byte) (domain.Signed, error) {
	env, err := envelope.Decode(raw)
	if err != nil {
		r.reject(err)
		return domain.Signed{}, err
	}
	if !stateKind(env.Kind) {
		// Negotiation envelope: record the receipt, the flow layer owns it.
		if err := r.record(ctx, "in", env, raw); err != nil {
			return domain.Signed{}, err
		}
		return env, nil
	}
	if err := r.applyAndPersist(ctx, env, raw, "in"); err != nil {
		return domain.Signed{}, err
	}
	return env, nil
}

// Emit signs an unsigned envelope, applies it locally when it is a
// state-machine kind, persists the outgoing receipt, and publishes it.
func (r *Runner) Emit(ctx context.Context, channel string, u domain.Unsigned, opts domain.SendOpts) (domain.Signed, error) {
	env, err := envelope.Sign(u, r.keys.Private())
	if err != nil {
		return domain.Signed{}, err
	}
	raw, err := envelope.Encode(env)
	if err != nil {
		return domain.Signed{}, err
	}

	if stateKind(env.Kind) {
		if err := r.applyAndPersist(ctx, env, raw, "out"); err != nil {
			return domain.Signed{}, err
		}
	} else if err := r.record(ctx, "out", env, raw); err != nil {
		return domain.Signed{}, err
	}

	if err := r.bus.Send(ctx, channel, raw, opts); err != nil {
		return domain.Signed{}, fmt.Errorf("runner: send %s on %s: %w", env.Kind, channel, err)
	}
	return env, nil
}

// applyAndPersist linearizes the apply under the per-trade lock and writes
// the receipt and snapshot on success.
func (r *Runner) applyAndPersist(ctx context.Context, env domain.Signed, raw []byte, direction string) error {
	unlock, err := r.locks.Acquire(ctx, "trade:"+env.TradeID)
	if err != nil {
		return fmt.Errorf("runner: lock trade %s: %w", env.TradeID, err)
	}
	defer unlock()

	r.mu.Lock()
	t, ok := r.live[env.TradeID]
	r.mu.Unlock()
	if !ok {
		t = trade.New(env.TradeID)
	}

	next, err := trade.Apply(t, env, r.now())
	if err != nil {
		r.reject(err)
		r.logger.Warn("envelope rejected",
			slog.String("trade_id", env.TradeID),
			slog.String("kind", string(env.Kind)),
			slog.String("error", err.Error()),
		)
		return err
	}
	if next == t {
		// Idempotent replay or STATUS; nothing new to persist.
		return nil
	}

	if err := r.record(ctx, direction, env, raw); err != nil {
		return err
	}
	if err := r.trades.Upsert(ctx, domain.TradeSnapshot{
		TradeID:     next.ID,
		State:       next.State,
		TermsHash:   next.TermsHash,
		PaymentHash: next.PaymentHash,
		UpdatedAt:   time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("runner: snapshot %s: %w", next.ID, err)
	}

	r.mu.Lock()
	r.live[next.ID] = next
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.EnvelopesApplied.WithLabelValues(string(env.Kind)).Inc()
	}
	r.logger.Info("trade advanced",
		slog.String("trade_id", next.ID),
		slog.String("kind", string(env.Kind)),
		slog.String("state", string(next.State)),
	)
	if next.State.Terminal() {
		r.onTerminal(ctx, next)
	}
	return nil
}

// ObserveRefund folds a confirmed on-chain refund into the trade record.
func (r *Runner) ObserveRefund(ctx context.Context, tradeID string) error {
	unlock, err := r.locks.Acquire(ctx, "trade:"+tradeID)
	if err != nil {
		return err
	}
	defer unlock()

	r.mu.Lock()
	t, ok := r.live[tradeID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("runner: trade %s: %w", tradeID, domain.ErrNotFound)
	}
	next, err := trade.ObserveRefund(t)
	if err != nil {
		return err
	}
	if next == t {
		return nil
	}
	if err := r.trades.Upsert(ctx, domain.TradeSnapshot{
		TradeID:     next.ID,
		State:       next.State,
		TermsHash:   next.TermsHash,
		PaymentHash: next.PaymentHash,
		UpdatedAt:   time.Now().UTC(),
	}); err != nil {
		return err
	}
	r.mu.Lock()
	r.live[tradeID] = next
	r.mu.Unlock()
	r.onTerminal(ctx, next)
	return nil
}

// MarkInconsistent freezes a trade after a fatal chain/record divergence.
func (r *Runner) MarkInconsistent(ctx context.Context, tradeID, reason string) {
	r.mu.Lock()
	t, ok := r.live[tradeID]
	if ok {
		next := t.Clone()
		next.State = domain.StateInconsistent
		r.live[tradeID] = next
		t = next
	}
	r.mu.Unlock()
	r.logger.Error("trade inconsistent",
		slog.String("trade_id", tradeID),
		slog.String("reason", reason),
	)
	if ok {
		_ = r.trades.Upsert(ctx, domain.TradeSnapshot{
			TradeID:     tradeID,
			State:       domain.StateInconsistent,
			TermsHash:   t.TermsHash,
			PaymentHash: t.PaymentHash,
			UpdatedAt:   time.Now().UTC(),
		})
	}
	if r.notifier != nil {
		_ = r.notifier.Notify(ctx, notify.EventInconsistent,
			"trade inconsistent", fmt.Sprintf("trade %s: %s", tradeID, reason))
	}
}

// Cancel emits a CANCEL for the trade on the given channel.
func (r *Runner) Cancel(ctx context.Context, channel, tradeID, reason string, opts domain.SendOpts) error {
	_, err := r.Emit(ctx, channel, domain.Unsigned{
		V:       domain.ProtocolVersion,
		Kind:    domain.KindCancel,
		TradeID: tradeID,
		Body:    domain.CancelBody{Reason: reason},
	}, opts)
	return err
}

// EmitStatus publishes an informational STATUS for counterparty resync.
func (r *Runner) EmitStatus(ctx context.Context, channel, tradeID, note string, opts domain.SendOpts) {
	t, ok := r.Trade(tradeID)
	state := domain.StateInit
	if ok {
		state = t.State
	}
	if _, err := r.Emit(ctx, channel, domain.Unsigned{
		V:       domain.ProtocolVersion,
		Kind:    domain.KindStatus,
		TradeID: tradeID,
		Body:    domain.StatusBody{State: string(state), Note: note},
	}, opts); err != nil {
		r.logger.Debug("status emit failed", slog.String("error", err.Error()))
	}
}

func (r *Runner) record(ctx context.Context, direction string, env domain.Signed, raw []byte) error {
	envID, err := envelope.Hash(env.Unsigned())
	if err != nil {
		return err
	}
	if _, err := r.receipts.Append(ctx, domain.Receipt{
		TradeID:    env.TradeID,
		Direction:  direction,
		Kind:       env.Kind,
		Envelope:   raw,
		EnvelopeID: envID,
		ReceivedAt: time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("runner: append receipt: %w", err)
	}
	return nil
}

func (r *Runner) onTerminal(ctx context.Context, t *domain.Trade) {
	if r.metrics != nil {
		r.metrics.TradesTerminal.WithLabelValues(string(t.State)).Inc()
	}
	if r.notifier == nil {
		return
	}
	switch t.State {
	case domain.StateClaimed:
		_ = r.notifier.Notify(ctx, notify.EventTradeSettled,
			"swap settled", fmt.Sprintf("trade %s claimed", t.ID))
	case domain.StateCancelled:
		_ = r.notifier.Notify(ctx, notify.EventTradeCancel,
			"swap cancelled", fmt.Sprintf("trade %s: %s", t.ID, t.CancelReason))
	case domain.StateRefunded:
		_ = r.notifier.Notify(ctx, notify.EventTradeRefunded,
			"swap refunded", fmt.Sprintf("trade %s refunded after timeout", t.ID))
	}
}

func (r *Runner) reject(err error) {
	if r.metrics == nil {
		return
	}
	r.metrics.EnvelopesRejected.WithLabelValues(rejectReason(err)).Inc()
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrBadSig):
		return "bad_sig"
	case errors.Is(err, domain.ErrSchemaInvalid):
		return "schema_invalid"
	case errors.Is(err, domain.ErrUnknownKind):
		return "unknown_kind"
	case errors.Is(err, domain.ErrWrongTradeID):
		return "wrong_trade_id"
	case errors.Is(err, domain.ErrIllegalTransition):
		return "illegal_transition"
	case errors.Is(err, domain.ErrMismatchedBinding):
		return "mismatched_binding"
	case errors.Is(err, domain.ErrDuplicateTerms):
		return "duplicate_terms"
	case errors.Is(err, domain.ErrStaleExpiry):
		return "stale_expiry"
	case errors.Is(err, domain.ErrAlreadyApplied):
		return "already_applied"
	default:
		return "other"
	}
}
