package service

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/intercomswap/swapd/internal/domain"
	"github.com/intercomswap/swapd/internal/envelope"
	"github.com/intercomswap/swapd/internal/notify"
	"github.com/intercomswap/swapd/internal/verify"
)

// TakerConfig parameterizes the paying side.
type TakerConfig struct {
	RendezvousChannel string
	RendezvousWelcome string // owner welcome for the public channel, optional

	RFQTTLSec       int64
	SafetyMarginSec int64

	// Settlement coordinates of this peer.
	SolRecipient string // this peer's Solana address, receives the USDT
	LNNodePubkey string // this peer's Lightning node id, hex
}

// SwapRequest is one swap the taker wants to execute.
type SwapRequest struct {
	BTCSats    uint64
	USDTAmount string
}

// Taker is the client side of a swap: it posts the RFQ, accepts a quote,
// joins the private channel, accepts terms, verifies the escrow on chain,
// pays the invoice, and claims the escrow with the revealed preimage.
type Taker struct {
	cfg    TakerConfig
	runner *Runner
	bus    domain.Sidechannel
	ln     domain.LightningRPC
	chain  domain.ChainReader
	escrow EscrowSettler
	logger *slog.Logger
	now    func() int64

	mu      sync.Mutex
	pending map[string]*takerSwap // trade_id -> session
}

type takerSwap struct {
	rfqID   string
	quoteID string
	channel string
	invite  string
	done    chan domain.TradeState
}

// NewTaker wires a Taker.
func NewTaker(cfg TakerConfig, runner *Runner, bus domain.Sidechannel, ln domain.LightningRPC,
	chain domain.ChainReader, settler EscrowSettler, logger *slog.Logger) *Taker {
	return &Taker{
		cfg:     cfg,
		runner:  runner,
		bus:     bus,
		ln:      ln,
		chain:   chain,
		escrow:  settler,
		logger:  logger.With(slog.String("component", "taker")),
		now:     runner.now,
		pending: make(map[string]*takerSwap),
	}
}

// Run joins the rendezvous channel and dispatches deliveries until ctx
// ends. Swaps are started with StartSwap while Run is live.
func (t *Taker) Run(ctx context.Context) error {
	if err := t.bus.Join(ctx, t.cfg.RendezvousChannel, domain.JoinOpts{Welcome: t.cfg.RendezvousWelcome}); err != nil {
		return fmt.Errorf("taker: join rendezvous: %w", err)
	}
	msgs, err := t.bus.Subscribe(ctx, []string{t.cfg.RendezvousChannel})
	if err != nil {
		return fmt.Errorf("taker: subscribe rendezvous: %w", err)
	}
	t.logger.Info("taker running", slog.String("channel", t.cfg.RendezvousChannel))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return domain.ErrDisconnected
			}
			t.handle(ctx, msg)
		}
	}
}

// StartSwap posts an RFQ and returns the new trade id together with a
// channel that yields the terminal state.
func (t *Taker) StartSwap(ctx context.Context, req SwapRequest) (string, <-chan domain.TradeState, error) {
	tradeID := uuid.New().String()
	done := make(chan domain.TradeState, 1)
	swap := &takerSwap{done: done}
	// Register before the RFQ leaves so the quote can never outrun the
	// session.
	t.mu.Lock()
	t.pending[tradeID] = swap
	t.mu.Unlock()

	env, err := t.runner.Emit(ctx, t.cfg.RendezvousChannel, domain.Unsigned{
		V:       domain.ProtocolVersion,
		Kind:    domain.KindRFQ,
		TradeID: tradeID,
		Body: domain.RFQBody{
			Pair:           domain.PairBTCLNUSDTSOL,
			Direction:      domain.DirectionBTCToUSDT,
			BTCSats:        req.BTCSats,
			USDTAmount:     req.USDTAmount,
			ValidUntilUnix: t.now() + t.cfg.RFQTTLSec,
		},
	}, domain.SendOpts{})
	if err != nil {
		t.mu.Lock()
		delete(t.pending, tradeID)
		t.mu.Unlock()
		return "", nil, err
	}
	rfqID, err := envelope.Hash(env.Unsigned())
	if err != nil {
		t.mu.Lock()
		delete(t.pending, tradeID)
		t.mu.Unlock()
		return "", nil, err
	}
	t.mu.Lock()
	swap.rfqID = rfqID
	t.mu.Unlock()
	return tradeID, done, nil
}

func (t *Taker) handle(ctx context.Context, msg domain.SidechannelMessage) {
	env, err := t.runner.HandleIncoming(ctx, msg.Payload)
	if err != nil {
		return
	}

	t.mu.Lock()
	swap, mine := t.pending[env.TradeID]
	t.mu.Unlock()
	if !mine {
		return
	}

	switch body := env.Body.(type) {
	case domain.QuoteBody:
		t.onQuote(ctx, env, body, swap)
	case domain.SwapInviteBody:
		t.onSwapInvite(ctx, env, body, swap)
	case domain.TermsBody:
		t.onTerms(ctx, env, swap)
	case domain.SolEscrowCreatedBody:
		t.onEscrowCreated(ctx, env, swap)
	case domain.CancelBody:
		t.finish(env.TradeID, swap, domain.StateCancelled)
	case domain.LNInvoiceBody:
		// Recorded by the runner; settlement starts once the escrow shows.
	}
}

func (t *Taker) onQuote(ctx context.Context, env domain.Signed, body domain.QuoteBody, swap *takerSwap) {
	if body.ValidUntilUnix < t.now() {
		return
	}
	quoteID, err := envelope.Hash(env.Unsigned())
	if err != nil {
		return
	}
	t.mu.Lock()
	rfqID := swap.rfqID
	taken := swap.quoteID != "" || body.RFQID != rfqID
	if !taken {
		swap.quoteID = quoteID
	}
	t.mu.Unlock()
	if taken {
		return
	}

	if _, err := t.runner.Emit(ctx, t.cfg.RendezvousChannel, domain.Unsigned{
		V:       domain.ProtocolVersion,
		Kind:    domain.KindQuoteAccept,
		TradeID: env.TradeID,
		Body: domain.QuoteAcceptBody{
			RFQID:        rfqID,
			QuoteID:      quoteID,
			SolRecipient: t.cfg.SolRecipient,
			LNPayerPeer:  t.cfg.LNNodePubkey,
		},
	}, domain.SendOpts{}); err != nil {
		t.logger.Warn("quote accept emit failed", slog.String("error", err.Error()))
	}
}

func (t *Taker) onSwapInvite(ctx context.Context, env domain.Signed, body domain.SwapInviteBody, swap *takerSwap) {
	if body.RFQID != swap.rfqID || body.QuoteID != swap.quoteID {
		t.logger.Warn("swap invite references wrong negotiation", slog.String("trade_id", env.TradeID))
		return
	}
	if err := t.bus.Join(ctx, body.SwapChannel, domain.JoinOpts{
		Invite:  body.Invite,
		Welcome: body.Welcome,
	}); err != nil {
		t.logger.Error("join swap channel", slog.String("error", err.Error()))
		return
	}
	msgs, err := t.bus.Subscribe(ctx, []string{body.SwapChannel})
	if err != nil {
		t.logger.Error("subscribe swap channel", slog.String("error", err.Error()))
		return
	}
	t.mu.Lock()
	swap.channel = body.SwapChannel
	swap.invite = body.Invite
	t.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				t.handle(ctx, msg)
			}
		}
	}()

	// Signal the join so the service knows the channel is live before it
	// proposes terms.
	t.runner.EmitStatus(ctx, body.SwapChannel, env.TradeID, "joined", domain.SendOpts{})
}

// onTerms checks the proposed terms against what was quoted before
// accepting them by hash.
func (t *Taker) onTerms(ctx context.Context, env domain.Signed, swap *takerSwap) {
	rec, ok := t.runner.Trade(env.TradeID)
	if !ok || rec.State != domain.StateTerms || rec.Terms == nil {
		return
	}
	terms := rec.Terms
	if terms.SolRecipient != t.cfg.SolRecipient {
		t.cancel(ctx, swap, env.TradeID, "terms recipient is not ours")
		return
	}
	if terms.LNPayerPeer != t.cfg.LNNodePubkey {
		t.cancel(ctx, swap, env.TradeID, "terms payer peer is not ours")
		return
	}
	if _, err := t.runner.Emit(ctx, swap.channel, domain.Unsigned{
		V:       domain.ProtocolVersion,
		Kind:    domain.KindAccept,
		TradeID: env.TradeID,
		Body:    domain.AcceptBody{TermsHash: rec.TermsHash},
	}, domain.SendOpts{}); err != nil {
		t.logger.Error("accept emit failed", slog.String("error", err.Error()))
	}
}

// onEscrowCreated is the safety pivot: verify on chain, then pay, then
// claim. Any verification failure refuses payment and cancels.
func (t *Taker) onEscrowCreated(ctx context.Context, env domain.Signed, swap *takerSwap) {
	rec, ok := t.runner.Trade(env.TradeID)
	if !ok || rec.State != domain.StateEscrow || rec.Terms == nil || rec.Invoice == nil || rec.Escrow == nil {
		return
	}

	err := verify.PrePay(ctx, t.chain, verify.Params{
		Terms:           *rec.Terms,
		Invoice:         *rec.Invoice,
		Escrow:          *rec.Escrow,
		SafetyMarginSec: t.cfg.SafetyMarginSec,
	}, t.now())
	if err != nil {
		if t.runner.metrics != nil {
			t.runner.metrics.VerifyFailures.Inc()
		}
		t.logger.Error("pre-pay verification failed",
			slog.String("trade_id", env.TradeID),
			slog.String("error", err.Error()),
		)
		if t.runner.notifier != nil {
			_ = t.runner.notifier.Notify(ctx, notify.EventVerifyFailed,
				"pre-pay verification failed", env.TradeID+": "+err.Error())
		}
		t.cancel(ctx, swap, env.TradeID, "escrow verification failed: "+err.Error())
		return
	}

	var payment domain.Payment
	err = withRetry(ctx, func() error {
		var err error
		payment, err = t.ln.Pay(ctx, rec.Invoice.Bolt11)
		return err
	})
	if err != nil {
		t.cancel(ctx, swap, env.TradeID, "lightning payment failed: "+err.Error())
		return
	}
	if payment.PaymentHashHex != rec.PaymentHash {
		// A settled payment whose hash is not the negotiated one means the
		// node and the record disagree about reality; freeze.
		t.runner.MarkInconsistent(ctx, env.TradeID, "settled payment hash differs from negotiated hash")
		return
	}

	if _, err := t.runner.Emit(ctx, swap.channel, domain.Unsigned{
		V:       domain.ProtocolVersion,
		Kind:    domain.KindLNPaid,
		TradeID: env.TradeID,
		Body: domain.LNPaidBody{
			PaymentHashHex: payment.PaymentHashHex,
			PreimageHex:    payment.PreimageHex,
		},
	}, domain.SendOpts{}); err != nil {
		t.logger.Error("ln_paid emit failed", slog.String("error", err.Error()))
		return
	}

	var preimage [32]byte
	raw, err := hex.DecodeString(payment.PreimageHex)
	if err != nil || len(raw) != 32 {
		t.runner.MarkInconsistent(ctx, env.TradeID, "node returned malformed preimage")
		return
	}
	copy(preimage[:], raw)

	rec, _ = t.runner.Trade(env.TradeID)
	var txSig string
	err = withRetry(ctx, func() error {
		var err error
		txSig, err = t.escrow.ClaimEscrow(ctx, rec, preimage)
		return err
	})
	if err != nil {
		// Funds are safe: the preimage is known, the claim can be retried
		// by the operator any time before the refund cliff.
		t.logger.Error("claim failed", slog.String("trade_id", env.TradeID), slog.String("error", err.Error()))
		return
	}

	if _, err := t.runner.Emit(ctx, swap.channel, domain.Unsigned{
		V:       domain.ProtocolVersion,
		Kind:    domain.KindSolClaimed,
		TradeID: env.TradeID,
		Body: domain.SolClaimedBody{
			PaymentHashHex: payment.PaymentHashHex,
			EscrowPDA:      rec.Escrow.EscrowPDA,
			TxSig:          txSig,
		},
	}, domain.SendOpts{}); err != nil {
		t.logger.Error("sol_claimed emit failed", slog.String("error", err.Error()))
		return
	}
	t.finish(env.TradeID, swap, domain.StateClaimed)
}

func (t *Taker) cancel(ctx context.Context, swap *takerSwap, tradeID, reason string) {
	channel := swap.channel
	if channel == "" {
		channel = t.cfg.RendezvousChannel
	}
	if err := t.runner.Cancel(ctx, channel, tradeID, reason, domain.SendOpts{}); err != nil {
		t.logger.Error("cancel emit failed", slog.String("error", err.Error()))
	}
	t.finish(tradeID, swap, domain.StateCancelled)
}

func (t *Taker) finish(tradeID string, swap *takerSwap, state domain.TradeState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pending[tradeID]; !ok {
		return
	}
	delete(t.pending, tradeID)
	select {
	case swap.done <- state:
	default:
	}
}
