package service

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/intercomswap/swapd/internal/domain"
	"github.com/intercomswap/swapd/internal/envelope"
	"github.com/intercomswap/swapd/internal/notify"
	"github.com/intercomswap/swapd/internal/sidechannel"
)

// MakerConfig parameterizes the quoting side.
type MakerConfig struct {
	RendezvousChannel string
	// MaxBTCSats caps the size of a single swap; zero disables the cap.
	MaxBTCSats uint64
	// QuoteTTLSec / InviteTTLSec / TermsTTLSec bound negotiation freshness.
	QuoteTTLSec  int64
	InviteTTLSec int64
	TermsTTLSec  int64
	// RefundWindowSec is how far out the escrow refund cliff is placed.
	RefundWindowSec int64

	// Settlement coordinates of this peer.
	SolMint      string
	SolRefund    string // this peer's Solana address
	USDTDecimals uint8
	LNNodePubkey string // this peer's Lightning node id, hex
}

// Maker is the service side of a swap: it answers RFQs with quotes, opens
// the private swap channel, proposes terms, issues the Lightning invoice,
// funds the escrow, and refunds it when the client never pays.
type Maker struct {
	cfg    MakerConfig
	runner *Runner
	bus    domain.Sidechannel
	ln     domain.LightningRPC
	escrow EscrowCreator
	refund EscrowSettler
	logger *slog.Logger
	now    func() int64

	mu     sync.Mutex
	rfqs   map[string]domain.Signed // rfq_id -> RFQ envelope
	quotes map[string]domain.Signed // quote_id -> our QUOTE envelope
	swaps  map[string]*makerSwap    // trade_id -> swap session
}

type makerSwap struct {
	channel   string
	invite    string // our own admission invite (owner-side)
	terms     domain.TermsBody
	sentTerms bool
}

// NewMaker wires a Maker.
func NewMaker(cfg MakerConfig, runner *Runner, bus domain.Sidechannel, ln domain.LightningRPC,
	creator EscrowCreator, settler EscrowSettler, logger *slog.Logger) *Maker {
	return &Maker{
		cfg:    cfg,
		runner: runner,
		bus:    bus,
		ln:     ln,
		escrow: creator,
		refund: settler,
		logger: logger.With(slog.String("component", "maker")),
		now:    runner.now,
		rfqs:   make(map[string]domain.Signed),
		quotes: make(map[string]domain.Signed),
		swaps:  make(map[string]*makerSwap),
	}
}

// Run subscribes to the rendezvous channel and serves swaps until ctx
// ends.
func (m *Maker) Run(ctx context.Context) error {
	msgs, err := m.bus.Subscribe(ctx, []string{m.cfg.RendezvousChannel})
	if err != nil {
		return fmt.Errorf("maker: subscribe rendezvous: %w", err)
	}
	m.logger.Info("maker serving", slog.String("channel", m.cfg.RendezvousChannel))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return domain.ErrDisconnected
			}
			m.handle(ctx, msg)
		}
	}
}

func (m *Maker) handle(ctx context.Context, msg domain.SidechannelMessage) {
	env, err := m.runner.HandleIncoming(ctx, msg.Payload)
	if err != nil {
		return
	}
	switch body := env.Body.(type) {
	case domain.RFQBody:
		m.onRFQ(ctx, env, body)
	case domain.QuoteAcceptBody:
		m.onQuoteAccept(ctx, env, body)
	case domain.StatusBody:
		m.onPeerStatus(ctx, env)
	case domain.AcceptBody:
		m.onAccept(ctx, env)
	case domain.LNPaidBody, domain.SolClaimedBody, domain.CancelBody:
		// Applied by the runner; nothing further to drive here.
	}
}

func (m *Maker) onRFQ(ctx context.Context, env domain.Signed, body domain.RFQBody) {
	if body.ValidUntilUnix < m.now() {
		m.logger.Debug("ignoring stale rfq", slog.String("trade_id", env.TradeID))
		return
	}
	if body.Direction != domain.DirectionBTCToUSDT {
		return
	}
	if m.cfg.MaxBTCSats > 0 && body.BTCSats > m.cfg.MaxBTCSats {
		m.logger.Info("rfq above size cap", slog.Uint64("btc_sats", body.BTCSats))
		return
	}
	rfqID, err := envelope.Hash(env.Unsigned())
	if err != nil {
		return
	}
	m.mu.Lock()
	m.rfqs[rfqID] = env
	m.mu.Unlock()

	quote, err := m.runner.Emit(ctx, m.cfg.RendezvousChannel, domain.Unsigned{
		V:       domain.ProtocolVersion,
		Kind:    domain.KindQuote,
		TradeID: env.TradeID,
		Body: domain.QuoteBody{
			Pair:           body.Pair,
			Direction:      body.Direction,
			BTCSats:        body.BTCSats,
			USDTAmount:     body.USDTAmount,
			RFQID:          rfqID,
			ValidUntilUnix: m.now() + m.cfg.QuoteTTLSec,
		},
	}, domain.SendOpts{})
	if err != nil {
		m.logger.Warn("quote emit failed", slog.String("error", err.Error()))
		return
	}
	quoteID, err := envelope.Hash(quote.Unsigned())
	if err != nil {
		return
	}
	m.mu.Lock()
	m.quotes[quoteID] = quote
	m.mu.Unlock()
}

func (m *Maker) onQuoteAccept(ctx context.Context, env domain.Signed, body domain.QuoteAcceptBody) {
	m.mu.Lock()
	quote, haveQuote := m.quotes[body.QuoteID]
	rfq, haveRFQ := m.rfqs[body.RFQID]
	m.mu.Unlock()
	if !haveQuote || !haveRFQ {
		m.logger.Debug("accept for unknown quote", slog.String("quote_id", body.QuoteID))
		return
	}
	if body.SolRecipient == "" || body.LNPayerPeer == "" {
		m.logger.Warn("quote accept without settlement coordinates",
			slog.String("trade_id", env.TradeID))
		return
	}
	quoteBody := quote.Body.(domain.QuoteBody)
	if quoteBody.ValidUntilUnix < m.now() {
		m.logger.Info("quote expired before accept", slog.String("trade_id", env.TradeID))
		return
	}

	channel := sidechannel.SwapChannelPrefix + env.TradeID
	welcome, err := sidechannel.NewWelcome(channel, m.runner.keys.Private(), m.now())
	if err != nil {
		m.logger.Error("mint welcome", slog.String("error", err.Error()))
		return
	}
	expires := m.now() + m.cfg.InviteTTLSec
	selfInvite, err := sidechannel.NewInvite(channel, m.runner.keys.PubkeyHex(), m.runner.keys.Private(), expires)
	if err != nil {
		m.logger.Error("mint invite", slog.String("error", err.Error()))
		return
	}
	parsed, err := sidechannel.ParseInvite(selfInvite)
	if err != nil {
		return
	}
	clientInvite, err := sidechannel.ReInvite(parsed, env.SignerPubkey, m.runner.keys.Private(), expires)
	if err != nil {
		return
	}

	if err := m.bus.Join(ctx, channel, domain.JoinOpts{Invite: selfInvite, Welcome: welcome}); err != nil {
		m.logger.Error("join swap channel", slog.String("error", err.Error()))
		return
	}
	msgs, err := m.bus.Subscribe(ctx, []string{channel})
	if err != nil {
		m.logger.Error("subscribe swap channel", slog.String("error", err.Error()))
		return
	}
	go m.serveSwapChannel(ctx, msgs)

	rfqBody := rfq.Body.(domain.RFQBody)
	m.mu.Lock()
	m.swaps[env.TradeID] = &makerSwap{
		channel: channel,
		invite:  selfInvite,
		terms: domain.TermsBody{
			Pair:                rfqBody.Pair,
			Direction:           rfqBody.Direction,
			BTCSats:             rfqBody.BTCSats,
			USDTAmount:          rfqBody.USDTAmount,
			USDTDecimals:        m.cfg.USDTDecimals,
			SolMint:             m.cfg.SolMint,
			SolRecipient:        body.SolRecipient,
			SolRefund:           m.cfg.SolRefund,
			SolRefundAfterUnix:  m.now() + m.cfg.RefundWindowSec,
			LNReceiverPeer:      m.cfg.LNNodePubkey,
			LNPayerPeer:         body.LNPayerPeer,
			TermsValidUntilUnix: m.now() + m.cfg.TermsTTLSec,
		},
	}
	m.mu.Unlock()

	if _, err := m.runner.Emit(ctx, m.cfg.RendezvousChannel, domain.Unsigned{
		V:       domain.ProtocolVersion,
		Kind:    domain.KindSwapInvite,
		TradeID: env.TradeID,
		Body: domain.SwapInviteBody{
			RFQID:       body.RFQID,
			QuoteID:     body.QuoteID,
			SwapChannel: channel,
			OwnerPubkey: m.runner.keys.PubkeyHex(),
			Invite:      clientInvite,
			Welcome:     welcome,
		},
	}, domain.SendOpts{}); err != nil {
		m.logger.Error("swap invite emit failed", slog.String("error", err.Error()))
	}
	// TERMS wait for the client's join signal on the swap channel, so the
	// proposal cannot outrun the subscription.
}

// onPeerStatus reacts to the client's join signal by proposing terms.
func (m *Maker) onPeerStatus(ctx context.Context, env domain.Signed) {
	m.mu.Lock()
	swap, ok := m.swaps[env.TradeID]
	send := ok && !swap.sentTerms
	if send {
		swap.sentTerms = true
	}
	m.mu.Unlock()
	if !send {
		return
	}
	if _, err := m.runner.Emit(ctx, swap.channel, domain.Unsigned{
		V:       domain.ProtocolVersion,
		Kind:    domain.KindTerms,
		TradeID: env.TradeID,
		Body:    swap.terms,
	}, domain.SendOpts{}); err != nil {
		m.logger.Error("terms emit failed", slog.String("error", err.Error()))
	}
}

func (m *Maker) serveSwapChannel(ctx context.Context, msgs <-chan domain.SidechannelMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			m.handle(ctx, msg)
		}
	}
}

// onAccept is the settlement pivot: issue the invoice, fund the escrow,
// and arm the refund timer.
func (m *Maker) onAccept(ctx context.Context, env domain.Signed) {
	t, ok := m.runner.Trade(env.TradeID)
	if !ok || t.State != domain.StateAccepted || t.Terms == nil {
		return
	}
	m.mu.Lock()
	swap, ok := m.swaps[env.TradeID]
	m.mu.Unlock()
	if !ok {
		return
	}
	sendOpts := domain.SendOpts{}

	var inv domain.Invoice
	err := withRetry(ctx, func() error {
		var err error
		inv, err = m.ln.Invoice(ctx, t.Terms.BTCSats, "swap-"+env.TradeID, "intercomswap "+env.TradeID)
		return err
	})
	if err != nil {
		m.fail(ctx, swap.channel, env.TradeID, "invoice creation failed: "+err.Error())
		return
	}
	if _, err := m.runner.Emit(ctx, swap.channel, domain.Unsigned{
		V:       domain.ProtocolVersion,
		Kind:    domain.KindLNInvoice,
		TradeID: env.TradeID,
		Body: domain.LNInvoiceBody{
			Bolt11:         inv.Bolt11,
			PaymentHashHex: inv.PaymentHashHex,
			AmountMsat:     inv.AmountMsat,
		},
	}, sendOpts); err != nil {
		m.fail(ctx, swap.channel, env.TradeID, "invoice emit failed")
		return
	}

	var paymentHash [32]byte
	raw, err := hex.DecodeString(inv.PaymentHashHex)
	if err != nil || len(raw) != 32 {
		m.fail(ctx, swap.channel, env.TradeID, "node returned malformed payment hash")
		return
	}
	copy(paymentHash[:], raw)

	var created domain.SolEscrowCreatedBody
	err = withRetry(ctx, func() error {
		var err error
		created, err = m.escrow.CreateEscrow(ctx, paymentHash, *t.Terms)
		return err
	})
	if err != nil {
		m.fail(ctx, swap.channel, env.TradeID, "escrow creation failed: "+err.Error())
		return
	}
	if _, err := m.runner.Emit(ctx, swap.channel, domain.Unsigned{
		V:       domain.ProtocolVersion,
		Kind:    domain.KindSolEscrowCreated,
		TradeID: env.TradeID,
		Body:    created,
	}, sendOpts); err != nil {
		m.logger.Error("escrow emit failed", slog.String("error", err.Error()))
		return
	}

	go m.watchRefund(ctx, swap.channel, env.TradeID, t.Terms.SolRefundAfterUnix)
}

// watchRefund reclaims the escrow when the client has not paid by the
// refund cliff. A trade past ESCROW keeps its funds flowing forward: a
// settled Lightning payment means the client may still claim.
func (m *Maker) watchRefund(ctx context.Context, channel, tradeID string, refundAfter int64) {
	delay := time.Duration(refundAfter-m.now()+1) * time.Second
	if delay < 0 {
		delay = 0
	}
	select {
	case <-ctx.Done():
		return
	case <-time.After(delay):
	}

	t, ok := m.runner.Trade(tradeID)
	if !ok || t.State != domain.StateEscrow {
		return
	}
	err := withRetry(ctx, func() error {
		_, err := m.refund.RefundEscrow(ctx, t)
		return err
	})
	if err != nil {
		m.logger.Error("refund failed",
			slog.String("trade_id", tradeID),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := m.runner.ObserveRefund(ctx, tradeID); err != nil {
		m.logger.Warn("refund observation", slog.String("error", err.Error()))
	}
	m.runner.EmitStatus(ctx, channel, tradeID, "escrow refunded after timeout", domain.SendOpts{})
}

func (m *Maker) fail(ctx context.Context, channel, tradeID, reason string) {
	m.logger.Error("swap failed", slog.String("trade_id", tradeID), slog.String("reason", reason))
	if err := m.runner.Cancel(ctx, channel, tradeID, reason, domain.SendOpts{}); err != nil {
		m.logger.Error("cancel emit failed", slog.String("error", err.Error()))
	}
	if m.runner.notifier != nil {
		_ = m.runner.notifier.Notify(ctx, notify.EventError, "swap failed", tradeID+": "+reason)
	}
}
