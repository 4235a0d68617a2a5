package service

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"github.com/intercomswap/swapd/internal/chain/solana"
	"github.com/intercomswap/swapd/internal/domain"
	"github.com/intercomswap/swapd/internal/escrow"
)

// EscrowCreator funds an escrow satisfying the given terms. The maker flow
// uses it after the client accepts.
type EscrowCreator interface {
	CreateEscrow(ctx context.Context, paymentHash [32]byte, terms domain.TermsBody) (domain.SolEscrowCreatedBody, error)
}

// EscrowSettler claims or refunds an existing escrow. The taker flow
// claims with the revealed preimage; the maker flow refunds after timeout.
type EscrowSettler interface {
	ClaimEscrow(ctx context.Context, t *domain.Trade, preimage [32]byte) (txSig string, err error)
	RefundEscrow(ctx context.Context, t *domain.Trade) (txSig string, err error)
}

// ChainEscrow adapts the solana escrow client to the flow interfaces.
type ChainEscrow struct {
	client *solana.EscrowClient
	key    ed25519.PrivateKey // payer/refund authority or claim recipient
	ata    string             // this peer's token account for the swap mint
}

// NewChainEscrow builds the adapter; key is the peer's Solana signing key
// and ata its token account for the traded mint.
func NewChainEscrow(client *solana.EscrowClient, key ed25519.PrivateKey, ata string) *ChainEscrow {
	return &ChainEscrow{client: client, key: key, ata: ata}
}

// CreateEscrow funds the escrow described by terms.
func (c *ChainEscrow) CreateEscrow(ctx context.Context, paymentHash [32]byte, terms domain.TermsBody) (domain.SolEscrowCreatedBody, error) {
	amount, err := domain.AtomicToUint64(terms.USDTAmount)
	if err != nil {
		return domain.SolEscrowCreatedBody{}, err
	}
	res, err := c.client.Create(ctx, c.key, c.ata, terms.SolMint,
		paymentHash, terms.SolRecipient, terms.SolRefund, terms.SolRefundAfterUnix, amount)
	if err != nil {
		return domain.SolEscrowCreatedBody{}, err
	}
	return domain.SolEscrowCreatedBody{
		PaymentHashHex:  hex.EncodeToString(paymentHash[:]),
		ProgramID:       c.client.ProgramID(),
		EscrowPDA:       res.EscrowPDA,
		VaultATA:        res.VaultATA,
		Mint:            terms.SolMint,
		Amount:          terms.USDTAmount,
		RefundAfterUnix: terms.SolRefundAfterUnix,
		Recipient:       terms.SolRecipient,
		Refund:          terms.SolRefund,
		TxSig:           res.TxSig,
	}, nil
}

// ClaimEscrow claims with the preimage revealed by the Lightning payment.
func (c *ChainEscrow) ClaimEscrow(ctx context.Context, t *domain.Trade, preimage [32]byte) (string, error) {
	if t.Escrow == nil {
		return "", fmt.Errorf("service: claim: trade %s has no escrow", t.ID)
	}
	return c.client.Claim(ctx, c.key, t.Escrow.EscrowPDA, t.Escrow.VaultATA, c.ata, t.Escrow.Mint, preimage)
}

// RefundEscrow refunds after the deadline.
func (c *ChainEscrow) RefundEscrow(ctx context.Context, t *domain.Trade) (string, error) {
	if t.Escrow == nil {
		return "", fmt.Errorf("service: refund: trade %s has no escrow", t.ID)
	}
	return c.client.Refund(ctx, c.key, t.Escrow.EscrowPDA, t.Escrow.VaultATA, c.ata)
}

// SimEscrow drives the in-memory program directly; used by simnet mode
// and the end-to-end tests.
type SimEscrow struct {
	program *escrow.Program
	signer  string // base58 identity on the simulated chain
	ata     string
}

// NewSimEscrow builds the simnet adapter.
func NewSimEscrow(program *escrow.Program, signer, ata string) *SimEscrow {
	return &SimEscrow{program: program, signer: signer, ata: ata}
}

// CreateEscrow funds the simulated escrow.
func (s *SimEscrow) CreateEscrow(ctx context.Context, paymentHash [32]byte, terms domain.TermsBody) (domain.SolEscrowCreatedBody, error) {
	amount, err := domain.AtomicToUint64(terms.USDTAmount)
	if err != nil {
		return domain.SolEscrowCreatedBody{}, err
	}
	recipient, err := escrow.DecodeKey(terms.SolRecipient)
	if err != nil {
		return domain.SolEscrowCreatedBody{}, err
	}
	refund, err := escrow.DecodeKey(terms.SolRefund)
	if err != nil {
		return domain.SolEscrowCreatedBody{}, err
	}
	pda, vault, err := s.program.Create(s.signer, s.ata, terms.SolMint, escrow.InitArgs{
		PaymentHash: paymentHash,
		Recipient:   recipient,
		Refund:      refund,
		RefundAfter: terms.SolRefundAfterUnix,
		Amount:      amount,
	})
	if err != nil {
		return domain.SolEscrowCreatedBody{}, err
	}
	return domain.SolEscrowCreatedBody{
		PaymentHashHex:  hex.EncodeToString(paymentHash[:]),
		ProgramID:       s.program.ID(),
		EscrowPDA:       pda,
		VaultATA:        vault,
		Mint:            terms.SolMint,
		Amount:          terms.USDTAmount,
		RefundAfterUnix: terms.SolRefundAfterUnix,
		Recipient:       terms.SolRecipient,
		Refund:          terms.SolRefund,
		TxSig:           "sim-create-" + pda[:8],
	}, nil
}

// ClaimEscrow claims the simulated escrow.
func (s *SimEscrow) ClaimEscrow(_ context.Context, t *domain.Trade, preimage [32]byte) (string, error) {
	if t.Escrow == nil {
		return "", fmt.Errorf("service: claim: trade %s has no escrow", t.ID)
	}
	if err := s.program.Claim(s.signer, t.Escrow.EscrowPDA, preimage, s.ata); err != nil {
		return "", err
	}
	return "sim-claim-" + t.Escrow.EscrowPDA[:8], nil
}

// RefundEscrow refunds the simulated escrow.
func (s *SimEscrow) RefundEscrow(_ context.Context, t *domain.Trade) (string, error) {
	if t.Escrow == nil {
		return "", fmt.Errorf("service: refund: trade %s has no escrow", t.ID)
	}
	if err := s.program.Refund(s.signer, t.Escrow.EscrowPDA, s.ata); err != nil {
		return "", err
	}
	return "sim-refund-" + t.Escrow.EscrowPDA[:8], nil
}

var (
	_ EscrowCreator = (*ChainEscrow)(nil)
	_ EscrowSettler = (*ChainEscrow)(nil)
	_ EscrowCreator = (*SimEscrow)(nil)
	_ EscrowSettler = (*SimEscrow)(nil)
)
