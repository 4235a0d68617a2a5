package solana

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/intercomswap/swapd/internal/escrow"
)

// Well-known native addresses referenced by escrow transactions.
const (
	SystemProgramID = "11111111111111111111111111111111"
	RentSysvarID    = "SysvarRent111111111111111111111111111111111"
	ClockSysvarID   = "SysvarC1ock11111111111111111111111111111111"
)

// EscrowClient composes, signs and submits escrow program transactions.
type EscrowClient struct {
	rpc       *Client
	programID string

	// Fee configuration of the deployed program; both rates are zero on
	// the common deployment.
	platformFeeBps    uint16
	tradeFeeBps       uint16
	tradeFeeCollector string
}

// EscrowClientConfig parameterizes an EscrowClient.
type EscrowClientConfig struct {
	ProgramID         string
	PlatformFeeBps    uint16
	TradeFeeBps       uint16
	TradeFeeCollector string
}

// NewEscrowClient creates a client bound to one program deployment.
func NewEscrowClient(rpc *Client, cfg EscrowClientConfig) *EscrowClient {
	return &EscrowClient{
		rpc:               rpc,
		programID:         cfg.ProgramID,
		platformFeeBps:    cfg.PlatformFeeBps,
		tradeFeeBps:       cfg.TradeFeeBps,
		tradeFeeCollector: cfg.TradeFeeCollector,
	}
}

// ProgramID returns the bound program address.
func (c *EscrowClient) ProgramID() string { return c.programID }

// CreateResult reports the accounts of a freshly funded escrow.
type CreateResult struct {
	EscrowPDA string
	VaultATA  string
	TxSig     string
}

// Create funds a new escrow keyed by paymentHash. The payer key signs and
// pays; payerATA is debited by amount plus any configured fees.
func (c *EscrowClient) Create(ctx context.Context, payer ed25519.PrivateKey, payerATA, mint string,
	paymentHash [32]byte, recipient, refund string, refundAfter int64, amount uint64) (CreateResult, error) {

	payerPub := pubkeyOf(payer)
	pda, _, err := escrow.DerivePDA(c.programID, paymentHash)
	if err != nil {
		return CreateResult{}, err
	}
	vault, err := escrow.VaultATA(pda, mint)
	if err != nil {
		return CreateResult{}, err
	}
	configPDA, _, err := escrow.FindProgramAddress([][]byte{[]byte("config")}, c.programID)
	if err != nil {
		return CreateResult{}, err
	}
	platformFeeVault, err := escrow.VaultATA(configPDA, mint)
	if err != nil {
		return CreateResult{}, err
	}
	collector := c.tradeFeeCollector
	if collector == "" {
		collector = payerPub
	}
	collectorKey, err := escrow.DecodeKey(collector)
	if err != nil {
		return CreateResult{}, err
	}
	tradeConfigPDA, _, err := escrow.FindProgramAddress(
		[][]byte{[]byte("trade_config"), collectorKey[:]}, c.programID)
	if err != nil {
		return CreateResult{}, err
	}
	tradeFeeVault, err := escrow.VaultATA(tradeConfigPDA, mint)
	if err != nil {
		return CreateResult{}, err
	}

	recipientKey, err := escrow.DecodeKey(recipient)
	if err != nil {
		return CreateResult{}, fmt.Errorf("solana: recipient: %w", err)
	}
	refundKey, err := escrow.DecodeKey(refund)
	if err != nil {
		return CreateResult{}, fmt.Errorf("solana: refund: %w", err)
	}

	ix := Instruction{
		ProgramID: c.programID,
		Accounts: []AccountMeta{
			{Pubkey: payerPub, Signer: true, Writable: true},
			{Pubkey: payerATA, Writable: true},
			{Pubkey: pda, Writable: true},
			{Pubkey: vault, Writable: true},
			{Pubkey: mint},
			{Pubkey: SystemProgramID},
			{Pubkey: escrow.TokenProgramID},
			{Pubkey: escrow.AssociatedTokenProg},
			{Pubkey: RentSysvarID},
			{Pubkey: configPDA},
			{Pubkey: platformFeeVault, Writable: true},
			{Pubkey: tradeConfigPDA},
			{Pubkey: tradeFeeVault, Writable: true},
		},
		Data: escrow.EncodeInit(escrow.InitArgs{
			PaymentHash:            paymentHash,
			Recipient:              recipientKey,
			Refund:                 refundKey,
			RefundAfter:            refundAfter,
			Amount:                 amount,
			ExpectedPlatformFeeBps: c.platformFeeBps,
			ExpectedTradeFeeBps:    c.tradeFeeBps,
			TradeFeeCollector:      collectorKey,
		}),
	}

	sig, err := c.submit(ctx, ix, payer)
	if err != nil {
		return CreateResult{}, err
	}
	return CreateResult{EscrowPDA: pda, VaultATA: vault, TxSig: sig}, nil
}

// Claim releases the escrow to recipientATA with the revealed preimage.
// The recipient key must be the one recorded at creation.
func (c *EscrowClient) Claim(ctx context.Context, recipient ed25519.PrivateKey, escrowPDA, vaultATA, recipientATA, mint string, preimage [32]byte) (string, error) {
	configPDA, _, err := escrow.FindProgramAddress([][]byte{[]byte("config")}, c.programID)
	if err != nil {
		return "", err
	}
	platformFeeVault, err := escrow.VaultATA(configPDA, mint)
	if err != nil {
		return "", err
	}
	collector := c.tradeFeeCollector
	if collector == "" {
		collector = pubkeyOf(recipient)
	}
	collectorKey, err := escrow.DecodeKey(collector)
	if err != nil {
		return "", err
	}
	tradeConfigPDA, _, err := escrow.FindProgramAddress(
		[][]byte{[]byte("trade_config"), collectorKey[:]}, c.programID)
	if err != nil {
		return "", err
	}
	tradeFeeVault, err := escrow.VaultATA(tradeConfigPDA, mint)
	if err != nil {
		return "", err
	}

	ix := Instruction{
		ProgramID: c.programID,
		Accounts: []AccountMeta{
			{Pubkey: pubkeyOf(recipient), Signer: true},
			{Pubkey: escrowPDA, Writable: true},
			{Pubkey: vaultATA, Writable: true},
			{Pubkey: recipientATA, Writable: true},
			{Pubkey: platformFeeVault, Writable: true},
			{Pubkey: tradeFeeVault, Writable: true},
			{Pubkey: escrow.TokenProgramID},
		},
		Data: escrow.EncodeClaim(preimage),
	}
	return c.submit(ctx, ix, recipient)
}

// Refund returns the escrowed funds to refundATA after the deadline. The
// refund key must be the recorded refund authority.
func (c *EscrowClient) Refund(ctx context.Context, refund ed25519.PrivateKey, escrowPDA, vaultATA, refundATA string) (string, error) {
	ix := Instruction{
		ProgramID: c.programID,
		Accounts: []AccountMeta{
			{Pubkey: pubkeyOf(refund), Signer: true},
			{Pubkey: escrowPDA, Writable: true},
			{Pubkey: vaultATA, Writable: true},
			{Pubkey: refundATA, Writable: true},
			{Pubkey: escrow.TokenProgramID},
			{Pubkey: ClockSysvarID},
		},
		Data: escrow.EncodeRefund(),
	}
	return c.submit(ctx, ix, refund)
}

func (c *EscrowClient) submit(ctx context.Context, ix Instruction, signer ed25519.PrivateKey) (string, error) {
	blockhash, err := c.rpc.LatestBlockhash(ctx)
	if err != nil {
		return "", err
	}
	payer := pubkeyOf(signer)
	tx, err := BuildTx(ix, blockhash, payer, map[string]ed25519.PrivateKey{payer: signer})
	if err != nil {
		return "", err
	}
	sig, err := c.rpc.SendTx(ctx, tx)
	if err != nil {
		return "", err
	}
	if err := c.rpc.Confirm(ctx, sig); err != nil {
		return "", err
	}
	return sig, nil
}

func pubkeyOf(key ed25519.PrivateKey) string {
	pub := key.Public().(ed25519.PublicKey)
	var k [32]byte
	copy(k[:], pub)
	return escrow.EncodeKey(k)
}
