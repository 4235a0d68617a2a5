package escrow

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"
)

// Program errors mirror the on-chain error set.
var (
	ErrAlreadyInitialized = errors.New("escrow already initialized")
	ErrUnknownEscrow      = errors.New("unknown escrow")
	ErrInvalidPreimage    = errors.New("invalid preimage")
	ErrNotActive          = errors.New("escrow not active")
	ErrTooEarly           = errors.New("too early to refund")
	ErrInvalidSigner      = errors.New("invalid signer")
	ErrFeeMismatch        = errors.New("fee bps mismatch")
	ErrInsufficientFunds  = errors.New("insufficient funds")
)

const maxFeeBps = 2500

// Ledger is a minimal SPL-style token ledger backing the simulated
// program. Accounts are keyed by their base58 address.
type Ledger struct {
	mu       sync.Mutex
	accounts map[string]*tokenAccount
}

type tokenAccount struct {
	mint   string
	owner  string
	amount uint64
}

// NewLedger returns an empty token ledger.
func NewLedger() *Ledger {
	return &Ledger{accounts: make(map[string]*tokenAccount)}
}

// CreateAccount registers a token account. Creating an existing account is
// a no-op when mint and owner agree.
func (l *Ledger) CreateAccount(addr, mint, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if acc, ok := l.accounts[addr]; ok {
		if acc.mint != mint || acc.owner != owner {
			return fmt.Errorf("escrow: account %s exists with different mint/owner", addr)
		}
		return nil
	}
	l.accounts[addr] = &tokenAccount{mint: mint, owner: owner}
	return nil
}

// Mint credits amount to addr, for test and simnet setup.
func (l *Ledger) Mint(addr string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[addr]
	if !ok {
		return fmt.Errorf("escrow: no account %s", addr)
	}
	acc.amount += amount
	return nil
}

// Balance returns the current balance of addr.
func (l *Ledger) Balance(addr string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[addr]
	if !ok {
		return 0, fmt.Errorf("escrow: no account %s", addr)
	}
	return acc.amount, nil
}

// Account returns mint, owner and balance for addr.
func (l *Ledger) Account(addr string) (mint, owner string, amount uint64, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, found := l.accounts[addr]
	if !found {
		return "", "", 0, false
	}
	return acc.mint, acc.owner, acc.amount, true
}

func (l *Ledger) transfer(from, to string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	src, ok := l.accounts[from]
	if !ok {
		return fmt.Errorf("escrow: no account %s", from)
	}
	dst, ok := l.accounts[to]
	if !ok {
		return fmt.Errorf("escrow: no account %s", to)
	}
	if src.mint != dst.mint {
		return fmt.Errorf("escrow: mint mismatch %s -> %s", from, to)
	}
	if src.amount < amount {
		return ErrInsufficientFunds
	}
	src.amount -= amount
	dst.amount += amount
	return nil
}

// Program simulates the on-chain escrow program against a Ledger. It
// implements the exact Create/Claim/Refund semantics the pre-pay verifier
// and the settlement flows rely on, with the on-chain clock injected.
//
// Authority model, matching the deployed program: Claim requires the
// recipient's signature, Refund requires the refund authority's signature.
// Refund is NOT permissionless.
type Program struct {
	id    string
	clock func() int64

	platformFeeBps       uint16
	platformFeeCollector string
	tradeFeeBps          uint16

	mu      sync.Mutex
	escrows map[string]*State // keyed by PDA address
	ledger  *Ledger
}

// ProgramConfig sets the simulated deployment parameters. Fee rates
// default to zero, the common configuration.
type ProgramConfig struct {
	ProgramID            string
	Clock                func() int64
	PlatformFeeBps       uint16
	PlatformFeeCollector string
	TradeFeeBps          uint16
}

// NewProgram creates a simulated program instance over the given ledger.
func NewProgram(cfg ProgramConfig, ledger *Ledger) (*Program, error) {
	if cfg.ProgramID == "" {
		return nil, fmt.Errorf("escrow: program id required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("escrow: clock required")
	}
	if cfg.PlatformFeeBps > maxFeeBps || cfg.TradeFeeBps > maxFeeBps ||
		uint32(cfg.PlatformFeeBps)+uint32(cfg.TradeFeeBps) > maxFeeBps {
		return nil, fmt.Errorf("escrow: fee bps out of range")
	}
	return &Program{
		id:                   cfg.ProgramID,
		clock:                cfg.Clock,
		platformFeeBps:       cfg.PlatformFeeBps,
		platformFeeCollector: cfg.PlatformFeeCollector,
		tradeFeeBps:          cfg.TradeFeeBps,
		escrows:              make(map[string]*State),
		ledger:               ledger,
	}, nil
}

// ID returns the program address.
func (p *Program) ID() string { return p.id }

// Create funds a new escrow from payerATA. It fails when an escrow for the
// same payment hash already exists; the payment hash is single-use.
func (p *Program) Create(payer, payerATA, mint string, args InitArgs) (pda, vault string, err error) {
	if args.ExpectedPlatformFeeBps != p.platformFeeBps {
		return "", "", fmt.Errorf("escrow: platform %w", ErrFeeMismatch)
	}
	if args.ExpectedTradeFeeBps != p.tradeFeeBps {
		return "", "", fmt.Errorf("escrow: trade %w", ErrFeeMismatch)
	}

	pda, bump, err := DerivePDA(p.id, args.PaymentHash)
	if err != nil {
		return "", "", err
	}
	vault, err = VaultATA(pda, mint)
	if err != nil {
		return "", "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.escrows[pda]; exists {
		return "", "", fmt.Errorf("escrow: %s: %w", pda, ErrAlreadyInitialized)
	}

	platformFee := feeFor(args.Amount, p.platformFeeBps)
	tradeFee := feeFor(args.Amount, p.tradeFeeBps)
	total := args.Amount + platformFee + tradeFee

	if err := p.ledger.CreateAccount(vault, mint, pda); err != nil {
		return "", "", err
	}
	if err := p.ledger.transfer(payerATA, vault, total); err != nil {
		return "", "", err
	}

	mintKey, err := decodeKey(mint)
	if err != nil {
		return "", "", err
	}
	vaultKey, err := decodeKey(vault)
	if err != nil {
		return "", "", err
	}
	st := &State{
		V:                 StateVersion,
		Status:            StatusActive,
		PaymentHash:       args.PaymentHash,
		Recipient:         args.Recipient,
		Refund:            args.Refund,
		RefundAfter:       args.RefundAfter,
		Mint:              mintKey,
		NetAmount:         args.Amount,
		PlatformFeeAmount: platformFee,
		PlatformFeeBps:    p.platformFeeBps,
		TradeFeeAmount:    tradeFee,
		TradeFeeBps:       p.tradeFeeBps,
		Vault:             vaultKey,
		Bump:              bump,
	}
	if p.platformFeeCollector != "" {
		if st.PlatformFeeCollector, err = decodeKey(p.platformFeeCollector); err != nil {
			return "", "", err
		}
	}
	st.TradeFeeCollector = args.TradeFeeCollector
	p.escrows[pda] = st
	return pda, vault, nil
}

// Claim releases the vault to recipientATA when the preimage hashes to the
// escrow's payment hash. Only the recorded recipient may claim. The
// preimage becomes public the moment this succeeds.
func (p *Program) Claim(signer, pda string, preimage [32]byte, recipientATA string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.escrows[pda]
	if !ok {
		return fmt.Errorf("escrow: %s: %w", pda, ErrUnknownEscrow)
	}
	if st.Status != StatusActive {
		return fmt.Errorf("escrow: %s: %w", pda, ErrNotActive)
	}
	if signer != EncodeKey(st.Recipient) {
		return fmt.Errorf("escrow: claim: %w", ErrInvalidSigner)
	}
	if sha256.Sum256(preimage[:]) != st.PaymentHash {
		return fmt.Errorf("escrow: %w", ErrInvalidPreimage)
	}

	mint, owner, _, ok := p.ledger.Account(recipientATA)
	if !ok || mint != EncodeKey(st.Mint) || owner != signer {
		return fmt.Errorf("escrow: claim destination: %w", ErrInvalidSigner)
	}

	vault := EncodeKey(st.Vault)
	if err := p.ledger.transfer(vault, recipientATA, st.NetAmount); err != nil {
		return err
	}
	if st.PlatformFeeAmount > 0 {
		if err := p.payFee(vault, st.PlatformFeeCollector, EncodeKey(st.Mint), st.PlatformFeeAmount); err != nil {
			return err
		}
	}
	if st.TradeFeeAmount > 0 {
		if err := p.payFee(vault, st.TradeFeeCollector, EncodeKey(st.Mint), st.TradeFeeAmount); err != nil {
			return err
		}
	}

	st.Status = StatusClaimed
	st.NetAmount = 0
	st.PlatformFeeAmount = 0
	st.TradeFeeAmount = 0
	return nil
}

// Refund returns the full vault balance to refundATA after the deadline.
// Only the recorded refund authority may trigger it.
func (p *Program) Refund(signer, pda, refundATA string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.escrows[pda]
	if !ok {
		return fmt.Errorf("escrow: %s: %w", pda, ErrUnknownEscrow)
	}
	if st.Status != StatusActive {
		return fmt.Errorf("escrow: %s: %w", pda, ErrNotActive)
	}
	if signer != EncodeKey(st.Refund) {
		return fmt.Errorf("escrow: refund: %w", ErrInvalidSigner)
	}
	if p.clock() < st.RefundAfter {
		return fmt.Errorf("escrow: %w: refund_after %d", ErrTooEarly, st.RefundAfter)
	}

	mint, owner, _, ok := p.ledger.Account(refundATA)
	if !ok || mint != EncodeKey(st.Mint) || owner != signer {
		return fmt.Errorf("escrow: refund destination: %w", ErrInvalidSigner)
	}

	if err := p.ledger.transfer(EncodeKey(st.Vault), refundATA, st.Total()); err != nil {
		return err
	}
	st.Status = StatusRefunded
	st.NetAmount = 0
	st.PlatformFeeAmount = 0
	st.TradeFeeAmount = 0
	return nil
}

// StateOf returns a copy of the escrow state at pda.
func (p *Program) StateOf(pda string) (State, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.escrows[pda]
	if !ok {
		return State{}, false
	}
	return *st, true
}

// payFee sends a fee to the collector's token account, creating it on
// first use the way the on-chain ATA instruction does.
func (p *Program) payFee(vault string, collector [32]byte, mint string, amount uint64) error {
	dest := "fee:" + EncodeKey(collector)
	if err := p.ledger.CreateAccount(dest, mint, EncodeKey(collector)); err != nil {
		return err
	}
	return p.ledger.transfer(vault, dest, amount)
}

func feeFor(amount uint64, bps uint16) uint64 {
	// u128-style widening to match the on-chain math.
	return uint64((uint64(amount) / 10_000) * uint64(bps) +
		(uint64(amount)%10_000)*uint64(bps)/10_000)
}
