package domain

import "context"

// Account is a raw chain account read.
type Account struct {
	Owner    string // base58 program id owning the account
	Data     []byte
	Lamports uint64
}

// TokenAccount is a parsed SPL token account.
type TokenAccount struct {
	Mint   string
	Owner  string
	Amount uint64
}

// ChainReader is the read side of the Solana-like RPC used by the pre-pay
// verifier and the claim watcher.
type ChainReader interface {
	GetAccount(ctx context.Context, pubkey string) (Account, error)
	GetTokenAccount(ctx context.Context, ata string) (TokenAccount, error)
	Now(ctx context.Context) (int64, error) // on-chain clock, seconds
}

// ChainWriter submits transactions.
type ChainWriter interface {
	SendTx(ctx context.Context, signedTx []byte) (sig string, err error)
	Confirm(ctx context.Context, sig string) error
}

// ChainRPC combines both sides.
type ChainRPC interface {
	ChainReader
	ChainWriter
}
