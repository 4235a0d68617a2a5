package solana

import "github.com/btcsuite/btcutil/base58"

func encodeBase58(k [32]byte) string { return base58.Encode(k[:]) }
