package solana

import (
	"crypto/ed25519"
	"fmt"
	"sort"

	"github.com/btcsuite/btcutil/base58"
)

// AccountMeta describes one account referenced by an instruction.
type AccountMeta struct {
	Pubkey   string
	Signer   bool
	Writable bool
}

// Instruction is one program invocation inside a transaction.
type Instruction struct {
	ProgramID string
	Accounts  []AccountMeta
	Data      []byte
}

// BuildTx assembles and signs a single-instruction legacy transaction.
// The fee payer signs first; additional required signers must be present
// in keys, indexed by their base58 public key.
func BuildTx(ix Instruction, recentBlockhash string, feePayer string, keys map[string]ed25519.PrivateKey) ([]byte, error) {
	msg, signerOrder, err := compileMessage(ix, recentBlockhash, feePayer)
	if err != nil {
		return nil, err
	}

	sigs := make([][]byte, 0, len(signerOrder))
	for _, pub := range signerOrder {
		key, ok := keys[pub]
		if !ok {
			return nil, fmt.Errorf("solana: missing key for signer %s", pub)
		}
		sigs = append(sigs, ed25519.Sign(key, msg))
	}

	tx := appendCompactU16(nil, len(sigs))
	for _, sig := range sigs {
		tx = append(tx, sig...)
	}
	return append(tx, msg...), nil
}

// compileMessage builds the legacy message bytes and returns the ordered
// signer set.
func compileMessage(ix Instruction, recentBlockhash, feePayer string) ([]byte, []string, error) {
	type meta struct {
		signer   bool
		writable bool
	}
	metas := map[string]*meta{feePayer: {signer: true, writable: true}}
	merge := func(pub string, signer, writable bool) {
		m, ok := metas[pub]
		if !ok {
			metas[pub] = &meta{signer: signer, writable: writable}
			return
		}
		m.signer = m.signer || signer
		m.writable = m.writable || writable
	}
	for _, a := range ix.Accounts {
		merge(a.Pubkey, a.Signer, a.Writable)
	}
	merge(ix.ProgramID, false, false)

	// Account ordering: signers before non-signers, writable before
	// read-only within each group, then lexicographic for determinism.
	// The fee payer is always index 0.
	pubkeys := make([]string, 0, len(metas))
	for pub := range metas {
		if pub != feePayer {
			pubkeys = append(pubkeys, pub)
		}
	}
	rank := func(pub string) int {
		m := metas[pub]
		switch {
		case m.signer && m.writable:
			return 0
		case m.signer:
			return 1
		case m.writable:
			return 2
		default:
			return 3
		}
	}
	sort.Slice(pubkeys, func(i, j int) bool {
		ri, rj := rank(pubkeys[i]), rank(pubkeys[j])
		if ri != rj {
			return ri < rj
		}
		return pubkeys[i] < pubkeys[j]
	})
	pubkeys = append([]string{feePayer}, pubkeys...)

	index := make(map[string]uint8, len(pubkeys))
	var numSigners, numReadonlySigned, numReadonlyUnsigned int
	for i, pub := range pubkeys {
		index[pub] = uint8(i)
		m := metas[pub]
		if m.signer {
			numSigners++
			if !m.writable {
				numReadonlySigned++
			}
		} else if !m.writable {
			numReadonlyUnsigned++
		}
	}

	blockhash := base58.Decode(recentBlockhash)
	if len(blockhash) != 32 {
		return nil, nil, fmt.Errorf("solana: bad blockhash %q", recentBlockhash)
	}

	msg := []byte{uint8(numSigners), uint8(numReadonlySigned), uint8(numReadonlyUnsigned)}
	msg = appendCompactU16(msg, len(pubkeys))
	for _, pub := range pubkeys {
		raw := base58.Decode(pub)
		if len(raw) != 32 {
			return nil, nil, fmt.Errorf("solana: bad account key %q", pub)
		}
		msg = append(msg, raw...)
	}
	msg = append(msg, blockhash...)

	msg = appendCompactU16(msg, 1)
	msg = append(msg, index[ix.ProgramID])
	msg = appendCompactU16(msg, len(ix.Accounts))
	for _, a := range ix.Accounts {
		msg = append(msg, index[a.Pubkey])
	}
	msg = appendCompactU16(msg, len(ix.Data))
	msg = append(msg, ix.Data...)

	return msg, pubkeys[:numSigners], nil
}

// appendCompactU16 writes the shortvec length prefix used throughout the
// transaction wire format.
func appendCompactU16(buf []byte, v int) []byte {
	for {
		if v < 0x80 {
			return append(buf, byte(v))
		}
		buf = append(buf, byte(v&0x7f)|0x80)
		v >>= 7
	}
}
