// Package escrow implements the client-side semantics of the on-chain
// USDT escrow program: the account state layout, the instruction encoding,
// PDA and vault derivation, and an in-memory simulation of the program used
// by tests and the local simnet mode.
//
// The escrow is keyed by the Lightning payment hash. Claim releases the
// vault to the recipient when the SHA-256 preimage is presented; Refund
// returns the vault to the refund authority once the on-chain clock passes
// refund_after.
package escrow

import (
	"encoding/binary"
	"fmt"
)

// Escrow lifecycle status values as stored on chain.
const (
	StatusActive   uint8 = 0
	StatusClaimed  uint8 = 1
	StatusRefunded uint8 = 2
)

// StateVersion is the current escrow account layout version.
const StateVersion uint8 = 3

// stateSize is the serialized byte length of State.
const stateSize = 1 + 1 + 32 + 32 + 32 + 8 + 32 + 8 + 8 + 2 + 32 + 8 + 2 + 32 + 32 + 1

// State is the escrow account contents. Fee fields exist in the layout for
// deployments that configure platform or per-trade fees; both default to
// zero and NetAmount then equals the full escrowed amount.
type State struct {
	V                    uint8
	Status               uint8
	PaymentHash          [32]byte
	Recipient            [32]byte
	Refund               [32]byte
	RefundAfter          int64
	Mint                 [32]byte
	NetAmount            uint64
	PlatformFeeAmount    uint64
	PlatformFeeBps       uint16
	PlatformFeeCollector [32]byte
	TradeFeeAmount       uint64
	TradeFeeBps          uint16
	TradeFeeCollector    [32]byte
	Vault                [32]byte
	Bump                 uint8
}

// Total returns the full vault balance the state accounts for.
func (s *State) Total() uint64 {
	return s.NetAmount + s.PlatformFeeAmount + s.TradeFeeAmount
}

// ParseState decodes an escrow account's data. Field order and the
// little-endian integer encoding follow the on-chain borsh layout.
func ParseState(data []byte) (*State, error) {
	if len(data) < stateSize {
		return nil, fmt.Errorf("escrow: state data too short: %d bytes", len(data))
	}
	r := reader{buf: data}
	s := &State{
		V:      r.u8(),
		Status: r.u8(),
	}
	r.bytes32(&s.PaymentHash)
	r.bytes32(&s.Recipient)
	r.bytes32(&s.Refund)
	s.RefundAfter = int64(r.u64())
	r.bytes32(&s.Mint)
	s.NetAmount = r.u64()
	s.PlatformFeeAmount = r.u64()
	s.PlatformFeeBps = r.u16()
	r.bytes32(&s.PlatformFeeCollector)
	s.TradeFeeAmount = r.u64()
	s.TradeFeeBps = r.u16()
	r.bytes32(&s.TradeFeeCollector)
	r.bytes32(&s.Vault)
	s.Bump = r.u8()
	if r.err != nil {
		return nil, fmt.Errorf("escrow: parse state: %w", r.err)
	}
	if s.V != StateVersion {
		return nil, fmt.Errorf("escrow: unsupported state version %d", s.V)
	}
	switch s.Status {
	case StatusActive, StatusClaimed, StatusRefunded:
	default:
		return nil, fmt.Errorf("escrow: unknown status %d", s.Status)
	}
	return s, nil
}

// Serialize encodes the state into the on-chain layout.
func (s *State) Serialize() []byte {
	buf := make([]byte, 0, stateSize)
	buf = append(buf, s.V, s.Status)
	buf = append(buf, s.PaymentHash[:]...)
	buf = append(buf, s.Recipient[:]...)
	buf = append(buf, s.Refund[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(s.RefundAfter))
	buf = append(buf, s.Mint[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, s.NetAmount)
	buf = binary.LittleEndian.AppendUint64(buf, s.PlatformFeeAmount)
	buf = binary.LittleEndian.AppendUint16(buf, s.PlatformFeeBps)
	buf = append(buf, s.PlatformFeeCollector[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, s.TradeFeeAmount)
	buf = binary.LittleEndian.AppendUint16(buf, s.TradeFeeBps)
	buf = append(buf, s.TradeFeeCollector[:]...)
	buf = append(buf, s.Vault[:]...)
	buf = append(buf, s.Bump)
	return buf
}

type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.buf) {
		r.err = fmt.Errorf("short read at offset %d", r.off)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *reader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *reader) bytes32(dst *[32]byte) {
	b := r.take(32)
	if b != nil {
		copy(dst[:], b)
	}
}
