package escrow

import "encoding/binary"

// Instruction tags. The on-chain program dispatches on the first byte;
// integers are little-endian.
const (
	tagInit   = 0
	tagClaim  = 1
	tagRefund = 2
)

// InitArgs are the parameters of the Init (create + fund) instruction.
// The expected fee rates guard the payer against a fee-config change
// racing the escrow creation: the program rejects the instruction when the
// on-chain rates differ from what the payer priced in.
type InitArgs struct {
	PaymentHash            [32]byte
	Recipient              [32]byte
	Refund                 [32]byte
	RefundAfter            int64
	Amount                 uint64
	ExpectedPlatformFeeBps uint16
	ExpectedTradeFeeBps    uint16
	TradeFeeCollector      [32]byte
}

// EncodeInit serializes the Init instruction data.
func EncodeInit(a InitArgs) []byte {
	buf := make([]byte, 0, 1+32+32+32+8+8+2+2+32)
	buf = append(buf, tagInit)
	buf = append(buf, a.PaymentHash[:]...)
	buf = append(buf, a.Recipient[:]...)
	buf = append(buf, a.Refund[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(a.RefundAfter))
	buf = binary.LittleEndian.AppendUint64(buf, a.Amount)
	buf = binary.LittleEndian.AppendUint16(buf, a.ExpectedPlatformFeeBps)
	buf = binary.LittleEndian.AppendUint16(buf, a.ExpectedTradeFeeBps)
	buf = append(buf, a.TradeFeeCollector[:]...)
	return buf
}

// EncodeClaim serializes the Claim instruction data.
func EncodeClaim(preimage [32]byte) []byte {
	buf := make([]byte, 0, 1+32)
	buf = append(buf, tagClaim)
	buf = append(buf, preimage[:]...)
	return buf
}

// EncodeRefund serializes the Refund instruction data.
func EncodeRefund() []byte { return []byte{tagRefund} }
