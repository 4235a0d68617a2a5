package domain

import "context"

// Invoice is a freshly created BOLT11 invoice.
type Invoice struct {
	Bolt11         string
	PaymentHashHex string
	AmountMsat     string
}

// Payment is the result of a settled outgoing payment.
type Payment struct {
	PaymentHashHex string
	PreimageHex    string
}

// LightningRPC is the node interface the coordinator consumes. Hodl
// invoices are out of protocol: implementations must create plain settled
// invoices only.
type LightningRPC interface {
	Invoice(ctx context.Context, amountSat uint64, label, desc string) (Invoice, error)
	Pay(ctx context.Context, bolt11 string) (Payment, error)
}
