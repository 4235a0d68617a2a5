// Package lightning hosts the in-process Lightning fake used by tests and
// simnet mode. Real deployments use the lnd subpackage.
package lightning

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/intercomswap/swapd/internal/domain"
)

// FakeNetwork settles payments between FakeNodes instantly. Invoices carry
// a synthetic bolt11-shaped string that encodes the payment hash, so no
// real invoice decoding is needed anywhere in the fake path.
type FakeNetwork struct {
	mu       sync.Mutex
	invoices map[string]*fakeInvoice // payment_hash_hex -> invoice
}

type fakeInvoice struct {
	preimage  [32]byte
	amountSat uint64
	settled   bool
}

// NewFakeNetwork returns an empty settlement fabric.
func NewFakeNetwork() *FakeNetwork {
	return &FakeNetwork{invoices: make(map[string]*fakeInvoice)}
}

// Node attaches a node to the network.
func (n *FakeNetwork) Node(alias string) *FakeNode {
	return &FakeNode{network: n, alias: alias}
}

// FakeNode implements domain.LightningRPC against the fake network.
type FakeNode struct {
	network *FakeNetwork
	alias   string
}

// Invoice mints an invoice with a fresh random preimage.
func (f *FakeNode) Invoice(_ context.Context, amountSat uint64, label, _ string) (domain.Invoice, error) {
	var preimage [32]byte
	if _, err := rand.Read(preimage[:]); err != nil {
		return domain.Invoice{}, err
	}
	hash := sha256.Sum256(preimage[:])
	hashHex := hex.EncodeToString(hash[:])

	f.network.mu.Lock()
	f.network.invoices[hashHex] = &fakeInvoice{preimage: preimage, amountSat: amountSat}
	f.network.mu.Unlock()

	msat, err := domain.SatsToMsat(amountSat)
	if err != nil {
		return domain.Invoice{}, err
	}
	return domain.Invoice{
		Bolt11:         "fakebolt11:" + hashHex + ":" + strconv.FormatUint(amountSat, 10),
		PaymentHashHex: hashHex,
		AmountMsat:     msat,
	}, nil
}

// Pay settles the referenced invoice and reveals its preimage.
func (f *FakeNode) Pay(_ context.Context, bolt11 string) (domain.Payment, error) {
	parts := strings.Split(bolt11, ":")
	if len(parts) != 3 || parts[0] != "fakebolt11" {
		return domain.Payment{}, fmt.Errorf("lightning: fake: unparseable invoice %q", bolt11)
	}
	hashHex := parts[1]

	f.network.mu.Lock()
	defer f.network.mu.Unlock()
	inv, ok := f.network.invoices[hashHex]
	if !ok {
		return domain.Payment{}, fmt.Errorf("lightning: fake: unknown invoice %s", hashHex)
	}
	if inv.settled {
		return domain.Payment{}, fmt.Errorf("lightning: fake: invoice %s already settled", hashHex)
	}
	inv.settled = true
	return domain.Payment{
		PaymentHashHex: hashHex,
		PreimageHex:    hex.EncodeToString(inv.preimage[:]),
	}, nil
}

// Settled reports whether the invoice for hashHex has been paid.
func (n *FakeNetwork) Settled(hashHex string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	inv, ok := n.invoices[hashHex]
	return ok && inv.settled
}

var _ domain.LightningRPC = (*FakeNode)(nil)
