// Package lnd implements domain.LightningRPC against an lnd node over
// gRPC with TLS and macaroon credentials.
package lnd

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/routerrpc"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/macaroons"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"gopkg.in/macaroon.v2"

	"github.com/intercomswap/swapd/internal/domain"
)

// Config holds connection parameters for an lnd node.
type Config struct {
	Host         string
	TLSCertPath  string
	MacaroonPath string

	// PaymentTimeoutSec bounds a single payment attempt end to end.
	PaymentTimeoutSec int32
	// MaxFeeSat caps routing fees on outgoing payments.
	MaxFeeSat int64
}

// Client wraps the lnd gRPC services the coordinator needs.
type Client struct {
	ln     lnrpc.LightningClient
	router routerrpc.RouterClient
	conn   *grpc.ClientConn
	cfg    Config
}

// New dials lnd and constructs the service clients.
func New(cfg Config) (*Client, error) {
	creds, err := credentials.NewClientTLSFromFile(cfg.TLSCertPath, "")
	if err != nil {
		return nil, fmt.Errorf("lnd: load tls cert: %w", err)
	}

	macBytes, err := os.ReadFile(cfg.MacaroonPath)
	if err != nil {
		return nil, fmt.Errorf("lnd: read macaroon: %w", err)
	}
	mac := &macaroon.Macaroon{}
	if err := mac.UnmarshalBinary(macBytes); err != nil {
		return nil, fmt.Errorf("lnd: unmarshal macaroon: %w", err)
	}
	macCreds, err := macaroons.NewMacaroonCredential(mac)
	if err != nil {
		return nil, fmt.Errorf("lnd: macaroon credential: %w", err)
	}

	conn, err := grpc.NewClient(cfg.Host,
		grpc.WithTransportCredentials(creds),
		grpc.WithPerRPCCredentials(macCreds),
	)
	if err != nil {
		return nil, fmt.Errorf("lnd: dial: %w", err)
	}

	if cfg.PaymentTimeoutSec <= 0 {
		cfg.PaymentTimeoutSec = 60
	}
	return &Client{
		ln:     lnrpc.NewLightningClient(conn),
		router: routerrpc.NewRouterClient(conn),
		conn:   conn,
		cfg:    cfg,
	}, nil
}

// Close tears down the gRPC connection.
func (c *Client) Close() error { return c.conn.Close() }

// Pubkey returns the node's identity public key.
func (c *Client) Pubkey(ctx context.Context) (string, error) {
	info, err := c.ln.GetInfo(ctx, &lnrpc.GetInfoRequest{})
	if err != nil {
		return "", fmt.Errorf("lnd: getinfo: %w", err)
	}
	return info.IdentityPubkey, nil
}

// Invoice creates a plain settled-on-receipt invoice. Hodl invoices are
// out of protocol and this client never creates one.
func (c *Client) Invoice(ctx context.Context, amountSat uint64, label, desc string) (domain.Invoice, error) {
	resp, err := c.ln.AddInvoice(ctx, &lnrpc.Invoice{
		Memo:  desc,
		Value: int64(amountSat),
	})
	if err != nil {
		return domain.Invoice{}, fmt.Errorf("lnd: add invoice %q: %w", label, err)
	}
	hash, err := lntypes.MakeHash(resp.RHash)
	if err != nil {
		return domain.Invoice{}, fmt.Errorf("lnd: invoice hash: %w", err)
	}
	msat, err := domain.SatsToMsat(amountSat)
	if err != nil {
		return domain.Invoice{}, err
	}
	return domain.Invoice{
		Bolt11:         resp.PaymentRequest,
		PaymentHashHex: hash.String(),
		AmountMsat:     msat,
	}, nil
}

// Pay settles a BOLT11 invoice and returns the revealed preimage. It
// blocks until the payment succeeds or terminally fails.
func (c *Client) Pay(ctx context.Context, bolt11 string) (domain.Payment, error) {
	stream, err := c.router.SendPaymentV2(ctx, &routerrpc.SendPaymentRequest{
		PaymentRequest: bolt11,
		TimeoutSeconds: c.cfg.PaymentTimeoutSec,
		FeeLimitSat:    c.cfg.MaxFeeSat,
	})
	if err != nil {
		return domain.Payment{}, fmt.Errorf("lnd: send payment: %w", err)
	}
	for {
		update, err := stream.Recv()
		if err != nil {
			return domain.Payment{}, fmt.Errorf("lnd: payment stream: %w", err)
		}
		switch update.Status {
		case lnrpc.Payment_SUCCEEDED:
			preimage, err := lntypes.MakePreimageFromStr(update.PaymentPreimage)
			if err != nil {
				return domain.Payment{}, fmt.Errorf("lnd: preimage: %w", err)
			}
			return domain.Payment{
				PaymentHashHex: preimage.Hash().String(),
				PreimageHex:    hex.EncodeToString(preimage[:]),
			}, nil
		case lnrpc.Payment_FAILED:
			return domain.Payment{}, fmt.Errorf("lnd: payment failed: %s", update.FailureReason)
		}
	}
}

var _ domain.LightningRPC = (*Client)(nil)
