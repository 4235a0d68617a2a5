// Package solana implements the chain RPC consumed by the coordinator: a
// thin JSON-RPC client over HTTP plus a legacy transaction builder for the
// escrow program instructions.
package solana

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/intercomswap/swapd/internal/domain"
)

// Client talks JSON-RPC to a Solana-like node.
type Client struct {
	endpoint string
	http     *http.Client

	confirmTimeout time.Duration
	pollInterval   time.Duration
}

// New creates a Client for the given RPC endpoint.
func New(endpoint string) *Client {
	return &Client{
		endpoint:       endpoint,
		http:           &http.Client{Timeout: 30 * time.Second},
		confirmTimeout: 60 * time.Second,
		pollInterval:   2 * time.Second,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("solana: encode %s: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("solana: %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("solana: %s: %w: %v", method, domain.ErrRPCFailure, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("solana: %s: %w: http %d", method, domain.ErrRPCFailure, resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("solana: %s: decode: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("solana: %s: %w: %s (%d)", method, domain.ErrRPCFailure, rpcResp.Error.Message, rpcResp.Error.Code)
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("solana: %s: decode result: %w", method, err)
		}
	}
	return nil
}

type accountInfoResult struct {
	Value *struct {
		Owner    string   `json:"owner"`
		Data     []string `json:"data"` // [base64, "base64"]
		Lamports uint64   `json:"lamports"`
	} `json:"value"`
}

// GetAccount fetches a raw account.
func (c *Client) GetAccount(ctx context.Context, pubkey string) (domain.Account, error) {
	var res accountInfoResult
	params := []any{pubkey, map[string]any{"encoding": "base64"}}
	if err := c.call(ctx, "getAccountInfo", params, &res); err != nil {
		return domain.Account{}, err
	}
	if res.Value == nil {
		return domain.Account{}, fmt.Errorf("solana: account %s: %w", pubkey, domain.ErrNotFound)
	}
	if len(res.Value.Data) == 0 {
		return domain.Account{}, fmt.Errorf("solana: account %s: empty data", pubkey)
	}
	data, err := base64.StdEncoding.DecodeString(res.Value.Data[0])
	if err != nil {
		return domain.Account{}, fmt.Errorf("solana: account %s: decode data: %w", pubkey, err)
	}
	return domain.Account{Owner: res.Value.Owner, Data: data, Lamports: res.Value.Lamports}, nil
}

// splAccountLen is the packed SPL token account size.
const splAccountLen = 165

// GetTokenAccount fetches and parses an SPL token account: mint and owner
// keys followed by the little-endian balance.
func (c *Client) GetTokenAccount(ctx context.Context, ata string) (domain.TokenAccount, error) {
	acc, err := c.GetAccount(ctx, ata)
	if err != nil {
		return domain.TokenAccount{}, err
	}
	if len(acc.Data) < splAccountLen {
		return domain.TokenAccount{}, fmt.Errorf("solana: token account %s: short data", ata)
	}
	var mint, owner [32]byte
	copy(mint[:], acc.Data[0:32])
	copy(owner[:], acc.Data[32:64])
	amount := binary.LittleEndian.Uint64(acc.Data[64:72])
	return domain.TokenAccount{
		Mint:   encodeBase58(mint),
		Owner:  encodeBase58(owner),
		Amount: amount,
	}, nil
}

// Now returns the cluster clock: the block time of the latest slot.
func (c *Client) Now(ctx context.Context) (int64, error) {
	var slot uint64
	if err := c.call(ctx, "getSlot", []any{map[string]any{"commitment": "confirmed"}}, &slot); err != nil {
		return 0, err
	}
	var blockTime int64
	if err := c.call(ctx, "getBlockTime", []any{slot}, &blockTime); err != nil {
		return 0, err
	}
	return blockTime, nil
}

// LatestBlockhash fetches a recent blockhash for transaction building.
func (c *Client) LatestBlockhash(ctx context.Context) (string, error) {
	var res struct {
		Value struct {
			Blockhash string `json:"blockhash"`
		} `json:"value"`
	}
	params := []any{map[string]any{"commitment": "finalized"}}
	if err := c.call(ctx, "getLatestBlockhash", params, &res); err != nil {
		return "", err
	}
	return res.Value.Blockhash, nil
}

// SendTx submits a signed transaction and returns its signature.
func (c *Client) SendTx(ctx context.Context, signedTx []byte) (string, error) {
	var sig string
	params := []any{
		base64.StdEncoding.EncodeToString(signedTx),
		map[string]any{"encoding": "base64"},
	}
	if err := c.call(ctx, "sendTransaction", params, &sig); err != nil {
		return "", err
	}
	return sig, nil
}

// Confirm polls signature status until the transaction is confirmed, the
// node reports an execution error, or the confirm timeout elapses.
func (c *Client) Confirm(ctx context.Context, sig string) error {
	deadline := time.Now().Add(c.confirmTimeout)
	for {
		var res struct {
			Value []*struct {
				ConfirmationStatus string          `json:"confirmationStatus"`
				Err                json.RawMessage `json:"err"`
			} `json:"value"`
		}
		params := []any{[]string{sig}}
		if err := c.call(ctx, "getSignatureStatuses", params, &res); err != nil {
			return err
		}
		if len(res.Value) > 0 && res.Value[0] != nil {
			st := res.Value[0]
			if len(st.Err) > 0 && string(st.Err) != "null" {
				return fmt.Errorf("solana: tx %s failed: %w: %s", sig, domain.ErrRPCFailure, st.Err)
			}
			if st.ConfirmationStatus == "confirmed" || st.ConfirmationStatus == "finalized" {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("solana: confirm %s: %w", sig, domain.ErrTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
}

var _ domain.ChainRPC = (*Client)(nil)
