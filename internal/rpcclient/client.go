// Package rpcclient provides a JSON-RPC 2.0 client for Agriblock nodes.
package rpcclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/chain"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/rpc"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/block"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/tx"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/types"
)

// Client is a JSON-RPC 2.0 HTTP client.
type Client struct {
	endpoint string
	http     *http.Client
	nextID   atomic.Int64
}

// New creates a new RPC client targeting the given endpoint URL.
func New(endpoint string) *Client {
	return NewWithTimeout(endpoint, 10*time.Second)
}

// NewWithTimeout creates a new RPC client with a custom HTTP timeout.
func NewWithTimeout(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		http: &http.Client{
			Timeout: timeout,
		},
	}
}

// response is a JSON-RPC 2.0 response with the result left raw.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpc.Error      `json:"error,omitempty"`
	ID      int64           `json:"id"`
}

// RPCError is returned when the server responds with an error.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// IsCode reports whether err is an RPCError with the given code.
func IsCode(err error, code int) bool {
	var re *RPCError
	return errors.As(err, &re) && re.Code == code
}

// Call invokes a JSON-RPC method and unmarshals the result into the provided pointer.
// If result is nil, the response result is discarded.
func (c *Client) Call(method string, params, result interface{}) error {
	req, err := rpc.NewRequest(method, params, c.nextID.Add(1))
	if err != nil {
		return err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	resp, err := c.http.Post(c.endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("http %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	var rpcResp response
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if rpcResp.Error != nil {
		return &RPCError{
			Code:    rpcResp.Error.Code,
			Message: rpcResp.Error.Message,
		}
	}

	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}

// Tip returns the canonical tip.
func (c *Client) Tip() (*rpc.TipResult, error) {
	var out rpc.TipResult
	if err := c.Call("chain_getTip", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// BlockByHeight returns the canonical block at height.
func (c *Client) BlockByHeight(height uint64) (*block.Block, error) {
	var out block.Block
	if err := c.Call("chain_getBlockByHeight", rpc.HeightParam{Height: height}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// BlockByHash returns a canonical block by hash.
func (c *Client) BlockByHash(h types.Hash) (*block.Block, error) {
	var out block.Block
	if err := c.Call("chain_getBlockByHash", rpc.HashParam{Hash: h.String()}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Transaction returns a committed or pending transaction record.
func (c *Client) Transaction(id types.Hash) (*chain.TxRecord, error) {
	var out chain.TxRecord
	if err := c.Call("tx_get", rpc.HashParam{Hash: id.String()}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitTx submits a signed transaction and returns its id.
func (c *Client) SubmitTx(t *tx.Transaction) (types.Hash, error) {
	var out rpc.TxSubmitResult
	if err := c.Call("tx_submit", t, &out); err != nil {
		return types.Hash{}, err
	}
	return out.TxID, nil
}

// Account returns the account row of k.
func (c *Client) Account(k types.PublicKey) (*chain.Account, error) {
	var out chain.Account
	if err := c.Call("account_get", rpc.KeyParam{PublicKey: k.String()}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Pending returns the pooled transactions of k and its next free nonce.
func (c *Client) Pending(k types.PublicKey) (*rpc.MempoolPendingResult, error) {
	var out rpc.MempoolPendingResult
	if err := c.Call("mempool_pending", rpc.KeyParam{PublicKey: k.String()}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stakes lists every stake row.
func (c *Client) Stakes() ([]*chain.Stake, error) {
	var out []*chain.Stake
	if err := c.Call("stake_list", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// User looks up a registered user by id.
func (c *Client) User(userID string) (*chain.User, error) {
	var out chain.User
	if err := c.Call("user_get", rpc.UserParam{UserID: userID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UserByEmail looks up a registered user by email.
func (c *Client) UserByEmail(email string) (*chain.User, error) {
	var out chain.User
	if err := c.Call("user_getByEmail", rpc.EmailParam{Email: email}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SearchTxKeys lists txhash keys with the given prefix.
func (c *Client) SearchTxKeys(prefix string, limit int) ([]string, error) {
	var out rpc.SearchResult
	if err := c.Call("store_searchTxKeys", rpc.SearchParam{Prefix: prefix, Limit: limit}, &out); err != nil {
		return nil, err
	}
	return out.Keys, nil
}
