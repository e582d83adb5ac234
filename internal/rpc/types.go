package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/chain"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/p2p"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/tx"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/types"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeNotFound       = -32000
)

// Engine error codes. Each maps one class of the error taxonomy.
const (
	CodeMalformedTx      = -32001
	CodeNonceConflict    = -32002
	CodeInvalidBlock     = -32003
	CodeInvalidState     = -32004
	CodeForkResolution   = -32005
	CodeBatchFailure     = -32006
	CodePeerUnauthorized = -32007
	CodePoolRejected     = -32010
	CodeRateLimited      = -32029
	CodeUnavailable      = -32030
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id"`
}

// NewRequest encodes params into a request. Nil params are omitted.
func NewRequest(method string, params, id interface{}) (*Request, error) {
	req := &Request{JSONRPC: "2.0", Method: method, ID: id}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode params: %w", err)
		}
		req.Params = data
	}
	return req, nil
}

// hasParams reports whether the request carries non-null params.
func (r *Request) hasParams() bool {
	return len(r.Params) > 0 && string(r.Params) != "null"
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *Error) Error() string { return e.Message }

// ── Param types ─────────────────────────────────────────────────────────

// HashParam is used by endpoints that take a single hash.
type HashParam struct {
	Hash string `json:"hash"`
}

// HeightParam is used by chain_getBlockByHeight.
type HeightParam struct {
	Height uint64 `json:"height"`
}

// KeyParam is used by endpoints that take a public key.
type KeyParam struct {
	PublicKey string `json:"publicKey"`
}

// UserParam is used by user_get.
type UserParam struct {
	UserID string `json:"userId"`
}

// EmailParam is used by user_getByEmail.
type EmailParam struct {
	Email string `json:"email"`
}

// GoogleParam is used by user_getByGoogle.
type GoogleParam struct {
	GoogleID string `json:"googleId"`
}

// ProductParam is used by product_getCertifications.
type ProductParam struct {
	ProductID string `json:"productId"`
}

// SearchParam is used by store_searchTxKeys.
type SearchParam struct {
	Prefix string `json:"prefix"`
	Limit  int    `json:"limit,omitempty"`
}

// ── Result types ────────────────────────────────────────────────────────

// TipResult is returned by chain_getTip.
type TipResult struct {
	ChainID     string     `json:"chainId,omitempty"`
	Height      uint64     `json:"height"`
	Hash        types.Hash `json:"hash"`
	Timestamp   int64      `json:"timestamp"`
	StateRoot   types.Hash `json:"stateRoot"`
	Weight      string     `json:"weight"`
	GenesisHash types.Hash `json:"genesisHash"`
}

func newTipResult(chainID string, tip chain.Tip, genesis types.Hash) *TipResult {
	weight := "0"
	if tip.Weight != nil {
		weight = tip.Weight.Dec()
	}
	return &TipResult{
		ChainID:     chainID,
		Height:      tip.Height,
		Hash:        tip.Hash,
		Timestamp:   tip.Timestamp,
		StateRoot:   tip.StateRoot,
		Weight:      weight,
		GenesisHash: genesis,
	}
}

// TxSubmitResult is returned by tx_submit.
type TxSubmitResult struct {
	TxID types.Hash `json:"txId"`
}

// MempoolInfoResult is returned by mempool_info.
type MempoolInfoResult struct {
	Count   int          `json:"count"`
	Senders int          `json:"senders"`
	Hashes  []types.Hash `json:"hashes"`
}

// MempoolPendingResult is returned by mempool_pending.
type MempoolPendingResult struct {
	Sender       types.PublicKey   `json:"sender"`
	AccountNonce uint64            `json:"accountNonce"`
	PendingNonce uint64            `json:"pendingNonce"` // 0 when nothing is pooled
	NextNonce    uint64            `json:"nextNonce"`
	Transactions []*tx.Transaction `json:"transactions"`
}

// PeersResult is returned by net_peers.
type PeersResult struct {
	Self    types.PublicKey `json:"self"`
	Count   int             `json:"count"`
	Peers   []p2p.PeerInfo  `json:"peers"`
	Refused []string        `json:"refused,omitempty"`
}

// SearchResult is returned by store_searchTxKeys.
type SearchResult struct {
	Keys []string `json:"keys"`
}
