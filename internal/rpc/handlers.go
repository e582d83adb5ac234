package rpc

import (
	"context"
	"fmt"
	"strings"

	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/chain"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/consensus"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/p2p"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/tx"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/types"
)

// maxSearchKeys caps store_searchTxKeys results.
const maxSearchKeys = 1000

// ── Chain endpoints ─────────────────────────────────────────────────────

func (s *Server) handleChainGetTip(_ *Request) (interface{}, *Error) {
	return newTipResult(s.chainID, s.chain.Tip(), s.chain.GenesisHash()), nil
}

func (s *Server) handleChainGetBlockByHeight(req *Request) (interface{}, *Error) {
	var params HeightParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	blk, err := s.chain.GetBlockByHeight(params.Height)
	if err != nil {
		return nil, engineError(fmt.Errorf("block at height %d: %w", params.Height, err))
	}
	return blk, nil
}

func (s *Server) handleChainGetBlockByHash(req *Request) (interface{}, *Error) {
	var params HashParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	hash, rpcErr := parseHash(params.Hash)
	if rpcErr != nil {
		return nil, rpcErr
	}
	blk, err := s.chain.GetBlockByHash(hash)
	if err != nil {
		return nil, engineError(fmt.Errorf("block %s: %w", params.Hash, err))
	}
	return blk, nil
}

// ── Transaction endpoints ───────────────────────────────────────────────

func (s *Server) handleTxGet(req *Request) (interface{}, *Error) {
	var params HashParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	id, rpcErr := parseHash(params.Hash)
	if rpcErr != nil {
		return nil, rpcErr
	}
	rec, err := s.chain.GetTransaction(id)
	if err != nil {
		// Pending transactions are reported without a position.
		if t := s.pool.Get(id); t != nil {
			return &chain.TxRecord{Transaction: t, Index: -1}, nil
		}
		return nil, engineError(err)
	}
	return rec, nil
}

func (s *Server) handleTxSubmit(ctx context.Context, req *Request) (interface{}, *Error) {
	var t tx.Transaction
	if err := parseParams(req, &t); err != nil {
		return nil, err
	}
	if err := t.Check(); err != nil {
		return nil, engineError(err)
	}

	if s.submit == nil {
		if err := s.pool.Add(&t); err != nil {
			return nil, engineError(err)
		}
		return &TxSubmitResult{TxID: t.ID}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()
	if err := s.submit(ctx, &t); err != nil {
		return nil, engineError(err)
	}
	return &TxSubmitResult{TxID: t.ID}, nil
}

// ── State endpoints ─────────────────────────────────────────────────────

func (s *Server) handleAccountGet(req *Request) (interface{}, *Error) {
	key, rpcErr := keyParam(req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	acct, err := s.chain.GetAccount(key)
	if err != nil {
		return nil, engineError(err)
	}
	return acct, nil
}

func (s *Server) handleStakeGet(req *Request) (interface{}, *Error) {
	key, rpcErr := keyParam(req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	st, err := s.chain.GetStake(key)
	if err != nil {
		return nil, engineError(err)
	}
	return st, nil
}

func (s *Server) handleStakeList(_ *Request) (interface{}, *Error) {
	stakes, err := s.chain.Stakes()
	if err != nil {
		return nil, engineError(err)
	}
	if stakes == nil {
		stakes = []*chain.Stake{}
	}
	return stakes, nil
}

func (s *Server) handleUserGet(req *Request) (interface{}, *Error) {
	var params UserParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if params.UserID == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "userId is required"}
	}
	u, err := s.chain.GetUser(params.UserID)
	if err != nil {
		return nil, engineError(err)
	}
	return u, nil
}

func (s *Server) handleUserGetByEmail(req *Request) (interface{}, *Error) {
	var params EmailParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if params.Email == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "email is required"}
	}
	u, err := s.chain.GetUserByEmail(params.Email)
	if err != nil {
		return nil, engineError(err)
	}
	return u, nil
}

func (s *Server) handleUserGetByGoogle(req *Request) (interface{}, *Error) {
	var params GoogleParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if params.GoogleID == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "googleId is required"}
	}
	u, err := s.chain.GetUserByGoogleID(params.GoogleID)
	if err != nil {
		return nil, engineError(err)
	}
	return u, nil
}

func (s *Server) handleProductGetCertifications(req *Request) (interface{}, *Error) {
	var params ProductParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if params.ProductID == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "productId is required"}
	}
	recs, err := s.chain.Certifications(params.ProductID)
	if err != nil {
		return nil, engineError(err)
	}
	return recs, nil
}

// handleStoreSearchTxKeys lists txhash keys by prefix for maintenance
// tooling, e.g. "user:" or "email:".
func (s *Server) handleStoreSearchTxKeys(req *Request) (interface{}, *Error) {
	var params SearchParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.Prefix) == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "prefix is required"}
	}
	limit := params.Limit
	if limit <= 0 || limit > maxSearchKeys {
		limit = maxSearchKeys
	}
	keys, err := s.chain.SearchTxKeys(params.Prefix, limit)
	if err != nil {
		return nil, engineError(err)
	}
	if keys == nil {
		keys = []string{}
	}
	return &SearchResult{Keys: keys}, nil
}

// ── Node endpoints ──────────────────────────────────────────────────────

func (s *Server) handleMempoolInfo(_ *Request) (interface{}, *Error) {
	return &MempoolInfoResult{
		Count:   s.pool.Count(),
		Senders: s.pool.Senders(),
		Hashes:  s.pool.Hashes(),
	}, nil
}

// handleMempoolPending reports the pooled transactions of one sender and
// the nonce its next transaction should use.
func (s *Server) handleMempoolPending(req *Request) (interface{}, *Error) {
	key, rpcErr := keyParam(req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	nonce, err := s.chain.AccountNonce(key)
	if err != nil {
		return nil, engineError(err)
	}
	res := &MempoolPendingResult{
		Sender:       key,
		AccountNonce: nonce,
		PendingNonce: s.pool.PendingNonce(key),
		Transactions: s.pool.Pending(key),
	}
	res.NextNonce = max(res.AccountNonce, res.PendingNonce) + 1
	return res, nil
}

func (s *Server) handleNetPeers(_ *Request) (interface{}, *Error) {
	res := &PeersResult{Peers: []p2p.PeerInfo{}}
	if s.p2pNode == nil {
		return res, nil
	}
	res.Self = s.p2pNode.Self()
	res.Peers = s.p2pNode.PeerList()
	res.Count = len(res.Peers)
	for k, err := range s.p2pNode.Refused() {
		res.Refused = append(res.Refused, fmt.Sprintf("%s: %v", k.Short(), err))
	}
	return res, nil
}

func (s *Server) handleValidatorStats(req *Request) (interface{}, *Error) {
	if s.tracker == nil {
		return nil, &Error{Code: CodeUnavailable, Message: "validator tracking not enabled"}
	}
	if !req.hasParams() {
		stats := s.tracker.GetAllStats()
		if stats == nil {
			stats = []*consensus.ValidatorStats{}
		}
		return stats, nil
	}
	key, rpcErr := keyParam(req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	st := s.tracker.GetStats(key)
	if st == nil {
		return nil, &Error{Code: CodeNotFound, Message: fmt.Sprintf("no stats for validator %s", key.Short())}
	}
	return st, nil
}

// ── Param helpers ───────────────────────────────────────────────────────

func parseHash(s string) (types.Hash, *Error) {
	if s == "" {
		return types.Hash{}, &Error{Code: CodeInvalidParams, Message: "hash is required"}
	}
	h, err := types.HexToHash(s)
	if err != nil {
		return types.Hash{}, &Error{Code: CodeInvalidParams, Message: "invalid hash: must be 32-byte hex"}
	}
	return h, nil
}

func keyParam(req *Request) (types.PublicKey, *Error) {
	var params KeyParam
	if err := parseParams(req, &params); err != nil {
		return types.PublicKey{}, err
	}
	k, err := types.ParsePublicKey(params.PublicKey)
	if err != nil {
		return types.PublicKey{}, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid publicKey: %v", err)}
	}
	return k, nil
}
