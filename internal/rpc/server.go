// Package rpc implements the JSON-RPC 2.0 query API.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/config"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/chain"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/consensus"
	klog "github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/log"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/mempool"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/p2p"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/storage"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/tx"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/types"
)

// maxBodySize is the maximum allowed request body size (1 MB).
const maxBodySize = 1 << 20

// submitTimeout bounds how long tx_submit waits for the node.
const submitTimeout = 10 * time.Second

// Submitter hands a transaction to the node for admission and gossip.
type Submitter func(ctx context.Context, t *tx.Transaction) error

// Server is the JSON-RPC 2.0 HTTP server.
type Server struct {
	addr        string
	chainID     string
	chain       *chain.Chain
	pool        *mempool.Pool
	p2pNode     *p2p.Node                   // nil: net_peers reports no peers
	tracker     *consensus.ValidatorTracker // nil: validator_stats disabled
	submit      Submitter                   // nil: tx_submit adds to the pool directly
	limiter     *rate.Limiter               // nil: unlimited
	server      *http.Server
	logger      zerolog.Logger
	ln          net.Listener
	allowedNets []*net.IPNet // Empty = allow all.
}

// New creates a new RPC server. A zero APIConfig allows every IP and
// applies no rate limit.
func New(addr string, ch *chain.Chain, pool *mempool.Pool, p2pNode *p2p.Node, apiCfg config.APIConfig) *Server {
	s := &Server{
		addr:        addr,
		chain:       ch,
		pool:        pool,
		p2pNode:     p2pNode,
		logger:      klog.RPC,
		allowedNets: parseAllowedIPs(apiCfg.AllowedIPs),
	}
	if apiCfg.RateLimit > 0 {
		burst := int(math.Ceil(apiCfg.RateLimit))
		s.limiter = rate.NewLimiter(rate.Limit(apiCfg.RateLimit), burst)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRequest)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// parseAllowedIPs converts string IP/CIDR entries into net.IPNet.
func parseAllowedIPs(entries []string) []*net.IPNet {
	var nets []*net.IPNet
	for _, entry := range entries {
		_, ipNet, err := net.ParseCIDR(entry)
		if err == nil {
			nets = append(nets, ipNet)
			continue
		}
		// Try as a single IP (add /32 or /128).
		ip := net.ParseIP(entry)
		if ip == nil {
			continue
		}
		bits := 32
		if ip.To4() == nil {
			bits = 128
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return nets
}

// Start begins listening and serving in a background goroutine.
// It returns immediately after the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("rpc listen: %w", err)
	}
	s.ln = ln

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("RPC server error")
		}
	}()
	return nil
}

// Addr returns the listener address (useful when bound to :0).
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// SetChainID sets the chain id reported by chain_getTip.
func (s *Server) SetChainID(id string) {
	s.chainID = id
}

// SetValidatorTracker sets the validator liveness tracker.
func (s *Server) SetValidatorTracker(t *consensus.ValidatorTracker) {
	s.tracker = t
}

// SetSubmitter routes tx_submit through the node.
func (s *Server) SetSubmitter(fn Submitter) {
	s.submit = fn
}

// handleRequest is the main HTTP handler for JSON-RPC requests.
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	// IP filtering.
	if len(s.allowedNets) > 0 {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		ip := net.ParseIP(host)
		if ip == nil || !s.isIPAllowed(ip) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	}

	if r.Method != http.MethodPost {
		writeError(w, nil, CodeInvalidRequest, "only POST method is allowed")
		return
	}

	if s.limiter != nil && !s.limiter.Allow() {
		w.WriteHeader(http.StatusTooManyRequests)
		writeError(w, nil, CodeRateLimited, "rate limit exceeded")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		writeError(w, nil, CodeParseError, "failed to read request body")
		return
	}
	if len(body) > maxBodySize {
		writeError(w, nil, CodeInvalidRequest, "request body too large")
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, nil, CodeParseError, "invalid JSON")
		return
	}

	if req.JSONRPC != "2.0" {
		writeError(w, req.ID, CodeInvalidRequest, "jsonrpc must be \"2.0\"")
		return
	}

	result, rpcErr := s.dispatch(r.Context(), &req)
	if rpcErr != nil {
		s.logger.Debug().Str("method", req.Method).Int("code", rpcErr.Code).Msg(rpcErr.Message)
		writeJSON(w, Response{
			JSONRPC: "2.0",
			Error:   rpcErr,
			ID:      req.ID,
		})
		return
	}

	writeJSON(w, Response{
		JSONRPC: "2.0",
		Result:  result,
		ID:      req.ID,
	})
}

// dispatch routes a request to the appropriate handler.
func (s *Server) dispatch(ctx context.Context, req *Request) (interface{}, *Error) {
	switch req.Method {
	case "chain_getTip":
		return s.handleChainGetTip(req)
	case "chain_getBlockByHeight":
		return s.handleChainGetBlockByHeight(req)
	case "chain_getBlockByHash":
		return s.handleChainGetBlockByHash(req)
	case "tx_get":
		return s.handleTxGet(req)
	case "tx_submit":
		return s.handleTxSubmit(ctx, req)
	case "account_get":
		return s.handleAccountGet(req)
	case "stake_get":
		return s.handleStakeGet(req)
	case "stake_list":
		return s.handleStakeList(req)
	case "user_get":
		return s.handleUserGet(req)
	case "user_getByEmail":
		return s.handleUserGetByEmail(req)
	case "user_getByGoogle":
		return s.handleUserGetByGoogle(req)
	case "product_getCertifications":
		return s.handleProductGetCertifications(req)
	case "store_searchTxKeys":
		return s.handleStoreSearchTxKeys(req)
	case "mempool_info":
		return s.handleMempoolInfo(req)
	case "mempool_pending":
		return s.handleMempoolPending(req)
	case "net_peers":
		return s.handleNetPeers(req)
	case "validator_stats":
		return s.handleValidatorStats(req)
	default:
		return nil, &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("method %q not found", req.Method)}
	}
}

// writeJSON writes a JSON-RPC response.
func writeJSON(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// writeError writes a JSON-RPC error response.
func writeError(w http.ResponseWriter, id interface{}, code int, message string) {
	writeJSON(w, Response{
		JSONRPC: "2.0",
		Error:   &Error{Code: code, Message: message},
		ID:      id,
	})
}

// isIPAllowed checks if the IP is in the allowed networks list.
func (s *Server) isIPAllowed(ip net.IP) bool {
	for _, n := range s.allowedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// parseParams unmarshals the raw request params into target. Raw bytes
// are decoded once so nested payloads keep their exact encoding.
func parseParams(req *Request, target interface{}) *Error {
	if !req.hasParams() {
		return &Error{Code: CodeInvalidParams, Message: "params required"}
	}
	if err := json.Unmarshal(req.Params, target); err != nil {
		return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
	}
	return nil
}

// engineError maps an engine error onto its JSON-RPC code.
func engineError(err error) *Error {
	code := CodeInternalError
	switch {
	case storage.IsNotFound(err):
		code = CodeNotFound
	case errors.Is(err, types.ErrMalformedTransaction):
		code = CodeMalformedTx
	case errors.Is(err, types.ErrNonceConflict):
		code = CodeNonceConflict
	case errors.Is(err, types.ErrInvalidBlockStructural):
		code = CodeInvalidBlock
	case errors.Is(err, types.ErrInvalidBlockState):
		code = CodeInvalidState
	case errors.Is(err, types.ErrForkResolution):
		code = CodeForkResolution
	case errors.Is(err, types.ErrBatchFailure):
		code = CodeBatchFailure
	case errors.Is(err, types.ErrPeerUnauthorized):
		code = CodePeerUnauthorized
	case errors.Is(err, mempool.ErrPoolFull), errors.Is(err, mempool.ErrFeeTooLow):
		code = CodePoolRejected
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		code = CodeUnavailable
	}
	return &Error{Code: code, Message: err.Error()}
}
