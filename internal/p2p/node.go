package p2p

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	klog "github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/log"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/block"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/crypto"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/tx"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/types"
)

// Close codes sent when a handshake is refused.
const (
	CloseUnauthorized = 4001
	CloseRefused      = 4002
)

// PeerAddr is a statically configured peer.
type PeerAddr struct {
	Key  types.PublicKey
	Addr string // ws://host:port, or host:port
}

// BlockProvider returns up to max canonical blocks starting at from.
type BlockProvider func(from uint64, max int) ([]*block.Block, error)

// StatusProvider returns the local tip for handshakes and chain responses.
type StatusProvider func() (height uint64, tip types.Hash)

// Config holds P2P node configuration.
type Config struct {
	ListenAddr  string // host:port; empty disables inbound connections
	Peers       []PeerAddr
	Allowed     []types.PublicKey
	Signer      crypto.Signer
	GenesisHash types.Hash

	Status StatusProvider
	Blocks BlockProvider // nil: CHAIN_REQUEST is ignored
	Bans   *BanManager   // nil: a non-persistent manager is created

	SeenCacheSize    int           // gossip dedup entries
	BroadcastRetries int           // retries when a peer's send queue is full
	RetryInterval    time.Duration // pacing between retries
	EventQueue       int
}

func (c *Config) setDefaults() {
	if c.SeenCacheSize <= 0 {
		c.SeenCacheSize = 8192
	}
	if c.BroadcastRetries <= 0 {
		c.BroadcastRetries = 5
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 100 * time.Millisecond
	}
	if c.EventQueue <= 0 {
		c.EventQueue = 512
	}
	if c.Status == nil {
		c.Status = func() (uint64, types.Hash) { return 0, types.Hash{} }
	}
}

// EventKind classifies inbound events.
type EventKind int

// Event kinds delivered to the node control loop.
const (
	EventPeerConnected EventKind = iota
	EventBlock
	EventTx
	EventChainResponse
)

// Event is an inbound message from an authenticated peer.
type Event struct {
	Kind   EventKind
	From   types.PublicKey
	Height uint64 // EventPeerConnected: the peer's handshake height
	Block  *block.Block
	Tx     *tx.Transaction
	Chain  *ChainResponse
}

// Node is the WebSocket peer network. Each peer has one read and one
// write goroutine; reads are delivered to Events in arrival order.
type Node struct {
	cfg     Config
	self    types.PublicKey
	allowed map[types.PublicKey]struct{}
	bans    *BanManager
	now     func() time.Time

	seen    *lru.Cache[types.Hash, struct{}]
	nonces  *lru.Cache[string, struct{}]
	retry   *rate.Limiter
	events  chan Event
	upgrade websocket.Upgrader
	dialer  *websocket.Dialer

	mu      sync.RWMutex
	peers   map[types.PublicKey]*Peer
	refused map[types.PublicKey]error

	listener net.Listener
	server   *http.Server
	ctx      context.Context
	cancel   context.CancelFunc
	group    *errgroup.Group
}

// New creates a P2P node. Nothing is opened until Start.
func New(cfg Config) (*Node, error) {
	if cfg.Signer == nil {
		return nil, errors.New("p2p: signer required")
	}
	cfg.setDefaults()

	seen, err := lru.New[types.Hash, struct{}](cfg.SeenCacheSize)
	if err != nil {
		return nil, fmt.Errorf("seen cache: %w", err)
	}
	nonces, err := lru.New[string, struct{}](4096)
	if err != nil {
		return nil, fmt.Errorf("nonce cache: %w", err)
	}

	n := &Node{
		cfg:     cfg,
		self:    cfg.Signer.PublicKey(),
		allowed: make(map[types.PublicKey]struct{}, len(cfg.Allowed)),
		bans:    cfg.Bans,
		now:     time.Now,
		seen:    seen,
		nonces:  nonces,
		retry:   rate.NewLimiter(rate.Every(cfg.RetryInterval), 1),
		events:  make(chan Event, cfg.EventQueue),
		upgrade: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		dialer: &websocket.Dialer{
			HandshakeTimeout: HandshakeTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
		peers:   make(map[types.PublicKey]*Peer),
		refused: make(map[types.PublicKey]error),
	}
	for _, k := range cfg.Allowed {
		n.allowed[k] = struct{}{}
	}
	if n.bans == nil {
		n.bans = NewBanManager(nil)
	}
	n.bans.OnBan(func(k types.PublicKey) { n.DisconnectPeer(k) })
	return n, nil
}

// Start binds the listener and launches the accept, dial and maintenance
// goroutines. They stop when ctx is cancelled or Stop is called.
func (n *Node) Start(ctx context.Context) error {
	logger := klog.P2P
	n.ctx, n.cancel = context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(n.ctx)
	n.group = g

	if n.cfg.ListenAddr != "" {
		ln, err := net.Listen("tcp", n.cfg.ListenAddr)
		if err != nil {
			n.cancel()
			return fmt.Errorf("listen %s: %w", n.cfg.ListenAddr, err)
		}
		n.listener = ln
		mux := http.NewServeMux()
		mux.HandleFunc("/", n.serveWS)
		n.server = &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: HandshakeTimeout,
			BaseContext:       func(net.Listener) context.Context { return gctx },
		}
		g.Go(func() error {
			if err := n.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("p2p server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return n.server.Shutdown(shutdownCtx)
		})
		logger.Info().Str("addr", ln.Addr().String()).Msg("P2P listening")
	}

	for _, pa := range n.cfg.Peers {
		if _, ok := n.allowed[pa.Key]; !ok {
			logger.Warn().Str("peer", pa.Key.Short()).Str("addr", pa.Addr).Msg("Configured peer not in ALLOWED_PEERS, skipping")
			continue
		}
		if pa.Key == n.self {
			continue
		}
		g.Go(func() error {
			n.dialLoop(gctx, pa)
			return nil
		})
	}

	g.Go(func() error {
		n.bans.RunPruneLoop(gctx.Done())
		return nil
	})
	return nil
}

// Stop closes every connection and waits for the network goroutines.
func (n *Node) Stop() error {
	if n.cancel == nil {
		return nil
	}
	n.cancel()
	n.mu.Lock()
	for _, p := range n.peers {
		p.close()
	}
	n.mu.Unlock()
	return n.group.Wait()
}

// Addr returns the bound listen address, or "" if not listening.
func (n *Node) Addr() string {
	if n.listener == nil {
		return ""
	}
	return n.listener.Addr().String()
}

// Self returns the node's public key.
func (n *Node) Self() types.PublicKey { return n.self }

// Bans returns the node's ban manager.
func (n *Node) Bans() *BanManager { return n.bans }

// Events delivers inbound blocks, transactions, chain responses and new
// peer notices.
func (n *Node) Events() <-chan Event { return n.events }

// PeerCount returns the number of connected peers.
func (n *Node) PeerCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.peers)
}

// PeerList returns a snapshot of connected peers.
func (n *Node) PeerList() []PeerInfo {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]PeerInfo, 0, len(n.peers))
	for _, p := range n.peers {
		out = append(out, p.Info())
	}
	return out
}

// Refused returns the keys refused as unauthorized and the reason.
func (n *Node) Refused() map[types.PublicKey]error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make(map[types.PublicKey]error, len(n.refused))
	for k, v := range n.refused {
		out[k] = v
	}
	return out
}

// DisconnectPeer closes the connection to key, if any.
func (n *Node) DisconnectPeer(key types.PublicKey) {
	n.mu.RLock()
	p := n.peers[key]
	n.mu.RUnlock()
	if p != nil {
		p.close()
	}
}

func (n *Node) peer(key types.PublicKey) *Peer {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.peers[key]
}

func (n *Node) localHandshake() (*HandshakeMessage, error) {
	height, tip := n.cfg.Status()
	return NewHandshake(n.cfg.Signer, height, tip, n.cfg.GenesisHash, n.now())
}

// serveWS accepts an inbound connection. The dialer speaks first.
func (n *Node) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := n.upgrade.Upgrade(w, r, nil)
	if err != nil {
		klog.P2P.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	remote, err := n.readHandshake(conn)
	if err != nil {
		n.refuse(conn, remote, r.RemoteAddr, err)
		return
	}
	local, err := n.localHandshake()
	if err != nil {
		conn.Close()
		return
	}
	if err := n.writeHandshake(conn, local); err != nil {
		conn.Close()
		return
	}
	n.runPeer(conn, remote, r.RemoteAddr, true)
}

// connect dials pa once and runs the connection until it ends.
func (n *Node) connect(ctx context.Context, pa PeerAddr) error {
	url := pa.Addr
	if !strings.Contains(url, "://") {
		url = "ws://" + url
	}
	conn, _, err := n.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}

	local, err := n.localHandshake()
	if err != nil {
		conn.Close()
		return err
	}
	if err := n.writeHandshake(conn, local); err != nil {
		conn.Close()
		return fmt.Errorf("send handshake: %w", err)
	}
	remote, err := n.readHandshake(conn)
	if err == nil && remote.PublicKey != pa.Key {
		err = fmt.Errorf("%w: expected key %s, got %s", types.ErrPeerUnauthorized, pa.Key.Short(), remote.PublicKey.Short())
	}
	if err != nil {
		n.refuse(conn, remote, pa.Addr, err)
		return err
	}
	n.runPeer(conn, remote, pa.Addr, false)
	return nil
}

// dialLoop keeps one outbound connection to pa. Unauthorized peers are
// never retried.
func (n *Node) dialLoop(ctx context.Context, pa PeerAddr) {
	logger := klog.P2P.With().Str("peer", pa.Key.Short()).Str("addr", pa.Addr).Logger()
	for {
		if n.peer(pa.Key) == nil && !n.bans.IsBanned(pa.Key) {
			err := n.connect(ctx, pa)
			switch {
			case errors.Is(err, types.ErrPeerUnauthorized):
				n.mu.Lock()
				n.refused[pa.Key] = err
				n.mu.Unlock()
				logger.Error().Err(err).Msg("Peer unauthorized, not retrying")
				return
			case err != nil && ctx.Err() == nil:
				logger.Debug().Err(err).Msg("Peer connect failed")
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(redialInterval):
		}
	}
}

func (n *Node) writeHandshake(conn *websocket.Conn, hs *HandshakeMessage) error {
	m, err := NewMessage(MsgHandshake, hs)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(HandshakeTimeout))
	return conn.WriteJSON(m)
}

// readHandshake reads and validates the first frame. The returned message
// is non-nil whenever it could be decoded, so refusals can name the key.
func (n *Node) readHandshake(conn *websocket.Conn) (*HandshakeMessage, error) {
	conn.SetReadLimit(MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(HandshakeTimeout))
	var m Message
	if err := conn.ReadJSON(&m); err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) && ce.Code == CloseUnauthorized {
			return nil, fmt.Errorf("%w: remote: %s", types.ErrPeerUnauthorized, ce.Text)
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, ErrHandshakeTimeout
		}
		return nil, fmt.Errorf("read handshake: %w", err)
	}
	if m.Type != MsgHandshake {
		return nil, ErrUnexpectedFrame
	}
	var hs HandshakeMessage
	if err := m.Decode(&hs); err != nil {
		return nil, err
	}
	_ = conn.SetReadDeadline(time.Time{})
	return &hs, n.validateHandshake(&hs)
}

// refuse closes a connection whose handshake failed.
func (n *Node) refuse(conn *websocket.Conn, hs *HandshakeMessage, addr string, err error) {
	logger := klog.P2P.Warn().Err(err).Str("addr", addr)
	code := CloseRefused
	if hs != nil {
		logger = logger.Str("peer", hs.PublicKey.Short())
		if errors.Is(err, types.ErrPeerUnauthorized) {
			code = CloseUnauthorized
			n.mu.Lock()
			n.refused[hs.PublicKey] = err
			n.mu.Unlock()
		}
		if errors.Is(err, ErrGenesisMismatch) {
			n.bans.RecordOffense(hs.PublicKey, PenaltyHandshakeFail, "genesis mismatch")
		}
	}
	logger.Msg("Handshake refused")
	msg := websocket.FormatCloseMessage(code, err.Error())
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	conn.Close()
}

// register adds p to the peer table. Of two connections between the same
// pair, the one dialed by the lower key survives on both ends.
func (n *Node) register(p *Peer) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if old, ok := n.peers[p.Key]; ok {
		if old.dialer(n.self).Compare(p.dialer(n.self)) <= 0 {
			return false
		}
		old.close()
	}
	n.peers[p.Key] = p
	return true
}

func (n *Node) unregister(p *Peer) {
	n.mu.Lock()
	if n.peers[p.Key] == p {
		delete(n.peers, p.Key)
	}
	n.mu.Unlock()
}

// runPeer serves an authenticated connection until it closes.
func (n *Node) runPeer(conn *websocket.Conn, hs *HandshakeMessage, addr string, inbound bool) {
	p := newPeer(conn, hs.PublicKey, addr, inbound, hs.ChainHeight)
	if !n.register(p) {
		n.refuse(conn, hs, addr, ErrDuplicatePeer)
		return
	}
	klog.P2P.Info().
		Str("peer", p.Key.Short()).
		Str("addr", addr).
		Bool("inbound", inbound).
		Uint64("height", hs.ChainHeight).
		Msg("Peer connected")

	go p.writeLoop()
	go func() {
		select {
		case <-n.ctx.Done():
			p.close()
		case <-p.done:
		}
	}()
	n.deliver(Event{Kind: EventPeerConnected, From: p.Key, Height: hs.ChainHeight})

	err := p.readLoop(n.handleMessage)
	p.close()
	n.unregister(p)
	klog.P2P.Info().Str("peer", p.Key.Short()).AnErr("reason", err).Msg("Peer disconnected")
}

func (n *Node) deliver(ev Event) bool {
	select {
	case n.events <- ev:
		return true
	case <-n.ctx.Done():
		return false
	}
}

// handleMessage runs on the peer's read goroutine.
func (n *Node) handleMessage(p *Peer, m Message) {
	switch m.Type {
	case MsgBlockBroadcast:
		var bb BlockBroadcast
		if err := m.Decode(&bb); err != nil || bb.Block == nil {
			n.bans.RecordOffense(p.Key, PenaltyMalformed, "malformed block broadcast")
			return
		}
		p.observeHeight(bb.Block.Height)
		if !n.markSeen(bb.Block.Hash) {
			return
		}
		n.deliver(Event{Kind: EventBlock, From: p.Key, Block: bb.Block})

	case MsgTxBroadcast:
		var tb TxBroadcast
		if err := m.Decode(&tb); err != nil || tb.Transaction == nil {
			n.bans.RecordOffense(p.Key, PenaltyMalformed, "malformed tx broadcast")
			return
		}
		if !n.markSeen(tb.Transaction.Hash()) {
			return
		}
		n.deliver(Event{Kind: EventTx, From: p.Key, Tx: tb.Transaction})

	case MsgChainRequest:
		n.serveChainRequest(p, m)

	case MsgChainResponse:
		var cr ChainResponse
		if err := m.Decode(&cr); err != nil {
			n.bans.RecordOffense(p.Key, PenaltyMalformed, "malformed chain response")
			return
		}
		if len(cr.Blocks) > MaxChainResponseBlocks {
			n.bans.RecordOffense(p.Key, PenaltyProtocol, "oversized chain response")
			return
		}
		p.observeHeight(cr.TipHeight)
		n.deliver(Event{Kind: EventChainResponse, From: p.Key, Chain: &cr})

	case MsgHandshake:
		n.bans.RecordOffense(p.Key, PenaltyProtocol, "repeated handshake")

	default:
		n.bans.RecordOffense(p.Key, PenaltyProtocol, fmt.Sprintf("unknown message type %q", m.Type))
	}
}

// markSeen records h and reports whether it was new.
func (n *Node) markSeen(h types.Hash) bool {
	_, seen, _ := n.seen.PeekOrAdd(h, struct{}{})
	return !seen
}
