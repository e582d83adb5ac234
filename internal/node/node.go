// Package node wires the store, chain, pool, miner, peer network and query
// API into a running node. One control goroutine owns every state change.
package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/config"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/chain"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/consensus"
	klog "github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/log"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/mempool"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/miner"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/p2p"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/rpc"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/storage"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/block"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/crypto"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/tx"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/types"
)

// ErrStopped is returned by SubmitTx after shutdown.
var ErrStopped = errors.New("node stopped")

// chainRequestCooldown suppresses duplicate CHAIN_REQUESTs to one peer.
const chainRequestCooldown = 5 * time.Second

// submission is a locally submitted transaction awaiting admission.
type submission struct {
	tx     *tx.Transaction
	result chan error
}

// Node is a fully-initialized blockchain node.
type Node struct {
	cfg    *config.Config
	logger zerolog.Logger

	// Core
	store   storage.Store
	engine  *consensus.PoS
	ch      *chain.Chain
	pool    *mempool.Pool
	tracker *consensus.ValidatorTracker
	miner   *miner.Miner // nil unless ENABLE_MINING

	// Networking
	net *p2p.Node

	// RPC
	rpcServer *rpc.Server

	key *crypto.PrivateKey

	// Owned by the control loop.
	submit      chan submission
	lastRequest map[types.PublicKey]time.Time
	missedAt    uint64 // height whose selected producer was last marked missed

	// Lifecycle
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped sync.Once
}

// New creates and initializes a Node: logger, keys, store, consensus,
// chain, pool, network and API. Nothing runs until Start.
func New(cfg *config.Config) (*Node, error) {
	// ── 1. Logger ───────────────────────────────────────────────────
	if err := klog.Init(klog.Options{
		Level:      cfg.Log.Level,
		JSON:       cfg.Log.JSON,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	}); err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	logger := klog.Node

	// ── 2. Keys ─────────────────────────────────────────────────────
	key, err := loadKey(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("PRIVATE_KEY: %w", err)
	}
	genesisKey, err := loadKey(cfg.GenesisPrivateKey)
	if err != nil {
		key.Zero()
		return nil, fmt.Errorf("GENESIS_PRIVATE_KEY: %w", err)
	}
	defer genesisKey.Zero()
	allowed, err := cfg.AllowedPeers.Keys()
	if err != nil {
		key.Zero()
		return nil, err
	}

	logger.Info().
		Str("chain_id", cfg.Genesis.ChainID).
		Str("pubkey", key.PublicKey().Short()).
		Int("allowed_peers", len(allowed)).
		Msg("Starting Agriblock node")

	// ── 3. Store ────────────────────────────────────────────────────
	store, err := storage.Open(cfg.DBBackend, cfg.DBDir())
	if err != nil {
		key.Zero()
		return nil, fmt.Errorf("open %s store at %s: %w", cfg.DBBackend, cfg.DBDir(), err)
	}
	n := &Node{
		cfg:         cfg,
		logger:      logger,
		store:       store,
		key:         key,
		submit:      make(chan submission),
		lastRequest: make(map[types.PublicKey]time.Time),
	}
	if err := n.init(allowed, genesisKey); err != nil {
		n.closeResources()
		return nil, err
	}
	return n, nil
}

// init builds everything above the store. On error the caller releases
// what was opened.
func (n *Node) init(allowed []types.PublicKey, genesisKey *crypto.PrivateKey) error {
	cfg := n.cfg
	logger := n.logger

	// ── 4. Consensus ────────────────────────────────────────────────
	engine, err := consensus.NewPoS(allowed)
	if err != nil {
		return fmt.Errorf("create consensus engine: %w", err)
	}
	engine.SetSlot(cfg.Genesis.ProducerSlot())
	if cfg.EnableMining {
		if err := engine.SetSigner(n.key); err != nil {
			return fmt.Errorf("ENABLE_MINING: %w", err)
		}
	}
	n.engine = engine

	// ── 5. Chain ────────────────────────────────────────────────────
	ch, err := chain.New(n.store, engine)
	if err != nil {
		return fmt.Errorf("create chain: %w", err)
	}
	gs, err := cfg.Genesis.Resolve(genesisKey.PublicKey(), allowed)
	if err != nil {
		return fmt.Errorf("resolve genesis: %w", err)
	}
	resumed := ch.Initialized()
	if err := ch.InitFromGenesis(gs, genesisKey); err != nil {
		return fmt.Errorf("init from genesis: %w", err)
	}
	tip := ch.Tip()
	if resumed {
		logger.Info().Uint64("height", tip.Height).Str("tip", tip.Hash.String()[:16]).Msg("Chain resumed from store")
	} else {
		logger.Info().Str("genesis", ch.GenesisHash().String()[:16]).Msg("Chain initialized from genesis")
	}
	n.ch = ch

	// ── 6. Mempool ──────────────────────────────────────────────────
	policy := mempool.DefaultPolicy()
	if policy.MinFee, err = types.ParseAmount(cfg.Chain.MinFee); err != nil {
		return fmt.Errorf("CHAIN.minFee: %w", err)
	}
	n.pool = mempool.New(ch, cfg.Chain.MempoolSize, policy)
	logger.Info().
		Int("capacity", cfg.Chain.MempoolSize).
		Str("min_fee", policy.MinFee.Dec()).
		Msg("Mempool ready")

	// ── 7. Validator tracker and miner ──────────────────────────────
	n.tracker = consensus.NewValidatorTracker(cfg.Chain.BlockInterval * time.Duration(max(len(allowed), 1)))
	if cfg.EnableMining {
		n.miner = miner.New(ch, engine, n.pool, n.key.PublicKey())
		n.miner.SetMaxBlockTxs(cfg.Chain.MaxBlockTxs)
	}

	// ── 8. P2P ──────────────────────────────────────────────────────
	listen, err := listenAddr(cfg.MyAddress)
	if err != nil {
		return err
	}
	peers, err := peerAddrs(cfg.Peers)
	if err != nil {
		return err
	}
	bans := p2p.NewBanManager(p2p.NewBanStore(n.store))
	if err := bans.LoadBans(); err != nil {
		logger.Warn().Err(err).Msg("Failed to load persisted bans")
	}
	n.net, err = p2p.New(p2p.Config{
		ListenAddr:  listen,
		Peers:       peers,
		Allowed:     allowed,
		Signer:      n.key,
		GenesisHash: ch.GenesisHash(),
		Status: func() (uint64, types.Hash) {
			t := ch.Tip()
			return t.Height, t.Hash
		},
		Blocks: ch.BlocksFrom,
		Bans:   bans,
	})
	if err != nil {
		return fmt.Errorf("create p2p node: %w", err)
	}

	// ── 9. RPC ──────────────────────────────────────────────────────
	if cfg.EnableAPI {
		n.rpcServer = rpc.New(cfg.API.Addr, ch, n.pool, n.net, cfg.API)
		n.rpcServer.SetChainID(cfg.Genesis.ChainID)
		n.rpcServer.SetValidatorTracker(n.tracker)
		n.rpcServer.SetSubmitter(n.SubmitTx)
	} else {
		logger.Warn().Msg("ENABLE_API is false; query API disabled")
	}
	return nil
}

// Start launches the network, the API and the control loop.
func (n *Node) Start() error {
	n.ctx, n.cancel = context.WithCancel(context.Background())

	if err := n.net.Start(n.ctx); err != nil {
		n.cancel()
		return fmt.Errorf("start P2P: %w", err)
	}
	n.logger.Info().Str("addr", n.net.Addr()).Int("peers", len(n.cfg.Peers)).Msg("P2P node started")

	if n.rpcServer != nil {
		if err := n.rpcServer.Start(); err != nil {
			n.cancel()
			n.net.Stop()
			return fmt.Errorf("start RPC at %s: %w", n.cfg.API.Addr, err)
		}
		n.logger.Info().Str("addr", n.rpcServer.Addr()).Msg("RPC server started")
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.run()
	}()

	tip := n.ch.Tip()
	n.logger.Info().
		Uint64("height", tip.Height).
		Str("tip", tip.Hash.String()[:16]).
		Bool("mining", n.cfg.EnableMining).
		Bool("orderer", n.cfg.IsOrdererNode).
		Bool("chain_request", n.cfg.EnableChainRequest).
		Msg("Node started successfully")
	return nil
}

// Stop performs graceful shutdown in reverse order. The control loop
// finishes its current step, so no store batch is left half-written.
func (n *Node) Stop() {
	n.stopped.Do(func() {
		if n.cancel != nil {
			n.cancel()
		}
		n.wg.Wait()

		if n.rpcServer != nil {
			if err := n.rpcServer.Stop(); err != nil {
				n.logger.Warn().Err(err).Msg("RPC shutdown")
			}
		}
		if n.net != nil {
			if err := n.net.Stop(); err != nil {
				n.logger.Warn().Err(err).Msg("P2P shutdown")
			}
		}
		n.closeResources()
		n.logger.Info().Msg("Goodbye!")
	})
}

func (n *Node) closeResources() {
	if n.key != nil {
		n.key.Zero()
	}
	if n.store != nil {
		if err := n.store.Close(); err != nil {
			n.logger.Error().Err(err).Msg("Close store")
		}
	}
}

// Chain returns the chain. Reads are snapshot reads.
func (n *Node) Chain() *chain.Chain { return n.ch }

// Pool returns the transaction pool.
func (n *Node) Pool() *mempool.Pool { return n.pool }

// Network returns the peer network.
func (n *Node) Network() *p2p.Node { return n.net }

// Tracker returns the validator liveness tracker.
func (n *Node) Tracker() *consensus.ValidatorTracker { return n.tracker }

// PublicKey returns the node key.
func (n *Node) PublicKey() types.PublicKey { return n.key.PublicKey() }

// Height returns the current chain height.
func (n *Node) Height() uint64 { return n.ch.Height() }

// RPCAddr returns the address the RPC server is listening on.
func (n *Node) RPCAddr() string {
	if n.rpcServer == nil {
		return ""
	}
	return n.rpcServer.Addr()
}

// P2PAddr returns the address the peer listener is bound to.
func (n *Node) P2PAddr() string { return n.net.Addr() }

// SubmitTx hands a local transaction to the control loop for admission
// and gossip.
func (n *Node) SubmitTx(ctx context.Context, t *tx.Transaction) error {
	s := submission{tx: t, result: make(chan error, 1)}
	select {
	case n.submit <- s:
	case <-ctx.Done():
		return ctx.Err()
	case <-n.ctx.Done():
		return ErrStopped
	}
	select {
	case err := <-s.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ── Control loop ────────────────────────────────────────────────────

// run is the only goroutine that commits blocks or admits transactions.
func (n *Node) run() {
	var mineC, syncC, announceC <-chan time.Time
	if n.miner != nil {
		t := time.NewTicker(n.cfg.Chain.BlockInterval)
		defer t.Stop()
		mineC = t.C
	}
	if n.cfg.EnableChainRequest {
		t := time.NewTicker(n.cfg.Chain.SyncInterval)
		defer t.Stop()
		syncC = t.C
	}
	if n.cfg.IsOrdererNode {
		t := time.NewTicker(n.cfg.Chain.SyncInterval)
		defer t.Stop()
		announceC = t.C
	}

	events := n.net.Events()
	for {
		select {
		case <-n.ctx.Done():
			n.logger.Info().Msg("Control loop stopped")
			return
		case ev := <-events:
			n.handleEvent(ev)
		case s := <-n.submit:
			s.result <- n.admitTx(s.tx, types.PublicKey{})
		case <-mineC:
			n.produce()
		case <-syncC:
			n.syncWithBestPeer()
		case <-announceC:
			n.announceTip()
		}
	}
}

func (n *Node) handleEvent(ev p2p.Event) {
	n.tracker.RecordHeartbeat(ev.From)
	switch ev.Kind {
	case p2p.EventPeerConnected:
		if n.cfg.EnableChainRequest && ev.Height > n.ch.Height() {
			n.requestChain(ev.From, n.ch.Height()+1)
		}
	case p2p.EventBlock:
		n.acceptBlock(ev.Block, ev.From, true)
	case p2p.EventTx:
		if err := n.admitTx(ev.Tx, ev.From); err != nil {
			n.logger.Debug().Err(err).Str("tx", ev.Tx.Hash().String()[:16]).Msg("Rejected transaction")
		}
	case p2p.EventChainResponse:
		n.handleChainResponse(ev.From, ev.Chain)
	}
}

// admitTx adds t to the pool and gossips it. from is zero for local
// submissions.
func (n *Node) admitTx(t *tx.Transaction, from types.PublicKey) error {
	if err := n.pool.Add(t); err != nil {
		if !from.IsZero() && errors.Is(err, types.ErrMalformedTransaction) {
			n.net.Bans().RecordOffense(from, p2p.PenaltyInvalidTx, err.Error())
		}
		return err
	}
	klog.Mempool.Debug().
		Str("tx", t.ID.String()[:16]).
		Str("sender", t.From.Short()).
		Uint64("nonce", t.Nonce).
		Msg("Transaction added to mempool")
	if err := n.net.BroadcastTx(t, from); err != nil {
		n.logger.Warn().Err(err).Msg("Failed to broadcast transaction")
	}
	return nil
}

// acceptBlock runs a block through the chain and reacts to the outcome.
// It reports whether the block was stored (canonical or side).
func (n *Node) acceptBlock(blk *block.Block, from types.PublicKey, relay bool) (bool, error) {
	res, err := n.ch.ProcessBlock(blk)
	if err != nil {
		n.onBlockError(blk, from, err)
		return false, err
	}
	n.afterCommit(res)
	if relay {
		if err := n.net.BroadcastBlock(blk, from); err != nil {
			n.logger.Warn().Err(err).Msg("Failed to relay block")
		}
	}
	return true, nil
}

func (n *Node) onBlockError(blk *block.Block, from types.PublicKey, err error) {
	local := from.IsZero()
	switch {
	case errors.Is(err, chain.ErrBlockKnown):
	case errors.Is(err, chain.ErrUnknownParent):
		if !local && n.cfg.EnableChainRequest {
			n.requestChain(from, n.ch.Height()+1)
		}
	case errors.Is(err, types.ErrInvalidBlockStructural),
		errors.Is(err, types.ErrInvalidBlockState),
		errors.Is(err, chain.ErrBranchInvalid):
		n.logger.Warn().Err(err).Uint64("height", blk.Height).Str("peer", from.Short()).Msg("Invalid block")
		if !local {
			n.net.Bans().RecordOffense(from, p2p.PenaltyInvalidBlock, err.Error())
		}
	case errors.Is(err, types.ErrBatchFailure):
		n.logger.Error().Err(err).Uint64("height", blk.Height).Msg("Store batch failed; block not committed")
	default:
		n.logger.Warn().Err(err).Uint64("height", blk.Height).Msg("Block not accepted")
	}
}

// afterCommit updates the pool and tracker for a processed block.
func (n *Node) afterCommit(res *chain.Result) {
	for _, blk := range res.Connected {
		n.pool.RemoveConfirmed(blk.Transactions)
		n.tracker.RecordBlock(blk.Producer)
	}
	if len(res.Reverted) > 0 {
		back := n.pool.Reinject(res.Reverted)
		n.logger.Info().Int("reverted", len(res.Reverted)).Int("reinserted", back).Msg("Reverted transactions returned to mempool")
	}
	if res.Status != chain.StatusSide {
		if dropped, err := n.pool.Prune(); err != nil {
			klog.Mempool.Warn().Err(err).Msg("Prune failed")
		} else if dropped > 0 {
			klog.Mempool.Debug().Int("dropped", dropped).Msg("Pruned stale transactions")
		}
	}
	if res.Status == chain.StatusReorganized && n.cfg.IsOrdererNode {
		n.announceTip()
	}
}

// ── Mining ──────────────────────────────────────────────────────────

// produce builds a block when the local validator owns the next height.
func (n *Node) produce() {
	blk, err := n.miner.ProduceBlock()
	if err != nil {
		if errors.Is(err, miner.ErrNotSelected) {
			n.noteMissedSlot()
			return
		}
		n.logger.Error().Err(err).Msg("Failed to produce block")
		return
	}
	if ok, _ := n.acceptBlock(blk, types.PublicKey{}, true); !ok {
		return
	}
	klog.Miner.Info().
		Uint64("height", blk.Height).
		Str("hash", blk.Hash.String()[:16]).
		Int("txs", len(blk.Transactions)).
		Msg("Block produced")
}

// noteMissedSlot records a miss against the slot 0 producer once its slot
// has passed without a block on the tip.
func (n *Node) noteMissedSlot() {
	tip := n.ch.Tip()
	if tip.Height+1 == n.missedAt {
		return
	}
	producer, _, err := n.ch.NextProducer(tip.Timestamp)
	if err != nil {
		return
	}
	stale := time.Since(time.UnixMilli(tip.Timestamp))
	if stale >= n.cfg.Genesis.ProducerSlot() {
		n.tracker.RecordMiss(producer)
		n.missedAt = tip.Height + 1
	}
}

// announceTip gossips the canonical tip so lagging or forked peers can
// converge on it.
func (n *Node) announceTip() {
	tip := n.ch.Tip()
	if tip.Height == 0 {
		return
	}
	blk, err := n.ch.GetBlockByHash(tip.Hash)
	if err != nil {
		n.logger.Warn().Err(err).Msg("Tip announcement failed")
		return
	}
	if err := n.net.BroadcastBlock(blk, types.PublicKey{}); err != nil {
		n.logger.Warn().Err(err).Msg("Tip announcement failed")
		return
	}
	n.logger.Debug().Uint64("height", tip.Height).Msg("Tip announced")
}
