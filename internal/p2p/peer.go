package p2p

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/types"
)

// Peer is an authenticated connection. Frames are written only by the
// write goroutine and read only by the read goroutine.
type Peer struct {
	Key         types.PublicKey
	Addr        string
	Inbound     bool
	ConnectedAt time.Time

	height atomic.Uint64

	conn      *websocket.Conn
	send      chan Message
	done      chan struct{}
	closeOnce sync.Once
}

// PeerInfo is a snapshot of a connected peer.
type PeerInfo struct {
	PublicKey   types.PublicKey `json:"publicKey"`
	Addr        string          `json:"addr"`
	Inbound     bool            `json:"inbound"`
	ConnectedAt time.Time       `json:"connectedAt"`
	Height      uint64          `json:"height"`
}

func newPeer(conn *websocket.Conn, key types.PublicKey, addr string, inbound bool, height uint64) *Peer {
	p := &Peer{
		Key:         key,
		Addr:        addr,
		Inbound:     inbound,
		ConnectedAt: time.Now(),
		conn:        conn,
		send:        make(chan Message, sendQueueSize),
		done:        make(chan struct{}),
	}
	p.height.Store(height)
	return p
}

// Info returns a snapshot of the peer.
func (p *Peer) Info() PeerInfo {
	return PeerInfo{
		PublicKey:   p.Key,
		Addr:        p.Addr,
		Inbound:     p.Inbound,
		ConnectedAt: p.ConnectedAt,
		Height:      p.Height(),
	}
}

// Height is the highest chain height the peer has announced.
func (p *Peer) Height() uint64 { return p.height.Load() }

func (p *Peer) observeHeight(h uint64) {
	for {
		cur := p.height.Load()
		if h <= cur || p.height.CompareAndSwap(cur, h) {
			return
		}
	}
}

// dialer is the key that opened the connection.
func (p *Peer) dialer(self types.PublicKey) types.PublicKey {
	if p.Inbound {
		return p.Key
	}
	return self
}

// trySend queues m without blocking. It reports false if the queue is
// full or the peer is closed.
func (p *Peer) trySend(m Message) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.send <- m:
		return true
	default:
		return false
	}
}

func (p *Peer) closed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// close stops the write goroutine, which closes the socket.
func (p *Peer) close() {
	p.closeOnce.Do(func() { close(p.done) })
}

// writeLoop drains the send queue and keeps the connection alive with
// pings. It owns every write to conn after the handshake.
func (p *Peer) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()
	for {
		select {
		case m := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteJSON(m); err != nil {
				p.close()
				return
			}
		case <-ticker.C:
			if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				p.close()
				return
			}
		case <-p.done:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = p.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		}
	}
}

// readLoop decodes frames and hands them to fn until the connection fails.
func (p *Peer) readLoop(fn func(*Peer, Message)) error {
	p.conn.SetReadLimit(MaxMessageSize)
	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var m Message
		if err := p.conn.ReadJSON(&m); err != nil {
			return err
		}
		_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
		fn(p, m)
	}
}
