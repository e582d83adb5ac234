// Package p2p implements the authenticated WebSocket peer network: a signed
// handshake gated by an allow-list, block and transaction gossip, and
// batched chain synchronization.
package p2p

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/config"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/block"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/tx"
)

// MessageType names the payload carried by an envelope.
type MessageType string

// Wire message types.
const (
	MsgHandshake      MessageType = "HANDSHAKE"
	MsgChainRequest   MessageType = "CHAIN_REQUEST"
	MsgChainResponse  MessageType = "CHAIN_RESPONSE"
	MsgBlockBroadcast MessageType = "BLOCK_BROADCAST"
	MsgTxBroadcast    MessageType = "TX_BROADCAST"
)

// Protocol limits and timings.
const (
	// MaxChainResponseBlocks caps the blocks in one CHAIN_RESPONSE.
	MaxChainResponseBlocks = config.SyncBatchSize
	// MaxMessageSize is the largest frame a peer may send.
	MaxMessageSize = 16 << 20

	HandshakeTimeout = 10 * time.Second
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = pongWait * 9 / 10
	redialInterval   = 10 * time.Second
	sendQueueSize    = 256
)

// Message is the JSON envelope of every frame.
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ChainRequest asks for canonical blocks starting at FromHeight.
type ChainRequest struct {
	FromHeight uint64 `json:"fromHeight"`
}

// ChainResponse carries up to MaxChainResponseBlocks consecutive blocks and
// the sender's tip height, so the requester knows whether to ask again.
type ChainResponse struct {
	Blocks    []*block.Block `json:"blocks"`
	TipHeight uint64         `json:"tipHeight"`
}

// BlockBroadcast announces a block.
type BlockBroadcast struct {
	Block *block.Block `json:"block"`
}

// TxBroadcast announces a pending transaction.
type TxBroadcast struct {
	Transaction *tx.Transaction `json:"transaction"`
}

// NewMessage wraps payload in an envelope of type t.
func NewMessage(t MessageType, payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s: %w", t, err)
	}
	return Message{Type: t, Payload: data}, nil
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s: %w", m.Type, err)
	}
	return nil
}
