package p2p

import (
	"encoding/json"
	"testing"

	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/block"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/tx"
)

// FuzzEnvelopeDecode checks that arbitrary frames never panic the decoder.
func FuzzEnvelopeDecode(f *testing.F) {
	f.Add([]byte(`{"type":"HANDSHAKE","payload":{"publicKey":"","chainHeight":1}}`))
	f.Add([]byte(`{"type":"CHAIN_REQUEST","payload":{"fromHeight":5}}`))
	f.Add([]byte(`{"type":"CHAIN_RESPONSE","payload":{"blocks":[null],"tipHeight":9}}`))
	f.Add([]byte(`{"type":"BLOCK_BROADCAST","payload":{"block":{"height":1}}}`))
	f.Add([]byte(`{"type":"TX_BROADCAST","payload":null}`))
	f.Add([]byte(`{}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			return
		}
		var (
			hs HandshakeMessage
			cr ChainResponse
			bb BlockBroadcast
			tb TxBroadcast
		)
		if m.Decode(&hs) == nil {
			_ = hs.Verify()
		}
		if m.Decode(&cr) == nil {
			for _, b := range cr.Blocks {
				if b != nil {
					b.Validate()
				}
			}
		}
		if m.Decode(&bb) == nil && bb.Block != nil {
			bb.Block.Validate()
			bb.Block.ComputeHash()
		}
		if m.Decode(&tb) == nil && tb.Transaction != nil {
			tb.Transaction.Hash()
			tb.Transaction.Validate()
		}
	})
}

// FuzzBlockMessageUnmarshal tests that arbitrary JSON does not panic
// when unmarshaled as a gossip block message.
func FuzzBlockMessageUnmarshal(f *testing.F) {
	f.Add([]byte(`{"height":1,"timestamp":1000,"transactions":[]}`))
	f.Add([]byte(`{}`))
	f.Add([]byte(`{"transactions":null}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		var blk block.Block
		if err := json.Unmarshal(data, &blk); err != nil {
			return
		}
		blk.Validate()
		blk.ComputeHash()
	})
}

// FuzzTxMessageUnmarshal tests that arbitrary JSON does not panic
// when unmarshaled as a gossip transaction message.
func FuzzTxMessageUnmarshal(f *testing.F) {
	f.Add([]byte(`{"type":"transfer","nonce":1}`))
	f.Add([]byte(`{}`))
	f.Add([]byte(`null`))

	f.Fuzz(func(t *testing.T, data []byte) {
		var t2 tx.Transaction
		if err := json.Unmarshal(data, &t2); err != nil {
			return
		}
		t2.Hash()
		t2.Validate()
	})
}
