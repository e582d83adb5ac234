package p2p

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/crypto"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/types"
)

// MaxHandshakeSkew bounds the clock difference accepted in a handshake.
const MaxHandshakeSkew = 2 * time.Minute

const handshakeDomain = "agriblock/handshake/v1"

// Handshake failures. All of them refuse the connection; the ones wrapping
// ErrPeerUnauthorized also mean the key is never dialed again.
var (
	ErrNotAllowed       = fmt.Errorf("%w: key not in allow-list", types.ErrPeerUnauthorized)
	ErrBadHandshakeSig  = fmt.Errorf("%w: bad handshake signature", types.ErrPeerUnauthorized)
	ErrGenesisMismatch  = fmt.Errorf("%w: genesis mismatch", types.ErrPeerUnauthorized)
	ErrHandshakeStale   = errors.New("handshake timestamp out of range")
	ErrHandshakeReplay  = errors.New("handshake nonce reused")
	ErrSelfConnection   = errors.New("connection to self")
	ErrDuplicatePeer    = errors.New("peer already connected")
	ErrBanned           = errors.New("peer is banned")
	ErrUnexpectedFrame  = errors.New("expected handshake")
	ErrHandshakeTimeout = errors.New("handshake timed out")
)

// HandshakeMessage is the first frame on every connection. The signature
// proves possession of PublicKey's private key.
type HandshakeMessage struct {
	PublicKey   types.PublicKey `json:"publicKey"`
	ChainHeight uint64          `json:"chainHeight"`
	TipHash     types.Hash      `json:"tipHash"`
	GenesisHash types.Hash      `json:"genesisHash"`
	Timestamp   int64           `json:"timestamp"` // unix milliseconds
	Nonce       string          `json:"nonce"`     // hex, 16 random bytes
	Signature   string          `json:"signature"` // hex
}

// signingHash is the digest covered by the signature.
func (m *HandshakeMessage) signingHash() types.Hash {
	var nums [24]byte
	binary.BigEndian.PutUint64(nums[0:8], m.ChainHeight)
	binary.BigEndian.PutUint64(nums[8:16], uint64(m.Timestamp))
	return crypto.HashParts(
		[]byte(handshakeDomain),
		m.PublicKey.Bytes(),
		nums[:16],
		m.TipHash.Bytes(),
		m.GenesisHash.Bytes(),
		[]byte(m.Nonce),
	)
}

// NewHandshake builds and signs a handshake for the local chain status.
func NewHandshake(signer crypto.Signer, height uint64, tip, genesis types.Hash, now time.Time) (*HandshakeMessage, error) {
	var nonce [16]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("handshake nonce: %w", err)
	}
	m := &HandshakeMessage{
		PublicKey:   signer.PublicKey(),
		ChainHeight: height,
		TipHash:     tip,
		GenesisHash: genesis,
		Timestamp:   now.UnixMilli(),
		Nonce:       hex.EncodeToString(nonce[:]),
	}
	h := m.signingHash()
	sig, err := signer.Sign(h[:])
	if err != nil {
		return nil, fmt.Errorf("sign handshake: %w", err)
	}
	m.Signature = hex.EncodeToString(sig)
	return m, nil
}

// Verify checks the signature alone.
func (m *HandshakeMessage) Verify() error {
	sig, err := hex.DecodeString(m.Signature)
	if err != nil || len(sig) == 0 {
		return ErrBadHandshakeSig
	}
	h := m.signingHash()
	if !crypto.VerifySignature(h[:], sig, m.PublicKey) {
		return ErrBadHandshakeSig
	}
	return nil
}

// validateHandshake runs every admission rule against a remote handshake.
// Cheap checks run before the signature.
func (n *Node) validateHandshake(m *HandshakeMessage) error {
	if m.PublicKey == n.self {
		return ErrSelfConnection
	}
	if _, ok := n.allowed[m.PublicKey]; !ok {
		return ErrNotAllowed
	}
	if n.bans != nil && n.bans.IsBanned(m.PublicKey) {
		return ErrBanned
	}
	skew := n.now().Sub(time.UnixMilli(m.Timestamp))
	if skew > MaxHandshakeSkew || skew < -MaxHandshakeSkew {
		return ErrHandshakeStale
	}
	if err := m.Verify(); err != nil {
		return err
	}
	if m.GenesisHash != n.cfg.GenesisHash {
		return ErrGenesisMismatch
	}
	if _, seen, _ := n.nonces.PeekOrAdd(m.Nonce, struct{}{}); seen {
		return ErrHandshakeReplay
	}
	return nil
}
