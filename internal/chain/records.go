package chain

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/storage"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/tx"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/types"
)

// Account is an address's row in the state keyspace.
type Account struct {
	Address types.PublicKey `json:"address"`
	Balance *uint256.Int    `json:"balance"`
	Role    string          `json:"role,omitempty"`
	UserID  string          `json:"userId,omitempty"`
	Nonce   uint64          `json:"nonce"`
}

// StakeStatus is the state of a stake row.
type StakeStatus string

// Stake statuses.
const (
	StakeActive   StakeStatus = "active"
	StakeInactive StakeStatus = "inactive"
)

// Stake is a validator's row in the stake keyspace.
type Stake struct {
	Validator types.PublicKey `json:"validatorPublicKey"`
	Amount    *uint256.Int    `json:"amount"`
	Status    StakeStatus     `json:"status"`
}

// User is a platform user record, indexed in txhash under user:<id>.
type User struct {
	UserID   string          `json:"userId"`
	Email    string          `json:"email,omitempty"`
	GoogleID string          `json:"googleId,omitempty"`
	Name     string          `json:"name,omitempty"`
	Role     string          `json:"role"`
	Address  types.PublicKey `json:"address"`
	TxID     types.Hash      `json:"txId"`
	Height   uint64          `json:"height"`
}

// TxRecord is a committed transaction with its position.
type TxRecord struct {
	Transaction *tx.Transaction `json:"transaction"`
	Height      uint64          `json:"height"`
	Index       int             `json:"index"`
}

// Tip is a snapshot of the canonical head.
type Tip struct {
	Height    uint64       `json:"height"`
	Hash      types.Hash   `json:"hash"`
	Timestamp int64        `json:"timestamp"`
	StateRoot types.Hash   `json:"stateRoot"`
	Weight    *uint256.Int `json:"weight"` // cumulative stake weight
}

func (t Tip) clone() Tip {
	t.Weight = new(uint256.Int).Set(types.AmountOrZero(t.Weight))
	return t
}

// undoRecord restores the store to the state before a block.
type undoRecord struct {
	Hash    types.Hash   `json:"hash"`
	Weight  *uint256.Int `json:"weight"`
	Changes []Change     `json:"changes"`
}

// txhash key prefixes.
const (
	UserPrefix       = "user:"
	UserEmailPrefix  = "user-email:"
	UserGooglePrefix = "user-google:"
	ProductPrefix    = "product:"
)

var (
	keyTip     = []byte("tip")
	keyGenesis = []byte("genesis")
)

func accountKey(k types.PublicKey) []byte { return []byte(k.String()) }
func stakeKey(k types.PublicKey) []byte   { return []byte(k.String()) }
func txKey(id types.Hash) []byte          { return []byte(id.String()) }
func bhashKey(h types.Hash) []byte        { return []byte(h.String()) }
func userKey(id string) []byte            { return []byte(UserPrefix + id) }
func userEmailKey(email string) []byte    { return []byte(UserEmailPrefix + email) }
func userGoogleKey(gid string) []byte     { return []byte(UserGooglePrefix + gid) }

func undoKey(height uint64) []byte {
	return append([]byte("undo/"), storage.HeightKey(height)...)
}

// productKey orders certifications of one product by height and position.
func productKey(productID string, height uint64, index int) []byte {
	return fmt.Appendf(nil, "%s%s:%s:%05d", ProductPrefix, productID, storage.HeightKey(height), index)
}

// getJSON loads a JSON row. found is false for a missing key.
func getJSON(r Reader, ks storage.Keyspace, key []byte, v any) (found bool, err error) {
	data, err := r.Get(ks, key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s/%s: %w", ks, key, err)
	}
	return true, nil
}

type writer interface {
	Put(ks storage.Keyspace, key, value []byte) error
}

func putJSON(w writer, ks storage.Keyspace, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", ks, key, err)
	}
	return w.Put(ks, key, data)
}
