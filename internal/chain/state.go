package chain

import (
	"encoding/binary"
	"errors"

	"github.com/holiman/uint256"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/storage"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/crypto"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/types"
)

// StateView reads typed rows from the store or an overlay. It implements
// consensus.StakeSource.
type StateView struct {
	r Reader
}

// NewStateView returns a view over r.
func NewStateView(r Reader) *StateView {
	return &StateView{r: r}
}

// Account returns the account row. Unknown addresses have a zero account.
func (v *StateView) Account(k types.PublicKey) (*Account, error) {
	var a Account
	found, err := getJSON(v.r, storage.KeyspaceState, accountKey(k), &a)
	if err != nil {
		return nil, err
	}
	if !found {
		return &Account{Address: k, Balance: new(uint256.Int)}, nil
	}
	a.Balance = types.AmountOrZero(a.Balance)
	return &a, nil
}

// Stake returns the stake row, or nil when the validator never staked.
func (v *StateView) Stake(k types.PublicKey) (*Stake, error) {
	var s Stake
	found, err := getJSON(v.r, storage.KeyspaceStake, stakeKey(k), &s)
	if err != nil || !found {
		return nil, err
	}
	s.Amount = types.AmountOrZero(s.Amount)
	return &s, nil
}

// ActiveStake returns the stake amount when the row is active, else zero.
func (v *StateView) ActiveStake(k types.PublicKey) (*uint256.Int, error) {
	s, err := v.Stake(k)
	if err != nil {
		return nil, err
	}
	if s == nil || s.Status != StakeActive {
		return new(uint256.Int), nil
	}
	return s.Amount, nil
}

// User returns the user record, or nil.
func (v *StateView) User(userID string) (*User, error) {
	var u User
	found, err := getJSON(v.r, storage.KeyspaceTxHash, userKey(userID), &u)
	if err != nil || !found {
		return nil, err
	}
	return &u, nil
}

// indexedUserID follows an alternate identity index to a user id.
func (v *StateView) indexedUserID(key []byte) (string, error) {
	id, err := v.r.Get(storage.KeyspaceTxHash, key)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	return string(id), err
}

// UserByEmail returns the user registered with email, or nil.
func (v *StateView) UserByEmail(email string) (*User, error) {
	id, err := v.indexedUserID(userEmailKey(email))
	if err != nil || id == "" {
		return nil, err
	}
	return v.User(id)
}

// UserByGoogleID returns the user registered with googleID, or nil.
func (v *StateView) UserByGoogleID(googleID string) (*User, error) {
	id, err := v.indexedUserID(userGoogleKey(googleID))
	if err != nil || id == "" {
		return nil, err
	}
	return v.User(id)
}

// TxRecord returns the committed transaction record, or nil.
func (v *StateView) TxRecord(id types.Hash) (*TxRecord, error) {
	var rec TxRecord
	found, err := getJSON(v.r, storage.KeyspaceTxHash, txKey(id), &rec)
	if err != nil || !found {
		return nil, err
	}
	return &rec, nil
}

// HasTx reports whether id is committed.
func (v *StateView) HasTx(id types.Hash) (bool, error) {
	_, err := v.r.Get(storage.KeyspaceTxHash, txKey(id))
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// rootKeyspaces are the keyspaces covered by the state root.
var rootKeyspaces = map[storage.Keyspace]bool{
	storage.KeyspaceState:  true,
	storage.KeyspaceStake:  true,
	storage.KeyspaceTxHash: true,
}

// computeStateRoot chains the parent root with a digest of the rows a
// block wrote: H(parent || H(rows)). changes must be sorted.
func computeStateRoot(parent types.Hash, changes []Change) types.Hash {
	var buf []byte
	for _, c := range changes {
		if !rootKeyspaces[c.Keyspace] {
			continue
		}
		buf = append(buf, c.Keyspace...)
		buf = append(buf, 0)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(c.Key)))
		buf = append(buf, c.Key...)
		if c.Deleted {
			buf = append(buf, 1)
			continue
		}
		buf = append(buf, 0)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(c.Value)))
		buf = append(buf, c.Value...)
	}
	rows := crypto.Hash(buf)
	return crypto.HashParts(parent[:], rows[:])
}
