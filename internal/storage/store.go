package storage

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/config"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/log"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/types"
)

// Keyspace names a logical table inside the store.
type Keyspace string

// Keyspaces. Meta holds the tip pointer and per-block undo records.
const (
	KeyspaceState  Keyspace = "state"
	KeyspaceBlock  Keyspace = "block"
	KeyspaceBHash  Keyspace = "bhash"
	KeyspaceTxHash Keyspace = "txhash"
	KeyspaceStake  Keyspace = "stake"
	KeyspaceMeta   Keyspace = "meta"
)

// Keyspaces lists every keyspace the store manages.
var Keyspaces = []Keyspace{
	KeyspaceState, KeyspaceBlock, KeyspaceBHash, KeyspaceTxHash, KeyspaceStake, KeyspaceMeta,
}

func (k Keyspace) prefix() []byte { return []byte(string(k) + "/") }

// heightKeyWidth keeps lexicographic order equal to numeric order.
const heightKeyWidth = 20

// HeightKey returns the fixed-width key of a block height.
func HeightKey(h uint64) []byte {
	return fmt.Appendf(nil, "%0*d", heightKeyWidth, h)
}

// ParseHeightKey is the inverse of HeightKey.
func ParseHeightKey(k []byte) (uint64, error) {
	if len(k) != heightKeyWidth {
		return 0, fmt.Errorf("height key %q: want %d digits", k, heightKeyWidth)
	}
	return strconv.ParseUint(string(k), 10, 64)
}

// Store is the persistent chain store: keyspace-scoped reads and writes
// plus an all-or-nothing multi-keyspace batch.
type Store interface {
	Get(ks Keyspace, key []byte) ([]byte, error)
	Has(ks Keyspace, key []byte) (bool, error)
	Put(ks Keyspace, key, value []byte) error
	Delete(ks Keyspace, key []byte) error
	// Iterate visits keys of ks with prefix in ascending order.
	Iterate(ks Keyspace, prefix []byte, fn func(key, value []byte) error) error
	// IterateRange visits keys of ks in [start, end) in ascending order.
	// A nil end runs to the end of the keyspace.
	IterateRange(ks Keyspace, start, end []byte, fn func(key, value []byte) error) error
	// Write commits every op in b or none of them.
	Write(b *WriteBatch) error
	Close() error
}

type keyedOp struct {
	ks Keyspace
	batchOp
}

// WriteBatch collects writes across keyspaces for one Store.Write.
type WriteBatch struct {
	ops []keyedOp
}

// NewWriteBatch returns an empty batch.
func NewWriteBatch() *WriteBatch { return &WriteBatch{} }

// Put stages key=value in ks.
func (b *WriteBatch) Put(ks Keyspace, key, value []byte) {
	if value == nil {
		value = []byte{}
	}
	b.ops = append(b.ops, keyedOp{ks: ks, batchOp: batchOp{key: copyBytes(key), value: copyBytes(value)}})
}

// Delete stages the removal of key from ks.
func (b *WriteBatch) Delete(ks Keyspace, key []byte) {
	b.ops = append(b.ops, keyedOp{ks: ks, batchOp: batchOp{key: copyBytes(key)}})
}

// Len returns the number of staged ops.
func (b *WriteBatch) Len() int { return len(b.ops) }

// Append stages all ops of other after the ops of b.
func (b *WriteBatch) Append(other *WriteBatch) {
	b.ops = append(b.ops, other.ops...)
}

// FaultFunc is consulted before the i-th op of a batch is staged. A
// non-nil return aborts the whole batch.
type FaultFunc func(i int, ks Keyspace, key []byte) error

// KeyspaceStore implements Store on a single DB, mapping each keyspace to
// a key prefix so one backend batch spans all of them.
type KeyspaceStore struct {
	db      DB
	batcher Batcher
	spaces  map[Keyspace]*PrefixDB

	mu    sync.Mutex // serializes Write
	fault FaultFunc
}

// NewKeyspaceStore wraps db, which must support atomic batches.
func NewKeyspaceStore(db DB) (*KeyspaceStore, error) {
	batcher, ok := db.(Batcher)
	if !ok {
		return nil, errors.New("storage backend does not support atomic batches")
	}
	s := &KeyspaceStore{
		db:      db,
		batcher: batcher,
		spaces:  make(map[Keyspace]*PrefixDB, len(Keyspaces)),
	}
	for _, ks := range Keyspaces {
		s.spaces[ks] = NewPrefixDB(db, ks.prefix())
	}
	return s, nil
}

// Open opens the named backend at path. The memory backend ignores path.
func Open(backend, path string) (*KeyspaceStore, error) {
	var (
		db  DB
		err error
	)
	switch backend {
	case config.BackendBadger, "":
		db, err = NewBadger(path)
	case config.BackendLevelDB:
		db, err = NewLevelDB(path)
	case config.BackendMemory:
		db = NewMemory()
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
	if err != nil {
		return nil, err
	}
	log.Storage.Debug().Str("backend", backend).Str("path", path).Msg("Store opened")
	return NewKeyspaceStore(db)
}

// Space returns the namespaced view of ks.
func (s *KeyspaceStore) Space(ks Keyspace) (*PrefixDB, error) {
	p, ok := s.spaces[ks]
	if !ok {
		return nil, fmt.Errorf("unknown keyspace %q", ks)
	}
	return p, nil
}

// Get reads key from ks. Missing keys return ErrNotFound.
func (s *KeyspaceStore) Get(ks Keyspace, key []byte) ([]byte, error) {
	p, err := s.Space(ks)
	if err != nil {
		return nil, err
	}
	return p.Get(key)
}

// Has reports whether key exists in ks.
func (s *KeyspaceStore) Has(ks Keyspace, key []byte) (bool, error) {
	p, err := s.Space(ks)
	if err != nil {
		return false, err
	}
	return p.Has(key)
}

// Iterate visits keys of ks with prefix.
func (s *KeyspaceStore) Iterate(ks Keyspace, prefix []byte, fn func(key, value []byte) error) error {
	p, err := s.Space(ks)
	if err != nil {
		return err
	}
	return p.ForEach(prefix, fn)
}

// IterateRange visits keys of ks in [start, end).
func (s *KeyspaceStore) IterateRange(ks Keyspace, start, end []byte, fn func(key, value []byte) error) error {
	p, err := s.Space(ks)
	if err != nil {
		return err
	}
	return p.ForEachRange(start, end, fn)
}

// Put writes key=value to ks as a one-op batch.
func (s *KeyspaceStore) Put(ks Keyspace, key, value []byte) error {
	b := NewWriteBatch()
	b.Put(ks, key, value)
	return s.Write(b)
}

// Delete removes key from ks as a one-op batch.
func (s *KeyspaceStore) Delete(ks Keyspace, key []byte) error {
	b := NewWriteBatch()
	b.Delete(ks, key)
	return s.Write(b)
}

// Write stages every op of b into one backend batch and commits it.
// Failures are reported as types.ErrBatchFailure and leave the store
// unchanged.
func (s *KeyspaceStore) Write(b *WriteBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inner := s.batcher.NewBatch()
	for i, op := range b.ops {
		p, ok := s.spaces[op.ks]
		if !ok {
			return fmt.Errorf("%w: unknown keyspace %q", types.ErrBatchFailure, op.ks)
		}
		if s.fault != nil {
			if err := s.fault(i, op.ks, op.key); err != nil {
				return fmt.Errorf("%w: op %d (%s): %v", types.ErrBatchFailure, i, op.ks, err)
			}
		}
		w := p.Wrap(inner)
		var err error
		if op.value == nil {
			err = w.Delete(op.key)
		} else {
			err = w.Put(op.key, op.value)
		}
		if err != nil {
			return fmt.Errorf("%w: stage op %d: %v", types.ErrBatchFailure, i, err)
		}
	}
	if err := inner.Commit(); err != nil {
		return fmt.Errorf("%w: %v", types.ErrBatchFailure, err)
	}
	return nil
}

// SetFault installs a fault hook for Write. Pass nil to clear it.
func (s *KeyspaceStore) SetFault(fn FaultFunc) {
	s.mu.Lock()
	s.fault = fn
	s.mu.Unlock()
}

// Close closes the underlying database.
func (s *KeyspaceStore) Close() error {
	return s.db.Close()
}

// IsNotFound reports whether err means a missing key.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
