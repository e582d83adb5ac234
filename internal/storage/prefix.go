package storage

// PrefixDB wraps a DB and prepends a fixed prefix to all keys, giving each
// keyspace its own namespace inside one physical database.
type PrefixDB struct {
	inner  DB
	prefix []byte
}

// NewPrefixDB creates a new PrefixDB wrapping inner with the given prefix.
func NewPrefixDB(inner DB, prefix []byte) *PrefixDB {
	return &PrefixDB{inner: inner, prefix: copyBytes(prefix)}
}

func (p *PrefixDB) prefixed(key []byte) []byte {
	out := make([]byte, len(p.prefix)+len(key))
	copy(out, p.prefix)
	copy(out[len(p.prefix):], key)
	return out
}

// Get retrieves a value by key.
func (p *PrefixDB) Get(key []byte) ([]byte, error) {
	return p.inner.Get(p.prefixed(key))
}

// Put stores a key-value pair.
func (p *PrefixDB) Put(key, value []byte) error {
	return p.inner.Put(p.prefixed(key), value)
}

// Delete removes a key.
func (p *PrefixDB) Delete(key []byte) error {
	return p.inner.Delete(p.prefixed(key))
}

// Has checks if a key exists.
func (p *PrefixDB) Has(key []byte) (bool, error) {
	return p.inner.Has(p.prefixed(key))
}

// ForEach iterates over keys with prefix inside this namespace. Keys are
// handed to fn with the namespace stripped.
func (p *PrefixDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	return p.inner.ForEach(p.prefixed(prefix), func(key, value []byte) error {
		return fn(key[len(p.prefix):], value)
	})
}

// ForEachRange iterates over keys in [start, end) inside this namespace.
// A nil end runs to the end of the namespace.
func (p *PrefixDB) ForEachRange(start, end []byte, fn func(key, value []byte) error) error {
	limit := prefixEnd(p.prefix)
	if end != nil {
		limit = p.prefixed(end)
	}
	return p.inner.ForEachRange(p.prefixed(start), limit, func(key, value []byte) error {
		return fn(key[len(p.prefix):], value)
	})
}

// Close is a no-op; the inner DB owns its lifecycle.
func (p *PrefixDB) Close() error {
	return nil
}

// NewBatch returns a batch that prefixes keys and delegates to the inner
// DB's batch. It returns nil when the inner DB cannot batch.
func (p *PrefixDB) NewBatch() Batch {
	batcher, ok := p.inner.(Batcher)
	if !ok {
		return nil
	}
	return &prefixBatch{PrefixDB: p, inner: batcher.NewBatch()}
}

// Wrap returns a batch that writes into this namespace through an existing
// batch, so several namespaces can share one commit.
func (p *PrefixDB) Wrap(b Batch) Batch {
	return &prefixBatch{PrefixDB: p, inner: b}
}

type prefixBatch struct {
	*PrefixDB
	inner Batch
}

func (pb *prefixBatch) Put(key, value []byte) error {
	return pb.inner.Put(pb.prefixed(key), value)
}

func (pb *prefixBatch) Delete(key []byte) error {
	return pb.inner.Delete(pb.prefixed(key))
}

func (pb *prefixBatch) Len() int { return pb.inner.Len() }

func (pb *prefixBatch) Commit() error {
	return pb.inner.Commit()
}
