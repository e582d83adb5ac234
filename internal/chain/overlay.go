package chain

import (
	"errors"
	"sort"

	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/storage"
)

// Reader is the read side shared by the store and overlays.
type Reader interface {
	Get(ks storage.Keyspace, key []byte) ([]byte, error)
}

// Change is one row write. Deleted rows have no value.
type Change struct {
	Keyspace storage.Keyspace `json:"ks"`
	Key      string           `json:"key"`
	Value    []byte           `json:"value,omitempty"`
	Deleted  bool             `json:"deleted,omitempty"`
}

type rowKey struct {
	ks  storage.Keyspace
	key string
}

type row struct {
	value   []byte
	deleted bool
}

// Overlay is a scratch copy-on-write view over a Reader. Writes stay in
// memory until flushed to a WriteBatch or merged into a parent overlay.
// The first time a key is written its base value is remembered, which is
// what undo records are built from.
type Overlay struct {
	base   Reader
	writes map[rowKey]row
	prior  map[rowKey]row
}

// NewOverlay returns an empty overlay over base.
func NewOverlay(base Reader) *Overlay {
	return &Overlay{
		base:   base,
		writes: make(map[rowKey]row),
		prior:  make(map[rowKey]row),
	}
}

// Get returns the overlay value of key, falling through to the base.
func (o *Overlay) Get(ks storage.Keyspace, key []byte) ([]byte, error) {
	if r, ok := o.writes[rowKey{ks, string(key)}]; ok {
		if r.deleted {
			return nil, storage.ErrNotFound
		}
		return r.value, nil
	}
	return o.base.Get(ks, key)
}

// Put writes key=value.
func (o *Overlay) Put(ks storage.Keyspace, key, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	return o.set(rowKey{ks, string(key)}, row{value: value})
}

// Delete removes key.
func (o *Overlay) Delete(ks storage.Keyspace, key []byte) error {
	return o.set(rowKey{ks, string(key)}, row{deleted: true})
}

func (o *Overlay) set(k rowKey, r row) error {
	if _, seen := o.prior[k]; !seen {
		v, err := o.base.Get(k.ks, []byte(k.key))
		switch {
		case errors.Is(err, storage.ErrNotFound):
			o.prior[k] = row{deleted: true}
		case err != nil:
			return err
		default:
			o.prior[k] = row{value: v}
		}
	}
	o.writes[k] = r
	return nil
}

// Len returns the number of distinct rows written.
func (o *Overlay) Len() int { return len(o.writes) }

// Changes returns every write in (keyspace, key) order.
func (o *Overlay) Changes() []Change {
	return sortedChanges(o.writes)
}

// Undo returns the base value of every written row, in the same order.
// Applying it on top of the written state restores the base.
func (o *Overlay) Undo() []Change {
	return sortedChanges(o.prior)
}

func sortedChanges(m map[rowKey]row) []Change {
	out := make([]Change, 0, len(m))
	for k, r := range m {
		out = append(out, Change{Keyspace: k.ks, Key: k.key, Value: r.value, Deleted: r.deleted})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Keyspace != out[j].Keyspace {
			return out[i].Keyspace < out[j].Keyspace
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Apply writes every change into the overlay.
func (o *Overlay) Apply(changes []Change) error {
	for _, c := range changes {
		var err error
		if c.Deleted {
			err = o.Delete(c.Keyspace, []byte(c.Key))
		} else {
			err = o.Put(c.Keyspace, []byte(c.Key), c.Value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// MergeInto replays the overlay writes onto parent.
func (o *Overlay) MergeInto(parent *Overlay) error {
	return parent.Apply(o.Changes())
}

// Flush stages every write into b.
func (o *Overlay) Flush(b *storage.WriteBatch) {
	for _, c := range o.Changes() {
		if c.Deleted {
			b.Delete(c.Keyspace, []byte(c.Key))
		} else {
			b.Put(c.Keyspace, []byte(c.Key), c.Value)
		}
	}
}
