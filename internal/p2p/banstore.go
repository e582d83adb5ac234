package p2p

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/storage"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/types"
)

const banKeyPrefix = "ban/"

// BanRecord is a persisted ban entry.
type BanRecord struct {
	Key       types.PublicKey `json:"key"`
	Reason    string          `json:"reason"`
	Score     int             `json:"score"`     // Accumulated score at ban time
	BannedAt  int64           `json:"bannedAt"`  // Unix seconds
	ExpiresAt int64           `json:"expiresAt"` // Unix seconds (0 = permanent)
}

// IsExpired returns true if the ban has a non-zero expiry that has passed.
func (r *BanRecord) IsExpired(now time.Time) bool {
	return r.ExpiresAt > 0 && now.Unix() >= r.ExpiresAt
}

// BanStore persists ban records in the meta keyspace under "ban/".
type BanStore struct {
	store storage.Store
}

// NewBanStore creates a new BanStore backed by the given store.
func NewBanStore(store storage.Store) *BanStore {
	return &BanStore{store: store}
}

func banKey(key types.PublicKey) []byte {
	return []byte(banKeyPrefix + key.String())
}

// Get retrieves the ban record of key.
func (bs *BanStore) Get(key types.PublicKey) (*BanRecord, error) {
	data, err := bs.store.Get(storage.KeyspaceMeta, banKey(key))
	if err != nil {
		return nil, err
	}
	var rec BanRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal ban record: %w", err)
	}
	return &rec, nil
}

// Put persists a ban record.
func (bs *BanStore) Put(rec *BanRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal ban record: %w", err)
	}
	return bs.store.Put(storage.KeyspaceMeta, banKey(rec.Key), data)
}

// Delete removes a ban record.
func (bs *BanStore) Delete(key types.PublicKey) error {
	return bs.store.Delete(storage.KeyspaceMeta, banKey(key))
}

// ForEach iterates over all ban records. Corrupt records are skipped.
func (bs *BanStore) ForEach(fn func(*BanRecord) error) error {
	return bs.store.Iterate(storage.KeyspaceMeta, []byte(banKeyPrefix), func(_, value []byte) error {
		var rec BanRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return nil
		}
		return fn(&rec)
	})
}

// PruneExpired removes expired and corrupt ban records in one batch.
// Returns the number pruned.
func (bs *BanStore) PruneExpired(now time.Time) (int, error) {
	b := storage.NewWriteBatch()
	err := bs.store.Iterate(storage.KeyspaceMeta, []byte(banKeyPrefix), func(key, value []byte) error {
		var rec BanRecord
		if err := json.Unmarshal(value, &rec); err != nil || rec.IsExpired(now) {
			b.Delete(storage.KeyspaceMeta, append([]byte(nil), key...))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("iterate for prune: %w", err)
	}
	if b.Len() == 0 {
		return 0, nil
	}
	if err := bs.store.Write(b); err != nil {
		return 0, fmt.Errorf("delete expired bans: %w", err)
	}
	return b.Len(), nil
}
