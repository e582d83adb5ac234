package p2p

import (
	"sync"
	"time"

	klog "github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/log"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/types"
)

// Ban thresholds and durations.
const (
	BanThreshold = 100 // Score at which a peer gets banned.
	BanDuration  = 24 * time.Hour
)

// Penalty values for different offenses.
const (
	PenaltyInvalidBlock  = 50  // Bad signature, link or state.
	PenaltyInvalidTx     = 20  // Malformed transaction.
	PenaltyMalformed     = 20  // Undecodable payload.
	PenaltyProtocol      = 10  // Unknown type, oversized response, repeated handshake.
	PenaltyHandshakeFail = 100 // Instant ban (genesis mismatch).
)

// BanManager tracks misbehaviour scores per public key and bans keys
// that reach BanThreshold.
type BanManager struct {
	mu     sync.RWMutex
	scores map[types.PublicKey]int
	bans   map[types.PublicKey]*BanRecord
	store  *BanStore                // nil disables persistence
	onBan  func(key types.PublicKey) // disconnect hook, may be nil
	now    func() time.Time
}

// NewBanManager creates a new BanManager.
// store may be nil to disable persistence (useful for tests).
func NewBanManager(store *BanStore) *BanManager {
	return &BanManager{
		scores: make(map[types.PublicKey]int),
		bans:   make(map[types.PublicKey]*BanRecord),
		store:  store,
		now:    time.Now,
	}
}

// OnBan registers fn to run (in its own goroutine) whenever a key is banned.
func (bm *BanManager) OnBan(fn func(types.PublicKey)) {
	bm.mu.Lock()
	bm.onBan = fn
	bm.mu.Unlock()
}

// LoadBans restores persisted bans from the store into the in-memory cache.
func (bm *BanManager) LoadBans() error {
	if bm.store == nil {
		return nil
	}
	if _, err := bm.store.PruneExpired(bm.now()); err != nil {
		return err
	}

	bm.mu.Lock()
	defer bm.mu.Unlock()
	return bm.store.ForEach(func(rec *BanRecord) error {
		if !rec.IsExpired(bm.now()) {
			bm.bans[rec.Key] = rec
		}
		return nil
	})
}

// RecordOffense adds a penalty score to a key. If the cumulative score
// reaches BanThreshold, the key is banned and disconnected.
func (bm *BanManager) RecordOffense(key types.PublicKey, penalty int, reason string) {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	now := bm.now()
	if rec, ok := bm.bans[key]; ok && !rec.IsExpired(now) {
		return
	}

	bm.scores[key] += penalty
	if bm.scores[key] < BanThreshold {
		klog.P2P.Debug().
			Str("peer", key.Short()).
			Str("reason", reason).
			Int("score", bm.scores[key]).
			Msg("Peer penalized")
		return
	}

	rec := &BanRecord{
		Key:       key,
		Reason:    reason,
		Score:     bm.scores[key],
		BannedAt:  now.Unix(),
		ExpiresAt: now.Add(BanDuration).Unix(),
	}
	bm.bans[key] = rec
	delete(bm.scores, key)

	if bm.store != nil {
		if err := bm.store.Put(rec); err != nil {
			klog.P2P.Error().Err(err).Str("peer", key.Short()).Msg("Persist ban failed")
		}
	}

	klog.P2P.Warn().
		Str("peer", key.Short()).
		Str("reason", reason).
		Int("score", rec.Score).
		Msg("Peer banned")

	if bm.onBan != nil {
		go bm.onBan(key)
	}
}

// Score returns the current offense score of a key that is not banned.
func (bm *BanManager) Score(key types.PublicKey) int {
	bm.mu.RLock()
	defer bm.mu.RUnlock()
	return bm.scores[key]
}

// IsBanned returns true if the key is currently banned.
func (bm *BanManager) IsBanned(key types.PublicKey) bool {
	bm.mu.RLock()
	rec, ok := bm.bans[key]
	bm.mu.RUnlock()

	if !ok {
		return false
	}
	if rec.IsExpired(bm.now()) {
		bm.mu.Lock()
		delete(bm.bans, key)
		bm.mu.Unlock()
		if bm.store != nil {
			_ = bm.store.Delete(key)
		}
		return false
	}
	return true
}

// Unban manually removes a ban.
func (bm *BanManager) Unban(key types.PublicKey) error {
	bm.mu.Lock()
	delete(bm.bans, key)
	delete(bm.scores, key)
	bm.mu.Unlock()

	if bm.store != nil {
		return bm.store.Delete(key)
	}
	return nil
}

// BanList returns a snapshot of all active bans.
func (bm *BanManager) BanList() []BanRecord {
	bm.mu.RLock()
	defer bm.mu.RUnlock()

	now := bm.now()
	var list []BanRecord
	for _, rec := range bm.bans {
		if !rec.IsExpired(now) {
			list = append(list, *rec)
		}
	}
	return list
}

// RunPruneLoop periodically prunes expired bans until done is closed.
func (bm *BanManager) RunPruneLoop(done <-chan struct{}) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			bm.pruneExpired()
		}
	}
}

func (bm *BanManager) pruneExpired() {
	now := bm.now()
	bm.mu.Lock()
	for key, rec := range bm.bans {
		if rec.IsExpired(now) {
			delete(bm.bans, key)
		}
	}
	bm.mu.Unlock()

	if bm.store != nil {
		if _, err := bm.store.PruneExpired(now); err != nil {
			klog.P2P.Warn().Err(err).Msg("Prune persisted bans failed")
		}
	}
}
