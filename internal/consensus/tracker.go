package consensus

import (
	"sort"
	"sync"
	"time"

	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/log"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/types"
)

// ValidatorStats holds in-memory liveness statistics for one validator.
// Stats reset on node restart.
type ValidatorStats struct {
	Validator     types.PublicKey `json:"validator"`
	LastHeartbeat time.Time       `json:"lastHeartbeat"` // zero if never seen
	LastBlock     time.Time       `json:"lastBlock"`     // zero if never produced
	BlockCount    uint64          `json:"blockCount"`
	MissedCount   uint64          `json:"missedCount"` // selected but did not produce in time
	Online        bool            `json:"online"`
}

// ValidatorTracker tracks validator liveness from peer traffic and block
// production. It has no consensus impact.
type ValidatorTracker struct {
	mu                sync.RWMutex
	stats             map[types.PublicKey]*ValidatorStats
	heartbeatInterval time.Duration
}

// NewValidatorTracker creates a tracker with the expected heartbeat interval.
func NewValidatorTracker(heartbeatInterval time.Duration) *ValidatorTracker {
	return &ValidatorTracker{
		stats:             make(map[types.PublicKey]*ValidatorStats),
		heartbeatInterval: heartbeatInterval,
	}
}

// RecordHeartbeat records any sign of life from a validator.
func (t *ValidatorTracker) RecordHeartbeat(k types.PublicKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.getOrCreate(k).LastHeartbeat = time.Now()
}

// RecordBlock records that a validator produced a committed block.
func (t *ValidatorTracker) RecordBlock(k types.PublicKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.getOrCreate(k)
	s.LastBlock = time.Now()
	s.LastHeartbeat = s.LastBlock
	s.BlockCount++
}

// RecordMiss records that a validator was selected but did not produce.
func (t *ValidatorTracker) RecordMiss(k types.PublicKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.getOrCreate(k)
	s.MissedCount++
	log.Consensus.Debug().Str("validator", k.Short()).Uint64("missed", s.MissedCount).Msg("Missed slot")
}

// IsOnline reports whether the last heartbeat is within twice the interval.
func (t *ValidatorTracker) IsOnline(k types.PublicKey) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.stats[k]
	return ok && t.online(s)
}

func (t *ValidatorTracker) online(s *ValidatorStats) bool {
	return !s.LastHeartbeat.IsZero() && time.Since(s.LastHeartbeat) <= 2*t.heartbeatInterval
}

// GetStats returns a copy of the stats for k, or nil if not tracked.
func (t *ValidatorTracker) GetStats(k types.PublicKey) *ValidatorStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.stats[k]
	if !ok {
		return nil
	}
	cp := *s
	cp.Online = t.online(s)
	return &cp
}

// GetAllStats returns copies of all tracked stats in key order.
func (t *ValidatorTracker) GetAllStats() []*ValidatorStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*ValidatorStats, 0, len(t.stats))
	for _, s := range t.stats {
		cp := *s
		cp.Online = t.online(s)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Validator.Compare(out[j].Validator) < 0
	})
	return out
}

// HeartbeatInterval returns the configured heartbeat interval.
func (t *ValidatorTracker) HeartbeatInterval() time.Duration {
	return t.heartbeatInterval
}

func (t *ValidatorTracker) getOrCreate(k types.PublicKey) *ValidatorStats {
	s, ok := t.stats[k]
	if !ok {
		s = &ValidatorStats{Validator: k}
		t.stats[k] = s
	}
	return s
}
