package consensus

import (
	"testing"
	"time"
)

func TestValidatorTracker_RecordHeartbeat(t *testing.T) {
	tr := NewValidatorTracker(60 * time.Second)
	pub := testKey(1)

	if tr.IsOnline(pub) {
		t.Error("unknown validator should be offline")
	}
	tr.RecordHeartbeat(pub)
	s := tr.GetStats(pub)
	if s == nil || s.LastHeartbeat.IsZero() {
		t.Fatal("heartbeat not recorded")
	}
	if !tr.IsOnline(pub) || !s.Online {
		t.Error("validator should be online after heartbeat")
	}
}

func TestValidatorTracker_RecordBlockAndMiss(t *testing.T) {
	tr := NewValidatorTracker(time.Minute)
	pub := testKey(2)

	tr.RecordBlock(pub)
	tr.RecordBlock(pub)
	tr.RecordMiss(pub)

	s := tr.GetStats(pub)
	if s.BlockCount != 2 || s.MissedCount != 1 {
		t.Errorf("counts = %d/%d, want 2/1", s.BlockCount, s.MissedCount)
	}
	if s.LastBlock.IsZero() {
		t.Error("LastBlock should be set")
	}
}

func TestValidatorTracker_Stale(t *testing.T) {
	tr := NewValidatorTracker(time.Millisecond)
	pub := testKey(3)
	tr.RecordHeartbeat(pub)
	time.Sleep(5 * time.Millisecond)
	if tr.IsOnline(pub) {
		t.Error("validator should be offline after 2x interval")
	}
}

func TestValidatorTracker_GetAllStatsSorted(t *testing.T) {
	tr := NewValidatorTracker(time.Minute)
	tr.RecordHeartbeat(testKey(9))
	tr.RecordHeartbeat(testKey(4))
	tr.RecordHeartbeat(testKey(6))

	all := tr.GetAllStats()
	if len(all) != 3 {
		t.Fatalf("got %d stats, want 3", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].Validator.Compare(all[i].Validator) >= 0 {
			t.Fatal("stats should be sorted by key")
		}
	}
}
