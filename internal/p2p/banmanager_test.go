package p2p

import (
	"testing"
	"time"

	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/config"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/storage"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/crypto"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/types"
)

func testKey(t *testing.T) *crypto.PrivateKey {
	t.Helper()
	k, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return k
}

func testPub(t *testing.T) types.PublicKey {
	t.Helper()
	return testKey(t).PublicKey()
}

func memStore(t *testing.T) storage.Store {
	t.Helper()
	s, err := storage.Open(config.BackendMemory, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBanManager_ScoreAccumulation(t *testing.T) {
	bm := NewBanManager(nil)
	id := testPub(t)

	bm.RecordOffense(id, PenaltyInvalidTx, "bad tx 1")
	if bm.IsBanned(id) {
		t.Error("peer should not be banned after 20 points")
	}
	bm.RecordOffense(id, PenaltyInvalidTx, "bad tx 2")
	if bm.IsBanned(id) {
		t.Error("peer should not be banned after 40 points")
	}
	if got := bm.Score(id); got != 2*PenaltyInvalidTx {
		t.Errorf("score: got %d, want %d", got, 2*PenaltyInvalidTx)
	}
}

func TestBanManager_ThresholdBan(t *testing.T) {
	bm := NewBanManager(nil)
	id := testPub(t)

	bm.RecordOffense(id, PenaltyInvalidBlock, "bad block 1")
	bm.RecordOffense(id, PenaltyInvalidBlock, "bad block 2")

	if !bm.IsBanned(id) {
		t.Error("peer should be banned at threshold")
	}
	if bm.Score(id) != 0 {
		t.Error("score should reset once banned")
	}
}

func TestBanManager_InstantBan(t *testing.T) {
	bm := NewBanManager(nil)
	id := testPub(t)

	bm.RecordOffense(id, PenaltyHandshakeFail, "genesis mismatch")
	if !bm.IsBanned(id) {
		t.Error("peer should be banned after handshake fail")
	}
}

func TestBanManager_OnBanHook(t *testing.T) {
	bm := NewBanManager(nil)
	id := testPub(t)
	got := make(chan types.PublicKey, 1)
	bm.OnBan(func(k types.PublicKey) { got <- k })

	bm.RecordOffense(id, PenaltyHandshakeFail, "bad")

	select {
	case k := <-got:
		if k != id {
			t.Errorf("hook key: got %s, want %s", k.Short(), id.Short())
		}
	case <-time.After(time.Second):
		t.Fatal("ban hook not called")
	}
}

func TestBanManager_Unban(t *testing.T) {
	bm := NewBanManager(nil)
	id := testPub(t)
	bm.RecordOffense(id, PenaltyHandshakeFail, "bad handshake")
	if !bm.IsBanned(id) {
		t.Fatal("peer should be banned")
	}
	if err := bm.Unban(id); err != nil {
		t.Fatalf("Unban: %v", err)
	}
	if bm.IsBanned(id) {
		t.Error("peer should not be banned after Unban")
	}
}

func TestBanManager_Expiry(t *testing.T) {
	bm := NewBanManager(nil)
	now := time.Unix(1_700_000_000, 0)
	bm.now = func() time.Time { return now }
	id := testPub(t)

	bm.RecordOffense(id, PenaltyHandshakeFail, "bad")
	if !bm.IsBanned(id) {
		t.Fatal("peer should be banned")
	}
	now = now.Add(BanDuration)
	if bm.IsBanned(id) {
		t.Error("ban should expire after BanDuration")
	}
	if len(bm.BanList()) != 0 {
		t.Error("expired ban listed")
	}
}

func TestBanManager_DuplicateOffense_AlreadyBanned(t *testing.T) {
	bm := NewBanManager(nil)
	id := testPub(t)
	bm.RecordOffense(id, PenaltyHandshakeFail, "bad handshake")
	bm.RecordOffense(id, PenaltyInvalidBlock, "bad block")

	if len(bm.BanList()) != 1 {
		t.Errorf("expected 1 ban, got %d", len(bm.BanList()))
	}
}

func TestBanManager_Persistence(t *testing.T) {
	store := NewBanStore(memStore(t))
	bm := NewBanManager(store)
	id := testPub(t)
	bm.RecordOffense(id, PenaltyHandshakeFail, "genesis mismatch")

	bm2 := NewBanManager(store)
	if err := bm2.LoadBans(); err != nil {
		t.Fatalf("LoadBans: %v", err)
	}
	if !bm2.IsBanned(id) {
		t.Error("ban should survive reload from store")
	}
}
