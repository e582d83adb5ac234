package wallet

import (
	"bytes"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

// fastParams returns low-cost Argon2 params for fast tests.
func fastParams() KDFParams {
	return KDFParams{Memory: 64, Iterations: 1, Parallelism: 1}
}

func testSeed(t *testing.T) []byte {
	t.Helper()
	seed, err := SeedFromMnemonic(testMnemonic, "TREZOR")
	if err != nil {
		t.Fatalf("SeedFromMnemonic() error: %v", err)
	}
	return seed
}

func TestSeedFromMnemonic_Vector(t *testing.T) {
	seed := testSeed(t)
	want := "c55257c360c07c72029aebc1b53c05ed0362ada38ead3e3e9efa3708e53495531f09a6987599d18264c1e1c92f2cf141630c7a3c4ab7c81b2f001698e7463b04"
	if got := hex.EncodeToString(seed); got != want {
		t.Errorf("seed = %s, want %s", got, want)
	}
}

func TestSeedFromMnemonic_Normalizes(t *testing.T) {
	messy := "  ABANDON abandon\tabandon abandon abandon abandon abandon abandon abandon abandon abandon   about "
	a, err := SeedFromMnemonic(messy, "TREZOR")
	if err != nil {
		t.Fatalf("SeedFromMnemonic() error: %v", err)
	}
	if !bytes.Equal(a, testSeed(t)) {
		t.Error("normalized mnemonic should derive the same seed")
	}
}

func TestSeedFromMnemonic_Invalid(t *testing.T) {
	bad := strings.Replace(testMnemonic, "about", "abandon", 1)
	if _, err := SeedFromMnemonic(bad, ""); !errors.Is(err, ErrInvalidMnemonic) {
		t.Errorf("error = %v, want ErrInvalidMnemonic", err)
	}
}

func TestGenerateMnemonic(t *testing.T) {
	m, err := GenerateMnemonic()
	if err != nil {
		t.Fatalf("GenerateMnemonic() error: %v", err)
	}
	if n := len(strings.Fields(m)); n != 24 {
		t.Errorf("word count = %d, want 24", n)
	}
	if _, err := SeedFromMnemonic(m, ""); err != nil {
		t.Errorf("generated mnemonic does not validate: %v", err)
	}
}

func TestNewMasterKey_InvalidSeedLength(t *testing.T) {
	for _, n := range []int{0, 32, 128} {
		if _, err := NewMasterKey(make([]byte, n)); err == nil {
			t.Errorf("seed length %d: expected error", n)
		}
	}
}

func TestDeriveAccountKey(t *testing.T) {
	seed := testSeed(t)

	k0, err := DeriveAccountKey(seed, 0, 0)
	if err != nil {
		t.Fatalf("DeriveAccountKey() error: %v", err)
	}
	again, err := DeriveAccountKey(seed, 0, 0)
	if err != nil {
		t.Fatalf("DeriveAccountKey() error: %v", err)
	}
	if k0.PublicKey() != again.PublicKey() {
		t.Error("derivation should be deterministic")
	}

	k1, _ := DeriveAccountKey(seed, 0, 1)
	other, _ := DeriveAccountKey(seed, 1, 0)
	if k0.PublicKey() == k1.PublicKey() {
		t.Error("different indices should derive different keys")
	}
	if k0.PublicKey() == other.PublicKey() {
		t.Error("different accounts should derive different keys")
	}

	master, _ := NewMasterKey(seed)
	child, err := master.DerivePath(PurposeBIP44, CoinType)
	if err != nil {
		t.Fatalf("DerivePath() error: %v", err)
	}
	if child.Depth() != 2 {
		t.Errorf("depth = %d, want 2", child.Depth())
	}
}

func TestSealOpen(t *testing.T) {
	secret := []byte("seed material")
	sealed, err := Seal(secret, []byte("correct"), fastParams())
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}

	plain, err := sealed.Open([]byte("correct"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if !bytes.Equal(plain, secret) {
		t.Errorf("plaintext = %q, want %q", plain, secret)
	}

	if _, err := sealed.Open([]byte("wrong")); !errors.Is(err, ErrWrongPassword) {
		t.Errorf("wrong password error = %v", err)
	}

	sealed.Ciphertext[len(sealed.Ciphertext)-1] ^= 0xFF
	if _, err := sealed.Open([]byte("correct")); !errors.Is(err, ErrWrongPassword) {
		t.Errorf("tampered ciphertext error = %v", err)
	}
}

func TestSeal_RandomSaltAndNonce(t *testing.T) {
	a, _ := Seal([]byte("x"), []byte("p"), fastParams())
	b, _ := Seal([]byte("x"), []byte("p"), fastParams())
	if bytes.Equal(a.Salt, b.Salt) || bytes.Equal(a.Nonce, b.Nonce) {
		t.Error("sealing twice should use fresh salt and nonce")
	}
}

func newTestKeystore(t *testing.T) *Keystore {
	t.Helper()
	ks, err := NewKeystore(t.TempDir())
	if err != nil {
		t.Fatalf("NewKeystore() error: %v", err)
	}
	ks.SetParams(fastParams())
	return ks
}

func TestKeystore_CreateLoad(t *testing.T) {
	ks := newTestKeystore(t)
	seed := testSeed(t)
	pass := []byte("hunter2")

	if err := ks.Create("farm", seed, pass); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := ks.Create("farm", seed, pass); err == nil {
		t.Error("creating a duplicate wallet should fail")
	}

	loaded, err := ks.Load("farm", pass)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !bytes.Equal(loaded, seed) {
		t.Error("loaded seed differs")
	}

	if _, err := ks.Load("farm", []byte("nope")); !errors.Is(err, ErrWrongPassword) {
		t.Errorf("wrong password error = %v", err)
	}
	if _, err := ks.Load("missing", pass); !errors.Is(err, ErrWalletNotFound) {
		t.Errorf("missing wallet error = %v", err)
	}

	names, err := ks.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(names) != 1 || names[0] != "farm" {
		t.Errorf("List() = %v, want [farm]", names)
	}
}

func TestKeystore_InvalidName(t *testing.T) {
	ks := newTestKeystore(t)
	for _, name := range []string{"", "..", "a/b"} {
		if err := ks.Create(name, testSeed(t), []byte("p")); err == nil {
			t.Errorf("Create(%q) should fail", name)
		}
	}
}

func TestKeystore_NewKey(t *testing.T) {
	ks := newTestKeystore(t)
	seed := testSeed(t)
	pass := []byte("pw")
	if err := ks.Create("farm", seed, pass); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	first, err := ks.NewKey("farm", pass, "harvest")
	if err != nil {
		t.Fatalf("NewKey() error: %v", err)
	}
	second, err := ks.NewKey("farm", pass, "")
	if err != nil {
		t.Fatalf("NewKey() error: %v", err)
	}
	if first.Index != 0 || second.Index != 1 {
		t.Errorf("indices = %d, %d, want 0, 1", first.Index, second.Index)
	}

	want, _ := DeriveAccountKey(seed, 0, 1)
	if second.PublicKey != want.PublicKey() {
		t.Error("recorded public key does not match derivation")
	}

	key, err := ks.Key("farm", pass, 0)
	if err != nil {
		t.Fatalf("Key() error: %v", err)
	}
	if key.PublicKey() != first.PublicKey {
		t.Error("Key() should derive the recorded key")
	}

	keys, err := ks.Keys("farm")
	if err != nil {
		t.Fatalf("Keys() error: %v", err)
	}
	if len(keys) != 2 || keys[0].Label != "harvest" {
		t.Errorf("Keys() = %+v", keys)
	}

	if _, err := ks.NewKey("farm", []byte("bad"), ""); !errors.Is(err, ErrWrongPassword) {
		t.Errorf("wrong password error = %v", err)
	}
}
