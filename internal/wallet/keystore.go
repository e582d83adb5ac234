package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/crypto"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/types"
)

const fileExt = ".wallet"

// ErrWalletNotFound is returned when no wallet file exists for a name.
var ErrWalletNotFound = errors.New("wallet not found")

// keystoreFile is the on-disk JSON format for an encrypted wallet.
type keystoreFile struct {
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	Account   uint32    `json:"account"`
	Seed      *Sealed   `json:"seed"`
	Keys      []KeyInfo `json:"keys"`
	NextIndex uint32    `json:"next_index"`
}

// KeyInfo records a derived key. Only the public half is stored.
type KeyInfo struct {
	Index     uint32          `json:"index"`
	Label     string          `json:"label,omitempty"`
	PublicKey types.PublicKey `json:"public_key"`
}

// Keystore manages encrypted wallets in a directory.
type Keystore struct {
	path   string
	params KDFParams
}

// NewKeystore creates a keystore that reads/writes to the given directory.
// The directory is created if it doesn't exist.
func NewKeystore(path string) (*Keystore, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, fmt.Errorf("create keystore dir: %w", err)
	}
	return &Keystore{path: path, params: DefaultParams()}, nil
}

// SetParams overrides the Argon2id parameters for wallets created later.
func (ks *Keystore) SetParams(p KDFParams) { ks.params = p }

func (ks *Keystore) walletPath(name string) string {
	return filepath.Join(ks.path, name+fileExt)
}

func validName(name string) error {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return fmt.Errorf("invalid wallet name %q", name)
	}
	return nil
}

// Create stores a new wallet holding seed, encrypted with password.
func (ks *Keystore) Create(name string, seed, password []byte) error {
	if err := validName(name); err != nil {
		return err
	}
	if len(seed) != SeedSize {
		return fmt.Errorf("seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	path := ks.walletPath(name)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("wallet %q already exists", name)
	}

	sealed, err := Seal(seed, password, ks.params)
	if err != nil {
		return fmt.Errorf("encrypt seed: %w", err)
	}
	kf := keystoreFile{
		Version:   1,
		CreatedAt: time.Now().UTC(),
		Seed:      sealed,
		Keys:      []KeyInfo{},
	}
	return ks.writeFile(path, &kf)
}

// Load decrypts a wallet and returns its seed.
func (ks *Keystore) Load(name string, password []byte) ([]byte, error) {
	kf, err := ks.readFile(name)
	if err != nil {
		return nil, err
	}
	seed, err := kf.Seed.Open(password)
	if err != nil {
		return nil, fmt.Errorf("decrypt wallet %q: %w", name, err)
	}
	return seed, nil
}

// NewKey derives the next key of a wallet and records its public key.
func (ks *Keystore) NewKey(name string, password []byte, label string) (KeyInfo, error) {
	kf, err := ks.readFile(name)
	if err != nil {
		return KeyInfo{}, err
	}
	seed, err := kf.Seed.Open(password)
	if err != nil {
		return KeyInfo{}, fmt.Errorf("decrypt wallet %q: %w", name, err)
	}
	defer zero(seed)

	key, err := DeriveAccountKey(seed, kf.Account, kf.NextIndex)
	if err != nil {
		return KeyInfo{}, err
	}
	defer key.Zero()

	info := KeyInfo{Index: kf.NextIndex, Label: label, PublicKey: key.PublicKey()}
	kf.Keys = append(kf.Keys, info)
	kf.NextIndex++
	if err := ks.writeFile(ks.walletPath(name), kf); err != nil {
		return KeyInfo{}, err
	}
	return info, nil
}

// Key decrypts a wallet and derives the signing key at index.
func (ks *Keystore) Key(name string, password []byte, index uint32) (*crypto.PrivateKey, error) {
	kf, err := ks.readFile(name)
	if err != nil {
		return nil, err
	}
	seed, err := kf.Seed.Open(password)
	if err != nil {
		return nil, fmt.Errorf("decrypt wallet %q: %w", name, err)
	}
	defer zero(seed)
	return DeriveAccountKey(seed, kf.Account, index)
}

// Keys returns the recorded keys of a wallet.
func (ks *Keystore) Keys(name string) ([]KeyInfo, error) {
	kf, err := ks.readFile(name)
	if err != nil {
		return nil, err
	}
	return kf.Keys, nil
}

// List returns the names of all wallets in the keystore.
func (ks *Keystore) List() ([]string, error) {
	entries, err := os.ReadDir(ks.path)
	if err != nil {
		return nil, fmt.Errorf("read keystore dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if ext := filepath.Ext(name); ext == fileExt {
			names = append(names, name[:len(name)-len(ext)])
		}
	}
	return names, nil
}

func (ks *Keystore) readFile(name string) (*keystoreFile, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(ks.walletPath(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrWalletNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("read wallet: %w", err)
	}
	var kf keystoreFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("parse wallet: %w", err)
	}
	if kf.Seed == nil {
		return nil, fmt.Errorf("wallet %q has no seed", name)
	}
	return &kf, nil
}

// writeFile replaces the wallet file atomically via a temp file and rename.
func (ks *Keystore) writeFile(path string, kf *keystoreFile) error {
	data, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal wallet: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write wallet: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename wallet: %w", err)
	}
	return nil
}
