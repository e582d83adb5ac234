package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/config"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/wallet"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/crypto"
)

// keystoreDir returns <datadir>/keystore, or AGRI_KEYSTORE when set.
func keystoreDir() string {
	if env := os.Getenv("AGRI_KEYSTORE"); env != "" {
		return env
	}
	return filepath.Join(config.DefaultDataDir(), "keystore")
}

func openKeystore(dir string) *wallet.Keystore {
	ks, err := wallet.NewKeystore(dir)
	if err != nil {
		fatal("open keystore: %v", err)
	}
	return ks
}

func cmdWallet(args []string) {
	if len(args) < 1 {
		fatal("Usage: agri-cli wallet <create|import|list|new-key|keys|export-key> [flags]")
	}
	sub, rest := args[0], args[1:]

	fs := flag.NewFlagSet("wallet "+sub, flag.ExitOnError)
	dir := fs.String("keystore", keystoreDir(), "Keystore directory")
	name := fs.String("name", "default", "Wallet name")
	label := fs.String("label", "", "Key label (new-key)")
	index := fs.Uint("index", 0, "Key index (export-key)")
	fs.Parse(rest)

	ks := openKeystore(*dir)
	switch sub {
	case "create":
		mnemonic, err := wallet.GenerateMnemonic()
		if err != nil {
			fatal("generate mnemonic: %v", err)
		}
		fmt.Println("Mnemonic (write this down!):")
		fmt.Printf("  %s\n\n", mnemonic)
		createWallet(ks, *name, mnemonic)
	case "import":
		fmt.Fprint(os.Stderr, "Enter mnemonic: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			fatal("read mnemonic: %v", err)
		}
		createWallet(ks, *name, line)
	case "list":
		names, err := ks.List()
		if err != nil {
			fatal("list wallets: %v", err)
		}
		if len(names) == 0 {
			fmt.Println("No wallets")
		}
		for _, n := range names {
			fmt.Println(n)
		}
	case "new-key":
		password := mustPassword("Enter password: ")
		info, err := ks.NewKey(*name, password, *label)
		if err != nil {
			fatal("new key: %v", err)
		}
		fmt.Printf("Index:      %d\n", info.Index)
		fmt.Printf("Public key: %s\n", info.PublicKey)
	case "keys":
		keys, err := ks.Keys(*name)
		if err != nil {
			fatal("list keys: %v", err)
		}
		for _, k := range keys {
			fmt.Printf("%4d  %s  %s\n", k.Index, k.PublicKey, k.Label)
		}
	case "export-key":
		key := walletKey(ks, *name, uint32(*index))
		defer key.Zero()
		fmt.Println(key.Hex())
	default:
		fatal("unknown wallet command %q", sub)
	}
}

func createWallet(ks *wallet.Keystore, name, mnemonic string) {
	seed, err := wallet.SeedFromMnemonic(mnemonic, "")
	if err != nil {
		fatal("derive seed: %v", err)
	}
	defer func() {
		for i := range seed {
			seed[i] = 0
		}
	}()

	password := mustPassword("Enter password: ")
	confirm := mustPassword("Confirm password: ")
	if string(password) != string(confirm) {
		fatal("passwords do not match")
	}

	if err := ks.Create(name, seed, password); err != nil {
		fatal("create wallet: %v", err)
	}
	info, err := ks.NewKey(name, password, "default")
	if err != nil {
		fatal("derive first key: %v", err)
	}
	fmt.Printf("Wallet %q created\n", name)
	fmt.Printf("Public key: %s\n", info.PublicKey)
}

// walletKey prompts for the wallet password and derives the key at index.
func walletKey(ks *wallet.Keystore, name string, index uint32) *crypto.PrivateKey {
	key, err := ks.Key(name, mustPassword("Enter password: "), index)
	if err != nil {
		fatal("unlock wallet: %v", err)
	}
	return key
}

// mustPassword reads a password from the terminal without echo, or from
// AGRI_PASSWORD for scripted use.
func mustPassword(prompt string) []byte {
	if env, ok := os.LookupEnv("AGRI_PASSWORD"); ok {
		return []byte(env)
	}
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		fatal("read password: %v", err)
	}
	if len(strings.TrimSpace(string(password))) == 0 {
		fatal("empty password")
	}
	return password
}
