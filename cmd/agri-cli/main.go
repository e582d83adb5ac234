// agri-cli is a command-line client for interacting with an agrinoded node.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/holiman/uint256"

	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/rpc"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/rpcclient"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/block"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/crypto"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/tx"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/types"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	rpcURL := "http://127.0.0.1:3001"
	if env := os.Getenv("AGRI_RPC"); env != "" {
		rpcURL = env
	}

	// Scan for --rpc before the subcommand.
	args := os.Args[1:]
	for len(args) > 0 {
		switch {
		case args[0] == "--rpc" && len(args) > 1:
			rpcURL = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--rpc="):
			rpcURL = args[0][len("--rpc="):]
			args = args[1:]
		default:
			goto dispatch
		}
	}

dispatch:
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	client := rpcclient.New(rpcURL)
	cmd := args[0]
	cmdArgs := args[1:]

	switch cmd {
	case "status":
		cmdStatus(client)
	case "block":
		cmdBlock(client, cmdArgs)
	case "tx":
		cmdTx(client, cmdArgs)
	case "account":
		cmdAccount(client, cmdArgs)
	case "stake":
		cmdStake(client, cmdArgs)
	case "validators":
		cmdValidators(client)
	case "user":
		cmdUser(client, cmdArgs)
	case "certs":
		cmdCerts(client, cmdArgs)
	case "search":
		cmdSearch(client, cmdArgs)
	case "mempool":
		cmdMempool(client)
	case "peers":
		cmdPeers(client)
	case "submit":
		cmdSubmit(client, cmdArgs)
	case "wallet":
		cmdWallet(cmdArgs)
	case "keygen":
		cmdKeygen(cmdArgs)
	case "pubkey":
		cmdPubkey(cmdArgs)
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: agri-cli [--rpc <url>] <command> [flags]

Global flags:
  --rpc <url>         Query API endpoint (default: http://127.0.0.1:3001, env AGRI_RPC)

Commands:
  status                          Show chain tip and peer count
  block <hash|height>             Show block details
  tx <id>                         Show a committed or pending transaction
  account <pubkey>                Show balance, nonce and role
  stake [pubkey]                  Show one stake row, or all of them
  validators [pubkey]             Show validator liveness stats
  user <userId>                   Show a registered user
  user --email <e> | --google <g> Look up a user by alternate identity
  certs <productId>               List certifications of a product
  search <prefix> [--limit n]     List txhash keys by prefix (e.g. user:)
  mempool                         Show mempool stats
  peers                           Show connected and refused peers

  submit --key <hex|@file> --type <t> [opts]
  submit --wallet <name> [--index i] --type <t> [opts]
                                  Sign and submit a transaction
      --to <pubkey>               Recipient (transfer, certify)
      --amount <n>                Amount (transfer, stake, unstake)
      --fee <n>                   Fee (default 0)
      --nonce <n>                 Nonce (default: next free nonce)
      --payload <json>            Raw payload (register, certify)

  wallet create|import [--name n] Create a wallet from a new or existing mnemonic
  wallet list                     List wallets in the keystore
  wallet new-key|keys [--name n]  Derive the next key, or list derived keys
  wallet export-key --index i     Print the private key hex at an index
      --keystore <dir>            Keystore directory (default ~/.agriblock/keystore, env AGRI_KEYSTORE)

  keygen [--out <file>]           Generate a new private key
  pubkey <hex|@file>              Print the public key of a private key
`)
}

// ── status ──────────────────────────────────────────────────────────────

func cmdStatus(client *rpcclient.Client) {
	tip, err := client.Tip()
	if err != nil {
		fatal("chain_getTip: %v", err)
	}
	fmt.Printf("Chain:    %s\n", tip.ChainID)
	fmt.Printf("Height:   %d\n", tip.Height)
	fmt.Printf("Tip:      %s\n", tip.Hash)
	fmt.Printf("Weight:   %s\n", tip.Weight)
	fmt.Printf("Genesis:  %s\n", tip.GenesisHash)

	var peers rpc.PeersResult
	if err := client.Call("net_peers", nil, &peers); err != nil {
		fatal("net_peers: %v", err)
	}
	fmt.Printf("Peers:    %d\n", peers.Count)
}

// ── block ───────────────────────────────────────────────────────────────

func cmdBlock(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: agri-cli block <hash|height>")
	}

	var (
		blk *block.Block
		err error
	)
	// Try as height first (pure number).
	if height, perr := strconv.ParseUint(args[0], 10, 64); perr == nil {
		blk, err = client.BlockByHeight(height)
	} else {
		h, herr := types.HexToHash(args[0])
		if herr != nil {
			fatal("invalid block hash: %v", herr)
		}
		blk, err = client.BlockByHash(h)
	}
	if err != nil {
		fatal("get block: %v", err)
	}

	fmt.Printf("Height:       %d\n", blk.Height)
	fmt.Printf("Hash:         %s\n", blk.Hash)
	fmt.Printf("Prev:         %s\n", blk.PreviousHash)
	fmt.Printf("Producer:     %s\n", blk.Producer)
	fmt.Printf("State Root:   %s\n", blk.StateRoot)
	fmt.Printf("Tx Root:      %s\n", blk.TxRoot)
	ts := time.UnixMilli(blk.Timestamp).UTC()
	fmt.Printf("Timestamp:    %s\n", ts.Format("2006-01-02 15:04:05 UTC"))
	fmt.Printf("Transactions: %d\n", len(blk.Transactions))
	for i, t := range blk.Transactions {
		fmt.Printf("  [%d] %s %-8s from %s nonce %d\n", i, t.ID, t.Type, t.From.Short(), t.Nonce)
	}
}

// ── tx ──────────────────────────────────────────────────────────────────

func cmdTx(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: agri-cli tx <id>")
	}
	id, err := types.HexToHash(args[0])
	if err != nil {
		fatal("invalid tx id: %v", err)
	}
	rec, err := client.Transaction(id)
	if err != nil {
		fatal("tx_get: %v", err)
	}
	if rec.Index < 0 {
		fmt.Println("Status:   pending")
	} else {
		fmt.Printf("Status:   committed at height %d index %d\n", rec.Height, rec.Index)
	}
	printJSON(rec.Transaction)
}

// ── state queries ───────────────────────────────────────────────────────

func cmdAccount(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: agri-cli account <pubkey>")
	}
	acct, err := client.Account(parseKey(args[0]))
	if err != nil {
		fatal("account_get: %v", err)
	}
	fmt.Printf("Address:  %s\n", acct.Address)
	fmt.Printf("Balance:  %s\n", types.AmountOrZero(acct.Balance).Dec())
	fmt.Printf("Nonce:    %d\n", acct.Nonce)
	if acct.UserID != "" {
		fmt.Printf("User:     %s (%s)\n", acct.UserID, acct.Role)
	}
}

func cmdStake(client *rpcclient.Client, args []string) {
	if len(args) > 0 {
		var st json.RawMessage
		if err := client.Call("stake_get", rpc.KeyParam{PublicKey: args[0]}, &st); err != nil {
			fatal("stake_get: %v", err)
		}
		printJSON(st)
		return
	}
	stakes, err := client.Stakes()
	if err != nil {
		fatal("stake_list: %v", err)
	}
	if len(stakes) == 0 {
		fmt.Println("No stakes")
		return
	}
	for _, s := range stakes {
		fmt.Printf("%s  %-8s  %s\n", s.Validator, s.Status, types.AmountOrZero(s.Amount).Dec())
	}
}

func cmdValidators(client *rpcclient.Client) {
	var stats []json.RawMessage
	if err := client.Call("validator_stats", nil, &stats); err != nil {
		fatal("validator_stats: %v", err)
	}
	printJSON(stats)
}

func cmdUser(client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("user", flag.ExitOnError)
	email := fs.String("email", "", "Look up by email")
	google := fs.String("google", "", "Look up by Google id")
	fs.Parse(args)

	var (
		out json.RawMessage
		err error
	)
	switch {
	case *email != "":
		err = client.Call("user_getByEmail", rpc.EmailParam{Email: *email}, &out)
	case *google != "":
		err = client.Call("user_getByGoogle", rpc.GoogleParam{GoogleID: *google}, &out)
	case fs.NArg() > 0:
		err = client.Call("user_get", rpc.UserParam{UserID: fs.Arg(0)}, &out)
	default:
		fatal("Usage: agri-cli user <userId> | --email <e> | --google <g>")
	}
	if err != nil {
		fatal("user lookup: %v", err)
	}
	printJSON(out)
}

func cmdCerts(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: agri-cli certs <productId>")
	}
	var recs []json.RawMessage
	if err := client.Call("product_getCertifications", rpc.ProductParam{ProductID: args[0]}, &recs); err != nil {
		fatal("product_getCertifications: %v", err)
	}
	if len(recs) == 0 {
		fmt.Println("No certifications")
		return
	}
	printJSON(recs)
}

func cmdSearch(client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	limit := fs.Int("limit", 100, "Maximum keys to return")
	fs.Parse(reorderFlags(args))
	if fs.NArg() < 1 {
		fatal("Usage: agri-cli search <prefix> [--limit n]")
	}
	keys, err := client.SearchTxKeys(fs.Arg(0), *limit)
	if err != nil {
		fatal("store_searchTxKeys: %v", err)
	}
	for _, k := range keys {
		fmt.Println(k)
	}
	fmt.Fprintf(os.Stderr, "%d keys\n", len(keys))
}

// ── node queries ────────────────────────────────────────────────────────

func cmdMempool(client *rpcclient.Client) {
	var info rpc.MempoolInfoResult
	if err := client.Call("mempool_info", nil, &info); err != nil {
		fatal("mempool_info: %v", err)
	}
	fmt.Printf("Transactions: %d\n", info.Count)
	fmt.Printf("Senders:      %d\n", info.Senders)
	for _, h := range info.Hashes {
		fmt.Printf("  %s\n", h)
	}
}

func cmdPeers(client *rpcclient.Client) {
	var peers rpc.PeersResult
	if err := client.Call("net_peers", nil, &peers); err != nil {
		fatal("net_peers: %v", err)
	}
	fmt.Printf("Self:   %s\n", peers.Self)
	fmt.Printf("Peers:  %d\n", peers.Count)
	for _, p := range peers.Peers {
		dir := "out"
		if p.Inbound {
			dir = "in"
		}
		fmt.Printf("  %s  %-3s  height %-8d  %s\n", p.PublicKey.Short(), dir, p.Height, p.Addr)
	}
	for _, r := range peers.Refused {
		fmt.Printf("  refused: %s\n", r)
	}
}

// ── submit ──────────────────────────────────────────────────────────────

func cmdSubmit(client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	keyArg := fs.String("key", "", "Private key hex, or @file")
	walletName := fs.String("wallet", "", "Sign with a keystore wallet")
	walletIndex := fs.Uint("index", 0, "Wallet key index")
	typ := fs.String("type", string(tx.TypeTransfer), "transfer, stake, unstake, register or certify")
	to := fs.String("to", "", "Recipient public key")
	amount := fs.String("amount", "", "Amount")
	fee := fs.String("fee", "0", "Fee")
	nonce := fs.Uint64("nonce", 0, "Nonce (0 = next free nonce)")
	payload := fs.String("payload", "", "Raw JSON payload")
	fs.Parse(args)

	var key *crypto.PrivateKey
	switch {
	case *keyArg != "":
		key = loadKey(*keyArg)
	case *walletName != "":
		key = walletKey(openKeystore(keystoreDir()), *walletName, uint32(*walletIndex))
	default:
		fatal("--key or --wallet is required")
	}
	defer key.Zero()

	t := tx.Type(*typ)
	if !t.Known() {
		fatal("unknown transaction type %q", *typ)
	}
	b := tx.NewBuilder(t)
	if *to != "" {
		b.To(parseKey(*to))
	}
	if *amount != "" {
		b.Amount(parseAmount(*amount))
	}
	b.Fee(parseAmount(*fee))
	if *payload != "" {
		var raw json.RawMessage
		if err := json.Unmarshal([]byte(*payload), &raw); err != nil {
			fatal("invalid --payload: %v", err)
		}
		b.Payload(raw)
	}

	n := *nonce
	if n == 0 {
		pending, err := client.Pending(key.PublicKey())
		if err != nil {
			fatal("mempool_pending: %v", err)
		}
		n = pending.NextNonce
	}
	b.Nonce(n)

	signed, err := b.Sign(key)
	if err != nil {
		fatal("sign: %v", err)
	}
	id, err := client.SubmitTx(signed)
	if err != nil {
		fatal("tx_submit: %v", err)
	}
	fmt.Printf("Submitted %s (nonce %d)\n", id, n)
}

// ── keys ────────────────────────────────────────────────────────────────

func cmdKeygen(args []string) {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	out := fs.String("out", "", "Write the private key hex to this file (mode 0600)")
	fs.Parse(args)

	key, err := crypto.GenerateKey()
	if err != nil {
		fatal("generate key: %v", err)
	}
	defer key.Zero()

	if *out != "" {
		if err := os.WriteFile(*out, []byte(key.Hex()+"\n"), 0600); err != nil {
			fatal("write key: %v", err)
		}
		fmt.Printf("Private key written to %s\n", *out)
	} else {
		fmt.Printf("Private key: %s\n", key.Hex())
	}
	fmt.Printf("Public key:  %s\n", key.PublicKey())
}

func cmdPubkey(args []string) {
	if len(args) < 1 {
		fatal("Usage: agri-cli pubkey <hex|@file>")
	}
	key := loadKey(args[0])
	defer key.Zero()
	fmt.Println(key.PublicKey())
}

// ── helpers ─────────────────────────────────────────────────────────────

func loadKey(value string) *crypto.PrivateKey {
	if path, ok := strings.CutPrefix(value, "@"); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			fatal("read key file: %v", err)
		}
		value = string(data)
	}
	key, err := crypto.PrivateKeyFromHex(strings.TrimSpace(value))
	if err != nil {
		fatal("parse private key: %v", err)
	}
	return key
}

func parseKey(s string) types.PublicKey {
	k, err := types.ParsePublicKey(s)
	if err != nil {
		fatal("invalid public key: %v", err)
	}
	return k
}

func parseAmount(s string) *uint256.Int {
	v, err := types.ParseAmount(s)
	if err != nil {
		fatal("invalid amount %q: %v", s, err)
	}
	return v
}

// reorderFlags moves flags ahead of positional arguments so
// "search user: --limit 5" parses like "search --limit 5 user:".
func reorderFlags(args []string) []string {
	var flags, pos []string
	for i := 0; i < len(args); i++ {
		if strings.HasPrefix(args[i], "-") {
			flags = append(flags, args[i])
			if !strings.Contains(args[i], "=") && i+1 < len(args) {
				flags = append(flags, args[i+1])
				i++
			}
			continue
		}
		pos = append(pos, args[i])
	}
	return append(flags, pos...)
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fatal("encode: %v", err)
	}
	fmt.Println(string(data))
}

// ── Error helper ────────────────────────────────────────────────────────

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
