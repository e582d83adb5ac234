package node

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/config"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/p2p"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/crypto"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/types"
)

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// loadKey parses a hex private key. A value starting with "@" names a
// file holding the hex key.
func loadKey(value string) (*crypto.PrivateKey, error) {
	if path, ok := strings.CutPrefix(value, "@"); ok {
		data, err := os.ReadFile(expandHome(path))
		if err != nil {
			return nil, fmt.Errorf("read key file: %w", err)
		}
		value = string(data)
	}
	return crypto.PrivateKeyFromHex(strings.TrimSpace(value))
}

// listenAddr turns MY_ADDRESS (ws://host:port) into a TCP listen address.
func listenAddr(myAddress string) (string, error) {
	u, err := url.Parse(myAddress)
	if err != nil {
		return "", fmt.Errorf("MY_ADDRESS: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("MY_ADDRESS %q has no host", myAddress)
	}
	return u.Host, nil
}

// peerAddrs converts PEERS entries.
func peerAddrs(peers []config.PeerConfig) ([]p2p.PeerAddr, error) {
	out := make([]p2p.PeerAddr, 0, len(peers))
	for i, p := range peers {
		key, err := types.ParsePublicKey(p.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("PEERS[%d]: %w", i, err)
		}
		out = append(out, p2p.PeerAddr{Key: key, Addr: p.WSAddress})
	}
	return out, nil
}
