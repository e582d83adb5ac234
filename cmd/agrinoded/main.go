// Agriblock full node daemon.
//
// Usage:
//
//	agrinoded [--config node.yaml] [--mine] [--orderer]   Run node
//	agrinoded --help                                      Show help
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/config"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/node"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, flags, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	switch {
	case flags.Help:
		config.PrintUsage(os.Stdout)
		return
	case flags.Version:
		fmt.Println("agrinoded", version)
		return
	}

	n, err := node.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := n.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		n.Stop()
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	n.Stop()
}
