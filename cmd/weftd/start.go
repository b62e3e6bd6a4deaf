package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/weftdb/weft/internal/node"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the node until terminated",
	RunE:  runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n, err := node.Open(ctx, cfg)
	if err != nil {
		return err
	}
	log.Printf("weftd: node started, public key %s, storage %s", n.PublicKey.String(), displayStoragePath(cfg.StoragePath))

	for _, addr := range cfg.Peers {
		out, err := n.Replication.InitiateSession(peerIDFor(addr), n.TargetSet, replicationModeForCLI())
		if err != nil {
			log.Printf("weftd: initiate session with %s: %v", addr, err)
			continue
		}
		log.Printf("weftd: initiated session %d with %s (target set of %d schemas)", out.SessionId, addr, len(n.TargetSet))
	}

	<-ctx.Done()
	log.Printf("weftd: shutting down")
	return n.Shutdown()
}

func displayStoragePath(path string) string {
	if path == "" {
		return ":memory:"
	}
	return path
}
