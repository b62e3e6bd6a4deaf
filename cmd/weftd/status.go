package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/weftdb/weft/internal/node"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the node's identity and configured target set",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	n, err := node.Open(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer n.Shutdown()

	fmt.Printf("public_key: %s\n", n.PublicKey.String())
	fmt.Printf("storage:    %s\n", displayStoragePath(cfg.StoragePath))
	fmt.Printf("target_set: %d schemas\n", len(n.TargetSet))
	fmt.Printf("peers:      %d configured\n", len(cfg.Peers))
	return nil
}
