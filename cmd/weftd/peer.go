package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/weftdb/weft/internal/node"
	"github.com/weftdb/weft/internal/replication"
)

var peerCmd = &cobra.Command{
	Use:   "peer <peer-id>",
	Short: "Initiate a replication session with a peer",
	Long: `Initiate a log-height replication session against the node's
configured target set. This prints the outbound SyncRequest message it
would send; weftd itself carries no transport (spec.md's Non-goals exclude
the libp2p layer) — wiring the message to an actual connection is left to
whatever session.Conn the caller attaches (see internal/replication.Conn).`,
	Args: cobra.ExactArgs(1),
	RunE: runPeer,
}

func runPeer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	n, err := node.Open(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer n.Shutdown()

	out, err := n.Replication.InitiateSession(peerIDFor(args[0]), n.TargetSet, replicationModeForCLI())
	if err != nil {
		return err
	}
	fmt.Printf("session %d: mode=%d target_set=%d schemas\n", out.SessionId, out.SyncRequest.Mode, len(out.SyncRequest.TargetSet))
	return nil
}

func peerIDFor(raw string) replication.PeerId { return replication.PeerId(raw) }

func replicationModeForCLI() replication.Mode { return node.ReplicationMode }
