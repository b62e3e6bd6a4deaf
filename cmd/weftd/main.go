// Command weftd runs a single weft node: the append-only log store, the
// materializer's reduce/dependency/blob/gc workers, and the replication
// session manager, wired together by internal/node.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "weftd",
	Short: "weft append-only log node",
	Long: `weftd runs a weft node: entry store, publish pipeline, materializer
worker pools, and a replication session manager.

Examples:
  weftd start --config weftd.toml
  weftd status --config weftd.toml
  weftd publish-test --config weftd.toml --schema my_schema_v1 --field title=hello`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "weftd.toml", "path to node config file")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(publishTestCmd)
	rootCmd.AddCommand(peerCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "weftd: "+err.Error())
		os.Exit(1)
	}
}
