package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/datagraph/am"
	"github.com/teranos/datagraph/cmd/datagraph/commands"
	"github.com/teranos/datagraph/logger"
)

var rootCmd = &cobra.Command{
	Use:   "datagraph",
	Short: "datagraph - reactive models over pluggable persistence",
	Long: `datagraph - reactive models over pluggable persistence.

Declare model types in YAML schema files, then import, read, list and delete
records through the configured persistence backend (memory, sqlite or rest).

Available commands:
  am      - Manage datagraph configuration
  schema  - Check and watch schema files
  import  - Save records from a YAML or JSON file
  get     - Load one record as JSON
  ls      - List stored records
  rm      - Delete one record

Examples:
  datagraph am show                                  # Show current configuration
  datagraph schema check --watch types.yaml          # Re-check a schema on every change
  datagraph import --schema types.yaml --type note notes.yaml
  datagraph ls --type note`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := am.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		verbosity, _ := cmd.Flags().GetCount("verbose")
		if err := logger.InitializeWithVerbosity(cfg.Log.JSON, max(verbosity, cfg.Log.Verbosity)); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")

	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.SchemaCmd)
	rootCmd.AddCommand(commands.ImportCmd)
	rootCmd.AddCommand(commands.GetCmd)
	rootCmd.AddCommand(commands.LsCmd)
	rootCmd.AddCommand(commands.RmCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
