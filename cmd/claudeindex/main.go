// Package main implements the claudeindex CLI: a cobra command tree wrapping
// C1-C8 so an operator can index a projects directory, back-fill a single
// session, run unified search, and inspect store-level stats.
//
// # File Index
//
// Entry Point & Global State:
//   - main.go          - Entry point, rootCmd, global flags, init()
//   - runtime.go       - buildRuntime(): wires config/embedding/store/search/orchestrator
//
// Commands:
//   - cmd_sync.go      - syncCmd (--incremental, --dry-run, --watch)
//   - cmd_backfill.go  - backfillCmd (--session)
//   - cmd_search.go    - searchCmd
//   - cmd_stats.go     - statsCmd
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"claudeindex/internal/logging"
)

var (
	verbose    bool
	configPath string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "claudeindex",
	Short: "claudeindex - conversation history indexer and search engine",
	Long: `claudeindex indexes Claude Code transcript history into an embedded
vector store, enriches entries with topic/solution/feedback detection, links
solution attempts to the feedback that validates or refutes them, and serves
unified semantic search over the result.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}

		logDir, _ := os.UserHomeDir()
		if logDir == "" {
			logDir, _ = os.Getwd()
		}
		if err := logging.Initialize(filepath.Join(logDir, ".claudeindex")); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to initialize file logging: %v\n", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug-level logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to claudeindex config YAML")

	rootCmd.AddCommand(syncCmd, backfillCmd, searchCmd, statsCmd)
}

func defaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".claudeindex", "config.yaml")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
