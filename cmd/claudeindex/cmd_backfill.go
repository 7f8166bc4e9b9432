package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var backfillSession string

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Run the back-fill pass for a single session",
	Long: `backfill loads every entry belonging to --session, assigns adjacency
links (previous/next message id, sequence position) and pairs solution
attempts with the feedback that follows them within the configured lookahead
window, writing back only the fields that changed.`,
	RunE: runBackfill,
}

func init() {
	backfillCmd.Flags().StringVar(&backfillSession, "session", "", "Session id to back-fill (required)")
	backfillCmd.MarkFlagRequired("session")
}

func runBackfill(cmd *cobra.Command, args []string) error {
	if backfillSession == "" {
		return fmt.Errorf("backfill: --session is required")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	result, err := rt.bf.ProcessSession(ctx, backfillSession)
	if err != nil {
		return fmt.Errorf("backfill: %w", err)
	}

	fmt.Printf("session %s: %d entries considered, %d solution/feedback pairs linked, %d adjacency updates\n",
		result.SessionID, result.EntriesConsidered, result.PairsLinked, result.AdjacencyLinksOnly)
	return nil
}
