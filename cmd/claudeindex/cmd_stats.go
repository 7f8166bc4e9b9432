package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Report store-level counters",
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	stats, err := rt.st.Stats(ctx)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}

	for k, v := range stats {
		fmt.Printf("%s: %d\n", k, v)
	}
	return nil
}
