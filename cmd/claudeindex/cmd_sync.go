package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"claudeindex/internal/orchestrator"
	"claudeindex/internal/transcript"
)

var (
	syncIncremental bool
	syncDryRun      bool
	syncWatch       bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Index transcripts under projects_root into the vector store",
	Long: `sync walks projects_root for *.jsonl transcript files, normalizes and
enhances every message, upserts the result into the vector store, and
back-fills solution/feedback links for the sessions touched.

--incremental restricts the walk to files modified since the store's last
successful run. --watch keeps running, doing an incremental sync every 30
seconds and back-filling a session once fsnotify has seen no write to its
file for the configured backfill_idle_window.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&syncIncremental, "incremental", false, "Only process files modified since last sync")
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "Run extraction and enhancement but skip the store upsert")
	syncCmd.Flags().BoolVar(&syncWatch, "watch", false, "Keep running, syncing as transcript files change")
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	if syncDryRun {
		logger.Sugar().Warn("--dry-run requested: reporting would-be extraction counts only, nothing is persisted")
		return dryRunSync(ctx, rt)
	}
	if syncWatch {
		return watchSync(ctx, rt)
	}
	return runOnce(ctx, rt, syncIncremental)
}

func runOnce(ctx context.Context, rt *runtime, incremental bool) error {
	home, _ := os.UserHomeDir()
	var (
		rep orchestrator.Report
		err error
	)
	if incremental {
		since := lastSyncCutoff(rt.cfg.StorePath)
		rep, err = rt.orch.IncrementalSync(ctx, rt.cfg.ProjectsRoot, home, modifiedAfterFunc(since))
	} else {
		rep, err = rt.orch.FullSync(ctx, rt.cfg.ProjectsRoot, home)
	}
	if err != nil {
		return err
	}
	printReport(rep)
	return stampLastSync(rt.cfg.StorePath)
}

// dryRunSync runs the whole FullSync pipeline (upsert and back-fill
// included) against a throwaway in-memory store so an operator can see projected extraction counts without touching the
// configured vector store. claudeindex has no separate "plan" pipeline -
// reusing the real orchestrator against a scratch store keeps the numbers
// honest instead of hand-estimating them.
func dryRunSync(ctx context.Context, rt *runtime) error {
	scratch, err := newScratchRuntime(ctx, rt.cfg)
	if err != nil {
		return fmt.Errorf("dry run: %w", err)
	}
	defer scratch.Close()

	home, _ := os.UserHomeDir()
	rep, err := scratch.orch.FullSync(ctx, rt.cfg.ProjectsRoot, home)
	if err != nil {
		return err
	}
	printReport(rep)
	return nil
}

// watchSync runs an incremental sync every 30 seconds and back-fills
// sessions once fsnotify's IdleWatcher reports them quiet for
// backfill_idle_window.
func watchSync(ctx context.Context, rt *runtime) error {
	iw, err := transcript.NewIdleWatcher(rt.cfg.ProjectsRoot)
	if err != nil {
		return fmt.Errorf("watch: start idle watcher: %w", err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go iw.Run(watchCtx)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	logger.Sugar().Infof("watching %s for changes (idle window %s)", rt.cfg.ProjectsRoot, rt.cfg.BackfillIdleWindow)

	home, _ := os.UserHomeDir()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			since := lastSyncCutoff(rt.cfg.StorePath)
			rep, err := rt.orch.IncrementalSync(ctx, rt.cfg.ProjectsRoot, home, modifiedAfterFunc(since))
			if err != nil {
				logger.Sugar().Errorf("incremental sync failed: %v", err)
				continue
			}
			if rep.EntriesExtracted > 0 {
				printReport(rep)
			}
			_ = stampLastSync(rt.cfg.StorePath)

			for _, sessionID := range iw.IdleSessions(rt.cfg.BackfillIdleWindow) {
				if _, err := rt.bf.ProcessSession(ctx, sessionID); err != nil {
					logger.Sugar().Warnf("backfill session %s failed: %v", sessionID, err)
				}
			}
		}
	}
}

func printReport(rep orchestrator.Report) {
	fmt.Printf("run %s: scanned=%d read=%d extracted=%d skipped=%d upserted=%d already_indexed=%d sessions_backfilled=%d halted=%v\n",
		rep.RunID, rep.FilesScanned, rep.RecordsRead, rep.EntriesExtracted, rep.EntriesSkipped,
		rep.EntriesUpserted, rep.EntriesSkippedAlreadyIndexed, rep.SessionsBackfilled, rep.Halted)
	if rep.Halted {
		fmt.Printf("halt reason: %s\n", rep.HaltReason)
	}
}
