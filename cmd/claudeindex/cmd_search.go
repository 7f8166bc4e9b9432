package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"claudeindex/internal/search"
)

var (
	searchMode            string
	searchTopic           string
	searchProject         string
	searchCodeOnly        bool
	searchValidation      string
	searchRecency         string
	searchContextChains   bool
	searchAdaptive        bool
	searchLimit           int
	searchSince           string
	searchUntil           string
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Run unified search over indexed entries",
	Long: `search runs claudeindex's mode-driven, boosted ranking pipeline: a
base metadata filter derived from --mode, an over-fetch k-NN query, then a
fixed-order chain of project-affinity, validation, semantic-confidence,
adaptive, and freshness boosts before truncating to --limit.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().StringVar(&searchMode, "mode", string(search.ModeSemantic),
		"Search mode: semantic, validated_only, failed_only, recent_only, by_topic")
	searchCmd.Flags().StringVar(&searchTopic, "topic", "", "Topic focus (required when --mode=by_topic)")
	searchCmd.Flags().StringVar(&searchProject, "project", "", "Boost results from this project")
	searchCmd.Flags().BoolVar(&searchCodeOnly, "code-only", false, "Only include entries with has_code=true")
	searchCmd.Flags().StringVar(&searchValidation, "validation", string(search.ValidationNeutral),
		"Validation preference: neutral, validated_only, include_failures")
	searchCmd.Flags().StringVar(&searchRecency, "recency", "", "Recency bucket, e.g. today, this_week")
	searchCmd.Flags().BoolVar(&searchContextChains, "context-chains", false, "Include each hit's surrounding conversation")
	searchCmd.Flags().BoolVar(&searchAdaptive, "adaptive", false, "Apply the adaptive/cultural boost")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 5, "Maximum number of hits to return")
	searchCmd.Flags().StringVar(&searchSince, "since", "", "Only include entries at or after this RFC3339 timestamp")
	searchCmd.Flags().StringVar(&searchUntil, "until", "", "Only include entries at or before this RFC3339 timestamp")
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	var since, until int64
	if searchSince != "" {
		t, err := time.Parse(time.RFC3339, searchSince)
		if err != nil {
			return fmt.Errorf("search: --since: %w", err)
		}
		since = t.Unix()
	}
	if searchUntil != "" {
		t, err := time.Parse(time.RFC3339, searchUntil)
		if err != nil {
			return fmt.Errorf("search: --until: %w", err)
		}
		until = t.Unix()
	}

	q := search.Query{
		QueryText:            args[0],
		Mode:                 search.Mode(searchMode),
		TopicFocus:           searchTopic,
		ProjectContext:       searchProject,
		IncludeCodeOnly:      searchCodeOnly,
		ValidationPreference: search.ValidationPreference(searchValidation),
		Recency:              searchRecency,
		DateRangeSince:       since,
		DateRangeUntil:       until,
		UseValidationBoost:   searchValidation != string(search.ValidationNeutral),
		IncludeContextChains: searchContextChains,
		UseAdaptiveLearning:  searchAdaptive,
		Limit:                searchLimit,
	}

	hits, err := rt.search.Search(ctx, q)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	if len(hits) == 0 {
		fmt.Println("no results")
		return nil
	}

	for i, h := range hits {
		fmt.Printf("%d. [%.3f] %s (%s, %s)\n", i+1, h.FinalScore, truncate(h.Entry.Content, 100), h.Entry.ProjectName, h.Entry.ID)
		if len(h.ContextChain) > 0 {
			for _, c := range h.ContextChain {
				fmt.Printf("     | %s: %s\n", c.Role, truncate(c.Content, 80))
			}
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
