package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/websearch/internal/brave"
	"github.com/kalambet/websearch/internal/config"
)

// --- query ---

var queryCmd = &cobra.Command{
	Use:   "query <terms...>",
	Short: "Search the web, serving repeats from the local cache",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		asJSON, _ := cmd.Flags().GetBool("json")

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.close()

		res, err := a.client.Search(cmd.Context(), query)
		if err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(json.RawMessage(res.Raw))
		}

		switch res.Source {
		case "exact":
			printSuccess("cache hit (exact)")
		case "fuzzy":
			printSuccess("cache hit (similar to %q, score %.3f)", res.MatchedQuery, res.Score)
		}

		results, err := brave.ParseWebResults(res.Raw)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("No results found.")
			return nil
		}

		for i, r := range results {
			fmt.Printf("\n%s %s\n", colorize(colorBold, fmt.Sprintf("%d.", i+1)), r.Title)
			fmt.Printf("   %s\n", colorize(colorCyan, r.URL))
			if r.Description != "" {
				fmt.Printf("   %s\n", r.Description)
			}
		}
		return nil
	},
}

func init() {
	queryCmd.Flags().Bool("json", false, "print the raw upstream response as JSON")
}

// --- cache ---

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or reset the local query cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache entry count and hit/miss counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if !cfg.Cache.Enabled {
			printWarning("cache is disabled")
			return nil
		}

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.close()

		stats := a.cache.Stats()
		printStatus("Entries", "%d", stats.Entries)
		printStatus("Exact hits", "%d", stats.ExactHits)
		printStatus("Fuzzy hits", "%d", stats.FuzzyHits)
		printStatus("Misses", "%d", stats.Misses)
		printStatus("Snapshot", "%s", cfg.Cache.Path)

		if counts, err := a.history.CountByOutcome(); err == nil && len(counts) > 0 {
			printStatus("Lifetime", "exact=%d fuzzy=%d miss=%d error=%d",
				counts["exact"], counts["fuzzy"], counts["miss"], counts["error"])
		}
		return nil
	},
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete all cached query results",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete ALL cached results. Use --confirm to proceed.")
			return nil
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if !cfg.Cache.Enabled {
			printWarning("cache is disabled")
			return nil
		}

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.cache.Purge(); err != nil {
			return fmt.Errorf("purging cache: %w", err)
		}
		printSuccess("Cache purged")
		return nil
	},
}

func init() {
	cachePurgeCmd.Flags().Bool("confirm", false, "confirm cache purge")
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cachePurgeCmd)
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent search lookups",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.close()

		lookups, err := a.history.RecentLookups(limit)
		if err != nil {
			return err
		}
		if len(lookups) == 0 {
			fmt.Println("No lookups recorded.")
			return nil
		}

		for _, l := range lookups {
			query := l.Query
			if len(query) > 60 {
				query = query[:60] + "..."
			}
			outcome := l.Outcome
			if l.Outcome == "fuzzy" {
				outcome = fmt.Sprintf("fuzzy %.3f", l.Score)
			}
			fmt.Printf("%s  %-12s  %s\n",
				l.CreatedAt.Format("2006-01-02 15:04:05"),
				colorize(colorCyan, outcome),
				query,
			)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "maximum number of lookups to list")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
