package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "websearch",
	Short: "Deduplicating, rate-limited web search client",
	Long: `websearch is a client for the Brave Search API with a local
query-deduplicating cache and a FIFO request governor.

Repeated queries are answered from a persistent cache by exact hash;
near-duplicates are matched by character-bigram cosine similarity. Upstream
calls are serialized, paced, and backed off based on observed rate limits.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
