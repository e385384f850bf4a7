// Package cmd implements the photodedupe CLI: a harness exercising the core
// library end to end (ingest, embed, group, select, serve, stats, clear)
// the way a real extension's message plumbing would, following the teacher's
// cmd/root.go pattern of a cobra root command plus an optional .env loader.
package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/localgallery/photodedupe/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "photodedupe",
	Short: "Find and manage near-duplicate photos in a local photo store",
	Long: `photodedupe is a CLI harness around a client-side near-duplicate photo
finder core: it ingests photo records, computes embeddings, clusters
near-duplicates with a seedable LSH index, and tracks user photo selections
for deletion.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	_ = godotenv.Load()
}

// loadConfig loads process configuration or exits the process with a
// message, mirroring mustGet*'s "programming error, not user error" stance
// for flag access but applied to config loading.
func loadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "photodedupe: loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}
