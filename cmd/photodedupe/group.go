package cmd

import (
	"context"
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/localgallery/photodedupe/internal/grouper"
)

var groupCmd = &cobra.Command{
	Use:   "group",
	Short: "Cluster near-duplicate photos",
	Long: `group runs the four-phase streaming clusterer: build an LSH index over
every stored embedding, find near-duplicate candidates within the time
window, materialize groups of size >= 2, and persist them.

There is no invented default for --threshold: the spec's open question on
conflicting source defaults means this value must always be supplied
explicitly.`,
	RunE: runGroup,
}

func init() {
	rootCmd.AddCommand(groupCmd)

	groupCmd.Flags().Float64("threshold", 0, "cosine similarity threshold, required")
	groupCmd.Flags().Int("window-minutes", 0, "time window in minutes, required")
	groupCmd.Flags().Int64("seed", 1, "LSH random hyperplane seed, for reproducible runs")
	_ = groupCmd.MarkFlagRequired("threshold")
	_ = groupCmd.MarkFlagRequired("window-minutes")
}

func runGroup(cmd *cobra.Command, args []string) error {
	threshold := mustGetFloat64(cmd, "threshold")
	windowMinutes := mustGetInt(cmd, "window-minutes")
	seed, err := cmd.Flags().GetInt64("seed")
	if err != nil {
		panic(fmt.Sprintf("flag error for --seed: %v", err))
	}

	cfg := loadConfig()
	s := openStore(cfg)
	defer s.Close()

	g := grouper.New(s, cfg.Grouper.BatchSize, cfg.LSH.NumHashFunctions, cfg.LSH.NumHashTables, seed)

	var bar *progressbar.ProgressBar
	lastPhase := ""
	err = g.Run(context.Background(), threshold, windowMinutes, func(prog grouper.Progress) {
		if prog.Phase != lastPhase {
			lastPhase = prog.Phase
			bar = progressbar.NewOptions(prog.Total,
				progressbar.OptionSetDescription(prog.Phase),
				progressbar.OptionShowCount(),
				progressbar.OptionFullWidth(),
			)
		}
		if bar != nil {
			bar.Set(prog.Current)
		}
	})
	if err != nil {
		return fmt.Errorf("running grouper: %w", err)
	}

	fmt.Println("\nGrouping complete")
	return nil
}
