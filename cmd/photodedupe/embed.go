package cmd

import (
	"context"
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/localgallery/photodedupe/internal/embedder"
	"github.com/localgallery/photodedupe/internal/pipeline"
)

var embedCmd = &cobra.Command{
	Use:   "embed",
	Short: "Run the embedding pipeline over every photo missing an embedding",
	RunE:  runEmbed,
}

func init() {
	rootCmd.AddCommand(embedCmd)
}

func newEmbedProgressBar(total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription("Embedding photos"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("photos"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

func runEmbed(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	s := openStore(cfg)
	defer s.Close()

	e := embedder.New(cfg.Embedder.URL, cfg.Embedder.Dimensions)
	p := pipeline.New(s, e, cfg.Pipeline.BatchSize)

	var bar *progressbar.ProgressBar
	n, err := p.Run(context.Background(), func(prog pipeline.Progress) {
		if bar == nil {
			bar = newEmbedProgressBar(prog.Total)
		}
		bar.Set(prog.Current)
	})
	if err != nil {
		return fmt.Errorf("running embedding pipeline: %w", err)
	}

	fmt.Printf("\nEmbedded %d photo(s)\n", n)
	return nil
}
