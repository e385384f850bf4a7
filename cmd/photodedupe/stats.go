package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/localgallery/photodedupe/internal/store"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print photo/embedding/group/selection counts",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	s := openStore(cfg)
	defer s.Close()

	photos, err := s.Count(store.KindPhotos)
	if err != nil {
		return fmt.Errorf("counting photos: %w", err)
	}
	embeddings, err := s.Count(store.KindEmbeddings)
	if err != nil {
		return fmt.Errorf("counting embeddings: %w", err)
	}
	groups, err := s.Count(store.KindGroups)
	if err != nil {
		return fmt.Errorf("counting groups: %w", err)
	}
	selected, err := s.SelectionCount()
	if err != nil {
		return fmt.Errorf("counting selection: %w", err)
	}
	missingEmbedding, err := s.CountMissingEmbedding()
	if err != nil {
		return fmt.Errorf("counting photos missing embeddings: %w", err)
	}

	fmt.Printf("Photos:             %d\n", photos)
	fmt.Printf("  missing embedding: %d\n", missingEmbedding)
	fmt.Printf("Embeddings:         %d\n", embeddings)
	fmt.Printf("Groups:             %d\n", groups)
	fmt.Printf("Selected:           %d\n", selected)
	return nil
}
