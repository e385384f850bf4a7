package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/localgallery/photodedupe/internal/ingest"
	"github.com/localgallery/photodedupe/internal/model"
)

var videoExtensions = map[string]bool{
	".mp4": true, ".mov": true, ".avi": true, ".mkv": true, ".webm": true,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <directory>",
	Short: "Ingest photo/video files from a local directory",
	Long: `Ingest walks a directory and writes every file it finds into the
PhotoStore, standing in for the scraper's ingestion message (spec §6B): each
file's path is its id, its modification time its timestamp.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	dir := args[0]

	cfg := loadConfig()
	s := openStore(cfg)
	defer s.Close()

	in := ingest.New(s)

	var records []ingest.Record
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		blob, readErr := os.ReadFile(path)
		if readErr != nil {
			fmt.Fprintf(os.Stderr, "photodedupe: skipping %s: %v\n", path, readErr)
			return nil
		}

		mediaType := model.MediaPhoto
		if videoExtensions[strings.ToLower(filepath.Ext(path))] {
			mediaType = model.MediaVideo
		}

		records = append(records, ingest.Record{
			ID:          path,
			ArrayBuffer: blob,
			MediaType:   mediaType,
			DateTaken:   info.ModTime().Format("2006-01-02"),
			Timestamp:   info.ModTime().UnixMilli(),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("walking %s: %w", dir, err)
	}

	n, err := in.Ingest(records)
	if err != nil {
		return fmt.Errorf("ingesting: %w", err)
	}

	fmt.Printf("Ingested %d file(s) from %s\n", n, dir)
	return nil
}
