package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/localgallery/photodedupe/internal/embedder"
	"github.com/localgallery/photodedupe/internal/httpapi"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local HTTP boundary",
	Long: `serve starts the store-level API boundary (spec §6A), the ingestion
endpoint (§6B), and SSE progress streams for pipeline/grouper runs — the
surface a browser-extension UI would call instead of linking the core
in-process.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	s := openStore(cfg)
	defer s.Close()

	e := embedder.New(cfg.Embedder.URL, cfg.Embedder.Dimensions)

	server := httpapi.New(httpapi.Config{
		Host:                    cfg.Server.Host,
		Port:                    cfg.Server.Port,
		PipelineBatchSize:       cfg.Pipeline.BatchSize,
		GrouperBatchSize:        cfg.Grouper.BatchSize,
		GrouperNumHashFunctions: cfg.LSH.NumHashFunctions,
		GrouperNumHashTables:    cfg.LSH.NumHashTables,
		GrouperLSHSeed:          1,
	}, s, e)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting photodedupe HTTP boundary on http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
