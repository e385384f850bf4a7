package cmd

import (
	"fmt"
	"os"

	"github.com/localgallery/photodedupe/internal/config"
	"github.com/localgallery/photodedupe/internal/store"
)

// openStore opens the PhotoStore at cfg.Store.Path or exits the process with
// a message.
func openStore(cfg *config.Config) *store.Store {
	s, err := store.Open(cfg.Store.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "photodedupe: opening store at %s: %v\n", cfg.Store.Path, err)
		os.Exit(1)
	}
	return s
}
