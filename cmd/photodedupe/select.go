package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/localgallery/photodedupe/internal/model"
	"github.com/localgallery/photodedupe/internal/selection"
)

var selectCmd = &cobra.Command{
	Use:   "select <photo-id>",
	Short: "Mark a photo for deletion",
	Args:  cobra.ExactArgs(1),
	RunE:  runSelect,
}

var unselectCmd = &cobra.Command{
	Use:   "unselect <photo-id>",
	Short: "Remove a photo from the deletion selection",
	Args:  cobra.ExactArgs(1),
	RunE:  runUnselect,
}

var listSelectionCmd = &cobra.Command{
	Use:   "list-selection",
	Short: "List photos currently marked for deletion",
	RunE:  runListSelection,
}

func init() {
	rootCmd.AddCommand(selectCmd)
	rootCmd.AddCommand(unselectCmd)
	rootCmd.AddCommand(listSelectionCmd)

	listSelectionCmd.Flags().Int("offset", 0, "pagination offset")
	listSelectionCmd.Flags().Int("limit", 50, "page size")
}

func runSelect(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	s := openStore(cfg)
	defer s.Close()

	set := selection.New(s)
	if err := set.Select(args[0], model.Now()); err != nil {
		return fmt.Errorf("selecting %s: %w", args[0], err)
	}
	fmt.Printf("Selected %s\n", args[0])
	return nil
}

func runUnselect(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	s := openStore(cfg)
	defer s.Close()

	set := selection.New(s)
	if err := set.Unselect(args[0]); err != nil {
		return fmt.Errorf("unselecting %s: %w", args[0], err)
	}
	fmt.Printf("Unselected %s\n", args[0])
	return nil
}

func runListSelection(cmd *cobra.Command, args []string) error {
	offset := mustGetInt(cmd, "offset")
	limit := mustGetInt(cmd, "limit")

	cfg := loadConfig()
	s := openStore(cfg)
	defer s.Close()

	set := selection.New(s)
	sels, err := set.Page(offset, limit)
	if err != nil {
		return fmt.Errorf("listing selection: %w", err)
	}

	for _, sel := range sels {
		fmt.Printf("%s\tselected at %d\n", sel.PhotoID, sel.SelectedAt)
	}
	fmt.Printf("%d photo(s) selected\n", len(sels))
	return nil
}
