package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var clearCmd = &cobra.Command{
	Use:   "clear <groups|selection|all>",
	Short: "Clear stored groups, the selection set, or everything",
	Long: `clear removes groups (resetting every photo's groupId to null, exactly
as a Grouper run does at the start of Phase 4), the selection set, or the
entire store.`,
	Args: cobra.ExactArgs(1),
	RunE: runClear,
}

func init() {
	rootCmd.AddCommand(clearCmd)
	clearCmd.Flags().Bool("yes", false, "skip confirmation prompt")
}

func confirmAction(prompt string) bool {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	response, _ := reader.ReadString('\n')
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}

func runClear(cmd *cobra.Command, args []string) error {
	target := args[0]
	if target != "groups" && target != "selection" && target != "all" {
		return fmt.Errorf("unknown clear target %q, want groups|selection|all", target)
	}

	skipConfirm := mustGetBool(cmd, "yes")
	if !skipConfirm && !confirmAction(fmt.Sprintf("Clear %s? [y/N]: ", target)) {
		fmt.Println("Cancelled.")
		return nil
	}

	cfg := loadConfig()
	s := openStore(cfg)
	defer s.Close()

	var err error
	switch target {
	case "groups":
		err = s.ClearGroups()
	case "selection":
		err = s.ClearSelection()
	case "all":
		err = s.ClearAll()
	}
	if err != nil {
		return fmt.Errorf("clearing %s: %w", target, err)
	}

	fmt.Printf("Cleared %s\n", target)
	return nil
}
