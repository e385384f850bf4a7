package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/localgallery/photodedupe/internal/model"
)

var reviewCmd = &cobra.Command{
	Use:   "review <group-id> <pending|reviewed|deleted>",
	Short: "Mutate a group's reviewStatus (spec §3)",
	Args:  cobra.ExactArgs(2),
	RunE:  runReview,
}

var listGroupsByStatusCmd = &cobra.Command{
	Use:   "list-groups <pending|reviewed|deleted>",
	Short: "List groups with the given reviewStatus",
	Args:  cobra.ExactArgs(1),
	RunE:  runListGroupsByStatus,
}

func init() {
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(listGroupsByStatusCmd)

	listGroupsByStatusCmd.Flags().Int("offset", 0, "pagination offset")
	listGroupsByStatusCmd.Flags().Int("limit", 50, "page size")
}

func parseReviewStatus(s string) (model.ReviewStatus, error) {
	status := model.ReviewStatus(s)
	switch status {
	case model.ReviewPending, model.ReviewReviewed, model.ReviewDeleted:
		return status, nil
	default:
		return "", fmt.Errorf("unknown review status %q, want pending|reviewed|deleted", s)
	}
}

func runReview(cmd *cobra.Command, args []string) error {
	groupID := args[0]
	status, err := parseReviewStatus(args[1])
	if err != nil {
		return err
	}

	cfg := loadConfig()
	s := openStore(cfg)
	defer s.Close()

	var notFound bool
	err = s.UpdateGroupInPlace(groupID, func(g *model.Group) error {
		if g == nil {
			notFound = true
			return nil
		}
		g.ReviewStatus = status
		return nil
	})
	if err != nil {
		return fmt.Errorf("updating group %s: %w", groupID, err)
	}
	if notFound {
		return fmt.Errorf("group %s not found", groupID)
	}

	fmt.Printf("Group %s reviewStatus -> %s\n", groupID, status)
	return nil
}

func runListGroupsByStatus(cmd *cobra.Command, args []string) error {
	status, err := parseReviewStatus(args[0])
	if err != nil {
		return err
	}
	offset := mustGetInt(cmd, "offset")
	limit := mustGetInt(cmd, "limit")

	cfg := loadConfig()
	s := openStore(cfg)
	defer s.Close()

	groups, err := s.PageGroupsByStatus(status, offset, limit)
	if err != nil {
		return fmt.Errorf("listing %s groups: %w", status, err)
	}

	for _, g := range groups {
		fmt.Printf("%s\t%d photo(s)\tscore %.3f\n", g.ID, len(g.PhotoIDs), g.SimilarityScore)
	}
	fmt.Printf("%d group(s) with reviewStatus=%s\n", len(groups), status)
	return nil
}
