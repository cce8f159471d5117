package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var matchThreshold float64

var matchCmd = &cobra.Command{
	Use:   "match <userId>",
	Short: "Search matches for a user's face without writing anything",
	Long: `Search the similarity index for the user's authoritative face
descriptor and print the classified candidates. Nothing is written; use
"audit" to reconcile the results into the record stores.`,
	Args: cobra.ExactArgs(1),
	RunE: runMatch,
}

func init() {
	rootCmd.AddCommand(matchCmd)
	matchCmd.Flags().Float64Var(&matchThreshold, "threshold", 0, "Similarity threshold in percent (default from config)")
}

func runMatch(cmd *cobra.Command, args []string) error {
	userID := args[0]

	ctx := context.Background()
	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	recs, err := app.faces.FacesByUser(ctx, userID)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return fmt.Errorf("no face registered for user %s", userID)
	}
	authoritative := recs[0]

	threshold := matchThreshold
	if threshold == 0 {
		threshold = app.cfg.Match.SearchThreshold
	}

	candidates, err := app.searcher.FindMatches(ctx, authoritative.DescriptorID, threshold, app.cfg.Match.SearchMaxResults)
	if err != nil {
		return err
	}

	fmt.Printf("Descriptor %s: %d candidates at threshold %.0f%%\n",
		authoritative.DescriptorID, len(candidates), threshold)
	for _, c := range candidates {
		owner := ""
		if c.OwnerUserID != "" {
			owner = fmt.Sprintf(" (owner %s)", c.OwnerUserID)
		}
		fmt.Printf("  %5.1f%%  %-7s %s%s\n", c.Similarity, c.TargetType, c.TargetID, owner)
	}
	return nil
}
