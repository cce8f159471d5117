package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var registerBackfill bool

var registerCmd = &cobra.Command{
	Use:   "register <userId> <imagePath>",
	Short: "Register a face for a user",
	Long: `Register a face descriptor for a user from an image containing
exactly one face. By default the historical back-fill runs right after:
existing photos similar to the new face get matched immediately.`,
	Args: cobra.ExactArgs(2),
	RunE: runRegister,
}

func init() {
	rootCmd.AddCommand(registerCmd)
	registerCmd.Flags().BoolVar(&registerBackfill, "backfill", true, "Reconcile existing photos after registering")
}

func runRegister(cmd *cobra.Command, args []string) error {
	userID, imagePath := args[0], args[1]

	image, err := os.ReadFile(imagePath)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}

	ctx := context.Background()
	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	result, err := app.faceIndexer.Register(ctx, userID, image)
	if err != nil {
		return err
	}
	fmt.Printf("Registered face for %s\n", userID)
	fmt.Printf("  Descriptor: %s\n", result.DescriptorID)

	if !registerBackfill {
		return nil
	}

	report, err := app.scheduler.RunNow(ctx, userID)
	if err != nil {
		return fmt.Errorf("back-fill: %w", err)
	}
	if report.Reconcile != nil {
		fmt.Printf("Back-fill: %d matches found, %d added, %d photos updated\n",
			report.Reconcile.MatchesFound, report.Reconcile.Added, report.Reconcile.PhotosUpdated)
	}
	return nil
}
