// Package cmd implements the face-finder command line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "face-finder",
	Short: "Face indexing and match reconciliation engine",
	Long: `Face Finder registers biometric face descriptors and keeps three
independently-stored views of "who matches whom" consistent: the external
similarity index, per-user face records, and per-photo matched-user lists.
It matches historically (new registrations against existing photos) and
live (new photos against registered users), and audits drift between the
stores as an idempotent repair job.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
