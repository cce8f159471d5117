package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-finder/internal/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit <userId>",
	Short: "Audit and repair one user's matches",
	Long: `Re-run search and reconciliation for a single user against the
index's current state. The audit is idempotent; running it again changes
nothing once the stores have converged.`,
	Args: cobra.ExactArgs(1),
	RunE: runAudit,
}

func init() {
	rootCmd.AddCommand(auditCmd)
}

func runAudit(cmd *cobra.Command, args []string) error {
	userID := args[0]

	ctx := context.Background()
	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	report, err := app.auditor.AuditUser(ctx, userID)
	if err != nil {
		return err
	}
	printAuditReport(report)
	return nil
}

func printAuditReport(report *audit.Report) {
	fmt.Printf("User %s: %s\n", report.UserID, report.State)
	if report.DescriptorID != "" {
		fmt.Printf("  Descriptor:  %s\n", report.DescriptorID)
	}
	if report.StaleMarked > 0 {
		fmt.Printf("  Marked stale: %d older records\n", report.StaleMarked)
	}
	if r := report.Reconcile; r != nil {
		fmt.Printf("  Matches: %d found, %d added, %d already present, %d skipped\n",
			r.MatchesFound, r.Added, r.AlreadyPresent, r.Skipped)
		fmt.Printf("  Photos updated: %d\n", r.PhotosUpdated)
		for _, f := range r.Failures {
			fmt.Printf("  Failed: %s (%s)\n", f.TargetID, f.Reason)
		}
	}
	if report.FailureReason != "" {
		fmt.Printf("  Failure: %s\n", report.FailureReason)
	}
}
