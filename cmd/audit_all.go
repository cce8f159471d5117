package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-finder/internal/audit"
)

var auditAllVerbose bool

var auditAllCmd = &cobra.Command{
	Use:   "audit-all",
	Short: "Audit and repair every registered user",
	Long: `Scan all face records, group them by user, and audit each user
sequentially. Users are throttled with a small delay to respect the
similarity index's rate limits. Ctrl-C stops between users; the user
being audited finishes first.`,
	RunE: runAuditAll,
}

func init() {
	rootCmd.AddCommand(auditAllCmd)
	auditAllCmd.Flags().BoolVarP(&auditAllVerbose, "verbose", "v", false, "Print a report per user")
}

func runAuditAll(cmd *cobra.Command, args []string) error {
	app, err := newApp(context.Background())
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nStopping after the current user...")
		cancel()
	}()

	var bar *progressbar.ProgressBar
	reports, err := app.auditor.AuditAll(ctx, func(done, total int) {
		if bar == nil {
			bar = progressbar.Default(int64(total), "auditing users")
		}
		_ = bar.Set(done)
	})
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	printAuditSummary(reports)
	return nil
}

func printAuditSummary(reports []*audit.Report) {
	var added, photosUpdated, failed, missing int
	for _, r := range reports {
		switch r.State {
		case audit.StateFailed:
			failed++
		case audit.StateDescriptorMissing:
			missing++
		}
		if r.Reconcile != nil {
			added += r.Reconcile.Added
			photosUpdated += r.Reconcile.PhotosUpdated
		}
		if auditAllVerbose {
			printAuditReport(r)
		}
	}

	fmt.Printf("\nAudited %d users: %d matches added, %d photos updated\n",
		len(reports), added, photosUpdated)
	if missing > 0 {
		fmt.Printf("  %d users with missing descriptors (need re-registration)\n", missing)
	}
	if failed > 0 {
		fmt.Printf("  %d users failed\n", failed)
	}
}
