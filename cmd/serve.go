package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-finder/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the Face Finder web server.
The server exposes face registration, live photo matching, match listing,
and audit control over HTTP, plus Prometheus metrics on /metrics.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	server := web.NewServer(app.cfg, web.Deps{
		FaceIndexer:  app.faceIndexer,
		PhotoIndexer: app.photoIndexer,
		Faces:        app.faces,
		Scheduler:    app.scheduler,
	}, app.logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			app.logger.Error("shutdown failed", "error", err)
		}
	}()

	return server.Start()
}
