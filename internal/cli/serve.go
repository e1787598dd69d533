package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ballardtrucks/roundup/internal/scrape"
	"github.com/ballardtrucks/roundup/internal/server"
)

var serveHeadless bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the aggregated schedule over HTTP",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveHeadless, "headless", false, "enable the headless browser renderer")
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := buildApp(serveHeadless)
	if err != nil {
		return err
	}
	defer a.cleanup()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := server.RunnerFunc(func(ctx context.Context) scrape.Result {
		return a.coordinator.Run(ctx, a.cfg.ScheduleSources())
	})
	srv := server.New(server.Config{
		Addr:       fmt.Sprintf(":%d", a.cfg.Server.Port),
		Refresh:    time.Duration(a.cfg.Server.RefreshSeconds) * time.Second,
		WindowDays: a.cfg.Scraper.WindowDays,
		Location:   a.cfg.Location(),
	}, runner, a.registry, a.logger)

	if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
