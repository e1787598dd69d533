package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ballardtrucks/roundup/internal/schedule"
	"github.com/ballardtrucks/roundup/internal/scrape"
	"github.com/ballardtrucks/roundup/internal/web"
)

var (
	scrapeJSON     bool
	scrapeOut      string
	scrapeHeadless bool
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Run one aggregation pass and print the schedule",
	Long: `Scrapes every configured source concurrently, merges the surviving
events into one ordered schedule, and reports per-source failures.
The exit code reflects the run: 0 when every source succeeded, 2 when
some failed, 1 when all did.`,
	RunE: runScrape,
}

func init() {
	scrapeCmd.Flags().BoolVar(&scrapeJSON, "json", false, "print the result as JSON")
	scrapeCmd.Flags().StringVar(&scrapeOut, "out", "", "also write the web payload under this directory")
	scrapeCmd.Flags().BoolVar(&scrapeHeadless, "headless", false, "enable the headless browser renderer")
}

func runScrape(cmd *cobra.Command, _ []string) error {
	a, err := buildApp(scrapeHeadless)
	if err != nil {
		return err
	}
	defer a.cleanup()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result := a.coordinator.Run(ctx, a.cfg.ScheduleSources())

	loc := a.cfg.Location()
	now := time.Now().In(loc)
	result.Events = schedule.Window(result.Events, now, a.cfg.Scraper.WindowDays)

	if scrapeOut != "" {
		path, err := web.Write(scrapeOut, web.Build(result, now))
		if err != nil {
			return err
		}
		a.logger.Info("web payload written", zap.String("path", path))
	}

	if scrapeJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(web.Build(result, now)); err != nil {
			return err
		}
	} else {
		printReport(cmd, result)
	}

	exitCode = result.Status.ExitCode()
	return nil
}

func printReport(cmd *cobra.Command, result scrape.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "status: %s (%d events", result.Status, len(result.Events))
	if len(result.Failures) > 0 {
		fmt.Fprintf(out, ", %d sources failed", len(result.Failures))
	}
	fmt.Fprintln(out, ")")
	for _, e := range result.Events {
		fmt.Fprintln(out, " ", e)
	}
	for _, f := range result.Failures {
		fmt.Fprintf(out, "  FAILED %s: %s\n", f.SourceName, f.Message)
	}
}
