// Package main provides the standalone collector.
//
// Usage:
//
//	collector run [-pages N]           collect once and exit
//	collector run -dry-run [-pages N]  collect into memory and print the result
//	collector [-pages N]               run the scheduler until interrupted
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/wallet-tracker/internal/adapter"
	"github.com/wallet-tracker/internal/config"
	"github.com/wallet-tracker/internal/logging"
	"github.com/wallet-tracker/internal/service"
	"github.com/wallet-tracker/internal/storage"
)

func main() {
	fmt.Println("Wallet Snapshot Collector")

	runOnce := len(os.Args) > 1 && os.Args[1] == "run"
	args := os.Args[1:]
	if runOnce {
		args = os.Args[2:]
	}

	flags := flag.NewFlagSet("collector", flag.ExitOnError)
	pages := flags.Int("pages", 0, "Number of ranking pages to collect (default COLLECTOR_DEFAULT_PAGES)")
	dryRun := flags.Bool("dry-run", false, "Collect into an in-memory store and print the analytics")
	_ = flags.Parse(args)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()

	if *pages == 0 {
		*pages = cfg.Collector.DefaultPages
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *dryRun {
		if err := runDry(ctx, cfg, *pages); err != nil {
			logger.WithError(err).Fatal("Dry run failed")
		}
		return
	}

	app, err := service.NewApp(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize application")
	}
	defer app.Close()

	// Check for one-time run mode
	if runOnce {
		logger.WithField("pages", *pages).Info("Running collection immediately...")
		ok, message := app.CollectAndStore(ctx, *pages)
		fmt.Println(message)
		if !ok {
			app.Close()
			os.Exit(1)
		}
		return
	}

	if err := app.Scheduler.Start(ctx, *pages); err != nil {
		logger.WithError(err).Fatal("Failed to start collection scheduler")
	}

	<-ctx.Done()
	logger.Info("Shutting down collector...")
	app.Scheduler.Stop()
	logger.Info("Collector stopped")
}

// runDry collects into a MemoryStore and prints the scan and derived views
func runDry(ctx context.Context, cfg *config.Config, pages int) error {
	store := storage.NewMemoryStore()
	app := service.NewAppWithStore(cfg, store, adapter.NewRankingClient(cfg.Collector))

	report, err := app.Pipeline.Run(ctx, pages)
	if err != nil {
		return err
	}

	groups, err := app.Analytics.BalanceGroups(ctx)
	if err != nil {
		return err
	}
	summary, err := app.Analytics.Summary(ctx)
	if err != nil {
		return err
	}

	out := json.NewEncoder(os.Stdout)
	out.SetIndent("", "  ")
	return out.Encode(map[string]interface{}{
		"report":  report,
		"summary": summary,
		"groups":  groups,
		"signal":  app.Analytics.MarketSignal(ctx),
	})
}
