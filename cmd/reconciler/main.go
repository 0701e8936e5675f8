package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/pointbulle/internal/app"
)

func main() {
	var configPath = flag.String("config", "config.toml", "Path to config file")
	var once = flag.Bool("once", false, "Reconcile once and exit")
	flag.Parse()

	service, err := app.NewService(*configPath)
	if err != nil {
		logger.Error.Fatalf("Failed to start service: %v", err)
	}
	defer service.Close()

	reconcile := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		report, err := service.Ledger.Reconcile(ctx)
		if err != nil {
			logger.Error.Printf("Reconciliation failed: %v", err)
			return
		}
		logger.Debug.Printf("Reconciled %d cached scores at %s", report.Refreshed, report.At.Format(time.RFC3339))
	}

	if *once {
		reconcile()
		return
	}

	scheduler := gocron.NewScheduler(time.UTC)
	scheduler.SingletonModeAll()
	if _, err := scheduler.Cron(service.Config.Ledger.ReconcileSchedule).Do(reconcile); err != nil {
		logger.Error.Printf("Invalid reconcile schedule %q: %v", service.Config.Ledger.ReconcileSchedule, err)
		return
	}
	scheduler.StartAsync()

	logger.Info.Printf("Reconciling cached scores on %q", service.Config.Ledger.ReconcileSchedule)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	scheduler.Stop()
	logger.Info.Println("Reconciler stopped")
}
