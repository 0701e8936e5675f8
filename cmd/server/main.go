package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/pointbulle/internal/app"
	"github.com/shrimpsizemoose/pointbulle/internal/handlers"
)

func main() {
	var configPath = flag.String("config", "config.toml", "Path to config file")
	flag.Parse()

	service, err := app.NewService(*configPath)
	if err != nil {
		logger.Error.Fatalf("Failed to start service: %v", err)
	}

	mux := http.NewServeMux()
	handlers.NewLedgerHandler(service).Register(mux)
	mux.Handle("/metrics", promhttp.Handler())

	logger.Info.Printf("Starting pointbulle server on %s", service.Config.Server.Port)
	logger.Debug.Println("Requiring headers:")
	for _, h := range service.Config.API.RequiredHeaders {
		logger.Debug.Printf("  %s: %s", h.Name, h.Value)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := handlers.Serve(ctx, service, mux); err != nil {
		logger.Error.Printf("Pointbulle server failed: %v", err)
		return
	}
	logger.Info.Println("Server stopped")
}
