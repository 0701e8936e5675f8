package main

import (
	"context"
	"flag"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/pointbulle/internal/app"
	"github.com/shrimpsizemoose/pointbulle/internal/bot"
)

func main() {
	var configPath = flag.String("config", "config.toml", "Path to config file")
	flag.Parse()

	service, err := app.NewService(*configPath)
	if err != nil {
		logger.Error.Fatalf("Failed to start service: %v", err)
	}
	defer service.Close()

	var tokens *app.TokenManager
	if service.Config.Auth.RedisURL != "" {
		client, err := app.NewRedisClient(context.Background(), service.Config.Auth.RedisURL)
		if err != nil {
			logger.Error.Fatalf("Failed to connect to redis: %v", err)
		}
		tokens = app.NewTokenManager(client, service.Config.Auth.TokenKeyTemplate)
		defer tokens.Close()
	} else {
		logger.Info.Printf("No redis configured, all chats score for course %d", service.Config.Bot.DefaultCourseID)
	}

	b, err := bot.New(service.Config, service.Ledger, tokens)
	if err != nil {
		logger.Error.Fatalf("Failed to create bot: %v", err)
	}

	logger.Info.Println("Bot initialized successfully")
	if err := b.Start(); err != nil {
		logger.Error.Printf("Bot error: %v", err)
	}
}
