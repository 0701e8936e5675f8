package bot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/pointbulle/internal/app"
	"github.com/shrimpsizemoose/pointbulle/internal/ledger"
	"github.com/shrimpsizemoose/pointbulle/internal/models"
)

const commandTimeout = 15 * time.Second

type Bot struct {
	config *app.Config
	ledger *ledger.Coordinator
	tokens *app.TokenManager
	api    *tgbotapi.BotAPI
	admins map[int64]bool

	// chatIntegration is the ledger integration that chat activity scores on.
	chatIntegration string

	// inflight tracks message handlers so Start returns only after they finish.
	inflight sync.WaitGroup
}

// New connects to Telegram and makes sure the chat integration exists in
// the ledger. tokens may be nil when redis is not configured; chats then
// fall back to the default course.
func New(config *app.Config, coordinator *ledger.Coordinator, tokens *app.TokenManager) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(config.Bot.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}

	admins := make(map[int64]bool)
	for _, id := range config.Bot.AdminIDs {
		admins[id] = true
	}

	chatIntegration := models.NormalizeIntegrationKey(config.Bot.ChatIntegration)
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	err = coordinator.EnsureIntegration(ctx, models.Integration{
		Key:  chatIntegration,
		Name: "Telegram",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register %s integration: %w", chatIntegration, err)
	}

	return &Bot{
		config:          config,
		ledger:          coordinator,
		tokens:          tokens,
		api:             api,
		admins:          admins,
		chatIntegration: chatIntegration,
	}, nil
}

func (b *Bot) Start() error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case update := <-updates:
			if update.Message == nil {
				continue
			}

			b.inflight.Add(1)
			go func(msg *tgbotapi.Message) {
				defer b.inflight.Done()
				b.handleMessage(msg)
			}(update.Message)

		case <-sigChan:
			logger.Info.Println("Shutting down bot...")
			b.api.StopReceivingUpdates()
			b.inflight.Wait()
			return nil
		}
	}
}

// courseForChat returns the course a chat is bound to, or the configured
// default course.
func (b *Bot) courseForChat(ctx context.Context, chatID int64) (int64, error) {
	if b.tokens == nil {
		return b.config.Bot.DefaultCourseID, nil
	}
	mapping, err := b.tokens.FetchCourseByChatID(ctx, chatID)
	if errors.Is(err, app.ErrNoChatMapping) {
		return b.config.Bot.DefaultCourseID, nil
	}
	if err != nil {
		return 0, err
	}
	return mapping.CourseID, nil
}
