package clients

import (
	"kiwoombot/clients/discord"
	"kiwoombot/clients/kiwoomauth"
	"kiwoombot/clients/notifier"
	"kiwoombot/clients/telegram"
	"kiwoombot/config"

	"go.uber.org/zap"
)

// Clients bundles the token-independent service clients. The condition and
// order clients need a bearer token first, so the runner constructs those
// after login.
type Clients struct {
	Logger *zap.Logger

	Auth     *kiwoomauth.Client
	Discord  *discord.DiscordClient
	Telegram *telegram.TelegramClient
	Notifier notifier.Notifier // Combined notifier for all channels
}

func NewClients(logger *zap.Logger, cfg *config.Config) *Clients {
	discordClient := discord.NewDiscordClient(logger, cfg)
	telegramClient := telegram.NewTelegramClient(logger, cfg)

	// Create combined notifier for all channels
	multiNotifier := notifier.NewMultiNotifier(discordClient, telegramClient)

	return &Clients{
		Logger:   logger,
		Auth:     kiwoomauth.NewClient(logger, cfg),
		Discord:  discordClient,
		Telegram: telegramClient,
		Notifier: multiNotifier,
	}
}
