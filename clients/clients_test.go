package clients

import (
	"kiwoombot/config"
	"testing"

	"go.uber.org/zap"
)

func TestNewClients(t *testing.T) {
	cfg := config.Defaults()
	cfg.Discord.ProdChannelID = "prod"
	cfg.Discord.BetaChannelID = "beta"

	logger := zap.NewNop()
	clients := NewClients(logger, cfg)

	if clients.Logger != logger {
		t.Error("unexpected logger")
	}
	if clients.Auth == nil {
		t.Error("expected auth client to be set")
	}
	if clients.Discord == nil {
		t.Error("expected Discord client to be set")
	}
	if clients.Telegram == nil {
		t.Error("expected Telegram client to be set")
	}
	if clients.Notifier == nil {
		t.Error("expected combined notifier to be set")
	}
}

func TestNewClients_NilLogger(t *testing.T) {
	clients := NewClients(nil, config.Defaults())

	if clients.Logger != nil {
		t.Error("expected nil logger to remain nil")
	}
	// Other clients should still be initialized
	if clients.Auth == nil {
		t.Error("expected auth client to be set")
	}
}
