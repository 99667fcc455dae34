package discord

import (
	"fmt"
	"kiwoombot/clients/notifier"
	"kiwoombot/config"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// DiscordClient sends alerts to Discord.
// Implements notifier.Notifier interface.
type DiscordClient struct {
	logger    *zap.Logger
	session   *discordgo.Session
	channelID string
	isProd    bool
}

func NewDiscordClient(logger *zap.Logger, cfg *config.Config) *DiscordClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	channelID := cfg.Discord.BetaChannelID
	if cfg.IsProd {
		channelID = cfg.Discord.ProdChannelID
	}

	token := cfg.Discord.BotToken
	if token == "" {
		logger.Warn("DISCORD_BOT_TOKEN not set, Discord alerts disabled")
		return &DiscordClient{
			logger:    logger,
			channelID: channelID,
			isProd:    cfg.IsProd,
		}
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		logger.Error("failed to create discord session", zap.Error(err))
		return &DiscordClient{
			logger:    logger,
			channelID: channelID,
			isProd:    cfg.IsProd,
		}
	}

	logger.Info("discord bot initialized",
		zap.Bool("isProd", cfg.IsProd),
		zap.String("channelID", channelID),
	)

	return &DiscordClient{
		logger:    logger,
		session:   session,
		channelID: channelID,
		isProd:    cfg.IsProd,
	}
}

// SendOrderAlert sends a rich embedded trading alert.
// Implements notifier.Notifier interface.
func (dc *DiscordClient) SendOrderAlert(alert notifier.OrderAlert) {
	if dc.session == nil {
		dc.logger.Warn("discord session not initialized, skipping alert")
		return
	}

	embed := dc.buildOrderEmbed(alert)

	_, err := dc.session.ChannelMessageSendEmbed(dc.channelID, embed)
	if err != nil {
		dc.logger.Error("failed to send discord embed", zap.Error(err))
		return
	}

	dc.logger.Info("sent discord alert",
		zap.String("reason", string(alert.Reason)),
		zap.String("symbol", alert.Symbol),
	)
}

func (dc *DiscordClient) buildOrderEmbed(alert notifier.OrderAlert) *discordgo.MessageEmbed {
	title, color := alertTitle(alert.Reason)

	var fields []*discordgo.MessageEmbedField

	if alert.Symbol != "" {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   "Symbol",
			Value:  alert.Symbol,
			Inline: true,
		})
	}

	if alert.Quantity > 0 {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   "Quantity",
			Value:  fmt.Sprintf("%d shares", alert.Quantity),
			Inline: true,
		})
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   "Price",
			Value:  formatPrice(alert.Price),
			Inline: true,
		})
	}

	if alert.OrderNo != "" {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   "Order No",
			Value:  alert.OrderNo,
			Inline: true,
		})
	}

	if alert.Error != "" {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   "Error",
			Value:  alert.Error,
			Inline: false,
		})
	}

	description := ""
	if alert.ConditionName != "" {
		description = fmt.Sprintf("**Condition:** %s (#%s)", alert.ConditionName, alert.ConditionID)
	}

	kst, _ := time.LoadLocation("Asia/Seoul")
	ts := alert.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	footerText := fmt.Sprintf("kiwoombot * %s", ts.In(kst).Format("1/2/2006, 3:04:05PM (MST)"))

	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Fields:      fields,
		Footer: &discordgo.MessageEmbedFooter{
			Text: footerText,
		},
		Timestamp: ts.Format(time.RFC3339),
	}
}

func alertTitle(reason notifier.AlertReason) (string, int) {
	switch reason {
	case notifier.AlertReasonPositionOpened:
		return "🟢 Position Opened", 0x2ECC71
	case notifier.AlertReasonOrderFailed:
		return "🔴 Order Failed", 0xE74C3C
	case notifier.AlertReasonEngineStarted:
		return "🚀 Auto-Trading Started", 0x58A6FF
	case notifier.AlertReasonEngineStopped:
		return "⏹️ Auto-Trading Stopped", 0x8B949E
	case notifier.AlertReasonConnectionLost:
		return "⚠️ Condition Stream Lost", 0xD29922
	}
	return "📣 Trading Alert", 0x58A6FF
}

func formatPrice(price int64) string {
	if price <= 0 {
		return "market"
	}
	return fmt.Sprintf("₩%d", price)
}

// Close closes the Discord session.
func (dc *DiscordClient) Close() error {
	if dc.session != nil {
		return dc.session.Close()
	}
	return nil
}
