package telegram

import (
	"bytes"
	"encoding/json"
	"fmt"
	"kiwoombot/clients/notifier"
	"kiwoombot/config"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const telegramAPIURL = "https://api.telegram.org/bot%s/%s"

// TelegramClient sends alerts to Telegram.
// Implements notifier.Notifier interface.
type TelegramClient struct {
	logger   *zap.Logger
	botToken string
	chatID   string
	isProd   bool
	client   *http.Client
}

func NewTelegramClient(logger *zap.Logger, cfg *config.Config) *TelegramClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	chatID := cfg.Telegram.BetaChatID
	if cfg.IsProd {
		chatID = cfg.Telegram.ProdChatID
	}

	token := cfg.Telegram.BotToken
	if token == "" {
		logger.Warn("TELEGRAM_BOT_KEY not set, Telegram alerts disabled")
		return &TelegramClient{
			logger: logger,
			chatID: chatID,
			isProd: cfg.IsProd,
		}
	}

	logger.Info("telegram bot initialized",
		zap.Bool("isProd", cfg.IsProd),
		zap.String("chatID", chatID),
	)

	return &TelegramClient{
		logger:   logger,
		botToken: token,
		chatID:   chatID,
		isProd:   cfg.IsProd,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// SendOrderAlert sends a trading alert notification.
// Implements notifier.Notifier interface.
func (tc *TelegramClient) SendOrderAlert(alert notifier.OrderAlert) {
	if tc.botToken == "" || tc.chatID == "" {
		tc.logger.Warn("telegram not configured, skipping alert")
		return
	}

	message := tc.buildAlertMessage(alert)

	if err := tc.sendMessage(message); err != nil {
		tc.logger.Error("failed to send telegram message", zap.Error(err))
		return
	}

	tc.logger.Info("sent telegram alert",
		zap.String("reason", string(alert.Reason)),
		zap.String("symbol", alert.Symbol),
	)
}

func (tc *TelegramClient) buildAlertMessage(alert notifier.OrderAlert) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("*%s*\n\n", escapeMarkdown(alertTitle(alert.Reason))))

	if alert.ConditionName != "" {
		sb.WriteString(fmt.Sprintf("*Condition:* %s (#%s)\n",
			escapeMarkdown(alert.ConditionName), alert.ConditionID))
	}

	if alert.Symbol != "" {
		sb.WriteString(fmt.Sprintf("*Symbol:* %s\n", escapeMarkdown(alert.Symbol)))
	}

	if alert.Quantity > 0 {
		priceStr := "market"
		if alert.Price > 0 {
			priceStr = fmt.Sprintf("₩%d", alert.Price)
		}
		sb.WriteString(fmt.Sprintf("*Order:* %d shares @ %s\n", alert.Quantity, priceStr))
	}

	if alert.OrderNo != "" {
		sb.WriteString(fmt.Sprintf("*Order No:* %s\n", escapeMarkdown(alert.OrderNo)))
	}

	if alert.Error != "" {
		sb.WriteString(fmt.Sprintf("*Error:* %s\n", escapeMarkdown(alert.Error)))
	}

	kst, _ := time.LoadLocation("Asia/Seoul")
	ts := alert.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	sb.WriteString(fmt.Sprintf("\n_kiwoombot • %s_", ts.In(kst).Format("1/2/2006, 3:04:05PM (MST)")))

	return sb.String()
}

func alertTitle(reason notifier.AlertReason) string {
	switch reason {
	case notifier.AlertReasonPositionOpened:
		return "🟢 Position Opened"
	case notifier.AlertReasonOrderFailed:
		return "🔴 Order Failed"
	case notifier.AlertReasonEngineStarted:
		return "🚀 Auto-Trading Started"
	case notifier.AlertReasonEngineStopped:
		return "⏹️ Auto-Trading Stopped"
	case notifier.AlertReasonConnectionLost:
		return "⚠️ Condition Stream Lost"
	}
	return "📣 Trading Alert"
}

func (tc *TelegramClient) sendMessage(text string) error {
	url := fmt.Sprintf(telegramAPIURL, tc.botToken, "sendMessage")

	payload := map[string]interface{}{
		"chat_id":    tc.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	resp, err := tc.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}

	return nil
}

// Close cleans up resources. Implements notifier.Notifier interface.
func (tc *TelegramClient) Close() error {
	return nil
}

// escapeMarkdown escapes special characters for Telegram Markdown.
func escapeMarkdown(s string) string {
	replacer := strings.NewReplacer(
		"_", "\\_",
		"*", "\\*",
		"[", "\\[",
		"]", "\\]",
		"`", "\\`",
	)
	return replacer.Replace(s)
}
