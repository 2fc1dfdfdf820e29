package notify

import (
	"log/slog"

	"github.com/riptide-quant/riptide/internal/config"
)

// Event types emitted by the trading loop. The configured allow-list
// filters on these names.
const (
	EventOrderFilled = "order_filled"
	EventRiskHalted  = "risk_halted"
	EventRunComplete = "run_complete"
	EventError       = "error"
)

// FromConfig builds a Notifier with whichever senders the config enables.
// With no channels configured the notifier is a silent no-op, which keeps
// call sites unconditional.
func FromConfig(cfg config.NotifyConfig, logger *slog.Logger) *Notifier {
	var senders []Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, NewDiscordSender(cfg.DiscordWebhookURL))
	}
	return NewNotifier(senders, cfg.Events, logger)
}
