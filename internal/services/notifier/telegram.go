// Package notifier pushes decision alerts to a Telegram chat. The
// notifier is an optional engine sink: without a bot token it becomes a
// no-op, so simulation setups need no Telegram account.
package notifier

import (
	"context"
	"fmt"
	"sync/atomic"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/ayushsreejith06/MAX-sub002/internal/config"
	"github.com/ayushsreejith06/MAX-sub002/internal/engine"
	"github.com/ayushsreejith06/MAX-sub002/internal/models"
)

// sender is the slice of tgbotapi.BotAPI the notifier needs.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram forwards decision events to one chat. A notifier without an
// API handle is disabled and ignores every event.
type Telegram struct {
	api    sender
	chatID int64
	logger *zap.Logger
	sent   atomic.Int64
	failed atomic.Int64
}

var _ engine.EventSink = (*Telegram)(nil)

// NewTelegram connects the bot when the config carries a token and chat
// ID. Disabled config yields a usable no-op notifier.
func NewTelegram(cfg config.TelegramConfig, logger *zap.Logger) (*Telegram, error) {
	n := &Telegram{chatID: cfg.ChatID, logger: logger}
	if !cfg.Enabled || cfg.BotToken == "" || cfg.ChatID == 0 {
		return n, nil
	}

	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("notifier: connect telegram: %w", err)
	}
	logger.Info("notifier: telegram connected", zap.String("username", api.Self.UserName))
	n.api = api
	return n, nil
}

// Enabled reports whether the notifier has a live bot connection.
func (n *Telegram) Enabled() bool { return n != nil && n.api != nil }

// Publish sends a formatted alert for decision events. Send failures
// are logged and counted, never propagated.
func (n *Telegram) Publish(_ context.Context, event engine.Event) {
	if !n.Enabled() {
		return
	}
	text := formatEvent(event)
	if text == "" {
		return
	}

	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true
	if _, err := n.api.Send(msg); err != nil {
		n.failed.Add(1)
		n.logger.Warn("notifier: telegram send failed",
			zap.String("type", string(event.Type)),
			zap.Error(err),
		)
		return
	}
	n.sent.Add(1)
}

// Stats reports notifier counters for the status endpoint.
type Stats struct {
	Enabled bool  `json:"enabled"`
	Sent    int64 `json:"sent"`
	Failed  int64 `json:"failed"`
}

func (n *Telegram) Stats() Stats {
	return Stats{
		Enabled: n.Enabled(),
		Sent:    n.sent.Load(),
		Failed:  n.failed.Load(),
	}
}

func formatEvent(event engine.Event) string {
	switch event.Type {
	case engine.EventDiscussionDecided:
		if d, ok := event.Payload.(*models.Discussion); ok && d != nil {
			return formatDecision(d)
		}
	case engine.EventItemExecuted:
		if entry, ok := event.Payload.(models.ExecutionLog); ok {
			return formatExecution(entry)
		}
	case engine.EventExecutionFailed:
		if entry, ok := event.Payload.(models.ExecutionLog); ok {
			return formatFailure(entry)
		}
	}
	return ""
}

func formatDecision(d *models.Discussion) string {
	var approved, rejected, revising int
	for _, item := range d.Checklist {
		switch item.Status {
		case models.ItemApproved, models.ItemExecuted:
			approved++
		case models.ItemRejected, models.ItemAcceptRejection:
			rejected++
		case models.ItemReviseRequired, models.ItemResubmitted:
			revising++
		}
	}

	return fmt.Sprintf(`🧭 *Discussion Decided*

*Sector:* %s
*Close Reason:* %s
*Checklist:* %d approved / %d rejected / %d in revision

_Discussion ID: %s_`,
		d.SectorID,
		d.CloseReason,
		approved, rejected, revising,
		d.ID,
	)
}

func formatExecution(entry models.ExecutionLog) string {
	emoji := "🟢"
	if entry.Action == models.ActionSell {
		emoji = "🔴"
	}

	return fmt.Sprintf(`%s *Trade Executed*

*Sector:* %s
*Action:* %s %s
*Amount:* %s
*Price:* %.4f → %.4f (%.3f%%)
*Balance After:* %s

_Log ID: %s_`,
		emoji,
		entry.SectorID,
		entry.Action, entry.Symbol,
		entry.Amount.String(),
		entry.PriceBefore, entry.PriceAfter, entry.Impact,
		entry.BalanceAfter.String(),
		entry.ID,
	)
}

func formatFailure(entry models.ExecutionLog) string {
	return fmt.Sprintf(`⚠️ *Execution Failed*

*Sector:* %s
*Action:* %s %s
*Amount:* %s
*Reason:* %s

_Log ID: %s_`,
		entry.SectorID,
		entry.Action, entry.Symbol,
		entry.Amount.String(),
		entry.Reason,
		entry.ID,
	)
}
