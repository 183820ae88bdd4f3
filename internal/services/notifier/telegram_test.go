package notifier

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ayushsreejith06/MAX-sub002/internal/config"
	"github.com/ayushsreejith06/MAX-sub002/internal/engine"
	"github.com/ayushsreejith06/MAX-sub002/internal/models"
)

type stubSender struct {
	mu   sync.Mutex
	msgs []tgbotapi.MessageConfig
	err  error
}

func (s *stubSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		s.msgs = append(s.msgs, msg)
	}
	return tgbotapi.Message{}, s.err
}

func (s *stubSender) sent() []tgbotapi.MessageConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]tgbotapi.MessageConfig, len(s.msgs))
	copy(out, s.msgs)
	return out
}

func newStubTelegram(stub *stubSender) *Telegram {
	return &Telegram{api: stub, chatID: 42, logger: zap.NewNop()}
}

func TestNewTelegramDisabledConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.TelegramConfig
	}{
		{"disabled flag", config.TelegramConfig{Enabled: false, BotToken: "token", ChatID: 1}},
		{"missing token", config.TelegramConfig{Enabled: true, ChatID: 1}},
		{"missing chat id", config.TelegramConfig{Enabled: true, BotToken: "token"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := NewTelegram(tt.cfg, zap.NewNop())
			require.NoError(t, err)
			assert.False(t, n.Enabled())

			// Disabled notifiers swallow events without panicking.
			n.Publish(context.Background(), engine.Event{Type: engine.EventDiscussionDecided})
			stats := n.Stats()
			assert.False(t, stats.Enabled)
			assert.Equal(t, int64(0), stats.Sent)
		})
	}
}

func TestTelegramSendsDecisionAlert(t *testing.T) {
	stub := &stubSender{}
	n := newStubTelegram(stub)

	d := &models.Discussion{
		ID:          "d-1",
		SectorID:    "sector-1",
		Status:      models.DiscussionDecided,
		CloseReason: "max_rounds",
		Checklist: []models.ChecklistItem{
			{ID: "item-1", Status: models.ItemExecuted},
			{ID: "item-2", Status: models.ItemApproved},
			{ID: "item-3", Status: models.ItemRejected},
		},
	}
	n.Publish(context.Background(), engine.Event{
		Type:      engine.EventDiscussionDecided,
		SectorID:  "sector-1",
		Payload:   d,
		Timestamp: time.Now().UTC(),
	})

	msgs := stub.sent()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(42), msgs[0].ChatID)
	assert.Equal(t, tgbotapi.ModeMarkdown, msgs[0].ParseMode)
	assert.Contains(t, msgs[0].Text, "Discussion Decided")
	assert.Contains(t, msgs[0].Text, "sector-1")
	assert.Contains(t, msgs[0].Text, "max_rounds")
	assert.Contains(t, msgs[0].Text, "2 approved / 1 rejected")
	assert.Equal(t, int64(1), n.Stats().Sent)
}

func TestTelegramFormatsExecution(t *testing.T) {
	stub := &stubSender{}
	n := newStubTelegram(stub)

	entry := models.ExecutionLog{
		ID:           "log-1",
		SectorID:     "sector-1",
		Action:       models.ActionBuy,
		Symbol:       "TECH",
		Amount:       decimal.NewFromInt(200),
		Impact:       0.2,
		PriceBefore:  100,
		PriceAfter:   100.2,
		BalanceAfter: decimal.NewFromInt(800),
		Status:       models.ExecutionCompleted,
	}
	n.Publish(context.Background(), engine.Event{Type: engine.EventItemExecuted, SectorID: "sector-1", Payload: entry})

	msgs := stub.sent()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "🟢")
	assert.Contains(t, msgs[0].Text, "Trade Executed")
	assert.Contains(t, msgs[0].Text, "BUY TECH")
	assert.Contains(t, msgs[0].Text, "200")

	sell := entry
	sell.Action = models.ActionSell
	n.Publish(context.Background(), engine.Event{Type: engine.EventItemExecuted, SectorID: "sector-1", Payload: sell})

	msgs = stub.sent()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].Text, "🔴")
	assert.Contains(t, msgs[1].Text, "SELL TECH")
}

func TestTelegramFormatsFailure(t *testing.T) {
	stub := &stubSender{}
	n := newStubTelegram(stub)

	entry := models.ExecutionLog{
		ID:       "log-2",
		SectorID: "sector-1",
		Action:   models.ActionBuy,
		Symbol:   "TECH",
		Amount:   decimal.NewFromInt(5000),
		Status:   models.ExecutionFailed,
		Reason:   models.ReasonInsufficientBalance,
	}
	n.Publish(context.Background(), engine.Event{Type: engine.EventExecutionFailed, SectorID: "sector-1", Payload: entry})

	msgs := stub.sent()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "Execution Failed")
	assert.Contains(t, msgs[0].Text, models.ReasonInsufficientBalance)
}

func TestTelegramIgnoresOtherEvents(t *testing.T) {
	stub := &stubSender{}
	n := newStubTelegram(stub)

	ctx := context.Background()
	n.Publish(ctx, engine.Event{Type: engine.EventSectorUpdated, SectorID: "sector-1"})
	n.Publish(ctx, engine.Event{Type: engine.EventAgentUpdated, SectorID: "sector-1"})
	n.Publish(ctx, engine.Event{Type: engine.EventTickCompleted, SectorID: "sector-1"})
	// Wrong payload shape is dropped, not sent half-formatted.
	n.Publish(ctx, engine.Event{Type: engine.EventItemExecuted, SectorID: "sector-1", Payload: "not a log"})

	assert.Empty(t, stub.sent())
	assert.Equal(t, int64(0), n.Stats().Sent)
}

func TestTelegramCountsSendFailures(t *testing.T) {
	stub := &stubSender{err: fmt.Errorf("telegram unavailable")}
	n := newStubTelegram(stub)

	n.Publish(context.Background(), engine.Event{
		Type:     engine.EventItemExecuted,
		SectorID: "sector-1",
		Payload:  models.ExecutionLog{ID: "log-1", Action: models.ActionBuy, Symbol: "TECH"},
	})

	stats := n.Stats()
	assert.Equal(t, int64(0), stats.Sent)
	assert.Equal(t, int64(1), stats.Failed)
}
