// Package market supplies per-sector market signals. Realtime sectors
// pull quotes and klines from Binance; simulation sectors synthesize
// bars around their own price process. Both paths feed the same candle
// window on the sector record.
package market

import (
	"context"
	"time"

	"github.com/ayushsreejith06/MAX-sub002/internal/models"
)

// Quote is one spot snapshot for a symbol pair.
type Quote struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	ChangePercent float64   `json:"changePercent"`
	Volume        float64   `json:"volume"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Timestamp     time.Time `json:"timestamp"`
}

// Provider supplies live market data for realtime sectors. Callers treat
// errors as transient and fall back to the simulated feed.
type Provider interface {
	Quote(ctx context.Context, symbol string) (Quote, error)
	Candles(ctx context.Context, symbol string, limit int) ([]models.Candle, error)
}
