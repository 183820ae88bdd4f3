package market

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"

	"github.com/ayushsreejith06/MAX-sub002/internal/models"
)

// BinanceProvider serves spot quotes and 1m klines. Public endpoints need
// no credentials; keys are accepted for rate-limit headroom. The provider
// stays thin and lets callers decide how to degrade.
type BinanceProvider struct {
	client *binance.Client
	suffix string
}

var _ Provider = (*BinanceProvider)(nil)

// NewBinanceProvider builds a provider mapping sector symbols onto
// exchange pairs by appending suffix (for example tech -> TECHUSDT).
func NewBinanceProvider(apiKey, secretKey, suffix string) *BinanceProvider {
	return &BinanceProvider{
		client: binance.NewClient(apiKey, secretKey),
		suffix: strings.ToUpper(suffix),
	}
}

func (p *BinanceProvider) pair(symbol string) string {
	s := strings.ToUpper(symbol)
	if strings.HasSuffix(s, p.suffix) {
		return s
	}
	return s + p.suffix
}

func (p *BinanceProvider) Quote(ctx context.Context, symbol string) (Quote, error) {
	pair := p.pair(symbol)
	stats, err := p.client.NewListPriceChangeStatsService().Symbol(pair).Do(ctx)
	if err != nil {
		return Quote{}, fmt.Errorf("binance stats %s: %w", pair, err)
	}
	if len(stats) == 0 {
		return Quote{}, fmt.Errorf("binance stats %s: empty response", pair)
	}
	st := stats[0]

	price, err := strconv.ParseFloat(st.LastPrice, 64)
	if err != nil {
		return Quote{}, fmt.Errorf("binance stats %s: bad last price %q", pair, st.LastPrice)
	}
	changePct, _ := strconv.ParseFloat(st.PriceChangePercent, 64)
	volume, _ := strconv.ParseFloat(st.Volume, 64)
	high, _ := strconv.ParseFloat(st.HighPrice, 64)
	low, _ := strconv.ParseFloat(st.LowPrice, 64)

	return Quote{
		Symbol:        symbol,
		Price:         price,
		ChangePercent: changePct,
		Volume:        volume,
		High:          high,
		Low:           low,
		Timestamp:     time.Now().UTC(),
	}, nil
}

func (p *BinanceProvider) Candles(ctx context.Context, symbol string, limit int) ([]models.Candle, error) {
	pair := p.pair(symbol)
	klines, err := p.client.NewKlinesService().
		Symbol(pair).
		Interval("1m").
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance klines %s: %w", pair, err)
	}

	candles := make([]models.Candle, 0, len(klines))
	for _, k := range klines {
		open, _ := strconv.ParseFloat(k.Open, 64)
		high, _ := strconv.ParseFloat(k.High, 64)
		low, _ := strconv.ParseFloat(k.Low, 64)
		closePrice, _ := strconv.ParseFloat(k.Close, 64)
		volume, _ := strconv.ParseFloat(k.Volume, 64)
		candles = append(candles, models.Candle{
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    volume,
			Timestamp: time.UnixMilli(k.OpenTime).UTC(),
		})
	}
	return candles, nil
}
