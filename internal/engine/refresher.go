package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ayushsreejith06/MAX-sub002/internal/config"
	"github.com/ayushsreejith06/MAX-sub002/internal/logging"
	"github.com/ayushsreejith06/MAX-sub002/internal/market"
	"github.com/ayushsreejith06/MAX-sub002/internal/models"
)

// candleStaleness is how old the newest live candle may get before the
// window is refetched from the provider.
const candleStaleness = time.Minute

// MarketRefresher keeps the per-sector market signals (candles, volume,
// change, volatility) current. Sectors in realtime mode pull from the
// live provider and degrade to the simulated feed when it fails; sectors
// in simulation mode always synthesize their own bars.
type MarketRefresher struct {
	provider     market.Provider
	sim          *market.SimFeed
	candleLimit  int
	quoteTimeout time.Duration
	logger       *logging.StandardLogger
	now          func() time.Time
}

func NewMarketRefresher(provider market.Provider, sim *market.SimFeed,
	cfg config.MarketConfig, logger *logging.StandardLogger) *MarketRefresher {

	limit := cfg.CandleLimit
	if limit < 5 {
		limit = 30
	}
	timeout := cfg.QuoteTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &MarketRefresher{
		provider:     provider,
		sim:          sim,
		candleLimit:  limit,
		quoteTimeout: timeout,
		logger:       logger.WithComponent("market"),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Refresh updates the sector's market fields in place; the caller
// persists. live gates the provider path so the orchestrator's global
// mode can pin every sector to simulation at once.
func (r *MarketRefresher) Refresh(ctx context.Context, s *models.Sector, live bool) {
	if live && s.Mode == models.ModeRealtime && r.provider != nil {
		if r.refreshLive(ctx, s) {
			return
		}
		// Provider failure falls through to the simulated feed so the
		// confidence inputs keep moving.
	}
	r.refreshSim(s)
}

func (r *MarketRefresher) refreshLive(ctx context.Context, s *models.Sector) bool {
	qctx, cancel := context.WithTimeout(ctx, r.quoteTimeout)
	defer cancel()

	quote, err := r.provider.Quote(qctx, s.Symbol)
	if err != nil {
		r.logger.WithError(err).Warn("live quote failed",
			zap.String("sector_id", s.ID), zap.String("symbol", s.Symbol))
		return false
	}

	now := r.now()
	s.CurrentPrice = quote.Price
	s.Change = quote.Price - s.InitialPrice
	s.ChangePercent = quote.ChangePercent
	s.Volume = quote.Volume
	s.LastPriceUpdate = now

	if r.candlesStale(s, now) {
		candles, err := r.provider.Candles(qctx, s.Symbol, r.candleLimit)
		if err != nil {
			r.logger.WithError(err).Warn("live candles failed",
				zap.String("sector_id", s.ID), zap.String("symbol", s.Symbol))
		} else if len(candles) > 0 {
			s.Candles = candles
		}
	}
	if vol := market.RealizedVolatility(s.Candles); vol > 0 {
		s.Volatility = vol
	}
	return true
}

func (r *MarketRefresher) refreshSim(s *models.Sector) {
	now := r.now()
	prevClose := s.InitialPrice
	if n := len(s.Candles); n > 0 {
		prevClose = s.Candles[n-1].Close
	}

	candle, volume := r.sim.Bar(prevClose, s.CurrentPrice, s.Volatility, now)
	s.AppendCandle(candle, r.candleLimit)
	s.Volume = volume
	s.Change = s.CurrentPrice - s.InitialPrice
	if s.InitialPrice > 0 {
		s.ChangePercent = s.Change / s.InitialPrice * 100
	}
	s.LastPriceUpdate = now
}

func (r *MarketRefresher) candlesStale(s *models.Sector, now time.Time) bool {
	if len(s.Candles) == 0 {
		return true
	}
	return now.Sub(s.Candles[len(s.Candles)-1].Timestamp) >= candleStaleness
}
