package market

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/ayushsreejith06/MAX-sub002/internal/models"
)

const simBaseVolume = 10_000

// SimFeed synthesizes candle bars and volume around a sector's own price
// process so that simulation sectors still produce the signals the
// confidence math consumes. The generator is deterministic for a given
// seed; tests inject fixed seeds.
type SimFeed struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewSimFeed(seed int64) *SimFeed {
	return &SimFeed{rng: rand.New(rand.NewSource(seed))}
}

// Bar builds the candle covering the move from prev to curr plus a
// synthetic volume. Volume scales with the size of the move so that busy
// bars look busy; the wick jitter is bounded by volatility.
func (f *SimFeed) Bar(prev, curr, volatility float64, now time.Time) (models.Candle, float64) {
	f.mu.Lock()
	jitter := f.rng.Float64()
	volJitter := f.rng.Float64()
	f.mu.Unlock()

	if prev <= 0 {
		prev = curr
	}
	high := math.Max(prev, curr)
	low := math.Min(prev, curr)
	wick := math.Abs(jitter) * volatility * high
	high += wick
	if low-wick > 0 {
		low -= wick
	}

	move := 0.0
	if prev > 0 {
		move = math.Abs(curr-prev) / prev
	}
	volume := simBaseVolume * (1 + 50*move) * (0.5 + volJitter)

	return models.Candle{
		Open:      prev,
		High:      high,
		Low:       low,
		Close:     curr,
		Volume:    volume,
		Timestamp: now,
	}, volume
}

// Noise draws one bounded zero-mean sample in [-amplitude, amplitude].
func (f *SimFeed) Noise(amplitude float64) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return (f.rng.Float64()*2 - 1) * amplitude
}
