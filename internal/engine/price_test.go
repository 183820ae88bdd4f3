package engine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ayushsreejith06/MAX-sub002/internal/models"
)

func TestPriceModelActionImpacts(t *testing.T) {
	m := NewPriceModel(0.0001, ZeroNoise)

	tests := []struct {
		name   string
		action models.Action
		want   float64
	}{
		{"buy", models.ActionBuy, 100.2},
		{"sell", models.ActionSell, 99.8},
		{"hold", models.ActionHold, 100.01},
		{"rebalance", models.ActionRebalance, 100.05},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.NewPrice(100, tt.action.PriceImpact(), 0, 0)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestPriceModelTrendDrift(t *testing.T) {
	m := NewPriceModel(0.0001, ZeroNoise)

	got := m.NewPrice(100, 0, 1, 0)
	assert.InDelta(t, 100*(1+1.0/252.0), got, 1e-9, "trend factor scales by one trading day")

	down := m.NewPrice(100, 0, -1, 0)
	assert.Less(t, down, 100.0)
}

func TestPriceModelNoiseAmplitude(t *testing.T) {
	// A noise function pinned to +amplitude makes the stochastic term
	// exact: volatility scaled by sqrt(dt).
	m := NewPriceModel(0.0001, func(amplitude float64) float64 { return amplitude })

	vol := 0.3
	want := 100 * (1 + vol*math.Sqrt(1.0/252.0))
	assert.InDelta(t, want, m.NewPrice(100, 0, 0, vol), 1e-9)
}

func TestPriceModelFloor(t *testing.T) {
	m := NewPriceModel(0.5, ZeroNoise)
	assert.Equal(t, 0.5, m.NewPrice(1, -0.9, 0, 0), "crashes clamp at the floor")

	defaulted := NewPriceModel(0, nil)
	assert.Equal(t, 0.0001, defaulted.NewPrice(0.0001, -0.5, 0, 0), "non-positive floor defaults")
}
