// Package engine implements the deliberation and execution core: per
// sector, a cooperative ticker derives agent confidence, opens bounded
// discussions, synthesizes and scores checklist items, and executes the
// approved ones against the sector portfolio and price process. A
// watchdog breaks stalls on its own cadence, and an orchestrator owns
// sector lifecycle, cooldowns, and the global mode.
package engine

import "math"

// One trading day as a fraction of the 252-day year.
const dt = 1.0 / 252.0

// NoiseFunc draws one bounded zero-mean sample in [-amplitude,
// amplitude]. Tests inject a zero function for exact price assertions.
type NoiseFunc func(amplitude float64) float64

// ZeroNoise disables the stochastic term.
func ZeroNoise(float64) float64 { return 0 }

// PriceModel advances a sector's synthetic price from executed actions.
// The model is pure; callers persist the result alongside portfolio
// deltas.
type PriceModel struct {
	floor float64
	noise NoiseFunc
}

func NewPriceModel(floor float64, noise NoiseFunc) *PriceModel {
	if floor <= 0 {
		floor = 0.0001
	}
	if noise == nil {
		noise = ZeroNoise
	}
	return &PriceModel{floor: floor, noise: noise}
}

// NewPrice applies one action impact on prev. The drift term scales the
// trend factor by dt and the noise amplitude is volatility scaled by the
// square root of dt. Prices never fall below the floor.
func (m *PriceModel) NewPrice(prev, managerImpact, trendFactor, volatility float64) float64 {
	noise := m.noise(volatility * math.Sqrt(dt))
	next := prev * (1 + managerImpact + trendFactor*dt + noise)
	return math.Max(m.floor, next)
}

// Drift moves prev by trend and noise alone. Simulation sectors apply
// this once per tick so the price keeps walking between executions.
func (m *PriceModel) Drift(prev, trendFactor, volatility float64) float64 {
	return m.NewPrice(prev, 0, trendFactor, volatility)
}
