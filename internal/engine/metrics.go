package engine

import (
	"sync"
	"time"
)

// Metrics counts engine activity. All counters are monotonic; GetMetrics
// returns a copy safe to serialize.
type Metrics struct {
	mu sync.Mutex

	TicksTotal           int64     `json:"ticksTotal"`
	TickErrors           int64     `json:"tickErrors"`
	DiscussionsOpened    int64     `json:"discussionsOpened"`
	DiscussionsDecided   int64     `json:"discussionsDecided"`
	ItemsSynthesized     int64     `json:"itemsSynthesized"`
	ItemsApproved        int64     `json:"itemsApproved"`
	ItemsRejected        int64     `json:"itemsRejected"`
	ItemsRevised         int64     `json:"itemsRevised"`
	ItemsExecuted        int64     `json:"itemsExecuted"`
	ExecutionFailures    int64     `json:"executionFailures"`
	OracleFailures       int64     `json:"oracleFailures"`
	WatchdogForcedCloses int64     `json:"watchdogForcedCloses"`
	WatchdogItemTimeouts int64     `json:"watchdogItemTimeouts"`
	LastTickAt           time.Time `json:"lastTickAt"`
}

func NewMetrics() *Metrics { return &Metrics{} }

func (m *Metrics) add(field *int64, delta int64) {
	m.mu.Lock()
	*field += delta
	m.mu.Unlock()
}

func (m *Metrics) IncTick() {
	m.mu.Lock()
	m.TicksTotal++
	m.LastTickAt = time.Now().UTC()
	m.mu.Unlock()
}

func (m *Metrics) IncTickError()             { m.add(&m.TickErrors, 1) }
func (m *Metrics) IncDiscussionOpened()      { m.add(&m.DiscussionsOpened, 1) }
func (m *Metrics) IncDiscussionDecided()     { m.add(&m.DiscussionsDecided, 1) }
func (m *Metrics) AddItemsSynthesized(n int) { m.add(&m.ItemsSynthesized, int64(n)) }
func (m *Metrics) IncItemApproved()          { m.add(&m.ItemsApproved, 1) }
func (m *Metrics) IncItemRejected()          { m.add(&m.ItemsRejected, 1) }
func (m *Metrics) IncItemRevised()           { m.add(&m.ItemsRevised, 1) }
func (m *Metrics) IncItemExecuted()          { m.add(&m.ItemsExecuted, 1) }
func (m *Metrics) IncExecutionFailure()      { m.add(&m.ExecutionFailures, 1) }
func (m *Metrics) IncOracleFailure()         { m.add(&m.OracleFailures, 1) }
func (m *Metrics) IncWatchdogForcedClose()   { m.add(&m.WatchdogForcedCloses, 1) }
func (m *Metrics) IncWatchdogItemTimeout()   { m.add(&m.WatchdogItemTimeouts, 1) }

// GetMetrics returns a snapshot copy.
func (m *Metrics) GetMetrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Metrics{
		TicksTotal:           m.TicksTotal,
		TickErrors:           m.TickErrors,
		DiscussionsOpened:    m.DiscussionsOpened,
		DiscussionsDecided:   m.DiscussionsDecided,
		ItemsSynthesized:     m.ItemsSynthesized,
		ItemsApproved:        m.ItemsApproved,
		ItemsRejected:        m.ItemsRejected,
		ItemsRevised:         m.ItemsRevised,
		ItemsExecuted:        m.ItemsExecuted,
		ExecutionFailures:    m.ExecutionFailures,
		OracleFailures:       m.OracleFailures,
		WatchdogForcedCloses: m.WatchdogForcedCloses,
		WatchdogItemTimeouts: m.WatchdogItemTimeouts,
		LastTickAt:           m.LastTickAt,
	}
}
