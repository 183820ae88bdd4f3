package engine

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ayushsreejith06/MAX-sub002/internal/apperrors"
	"github.com/ayushsreejith06/MAX-sub002/internal/config"
	"github.com/ayushsreejith06/MAX-sub002/internal/logging"
	"github.com/ayushsreejith06/MAX-sub002/internal/market"
	"github.com/ayushsreejith06/MAX-sub002/internal/models"
	"github.com/ayushsreejith06/MAX-sub002/internal/storage"
)

const defaultMorale = 50

// MemorySealer encrypts manager memory entries at rest. A nil sealer
// stores entries as plaintext.
type MemorySealer interface {
	Seal(plain string) (string, error)
}

// Orchestrator owns the engine lifecycle: the per-sector ticker
// registry, the watchdog, the global simulation/realtime mode, and the
// administrative operations the API exposes. All engine components hang
// off it and share one metrics registry and one event sink.
type Orchestrator struct {
	repos      *storage.Repos
	confidence *ConfidenceEngine
	machine    *StateMachine
	executor   *Executor
	prices     *PriceModel
	refresher  *MarketRefresher
	locks      *KeyedMutex
	root       *logging.StandardLogger
	logger     *logging.StandardLogger
	metrics    *Metrics
	events     EventSink
	cfg        *config.Config
	sealer     MemorySealer
	nowFn      func() time.Time

	mu       sync.Mutex
	mode     models.SectorMode
	tickers  map[string]*SectorTicker
	watchdog *Watchdog
	runCtx   context.Context
	cancel   context.CancelFunc
	started  bool
}

func NewOrchestrator(repos *storage.Repos, oracle ProposalOracle, provider market.Provider,
	events EventSink, logger *logging.StandardLogger, cfg *config.Config) *Orchestrator {

	if events == nil {
		events = NopSink{}
	}
	metrics := NewMetrics()
	locks := NewKeyedMutex()
	feed := market.NewSimFeed(time.Now().UnixNano())
	prices := NewPriceModel(cfg.Engine.PriceFloor, feed.Noise)
	scorer := NewScorer(cfg.Engine.ScoringWeights, cfg.Engine.ApprovalThreshold,
		cfg.Engine.MaxRevisions, cfg.Engine.RevisionsEnabled)
	machine := NewStateMachine(repos, oracle, scorer, logger, metrics, events, cfg.Engine)

	mode := models.ModeSimulation
	if cfg.Market.Mode == "live" {
		mode = models.ModeRealtime
	}
	return &Orchestrator{
		repos:      repos,
		confidence: NewConfidenceEngine(cfg.Engine.ConfidenceGate),
		machine:    machine,
		executor:   NewExecutor(repos, machine, prices, logger, metrics, events),
		prices:     prices,
		refresher:  NewMarketRefresher(provider, feed, cfg.Market, logger),
		locks:      locks,
		root:       logger,
		logger:     logger.WithComponent("orchestrator"),
		metrics:    metrics,
		events:     events,
		cfg:        cfg,
		nowFn:      func() time.Time { return time.Now().UTC() },
		mode:       mode,
		tickers:    make(map[string]*SectorTicker),
	}
}

func (o *Orchestrator) Metrics() *Metrics      { return o.metrics }
func (o *Orchestrator) Machine() *StateMachine { return o.machine }
func (o *Orchestrator) Gate() float64          { return o.confidence.Gate() }

// SetMemorySealer installs the cipher for manager memory entries. Call
// before Start; the engine never rewrites entries already stored.
func (o *Orchestrator) SetMemorySealer(s MemorySealer) {
	o.sealer = s
}

// Mode returns the global engine mode. Sectors in realtime mode only
// pull live market data while the global mode is realtime too.
func (o *Orchestrator) Mode() models.SectorMode {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.mode
}

func (o *Orchestrator) SetMode(mode models.SectorMode) error {
	if !mode.Valid() {
		return apperrors.Validation("unknown mode %q", mode)
	}
	o.mu.Lock()
	o.mode = mode
	o.mu.Unlock()
	o.logger.Info("system mode changed", zap.String("mode", string(mode)))
	return nil
}

// Start spins up the watchdog and one ticker per stored sector.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return nil
	}
	o.runCtx, o.cancel = context.WithCancel(ctx)
	o.watchdog = NewWatchdog(o.repos, o.machine, o.locks, o.root, o.metrics, o.cfg.Engine)
	o.watchdog.Start(o.runCtx)
	o.started = true
	o.mu.Unlock()

	sectors, err := o.repos.Sectors.List(ctx)
	if err != nil {
		o.Stop()
		return err
	}
	o.mu.Lock()
	for i := range sectors {
		o.startSectorLocked(sectors[i].ID)
	}
	o.mu.Unlock()

	o.logger.Info("engine started",
		zap.Int("sectors", len(sectors)),
		zap.String("mode", string(o.Mode())))
	return nil
}

// Stop cancels every loop and waits for in-flight ticks to complete, so
// execution drains finish before the process exits.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return
	}
	o.started = false
	cancel := o.cancel
	watchdog := o.watchdog
	tickers := make([]*SectorTicker, 0, len(o.tickers))
	for _, t := range o.tickers {
		tickers = append(tickers, t)
	}
	o.tickers = make(map[string]*SectorTicker)
	o.mu.Unlock()

	cancel()
	for _, t := range tickers {
		t.Stop()
	}
	if watchdog != nil {
		watchdog.Stop()
	}
	o.logger.Info("engine stopped")
}

func (o *Orchestrator) startSectorLocked(sectorID string) {
	sectorID = storage.NormalizeID(sectorID)
	if _, ok := o.tickers[sectorID]; ok {
		return
	}
	t := newSectorTicker(sectorID, o)
	o.tickers[sectorID] = t
	t.Start(o.runCtx)
}

// StartSector registers and starts the sector's ticker. No-op before
// Start or when the ticker already runs.
func (o *Orchestrator) StartSector(sectorID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.started {
		return
	}
	o.startSectorLocked(sectorID)
}

// StopSector stops and deregisters the sector's ticker, waiting for its
// in-flight tick.
func (o *Orchestrator) StopSector(sectorID string) {
	sectorID = storage.NormalizeID(sectorID)
	o.mu.Lock()
	t, ok := o.tickers[sectorID]
	if ok {
		delete(o.tickers, sectorID)
	}
	o.mu.Unlock()
	if ok {
		t.Stop()
	}
}

// RunningSectors lists the sector IDs with a live ticker, sorted.
func (o *Orchestrator) RunningSectors() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.tickers))
	for id := range o.tickers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// TickOnce runs one synchronous tick for the sector. The confidence-tick
// endpoint and the scenario tests drive the engine through this.
func (o *Orchestrator) TickOnce(ctx context.Context, sectorID string) (*TickResult, error) {
	return o.tickSector(ctx, storage.NormalizeID(sectorID))
}

// tickSector is one full engine tick: market refresh, confidence update,
// discussion start/step, execution drain, cooldown bookkeeping.
func (o *Orchestrator) tickSector(ctx context.Context, sectorID string) (*TickResult, error) {
	o.metrics.IncTick()
	now := o.nowFn()

	sector, err := o.repos.Sectors.Get(ctx, sectorID)
	if err != nil {
		return nil, err
	}
	live := o.Mode() == models.ModeRealtime

	// Market data is fetched outside the storage write so a conflict
	// retry never repeats a network call.
	scratch := *sector
	o.refresher.Refresh(ctx, &scratch, live)

	var refreshed models.Sector
	err = o.repos.Sectors.UpdateOne(ctx, sectorID, func(s *models.Sector) error {
		s.Candles = scratch.Candles
		s.Volume = scratch.Volume
		s.Volatility = scratch.Volatility
		if live && s.Mode == models.ModeRealtime {
			s.CurrentPrice = scratch.CurrentPrice
			s.Change = scratch.Change
			s.ChangePercent = scratch.ChangePercent
		} else {
			// Simulated prices drift every tick; action impact only
			// lands through the executor.
			s.CurrentPrice = o.prices.Drift(s.CurrentPrice, s.TrendFactor, s.Volatility)
			s.Change = s.CurrentPrice - s.InitialPrice
			if s.InitialPrice > 0 {
				s.ChangePercent = s.Change / s.InitialPrice * 100
			}
		}
		s.LastPriceUpdate = scratch.LastPriceUpdate
		refreshed = *s
		return nil
	})
	if err != nil {
		return nil, err
	}

	rules, err := o.repos.Rules.List(ctx)
	if err != nil {
		return nil, err
	}
	open, err := o.repos.Discussions.OpenForSector(ctx, sectorID)
	if err != nil {
		return nil, err
	}

	agents, err := o.updateConfidences(ctx, sectorID, &refreshed, rules, open != nil, now)
	if err != nil {
		return nil, err
	}

	result := &TickResult{Sector: &refreshed, Agents: agents}
	result.DiscussionReady = open == nil && o.confidence.ReadyForDiscussion(&refreshed, agents, now)

	if result.DiscussionReady {
		d, err := o.machine.Start(ctx, &refreshed, agents)
		switch {
		case err == nil:
			open = d
		case apperrors.KindOf(err) == apperrors.KindInvariantViolation:
			// Lost the open race or a precondition moved under us; the
			// next tick re-evaluates.
			o.logger.WithError(err).Debug("discussion start skipped",
				zap.String("sector_id", sectorID))
		default:
			return result, err
		}
	}

	if open != nil && open.Open() {
		stepped, executed, err := o.driveDiscussion(ctx, open, &refreshed, agents)
		if err != nil {
			return result, err
		}
		result.Discussion = stepped
		result.Executed = executed

		if !stepped.Open() {
			cooldown := now.Add(o.cfg.Engine.DiscussionCooldown)
			if err := o.repos.Sectors.UpdateOne(ctx, sectorID, func(s *models.Sector) error {
				s.CooldownUntil = cooldown
				refreshed = *s
				return nil
			}); err != nil {
				return result, err
			}
			result.Sector = &refreshed
		} else if executed > 0 {
			if fresh, err := o.repos.Sectors.Get(ctx, sectorID); err == nil {
				result.Sector = fresh
			}
		}
	}

	o.events.Publish(ctx, newEvent(EventSectorUpdated, sectorID, result.Sector))
	o.events.Publish(ctx, newEvent(EventAgentUpdated, sectorID, agents))
	o.events.Publish(ctx, newEvent(EventTickCompleted, sectorID, result))
	return result, nil
}

// updateConfidences recomputes every agent's confidence against the
// refreshed sector in one agents-collection write. The manager's value
// is the average of the non-managers computed in the same pass.
func (o *Orchestrator) updateConfidences(ctx context.Context, sectorID string, sector *models.Sector,
	rules []models.Rule, discussionOpen bool, now time.Time) ([]models.Agent, error) {

	var agents []models.Agent
	err := o.repos.Agents.Update(ctx, func(all []models.Agent) ([]models.Agent, error) {
		agents = agents[:0]
		var roster []*models.Agent
		for i := range all {
			if storage.NormalizeID(all[i].SectorID) == sectorID {
				roster = append(roster, &all[i])
			}
		}
		for _, a := range roster {
			if a.Role.IsManager() {
				continue
			}
			a.Confidence = o.confidence.Compute(a, sector, rules)
			a.UpdatedAt = now
		}
		snapshot := make([]models.Agent, 0, len(roster))
		for _, a := range roster {
			snapshot = append(snapshot, *a)
		}
		managerConfidence := ManagerConfidence(snapshot)

		status := models.AgentIdle
		if discussionOpen {
			status = models.AgentActive
		}
		for _, a := range roster {
			if a.Role.IsManager() {
				a.Confidence = managerConfidence
				a.UpdatedAt = now
			}
			a.Status = status
			agents = append(agents, *a)
		}
		return all, nil
	})
	if err != nil {
		return nil, err
	}
	return agents, nil
}

// driveDiscussion advances the open discussion one step and drains
// approved items, holding the discussion's mutex against the watchdog.
func (o *Orchestrator) driveDiscussion(ctx context.Context, d *models.Discussion,
	sector *models.Sector, agents []models.Agent) (*models.Discussion, int, error) {

	unlock := o.locks.Lock(d.ID)
	defer unlock()

	// The caller's read raced the watchdog; anything it wrote while we
	// waited for the lock must not be stepped over.
	d, err := o.repos.Discussions.Get(ctx, d.ID)
	if err != nil {
		return nil, 0, err
	}
	if !d.Open() {
		return d, 0, nil
	}

	stepped, err := o.machine.Step(ctx, d, sector, agents)
	if err != nil {
		return d, 0, err
	}
	executed := 0
	if stepped.Open() && stepped.Phase == models.PhaseExecution {
		stepped, executed, err = o.executor.Drain(ctx, stepped, o.cfg.Engine.DrainBatch)
		if err != nil {
			return stepped, executed, err
		}
	}
	return stepped, executed, nil
}

// CreateSectorInput carries the user-supplied sector definition. Balance
// is funded from the user account.
type CreateSectorInput struct {
	Name           string          `json:"name"`
	Symbol         string          `json:"symbol"`
	Mode           string          `json:"mode"`
	InitialPrice   float64         `json:"initialPrice"`
	Balance        decimal.Decimal `json:"balance"`
	Volatility     float64         `json:"volatility"`
	TrendFactor    float64         `json:"trendFactor"`
	RiskScore      int             `json:"riskScore"`
	AllowedSymbols []string        `json:"allowedSymbols"`
}

// CreateSector validates the input, funds the balance from the user
// account, creates the sector with its manager, and starts its ticker.
func (o *Orchestrator) CreateSector(ctx context.Context, in CreateSectorInput) (*models.Sector, *models.Agent, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, nil, apperrors.Validation("sector name is required")
	}
	symbol := strings.ToUpper(strings.TrimSpace(in.Symbol))
	if symbol == "" {
		return nil, nil, apperrors.Validation("sector symbol is required")
	}
	if in.InitialPrice <= 0 {
		return nil, nil, apperrors.Validation("initial price must be positive, got %v", in.InitialPrice)
	}
	if in.Balance.IsNegative() {
		return nil, nil, apperrors.Validation("balance must not be negative, got %s", in.Balance)
	}
	if in.Volatility < 0 || in.Volatility > 1 {
		return nil, nil, apperrors.Validation("volatility %v outside [0,1]", in.Volatility)
	}
	if in.TrendFactor < -1 || in.TrendFactor > 1 {
		return nil, nil, apperrors.Validation("trend factor %v outside [-1,1]", in.TrendFactor)
	}
	if in.RiskScore < 0 || in.RiskScore > 100 {
		return nil, nil, apperrors.Validation("risk score %d outside [0,100]", in.RiskScore)
	}
	mode := models.ModeSimulation
	if in.Mode != "" {
		parsed, ok := models.ParseMode(strings.ToLower(strings.TrimSpace(in.Mode)))
		if !ok {
			return nil, nil, apperrors.Validation("unknown mode %q", in.Mode)
		}
		mode = parsed
	}
	allowed := normalizeSymbols(symbol, in.AllowedSymbols)

	now := o.nowFn()
	sector := models.Sector{
		ID:             uuid.NewString(),
		Name:           name,
		Symbol:         symbol,
		Mode:           mode,
		CurrentPrice:   in.InitialPrice,
		InitialPrice:   in.InitialPrice,
		Volatility:     in.Volatility,
		TrendFactor:    in.TrendFactor,
		RiskScore:      in.RiskScore,
		AllowedSymbols: allowed,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if in.Balance.IsPositive() {
		if err := o.debitAccount(ctx, in.Balance); err != nil {
			return nil, nil, err
		}
		sector.Balance = in.Balance
	}

	err := o.repos.Sectors.Update(ctx, func(sectors []models.Sector) ([]models.Sector, error) {
		if len(sectors) >= o.cfg.Engine.MaxSectors {
			return nil, apperrors.Invariant("sector limit %d reached", o.cfg.Engine.MaxSectors)
		}
		for i := range sectors {
			if storage.FoldEqual(sectors[i].Name, name) {
				return nil, apperrors.Invariant("sector named %q already exists", name)
			}
		}
		return append(sectors, sector), nil
	})
	if err != nil {
		o.creditAccount(ctx, in.Balance)
		return nil, nil, err
	}

	manager := models.Agent{
		ID:          uuid.NewString(),
		SectorID:    sector.ID,
		Name:        name + " manager",
		Role:        models.RoleManager,
		Personality: models.DefaultPersonality(models.RoleManager),
		Confidence:  models.RoleManager.BaseConfidence(),
		Morale:      defaultMorale,
		Status:      models.AgentIdle,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = o.repos.Agents.Update(ctx, func(agents []models.Agent) ([]models.Agent, error) {
		if len(agents) >= o.cfg.Engine.MaxTotalAgents {
			return nil, apperrors.Invariant("agent limit %d reached", o.cfg.Engine.MaxTotalAgents)
		}
		return append(agents, manager), nil
	})
	if err != nil {
		o.dropSector(ctx, sector.ID)
		o.creditAccount(ctx, in.Balance)
		return nil, nil, err
	}

	o.mu.Lock()
	if o.started {
		o.startSectorLocked(sector.ID)
	}
	o.mu.Unlock()

	o.events.Publish(ctx, newEvent(EventSectorUpdated, sector.ID, sector))
	o.logger.Info("sector created",
		zap.String("sector_id", sector.ID),
		zap.String("name", name),
		zap.String("symbol", symbol),
		zap.String("mode", string(mode)),
		zap.String("balance", sector.Balance.String()))
	return &sector, &manager, nil
}

// UpdateSectorInput patches mutable sector fields; nil leaves a field
// unchanged.
type UpdateSectorInput struct {
	Name           *string  `json:"name,omitempty"`
	RiskScore      *int     `json:"riskScore,omitempty"`
	TrendFactor    *float64 `json:"trendFactor,omitempty"`
	Volatility     *float64 `json:"volatility,omitempty"`
	Mode           *string  `json:"mode,omitempty"`
	AllowedSymbols []string `json:"allowedSymbols,omitempty"`
}

func (o *Orchestrator) UpdateSector(ctx context.Context, sectorID string, in UpdateSectorInput) (*models.Sector, error) {
	sectorID = storage.NormalizeID(sectorID)
	if in.RiskScore != nil && (*in.RiskScore < 0 || *in.RiskScore > 100) {
		return nil, apperrors.Validation("risk score %d outside [0,100]", *in.RiskScore)
	}
	if in.TrendFactor != nil && (*in.TrendFactor < -1 || *in.TrendFactor > 1) {
		return nil, apperrors.Validation("trend factor %v outside [-1,1]", *in.TrendFactor)
	}
	if in.Volatility != nil && (*in.Volatility < 0 || *in.Volatility > 1) {
		return nil, apperrors.Validation("volatility %v outside [0,1]", *in.Volatility)
	}
	var mode models.SectorMode
	if in.Mode != nil {
		parsed, ok := models.ParseMode(strings.ToLower(strings.TrimSpace(*in.Mode)))
		if !ok {
			return nil, apperrors.Validation("unknown mode %q", *in.Mode)
		}
		mode = parsed
	}

	var out models.Sector
	err := o.repos.Sectors.UpdateOne(ctx, sectorID, func(s *models.Sector) error {
		if in.Name != nil {
			name := strings.TrimSpace(*in.Name)
			if name == "" {
				return apperrors.Validation("sector name must not be empty")
			}
			s.Name = name
		}
		if in.RiskScore != nil {
			s.RiskScore = *in.RiskScore
		}
		if in.TrendFactor != nil {
			s.TrendFactor = *in.TrendFactor
		}
		if in.Volatility != nil {
			s.Volatility = *in.Volatility
		}
		if mode != "" {
			s.Mode = mode
		}
		if in.AllowedSymbols != nil {
			s.AllowedSymbols = normalizeSymbols(s.Symbol, in.AllowedSymbols)
		}
		out = *s
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.events.Publish(ctx, newEvent(EventSectorUpdated, sectorID, out))
	return &out, nil
}

// DeleteSector tears a sector down after a case-insensitive name
// confirmation: ticker stopped, open discussion force-closed, agents
// removed, and the sector's total value returned to the user account.
// Execution logs stay in the ring for audit.
func (o *Orchestrator) DeleteSector(ctx context.Context, sectorID, confirmName string) (decimal.Decimal, error) {
	sectorID = storage.NormalizeID(sectorID)
	sector, err := o.repos.Sectors.Get(ctx, sectorID)
	if err != nil {
		return decimal.Zero, err
	}
	if !storage.FoldEqual(sector.Name, strings.TrimSpace(confirmName)) {
		return decimal.Zero, apperrors.Validation("confirmation %q does not match sector name %q",
			confirmName, sector.Name)
	}

	o.StopSector(sectorID)

	if open, err := o.repos.Discussions.OpenForSector(ctx, sectorID); err == nil && open != nil {
		unlock := o.locks.Lock(open.ID)
		if err := o.machine.ForceClose(ctx, open.ID, CloseReasonSectorDeleted); err != nil {
			o.logger.WithError(err).Warn("force close on delete failed",
				zap.String("discussion_id", open.ID))
		}
		unlock()
	}

	if err := o.repos.Agents.Update(ctx, func(agents []models.Agent) ([]models.Agent, error) {
		kept := agents[:0]
		for _, a := range agents {
			if storage.NormalizeID(a.SectorID) != sectorID {
				kept = append(kept, a)
			}
		}
		return kept, nil
	}); err != nil {
		return decimal.Zero, err
	}

	refund := decimal.Zero
	err = o.repos.Sectors.Update(ctx, func(sectors []models.Sector) ([]models.Sector, error) {
		refund = decimal.Zero
		found := false
		kept := sectors[:0]
		for _, s := range sectors {
			if storage.NormalizeID(s.ID) == sectorID {
				found = true
				refund = s.TotalValue()
				continue
			}
			kept = append(kept, s)
		}
		if !found {
			return nil, apperrors.NotFound("sector", sectorID)
		}
		return kept, nil
	})
	if err != nil {
		return decimal.Zero, err
	}

	o.creditAccount(ctx, refund)
	o.events.Publish(ctx, newEvent(EventSectorDeleted, sectorID, map[string]string{
		"id":       sectorID,
		"refunded": refund.String(),
	}))
	o.logger.Info("sector deleted",
		zap.String("sector_id", sectorID),
		zap.String("refunded", refund.String()))
	return refund, nil
}

// AgentInput carries a user-supplied agent definition. Personality and
// morale default by role when omitted.
type AgentInput struct {
	Name        string              `json:"name"`
	Role        string              `json:"role"`
	Personality *models.Personality `json:"personality,omitempty"`
	Morale      int                 `json:"morale,omitempty"`
}

func (o *Orchestrator) AddAgent(ctx context.Context, sectorID string, in AgentInput) (*models.Agent, error) {
	sectorID = storage.NormalizeID(sectorID)
	if _, err := o.repos.Sectors.Get(ctx, sectorID); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperrors.Validation("agent name is required")
	}
	role, ok := models.ParseRole(strings.ToLower(strings.TrimSpace(in.Role)))
	if !ok {
		return nil, apperrors.Validation("unknown role %q", in.Role)
	}
	if role.IsManager() {
		return nil, apperrors.Invariant("managers are created with the sector")
	}
	personality := models.DefaultPersonality(role)
	if in.Personality != nil {
		p := *in.Personality
		if p.RiskTolerance < 0 || p.RiskTolerance > 1 {
			return nil, apperrors.Validation("risk tolerance %v outside [0,1]", p.RiskTolerance)
		}
		if p.DecisionStyle == "" {
			p.DecisionStyle = personality.DecisionStyle
		}
		if !p.DecisionStyle.Valid() {
			return nil, apperrors.Validation("unknown decision style %q", p.DecisionStyle)
		}
		personality = p
	}
	morale := in.Morale
	if morale == 0 {
		morale = defaultMorale
	}
	if morale < 0 || morale > 100 {
		return nil, apperrors.Validation("morale %d outside [0,100]", in.Morale)
	}

	now := o.nowFn()
	agent := models.Agent{
		ID:          uuid.NewString(),
		SectorID:    sectorID,
		Name:        name,
		Role:        role,
		Personality: personality,
		Confidence:  role.BaseConfidence(),
		Morale:      morale,
		Status:      models.AgentIdle,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := o.repos.Agents.Update(ctx, func(agents []models.Agent) ([]models.Agent, error) {
		if len(agents) >= o.cfg.Engine.MaxTotalAgents {
			return nil, apperrors.Invariant("agent limit %d reached", o.cfg.Engine.MaxTotalAgents)
		}
		inSector := 0
		for i := range agents {
			if storage.NormalizeID(agents[i].SectorID) == sectorID {
				inSector++
			}
		}
		if inSector >= o.cfg.Engine.MaxAgentsPerSector {
			return nil, apperrors.Invariant("sector %s agent limit %d reached",
				sectorID, o.cfg.Engine.MaxAgentsPerSector)
		}
		return append(agents, agent), nil
	})
	if err != nil {
		return nil, err
	}
	o.events.Publish(ctx, newEvent(EventAgentUpdated, sectorID, agent))
	o.logger.Info("agent added",
		zap.String("sector_id", sectorID),
		zap.String("agent_id", agent.ID),
		zap.String("role", string(role)))
	return &agent, nil
}

// RemoveAgent deletes a non-manager agent. Removal is refused while a
// discussion is in progress so participant lists stay stable.
func (o *Orchestrator) RemoveAgent(ctx context.Context, sectorID, agentID string) error {
	sectorID = storage.NormalizeID(sectorID)
	agentID = storage.NormalizeID(agentID)

	open, err := o.repos.Discussions.OpenForSector(ctx, sectorID)
	if err != nil {
		return err
	}
	if open != nil {
		return apperrors.Invariant("sector %s has discussion %s in progress", sectorID, open.ID)
	}
	return o.repos.Agents.Update(ctx, func(agents []models.Agent) ([]models.Agent, error) {
		for i := range agents {
			if storage.NormalizeID(agents[i].ID) != agentID {
				continue
			}
			if storage.NormalizeID(agents[i].SectorID) != sectorID {
				return nil, apperrors.NotFound("agent", agentID)
			}
			if agents[i].Role.IsManager() {
				return nil, apperrors.Invariant("manager lifecycle is bound to the sector")
			}
			return append(agents[:i], agents[i+1:]...), nil
		}
		return nil, apperrors.NotFound("agent", agentID)
	})
}

// Deposit moves amount from the user account into the sector balance.
// In simulation mode the current price is credited by the same amount
// when the deposit_adjusts_price toggle is on.
func (o *Orchestrator) Deposit(ctx context.Context, sectorID string, amount decimal.Decimal) (*models.Sector, error) {
	sectorID = storage.NormalizeID(sectorID)
	if !amount.IsPositive() {
		return nil, apperrors.Validation("deposit amount must be positive, got %s", amount)
	}
	if err := o.debitAccount(ctx, amount); err != nil {
		return nil, err
	}

	var out models.Sector
	err := o.repos.Sectors.UpdateOne(ctx, sectorID, func(s *models.Sector) error {
		s.Balance = s.Balance.Add(amount)
		if o.cfg.Engine.DepositAdjustsPrice && s.Mode == models.ModeSimulation {
			amt, _ := amount.Float64()
			s.CurrentPrice += amt
			s.Change = s.CurrentPrice - s.InitialPrice
			if s.InitialPrice > 0 {
				s.ChangePercent = s.Change / s.InitialPrice * 100
			}
			s.LastPriceUpdate = o.nowFn()
		}
		out = *s
		return nil
	})
	if err != nil {
		o.creditAccount(ctx, amount)
		return nil, err
	}
	o.events.Publish(ctx, newEvent(EventSectorUpdated, sectorID, out))
	o.logger.Info("deposit applied",
		zap.String("sector_id", sectorID),
		zap.String("amount", amount.String()))
	return &out, nil
}

// Withdraw moves amount (or the whole balance when all is set) from the
// sector back to the user account. The price never moves on withdrawal.
func (o *Orchestrator) Withdraw(ctx context.Context, sectorID string, amount decimal.Decimal, all bool) (decimal.Decimal, *models.Sector, error) {
	sectorID = storage.NormalizeID(sectorID)
	if !all && !amount.IsPositive() {
		return decimal.Zero, nil, apperrors.Validation("withdraw amount must be positive, got %s", amount)
	}

	withdrawn := decimal.Zero
	var out models.Sector
	err := o.repos.Sectors.UpdateOne(ctx, sectorID, func(s *models.Sector) error {
		w := amount
		if all {
			w = s.Balance
		}
		if w.GreaterThan(s.Balance) {
			return apperrors.Invariant("%s: withdraw %s exceeds balance %s",
				models.ReasonInsufficientBalance, w, s.Balance)
		}
		s.Balance = s.Balance.Sub(w)
		withdrawn = w
		out = *s
		return nil
	})
	if err != nil {
		return decimal.Zero, nil, err
	}

	o.creditAccount(ctx, withdrawn)
	o.events.Publish(ctx, newEvent(EventSectorUpdated, sectorID, out))
	o.logger.Info("withdrawal applied",
		zap.String("sector_id", sectorID),
		zap.String("amount", withdrawn.String()))
	return withdrawn, &out, nil
}

// MessageManager appends a note to the sector manager's bounded memory,
// sealing it when a cipher is configured.
func (o *Orchestrator) MessageManager(ctx context.Context, sectorID, message string) (*models.MemoryEntry, error) {
	sectorID = storage.NormalizeID(sectorID)
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, apperrors.Validation("message must not be empty")
	}

	entry := models.MemoryEntry{Content: message, Timestamp: o.nowFn()}
	if o.sealer != nil {
		sealed, err := o.sealer.Seal(message)
		if err != nil {
			return nil, apperrors.Internal("seal manager memory", err)
		}
		entry.Content = sealed
		entry.Encrypted = true
	}

	limit := o.cfg.Engine.ManagerMemoryLimit
	err := o.repos.Sectors.UpdateOne(ctx, sectorID, func(s *models.Sector) error {
		s.ManagerMemory = append(s.ManagerMemory, entry)
		if limit > 0 && len(s.ManagerMemory) > limit {
			s.ManagerMemory = s.ManagerMemory[len(s.ManagerMemory)-limit:]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (o *Orchestrator) debitAccount(ctx context.Context, amount decimal.Decimal) error {
	return o.repos.Account.Update(ctx, func(a *models.Account) error {
		if a.Balance.LessThan(amount) {
			return apperrors.Invariant("%s: account balance %s cannot fund %s",
				models.ReasonInsufficientBalance, a.Balance, amount)
		}
		a.Balance = a.Balance.Sub(amount)
		return nil
	})
}

func (o *Orchestrator) creditAccount(ctx context.Context, amount decimal.Decimal) {
	if !amount.IsPositive() {
		return
	}
	if err := o.repos.Account.Update(ctx, func(a *models.Account) error {
		a.Balance = a.Balance.Add(amount)
		return nil
	}); err != nil {
		o.logger.WithError(err).Error("account credit failed",
			zap.String("amount", amount.String()))
	}
}

func (o *Orchestrator) dropSector(ctx context.Context, sectorID string) {
	if err := o.repos.Sectors.Update(ctx, func(sectors []models.Sector) ([]models.Sector, error) {
		kept := sectors[:0]
		for _, s := range sectors {
			if storage.NormalizeID(s.ID) != sectorID {
				kept = append(kept, s)
			}
		}
		return kept, nil
	}); err != nil {
		o.logger.WithError(err).Error("sector rollback failed",
			zap.String("sector_id", sectorID))
	}
}

func normalizeSymbols(primary string, extra []string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, len(extra)+1)
	for _, sym := range append([]string{primary}, extra...) {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}
	return out
}
