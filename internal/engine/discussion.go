package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ayushsreejith06/MAX-sub002/internal/apperrors"
	"github.com/ayushsreejith06/MAX-sub002/internal/config"
	"github.com/ayushsreejith06/MAX-sub002/internal/logging"
	"github.com/ayushsreejith06/MAX-sub002/internal/models"
	"github.com/ayushsreejith06/MAX-sub002/internal/storage"
)

// Close reasons the state machine writes. Watchdog reasons live in
// watchdog.go and share the force-close prefix.
const (
	CloseReasonNoItems       = "no_items_synthesized"
	CloseReasonRoundFailure  = "round_failure"
	CloseReasonDuplicate     = "duplicate_active"
	CloseReasonSectorDeleted = "sector_deleted"
	ReasonSuperseded         = "superseded_by_revision"
	ReasonNotExecutedAtClose = "not_executed_before_close"
	ReasonForceResolved      = "force_resolved"
)

// StateMachine drives discussion lifecycle: opening under the serial
// invariant, bounded round progression, checklist synthesis, manager
// scoring with the revision loop, and terminal close. All persistence
// goes through the discussions collection; per-sector serialization is
// the caller's job.
type StateMachine struct {
	repos   *storage.Repos
	oracle  ProposalOracle
	synth   *Synthesizer
	scorer  *Scorer
	logger  *logging.StandardLogger
	metrics *Metrics
	events  EventSink
	cfg     config.EngineConfig
	now     func() time.Time
}

func NewStateMachine(repos *storage.Repos, oracle ProposalOracle, scorer *Scorer,
	logger *logging.StandardLogger, metrics *Metrics, events EventSink, cfg config.EngineConfig) *StateMachine {

	if events == nil {
		events = NopSink{}
	}
	return &StateMachine{
		repos:   repos,
		oracle:  oracle,
		synth:   NewSynthesizer(),
		scorer:  scorer,
		logger:  logger.WithComponent("discussion"),
		metrics: metrics,
		events:  events,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Start opens a discussion for the sector. The no-duplicate check runs
// inside the same atomic collection write that creates the record, so
// concurrent starts cannot both succeed. Every failed precondition is
// reported as the specific invariant that broke.
func (sm *StateMachine) Start(ctx context.Context, sector *models.Sector, agents []models.Agent) (*models.Discussion, error) {
	if !sector.Balance.IsPositive() {
		return nil, apperrors.Invariant("sector %s balance must be positive to deliberate", sector.ID)
	}
	if len(sector.AllowedSymbols) == 0 {
		return nil, apperrors.Invariant("sector %s has no allowed symbols", sector.ID)
	}

	var managerID string
	var participants []string
	for _, a := range agents {
		if a.Role.IsManager() {
			managerID = a.ID
			continue
		}
		if a.Confidence < sm.cfg.ConfidenceGate {
			return nil, apperrors.Invariant("agent %s confidence %.2f below gate %.0f",
				a.ID, a.Confidence, sm.cfg.ConfidenceGate)
		}
		participants = append(participants, a.ID)
	}
	if managerID == "" {
		return nil, apperrors.Invariant("sector %s has no manager", sector.ID)
	}
	if len(participants) == 0 {
		return nil, apperrors.Invariant("sector %s has no non-manager participants", sector.ID)
	}

	maxRounds := sm.cfg.MaxRounds
	if len(participants) == 1 {
		maxRounds = 1
	}

	now := sm.now()
	d := models.Discussion{
		ID:                  uuid.NewString(),
		SectorID:            sector.ID,
		Status:              models.DiscussionInProgress,
		Phase:               models.PhaseDeliberation,
		CurrentRound:        1,
		MaxRounds:           maxRounds,
		ManagerID:           managerID,
		Participants:        participants,
		CreatedAt:           now,
		UpdatedAt:           now,
		LastChecklistItemAt: now,
	}

	err := sm.repos.Discussions.Update(ctx, func(discussions []models.Discussion) ([]models.Discussion, error) {
		for i := range discussions {
			if storage.NormalizeID(discussions[i].SectorID) == sector.ID && discussions[i].Open() {
				return nil, apperrors.Invariant("%s: sector %s already has discussion %s in progress",
					CloseReasonDuplicate, sector.ID, discussions[i].ID)
			}
		}
		return append(discussions, d), nil
	})
	if err != nil {
		return nil, err
	}

	// Ownership back-reference; a failure here leaves a reachable but
	// unlinked discussion, which the list endpoints still surface.
	if err := sm.repos.Sectors.UpdateOne(ctx, sector.ID, func(s *models.Sector) error {
		s.DiscussionIDs = append(s.DiscussionIDs, d.ID)
		return nil
	}); err != nil {
		sm.logger.WithError(err).Warn("link discussion to sector",
			zap.String("discussion_id", d.ID), zap.String("sector_id", sector.ID))
	}

	sm.metrics.IncDiscussionOpened()
	sm.events.Publish(ctx, newEvent(EventDiscussionOpened, sector.ID, d))
	sm.logger.Info("discussion opened",
		zap.String("discussion_id", d.ID),
		zap.String("sector_id", sector.ID),
		zap.Int("participants", len(participants)),
		zap.Int("max_rounds", maxRounds))
	return &d, nil
}

// Step advances an open discussion by one bounded unit of work: one
// deliberation round, or one scoring-and-revision pass. The updated
// discussion is persisted and returned.
func (sm *StateMachine) Step(ctx context.Context, d *models.Discussion, sector *models.Sector, agents []models.Agent) (*models.Discussion, error) {
	if !d.Open() {
		return d, nil
	}

	work := *d
	work.Checklist = append([]models.ChecklistItem(nil), d.Checklist...)
	work.Messages = append([]models.Message(nil), d.Messages...)
	work.ManagerDecisions = append([]models.ManagerDecision(nil), d.ManagerDecisions...)
	work.RoundHistory = append([]models.RoundSnapshot(nil), d.RoundHistory...)

	var err error
	switch work.Phase {
	case models.PhaseDeliberation:
		err = sm.stepRound(ctx, &work, sector, agents)
	case models.PhaseScoring:
		sm.scorePass(&work, sector)
	case models.PhaseExecution:
		// Drained by the execution engine; nothing to do here.
		return d, nil
	default:
		return d, apperrors.Internal(fmt.Sprintf("discussion %s in unknown phase %q", d.ID, work.Phase), nil)
	}
	if err != nil {
		return d, err
	}

	if err := sm.persist(ctx, &work); err != nil {
		return d, err
	}
	if !work.Open() {
		sm.announceDecided(ctx, &work)
	}
	return &work, nil
}

// stepRound runs one deliberation round. Per-agent oracle failures skip
// the agent; a round where every call fails, or where the context is
// cancelled, closes the discussion as a round failure.
func (sm *StateMachine) stepRound(ctx context.Context, d *models.Discussion, sector *models.Sector, agents []models.Agent) error {
	byID := make(map[string]*models.Agent, len(agents))
	for i := range agents {
		byID[agents[i].ID] = &agents[i]
	}

	now := sm.now()
	succeeded := 0
	for _, participantID := range d.Participants {
		agent, ok := byID[participantID]
		if !ok {
			continue
		}
		if ctx.Err() != nil {
			sm.close(d, CloseReasonRoundFailure)
			return nil
		}

		turn, err := sm.oracle.Propose(ctx, agent, sector, d.MessagesInRound(d.CurrentRound), nil)
		if err != nil {
			sm.metrics.IncOracleFailure()
			sm.logger.WithError(err).Warn("oracle turn failed",
				zap.String("discussion_id", d.ID), zap.String("agent_id", agent.ID))
			continue
		}
		succeeded++

		proposal := turn.Proposal
		if agent.Confidence < sm.cfg.ConfidenceGate {
			// Below-gate agents observe regardless of oracle output.
			proposal = nil
		}
		d.Messages = append(d.Messages, models.Message{
			ID:         uuid.NewString(),
			AgentID:    agent.ID,
			Role:       agent.Role,
			Round:      d.CurrentRound,
			Reasoning:  turn.Reasoning,
			Proposal:   proposal,
			Confidence: turn.Confidence,
			Timestamp:  now,
		})
	}

	if succeeded == 0 {
		sm.close(d, CloseReasonRoundFailure)
		return nil
	}
	d.Touch(now)

	if d.CurrentRound >= d.MaxRounds {
		items := sm.synth.Synthesize(d, sector, d.CurrentRound)
		if len(items) == 0 {
			sm.close(d, CloseReasonNoItems)
			return nil
		}
		d.Checklist = append(d.Checklist, items...)
		d.Synthesized = true
		d.Phase = models.PhaseScoring
		d.LastChecklistItemAt = now
		sm.metrics.AddItemsSynthesized(len(items))
		sm.logger.Info("checklist synthesized",
			zap.String("discussion_id", d.ID), zap.Int("items", len(items)))
		// Scoring follows synthesis immediately; only resubmissions
		// spill into the next step.
		sm.scorePass(d, sector)
		return nil
	}

	sm.advanceRound(d)
	return nil
}

// advanceRound snapshots the round and moves to the next one. Only
// items still in the revision loop carry forward; resubmitted ones
// return to PENDING for re-scoring.
func (sm *StateMachine) advanceRound(d *models.Discussion) {
	now := sm.now()
	d.RoundHistory = append(d.RoundHistory, snapshot(d, now))
	d.CurrentRound++

	var carried []models.ChecklistItem
	for _, item := range d.Checklist {
		switch item.Status {
		case models.ItemResubmitted:
			item.Status = models.ItemPending
			carried = append(carried, item)
		case models.ItemReviseRequired:
			carried = append(carried, item)
		}
	}
	d.Checklist = carried
	d.UpdatedAt = now
}

// scorePass runs the manager over every unscored item, then lets workers
// respond to revision requests. Approved items await the execution
// drain; the discussion closes here only when nothing approved remains.
func (sm *StateMachine) scorePass(d *models.Discussion, sector *models.Sector) {
	now := sm.now()

	for i := range d.Checklist {
		item := &d.Checklist[i]
		if item.Status != models.ItemPending && item.Status != models.ItemResubmitted {
			continue
		}
		decision, record := sm.scorer.Evaluate(item, sector)

		// A worker out of revisions accepts a soft rejection outright.
		if decision == models.ItemRejected &&
			item.RevisionCount >= sm.cfg.MaxRevisions &&
			!models.HardRejectionReason(record.Reason) {
			decision = models.ItemAcceptRejection
		}

		item.Status = decision
		item.EvaluatedAt = now
		item.UpdatedAt = now
		switch decision {
		case models.ItemApproved:
			item.RejectionReason = nil
			sm.metrics.IncItemApproved()
		case models.ItemReviseRequired:
			rec := record
			item.RejectionReason = &rec
			item.Reason = record.Reason
		default:
			rec := record
			item.RejectionReason = &rec
			item.Reason = record.Reason
			sm.metrics.IncItemRejected()
		}

		d.ManagerDecisions = append(d.ManagerDecisions, models.ManagerDecision{
			ItemID:    item.ID,
			Decision:  decision,
			Score:     record.Score,
			Breakdown: record.Breakdown,
			Reason:    record.Reason,
			Timestamp: now,
		})
	}

	sm.respondPass(d)

	d.RoundHistory = append(d.RoundHistory, snapshot(d, sm.now()))
	d.Touch(sm.now())

	if len(d.ItemsInStatus(models.ItemPending, models.ItemResubmitted, models.ItemReviseRequired)) > 0 {
		return
	}
	if len(d.ItemsInStatus(models.ItemApproved)) > 0 {
		d.Phase = models.PhaseExecution
		return
	}
	sm.close(d, "")
}

// respondPass is the worker side of the revision contract: revision
// requests either spawn a successor item or are accepted as final.
func (sm *StateMachine) respondPass(d *models.Discussion) {
	now := sm.now()
	for i := range d.Checklist {
		item := &d.Checklist[i]
		if item.Status != models.ItemReviseRequired {
			continue
		}

		reason := item.Reason
		switch {
		case item.RevisionCount >= sm.cfg.MaxRevisions:
			item.Status = models.ItemAcceptRejection
			item.UpdatedAt = now
		case models.HardRejectionReason(reason):
			item.Status = models.ItemAcceptRejection
			item.UpdatedAt = now
		default:
			successor := sm.reviseItem(item, now)
			item.Status = models.ItemRejected
			item.Reason = ReasonSuperseded
			item.UpdatedAt = now
			d.Checklist = append(d.Checklist, successor)
			sm.metrics.IncItemRevised()
		}
	}
	d.LastChecklistItemAt = now
}

// reviseItem builds the successor item for a revision request. The old
// item is never mutated beyond its status; risk-driven rejections halve
// the position and shave 10% off the confidence.
func (sm *StateMachine) reviseItem(old *models.ChecklistItem, now time.Time) models.ChecklistItem {
	successor := *old
	successor.ID = uuid.NewString()
	successor.Status = models.ItemResubmitted
	successor.RevisionCount = old.RevisionCount + 1
	successor.PreviousVersions = append(append([]string(nil), old.PreviousVersions...), old.ID)
	successor.RejectionReason = nil
	successor.Reason = ""
	successor.EvaluatedAt = time.Time{}
	successor.CreatedAt = now
	successor.UpdatedAt = now

	if old.Reason == ReasonRiskTooHigh {
		successor.Amount = old.Amount.Div(decimal.NewFromInt(2)).Round(2)
		successor.AllocationPercent = old.AllocationPercent / 2
		successor.Confidence = old.Confidence * 0.9
	}

	improvement := "revised after manager feedback"
	if old.RejectionReason != nil && len(old.RejectionReason.RequiredImprovements) > 0 {
		improvement = old.RejectionReason.RequiredImprovements[0]
	}
	successor.Reasoning = fmt.Sprintf("%s [revision %d: %s]", old.Reasoning, successor.RevisionCount, improvement)
	return successor
}

// MarkExecuted transitions one approved item to EXECUTED, records that
// rewards were applied, and closes the discussion once every item is
// terminal. Returns the refreshed record.
func (sm *StateMachine) MarkExecuted(ctx context.Context, discussionID, itemID string) (*models.Discussion, error) {
	return sm.resolveItem(ctx, discussionID, itemID, models.ItemExecuted, "", true)
}

// MarkExecutionFailed rejects an approved item that failed re-validation
// at execution time, and closes the discussion if that was the last open
// item.
func (sm *StateMachine) MarkExecutionFailed(ctx context.Context, discussionID, itemID, reason string) (*models.Discussion, error) {
	return sm.resolveItem(ctx, discussionID, itemID, models.ItemRejected, reason, false)
}

func (sm *StateMachine) resolveItem(ctx context.Context, discussionID, itemID string, status models.ItemStatus, reason string, rewards bool) (*models.Discussion, error) {
	var out models.Discussion
	err := sm.repos.Discussions.UpdateOne(ctx, discussionID, func(d *models.Discussion) error {
		item := d.ItemByID(itemID)
		if item == nil {
			return apperrors.NotFound("checklist item", itemID)
		}
		now := sm.now()
		item.Status = status
		item.Reason = reason
		item.UpdatedAt = now
		if rewards {
			d.RewardsApplied = true
		}
		d.Touch(now)
		if d.Synthesized && d.AllItemsTerminal() {
			sm.close(d, "")
		}
		out = *d
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !out.Open() {
		sm.announceDecided(ctx, &out)
	}
	return &out, nil
}

// TimeoutItems rejects checklist items that sat too long in PENDING or
// REVISE_REQUIRED, closing the discussion if that resolved the last open
// item. Returns how many items timed out.
func (sm *StateMachine) TimeoutItems(ctx context.Context, discussionID string, pendingCutoff, reviseCutoff time.Time) (int, error) {
	timedOut := 0
	var out models.Discussion
	err := sm.repos.Discussions.UpdateOne(ctx, discussionID, func(d *models.Discussion) error {
		timedOut = 0
		out = *d
		if !d.Open() {
			return nil
		}
		now := sm.now()
		for i := range d.Checklist {
			item := &d.Checklist[i]
			switch item.Status {
			case models.ItemPending:
				if item.CreatedAt.Before(pendingCutoff) {
					item.Status = models.ItemRejected
					item.Reason = WatchdogReasonPending
					item.UpdatedAt = now
					timedOut++
				}
			case models.ItemReviseRequired:
				ref := item.EvaluatedAt
				if ref.IsZero() {
					ref = item.CreatedAt
				}
				if ref.Before(reviseCutoff) {
					item.Status = models.ItemRejected
					item.Reason = WatchdogReasonRevise
					item.UpdatedAt = now
					timedOut++
				}
			}
		}
		if timedOut > 0 {
			d.Touch(now)
			if d.Synthesized && d.AllItemsTerminal() {
				sm.close(d, "")
			}
		}
		out = *d
		return nil
	})
	if err != nil {
		return 0, err
	}
	if timedOut > 0 {
		sm.announceDecided(ctx, &out)
	}
	return timedOut, nil
}

// ForceClose terminally resolves every open item and decides the
// discussion with the given reason. Used by the watchdog and the sector
// delete cascade.
func (sm *StateMachine) ForceClose(ctx context.Context, discussionID, reason string) error {
	var out models.Discussion
	err := sm.repos.Discussions.UpdateOne(ctx, discussionID, func(d *models.Discussion) error {
		if !d.Open() {
			out = *d
			return nil
		}
		resolveOpenItems(d, sm.now())
		sm.close(d, reason)
		out = *d
		return nil
	})
	if err != nil {
		return err
	}
	sm.announceDecided(ctx, &out)
	return nil
}

// resolveOpenItems force-rejects everything not yet terminal, including
// approved items that never reached execution.
func resolveOpenItems(d *models.Discussion, now time.Time) {
	for i := range d.Checklist {
		item := &d.Checklist[i]
		if item.Status.Terminal() {
			continue
		}
		reason := ReasonForceResolved
		if item.Status == models.ItemApproved {
			reason = ReasonNotExecutedAtClose
		}
		item.Status = models.ItemRejected
		item.Reason = reason
		item.UpdatedAt = now
	}
}

// close decides the discussion in place. Once decided the record is
// immutable; callers must persist it.
func (sm *StateMachine) close(d *models.Discussion, reason string) {
	if !d.Open() {
		return
	}
	now := sm.now()
	d.Status = models.DiscussionDecided
	d.CloseReason = reason
	d.DecidedAt = now
	d.UpdatedAt = now
	sm.metrics.IncDiscussionDecided()
}

func (sm *StateMachine) persist(ctx context.Context, d *models.Discussion) error {
	return sm.repos.Discussions.UpdateOne(ctx, d.ID, func(cur *models.Discussion) error {
		if !cur.Open() && d.Open() {
			// Closed underneath us; a decided discussion never reopens.
			*d = *cur
			return nil
		}
		*cur = *d
		return nil
	})
}

func (sm *StateMachine) announceDecided(ctx context.Context, d *models.Discussion) {
	if d.Open() {
		return
	}
	sm.events.Publish(ctx, newEvent(EventDiscussionDecided, d.SectorID, d))
	sm.logger.Info("discussion decided",
		zap.String("discussion_id", d.ID),
		zap.String("sector_id", d.SectorID),
		zap.String("close_reason", d.CloseReason),
		zap.Int("checklist", len(d.Checklist)))
}

func snapshot(d *models.Discussion, now time.Time) models.RoundSnapshot {
	return models.RoundSnapshot{
		Round:            d.CurrentRound,
		Checklist:        append([]models.ChecklistItem(nil), d.Checklist...),
		Messages:         append([]models.Message(nil), d.Messages...),
		ManagerDecisions: append([]models.ManagerDecision(nil), d.ManagerDecisions...),
		Timestamp:        now,
	}
}
