package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type DiscussionStatus string

const (
	DiscussionInProgress DiscussionStatus = "IN_PROGRESS"
	DiscussionDecided    DiscussionStatus = "DECIDED"
)

type ItemStatus string

const (
	ItemPending         ItemStatus = "PENDING"
	ItemApproved        ItemStatus = "APPROVED"
	ItemReviseRequired  ItemStatus = "REVISE_REQUIRED"
	ItemResubmitted     ItemStatus = "RESUBMITTED"
	ItemRejected        ItemStatus = "REJECTED"
	ItemAcceptRejection ItemStatus = "ACCEPT_REJECTION"
	ItemExecuted        ItemStatus = "EXECUTED"
)

// Terminal reports whether the status ends an item's lifecycle. APPROVED
// is not terminal: it awaits execution.
func (s ItemStatus) Terminal() bool {
	switch s {
	case ItemRejected, ItemAcceptRejection, ItemExecuted:
		return true
	}
	return false
}

// Rejection reasons that end a revision chain immediately.
const (
	ReasonInsufficientBalance = "insufficient_balance"
	ReasonRiskLimitBreached   = "risk_limit_breached"
	ReasonPolicyViolation     = "policy_violation"
	ReasonSymbolNotAllowed    = "symbol_not_allowed"
)

// HardRejectionReason reports whether reason forbids resubmission.
func HardRejectionReason(reason string) bool {
	switch reason {
	case ReasonInsufficientBalance, ReasonRiskLimitBreached,
		ReasonPolicyViolation, ReasonSymbolNotAllowed:
		return true
	}
	return false
}

// ConsensusSource marks a checklist item consolidated from several
// agents' proposals rather than authored by one.
const ConsensusSource = "consensus"

// Proposal is the structured part of an agent message. The engine only
// interprets these fields; free-form reasoning lives on the Message.
type Proposal struct {
	Action     Action          `json:"action"`
	Symbol     string          `json:"symbol"`
	Amount     decimal.Decimal `json:"amount"`
	Confidence float64         `json:"confidence"`
}

// Message is one agent utterance within a discussion round. Confidence is
// the oracle's self-assessment in [0, 1]. Messages are immutable after
// insertion; observation messages carry no proposal.
type Message struct {
	ID         string    `json:"id"`
	AgentID    string    `json:"agentId"`
	Role       AgentRole `json:"role"`
	Round      int       `json:"round"`
	Reasoning  string    `json:"reasoning"`
	Proposal   *Proposal `json:"proposal,omitempty"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"createdAt"`
}

// Observation reports whether the message is commentary only and must not
// seed a checklist item.
func (m *Message) Observation() bool { return m.Proposal == nil }

// ScoreBreakdown is the weighted rubric the manager applies to an item.
type ScoreBreakdown struct {
	WorkerConfidence float64 `json:"workerConfidence"`
	ExpectedImpact   float64 `json:"expectedImpact"`
	RiskLevel        float64 `json:"riskLevel"`
	Alignment        float64 `json:"alignmentWithSectorGoal"`
}

// ScoreRecord is one scoring pass over an item, kept verbatim so a
// revising agent can see what to fix.
type ScoreRecord struct {
	Score                float64        `json:"score"`
	ApprovalThreshold    float64        `json:"approvalThreshold"`
	Breakdown            ScoreBreakdown `json:"breakdown"`
	Reason               string         `json:"reason,omitempty"`
	RequiredImprovements []string       `json:"requiredImprovements,omitempty"`
	Timestamp            time.Time      `json:"timestamp"`
}

// ChecklistItem is a synthesized, scoreable unit of proposed work. Items
// are immutable across revisions: a revising agent creates a new item
// linked oldest-first via PreviousVersions. AgentID is ConsensusSource for
// consolidated items.
type ChecklistItem struct {
	ID                string          `json:"id"`
	AgentID           string          `json:"sourceAgentId"`
	Round             int             `json:"round"`
	Action            Action          `json:"actionType"`
	Symbol            string          `json:"symbol"`
	Amount            decimal.Decimal `json:"amount"`
	AllocationPercent float64         `json:"allocationPercent"`
	Confidence        float64         `json:"confidence"`
	Reasoning         string          `json:"reasoning"`
	Status            ItemStatus      `json:"status"`
	Reason            string          `json:"reason,omitempty"`
	RevisionCount     int             `json:"revisionCount"`
	PreviousVersions  []string        `json:"previousVersions,omitempty"`
	RejectionReason   *ScoreRecord    `json:"rejectionReason,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
	EvaluatedAt       time.Time       `json:"evaluatedAt"`
}

// ManagerDecision is an audit entry for every item status change the
// manager makes.
type ManagerDecision struct {
	ItemID    string         `json:"itemId"`
	Decision  ItemStatus     `json:"decision"`
	Score     float64        `json:"score"`
	Breakdown ScoreBreakdown `json:"breakdown"`
	Reason    string         `json:"reason,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// RoundSnapshot freezes discussion state when a round or scoring pass
// completes. RoundHistory is append-only.
type RoundSnapshot struct {
	Round            int               `json:"round"`
	Checklist        []ChecklistItem   `json:"checklist"`
	Messages         []Message         `json:"messages"`
	ManagerDecisions []ManagerDecision `json:"managerDecisions"`
	Timestamp        time.Time         `json:"timestamp"`
}

// DiscussionPhase tracks where an open discussion is in its lifecycle.
// It is an internal progression marker; Status stays IN_PROGRESS until
// the close conditions hold.
type DiscussionPhase string

const (
	PhaseDeliberation DiscussionPhase = "deliberation"
	PhaseScoring      DiscussionPhase = "scoring"
	PhaseExecution    DiscussionPhase = "execution"
)

// Discussion is one bounded deliberation in a sector. Participants lists
// the non-manager agents; the manager only scores.
type Discussion struct {
	ID                  string            `json:"id"`
	SectorID            string            `json:"sectorId"`
	Status              DiscussionStatus  `json:"status"`
	Phase               DiscussionPhase   `json:"phase"`
	CurrentRound        int               `json:"currentRound"`
	MaxRounds           int               `json:"maxRounds"`
	ManagerID           string            `json:"managerId"`
	Participants        []string          `json:"agentIds"`
	Messages            []Message         `json:"messages"`
	Checklist           []ChecklistItem   `json:"checklist"`
	ManagerDecisions    []ManagerDecision `json:"managerDecisions"`
	RoundHistory        []RoundSnapshot   `json:"roundHistory,omitempty"`
	Synthesized         bool              `json:"synthesized"`
	RewardsApplied      bool              `json:"rewardsApplied"`
	CloseReason         string            `json:"closeReason,omitempty"`
	CreatedAt           time.Time         `json:"createdAt"`
	UpdatedAt           time.Time         `json:"updatedAt"`
	DecidedAt           time.Time         `json:"decidedAt"`
	LastChecklistItemAt time.Time         `json:"lastChecklistItemAt"`
}

// Open reports whether the discussion still accepts engine steps.
func (d *Discussion) Open() bool { return d.Status == DiscussionInProgress }

// AllItemsTerminal reports whether every checklist item reached a
// terminal status. True for an empty checklist.
func (d *Discussion) AllItemsTerminal() bool {
	for i := range d.Checklist {
		if !d.Checklist[i].Status.Terminal() {
			return false
		}
	}
	return true
}

// ItemByID returns a pointer into Checklist, or nil.
func (d *Discussion) ItemByID(id string) *ChecklistItem {
	for i := range d.Checklist {
		if d.Checklist[i].ID == id {
			return &d.Checklist[i]
		}
	}
	return nil
}

// ItemsInStatus returns pointers to every checklist item currently in
// one of the given statuses, in checklist order.
func (d *Discussion) ItemsInStatus(statuses ...ItemStatus) []*ChecklistItem {
	var out []*ChecklistItem
	for i := range d.Checklist {
		for _, s := range statuses {
			if d.Checklist[i].Status == s {
				out = append(out, &d.Checklist[i])
				break
			}
		}
	}
	return out
}

// MessagesInRound returns the messages recorded for the given round.
func (d *Discussion) MessagesInRound(round int) []Message {
	var out []Message
	for _, m := range d.Messages {
		if m.Round == round {
			out = append(out, m)
		}
	}
	return out
}

// Touch records forward progress for watchdog stall detection.
func (d *Discussion) Touch(now time.Time) {
	d.LastChecklistItemAt = now
	d.UpdatedAt = now
}
