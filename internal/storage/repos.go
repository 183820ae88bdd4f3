package storage

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ayushsreejith06/MAX-sub002/internal/apperrors"
	"github.com/ayushsreejith06/MAX-sub002/internal/models"
)

var (
	lowerCaser = cases.Lower(language.Und)
	foldCaser  = cases.Fold()
)

// NormalizeID lower-cases an identifier the way every read path does, so
// lookups stay insensitive to how callers spell IDs.
func NormalizeID(s string) string {
	return lowerCaser.String(strings.TrimSpace(s))
}

// FoldEqual compares two strings under Unicode case folding. Used for the
// delete-confirmation name match.
func FoldEqual(a, b string) bool {
	return foldCaser.String(a) == foldCaser.String(b)
}

// Repos bundles one typed repository per collection over a single Store.
type Repos struct {
	Store       Store
	Sectors     *SectorRepo
	Agents      *AgentRepo
	Discussions *DiscussionRepo
	Executions  *ExecutionLogRepo
	Account     *AccountRepo
	Rules       *RuleRepo
}

func NewRepos(store Store, executionRing int) *Repos {
	if executionRing < 1 {
		executionRing = 10000
	}
	return &Repos{
		Store:       store,
		Sectors:     &SectorRepo{store: store},
		Agents:      &AgentRepo{store: store},
		Discussions: &DiscussionRepo{store: store},
		Executions:  &ExecutionLogRepo{store: store, ring: executionRing},
		Account:     &AccountRepo{store: store},
		Rules:       &RuleRepo{store: store},
	}
}

func readSlice[T any](ctx context.Context, store Store, col Collection) ([]T, error) {
	raw, err := store.ReadCollection(ctx, col)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var out []T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, apperrors.Internal("decode collection "+string(col), err)
	}
	return out, nil
}

func updateSlice[T any](ctx context.Context, store Store, col Collection, fn func([]T) ([]T, error)) error {
	return UpdateWithRetry(ctx, store, col, func(current []byte) ([]byte, error) {
		var items []T
		if len(current) > 0 {
			if err := json.Unmarshal(current, &items); err != nil {
				return nil, apperrors.Internal("decode collection "+string(col), err)
			}
		}
		next, err := fn(items)
		if err != nil {
			return nil, err
		}
		if next == nil {
			next = []T{}
		}
		return json.Marshal(next)
	})
}

// SectorRepo reads and mutates the sectors collection.
type SectorRepo struct {
	store Store
}

func (r *SectorRepo) List(ctx context.Context) ([]models.Sector, error) {
	sectors, err := readSlice[models.Sector](ctx, r.store, CollectionSectors)
	if err != nil {
		return nil, err
	}
	for i := range sectors {
		sectors[i].ID = NormalizeID(sectors[i].ID)
	}
	return sectors, nil
}

func (r *SectorRepo) Get(ctx context.Context, id string) (*models.Sector, error) {
	sectors, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	id = NormalizeID(id)
	for i := range sectors {
		if sectors[i].ID == id {
			return &sectors[i], nil
		}
	}
	return nil, apperrors.NotFound("sector", id)
}

func (r *SectorRepo) Update(ctx context.Context, fn func([]models.Sector) ([]models.Sector, error)) error {
	return updateSlice(ctx, r.store, CollectionSectors, fn)
}

// UpdateOne mutates a single sector in place; NotFound when absent.
func (r *SectorRepo) UpdateOne(ctx context.Context, id string, fn func(*models.Sector) error) error {
	id = NormalizeID(id)
	return r.Update(ctx, func(sectors []models.Sector) ([]models.Sector, error) {
		for i := range sectors {
			if NormalizeID(sectors[i].ID) == id {
				if err := fn(&sectors[i]); err != nil {
					return nil, err
				}
				sectors[i].UpdatedAt = time.Now().UTC()
				return sectors, nil
			}
		}
		return nil, apperrors.NotFound("sector", id)
	})
}

// AgentRepo reads and mutates the agents collection. Agents for every
// sector live in one document; sector scoping happens on read.
type AgentRepo struct {
	store Store
}

func (r *AgentRepo) List(ctx context.Context) ([]models.Agent, error) {
	agents, err := readSlice[models.Agent](ctx, r.store, CollectionAgents)
	if err != nil {
		return nil, err
	}
	for i := range agents {
		agents[i].ID = NormalizeID(agents[i].ID)
		agents[i].SectorID = NormalizeID(agents[i].SectorID)
	}
	return agents, nil
}

func (r *AgentRepo) ListBySector(ctx context.Context, sectorID string) ([]models.Agent, error) {
	agents, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	sectorID = NormalizeID(sectorID)
	var out []models.Agent
	for _, a := range agents {
		if a.SectorID == sectorID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *AgentRepo) Get(ctx context.Context, id string) (*models.Agent, error) {
	agents, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	id = NormalizeID(id)
	for i := range agents {
		if agents[i].ID == id {
			return &agents[i], nil
		}
	}
	return nil, apperrors.NotFound("agent", id)
}

func (r *AgentRepo) Update(ctx context.Context, fn func([]models.Agent) ([]models.Agent, error)) error {
	return updateSlice(ctx, r.store, CollectionAgents, fn)
}

// DiscussionFilter narrows List results. Zero values match everything.
type DiscussionFilter struct {
	SectorID string
	Status   models.DiscussionStatus
}

// DiscussionRepo reads and mutates the discussions collection.
type DiscussionRepo struct {
	store Store
}

func (r *DiscussionRepo) List(ctx context.Context, filter DiscussionFilter) ([]models.Discussion, error) {
	discussions, err := readSlice[models.Discussion](ctx, r.store, CollectionDiscussions)
	if err != nil {
		return nil, err
	}
	sectorID := NormalizeID(filter.SectorID)
	var out []models.Discussion
	for _, d := range discussions {
		if sectorID != "" && NormalizeID(d.SectorID) != sectorID {
			continue
		}
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (r *DiscussionRepo) Get(ctx context.Context, id string) (*models.Discussion, error) {
	discussions, err := readSlice[models.Discussion](ctx, r.store, CollectionDiscussions)
	if err != nil {
		return nil, err
	}
	for i := range discussions {
		if discussions[i].ID == id {
			return &discussions[i], nil
		}
	}
	return nil, apperrors.NotFound("discussion", id)
}

// OpenForSector returns the sector's IN_PROGRESS discussion, or nil.
func (r *DiscussionRepo) OpenForSector(ctx context.Context, sectorID string) (*models.Discussion, error) {
	open, err := r.List(ctx, DiscussionFilter{SectorID: sectorID, Status: models.DiscussionInProgress})
	if err != nil {
		return nil, err
	}
	if len(open) == 0 {
		return nil, nil
	}
	return &open[0], nil
}

func (r *DiscussionRepo) Update(ctx context.Context, fn func([]models.Discussion) ([]models.Discussion, error)) error {
	return updateSlice(ctx, r.store, CollectionDiscussions, fn)
}

// UpdateOne mutates a single discussion in place; NotFound when absent.
func (r *DiscussionRepo) UpdateOne(ctx context.Context, id string, fn func(*models.Discussion) error) error {
	return r.Update(ctx, func(discussions []models.Discussion) ([]models.Discussion, error) {
		for i := range discussions {
			if discussions[i].ID == id {
				if err := fn(&discussions[i]); err != nil {
					return nil, err
				}
				return discussions, nil
			}
		}
		return nil, apperrors.NotFound("discussion", id)
	})
}

// ExecutionLogRepo appends to and reads the executionLogs ring.
type ExecutionLogRepo struct {
	store Store
	ring  int
}

// List returns newest-first logs, optionally scoped to a sector, capped
// at limit (0 means all retained).
func (r *ExecutionLogRepo) List(ctx context.Context, sectorID string, limit int) ([]models.ExecutionLog, error) {
	logs, err := readSlice[models.ExecutionLog](ctx, r.store, CollectionExecutionLogs)
	if err != nil {
		return nil, err
	}
	sectorID = NormalizeID(sectorID)
	var out []models.ExecutionLog
	for i := len(logs) - 1; i >= 0; i-- {
		if sectorID != "" && NormalizeID(logs[i].SectorID) != sectorID {
			continue
		}
		out = append(out, logs[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Append adds entries and evicts the oldest past the ring cap.
func (r *ExecutionLogRepo) Append(ctx context.Context, entries ...models.ExecutionLog) error {
	if len(entries) == 0 {
		return nil
	}
	return updateSlice(ctx, r.store, CollectionExecutionLogs, func(logs []models.ExecutionLog) ([]models.ExecutionLog, error) {
		logs = append(logs, entries...)
		if len(logs) > r.ring {
			logs = logs[len(logs)-r.ring:]
		}
		return logs, nil
	})
}

// Compact drops entries older than cutoff and re-enforces the ring cap,
// which can shrink after a config change. A zero cutoff skips the age
// check. Returns how many entries were removed.
func (r *ExecutionLogRepo) Compact(ctx context.Context, cutoff time.Time) (int, error) {
	removed := 0
	err := updateSlice(ctx, r.store, CollectionExecutionLogs, func(logs []models.ExecutionLog) ([]models.ExecutionLog, error) {
		kept := make([]models.ExecutionLog, 0, len(logs))
		for _, l := range logs {
			if !cutoff.IsZero() && l.Timestamp.Before(cutoff) {
				continue
			}
			kept = append(kept, l)
		}
		if len(kept) > r.ring {
			kept = kept[len(kept)-r.ring:]
		}
		removed = len(logs) - len(kept)
		return kept, nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// AccountRepo reads and mutates the single user account document.
type AccountRepo struct {
	store Store
}

func (r *AccountRepo) Get(ctx context.Context) (models.Account, error) {
	raw, err := r.store.ReadCollection(ctx, CollectionUserAccount)
	if err != nil {
		return models.Account{}, err
	}
	if len(raw) == 0 {
		return models.Account{}, nil
	}
	var acct models.Account
	if err := json.Unmarshal(raw, &acct); err != nil {
		return models.Account{}, apperrors.Internal("decode userAccount", err)
	}
	return acct, nil
}

func (r *AccountRepo) Update(ctx context.Context, fn func(*models.Account) error) error {
	return UpdateWithRetry(ctx, r.store, CollectionUserAccount, func(current []byte) ([]byte, error) {
		var acct models.Account
		if len(current) > 0 {
			if err := json.Unmarshal(current, &acct); err != nil {
				return nil, apperrors.Internal("decode userAccount", err)
			}
		}
		if err := fn(&acct); err != nil {
			return nil, err
		}
		acct.UpdatedAt = time.Now().UTC()
		return json.Marshal(acct)
	})
}

// RuleRepo reads and replaces the confidence rules collection.
type RuleRepo struct {
	store Store
}

func (r *RuleRepo) List(ctx context.Context) ([]models.Rule, error) {
	return readSlice[models.Rule](ctx, r.store, CollectionRules)
}

func (r *RuleRepo) Replace(ctx context.Context, rules []models.Rule) error {
	return updateSlice(ctx, r.store, CollectionRules, func([]models.Rule) ([]models.Rule, error) {
		return rules, nil
	})
}
