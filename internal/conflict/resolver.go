package conflict

import (
	"sync"
	"time"

	"github.com/pacekit/syncd/internal/entity"
	"github.com/pacekit/syncd/pkg/log"
)

// Context carries the classification a strategy is resolving.
type Context struct {
	ConflictType Type
	EntityType   entity.Type
}

// Strategy resolves one local/remote pair into a single document.
type Strategy interface {
	Name() string
	Apply(local, remote map[string]interface{}, ctx Context) map[string]interface{}
}

// Resolution is one entry in the resolver's audit trail.
type Resolution struct {
	At           time.Time
	ConflictType Type
	EntityType   entity.Type
	Strategy     string
	Local        map[string]interface{}
	Remote       map[string]interface{}
	Result       map[string]interface{}
}

// DefaultAuditLimit bounds the in-memory resolution history.
const DefaultAuditLimit = 50

// Resolver picks a strategy per (conflict type, entity type) and applies it.
type Resolver struct {
	logger     log.Logger
	strategies map[Type]map[entity.Type]Strategy
	fallbacks  map[Type]Strategy

	mu         sync.Mutex
	audit      []Resolution
	auditLimit int
}

// NewResolver builds a resolver with the built-in strategy table: duplicates
// and delete conflicts use last-write-wins, update conflicts use the
// intelligent merge, except voice notes where a merged transcript would be
// worse than either original.
func NewResolver(logger log.Logger) *Resolver {
	if logger == nil {
		logger = log.NewNop()
	}
	lww := LastWriteWins{}
	merge := IntelligentMerge{}
	return &Resolver{
		logger: logger.WithComponent("conflict"),
		strategies: map[Type]map[entity.Type]Strategy{
			UpdateConflict: {
				entity.TypeVoiceNote: lww,
			},
		},
		fallbacks: map[Type]Strategy{
			CreateDuplicate: lww,
			DeleteConflict:  lww,
			UpdateConflict:  merge,
		},
		auditLimit: DefaultAuditLimit,
	}
}

// StrategyFor returns the strategy the resolver will use for a
// classification.
func (r *Resolver) StrategyFor(ctx Context) Strategy {
	if byEntity, ok := r.strategies[ctx.ConflictType]; ok {
		if s, ok := byEntity[ctx.EntityType]; ok {
			return s
		}
	}
	if s, ok := r.fallbacks[ctx.ConflictType]; ok {
		return s
	}
	return LastWriteWins{}
}

// Resolve applies the selected strategy and records the outcome. Identical
// inputs always produce identical resolutions.
func (r *Resolver) Resolve(local, remote map[string]interface{}, ctx Context) map[string]interface{} {
	strategy := r.StrategyFor(ctx)
	result := strategy.Apply(local, remote, ctx)

	r.logger.Info("conflict resolved",
		log.Str("conflict", string(ctx.ConflictType)),
		log.Str("entity", string(ctx.EntityType)),
		log.Str("strategy", strategy.Name()))

	r.mu.Lock()
	r.audit = append(r.audit, Resolution{
		At:           time.Now(),
		ConflictType: ctx.ConflictType,
		EntityType:   ctx.EntityType,
		Strategy:     strategy.Name(),
		Local:        local,
		Remote:       remote,
		Result:       result,
	})
	if len(r.audit) > r.auditLimit {
		r.audit = r.audit[len(r.audit)-r.auditLimit:]
	}
	r.mu.Unlock()

	return result
}

// Audit returns a copy of the retained resolution history, oldest first.
func (r *Resolver) Audit() []Resolution {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Resolution, len(r.audit))
	copy(out, r.audit)
	return out
}

// LastWriteWins keeps whichever side has the newer effective timestamp,
// local on ties or when neither side has one.
type LastWriteWins struct{}

func (LastWriteWins) Name() string { return "last-write-wins" }

func (LastWriteWins) Apply(local, remote map[string]interface{}, _ Context) map[string]interface{} {
	if timestampOf(remote) > timestampOf(local) {
		return cloneDoc(remote)
	}
	return cloneDoc(local)
}

// IntelligentMerge combines both sides field by field: tag-like arrays are
// unioned, the longer free-text value wins, numeric fields take the maximum,
// and everything else comes from the newer side.
type IntelligentMerge struct{}

func (IntelligentMerge) Name() string { return "intelligent-merge" }

// Fields with domain-specific combination rules.
var (
	mergeTagFields  = []string{"tags", "preferences"}
	mergeTextFields = []string{"note", "transcript", "displayName"}
	mergeMaxFields  = []string{"score", "progress", "weeklyGoal", "durationSec", "updatedAt", "timestamp", "modifiedAt"}
)

func (m IntelligentMerge) Apply(local, remote map[string]interface{}, ctx Context) map[string]interface{} {
	base := LastWriteWins{}.Apply(local, remote, ctx)
	other := remote
	if timestampOf(remote) > timestampOf(local) {
		other = local
	}

	// Carry fields only the losing side has.
	for k, v := range other {
		if _, ok := base[k]; !ok {
			base[k] = v
		}
	}
	for _, field := range mergeTagFields {
		if merged, ok := unionTags(local[field], remote[field]); ok {
			base[field] = merged
		}
	}
	for _, field := range mergeTextFields {
		if merged, ok := longerText(local[field], remote[field]); ok {
			base[field] = merged
		}
	}
	for _, field := range mergeMaxFields {
		lv, lok := numOf(local, field)
		rv, rok := numOf(remote, field)
		switch {
		case lok && rok:
			if rv > lv {
				base[field] = rv
			} else {
				base[field] = lv
			}
		case lok:
			base[field] = lv
		case rok:
			base[field] = rv
		}
	}
	return base
}

func cloneDoc(doc map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}
