package reaction

import (
	"sort"
	"sync"

	"github.com/nuxni/reaction-engine/generic"
)

// =============================================================================
// POLICIES
// =============================================================================

// SelfReactionPolicy decides whether owners may react to their own content.
type SelfReactionPolicy string

const (
	SelfAllow  SelfReactionPolicy = "allow"
	SelfForbid SelfReactionPolicy = "forbid"
)

func (p SelfReactionPolicy) Valid() bool {
	return p == SelfAllow || p == SelfForbid
}

// Policy is the per-target-type configuration of the engine.
type Policy struct {
	TargetType   generic.TargetType
	SelfReaction SelfReactionPolicy
	Costs        CostSchedule
}

// DefaultPolicy returns the standard policy for a target type. Shares are
// the only built-in type that forbids self-reaction.
func DefaultPolicy(t generic.TargetType) Policy {
	self := SelfAllow
	if t.TypeID() == string(TargetShare) {
		self = SelfForbid
	}
	return Policy{TargetType: t, SelfReaction: self, Costs: DefaultCosts()}
}

// DefaultPolicies returns one policy per registered target type.
func DefaultPolicies() []Policy {
	types := generic.ListTargetTypes()
	out := make([]Policy, len(types))
	for i, t := range types {
		out[i] = DefaultPolicy(t)
	}
	return out
}

// PolicySet is the live, concurrently readable set of policies.
type PolicySet struct {
	mu     sync.RWMutex
	byType map[string]Policy
}

// NewPolicySet starts from the defaults and applies overrides.
func NewPolicySet(overrides ...Policy) *PolicySet {
	ps := &PolicySet{byType: make(map[string]Policy)}
	for _, p := range DefaultPolicies() {
		ps.byType[p.TargetType.TypeID()] = p
	}
	for _, p := range overrides {
		ps.byType[p.TargetType.TypeID()] = p
	}
	return ps
}

// For returns the policy of a target type; unknown types get the default.
func (ps *PolicySet) For(t generic.TargetType) Policy {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	if p, ok := ps.byType[t.TypeID()]; ok {
		return p
	}
	return DefaultPolicy(t)
}

// Set replaces the policy of one target type.
func (ps *PolicySet) Set(p Policy) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.byType[p.TargetType.TypeID()] = p
}

// All returns every policy sorted by target type.
func (ps *PolicySet) All() []Policy {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	out := make([]Policy, 0, len(ps.byType))
	for _, p := range ps.byType {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TargetType.TypeID() < out[j].TargetType.TypeID()
	})
	return out
}
