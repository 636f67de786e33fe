/*
Package factory provides JSON/YAML to Go policy conversion.

PURPOSE:
  Converts policy definitions into reaction.Policy values. Costs and the
  self-reaction rule can be tuned per target type without code changes:
  from a YAML/JSON file at startup, or through PUT /api/policies/{type}.

JSON SCHEMA:
  {
    "target_type": "post",
    "self_reaction": "allow",
    "costs": {
      "like":            {"actor": -24, "owner": 12,  "platform": 12},
      "unlike":          {"actor": -12, "owner": 0,   "platform": 12},
      "dislike":         {"actor": -12, "owner": -12, "platform": 24},
      "undislike":       {"actor": -12, "owner": 0,   "platform": 12},
      "dislike_to_like": {"actor": -24, "owner": 12,  "platform": 12},
      "like_to_dislike": {"actor": -12, "owner": -12, "platform": 24}
    }
  }

  Omitted transitions keep the default legs. Omitted self_reaction keeps the
  target type's default (shares forbid, everything else allows).

FILE FORMAT:
  policies:
    - target_type: share
      self_reaction: forbid
    - target_type: lesson
      costs:
        like: {actor: -30, owner: 15, platform: 15}

USAGE:
  factory := NewPolicyFactory()
  policy, err := factory.ParsePolicy(jsonString)
  engine.Policies().Set(*policy)

SEE ALSO:
  - reaction/policies.go: Policy type definition
  - reaction/transition.go: CostSchedule and validation
*/
package factory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nuxni/reaction-engine/generic"
	"github.com/nuxni/reaction-engine/reaction"
)

// =============================================================================
// SCHEMA TYPES
// =============================================================================

// PolicyJSON is the serialized form of a policy.
type PolicyJSON struct {
	TargetType   string     `json:"target_type" yaml:"target_type"`
	SelfReaction string     `json:"self_reaction,omitempty" yaml:"self_reaction,omitempty"`
	Costs        *CostsJSON `json:"costs,omitempty" yaml:"costs,omitempty"`
}

// CostsJSON holds one optional leg set per transition.
type CostsJSON struct {
	Like          *LegJSON `json:"like,omitempty" yaml:"like,omitempty"`
	Unlike        *LegJSON `json:"unlike,omitempty" yaml:"unlike,omitempty"`
	Dislike       *LegJSON `json:"dislike,omitempty" yaml:"dislike,omitempty"`
	Undislike     *LegJSON `json:"undislike,omitempty" yaml:"undislike,omitempty"`
	DislikeToLike *LegJSON `json:"dislike_to_like,omitempty" yaml:"dislike_to_like,omitempty"`
	LikeToDislike *LegJSON `json:"like_to_dislike,omitempty" yaml:"like_to_dislike,omitempty"`
}

// LegJSON is a signed point delta per party.
type LegJSON struct {
	Actor    int64 `json:"actor" yaml:"actor"`
	Owner    int64 `json:"owner" yaml:"owner"`
	Platform int64 `json:"platform" yaml:"platform"`
}

// PolicyFile is the top-level document of a policies file.
type PolicyFile struct {
	Policies []PolicyJSON `json:"policies" yaml:"policies"`
}

// =============================================================================
// POLICY FACTORY
// =============================================================================

// PolicyFactory converts serialized policies to reaction.Policy.
type PolicyFactory struct{}

// NewPolicyFactory creates a new policy factory.
func NewPolicyFactory() *PolicyFactory {
	return &PolicyFactory{}
}

// ParsePolicy parses a JSON policy string.
func (f *PolicyFactory) ParsePolicy(jsonStr string) (*reaction.Policy, error) {
	var pj PolicyJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return nil, fmt.Errorf("invalid policy JSON: %w", err)
	}
	p, err := f.FromJSON(pj)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// FromJSON builds a validated policy, filling gaps from the defaults.
func (f *PolicyFactory) FromJSON(pj PolicyJSON) (reaction.Policy, error) {
	tt := generic.LookupTargetType(pj.TargetType)
	if tt == nil {
		return reaction.Policy{}, fmt.Errorf("%w: %q", generic.ErrUnknownTargetType, pj.TargetType)
	}

	policy := reaction.DefaultPolicy(tt)
	if pj.SelfReaction != "" {
		self := reaction.SelfReactionPolicy(strings.ToLower(pj.SelfReaction))
		if !self.Valid() {
			return reaction.Policy{}, fmt.Errorf("invalid self_reaction %q for %s", pj.SelfReaction, pj.TargetType)
		}
		policy.SelfReaction = self
	}

	if pj.Costs != nil {
		c := &policy.Costs
		overrideLeg(&c.Like, pj.Costs.Like)
		overrideLeg(&c.Unlike, pj.Costs.Unlike)
		overrideLeg(&c.Dislike, pj.Costs.Dislike)
		overrideLeg(&c.Undislike, pj.Costs.Undislike)
		overrideLeg(&c.DislikeToLike, pj.Costs.DislikeToLike)
		overrideLeg(&c.LikeToDislike, pj.Costs.LikeToDislike)
	}

	if err := policy.Costs.Validate(); err != nil {
		return reaction.Policy{}, fmt.Errorf("policy %s: %w", pj.TargetType, err)
	}
	return policy, nil
}

// ToJSON converts a policy back to its serialized form with every leg set.
func (f *PolicyFactory) ToJSON(p reaction.Policy) PolicyJSON {
	c := p.Costs
	return PolicyJSON{
		TargetType:   p.TargetType.TypeID(),
		SelfReaction: string(p.SelfReaction),
		Costs: &CostsJSON{
			Like:          legJSON(c.Like),
			Unlike:        legJSON(c.Unlike),
			Dislike:       legJSON(c.Dislike),
			Undislike:     legJSON(c.Undislike),
			DislikeToLike: legJSON(c.DislikeToLike),
			LikeToDislike: legJSON(c.LikeToDislike),
		},
	}
}

// ParsePolicyFile reads a .yaml, .yml or .json policies file.
func (f *PolicyFactory) ParsePolicyFile(path string) ([]reaction.Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policies file: %w", err)
	}

	var doc PolicyFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &doc)
	case ".json":
		err = json.Unmarshal(data, &doc)
	default:
		return nil, fmt.Errorf("unsupported policies file extension %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	policies := make([]reaction.Policy, 0, len(doc.Policies))
	for _, pj := range doc.Policies {
		p, err := f.FromJSON(pj)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, nil
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// Save stores a policy and applies it to the live set.
func (f *PolicyFactory) Save(ctx context.Context, store generic.PolicyStore, set *reaction.PolicySet, p reaction.Policy) error {
	data, err := json.Marshal(f.ToJSON(p))
	if err != nil {
		return err
	}
	if err := store.SavePolicy(ctx, generic.PolicyRecord{
		TargetType: p.TargetType.TypeID(),
		ConfigJSON: string(data),
	}); err != nil {
		return fmt.Errorf("failed to save policy: %w", err)
	}
	set.Set(p)
	return nil
}

// LoadStored applies every stored policy to set and returns how many were
// loaded. Records for target types that are no longer registered are skipped.
func (f *PolicyFactory) LoadStored(ctx context.Context, store generic.PolicyStore, set *reaction.PolicySet) (int, error) {
	records, err := store.ListPolicies(ctx)
	if err != nil {
		return 0, err
	}

	loaded := 0
	for _, rec := range records {
		if generic.LookupTargetType(rec.TargetType) == nil {
			continue
		}
		p, err := f.ParsePolicy(rec.ConfigJSON)
		if err != nil {
			return loaded, fmt.Errorf("stored policy %s v%d: %w", rec.TargetType, rec.Version, err)
		}
		set.Set(*p)
		loaded++
	}
	return loaded, nil
}

// Helper functions

func overrideLeg(dst *reaction.Leg, src *LegJSON) {
	if src == nil {
		return
	}
	*dst = reaction.Leg{
		Actor:    generic.Points(src.Actor),
		Owner:    generic.Points(src.Owner),
		Platform: generic.Points(src.Platform),
	}
}

func legJSON(l reaction.Leg) *LegJSON {
	return &LegJSON{
		Actor:    l.Actor.Int64(),
		Owner:    l.Owner.Int64(),
		Platform: l.Platform.Int64(),
	}
}
