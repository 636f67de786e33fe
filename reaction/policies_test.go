package reaction_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nuxni/reaction-engine/generic"
	"github.com/nuxni/reaction-engine/reaction"
)

func TestDefaultPolicies_SharesForbidSelfReaction(t *testing.T) {
	ps := reaction.NewPolicySet()

	assert.Equal(t, reaction.SelfForbid, ps.For(reaction.TargetShare).SelfReaction)
	assert.Equal(t, reaction.SelfAllow, ps.For(reaction.TargetPost).SelfReaction)
	assert.Equal(t, reaction.SelfAllow, ps.For(reaction.TargetLesson).SelfReaction)
	assert.Len(t, ps.All(), len(reaction.AllTargets))
}

func TestPolicySet_OverrideAndFallback(t *testing.T) {
	custom := reaction.DefaultPolicy(reaction.TargetLesson)
	custom.SelfReaction = reaction.SelfForbid
	ps := reaction.NewPolicySet(custom)

	assert.Equal(t, reaction.SelfForbid, ps.For(reaction.TargetLesson).SelfReaction)

	unknown := generic.StringTargetType{ID: "poll", Domain: "test"}
	assert.Equal(t, reaction.SelfAllow, ps.For(unknown).SelfReaction)
	assert.Equal(t, int64(-24), ps.For(unknown).Costs.Like.Actor.Int64())
}

func TestTargetTypesRegistered(t *testing.T) {
	for _, tt := range reaction.AllTargets {
		assert.Equal(t, tt, generic.LookupTargetType(tt.TypeID()))
	}
	_, err := generic.ParseTargetRef("video", "1")
	assert.ErrorIs(t, err, generic.ErrUnknownTargetType)
}
