package reaction_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nuxni/reaction-engine/generic"
	"github.com/nuxni/reaction-engine/reaction"
)

func TestPlan_DefaultTable(t *testing.T) {
	costs := reaction.DefaultCosts()

	cases := []struct {
		from             reaction.State
		action           reaction.Action
		to               reaction.State
		name             string
		actor, owner, pf int64
		likes, dislikes  int64
		required         int64
	}{
		{reaction.None, reaction.Like, reaction.Liked, "like", -24, 12, 12, 1, 0, 24},
		{reaction.Liked, reaction.Like, reaction.None, "unlike", -12, 0, 12, -1, 0, 12},
		{reaction.None, reaction.Dislike, reaction.Disliked, "dislike", -12, -12, 24, 0, 1, 12},
		{reaction.Disliked, reaction.Dislike, reaction.None, "undislike", -12, 0, 12, 0, -1, 12},
		{reaction.Disliked, reaction.Like, reaction.Liked, "dislike_to_like", -24, 12, 12, 1, -1, 24},
		{reaction.Liked, reaction.Dislike, reaction.Disliked, "like_to_dislike", -12, -12, 24, -1, 1, 12},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr, err := reaction.Plan(tc.from, tc.action, costs)
			require.NoError(t, err)

			assert.Equal(t, tc.name, tr.Name)
			assert.Equal(t, tc.from, tr.From)
			assert.Equal(t, tc.to, tr.To)
			assert.Equal(t, tc.actor, tr.Leg.Actor.Int64())
			assert.Equal(t, tc.owner, tr.Leg.Owner.Int64())
			assert.Equal(t, tc.pf, tr.Leg.Platform.Int64())
			assert.Equal(t, tc.likes, tr.LikeDelta)
			assert.Equal(t, tc.dislikes, tr.DislikeDelta)
			assert.Equal(t, tc.required, tr.Required.Int64())
		})
	}
}

func TestPlan_SwitchRequiresForwardLegOfNewReaction(t *testing.T) {
	// GIVEN: A schedule where the switch legs cost less than the forward legs
	// WHEN: Planning a switch
	// THEN: Required is the forward cost of the new reaction

	costs := reaction.DefaultCosts()
	costs.DislikeToLike = reaction.Leg{Actor: generic.Points(-10), Owner: generic.Points(5), Platform: generic.Points(5)}
	costs.LikeToDislike = reaction.Leg{Actor: generic.Points(-6), Owner: generic.Points(-6), Platform: generic.Points(6)}

	tr, err := reaction.Plan(reaction.Disliked, reaction.Like, costs)
	require.NoError(t, err)
	assert.Equal(t, int64(24), tr.Required.Int64())
	assert.Equal(t, int64(-10), tr.Leg.Actor.Int64())

	tr, err = reaction.Plan(reaction.Liked, reaction.Dislike, costs)
	require.NoError(t, err)
	assert.Equal(t, int64(12), tr.Required.Int64())
}

func TestPlan_SwitchRequiresCostlierSwitchLeg(t *testing.T) {
	// GIVEN: A schedule where the switch legs cost more than the forward legs
	// WHEN: Planning a switch
	// THEN: Required is the switch leg's own cost, so the balance check and
	//       the debit agree

	costs := reaction.DefaultCosts()
	costs.DislikeToLike.Actor = generic.Points(-36)
	costs.LikeToDislike.Actor = generic.Points(-30)

	tr, err := reaction.Plan(reaction.Disliked, reaction.Like, costs)
	require.NoError(t, err)
	assert.Equal(t, int64(36), tr.Required.Int64())
	assert.Equal(t, int64(-36), tr.Leg.Actor.Int64())

	tr, err = reaction.Plan(reaction.Liked, reaction.Dislike, costs)
	require.NoError(t, err)
	assert.Equal(t, int64(30), tr.Required.Int64())
}

func TestPlan_RejectsUnknownInput(t *testing.T) {
	_, err := reaction.Plan(reaction.None, reaction.Action("love"), reaction.DefaultCosts())
	assert.ErrorIs(t, err, generic.ErrInvalidReaction)

	_, err = reaction.Plan(reaction.State("meh"), reaction.Like, reaction.DefaultCosts())
	assert.ErrorIs(t, err, generic.ErrInvalidReaction)
}

func TestPlan_NetCounterChangeMatchesTable(t *testing.T) {
	// like_count - dislike_count moves by exactly the table's deltas
	expected := map[string]int64{
		"like": 1, "unlike": -1, "dislike": -1, "undislike": 1,
		"dislike_to_like": 2, "like_to_dislike": -2,
	}
	for _, from := range []reaction.State{reaction.None, reaction.Liked, reaction.Disliked} {
		for _, action := range []reaction.Action{reaction.Like, reaction.Dislike} {
			tr, err := reaction.Plan(from, action, reaction.DefaultCosts())
			require.NoError(t, err)
			assert.Equal(t, expected[tr.Name], tr.LikeDelta-tr.DislikeDelta, tr.Name)
		}
	}
}

func TestCostSchedule_Validate(t *testing.T) {
	assert.NoError(t, reaction.DefaultCosts().Validate())

	bad := reaction.DefaultCosts()
	bad.Like.Actor = generic.Points(5)
	assert.Error(t, bad.Validate())

	bad = reaction.DefaultCosts()
	bad.Unlike.Platform = generic.Points(-1)
	assert.Error(t, bad.Validate())

	// Paying out more than the actor pays would create points
	bad = reaction.DefaultCosts()
	bad.Like = reaction.Leg{Actor: generic.Points(0), Owner: generic.Points(1000000), Platform: generic.Points(0)}
	assert.Error(t, bad.Validate())

	bad = reaction.DefaultCosts()
	bad.Dislike.Platform = generic.Points(25)
	assert.Error(t, bad.Validate())

	// Burning points is allowed
	burn := reaction.DefaultCosts()
	burn.Unlike.Platform = generic.Points(6)
	assert.NoError(t, burn.Validate())
}

func TestParseAction(t *testing.T) {
	a, err := reaction.ParseAction("dislike")
	require.NoError(t, err)
	assert.Equal(t, reaction.Dislike, a)

	_, err = reaction.ParseAction("LIKE")
	assert.ErrorIs(t, err, generic.ErrInvalidReaction)
}
