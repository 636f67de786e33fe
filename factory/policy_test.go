package factory

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nuxni/reaction-engine/generic"
	"github.com/nuxni/reaction-engine/generic/store"
	"github.com/nuxni/reaction-engine/reaction"
)

func TestParsePolicy_DefaultsFillGaps(t *testing.T) {
	// GIVEN: A policy that only overrides the like leg
	// WHEN: Parsed
	// THEN: Like uses the override, everything else keeps the defaults

	f := NewPolicyFactory()
	p, err := f.ParsePolicy(`{
		"target_type": "lesson",
		"costs": {"like": {"actor": -30, "owner": 15, "platform": 15}}
	}`)
	require.NoError(t, err)

	assert.Equal(t, reaction.TargetLesson, p.TargetType)
	assert.Equal(t, reaction.SelfAllow, p.SelfReaction)
	assert.Equal(t, int64(-30), p.Costs.Like.Actor.Int64())
	assert.Equal(t, int64(15), p.Costs.Like.Owner.Int64())
	assert.Equal(t, reaction.DefaultCosts().Dislike, p.Costs.Dislike)
}

func TestParsePolicy_SelfReaction(t *testing.T) {
	f := NewPolicyFactory()

	p, err := f.ParsePolicy(`{"target_type": "share"}`)
	require.NoError(t, err)
	assert.Equal(t, reaction.SelfForbid, p.SelfReaction)

	p, err = f.ParsePolicy(`{"target_type": "share", "self_reaction": "ALLOW"}`)
	require.NoError(t, err)
	assert.Equal(t, reaction.SelfAllow, p.SelfReaction)

	_, err = f.ParsePolicy(`{"target_type": "share", "self_reaction": "sometimes"}`)
	assert.Error(t, err)
}

func TestParsePolicy_Invalid(t *testing.T) {
	f := NewPolicyFactory()

	tests := []struct {
		name string
		json string
	}{
		{"malformed", `{"target_type":`},
		{"unknown type", `{"target_type": "video"}`},
		{"actor earns", `{"target_type": "post", "costs": {"unlike": {"actor": 5, "owner": 0, "platform": 0}}}`},
		{"platform pays", `{"target_type": "post", "costs": {"like": {"actor": -24, "owner": 12, "platform": -1}}}`},
		{"mints points", `{"target_type": "post", "costs": {"like": {"actor": 0, "owner": 1000000, "platform": 0}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ParsePolicy(tt.json)
			assert.Error(t, err)
		})
	}

	_, err := f.ParsePolicy(`{"target_type": "video"}`)
	assert.ErrorIs(t, err, generic.ErrUnknownTargetType)
}

func TestToJSON_RoundTripsThroughFactory(t *testing.T) {
	f := NewPolicyFactory()
	want := reaction.DefaultPolicy(reaction.TargetShare)
	want.Costs.Dislike = reaction.Leg{
		Actor:    generic.Points(-20),
		Owner:    generic.Points(-10),
		Platform: generic.Points(30),
	}

	data, err := json.Marshal(f.ToJSON(want))
	require.NoError(t, err)
	parsed, err := f.ParsePolicy(string(data))
	require.NoError(t, err)

	assert.Equal(t, want.SelfReaction, parsed.SelfReaction)
	assert.True(t, want.Costs.Dislike.Actor.Equal(parsed.Costs.Dislike.Actor))
	assert.True(t, want.Costs.Dislike.Platform.Equal(parsed.Costs.Dislike.Platform))
}

func TestParsePolicyFile(t *testing.T) {
	dir := t.TempDir()
	f := NewPolicyFactory()

	yamlPath := filepath.Join(dir, "policies.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
policies:
  - target_type: post
    self_reaction: forbid
  - target_type: lesson_comment
    costs:
      dislike: {actor: -6, owner: -6, platform: 12}
`), 0o644))

	policies, err := f.ParsePolicyFile(yamlPath)
	require.NoError(t, err)
	require.Len(t, policies, 2)
	assert.Equal(t, reaction.SelfForbid, policies[0].SelfReaction)
	assert.Equal(t, int64(-6), policies[1].Costs.Dislike.Actor.Int64())

	jsonPath := filepath.Join(dir, "policies.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"policies":[{"target_type":"post_image"}]}`), 0o644))
	policies, err = f.ParsePolicyFile(jsonPath)
	require.NoError(t, err)
	require.Len(t, policies, 1)
	assert.Equal(t, reaction.TargetPostImage, policies[0].TargetType)

	txtPath := filepath.Join(dir, "policies.txt")
	require.NoError(t, os.WriteFile(txtPath, []byte(""), 0o644))
	_, err = f.ParsePolicyFile(txtPath)
	assert.Error(t, err)

	_, err = f.ParsePolicyFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestSaveAndLoadStored(t *testing.T) {
	// GIVEN: A policy saved through the factory
	// WHEN: A fresh policy set loads stored policies
	// THEN: It sees the override

	ctx := context.Background()
	f := NewPolicyFactory()
	mem := store.NewMemory()

	p := reaction.DefaultPolicy(reaction.TargetPost)
	p.SelfReaction = reaction.SelfForbid
	live := reaction.NewPolicySet()
	require.NoError(t, f.Save(ctx, mem, live, p))
	assert.Equal(t, reaction.SelfForbid, live.For(reaction.TargetPost).SelfReaction)

	// Stale record for a type that no longer exists is skipped
	require.NoError(t, mem.SavePolicy(ctx, generic.PolicyRecord{TargetType: "retired", ConfigJSON: "{}"}))

	fresh := reaction.NewPolicySet()
	n, err := f.LoadStored(ctx, mem, fresh)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, reaction.SelfForbid, fresh.For(reaction.TargetPost).SelfReaction)
}
