package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nuxni/reaction-engine/generic"
	"github.com/nuxni/reaction-engine/generic/store"
	"github.com/nuxni/reaction-engine/reaction"
)

func TestScenarios_ListAndCurrent(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/scenarios", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []ScenarioDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 3)

	rec = s.do(t, http.MethodPost, "/api/scenarios/load", adminID, LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/scenarios/load", adminID, LoadScenarioRequest{ScenarioID: "walkthrough"})
	require.Equal(t, http.StatusOK, rec.Code)
	var loadedResp LoadScenarioResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &loadedResp))
	assert.Len(t, loadedResp.Accounts, 3)
	assert.Len(t, loadedResp.Targets, 1)

	rec = s.do(t, http.MethodGet, "/api/scenarios/current", "", nil)
	var current map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &current))
	assert.Equal(t, "walkthrough", current["scenario_id"])
}

func TestScenarios_LoadResets(t *testing.T) {
	// GIVEN: A walkthrough with a like applied
	// WHEN: The same scenario loads again
	// THEN: The state is back to the initial fixture

	s := loaded(t, "walkthrough")
	s.react(t, "alice", "like", "post/p1")
	assert.Equal(t, int64(76), s.balance(t, "alice"))

	rec := s.do(t, http.MethodPost, "/api/scenarios/load", adminID, LoadScenarioRequest{ScenarioID: "walkthrough"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(100), s.balance(t, "alice"))
	assert.Equal(t, int64(1000), s.balance(t, "1"))
}

func TestScenarios_CrowdIsConsistent(t *testing.T) {
	// GIVEN: A generated crowd
	// WHEN: The auditor checks it
	// THEN: Every counter and balance agrees with its source

	ctx := context.Background()
	mem := store.NewMemory()
	engine := reaction.NewEngine(mem, reaction.Config{PlatformAccount: "1"})

	loader := NewScenarioLoader(mem, engine)
	loader.Seed = 42
	loader.CrowdSize = 6

	resp, err := loader.Load(ctx, "crowd")
	require.NoError(t, err)
	assert.Len(t, resp.Accounts, 7)
	assert.Len(t, resp.Targets, 6)
	assert.LessOrEqual(t, resp.Reactions, 24)

	run, err := NewAuditor(mem).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, generic.AuditClean, run.Status)
	assert.Equal(t, 6, run.TargetsChecked)
	assert.Equal(t, 7, run.AccountsChecked)

	_, err = loader.Load(ctx, "unknown")
	assert.ErrorIs(t, err, ErrUnknownScenario)
}
