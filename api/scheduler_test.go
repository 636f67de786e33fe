package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nuxni/reaction-engine/generic"
	"github.com/nuxni/reaction-engine/reaction"
)

func TestAuditor_CleanAfterReactions(t *testing.T) {
	// GIVEN: A walkthrough with a few toggles applied through the engine
	// WHEN: The auditor runs
	// THEN: Counters match reaction records and balances match journals

	s := loaded(t, "walkthrough")
	s.react(t, "alice", "like", "post/p1")
	s.react(t, "alice", "dislike", "post/p1")

	run, err := s.handler.Auditor.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, generic.AuditClean, run.Status)
	assert.Equal(t, 1, run.TargetsChecked)
	assert.Equal(t, 3, run.AccountsChecked)
	assert.Empty(t, run.Drifts)
	assert.False(t, run.CompletedAt.Before(run.StartedAt))
}

func TestAuditor_DetectsDrift(t *testing.T) {
	// GIVEN: Counters and a balance changed behind the engine's back
	// WHEN: The audit runs over HTTP
	// THEN: Each inconsistency is reported and nothing is repaired

	s := loaded(t, "walkthrough")
	ctx := context.Background()
	ref := generic.TargetRef{Type: reaction.TargetPost, ID: "p1"}

	require.NoError(t, s.store.AdjustCounters(ctx, ref, 2, 0))
	require.NoError(t, s.store.Credit(ctx, "olivia", generic.Points(5)))

	rec := s.do(t, http.MethodPost, "/api/audit/run", adminID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var run AuditRunDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))

	assert.Equal(t, "drift", run.Status)
	require.Equal(t, 2, run.DriftCount)
	kinds := map[string]DriftDTO{}
	for _, d := range run.Drifts {
		kinds[d.Kind] = d
	}
	assert.Equal(t, DriftDTO{Kind: "like_count", Subject: "post/p1", Stored: "2", Expected: "0"}, kinds["like_count"])
	assert.Equal(t, DriftDTO{Kind: "balance", Subject: "olivia", Stored: "55", Expected: "50"}, kinds["balance"])

	// Auditor never repairs
	tg, err := s.store.Target(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, int64(2), tg.LikeCount)
	assert.Equal(t, int64(55), s.balance(t, "olivia"))

	// A second, clean-after-nothing run is listed first
	_, err = s.handler.Auditor.RunOnce(ctx)
	require.NoError(t, err)
	rec = s.do(t, http.MethodGet, "/api/audit/runs?limit=5", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []AuditRunDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 2)
	assert.NotEqual(t, run.ID, runs[0].ID)
	assert.Equal(t, run.ID, runs[1].ID)
}

func TestAuditor_StartStop(t *testing.T) {
	s := loaded(t, "walkthrough")
	a := NewAuditor(s.store)
	a.Interval = 10 * time.Millisecond

	a.Start()
	require.Eventually(t, func() bool {
		runs, err := s.store.AuditRuns(context.Background(), 0)
		return err == nil && len(runs) >= 2
	}, time.Second, 5*time.Millisecond)
	a.Stop()
	a.Stop()

	runs, err := s.store.AuditRuns(context.Background(), 0)
	require.NoError(t, err)
	stopped := len(runs)
	time.Sleep(30 * time.Millisecond)
	runs, err = s.store.AuditRuns(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, stopped, len(runs))

	disabled := NewAuditor(s.store)
	disabled.Enabled = false
	disabled.Start()
	disabled.Stop()
}
