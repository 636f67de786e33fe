package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nuxni/reaction-engine/generic"
)

type memTarget string

func (t memTarget) TypeID() string     { return string(t) }
func (t memTarget) TypeDomain() string { return "test" }

var ref = generic.TargetRef{Type: memTarget("post"), ID: "P"}

func seeded(t *testing.T) *Memory {
	t.Helper()
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.OpenAccount(ctx, generic.Account{ID: "a", Balance: generic.Points(100)}))
	require.NoError(t, m.OpenAccount(ctx, generic.Account{ID: "o", Balance: generic.Points(0)}))
	require.NoError(t, m.RegisterTarget(ctx, generic.Target{Ref: ref, OwnerID: "o"}))
	return m
}

func TestMemory_WithPairCommits(t *testing.T) {
	m := seeded(t)
	ctx := context.Background()

	err := m.WithPair(ctx, "a", ref, func(s generic.Store) error {
		if err := s.Debit(ctx, "a", generic.Points(24)); err != nil {
			return err
		}
		if err := s.Credit(ctx, "o", generic.Points(12)); err != nil {
			return err
		}
		if err := s.SetReaction(ctx, "a", ref, generic.StateLiked); err != nil {
			return err
		}
		return s.AdjustCounters(ctx, ref, 1, 0)
	})
	require.NoError(t, err)

	b, _ := m.Balance(ctx, "a")
	assert.Equal(t, int64(76), b.Int64())
	state, _ := m.Reaction(ctx, "a", ref)
	assert.Equal(t, generic.StateLiked, state)
	likes, dislikes, _ := m.CountReactions(ctx, ref)
	assert.Equal(t, int64(1), likes)
	assert.Equal(t, int64(0), dislikes)
}

func TestMemory_WithPairRollsBack(t *testing.T) {
	// GIVEN: A transaction that writes everywhere then fails
	// WHEN: fn returns an error
	// THEN: Every write is undone, including journal entries

	m := seeded(t)
	ctx := context.Background()
	before, err := generic.TakeSnapshot(ctx, m, "a", ref, "o")
	require.NoError(t, err)
	entriesBefore := len(m.entries)

	boom := errors.New("boom")
	err = m.WithPair(ctx, "a", ref, func(s generic.Store) error {
		require.NoError(t, s.Debit(ctx, "a", generic.Points(24)))
		require.NoError(t, s.Credit(ctx, "o", generic.Points(12)))
		require.NoError(t, s.SetReaction(ctx, "a", ref, generic.StateDisliked))
		require.NoError(t, s.AdjustCounters(ctx, ref, 0, 1))
		require.NoError(t, s.AppendEntries(ctx, []generic.Entry{{AccountID: "a", Delta: generic.Points(-24)}}))
		require.NoError(t, s.OpenAccount(ctx, generic.Account{ID: "new", Balance: generic.Points(5)}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	after, err := generic.TakeSnapshot(ctx, m, "a", ref, "o")
	require.NoError(t, err)
	assert.True(t, before.Equal(after))
	assert.Len(t, m.entries, entriesBefore)
	_, err = m.Account(ctx, "new")
	assert.ErrorIs(t, err, generic.ErrAccountNotFound)
}

func TestMemory_WithPairRollsBackOnPanic(t *testing.T) {
	m := seeded(t)
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = m.WithPair(ctx, "a", ref, func(s generic.Store) error {
			_ = s.Debit(ctx, "a", generic.Points(50))
			panic("oops")
		})
	})

	b, err := m.Balance(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(100), b.Int64())
}

func TestMemory_Constraints(t *testing.T) {
	m := seeded(t)
	ctx := context.Background()

	var insufficient *generic.InsufficientBalanceError
	assert.ErrorAs(t, m.Debit(ctx, "a", generic.Points(101)), &insufficient)
	assert.ErrorIs(t, m.Debit(ctx, "a", generic.Points(-1)), generic.ErrNegativeAmount)
	assert.ErrorIs(t, m.OpenAccount(ctx, generic.Account{ID: "a"}), generic.ErrDuplicateAccount)
	assert.ErrorIs(t, m.RegisterTarget(ctx, generic.Target{Ref: ref, OwnerID: "o"}), generic.ErrDuplicateTarget)
	assert.Error(t, m.AdjustCounters(ctx, ref, -1, 0))
	assert.ErrorIs(t, m.SetReaction(ctx, "a", ref, "meh"), generic.ErrInvalidReaction)

	_, err := m.Target(ctx, generic.TargetRef{Type: memTarget("post"), ID: "missing"})
	assert.ErrorIs(t, err, generic.ErrTargetNotFound)
}

func TestMemory_EntriesWindow(t *testing.T) {
	m := seeded(t)
	ctx := context.Background()
	require.NoError(t, m.AppendEntries(ctx, []generic.Entry{
		{AccountID: "a", Delta: generic.Points(-24), Transition: "like"},
		{AccountID: "a", Delta: generic.Points(-12), Transition: "unlike"},
	}))

	all, err := m.Entries(ctx, "a", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, generic.EntryOpening, all[0].Kind)

	last, err := m.Entries(ctx, "a", 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, "like", last[0].Transition)
	assert.Equal(t, "unlike", last[1].Transition)
	assert.NotEmpty(t, last[1].ID)
}

func TestMemory_PoliciesAndAudits(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.SavePolicy(ctx, generic.PolicyRecord{TargetType: "post", ConfigJSON: "{}"}))
	require.NoError(t, m.SavePolicy(ctx, generic.PolicyRecord{TargetType: "post", ConfigJSON: `{"x":1}`}))
	policies, err := m.ListPolicies(ctx)
	require.NoError(t, err)
	require.Len(t, policies, 1)
	assert.Equal(t, 2, policies[0].Version)

	require.NoError(t, m.SaveAuditRun(ctx, generic.AuditRun{ID: "1", Status: generic.AuditRunning}))
	require.NoError(t, m.SaveAuditRun(ctx, generic.AuditRun{ID: "2", Status: generic.AuditClean}))
	require.NoError(t, m.SaveAuditRun(ctx, generic.AuditRun{ID: "1", Status: generic.AuditDrift}))

	runs, err := m.AuditRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "2", runs[0].ID)
	assert.Equal(t, generic.AuditDrift, runs[1].Status)
}
