// Package store provides Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nuxni/reaction-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps everything in maps behind one mutex. WithPair holds the mutex
// for the whole transaction, so pair transactions are fully serialized, and
// keeps an undo log to roll back on error.
type Memory struct {
	mu        sync.Mutex
	accounts  map[generic.AccountID]generic.Account
	targets   map[string]generic.Target
	reactions map[reactionKey]generic.ReactionState
	entries   []generic.Entry
	policies  map[string]generic.PolicyRecord
	audits    []generic.AuditRun

	now func() time.Time
}

type reactionKey struct {
	Actor  generic.AccountID
	Target string
}

func NewMemory() *Memory {
	return &Memory{
		accounts:  make(map[generic.AccountID]generic.Account),
		targets:   make(map[string]generic.Target),
		reactions: make(map[reactionKey]generic.ReactionState),
		policies:  make(map[string]generic.PolicyRecord),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

var (
	_ generic.Backend = (*Memory)(nil)
	_ generic.Store   = (*memTx)(nil)
)

func (m *Memory) Close() error { return nil }

// Ping always succeeds unless the context is done.
func (m *Memory) Ping(ctx context.Context) error { return ctx.Err() }

// Reset drops all data.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts = make(map[generic.AccountID]generic.Account)
	m.targets = make(map[string]generic.Target)
	m.reactions = make(map[reactionKey]generic.ReactionState)
	m.entries = nil
	m.policies = make(map[string]generic.PolicyRecord)
	m.audits = nil
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithPair runs fn with exclusive access to the store. Any error or panic
// inside fn undoes every write fn made.
func (m *Memory) WithPair(ctx context.Context, _ generic.AccountID, _ generic.TargetRef, fn func(generic.Store) error) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{m: m}
	defer func() {
		if p := recover(); p != nil {
			tx.rollback()
			panic(p)
		}
		if err != nil {
			tx.rollback()
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	return ctx.Err()
}

// memTx is the Store handed to WithPair callbacks. The parent mutex is
// already held.
type memTx struct {
	m    *Memory
	undo []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) Account(_ context.Context, id generic.AccountID) (generic.Account, error) {
	return t.m.accountLocked(id)
}

func (t *memTx) OpenAccount(_ context.Context, acct generic.Account) error {
	n := len(t.m.entries)
	if err := t.m.openAccountLocked(acct); err != nil {
		return err
	}
	t.undo = append(t.undo, func() {
		delete(t.m.accounts, acct.ID)
		t.m.entries = t.m.entries[:n]
	})
	return nil
}

func (t *memTx) Balance(_ context.Context, id generic.AccountID) (generic.Amount, error) {
	a, err := t.m.accountLocked(id)
	return a.Balance, err
}

func (t *memTx) Debit(_ context.Context, id generic.AccountID, amount generic.Amount) error {
	if amount.IsNegative() {
		return generic.ErrNegativeAmount
	}
	return t.adjust(id, amount.Neg())
}

func (t *memTx) Credit(_ context.Context, id generic.AccountID, amount generic.Amount) error {
	if amount.IsNegative() {
		return generic.ErrNegativeAmount
	}
	return t.adjust(id, amount)
}

func (t *memTx) adjust(id generic.AccountID, delta generic.Amount) error {
	before, ok := t.m.accounts[id]
	if !ok {
		return fmt.Errorf("%w: %s", generic.ErrAccountNotFound, id)
	}
	if err := t.m.adjustLocked(id, delta); err != nil {
		return err
	}
	t.undo = append(t.undo, func() { t.m.accounts[id] = before })
	return nil
}

func (t *memTx) Reaction(_ context.Context, actor generic.AccountID, ref generic.TargetRef) (generic.ReactionState, error) {
	return t.m.reactionLocked(actor, ref), nil
}

func (t *memTx) SetReaction(_ context.Context, actor generic.AccountID, ref generic.TargetRef, state generic.ReactionState) error {
	k := reactionKey{Actor: actor, Target: ref.Key()}
	before, existed := t.m.reactions[k]
	if err := t.m.setReactionLocked(actor, ref, state); err != nil {
		return err
	}
	t.undo = append(t.undo, func() {
		if existed {
			t.m.reactions[k] = before
		} else {
			delete(t.m.reactions, k)
		}
	})
	return nil
}

func (t *memTx) CountReactions(_ context.Context, ref generic.TargetRef) (int64, int64, error) {
	l, d := t.m.countLocked(ref)
	return l, d, nil
}

func (t *memTx) Target(_ context.Context, ref generic.TargetRef) (generic.Target, error) {
	return t.m.targetLocked(ref)
}

func (t *memTx) RegisterTarget(_ context.Context, tg generic.Target) error {
	if err := t.m.registerTargetLocked(tg); err != nil {
		return err
	}
	t.undo = append(t.undo, func() { delete(t.m.targets, tg.Ref.Key()) })
	return nil
}

func (t *memTx) AdjustCounters(_ context.Context, ref generic.TargetRef, likeDelta, dislikeDelta int64) error {
	before, ok := t.m.targets[ref.Key()]
	if !ok {
		return &generic.TargetNotFoundError{Ref: ref}
	}
	if err := t.m.adjustCountersLocked(ref, likeDelta, dislikeDelta); err != nil {
		return err
	}
	t.undo = append(t.undo, func() { t.m.targets[ref.Key()] = before })
	return nil
}

func (t *memTx) AppendEntries(_ context.Context, entries []generic.Entry) error {
	n := len(t.m.entries)
	t.m.appendEntriesLocked(entries)
	t.undo = append(t.undo, func() { t.m.entries = t.m.entries[:n] })
	return nil
}

func (t *memTx) Entries(_ context.Context, id generic.AccountID, limit int) ([]generic.Entry, error) {
	return t.m.entriesLocked(id, limit), nil
}

// =============================================================================
// NON-TRANSACTIONAL ACCESS
// =============================================================================

func (m *Memory) Account(_ context.Context, id generic.AccountID) (generic.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accountLocked(id)
}

func (m *Memory) OpenAccount(_ context.Context, acct generic.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openAccountLocked(acct)
}

func (m *Memory) Balance(_ context.Context, id generic.AccountID) (generic.Amount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.accountLocked(id)
	return a.Balance, err
}

func (m *Memory) Debit(_ context.Context, id generic.AccountID, amount generic.Amount) error {
	if amount.IsNegative() {
		return generic.ErrNegativeAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.adjustLocked(id, amount.Neg())
}

func (m *Memory) Credit(_ context.Context, id generic.AccountID, amount generic.Amount) error {
	if amount.IsNegative() {
		return generic.ErrNegativeAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.adjustLocked(id, amount)
}

func (m *Memory) Reaction(_ context.Context, actor generic.AccountID, ref generic.TargetRef) (generic.ReactionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reactionLocked(actor, ref), nil
}

func (m *Memory) SetReaction(_ context.Context, actor generic.AccountID, ref generic.TargetRef, state generic.ReactionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setReactionLocked(actor, ref, state)
}

func (m *Memory) CountReactions(_ context.Context, ref generic.TargetRef) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, d := m.countLocked(ref)
	return l, d, nil
}

func (m *Memory) Target(_ context.Context, ref generic.TargetRef) (generic.Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.targetLocked(ref)
}

func (m *Memory) RegisterTarget(_ context.Context, t generic.Target) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registerTargetLocked(t)
}

func (m *Memory) AdjustCounters(_ context.Context, ref generic.TargetRef, likeDelta, dislikeDelta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.adjustCountersLocked(ref, likeDelta, dislikeDelta)
}

func (m *Memory) AppendEntries(_ context.Context, entries []generic.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendEntriesLocked(entries)
	return nil
}

func (m *Memory) Entries(_ context.Context, id generic.AccountID, limit int) ([]generic.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entriesLocked(id, limit), nil
}

// =============================================================================
// POLICIES AND AUDIT
// =============================================================================

func (m *Memory) SavePolicy(_ context.Context, p generic.PolicyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.policies[p.TargetType]; ok {
		p.Version = existing.Version + 1
	} else if p.Version == 0 {
		p.Version = 1
	}
	p.UpdatedAt = m.now()
	m.policies[p.TargetType] = p
	return nil
}

func (m *Memory) ListPolicies(_ context.Context) ([]generic.PolicyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]generic.PolicyRecord, 0, len(m.policies))
	for _, p := range m.policies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TargetType < out[j].TargetType })
	return out, nil
}

func (m *Memory) ListTargets(_ context.Context) ([]generic.Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]generic.Target, 0, len(m.targets))
	for _, t := range m.targets {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref.Key() < out[j].Ref.Key() })
	return out, nil
}

func (m *Memory) ListAccounts(_ context.Context) ([]generic.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]generic.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SaveAuditRun(_ context.Context, run generic.AuditRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.audits {
		if m.audits[i].ID == run.ID {
			m.audits[i] = run
			return nil
		}
	}
	m.audits = append(m.audits, run)
	return nil
}

// AuditRuns returns the newest runs first.
func (m *Memory) AuditRuns(_ context.Context, limit int) ([]generic.AuditRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]generic.AuditRun, 0, len(m.audits))
	for i := len(m.audits) - 1; i >= 0; i-- {
		out = append(out, m.audits[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// =============================================================================
// LOCKED HELPERS
// =============================================================================

func (m *Memory) accountLocked(id generic.AccountID) (generic.Account, error) {
	a, ok := m.accounts[id]
	if !ok {
		return generic.Account{}, fmt.Errorf("%w: %s", generic.ErrAccountNotFound, id)
	}
	return a, nil
}

func (m *Memory) openAccountLocked(acct generic.Account) error {
	if _, ok := m.accounts[acct.ID]; ok {
		return fmt.Errorf("%w: %s", generic.ErrDuplicateAccount, acct.ID)
	}
	if acct.Balance.Value.IsNegative() {
		return generic.ErrNegativeAmount
	}
	now := m.now()
	acct.Balance = generic.ZeroPoints().Add(acct.Balance)
	acct.CreatedAt, acct.UpdatedAt = now, now
	m.accounts[acct.ID] = acct
	m.entries = append(m.entries, generic.Entry{
		ID:        generic.NewEntryID(),
		AccountID: acct.ID,
		Delta:     acct.Balance,
		Kind:      generic.EntryOpening,
		CreatedAt: now,
	})
	return nil
}

func (m *Memory) adjustLocked(id generic.AccountID, delta generic.Amount) error {
	a, ok := m.accounts[id]
	if !ok {
		return fmt.Errorf("%w: %s", generic.ErrAccountNotFound, id)
	}
	next := a.Balance.Add(delta)
	if next.IsNegative() {
		return &generic.InsufficientBalanceError{AccountID: id, Required: delta.Abs(), Available: a.Balance}
	}
	a.Balance = next
	a.UpdatedAt = m.now()
	m.accounts[id] = a
	return nil
}

func (m *Memory) reactionLocked(actor generic.AccountID, ref generic.TargetRef) generic.ReactionState {
	if s, ok := m.reactions[reactionKey{Actor: actor, Target: ref.Key()}]; ok {
		return s
	}
	return generic.StateNone
}

func (m *Memory) setReactionLocked(actor generic.AccountID, ref generic.TargetRef, state generic.ReactionState) error {
	if !state.Valid() {
		return fmt.Errorf("%w: state %q", generic.ErrInvalidReaction, state)
	}
	k := reactionKey{Actor: actor, Target: ref.Key()}
	if state == generic.StateNone {
		delete(m.reactions, k)
		return nil
	}
	m.reactions[k] = state
	return nil
}

func (m *Memory) countLocked(ref generic.TargetRef) (likes, dislikes int64) {
	key := ref.Key()
	for k, s := range m.reactions {
		if k.Target != key {
			continue
		}
		switch s {
		case generic.StateLiked:
			likes++
		case generic.StateDisliked:
			dislikes++
		}
	}
	return likes, dislikes
}

func (m *Memory) targetLocked(ref generic.TargetRef) (generic.Target, error) {
	t, ok := m.targets[ref.Key()]
	if !ok {
		return generic.Target{}, &generic.TargetNotFoundError{Ref: ref}
	}
	return t, nil
}

func (m *Memory) registerTargetLocked(t generic.Target) error {
	if _, ok := m.targets[t.Ref.Key()]; ok {
		return fmt.Errorf("%w: %s", generic.ErrDuplicateTarget, t.Ref)
	}
	t.LikeCount, t.DislikeCount = 0, 0
	t.CreatedAt = m.now()
	m.targets[t.Ref.Key()] = t
	return nil
}

func (m *Memory) adjustCountersLocked(ref generic.TargetRef, likeDelta, dislikeDelta int64) error {
	t, ok := m.targets[ref.Key()]
	if !ok {
		return &generic.TargetNotFoundError{Ref: ref}
	}
	if t.LikeCount+likeDelta < 0 || t.DislikeCount+dislikeDelta < 0 {
		return fmt.Errorf("counter underflow on %s", ref)
	}
	t.LikeCount += likeDelta
	t.DislikeCount += dislikeDelta
	m.targets[ref.Key()] = t
	return nil
}

func (m *Memory) appendEntriesLocked(entries []generic.Entry) {
	now := m.now()
	for _, e := range entries {
		if e.ID == "" {
			e.ID = generic.NewEntryID()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		m.entries = append(m.entries, e)
	}
}

func (m *Memory) entriesLocked(id generic.AccountID, limit int) []generic.Entry {
	var out []generic.Entry
	for _, e := range m.entries {
		if e.AccountID == id {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
