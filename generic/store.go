/*
store.go - Persistence interfaces for balances, reactions, targets and the journal

PURPOSE:
  Defines the interface between the reaction engine and the datastore.
  Different implementations use SQLite, PostgreSQL (via gorm) or memory.

KEY INTERFACES:
  BalanceStore:  Per-account point balances (debit/credit, never negative)
  ReactionStore: Tri-state reaction per (actor, target)
  TargetStore:   Owner lookup and like/dislike counters
  Journal:       Append-only record of every balance movement
  TxStore:       Scoped transaction locked on one (actor, target) pair
  AccountLocker: Optional row locks on every account a toggle touches

PAIR-SCOPED TRANSACTIONS:
  WithPair() is the only way the engine mutates state. The implementation
  must guarantee that:
  - no two WithPair calls for the same (actor, target) interleave
  - every write inside fn commits together or not at all
  - a returned error (or panic) rolls everything back

ACCOUNT LOCKS:
  Two pairs can share accounts (A reacts to B's post while B reacts to A's).
  A Store that takes row locks implements AccountLocker; the engine calls it
  first inside WithPair with every account the toggle touches, in LockOrder,
  so concurrent toggles always acquire rows in the same order.

IMPLEMENTATIONS:
  - generic/store/memory.go: In-memory, for tests and demos
  - store/sqlite/sqlite.go: SQLite with BEGIN IMMEDIATE
  - store/orm/orm.go: gorm (PostgreSQL advisory + row locks)

SEE ALSO:
  - reaction/engine.go: The single caller of WithPair
  - ledger.go: Journal replay
*/
package generic

import (
	"context"
	"sort"
	"time"
)

// =============================================================================
// REACTION STATE
// =============================================================================

// ReactionState is the stored reaction of one actor on one target.
// StateNone is never persisted; it is the absence of a record.
type ReactionState string

const (
	StateNone     ReactionState = "none"
	StateLiked    ReactionState = "liked"
	StateDisliked ReactionState = "disliked"
)

func (s ReactionState) Valid() bool {
	switch s {
	case StateNone, StateLiked, StateDisliked:
		return true
	}
	return false
}

// =============================================================================
// STORE INTERFACES
// =============================================================================

// BalanceStore holds per-account point balances.
type BalanceStore interface {
	// Account returns the account record or ErrAccountNotFound.
	Account(ctx context.Context, id AccountID) (Account, error)

	// OpenAccount creates an account with its initial balance and writes the
	// opening journal entry. Returns ErrDuplicateAccount if it exists.
	OpenAccount(ctx context.Context, acct Account) error

	// Balance returns the current balance.
	Balance(ctx context.Context, id AccountID) (Amount, error)

	// Debit subtracts amount; fails with *InsufficientBalanceError if
	// amount > balance.
	Debit(ctx context.Context, id AccountID, amount Amount) error

	// Credit adds amount.
	Credit(ctx context.Context, id AccountID, amount Amount) error
}

// ReactionStore holds the tri-state reaction per (actor, target).
type ReactionStore interface {
	Reaction(ctx context.Context, actor AccountID, ref TargetRef) (ReactionState, error)

	// SetReaction upserts the record; StateNone deletes it.
	SetReaction(ctx context.Context, actor AccountID, ref TargetRef, state ReactionState) error

	// CountReactions counts stored liked/disliked records for a target.
	CountReactions(ctx context.Context, ref TargetRef) (likes, dislikes int64, err error)
}

// TargetStore resolves reactable entities and their counters.
type TargetStore interface {
	// Target returns the target or *TargetNotFoundError.
	Target(ctx context.Context, ref TargetRef) (Target, error)

	// RegisterTarget publishes a new target with zero counters.
	RegisterTarget(ctx context.Context, t Target) error

	// AdjustCounters applies deltas to like_count and dislike_count.
	AdjustCounters(ctx context.Context, ref TargetRef, likeDelta, dislikeDelta int64) error
}

// Journal is the append-only record of balance movements.
// No Update, no Delete.
type Journal interface {
	AppendEntries(ctx context.Context, entries []Entry) error

	// Entries returns an account's entries, oldest first.
	// limit <= 0 returns all of them.
	Entries(ctx context.Context, id AccountID, limit int) ([]Entry, error)
}

// Store is everything the engine reads and writes inside a transaction.
type Store interface {
	BalanceStore
	ReactionStore
	TargetStore
	Journal
}

// TxStore wraps Store with pair-scoped transactions.
type TxStore interface {
	Store

	// WithPair executes fn within one transaction holding the lock for
	// (actor, ref). If fn returns an error the transaction is rolled back.
	WithPair(ctx context.Context, actor AccountID, ref TargetRef, fn func(Store) error) error
}

// AccountLocker is implemented by stores that lock account rows explicitly.
// LockAccounts must be called before any balance is read or written.
type AccountLocker interface {
	LockAccounts(ctx context.Context, ids ...AccountID) error
}

// LockOrder returns ids deduplicated and sorted, skipping empty ones.
func LockOrder(ids ...AccountID) []AccountID {
	seen := make(map[AccountID]struct{}, len(ids))
	out := make([]AccountID, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// =============================================================================
// POLICY RECORDS
// =============================================================================

// PolicyRecord is a stored per-target-type policy in its JSON form.
type PolicyRecord struct {
	TargetType string
	ConfigJSON string
	Version    int
	UpdatedAt  time.Time
}

// PolicyStore persists policy configuration.
type PolicyStore interface {
	SavePolicy(ctx context.Context, p PolicyRecord) error
	ListPolicies(ctx context.Context) ([]PolicyRecord, error)
}

// =============================================================================
// AUDIT
// =============================================================================

type AuditStatus string

const (
	AuditRunning AuditStatus = "running"
	AuditClean   AuditStatus = "clean"
	AuditDrift   AuditStatus = "drift"
	AuditFailed  AuditStatus = "failed"
)

// Drift describes one inconsistency found by the auditor.
type Drift struct {
	Kind     string // "like_count", "dislike_count", "balance"
	Subject  string // target key or account id
	Stored   string
	Expected string
}

// AuditRun records one pass of the consistency auditor.
type AuditRun struct {
	ID              string
	Status          AuditStatus
	TargetsChecked  int
	AccountsChecked int
	Drifts          []Drift
	Error           string
	StartedAt       time.Time
	CompletedAt     time.Time
}

// AuditStore exposes the full-scan queries the auditor needs.
type AuditStore interface {
	ListTargets(ctx context.Context) ([]Target, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	SaveAuditRun(ctx context.Context, run AuditRun) error
	AuditRuns(ctx context.Context, limit int) ([]AuditRun, error)
}

// Backend is the complete datastore surface used by the API.
type Backend interface {
	TxStore
	PolicyStore
	AuditStore

	// Reset deletes all data. Demo and test use only.
	Reset(ctx context.Context) error
	// Ping checks that the datastore is reachable.
	Ping(ctx context.Context) error
	Close() error
}
