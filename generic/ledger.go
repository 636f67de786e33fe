/*
ledger.go - Journal replay

PURPOSE:
  The journal is the audit trail of every balance movement. Stored balances
  are the fast path the engine reads; the journal is what explains them.
  For every account: balance == sum of its journal deltas.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. COMPLETE: Every Debit/Credit done by the engine has an entry
  3. BALANCED PER TOGGLE: actor, owner and platform entries of one toggle
     share a Transition name and target reference

SEE ALSO:
  - store.go: Journal interface
  - api/scheduler.go: Auditor comparing balances with replayed journals
*/
package generic

import (
	"context"

	"github.com/google/uuid"
)

// Ledger reads an account's journal and derives balances from it.
type Ledger struct {
	Journal Journal
}

func NewLedger(j Journal) *Ledger {
	return &Ledger{Journal: j}
}

// Entries returns the newest-last journal for an account.
func (l *Ledger) Entries(ctx context.Context, id AccountID, limit int) ([]Entry, error) {
	return l.Journal.Entries(ctx, id, limit)
}

// Replay computes the balance an account should have from its journal.
func (l *Ledger) Replay(ctx context.Context, id AccountID) (Amount, error) {
	entries, err := l.Journal.Entries(ctx, id, 0)
	if err != nil {
		return Amount{}, err
	}
	return SumEntries(entries), nil
}

// SumEntries adds up entry deltas.
func SumEntries(entries []Entry) Amount {
	total := ZeroPoints()
	for _, e := range entries {
		total = total.Add(e.Delta)
	}
	return total
}

// NewEntryID returns a fresh journal entry ID.
func NewEntryID() EntryID {
	return EntryID(uuid.NewString())
}
