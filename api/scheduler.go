/*
scheduler.go - Periodic consistency auditor

PURPOSE:
  Verifies that the denormalized data agrees with its sources of truth:
  - per target: like_count / dislike_count equal the number of liked /
    disliked reaction records
  - per account: balance equals the sum of its journal entries

  Every run is stored as an AuditRun. Drift is logged at warn level and
  counted in metrics. The auditor only reads; it never repairs balances
  or counters.

DESIGN:
  - Runs a background goroutine with a configurable interval
  - Runs once immediately on Start
  - RunOnce is also exposed through POST /api/audit/run and `server audit`

  Reads are not taken under the pair locks, so a run that overlaps live
  toggles can report transient drift. A drift that persists across runs
  is real.

USAGE:
  auditor := NewAuditor(store)
  auditor.Interval = 10 * time.Minute
  auditor.Start()
  // ... later
  auditor.Stop()

SEE ALSO:
  - handlers.go: ListAuditRuns, RunAudit endpoints
  - generic/ledger.go: Replay
*/
package api

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nuxni/reaction-engine/generic"
	"github.com/nuxni/reaction-engine/logger"
	"github.com/nuxni/reaction-engine/metrics"
)

// AuditBackend is the store surface the auditor reads.
type AuditBackend interface {
	generic.Store
	generic.AuditStore
}

// Auditor checks counters and balances on a schedule.
type Auditor struct {
	Store    AuditBackend
	Interval time.Duration
	Enabled  bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	runMu  sync.Mutex
}

// NewAuditor creates an enabled auditor with a 10 minute interval.
func NewAuditor(store AuditBackend) *Auditor {
	return &Auditor{
		Store:    store,
		Interval: 10 * time.Minute,
		Enabled:  true,
	}
}

// Start begins the schedule.
func (a *Auditor) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.Enabled {
		logger.Log.Info("auditor disabled, not starting")
		return
	}
	if a.ticker != nil {
		return
	}

	a.ticker = time.NewTicker(a.Interval)
	a.stop = make(chan struct{})
	a.wg.Add(1)

	go a.run()

	logger.Log.Info("auditor started", zap.Duration("interval", a.Interval))
}

// Stop stops the schedule and waits for an in-flight run.
func (a *Auditor) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ticker == nil {
		return
	}
	a.ticker.Stop()
	close(a.stop)
	a.wg.Wait()
	a.ticker = nil
	logger.Log.Info("auditor stopped")
}

func (a *Auditor) run() {
	defer a.wg.Done()

	a.runScheduled()
	for {
		select {
		case <-a.ticker.C:
			a.runScheduled()
		case <-a.stop:
			return
		}
	}
}

func (a *Auditor) runScheduled() {
	timeout := a.Interval
	if timeout < time.Minute {
		timeout = time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if _, err := a.RunOnce(ctx); err != nil {
		logger.ErrorWithFields("scheduled audit failed", err)
	}
}

// RunOnce performs one audit pass and stores its record. Runs are
// serialized; a concurrent caller waits for the current run.
func (a *Auditor) RunOnce(ctx context.Context) (generic.AuditRun, error) {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	m := metrics.Get()
	run := generic.AuditRun{
		ID:        uuid.NewString(),
		Status:    generic.AuditRunning,
		StartedAt: time.Now().UTC(),
	}

	drifts, targets, accounts, err := a.check(ctx)
	run.TargetsChecked = targets
	run.AccountsChecked = accounts
	run.Drifts = drifts
	run.CompletedAt = time.Now().UTC()

	switch {
	case err != nil:
		run.Status = generic.AuditFailed
		run.Error = err.Error()
	case len(drifts) > 0:
		run.Status = generic.AuditDrift
	default:
		run.Status = generic.AuditClean
	}
	m.AuditRuns.WithLabelValues(string(run.Status)).Inc()

	for _, d := range drifts {
		m.AuditDrift.WithLabelValues(d.Kind).Inc()
		logger.Warn("audit drift",
			zap.String("kind", d.Kind),
			zap.String("subject", d.Subject),
			zap.String("stored", d.Stored),
			zap.String("expected", d.Expected),
		)
	}

	// Record the run even when the checks failed midway.
	if saveErr := a.Store.SaveAuditRun(context.WithoutCancel(ctx), run); saveErr != nil {
		if err == nil {
			err = saveErr
		}
		logger.ErrorWithFields("failed to save audit run", saveErr)
	}
	if err != nil {
		return run, fmt.Errorf("audit %s: %w", run.ID, err)
	}

	logger.Log.Info("audit completed",
		zap.String("id", run.ID),
		zap.String("status", string(run.Status)),
		zap.Int("targets", targets),
		zap.Int("accounts", accounts),
		zap.Int("drifts", len(drifts)),
	)
	return run, nil
}

func (a *Auditor) check(ctx context.Context) (drifts []generic.Drift, targetsChecked, accountsChecked int, err error) {
	targets, err := a.Store.ListTargets(ctx)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("list targets: %w", err)
	}
	for _, t := range targets {
		likes, dislikes, err := a.Store.CountReactions(ctx, t.Ref)
		if err != nil {
			return drifts, targetsChecked, 0, fmt.Errorf("count reactions on %s: %w", t.Ref, err)
		}
		if likes != t.LikeCount {
			drifts = append(drifts, countDrift("like_count", t.Ref, t.LikeCount, likes))
		}
		if dislikes != t.DislikeCount {
			drifts = append(drifts, countDrift("dislike_count", t.Ref, t.DislikeCount, dislikes))
		}
		targetsChecked++
	}

	accounts, err := a.Store.ListAccounts(ctx)
	if err != nil {
		return drifts, targetsChecked, 0, fmt.Errorf("list accounts: %w", err)
	}
	ledger := generic.NewLedger(a.Store)
	for _, acct := range accounts {
		replayed, err := ledger.Replay(ctx, acct.ID)
		if err != nil {
			return drifts, targetsChecked, accountsChecked, fmt.Errorf("replay %s: %w", acct.ID, err)
		}
		if !replayed.Equal(acct.Balance) {
			drifts = append(drifts, generic.Drift{
				Kind:     "balance",
				Subject:  string(acct.ID),
				Stored:   acct.Balance.String(),
				Expected: replayed.String(),
			})
		}
		accountsChecked++
	}
	return drifts, targetsChecked, accountsChecked, nil
}

func countDrift(kind string, ref generic.TargetRef, stored, expected int64) generic.Drift {
	return generic.Drift{
		Kind:     kind,
		Subject:  ref.Key(),
		Stored:   strconv.FormatInt(stored, 10),
		Expected: strconv.FormatInt(expected, 10),
	}
}
