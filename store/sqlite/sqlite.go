/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements generic.Backend (balances, reactions, targets, journal,
  policies, audit runs) on SQLite. Used for local development, single-node
  deployments and the API tests.

INTERFACES IMPLEMENTED:
  generic.TxStore:     Pair-scoped transactions over the four core stores
  generic.PolicyStore: Versioned per-target-type policy JSON
  generic.AuditStore:  Full scans and auditor run history

APPEND-ONLY ENFORCEMENT:
  The journal is written with INSERT only:
  - No UPDATE statements on ledger_entries
  - No DELETE statements on ledger_entries
  - Every balance change has a matching entry written in the same transaction

KEY TABLES:
  accounts:       Current balances (CHECK balance >= 0)
  targets:        Reactable entities with like/dislike counters
  reactions:      One row per (actor, target) that is liked or disliked
  ledger_entries: Immutable journal of balance movements
  policies:       Per-target-type policy config (versioned)
  audit_runs:     Consistency auditor history

CONCURRENCY:
  The pool is limited to one connection and every transaction starts with
  BEGIN IMMEDIATE (_txlock=immediate), so writers are serialized by SQLite
  itself. A busy or locked database surfaces as generic.ErrConcurrencyConflict
  and the engine retries once.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Readers don't block the writer
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/points.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := reaction.NewEngine(store, reaction.Config{PlatformAccount: "1"})

MIGRATION:
  Schema is auto-migrated on New(). The PostgreSQL backend (store/orm) is
  migrated by gorm instead.

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
  - store/orm/orm.go: gorm implementation for PostgreSQL
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/nuxni/reaction-engine/generic"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	*conn
	db *sql.DB
}

var (
	_ generic.Backend = (*Store)(nil)
	_ generic.Store   = (*conn)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	dsn := dbPath + sep + "_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: ":memory:" databases are per-connection, and a single
	// writer is all SQLite supports anyway.
	db.SetMaxOpenConns(1)

	store := &Store{conn: &conn{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		balance INTEGER NOT NULL CHECK (balance >= 0),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS targets (
		target_type TEXT NOT NULL,
		target_id TEXT NOT NULL,
		owner_id TEXT NOT NULL REFERENCES accounts(id),
		like_count INTEGER NOT NULL DEFAULT 0 CHECK (like_count >= 0),
		dislike_count INTEGER NOT NULL DEFAULT 0 CHECK (dislike_count >= 0),
		created_at TEXT NOT NULL,
		PRIMARY KEY (target_type, target_id)
	);

	CREATE INDEX IF NOT EXISTS idx_targets_owner ON targets(owner_id);

	-- Absence of a row means "none"
	CREATE TABLE IF NOT EXISTS reactions (
		actor_id TEXT NOT NULL,
		target_type TEXT NOT NULL,
		target_id TEXT NOT NULL,
		state TEXT NOT NULL CHECK (state IN ('liked', 'disliked')),
		updated_at TEXT NOT NULL,
		PRIMARY KEY (actor_id, target_type, target_id)
	);

	CREATE INDEX IF NOT EXISTS idx_reactions_target
		ON reactions(target_type, target_id, state);

	-- Journal (append-only)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		account_id TEXT NOT NULL,
		delta INTEGER NOT NULL,
		kind TEXT NOT NULL,
		target_type TEXT,
		target_id TEXT,
		actor_id TEXT,
		transition TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_entries_account
		ON ledger_entries(account_id, seq);

	CREATE TABLE IF NOT EXISTS policies (
		target_type TEXT PRIMARY KEY,
		config_json TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS audit_runs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		targets_checked INTEGER NOT NULL DEFAULT 0,
		accounts_checked INTEGER NOT NULL DEFAULT 0,
		drifts_json TEXT NOT NULL DEFAULT '[]',
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_runs_started
		ON audit_runs(started_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Reset deletes all data. Used by the scenario loader and tests.
func (s *Store) Reset(ctx context.Context) error {
	tables := []string{"audit_runs", "policies", "ledger_entries", "reactions", "targets", "accounts"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// PAIR TRANSACTIONS
// =============================================================================

// WithPair executes fn within a BEGIN IMMEDIATE transaction. The write lock
// is taken before the first read, so the pair cannot change underneath fn.
func (s *Store) WithPair(ctx context.Context, _ generic.AccountID, _ generic.TargetRef, fn func(generic.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", classify(err))
	}
	defer sqlTx.Rollback()

	if err := fn(&conn{q: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", classify(err))
	}
	return nil
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn implements generic.Store on top of a queryer. Outside WithPair every
// call auto-commits on its own.
type conn struct {
	q queryer
}

// =============================================================================
// BALANCE STORE
// =============================================================================

func (c *conn) Account(ctx context.Context, id generic.AccountID) (generic.Account, error) {
	var a generic.Account
	var balance int64
	var createdAt, updatedAt string

	err := c.q.QueryRowContext(ctx,
		"SELECT id, name, balance, created_at, updated_at FROM accounts WHERE id = ?",
		string(id),
	).Scan(&a.ID, &a.Name, &balance, &createdAt, &updatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return generic.Account{}, fmt.Errorf("%w: %s", generic.ErrAccountNotFound, id)
	}
	if err != nil {
		return generic.Account{}, classify(err)
	}

	a.Balance = generic.Points(balance)
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return a, nil
}

// OpenAccount inserts the account and its opening entry in one transaction.
func (c *conn) OpenAccount(ctx context.Context, acct generic.Account) error {
	if acct.Balance.IsNegative() {
		return generic.ErrNegativeAmount
	}
	db, ok := c.q.(*sql.DB)
	if !ok {
		return c.openAccount(ctx, acct)
	}

	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", classify(err))
	}
	defer sqlTx.Rollback()

	if err := (&conn{q: sqlTx}).openAccount(ctx, acct); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", classify(err))
	}
	return nil
}

func (c *conn) openAccount(ctx context.Context, acct generic.Account) error {
	now := time.Now().UTC()
	_, err := c.q.ExecContext(ctx,
		"INSERT INTO accounts (id, name, balance, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		string(acct.ID), acct.Name, acct.Balance.Int64(), formatTime(now), formatTime(now),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s", generic.ErrDuplicateAccount, acct.ID)
		}
		return fmt.Errorf("failed to open account: %w", classify(err))
	}

	return c.AppendEntries(ctx, []generic.Entry{{
		ID:        generic.NewEntryID(),
		AccountID: acct.ID,
		Delta:     generic.Points(acct.Balance.Int64()),
		Kind:      generic.EntryOpening,
		CreatedAt: now,
	}})
}

func (c *conn) Balance(ctx context.Context, id generic.AccountID) (generic.Amount, error) {
	var balance int64
	err := c.q.QueryRowContext(ctx, "SELECT balance FROM accounts WHERE id = ?", string(id)).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.Amount{}, fmt.Errorf("%w: %s", generic.ErrAccountNotFound, id)
	}
	if err != nil {
		return generic.Amount{}, classify(err)
	}
	return generic.Points(balance), nil
}

// Debit subtracts amount only if the balance covers it.
func (c *conn) Debit(ctx context.Context, id generic.AccountID, amount generic.Amount) error {
	if amount.IsNegative() {
		return generic.ErrNegativeAmount
	}
	res, err := c.q.ExecContext(ctx,
		"UPDATE accounts SET balance = balance - ?, updated_at = ? WHERE id = ? AND balance >= ?",
		amount.Int64(), formatTime(time.Now().UTC()), string(id), amount.Int64(),
	)
	if err != nil {
		return fmt.Errorf("failed to debit %s: %w", id, classify(err))
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	available, err := c.Balance(ctx, id)
	if err != nil {
		return err
	}
	return &generic.InsufficientBalanceError{AccountID: id, Required: amount, Available: available}
}

func (c *conn) Credit(ctx context.Context, id generic.AccountID, amount generic.Amount) error {
	if amount.IsNegative() {
		return generic.ErrNegativeAmount
	}
	res, err := c.q.ExecContext(ctx,
		"UPDATE accounts SET balance = balance + ?, updated_at = ? WHERE id = ?",
		amount.Int64(), formatTime(time.Now().UTC()), string(id),
	)
	if err != nil {
		return fmt.Errorf("failed to credit %s: %w", id, classify(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", generic.ErrAccountNotFound, id)
	}
	return nil
}

// =============================================================================
// REACTION STORE
// =============================================================================

func (c *conn) Reaction(ctx context.Context, actor generic.AccountID, ref generic.TargetRef) (generic.ReactionState, error) {
	var state string
	err := c.q.QueryRowContext(ctx,
		"SELECT state FROM reactions WHERE actor_id = ? AND target_type = ? AND target_id = ?",
		string(actor), typeID(ref), ref.ID,
	).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.StateNone, nil
	}
	if err != nil {
		return generic.StateNone, classify(err)
	}
	return generic.ReactionState(state), nil
}

func (c *conn) SetReaction(ctx context.Context, actor generic.AccountID, ref generic.TargetRef, state generic.ReactionState) error {
	if !state.Valid() {
		return fmt.Errorf("%w: state %q", generic.ErrInvalidReaction, state)
	}

	var err error
	if state == generic.StateNone {
		_, err = c.q.ExecContext(ctx,
			"DELETE FROM reactions WHERE actor_id = ? AND target_type = ? AND target_id = ?",
			string(actor), typeID(ref), ref.ID,
		)
	} else {
		_, err = c.q.ExecContext(ctx, `
			INSERT INTO reactions (actor_id, target_type, target_id, state, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(actor_id, target_type, target_id) DO UPDATE SET
				state = excluded.state,
				updated_at = excluded.updated_at
		`, string(actor), typeID(ref), ref.ID, string(state), formatTime(time.Now().UTC()))
	}
	if err != nil {
		return fmt.Errorf("failed to set reaction: %w", classify(err))
	}
	return nil
}

func (c *conn) CountReactions(ctx context.Context, ref generic.TargetRef) (int64, int64, error) {
	var likes, dislikes int64
	err := c.q.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN state = 'liked' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN state = 'disliked' THEN 1 ELSE 0 END), 0)
		FROM reactions
		WHERE target_type = ? AND target_id = ?
	`, typeID(ref), ref.ID).Scan(&likes, &dislikes)
	if err != nil {
		return 0, 0, classify(err)
	}
	return likes, dislikes, nil
}

// =============================================================================
// TARGET STORE
// =============================================================================

func (c *conn) Target(ctx context.Context, ref generic.TargetRef) (generic.Target, error) {
	row := c.q.QueryRowContext(ctx, `
		SELECT target_type, target_id, owner_id, like_count, dislike_count, created_at
		FROM targets WHERE target_type = ? AND target_id = ?
	`, typeID(ref), ref.ID)

	t, err := scanTarget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.Target{}, &generic.TargetNotFoundError{Ref: ref}
	}
	if err != nil {
		return generic.Target{}, classify(err)
	}
	return t, nil
}

func (c *conn) RegisterTarget(ctx context.Context, t generic.Target) error {
	if t.Ref.Type == nil {
		return generic.ErrUnknownTargetType
	}
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO targets (target_type, target_id, owner_id, like_count, dislike_count, created_at)
		VALUES (?, ?, ?, 0, 0, ?)
	`, typeID(t.Ref), t.Ref.ID, string(t.OwnerID), formatTime(time.Now().UTC()))
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s", generic.ErrDuplicateTarget, t.Ref)
		}
		if isForeignKeyError(err) {
			return fmt.Errorf("%w: owner %s", generic.ErrAccountNotFound, t.OwnerID)
		}
		return fmt.Errorf("failed to register target: %w", classify(err))
	}
	return nil
}

func (c *conn) AdjustCounters(ctx context.Context, ref generic.TargetRef, likeDelta, dislikeDelta int64) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE targets
		SET like_count = like_count + ?, dislike_count = dislike_count + ?
		WHERE target_type = ? AND target_id = ?
	`, likeDelta, dislikeDelta, typeID(ref), ref.ID)
	if err != nil {
		if isCheckConstraintError(err) {
			return fmt.Errorf("counter underflow on %s", ref)
		}
		return fmt.Errorf("failed to adjust counters: %w", classify(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &generic.TargetNotFoundError{Ref: ref}
	}
	return nil
}

// =============================================================================
// JOURNAL
// =============================================================================

func (c *conn) AppendEntries(ctx context.Context, entries []generic.Entry) error {
	query := `
		INSERT INTO ledger_entries
		(id, account_id, delta, kind, target_type, target_id, actor_id, transition, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now().UTC()
	for _, e := range entries {
		if e.ID == "" {
			e.ID = generic.NewEntryID()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		var tt, tid string
		if e.Target.Type != nil {
			tt, tid = e.Target.Type.TypeID(), e.Target.ID
		}
		_, err := c.q.ExecContext(ctx, query,
			string(e.ID), string(e.AccountID), e.Delta.Int64(), string(e.Kind),
			nullString(tt), nullString(tid), nullString(string(e.ActorID)),
			nullString(e.Transition), formatTime(e.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to append entry: %w", classify(err))
		}
	}
	return nil
}

// Entries returns the account's most recent entries, oldest first.
func (c *conn) Entries(ctx context.Context, id generic.AccountID, limit int) ([]generic.Entry, error) {
	query := `
		SELECT * FROM (
			SELECT seq, id, account_id, delta, kind, target_type, target_id, actor_id, transition, created_at
			FROM ledger_entries WHERE account_id = ?
			ORDER BY seq DESC
			LIMIT ?
		) ORDER BY seq ASC
	`
	if limit <= 0 {
		limit = -1
	}

	rows, err := c.q.QueryContext(ctx, query, string(id), limit)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var entries []generic.Entry
	for rows.Next() {
		var e generic.Entry
		var seq, delta int64
		var tt, tid, actor, transition sql.NullString
		var createdAt string
		if err := rows.Scan(&seq, &e.ID, &e.AccountID, &delta, &e.Kind, &tt, &tid, &actor, &transition, &createdAt); err != nil {
			return nil, err
		}
		e.Delta = generic.Points(delta)
		if tt.Valid {
			e.Target = generic.TargetRef{Type: generic.GetOrCreateTargetType(tt.String), ID: tid.String}
		}
		e.ActorID = generic.AccountID(actor.String)
		e.Transition = transition.String
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// POLICY STORE
// =============================================================================

// SavePolicy upserts a policy, bumping its version.
func (s *Store) SavePolicy(ctx context.Context, p generic.PolicyRecord) error {
	query := `
		INSERT INTO policies (target_type, config_json, version, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(target_type) DO UPDATE SET
			config_json = excluded.config_json,
			version = policies.version + 1,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query, p.TargetType, p.ConfigJSON, formatTime(time.Now().UTC()))
	return classify(err)
}

// ListPolicies returns all stored policies ordered by target type.
func (s *Store) ListPolicies(ctx context.Context) ([]generic.PolicyRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT target_type, config_json, version, updated_at FROM policies ORDER BY target_type",
	)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var policies []generic.PolicyRecord
	for rows.Next() {
		var p generic.PolicyRecord
		var updatedAt string
		if err := rows.Scan(&p.TargetType, &p.ConfigJSON, &p.Version, &updatedAt); err != nil {
			return nil, err
		}
		p.UpdatedAt = parseTime(updatedAt)
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// =============================================================================
// AUDIT STORE
// =============================================================================

func (s *Store) ListTargets(ctx context.Context) ([]generic.Target, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT target_type, target_id, owner_id, like_count, dislike_count, created_at
		FROM targets ORDER BY target_type, target_id
	`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var targets []generic.Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

func (s *Store) ListAccounts(ctx context.Context) ([]generic.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, balance, created_at, updated_at FROM accounts ORDER BY id",
	)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var accounts []generic.Account
	for rows.Next() {
		var a generic.Account
		var balance int64
		var createdAt, updatedAt string
		if err := rows.Scan(&a.ID, &a.Name, &balance, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		a.Balance = generic.Points(balance)
		a.CreatedAt = parseTime(createdAt)
		a.UpdatedAt = parseTime(updatedAt)
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// SaveAuditRun inserts or updates a run by ID.
func (s *Store) SaveAuditRun(ctx context.Context, r generic.AuditRun) error {
	query := `
		INSERT INTO audit_runs (id, status, targets_checked, accounts_checked,
			drifts_json, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			targets_checked = excluded.targets_checked,
			accounts_checked = excluded.accounts_checked,
			drifts_json = excluded.drifts_json,
			error = excluded.error,
			completed_at = excluded.completed_at
	`

	drifts := r.Drifts
	if drifts == nil {
		drifts = []generic.Drift{}
	}
	driftsJSON, err := json.Marshal(drifts)
	if err != nil {
		return err
	}

	var completedAt *string
	if !r.CompletedAt.IsZero() {
		v := formatTime(r.CompletedAt)
		completedAt = &v
	}

	_, err = s.db.ExecContext(ctx, query,
		r.ID, string(r.Status), r.TargetsChecked, r.AccountsChecked,
		string(driftsJSON), nullString(r.Error), formatTime(r.StartedAt), completedAt,
	)
	return classify(err)
}

// AuditRuns returns the newest runs first.
func (s *Store) AuditRuns(ctx context.Context, limit int) ([]generic.AuditRun, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, targets_checked, accounts_checked, drifts_json, error, started_at, completed_at
		FROM audit_runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var runs []generic.AuditRun
	for rows.Next() {
		var r generic.AuditRun
		var driftsJSON, startedAt string
		var runErr, completedAt sql.NullString
		if err := rows.Scan(&r.ID, &r.Status, &r.TargetsChecked, &r.AccountsChecked,
			&driftsJSON, &runErr, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(driftsJSON), &r.Drifts); err != nil {
			return nil, fmt.Errorf("audit run %s: %w", r.ID, err)
		}
		r.Error = runErr.String
		r.StartedAt = parseTime(startedAt)
		if completedAt.Valid {
			r.CompletedAt = parseTime(completedAt.String)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Helper functions

type scanner interface {
	Scan(dest ...any) error
}

func scanTarget(row scanner) (generic.Target, error) {
	var t generic.Target
	var tt, createdAt string
	if err := row.Scan(&tt, &t.Ref.ID, &t.OwnerID, &t.LikeCount, &t.DislikeCount, &createdAt); err != nil {
		return generic.Target{}, err
	}
	t.Ref.Type = generic.GetOrCreateTargetType(tt)
	t.CreatedAt = parseTime(createdAt)
	return t, nil
}

func typeID(ref generic.TargetRef) string {
	if ref.Type == nil {
		return ""
	}
	return ref.Type.TypeID()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// classify maps SQLite lock contention to generic.ErrConcurrencyConflict.
func classify(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %v", generic.ErrConcurrencyConflict, err)
	}
	return err
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) &&
		(se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
}

func isForeignKeyError(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintForeignKey
}

func isCheckConstraintError(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintCheck
}
