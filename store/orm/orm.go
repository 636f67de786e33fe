/*
Package orm implements generic.Backend with gorm.

PURPOSE:
  The production backend. PostgreSQL is the primary target; the gorm SQLite
  driver is supported so the same code runs in tests without a database
  server.

PAIR TRANSACTIONS (PostgreSQL):
  1. BEGIN ... ISOLATION LEVEL SERIALIZABLE
  2. pg_advisory_xact_lock(hashtext('<actor>|<type>/<id>'))
  3. Every read of a target or an account inside the transaction is
     SELECT ... FOR UPDATE
  4. Serialization failures (40001) and deadlocks (40P01) come back as
     generic.ErrConcurrencyConflict so the engine can retry once

PAIR TRANSACTIONS (SQLite):
  One connection, BEGIN IMMEDIATE. Row locks are skipped; SQLite has none.

TABLES:
  Same names and columns as store/sqlite, created with AutoMigrate.

SEE ALSO:
  - generic/store.go: Interface definitions
  - telemetry/gorm.go: Query tracing plugin
*/
package orm

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/nuxni/reaction-engine/generic"
	"github.com/nuxni/reaction-engine/lock"
	"github.com/nuxni/reaction-engine/telemetry"
)

// Dialects accepted by Open.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// Store implements generic.Backend on a *gorm.DB.
type Store struct {
	*conn
	db      *gorm.DB
	dialect string
}

var (
	_ generic.Backend = (*Store)(nil)
	_ generic.Store   = (*conn)(nil)
)

// Open connects, installs the tracing plugin and migrates the schema.
func Open(dialect, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch dialect {
	case DialectPostgres:
		dialector = postgres.Open(dsn)
	case DialectSQLite:
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dialector = sqlite.Open(dsn + sep + "_foreign_keys=on&_busy_timeout=5000&_txlock=immediate")
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	system := "postgresql"
	if dialect == DialectSQLite {
		system = "sqlite"
	}
	if err := db.Use(telemetry.GORMTracingPlugin(system)); err != nil {
		return nil, fmt.Errorf("failed to install tracing plugin: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if dialect == DialectSQLite {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(50)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	s := &Store{conn: &conn{db: db}, db: db, dialect: dialect}
	if err := s.Migrate(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates or updates the schema.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(
		&accountRow{},
		&targetRow{},
		&reactionRow{},
		&entryRow{},
		&policyRow{},
		&auditRunRow{},
	); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Reset deletes every row. Used by the scenario loader and tests.
func (s *Store) Reset(ctx context.Context) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{&auditRunRow{}, &policyRow{}, &entryRow{}, &reactionRow{}, &targetRow{}, &accountRow{}} {
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// =============================================================================
// MODELS
// =============================================================================

type accountRow struct {
	ID        string `gorm:"primaryKey"`
	Name      string `gorm:"not null;default:''"`
	Balance   int64  `gorm:"not null;check:chk_accounts_balance,balance >= 0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (accountRow) TableName() string { return "accounts" }

type targetRow struct {
	TargetType   string     `gorm:"primaryKey"`
	TargetID     string     `gorm:"primaryKey"`
	OwnerID      string     `gorm:"not null;index"`
	Owner        accountRow `gorm:"foreignKey:OwnerID;references:ID"`
	LikeCount    int64      `gorm:"not null;default:0"`
	DislikeCount int64      `gorm:"not null;default:0"`
	CreatedAt    time.Time
}

func (targetRow) TableName() string { return "targets" }

type reactionRow struct {
	ActorID    string `gorm:"primaryKey"`
	TargetType string `gorm:"primaryKey;index:idx_reactions_target"`
	TargetID   string `gorm:"primaryKey;index:idx_reactions_target"`
	State      string `gorm:"not null"`
	UpdatedAt  time.Time
}

func (reactionRow) TableName() string { return "reactions" }

type entryRow struct {
	Seq        int64  `gorm:"primaryKey;autoIncrement"`
	ID         string `gorm:"uniqueIndex;not null"`
	AccountID  string `gorm:"not null;index:idx_ledger_entries_account"`
	Delta      int64  `gorm:"not null"`
	Kind       string `gorm:"not null"`
	TargetType string
	TargetID   string
	ActorID    string
	Transition string
	CreatedAt  time.Time
}

func (entryRow) TableName() string { return "ledger_entries" }

type policyRow struct {
	TargetType string `gorm:"primaryKey"`
	ConfigJSON string `gorm:"not null"`
	Version    int    `gorm:"not null;default:1"`
	UpdatedAt  time.Time
}

func (policyRow) TableName() string { return "policies" }

type auditRunRow struct {
	ID              string `gorm:"primaryKey"`
	Status          string `gorm:"not null"`
	TargetsChecked  int
	AccountsChecked int
	DriftsJSON      string `gorm:"not null;default:'[]'"`
	Error           string
	StartedAt       time.Time `gorm:"index"`
	CompletedAt     *time.Time
}

func (auditRunRow) TableName() string { return "audit_runs" }

// =============================================================================
// PAIR TRANSACTIONS
// =============================================================================

// WithPair runs fn in one database transaction serialized on (actor, ref).
func (s *Store) WithPair(ctx context.Context, actor generic.AccountID, ref generic.TargetRef, fn func(generic.Store) error) error {
	var opts *sql.TxOptions
	if s.dialect == DialectPostgres {
		opts = &sql.TxOptions{Isolation: sql.LevelSerializable}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if s.dialect == DialectPostgres {
			key := lock.PairKey(string(actor), ref.Key())
			if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", key).Error; err != nil {
				return err
			}
		}
		return fn(&conn{db: tx, forUpdate: s.dialect == DialectPostgres})
	}, opts)
	return classify(err)
}

// conn implements generic.Store on a *gorm.DB, which is either the pool or
// an open transaction.
type conn struct {
	db        *gorm.DB
	forUpdate bool
}

func (c *conn) q(ctx context.Context) *gorm.DB {
	db := c.db.WithContext(ctx)
	if c.forUpdate {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return db
}

// LockAccounts takes row locks on ids in the order given. Without row
// locking (sqlite) the transaction already holds the write lock.
func (c *conn) LockAccounts(ctx context.Context, ids ...generic.AccountID) error {
	if !c.forUpdate || len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = string(id)
	}
	var locked []string
	return c.q(ctx).Model(&accountRow{}).
		Where("id IN ?", keys).
		Order("id").
		Pluck("id", &locked).Error
}

// =============================================================================
// BALANCE STORE
// =============================================================================

func (c *conn) Account(ctx context.Context, id generic.AccountID) (generic.Account, error) {
	var row accountRow
	err := c.q(ctx).Where("id = ?", string(id)).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return generic.Account{}, fmt.Errorf("%w: %s", generic.ErrAccountNotFound, id)
	}
	if err != nil {
		return generic.Account{}, classify(err)
	}
	return row.toAccount(), nil
}

func (c *conn) OpenAccount(ctx context.Context, acct generic.Account) error {
	if acct.Balance.IsNegative() {
		return generic.ErrNegativeAmount
	}
	now := time.Now().UTC()
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := accountRow{ID: string(acct.ID), Name: acct.Name, Balance: acct.Balance.Int64(), CreatedAt: now, UpdatedAt: now}
		if err := tx.Create(&row).Error; err != nil {
			if isDuplicate(err) {
				return fmt.Errorf("%w: %s", generic.ErrDuplicateAccount, acct.ID)
			}
			return fmt.Errorf("failed to open account: %w", classify(err))
		}
		return (&conn{db: tx}).AppendEntries(ctx, []generic.Entry{{
			AccountID: acct.ID,
			Delta:     generic.Points(row.Balance),
			Kind:      generic.EntryOpening,
			CreatedAt: now,
		}})
	})
}

func (c *conn) Balance(ctx context.Context, id generic.AccountID) (generic.Amount, error) {
	a, err := c.Account(ctx, id)
	if err != nil {
		return generic.Amount{}, err
	}
	return a.Balance, nil
}

// Debit subtracts amount only if the balance covers it.
func (c *conn) Debit(ctx context.Context, id generic.AccountID, amount generic.Amount) error {
	if amount.IsNegative() {
		return generic.ErrNegativeAmount
	}
	res := c.db.WithContext(ctx).Model(&accountRow{}).
		Where("id = ? AND balance >= ?", string(id), amount.Int64()).
		Updates(map[string]any{
			"balance":    gorm.Expr("balance - ?", amount.Int64()),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to debit %s: %w", id, classify(res.Error))
	}
	if res.RowsAffected == 1 {
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
	res := c.db.WithContext(ctx).Model(&accountRow{}).
		Where("id = ?", string(id)).
		Updates(map[string]any{
			"balance":    gorm.Expr("balance + ?", amount.Int64()),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to credit %s: %w", id, classify(res.Error))
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", generic.ErrAccountNotFound, id)
	}
	return nil
}

// =============================================================================
// REACTION STORE
// =============================================================================

func (c *conn) Reaction(ctx context.Context, actor generic.AccountID, ref generic.TargetRef) (generic.ReactionState, error) {
	var row reactionRow
	err := c.db.WithContext(ctx).
		Where("actor_id = ? AND target_type = ? AND target_id = ?", string(actor), typeID(ref), ref.ID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return generic.StateNone, nil
	}
	if err != nil {
		return generic.StateNone, classify(err)
	}
	return generic.ReactionState(row.State), nil
}

func (c *conn) SetReaction(ctx context.Context, actor generic.AccountID, ref generic.TargetRef, state generic.ReactionState) error {
	if !state.Valid() {
		return fmt.Errorf("%w: state %q", generic.ErrInvalidReaction, state)
	}

	db := c.db.WithContext(ctx)
	var err error
	if state == generic.StateNone {
		err = db.Where("actor_id = ? AND target_type = ? AND target_id = ?", string(actor), typeID(ref), ref.ID).
			Delete(&reactionRow{}).Error
	} else {
		row := reactionRow{
			ActorID:    string(actor),
			TargetType: typeID(ref),
			TargetID:   ref.ID,
			State:      string(state),
			UpdatedAt:  time.Now().UTC(),
		}
		err = db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "actor_id"}, {Name: "target_type"}, {Name: "target_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"state", "updated_at"}),
		}).Create(&row).Error
	}
	if err != nil {
		return fmt.Errorf("failed to set reaction: %w", classify(err))
	}
	return nil
}

func (c *conn) CountReactions(ctx context.Context, ref generic.TargetRef) (int64, int64, error) {
	var counts []struct {
		State string
		N     int64
	}
	err := c.db.WithContext(ctx).Model(&reactionRow{}).
		Select("state, COUNT(*) AS n").
		Where("target_type = ? AND target_id = ?", typeID(ref), ref.ID).
		Group("state").
		Scan(&counts).Error
	if err != nil {
		return 0, 0, classify(err)
	}

	var likes, dislikes int64
	for _, row := range counts {
		switch generic.ReactionState(row.State) {
		case generic.StateLiked:
			likes = row.N
		case generic.StateDisliked:
			dislikes = row.N
		}
	}
	return likes, dislikes, nil
}

// =============================================================================
// TARGET STORE
// =============================================================================

func (c *conn) Target(ctx context.Context, ref generic.TargetRef) (generic.Target, error) {
	var row targetRow
	err := c.q(ctx).Where("target_type = ? AND target_id = ?", typeID(ref), ref.ID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return generic.Target{}, &generic.TargetNotFoundError{Ref: ref}
	}
	if err != nil {
		return generic.Target{}, classify(err)
	}
	return row.toTarget(), nil
}

func (c *conn) RegisterTarget(ctx context.Context, t generic.Target) error {
	if t.Ref.Type == nil {
		return generic.ErrUnknownTargetType
	}
	row := targetRow{
		TargetType: typeID(t.Ref),
		TargetID:   t.Ref.ID,
		OwnerID:    string(t.OwnerID),
		CreatedAt:  time.Now().UTC(),
	}
	err := c.db.WithContext(ctx).Omit("Owner").Create(&row).Error
	switch {
	case err == nil:
		return nil
	case isDuplicate(err):
		return fmt.Errorf("%w: %s", generic.ErrDuplicateTarget, t.Ref)
	case isForeignKey(err):
		return fmt.Errorf("%w: owner %s", generic.ErrAccountNotFound, t.OwnerID)
	default:
		return fmt.Errorf("failed to register target: %w", classify(err))
	}
}

func (c *conn) AdjustCounters(ctx context.Context, ref generic.TargetRef, likeDelta, dislikeDelta int64) error {
	res := c.db.WithContext(ctx).Model(&targetRow{}).
		Where("target_type = ? AND target_id = ?", typeID(ref), ref.ID).
		Where("like_count + ? >= 0 AND dislike_count + ? >= 0", likeDelta, dislikeDelta).
		Updates(map[string]any{
			"like_count":    gorm.Expr("like_count + ?", likeDelta),
			"dislike_count": gorm.Expr("dislike_count + ?", dislikeDelta),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to adjust counters: %w", classify(res.Error))
	}
	if res.RowsAffected == 1 {
		return nil
	}
	if _, err := c.Target(ctx, ref); err != nil {
		return err
	}
	return fmt.Errorf("counter underflow on %s", ref)
}

// =============================================================================
// JOURNAL
// =============================================================================

func (c *conn) AppendEntries(ctx context.Context, entries []generic.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]entryRow, 0, len(entries))
	for _, e := range entries {
		if e.ID == "" {
			e.ID = generic.NewEntryID()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		rows = append(rows, fromEntry(e))
	}
	if err := c.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("failed to append entries: %w", classify(err))
	}
	return nil
}

// Entries returns the account's most recent entries, oldest first.
func (c *conn) Entries(ctx context.Context, id generic.AccountID, limit int) ([]generic.Entry, error) {
	var rows []entryRow
	q := c.db.WithContext(ctx).Where("account_id = ?", string(id)).Order("seq DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, classify(err)
	}

	entries := make([]generic.Entry, len(rows))
	for i, row := range rows {
		entries[len(rows)-1-i] = row.toEntry()
	}
	return entries, nil
}

// =============================================================================
// POLICY STORE
// =============================================================================

func (s *Store) SavePolicy(ctx context.Context, p generic.PolicyRecord) error {
	row := policyRow{TargetType: p.TargetType, ConfigJSON: p.ConfigJSON, Version: 1, UpdatedAt: time.Now().UTC()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "target_type"}},
		DoUpdates: clause.Assignments(map[string]any{
			"config_json": row.ConfigJSON,
			"version":     gorm.Expr("policies.version + 1"),
			"updated_at":  row.UpdatedAt,
		}),
	}).Create(&row).Error
	return classify(err)
}

func (s *Store) ListPolicies(ctx context.Context) ([]generic.PolicyRecord, error) {
	var rows []policyRow
	if err := s.db.WithContext(ctx).Order("target_type").Find(&rows).Error; err != nil {
		return nil, classify(err)
	}
	out := make([]generic.PolicyRecord, len(rows))
	for i, r := range rows {
		out[i] = generic.PolicyRecord{TargetType: r.TargetType, ConfigJSON: r.ConfigJSON, Version: r.Version, UpdatedAt: r.UpdatedAt}
	}
	return out, nil
}

// =============================================================================
// AUDIT STORE
// =============================================================================

func (s *Store) ListTargets(ctx context.Context) ([]generic.Target, error) {
	var rows []targetRow
	if err := s.db.WithContext(ctx).Order("target_type, target_id").Find(&rows).Error; err != nil {
		return nil, classify(err)
	}
	out := make([]generic.Target, len(rows))
	for i, r := range rows {
		out[i] = r.toTarget()
	}
	return out, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]generic.Account, error) {
	var rows []accountRow
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, classify(err)
	}
	out := make([]generic.Account, len(rows))
	for i, r := range rows {
		out[i] = r.toAccount()
	}
	return out, nil
}

func (s *Store) SaveAuditRun(ctx context.Context, run generic.AuditRun) error {
	drifts := run.Drifts
	if drifts == nil {
		drifts = []generic.Drift{}
	}
	driftsJSON, err := json.Marshal(drifts)
	if err != nil {
		return err
	}

	row := auditRunRow{
		ID:              run.ID,
		Status:          string(run.Status),
		TargetsChecked:  run.TargetsChecked,
		AccountsChecked: run.AccountsChecked,
		DriftsJSON:      string(driftsJSON),
		Error:           run.Error,
		StartedAt:       run.StartedAt,
	}
	if !run.CompletedAt.IsZero() {
		completed := run.CompletedAt
		row.CompletedAt = &completed
	}
	return classify(s.db.WithContext(ctx).Save(&row).Error)
}

// AuditRuns returns the newest runs first.
func (s *Store) AuditRuns(ctx context.Context, limit int) ([]generic.AuditRun, error) {
	var rows []auditRunRow
	q := s.db.WithContext(ctx).Order("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, classify(err)
	}

	out := make([]generic.AuditRun, 0, len(rows))
	for _, r := range rows {
		run := generic.AuditRun{
			ID:              r.ID,
			Status:          generic.AuditStatus(r.Status),
			TargetsChecked:  r.TargetsChecked,
			AccountsChecked: r.AccountsChecked,
			Error:           r.Error,
			StartedAt:       r.StartedAt,
		}
		if r.CompletedAt != nil {
			run.CompletedAt = *r.CompletedAt
		}
		if err := json.Unmarshal([]byte(r.DriftsJSON), &run.Drifts); err != nil {
			return nil, fmt.Errorf("audit run %s: %w", r.ID, err)
		}
		out = append(out, run)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func (r accountRow) toAccount() generic.Account {
	return generic.Account{
		ID:        generic.AccountID(r.ID),
		Name:      r.Name,
		Balance:   generic.Points(r.Balance),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func (r targetRow) toTarget() generic.Target {
	return generic.Target{
		Ref:          generic.TargetRef{Type: generic.GetOrCreateTargetType(r.TargetType), ID: r.TargetID},
		OwnerID:      generic.AccountID(r.OwnerID),
		LikeCount:    r.LikeCount,
		DislikeCount: r.DislikeCount,
		CreatedAt:    r.CreatedAt,
	}
}

func fromEntry(e generic.Entry) entryRow {
	row := entryRow{
		ID:         string(e.ID),
		AccountID:  string(e.AccountID),
		Delta:      e.Delta.Int64(),
		Kind:       string(e.Kind),
		ActorID:    string(e.ActorID),
		Transition: e.Transition,
		CreatedAt:  e.CreatedAt,
	}
	if e.Target.Type != nil {
		row.TargetType, row.TargetID = e.Target.Type.TypeID(), e.Target.ID
	}
	return row
}

func (r entryRow) toEntry() generic.Entry {
	e := generic.Entry{
		ID:         generic.EntryID(r.ID),
		AccountID:  generic.AccountID(r.AccountID),
		Delta:      generic.Points(r.Delta),
		Kind:       generic.EntryKind(r.Kind),
		ActorID:    generic.AccountID(r.ActorID),
		Transition: r.Transition,
		CreatedAt:  r.CreatedAt,
	}
	if r.TargetType != "" {
		e.Target = generic.TargetRef{Type: generic.GetOrCreateTargetType(r.TargetType), ID: r.TargetID}
	}
	return e
}

func typeID(ref generic.TargetRef) string {
	if ref.Type == nil {
		return ""
	}
	return ref.Type.TypeID()
}

// classify maps datastore contention to generic.ErrConcurrencyConflict.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01" || pgErr.Code == "55P03") {
		return fmt.Errorf("%w: %v", generic.ErrConcurrencyConflict, err)
	}
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %v", generic.ErrConcurrencyConflict, err)
	}
	return err
}

// isDuplicate matches translated and raw unique violations from either driver.
func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var se sqlite3.Error
	return errors.As(err, &se) &&
		(se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
}

func isForeignKey(err error) bool {
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintForeignKey
}
