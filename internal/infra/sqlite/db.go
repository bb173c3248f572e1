// Package sqlite provides SQLite-based persistent storage for coachpoints.
// Uses WAL mode, a single writer connection and immediate transactions, so
// every read-modify-write unit runs serialized.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries holds every repository method. Outside a transaction it runs on
// the pool; inside Tx it runs on the transaction.
type Queries struct {
	q querier
}

// DB wraps a SQLite connection with WAL mode and migrations.
type DB struct {
	*Queries
	db *sql.DB
}

// Open creates or opens the SQLite database at dir/coachpoints.db.
// Enables WAL mode, foreign keys, and 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "coachpoints.db")
	dsn := "file:" + dbPath +
		"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// SQLite is single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	d := New(db)
	if err := d.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// New wraps an already-open handle without running migrations.
func New(db *sql.DB) *DB {
	return &DB{Queries: &Queries{q: db}, db: db}
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping() error {
	return d.db.Ping()
}

// PingContext is Ping bounded by ctx.
func (d *DB) PingContext(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Tx runs fn inside one transaction. fn's error, or a panic, rolls back.
// fn must only use the Queries it is given: the pool has one connection
// and the transaction holds it.
func (d *DB) Tx(ctx context.Context, fn func(q *Queries) error) (err error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&Queries{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Migrate runs idempotent schema migrations.
func (d *DB) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id         TEXT PRIMARY KEY,
			role       TEXT NOT NULL,
			teacher_id TEXT NOT NULL DEFAULT '',
			timezone   TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_teacher ON users(teacher_id, role)`,

		// One running record per user; level is cached from total_points.
		`CREATE TABLE IF NOT EXISTS user_points (
			user_id            TEXT PRIMARY KEY REFERENCES users(id),
			total_points       INTEGER NOT NULL DEFAULT 0 CHECK (total_points >= 0),
			level              INTEGER NOT NULL DEFAULT 1,
			current_streak     INTEGER NOT NULL DEFAULT 0,
			longest_streak     INTEGER NOT NULL DEFAULT 0,
			last_activity_date TEXT,
			updated_at         INTEGER NOT NULL
		)`,

		// Append-only ledger. deleted_at is set by the retention job only.
		`CREATE TABLE IF NOT EXISTS activity_events (
			id            TEXT PRIMARY KEY,
			user_id       TEXT NOT NULL REFERENCES users(id),
			activity_type TEXT NOT NULL,
			points_earned INTEGER NOT NULL CHECK (points_earned >= 0),
			description   TEXT NOT NULL DEFAULT '',
			metadata      TEXT NOT NULL DEFAULT '{}',
			created_at    INTEGER NOT NULL,
			deleted_at    INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_user_created ON activity_events(user_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_user_type ON activity_events(user_id, activity_type)`,

		`CREATE TABLE IF NOT EXISTS achievements (
			id              TEXT PRIMARY KEY,
			teacher_id      TEXT NOT NULL DEFAULT '',
			title           TEXT NOT NULL,
			description     TEXT NOT NULL DEFAULT '',
			rarity          TEXT NOT NULL,
			points_reward   INTEGER NOT NULL DEFAULT 0,
			condition_type  TEXT NOT NULL,
			condition_value INTEGER NOT NULL DEFAULT 0,
			condition_key   TEXT NOT NULL DEFAULT '',
			is_active       BOOLEAN NOT NULL DEFAULT 1,
			created_at      INTEGER NOT NULL,
			updated_at      INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_achievements_teacher ON achievements(teacher_id, is_active)`,

		`CREATE TABLE IF NOT EXISTS user_achievements (
			id             TEXT PRIMARY KEY,
			achievement_id TEXT NOT NULL REFERENCES achievements(id),
			user_id        TEXT NOT NULL REFERENCES users(id),
			points_earned  INTEGER NOT NULL,
			earned_at      INTEGER NOT NULL,
			UNIQUE (user_id, achievement_id)
		)`,

		`CREATE TABLE IF NOT EXISTS rewards (
			id          TEXT PRIMARY KEY,
			teacher_id  TEXT NOT NULL,
			title       TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			points_cost INTEGER NOT NULL CHECK (points_cost >= 0),
			stock       INTEGER CHECK (stock IS NULL OR stock >= 0),
			is_active   BOOLEAN NOT NULL DEFAULT 1,
			created_at  INTEGER NOT NULL,
			updated_at  INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rewards_teacher ON rewards(teacher_id, is_active)`,

		`CREATE TABLE IF NOT EXISTS reward_redemptions (
			id           TEXT PRIMARY KEY,
			reward_id    TEXT NOT NULL REFERENCES rewards(id),
			user_id      TEXT NOT NULL REFERENCES users(id),
			teacher_id   TEXT NOT NULL,
			points_spent INTEGER NOT NULL,
			status       TEXT NOT NULL,
			admin_notes  TEXT NOT NULL DEFAULT '',
			created_at   INTEGER NOT NULL,
			updated_at   INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_redemptions_user ON reward_redemptions(user_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_redemptions_teacher ON reward_redemptions(teacher_id, status)`,

		`CREATE TABLE IF NOT EXISTS gamification_settings (
			teacher_id         TEXT PRIMARY KEY,
			point_values       TEXT NOT NULL,
			max_daily_points   INTEGER NOT NULL,
			level_up_bonus     INTEGER NOT NULL,
			streak_multiplier  REAL NOT NULL,
			auto_reset_enabled BOOLEAN NOT NULL DEFAULT 0,
			reset_frequency    TEXT NOT NULL,
			next_reset_date    TEXT,
			last_reset_at      INTEGER,
			updated_at         INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS point_resets (
			id                TEXT PRIMARY KEY,
			teacher_id        TEXT NOT NULL,
			reason            TEXT NOT NULL DEFAULT '',
			trigger_kind      TEXT NOT NULL,
			students_affected INTEGER NOT NULL,
			points_removed    INTEGER NOT NULL,
			backup            BLOB NOT NULL,
			created_at        INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_resets_teacher ON point_resets(teacher_id, created_at)`,
	}

	for _, m := range migrations {
		if _, err := d.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func unixMilli(t time.Time) int64 { return t.UnixMilli() }

func fromMilli(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullableMilli(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func nullableDate(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format("2006-01-02"), Valid: true}
}

func parseNullDate(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	d, err := time.Parse("2006-01-02", s.String)
	if err != nil {
		return nil, fmt.Errorf("parse date %q: %w", s.String, err)
	}
	return &d, nil
}

func nullableInt(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}
