package subscribers

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "schedbot/pkg/logx"
)

//go:embed migrations/sqlite.sql
var sqliteSchema string

type sqliteStore struct {
	db       *sql.DB
	log      logx.Logger
	maxExtra int
	now      func() time.Time
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("subscribers: sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer; also keeps per-connection pragmas in effect
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("subscribers: sqlite migrate: %w", err)
	}
	log.Info("subscriber store opened", logx.String("driver", "sqlite"), logx.String("path", path))
	return &sqliteStore{db: db, log: log, maxExtra: cfg.MaxExtraGroups, now: time.Now}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) ts() string { return s.now().UTC().Format(time.RFC3339Nano) }

// ensure inserts a bare user row if missing.
func (s *sqliteStore) ensure(ctx context.Context, q execer, id int64) error {
	now := s.ts()
	_, err := q.ExecContext(ctx,
		`INSERT INTO users(user_id, created_at, updated_at) VALUES(?,?,?) ON CONFLICT(user_id) DO NOTHING`,
		id, now, now)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *sqliteStore) EnsureUser(ctx context.Context, id int64, username string) error {
	now := s.ts()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(user_id, username, created_at, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   username = COALESCE(excluded.username, users.username),
		   updated_at = CASE WHEN excluded.username IS NULL THEN users.updated_at ELSE excluded.updated_at END`,
		id, nullStr(username), now, now)
	return err
}

func (s *sqliteStore) User(ctx context.Context, id int64) (User, error) {
	var (
		u                User
		username, group  sql.NullString
		created, updated string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, username, group_name, created_at, updated_at FROM users WHERE user_id = ?`, id,
	).Scan(&u.ID, &username, &group, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	u.Username = username.String
	u.MainGroup = group.String
	u.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	u.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return u, nil
}

func (s *sqliteStore) SetMainGroup(ctx context.Context, id int64, group string) error {
	if err := ValidateGroupName(group); err != nil {
		return err
	}
	now := s.ts()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(user_id, group_name, created_at, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET group_name = excluded.group_name, updated_at = excluded.updated_at`,
		id, group, now, now)
	if err == nil {
		s.log.Info("main group set", logx.Int64("user_id", id), logx.String("group", group))
	}
	return err
}

func (s *sqliteStore) AddExtraGroup(ctx context.Context, id int64, group string) error {
	if err := ValidateGroupName(group); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.ensure(ctx, tx, id); err != nil {
		return err
	}
	var main sql.NullString
	if err := tx.QueryRowContext(ctx, `SELECT group_name FROM users WHERE user_id = ?`, id).Scan(&main); err != nil {
		return err
	}
	extras, err := s.extras(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := checkExtra(main.String, extras, group, s.maxExtra); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO user_extra_groups(user_id, group_name, added_at) VALUES(?,?,?)`, id, group, s.ts()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.log.Info("extra group added", logx.Int64("user_id", id), logx.String("group", group))
	return nil
}

func (s *sqliteStore) RemoveExtraGroup(ctx context.Context, id int64, group string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM user_extra_groups WHERE user_id = ? AND group_name = ?`, id, group)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.log.Info("extra group removed", logx.Int64("user_id", id), logx.String("group", group))
	return nil
}

func (s *sqliteStore) extras(ctx context.Context, q execer, id int64) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT group_name FROM user_extra_groups WHERE user_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ExtraGroups(ctx context.Context, id int64) ([]string, error) {
	return s.extras(ctx, s.db, id)
}

func (s *sqliteStore) TrackedGroups(ctx context.Context, id int64) ([]string, error) {
	var main sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT group_name FROM users WHERE user_id = ?`, id).Scan(&main)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	extras, err := s.extras(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	return tracked(main.String, extras), nil
}

func (s *sqliteStore) Subscribe(ctx context.Context, id int64) (bool, error) {
	if err := s.ensure(ctx, s.db, id); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions(user_id, created_at) VALUES(?,?) ON CONFLICT(user_id) DO NOTHING`, id, s.ts())
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *sqliteStore) Unsubscribe(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE user_id = ?`, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *sqliteStore) IsSubscribed(ctx context.Context, id int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM subscriptions WHERE user_id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *sqliteStore) ListSubscribers(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM subscriptions ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM users),
		(SELECT COUNT(*) FROM subscriptions),
		(SELECT COUNT(*) FROM users WHERE group_name IS NOT NULL AND group_name <> ''),
		(SELECT COUNT(*) FROM user_extra_groups)`,
	).Scan(&st.Users, &st.Subscribers, &st.WithGroup, &st.ExtraGroups)
	return st, err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
