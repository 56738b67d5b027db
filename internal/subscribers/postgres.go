package subscribers

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	logx "schedbot/pkg/logx"
)

//go:embed migrations/postgres.sql
var postgresSchema string

type postgresStore struct {
	pool     *pgxpool.Pool
	log      logx.Logger
	maxExtra int
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("subscribers: postgres dsn is required (storage.dsn or DATABASE_URL)")
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("subscribers: parse dsn: %w", err)
	}
	poolCfg.MaxConns = 8
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	if poolCfg.ConnConfig.ConnectTimeout == 0 {
		poolCfg.ConnConfig.ConnectTimeout = 10 * time.Second
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("subscribers: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("subscribers: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("subscribers: postgres migrate: %w", err)
	}
	log.Info("subscriber store opened", logx.String("driver", "postgres"), logx.String("host", poolCfg.ConnConfig.Host))
	return &postgresStore{pool: pool, log: log, maxExtra: cfg.MaxExtraGroups}, nil
}

func (s *postgresStore) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *postgresStore) EnsureUser(ctx context.Context, id int64, username string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users(user_id, username) VALUES($1, $2)
		 ON CONFLICT(user_id) DO UPDATE SET
		   username = COALESCE(EXCLUDED.username, users.username),
		   updated_at = CASE WHEN EXCLUDED.username IS NULL THEN users.updated_at ELSE now() END`,
		id, nullStr(username))
	return err
}

func (s *postgresStore) User(ctx context.Context, id int64) (User, error) {
	var (
		u               User
		username, group *string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, username, group_name, created_at, updated_at FROM users WHERE user_id = $1`, id,
	).Scan(&u.ID, &username, &group, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	if username != nil {
		u.Username = *username
	}
	if group != nil {
		u.MainGroup = *group
	}
	return u, nil
}

func (s *postgresStore) SetMainGroup(ctx context.Context, id int64, group string) error {
	if err := ValidateGroupName(group); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users(user_id, group_name, updated_at) VALUES($1, $2, now())
		 ON CONFLICT(user_id) DO UPDATE SET group_name = EXCLUDED.group_name, updated_at = EXCLUDED.updated_at`,
		id, group)
	if err == nil {
		s.log.Info("main group set", logx.Int64("user_id", id), logx.String("group", group))
	}
	return err
}

func (s *postgresStore) AddExtraGroup(ctx context.Context, id int64, group string) error {
	if err := ValidateGroupName(group); err != nil {
		return err
	}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO users(user_id) VALUES($1) ON CONFLICT(user_id) DO NOTHING`, id); err != nil {
			return err
		}
		var main *string
		// row lock serializes concurrent adds for one user
		if err := tx.QueryRow(ctx, `SELECT group_name FROM users WHERE user_id = $1 FOR UPDATE`, id).Scan(&main); err != nil {
			return err
		}
		extras, err := pgExtras(ctx, tx, id)
		if err != nil {
			return err
		}
		m := ""
		if main != nil {
			m = *main
		}
		if err := checkExtra(m, extras, group, s.maxExtra); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `INSERT INTO user_extra_groups(user_id, group_name) VALUES($1, $2)`, id, group)
		return err
	})
	if err == nil {
		s.log.Info("extra group added", logx.Int64("user_id", id), logx.String("group", group))
	}
	return err
}

func (s *postgresStore) RemoveExtraGroup(ctx context.Context, id int64, group string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM user_extra_groups WHERE user_id = $1 AND group_name = $2`, id, group)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	s.log.Info("extra group removed", logx.Int64("user_id", id), logx.String("group", group))
	return nil
}

type pgQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func pgExtras(ctx context.Context, q pgQuerier, id int64) ([]string, error) {
	rows, err := q.Query(ctx, `SELECT group_name FROM user_extra_groups WHERE user_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if out == nil {
		out = []string{}
	}
	return out, err
}

func (s *postgresStore) ExtraGroups(ctx context.Context, id int64) ([]string, error) {
	return pgExtras(ctx, s.pool, id)
}

func (s *postgresStore) TrackedGroups(ctx context.Context, id int64) ([]string, error) {
	var main *string
	err := s.pool.QueryRow(ctx, `SELECT group_name FROM users WHERE user_id = $1`, id).Scan(&main)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	extras, err := pgExtras(ctx, s.pool, id)
	if err != nil {
		return nil, err
	}
	m := ""
	if main != nil {
		m = *main
	}
	return tracked(m, extras), nil
}

func (s *postgresStore) Subscribe(ctx context.Context, id int64) (bool, error) {
	if _, err := s.pool.Exec(ctx, `INSERT INTO users(user_id) VALUES($1) ON CONFLICT(user_id) DO NOTHING`, id); err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx, `INSERT INTO subscriptions(user_id) VALUES($1) ON CONFLICT(user_id) DO NOTHING`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *postgresStore) Unsubscribe(ctx context.Context, id int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM subscriptions WHERE user_id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *postgresStore) IsSubscribed(ctx context.Context, id int64) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM subscriptions WHERE user_id = $1)`, id).Scan(&ok)
	return ok, err
}

func (s *postgresStore) ListSubscribers(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT user_id FROM subscriptions ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (s *postgresStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.pool.QueryRow(ctx, `SELECT
		(SELECT COUNT(*) FROM users),
		(SELECT COUNT(*) FROM subscriptions),
		(SELECT COUNT(*) FROM users WHERE group_name IS NOT NULL AND group_name <> ''),
		(SELECT COUNT(*) FROM user_extra_groups)`,
	).Scan(&st.Users, &st.Subscribers, &st.WithGroup, &st.ExtraGroups)
	return st, err
}
