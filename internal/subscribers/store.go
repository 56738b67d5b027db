// Package subscribers persists users, their tracked groups and their
// notification subscriptions.
package subscribers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "schedbot/pkg/logx"
)

var (
	ErrNotFound       = errors.New("subscribers: not found")
	ErrLimitReached   = errors.New("subscribers: extra group limit reached")
	ErrAlreadyTracked = errors.New("subscribers: group already tracked")
	ErrInvalidGroup   = errors.New("subscribers: invalid group name")
)

const DefaultMaxExtraGroups = 4

type User struct {
	ID        int64
	Username  string
	MainGroup string // empty when not chosen yet
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Stats struct {
	Users       int
	Subscribers int
	WithGroup   int
	ExtraGroups int
}

// Reader is the read side used by the monitor once per cycle.
type Reader interface {
	ListSubscribers(ctx context.Context) ([]int64, error)
	// TrackedGroups returns the main group first (when set), then extras in
	// the order they were added.
	TrackedGroups(ctx context.Context, userID int64) ([]string, error)
}

type Store interface {
	Reader

	// EnsureUser creates the user or refreshes the username.
	EnsureUser(ctx context.Context, userID int64, username string) error
	User(ctx context.Context, userID int64) (User, error)
	SetMainGroup(ctx context.Context, userID int64, group string) error

	AddExtraGroup(ctx context.Context, userID int64, group string) error
	RemoveExtraGroup(ctx context.Context, userID int64, group string) error
	ExtraGroups(ctx context.Context, userID int64) ([]string, error)

	// Subscribe reports whether a new subscription was created.
	Subscribe(ctx context.Context, userID int64) (bool, error)
	// Unsubscribe reports whether a subscription existed.
	Unsubscribe(ctx context.Context, userID int64) (bool, error)
	IsSubscribed(ctx context.Context, userID int64) (bool, error)

	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Config selects a driver.
//
// Driver values:
//   - "memory": process-local maps (tests, dry runs)
//   - "sqlite": SQLite file at Path
//   - "postgres": PostgreSQL at DSN
type Config struct {
	Driver         string
	Path           string
	DSN            string
	BusyTimeout    time.Duration
	MaxExtraGroups int
}

func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if cfg.MaxExtraGroups <= 0 {
		cfg.MaxExtraGroups = DefaultMaxExtraGroups
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "memory":
		return NewMemory(cfg.MaxExtraGroups), nil
	case "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "postgres", "postgresql", "pg":
		return openPostgres(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("subscribers: unknown driver %q", cfg.Driver)
	}
}

// checkExtra applies the extra-group policy shared by all drivers.
func checkExtra(main string, extras []string, group string, max int) error {
	if group == main {
		return ErrAlreadyTracked
	}
	for _, g := range extras {
		if g == group {
			return ErrAlreadyTracked
		}
	}
	if len(extras) >= max {
		return ErrLimitReached
	}
	return nil
}

func tracked(main string, extras []string) []string {
	out := make([]string, 0, len(extras)+1)
	if main != "" {
		out = append(out, main)
	}
	for _, g := range extras {
		if g != main {
			out = append(out, g)
		}
	}
	return out
}
