package subscribers

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memUser struct {
	User
	extras     []string
	subscribed bool
}

// Memory is a process-local Store.
type Memory struct {
	mu       sync.RWMutex
	users    map[int64]*memUser
	maxExtra int
	now      func() time.Time
}

func NewMemory(maxExtra int) *Memory {
	if maxExtra <= 0 {
		maxExtra = DefaultMaxExtraGroups
	}
	return &Memory{users: map[int64]*memUser{}, maxExtra: maxExtra, now: time.Now}
}

func (m *Memory) user(id int64) *memUser {
	u, ok := m.users[id]
	if !ok {
		now := m.now()
		u = &memUser{User: User{ID: id, CreatedAt: now, UpdatedAt: now}}
		m.users[id] = u
	}
	return u
}

func (m *Memory) EnsureUser(_ context.Context, id int64, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.user(id)
	if username != "" {
		u.Username = username
		u.UpdatedAt = m.now()
	}
	return nil
}

func (m *Memory) User(_ context.Context, id int64) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u.User, nil
}

func (m *Memory) SetMainGroup(_ context.Context, id int64, group string) error {
	if err := ValidateGroupName(group); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.user(id)
	u.MainGroup = group
	u.UpdatedAt = m.now()
	return nil
}

func (m *Memory) AddExtraGroup(_ context.Context, id int64, group string) error {
	if err := ValidateGroupName(group); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.user(id)
	if err := checkExtra(u.MainGroup, u.extras, group, m.maxExtra); err != nil {
		return err
	}
	u.extras = append(u.extras, group)
	return nil
}

func (m *Memory) RemoveExtraGroup(_ context.Context, id int64, group string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	for i, g := range u.extras {
		if g == group {
			u.extras = append(u.extras[:i:i], u.extras[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) ExtraGroups(_ context.Context, id int64) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return []string{}, nil
	}
	return append([]string{}, u.extras...), nil
}

func (m *Memory) TrackedGroups(_ context.Context, id int64) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return []string{}, nil
	}
	return tracked(u.MainGroup, u.extras), nil
}

func (m *Memory) Subscribe(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.user(id)
	if u.subscribed {
		return false, nil
	}
	u.subscribed = true
	return true, nil
}

func (m *Memory) Unsubscribe(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || !u.subscribed {
		return false, nil
	}
	u.subscribed = false
	return true, nil
}

func (m *Memory) IsSubscribed(_ context.Context, id int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return ok && u.subscribed, nil
}

// ListSubscribers returns ids in ascending order.
func (m *Memory) ListSubscribers(_ context.Context) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]int64, 0, len(m.users))
	for id, u := range m.users {
		if u.subscribed {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *Memory) Stats(_ context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var st Stats
	st.Users = len(m.users)
	for _, u := range m.users {
		if u.subscribed {
			st.Subscribers++
		}
		if u.MainGroup != "" {
			st.WithGroup++
		}
		st.ExtraGroups += len(u.extras)
	}
	return st, nil
}

func (m *Memory) Close() error { return nil }
