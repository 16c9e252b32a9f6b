package auth

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/keithlinneman/linnemanlabs-cms/internal/xerrors"
)

type memUsers struct {
	byID map[string]*Account
}

func (m *memUsers) add(a *Account) { m.byID[a.ID] = a }

func (m *memUsers) UserByEmail(_ context.Context, email string) (*Account, error) {
	for _, a := range m.byID {
		if a.Email == email {
			cp := *a
			return &cp, nil
		}
	}
	return nil, xerrors.Mark(xerrors.ErrNotFound, "user %s", email)
}

func (m *memUsers) UserByID(_ context.Context, id string) (*Account, error) {
	if a, ok := m.byID[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, xerrors.Mark(xerrors.ErrNotFound, "user %s", id)
}

type memSessions struct {
	mu   sync.Mutex
	byID map[string]SessionRecord
}

func newMemSessions() *memSessions { return &memSessions{byID: map[string]SessionRecord{}} }

func (m *memSessions) CreateSession(_ context.Context, s *SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[s.ID] = *s
	return nil
}

func (m *memSessions) SessionByID(_ context.Context, id string) (*SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return nil, xerrors.Mark(xerrors.ErrNotFound, "session")
	}
	return &s, nil
}

func (m *memSessions) SessionByRefreshHash(_ context.Context, hash string) (*SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.byID {
		if s.RefreshHash == hash {
			return &s, nil
		}
	}
	return nil, xerrors.Mark(xerrors.ErrNotFound, "session")
}

func (m *memSessions) RotateRefresh(_ context.Context, id, oldHash, newHash string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return xerrors.Mark(xerrors.ErrNotFound, "session")
	}
	if s.RefreshHash != oldHash {
		return xerrors.Mark(xerrors.ErrConflict, "stale refresh")
	}
	s.RefreshHash, s.ExpiresAt = newHash, expiresAt
	m.byID[id] = s
	return nil
}

func (m *memSessions) RevokeSession(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return xerrors.Mark(xerrors.ErrNotFound, "session")
	}
	s.RevokedAt = &at
	m.byID[id] = s
	return nil
}

// fakeRedis implements redisClient over a map, ignoring expirations.
type fakeRedis struct {
	mu   sync.Mutex
	kv   map[string]string
	ttls map[string]time.Duration
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{kv: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.kv[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, exp time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := value.(type) {
	case string:
		f.kv[key] = v
	case []byte:
		f.kv[key] = string(v)
	}
	f.ttls[key] = exp
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) GetDel(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.kv[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	delete(f.kv, key)
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}
