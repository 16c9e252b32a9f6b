package auth

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/keithlinneman/linnemanlabs-cms/internal/xerrors"
)

// redisClient is the subset of redis.Cmdable used by RedisSessions.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	GetDel(ctx context.Context, key string) *redis.StringCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// RedisSessions stores sessions as JSON under {prefix}session:{id} with a
// {prefix}refresh:{hash} -> id index, both expiring with the session.
type RedisSessions struct {
	rdb    redisClient
	prefix string
	now    func() time.Time
}

var _ SessionStore = (*RedisSessions)(nil)

// NewRedisSessions wraps a go-redis client. prefix defaults to "cms:".
func NewRedisSessions(rdb redisClient, prefix string) *RedisSessions {
	if prefix == "" {
		prefix = "cms:"
	}
	return &RedisSessions{rdb: rdb, prefix: prefix, now: time.Now}
}

type redisSession struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	RefreshHash string     `json:"refresh_hash"`
	ExpiresAt   time.Time  `json:"expires_at"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (r *RedisSessions) sessionKey(id string) string   { return r.prefix + "session:" + id }
func (r *RedisSessions) refreshKey(hash string) string { return r.prefix + "refresh:" + hash }

func (r *RedisSessions) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *RedisSessions) ttl(expiresAt time.Time) time.Duration {
	d := expiresAt.Sub(r.now())
	if d < time.Second {
		d = time.Second
	}
	return d
}

func (r *RedisSessions) put(ctx context.Context, s *SessionRecord) error {
	b, err := json.Marshal(redisSession(*s))
	if err != nil {
		return xerrors.Wrap(err, "encode session")
	}
	if err := r.rdb.Set(ctx, r.sessionKey(s.ID), b, r.ttl(s.ExpiresAt)).Err(); err != nil {
		return xerrors.Wrapf(err, "redis set session %s", s.ID)
	}
	return nil
}

func (r *RedisSessions) CreateSession(ctx context.Context, s *SessionRecord) error {
	if err := r.put(ctx, s); err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, r.refreshKey(s.RefreshHash), s.ID, r.ttl(s.ExpiresAt)).Err(); err != nil {
		return xerrors.Wrap(err, "redis set refresh index")
	}
	return nil
}

func (r *RedisSessions) SessionByID(ctx context.Context, id string) (*SessionRecord, error) {
	raw, err := r.rdb.Get(ctx, r.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, xerrors.Mark(xerrors.ErrNotFound, "session %s", id)
	}
	if err != nil {
		return nil, xerrors.Wrapf(err, "redis get session %s", id)
	}
	var rs redisSession
	if err := json.Unmarshal(raw, &rs); err != nil {
		return nil, xerrors.Wrapf(err, "decode session %s", id)
	}
	rec := SessionRecord(rs)
	return &rec, nil
}

func (r *RedisSessions) SessionByRefreshHash(ctx context.Context, hash string) (*SessionRecord, error) {
	id, err := r.rdb.Get(ctx, r.refreshKey(hash)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, xerrors.Mark(xerrors.ErrNotFound, "refresh token")
	}
	if err != nil {
		return nil, xerrors.Wrap(err, "redis get refresh index")
	}
	rec, err := r.SessionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.RefreshHash != hash {
		return nil, xerrors.Mark(xerrors.ErrNotFound, "refresh token")
	}
	return rec, nil
}

// RotateRefresh claims the old index entry with GETDEL so only one caller
// can redeem a given refresh token.
func (r *RedisSessions) RotateRefresh(ctx context.Context, id, oldHash, newHash string, expiresAt time.Time) error {
	owner, err := r.rdb.GetDel(ctx, r.refreshKey(oldHash)).Result()
	if errors.Is(err, redis.Nil) {
		return xerrors.Mark(xerrors.ErrConflict, "refresh token already used")
	}
	if err != nil {
		return xerrors.Wrap(err, "redis getdel refresh index")
	}
	if owner != id {
		return xerrors.Mark(xerrors.ErrConflict, "refresh token belongs to another session")
	}

	rec, err := r.SessionByID(ctx, id)
	if err != nil {
		return err
	}
	rec.RefreshHash = newHash
	rec.ExpiresAt = expiresAt
	if err := r.put(ctx, rec); err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, r.refreshKey(newHash), id, r.ttl(expiresAt)).Err(); err != nil {
		return xerrors.Wrap(err, "redis set refresh index")
	}
	return nil
}

// RevokeSession keeps the record until it expires so verification reports
// revoked rather than unknown, and drops the refresh index.
func (r *RedisSessions) RevokeSession(ctx context.Context, id string, at time.Time) error {
	rec, err := r.SessionByID(ctx, id)
	if err != nil {
		return err
	}
	if rec.RevokedAt == nil {
		rec.RevokedAt = &at
	}
	if err := r.put(ctx, rec); err != nil {
		return err
	}
	if err := r.rdb.GetDel(ctx, r.refreshKey(rec.RefreshHash)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return xerrors.Wrap(err, "redis delete refresh index")
	}
	return nil
}
