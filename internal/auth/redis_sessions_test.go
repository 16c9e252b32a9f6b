package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/keithlinneman/linnemanlabs-cms/internal/xerrors"
)

func TestRedisSessions_Lifecycle(t *testing.T) {
	ctx := context.Background()
	rdb := newFakeRedis()
	now := time.Unix(1_700_000_000, 0)
	rs := NewRedisSessions(rdb, "")
	rs.now = func() time.Time { return now }

	rec := &SessionRecord{ID: "s1", UserID: "u1", RefreshHash: "h1", ExpiresAt: now.Add(time.Hour), CreatedAt: now}
	if err := rs.CreateSession(ctx, rec); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if rdb.ttls["cms:session:s1"] != time.Hour || rdb.kv["cms:refresh:h1"] != "s1" {
		t.Fatalf("keys = %v ttls = %v", rdb.kv, rdb.ttls)
	}

	got, err := rs.SessionByRefreshHash(ctx, "h1")
	if err != nil || got.ID != "s1" || got.UserID != "u1" {
		t.Fatalf("SessionByRefreshHash = %+v, %v", got, err)
	}

	if err := rs.RotateRefresh(ctx, "s1", "h1", "h2", now.Add(2*time.Hour)); err != nil {
		t.Fatalf("RotateRefresh: %v", err)
	}
	if err := rs.RotateRefresh(ctx, "s1", "h1", "h3", now.Add(2*time.Hour)); !errors.Is(err, xerrors.ErrConflict) {
		t.Fatalf("second rotate err = %v, want conflict", err)
	}
	if _, err := rs.SessionByRefreshHash(ctx, "h1"); !errors.Is(err, xerrors.ErrNotFound) {
		t.Fatalf("old hash lookup err = %v", err)
	}
	got, _ = rs.SessionByRefreshHash(ctx, "h2")
	if got == nil || !got.ExpiresAt.Equal(now.Add(2*time.Hour)) {
		t.Fatalf("rotated = %+v", got)
	}

	if err := rs.RevokeSession(ctx, "s1", now); err != nil {
		t.Fatalf("RevokeSession: %v", err)
	}
	got, err = rs.SessionByID(ctx, "s1")
	if err != nil || got.RevokedAt == nil || got.Active(now) {
		t.Fatalf("revoked = %+v, %v", got, err)
	}
	if _, err := rs.SessionByRefreshHash(ctx, "h2"); !errors.Is(err, xerrors.ErrNotFound) {
		t.Fatalf("revoked refresh lookup err = %v", err)
	}
	if err := rs.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestRedisSessions_UnknownSession(t *testing.T) {
	rs := NewRedisSessions(newFakeRedis(), "test:")
	if _, err := rs.SessionByID(context.Background(), "nope"); !errors.Is(err, xerrors.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	if err := rs.RevokeSession(context.Background(), "nope", time.Now()); !errors.Is(err, xerrors.ErrNotFound) {
		t.Fatalf("revoke err = %v", err)
	}
}

func TestService_WithRedisSessions(t *testing.T) {
	env := newTestEnv(t)
	rs := NewRedisSessions(newFakeRedis(), "")
	rs.now = func() time.Time { return env.now }
	svc, err := NewService(env.svc.cfg, env.users, rs, WithNow(func() time.Time { return env.now }))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	sess, err := svc.SignInWithPassword(ctx, "ed@example.com", "correct horse")
	if err != nil {
		t.Fatal(err)
	}
	next, err := svc.RefreshSession(ctx, sess.RefreshToken)
	if err != nil {
		t.Fatalf("RefreshSession: %v", err)
	}
	if err := svc.SignOut(ctx, next.AccessToken); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.VerifySession(ctx, next.AccessToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("err = %v", err)
	}
}
