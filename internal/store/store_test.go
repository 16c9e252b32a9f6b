package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/keithlinneman/linnemanlabs-cms/internal/auth"
	"github.com/keithlinneman/linnemanlabs-cms/internal/xerrors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "cms.db"), Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func strp(s string) *string { return &s }

func TestOpen_EmptyPath(t *testing.T) {
	if _, err := Open(context.Background(), "", Options{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestPing(t *testing.T) {
	if err := newTestStore(t).Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Hello World", "hello-world"},
		{"  About  Us!! ", "about-us"},
		{"C++ & Go: 2024", "c-go-2024"},
		{"Ünïcode", "n-code"},
		{"---", ""},
		{"already-a-slug", "already-a-slug"},
	}
	for _, tt := range tests {
		if got := Slugify(tt.in); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if long := Slugify(strings.Repeat("ab ", 100)); len(long) > maxSlugLen {
		t.Errorf("slug length %d exceeds %d", len(long), maxSlugLen)
	}
}

func TestPages_CRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &Page{Title: "About Us", Body: "hi"}
	if err := s.CreatePage(ctx, p); err != nil {
		t.Fatalf("CreatePage: %v", err)
	}
	if p.ID == 0 || p.Slug != "about-us" || p.Status != StatusDraft || p.PublishedAt != nil {
		t.Fatalf("page = %+v", p)
	}

	if err := s.CreatePage(ctx, &Page{Title: "About us"}); !errors.Is(err, xerrors.ErrConflict) {
		t.Fatalf("duplicate slug err = %v", err)
	}

	if _, err := s.PageBySlug(ctx, "about-us", true); !errors.Is(err, xerrors.ErrNotFound) {
		t.Fatalf("draft visible to public: %v", err)
	}
	got, err := s.PageBySlug(ctx, "about-us", false)
	if err != nil || got.ID != p.ID {
		t.Fatalf("PageBySlug = %+v, %v", got, err)
	}

	up, err := s.UpdatePage(ctx, p.ID, PageUpdate{Status: strp(StatusPublished), Body: strp("updated")})
	if err != nil {
		t.Fatalf("UpdatePage: %v", err)
	}
	if up.Status != StatusPublished || up.PublishedAt == nil || up.Body != "updated" || up.Title != "About Us" {
		t.Fatalf("updated = %+v", up)
	}

	pub, err := s.ListPages(ctx, true)
	if err != nil || len(pub) != 1 {
		t.Fatalf("published = %v, %v", pub, err)
	}

	if err := s.DeletePage(ctx, p.ID); err != nil {
		t.Fatalf("DeletePage: %v", err)
	}
	if err := s.DeletePage(ctx, p.ID); !errors.Is(err, xerrors.ErrNotFound) {
		t.Fatalf("second delete err = %v", err)
	}
	if _, err := s.PageByID(ctx, p.ID); !errors.Is(err, xerrors.ErrNotFound) {
		t.Fatalf("PageByID after delete err = %v", err)
	}
}

func TestPages_Validation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		page Page
	}{
		{"empty title", Page{Title: "  "}},
		{"bad slug", Page{Title: "x", Slug: "Not A Slug"}},
		{"title without slug chars", Page{Title: "!!!"}},
		{"bad status", Page{Title: "x", Status: "archived"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.page
			if err := s.CreatePage(ctx, &p); !errors.Is(err, xerrors.ErrInvalid) {
				t.Fatalf("err = %v, want ErrInvalid", err)
			}
		})
	}

	p := &Page{Title: "One"}
	if err := s.CreatePage(ctx, p); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpdatePage(ctx, p.ID, PageUpdate{Slug: strp("Bad Slug")}); !errors.Is(err, xerrors.ErrInvalid) {
		t.Fatalf("bad slug update err = %v", err)
	}
	if _, err := s.UpdatePage(ctx, 9999, PageUpdate{Title: strp("x")}); !errors.Is(err, xerrors.ErrNotFound) {
		t.Fatalf("missing page update err = %v", err)
	}
	if err := s.CreatePage(ctx, &Page{Title: "Two", Slug: "two"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpdatePage(ctx, p.ID, PageUpdate{Slug: strp("two")}); !errors.Is(err, xerrors.ErrConflict) {
		t.Fatalf("slug collision err = %v", err)
	}
}

func TestEnsurePage_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i, want := range []bool{true, false} {
		created, err := s.EnsurePage(ctx, &Page{Title: "Home", Slug: "home"})
		if err != nil || created != want {
			t.Fatalf("call %d: created=%v err=%v", i, created, err)
		}
	}
}

func TestNavigation_ReplaceAndTree(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	menu := []NavItem{
		{Label: "Home", Href: "/"},
		{Label: "Docs", Href: "/docs", Children: []NavItem{
			{Label: "Guide", Href: "/docs/guide"},
			{Label: "API", Href: "/docs/api"},
		}},
	}
	if err := s.ReplaceNavigation(ctx, menu); err != nil {
		t.Fatalf("ReplaceNavigation: %v", err)
	}
	flat, err := s.ListNavigation(ctx)
	if err != nil || len(flat) != 4 {
		t.Fatalf("flat = %v, %v", flat, err)
	}
	tree := NavigationTree(flat)
	if len(tree) != 2 || tree[1].Label != "Docs" || len(tree[1].Children) != 2 || tree[1].Children[0].Label != "Guide" {
		t.Fatalf("tree = %+v", tree)
	}

	// replace drops the old menu
	if err := s.ReplaceNavigation(ctx, []NavItem{{Label: "Only", Href: "/only"}}); err != nil {
		t.Fatal(err)
	}
	flat, _ = s.ListNavigation(ctx)
	if len(flat) != 1 || flat[0].Label != "Only" {
		t.Fatalf("after replace = %+v", flat)
	}

	// invalid input leaves the menu untouched
	if err := s.ReplaceNavigation(ctx, []NavItem{{Label: "", Href: "/x"}}); !errors.Is(err, xerrors.ErrInvalid) {
		t.Fatalf("invalid nav err = %v", err)
	}
	deep := []NavItem{{Label: "a", Href: "/a", Children: []NavItem{{Label: "b", Href: "/b", Children: []NavItem{{Label: "c", Href: "/c", Children: []NavItem{{Label: "d", Href: "/d"}}}}}}}}
	if err := s.ReplaceNavigation(ctx, deep); !errors.Is(err, xerrors.ErrInvalid) {
		t.Fatalf("deep nav err = %v", err)
	}
	flat, _ = s.ListNavigation(ctx)
	if len(flat) != 1 {
		t.Fatalf("menu changed after rejected replace: %+v", flat)
	}
}

func TestMedia_CRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := &Media{Key: "media/ab/abc.png", Filename: "a.png", ContentType: "image/png", Size: 10, SHA256: "abc"}
	if err := s.CreateMedia(ctx, m); err != nil {
		t.Fatalf("CreateMedia: %v", err)
	}
	if err := s.CreateMedia(ctx, &Media{Key: m.Key}); !errors.Is(err, xerrors.ErrConflict) {
		t.Fatalf("duplicate key err = %v", err)
	}
	if got, err := s.MediaByKey(ctx, m.Key); err != nil || got.ID != m.ID {
		t.Fatalf("MediaByKey = %+v, %v", got, err)
	}
	if err := s.CreateMedia(ctx, &Media{Key: "media/cd/cde.jpg"}); err != nil {
		t.Fatal(err)
	}
	list, err := s.ListMedia(ctx, 1, 0)
	if err != nil || len(list) != 1 || list[0].Key != "media/cd/cde.jpg" {
		t.Fatalf("ListMedia = %+v, %v", list, err)
	}
	del, err := s.DeleteMedia(ctx, m.ID)
	if err != nil || del.Key != m.Key {
		t.Fatalf("DeleteMedia = %+v, %v", del, err)
	}
	if _, err := s.MediaByID(ctx, m.ID); !errors.Is(err, xerrors.ErrNotFound) {
		t.Fatalf("after delete err = %v", err)
	}
}

func TestUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := &User{Email: " Admin@Example.com ", Role: "admin", PasswordHash: "hash"}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u.ID == "" || u.Email != "admin@example.com" {
		t.Fatalf("user = %+v", u)
	}
	if err := s.CreateUser(ctx, &User{Email: "admin@example.com"}); !errors.Is(err, xerrors.ErrConflict) {
		t.Fatalf("duplicate email err = %v", err)
	}
	if err := s.CreateUser(ctx, &User{Email: "x@example.com", Role: "root"}); !errors.Is(err, xerrors.ErrInvalid) {
		t.Fatalf("bad role err = %v", err)
	}

	acct, err := s.UserByEmail(ctx, "ADMIN@example.com")
	if err != nil || acct.ID != u.ID || acct.Role != auth.RoleAdmin || acct.PasswordHash != "hash" {
		t.Fatalf("UserByEmail = %+v, %v", acct, err)
	}
	if _, err := s.UserByID(ctx, "missing"); !errors.Is(err, xerrors.ErrNotFound) {
		t.Fatalf("UserByID missing err = %v", err)
	}

	created, err := s.EnsureUser(ctx, &User{Email: "admin@example.com"})
	if err != nil || created {
		t.Fatalf("EnsureUser existing = %v, %v", created, err)
	}
	v := &User{Email: "viewer@example.com"}
	created, err = s.EnsureUser(ctx, v)
	if err != nil || !created || v.Role != "viewer" {
		t.Fatalf("EnsureUser new = %v, %v, %+v", created, err, v)
	}
	if got, err := s.UserByEmail(ctx, "Viewer@Example.com"); err != nil || got.ID != v.ID {
		t.Fatalf("UserByEmail viewer = %+v, %v", got, err)
	}
}

func TestSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	rec := &auth.SessionRecord{ID: "s1", UserID: "u1", RefreshHash: "h1", ExpiresAt: now.Add(time.Hour), CreatedAt: now}
	if err := s.CreateSession(ctx, rec); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	got, err := s.SessionByRefreshHash(ctx, "h1")
	if err != nil || got.ID != "s1" || !got.Active(now) {
		t.Fatalf("SessionByRefreshHash = %+v, %v", got, err)
	}

	if err := s.RotateRefresh(ctx, "s1", "h1", "h2", now.Add(2*time.Hour)); err != nil {
		t.Fatalf("RotateRefresh: %v", err)
	}
	if err := s.RotateRefresh(ctx, "s1", "h1", "h3", now.Add(2*time.Hour)); !errors.Is(err, xerrors.ErrConflict) {
		t.Fatalf("stale rotate err = %v", err)
	}
	if _, err := s.SessionByRefreshHash(ctx, "h1"); !errors.Is(err, xerrors.ErrNotFound) {
		t.Fatalf("old hash err = %v", err)
	}

	if err := s.RevokeSession(ctx, "s1", now); err != nil {
		t.Fatalf("RevokeSession: %v", err)
	}
	if err := s.RevokeSession(ctx, "s1", now); err != nil {
		t.Fatalf("second revoke: %v", err)
	}
	if err := s.RevokeSession(ctx, "nope", now); !errors.Is(err, xerrors.ErrNotFound) {
		t.Fatalf("revoke unknown err = %v", err)
	}
	got, _ = s.SessionByID(ctx, "s1")
	if got.RevokedAt == nil || got.Active(now) {
		t.Fatalf("revoked session = %+v", got)
	}
	if err := s.RotateRefresh(ctx, "s1", "h2", "h4", now.Add(time.Hour)); !errors.Is(err, xerrors.ErrConflict) {
		t.Fatalf("rotate revoked err = %v", err)
	}

	old := &auth.SessionRecord{ID: "s2", UserID: "u1", RefreshHash: "h9", ExpiresAt: now.Add(-time.Hour), CreatedAt: now.Add(-2 * time.Hour)}
	if err := s.CreateSession(ctx, old); err != nil {
		t.Fatal(err)
	}
	n, err := s.DeleteExpiredSessions(ctx, now)
	if err != nil || n != 1 {
		t.Fatalf("DeleteExpiredSessions = %d, %v", n, err)
	}
}

func TestStore_WithAuthService(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	hash, err := auth.HashPassword("a long password", 4)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.CreateUser(ctx, &User{Email: "ed@example.com", Role: "editor", PasswordHash: hash}); err != nil {
		t.Fatal(err)
	}
	svc, err := auth.NewService(auth.Config{Secret: []byte("0123456789abcdef0123456789abcdef"), BcryptCost: 4}, s, s)
	if err != nil {
		t.Fatal(err)
	}
	sess, err := svc.SignInWithPassword(ctx, "ed@example.com", "a long password")
	if err != nil {
		t.Fatalf("SignInWithPassword: %v", err)
	}
	next, err := svc.RefreshSession(ctx, sess.RefreshToken)
	if err != nil {
		t.Fatalf("RefreshSession: %v", err)
	}
	if _, err := svc.RefreshSession(ctx, sess.RefreshToken); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("reused refresh err = %v", err)
	}
	if err := svc.SignOut(ctx, next.AccessToken); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.VerifySession(ctx, next.AccessToken); !errors.Is(err, auth.ErrSessionRevoked) {
		t.Fatalf("after sign out err = %v", err)
	}
}
