// Package seed applies a YAML bootstrap file of users, pages and navigation.
//
// Applying is idempotent: users are matched by email, pages by slug, and the
// navigation is only written while the menu is empty. Existing records are
// never modified, so edits made through the API survive restarts.
package seed

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/keithlinneman/linnemanlabs-cms/internal/auth"
	"github.com/keithlinneman/linnemanlabs-cms/internal/log"
	"github.com/keithlinneman/linnemanlabs-cms/internal/store"
	"github.com/keithlinneman/linnemanlabs-cms/internal/xerrors"
)

type File struct {
	Users      []User    `yaml:"users"`
	Pages      []Page    `yaml:"pages"`
	Navigation []NavItem `yaml:"navigation"`
}

type User struct {
	Email string `yaml:"email"`
	Name  string `yaml:"name"`
	Role  string `yaml:"role"`
	// Password is hashed before storing. PasswordEnv names an environment
	// variable to read it from instead, keeping secrets out of the file.
	Password    string `yaml:"password"`
	PasswordEnv string `yaml:"password_env"`
}

type Page struct {
	Title  string `yaml:"title"`
	Slug   string `yaml:"slug"`
	Status string `yaml:"status"`
	Body   string `yaml:"body"`
}

type NavItem struct {
	Label    string    `yaml:"label"`
	Href     string    `yaml:"href"`
	Children []NavItem `yaml:"children"`
}

// Target is where seed data is written. *store.Store implements it.
type Target interface {
	EnsureUser(ctx context.Context, u *store.User) (bool, error)
	EnsurePage(ctx context.Context, p *store.Page) (bool, error)
	ListNavigation(ctx context.Context) ([]store.NavItem, error)
	ReplaceNavigation(ctx context.Context, items []store.NavItem) error
}

type Options struct {
	// BcryptCost for seeded passwords, zero means bcrypt.DefaultCost
	BcryptCost int
	LookupEnv  func(string) (string, bool)
	Logger     log.Logger
}

// Result counts what Apply created.
type Result struct {
	UsersCreated     int
	PagesCreated     int
	NavigationSeeded bool
}

// Parse decodes a seed file, rejecting unknown keys.
func Parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &f, nil
		}
		return nil, xerrors.Mark(xerrors.ErrInvalid, "parse seed: %v", err)
	}
	return &f, nil
}

func Load(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read seed file %s", path)
	}
	f, err := Parse(bytes.NewReader(b))
	if err != nil {
		return nil, xerrors.Wrapf(err, "seed file %s", path)
	}
	return f, nil
}

// Apply writes f into t. It stops at the first error; anything created before
// it stays, and a rerun picks up where it left off.
func Apply(ctx context.Context, t Target, f *File, opts Options) (Result, error) {
	var res Result
	if f == nil {
		return res, nil
	}
	L := opts.Logger
	if L == nil {
		L = log.Nop()
	}
	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}

	for _, su := range f.Users {
		u, err := toUser(su, opts.BcryptCost, lookup)
		if err != nil {
			return res, err
		}
		created, err := t.EnsureUser(ctx, u)
		if err != nil {
			return res, xerrors.Wrapf(err, "seed user %s", su.Email)
		}
		if created {
			res.UsersCreated++
			L.Info(ctx, "seeded user", "email", u.Email, "role", u.Role)
		}
	}

	for _, sp := range f.Pages {
		p := &store.Page{Title: sp.Title, Slug: sp.Slug, Status: sp.Status, Body: sp.Body}
		created, err := t.EnsurePage(ctx, p)
		if err != nil {
			return res, xerrors.Wrapf(err, "seed page %q", sp.Title)
		}
		if created {
			res.PagesCreated++
			L.Info(ctx, "seeded page", "slug", p.Slug, "status", p.Status)
		}
	}

	if len(f.Navigation) > 0 {
		current, err := t.ListNavigation(ctx)
		if err != nil {
			return res, xerrors.Wrap(err, "seed navigation")
		}
		if len(current) == 0 {
			if err := t.ReplaceNavigation(ctx, toNav(f.Navigation)); err != nil {
				return res, xerrors.Wrap(err, "seed navigation")
			}
			res.NavigationSeeded = true
			L.Info(ctx, "seeded navigation", "items", len(f.Navigation))
		}
	}
	return res, nil
}

func toUser(su User, cost int, lookup func(string) (string, bool)) (*store.User, error) {
	if strings.TrimSpace(su.Email) == "" {
		return nil, xerrors.Mark(xerrors.ErrInvalid, "seed user without email")
	}
	pw := su.Password
	if su.PasswordEnv != "" {
		v, ok := lookup(su.PasswordEnv)
		if !ok || v == "" {
			return nil, xerrors.Mark(xerrors.ErrInvalid, "seed user %s: %s is not set", su.Email, su.PasswordEnv)
		}
		pw = v
	}
	u := &store.User{Email: su.Email, Name: su.Name, Role: su.Role}
	// users without a password can only sign in through oauth
	if pw != "" {
		hash, err := auth.HashPassword(pw, cost)
		if err != nil {
			return nil, xerrors.Wrapf(err, "seed user %s", su.Email)
		}
		u.PasswordHash = hash
	}
	return u, nil
}

func toNav(in []NavItem) []store.NavItem {
	out := make([]store.NavItem, 0, len(in))
	for _, it := range in {
		out = append(out, store.NavItem{Label: it.Label, Href: it.Href, Children: toNav(it.Children)})
	}
	return out
}
