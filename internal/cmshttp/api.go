// Package cmshttp is the JSON API over auth, content storage and media.
package cmshttp

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-cms/internal/auth"
	"github.com/keithlinneman/linnemanlabs-cms/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-cms/internal/log"
	"github.com/keithlinneman/linnemanlabs-cms/internal/media"
	"github.com/keithlinneman/linnemanlabs-cms/internal/ratelimit"
	"github.com/keithlinneman/linnemanlabs-cms/internal/store"
)

const (
	defaultMaxBodyBytes = 1 << 20
	// multipart framing on top of the file itself
	uploadOverhead = 64 << 10
)

// ContentStore is the storage the API reads and writes. *store.Store implements it.
type ContentStore interface {
	ListPages(ctx context.Context, publishedOnly bool) ([]store.Page, error)
	PageBySlug(ctx context.Context, slug string, publishedOnly bool) (*store.Page, error)
	PageByID(ctx context.Context, id uint) (*store.Page, error)
	CreatePage(ctx context.Context, p *store.Page) error
	UpdatePage(ctx context.Context, id uint, u store.PageUpdate) (*store.Page, error)
	DeletePage(ctx context.Context, id uint) error

	ListNavigation(ctx context.Context) ([]store.NavItem, error)
	ReplaceNavigation(ctx context.Context, items []store.NavItem) error

	CreateMedia(ctx context.Context, m *store.Media) error
	MediaByID(ctx context.Context, id uint) (*store.Media, error)
	MediaByKey(ctx context.Context, key string) (*store.Media, error)
	ListMedia(ctx context.Context, limit, offset int) ([]store.Media, error)
	DeleteMedia(ctx context.Context, id uint) (*store.Media, error)
}

// MediaStore holds uploaded objects. *media.Store implements it.
type MediaStore interface {
	Put(ctx context.Context, filename string, body io.Reader) (*media.Object, error)
	Delete(ctx context.Context, key string) error
	URL(ctx context.Context, key string) (string, error)
	MaxBytes() int64
}

// Recorder receives auth and upload outcomes. *metrics.ServerMetrics implements it.
type Recorder interface {
	IncAuth(method, outcome string)
	ObserveMediaUpload(outcome string, size int64)
}

type nopRecorder struct{}

func (nopRecorder) IncAuth(string, string) {}
func (nopRecorder) ObserveMediaUpload(string, int64) {}

type Options struct {
	Auth    auth.Provider
	Content ContentStore
	// Media is optional; without it media routes answer 503.
	Media     MediaStore
	Sanitizer Sanitizer
	Metrics   Recorder
	Logger    log.Logger

	// APILimiter guards every /api route by client ip.
	APILimiter *ratelimit.Limiter
	// AuthLimiter guards /api/auth by client ip.
	AuthLimiter *ratelimit.Limiter
	// LoginLimiter guards password sign in by normalized email.
	LoginLimiter *ratelimit.Limiter

	MaxBodyBytes int64
}

// API implements the CMS endpoints.
type API struct {
	opts   Options
	logger log.Logger
}

func New(opts Options) (*API, error) {
	if opts.Auth == nil || opts.Content == nil {
		return nil, errMissingDeps
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Metrics == nil {
		opts.Metrics = nopRecorder{}
	}
	if opts.Sanitizer == nil {
		opts.Sanitizer = PassThrough
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	return &API{opts: opts, logger: opts.Logger}, nil
}

// RegisterRoutes mounts everything under /api.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		if a.opts.APILimiter != nil {
			r.Use(a.opts.APILimiter.Middleware)
		}

		r.Group(func(r chi.Router) {
			r.Use(httpmw.MaxBody(a.opts.MaxBodyBytes))
			r.Route("/auth", a.authRoutes)
			r.Route("/pages", a.pageRoutes)
			r.Route("/navigation", a.navigationRoutes)
		})

		r.Route("/media", a.mediaRoutes)
	})
}

func (a *API) authRoutes(r chi.Router) {
	r.Use(httpmw.Scope("auth"))
	if a.opts.AuthLimiter != nil {
		r.Use(a.opts.AuthLimiter.Middleware)
	}
	r.Post("/login", a.handleLogin)
	r.Post("/logout", a.handleLogout)
	r.Post("/refresh", a.handleRefresh)
	r.Get("/me", a.handleMe)
	r.Get("/oauth/{provider}", a.handleOAuth)
}

func (a *API) pageRoutes(r chi.Router) {
	r.Use(httpmw.Scope("pages"))
	r.With(a.optionalSession).Get("/", a.handleListPages)
	r.With(a.optionalSession).Get("/{slug}", a.handleGetPage)

	r.Group(func(r chi.Router) {
		r.Use(a.requireEditor)
		r.Post("/", a.handleCreatePage)
		r.Get("/id/{id}", a.handleGetPageByID)
		r.Put("/id/{id}", a.handleUpdatePage)
		r.Delete("/id/{id}", a.handleDeletePage)
	})
}

func (a *API) navigationRoutes(r chi.Router) {
	r.Use(httpmw.Scope("navigation"))
	r.Get("/", a.handleGetNavigation)
	r.With(a.requireEditor).Put("/", a.handleReplaceNavigation)
}

func (a *API) mediaRoutes(r chi.Router) {
	r.Use(httpmw.Scope("media"))
	r.Use(a.requireEditor)
	r.Use(a.requireMedia)

	r.With(httpmw.MaxBody(a.opts.MaxBodyBytes)).Get("/", a.handleListMedia)
	r.With(httpmw.MaxBody(a.opts.MaxBodyBytes)).Get("/{id}", a.handleGetMedia)
	r.With(httpmw.MaxBody(a.opts.MaxBodyBytes)).Delete("/{id}", a.handleDeleteMedia)
	r.With(a.uploadLimit).Post("/", a.handleUpload)
}

func (a *API) requireMedia(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.opts.Media == nil {
			writeError(w, http.StatusServiceUnavailable, "media storage is not configured")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) uploadLimit(next http.Handler) http.Handler {
	var limit int64 = uploadOverhead + defaultMaxBodyBytes
	if a.opts.Media != nil {
		limit = a.opts.Media.MaxBytes() + uploadOverhead
	}
	return httpmw.MaxBody(limit)(next)
}
