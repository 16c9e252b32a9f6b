package cmshttp

import (
	"context"
	"net/http"
	"strings"

	"github.com/keithlinneman/linnemanlabs-cms/internal/auth"
	"github.com/keithlinneman/linnemanlabs-cms/internal/log"
)

type claimsKey struct{}

func withClaims(ctx context.Context, c *auth.Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// ClaimsFromContext returns the verified session claims, or nil.
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	c, _ := ctx.Value(claimsKey{}).(*auth.Claims)
	return c
}

// bearerToken returns the token from "Authorization: Bearer <token>".
func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, tok, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}

// verify checks the bearer session and stores its claims on the request.
func (a *API) verify(w http.ResponseWriter, r *http.Request) (*http.Request, bool) {
	tok, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return r, false
	}
	claims, err := a.opts.Auth.VerifySession(r.Context(), tok)
	if err != nil {
		fail(w, r, err)
		return r, false
	}
	ctx := withClaims(r.Context(), claims)
	ctx, _ = log.Enrich(ctx, "user_id", claims.Subject)
	return r.WithContext(ctx), true
}

// requireEditor admits sessions whose role may change content.
func (a *API) requireEditor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r, ok := a.verify(w, r)
		if !ok {
			return
		}
		if !ClaimsFromContext(r.Context()).Role.CanEdit() {
			writeError(w, http.StatusForbidden, "editor role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// optionalSession verifies a bearer token when one is sent. Requests without
// one pass through anonymously.
func (a *API) optionalSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := bearerToken(r); !ok {
			next.ServeHTTP(w, r)
			return
		}
		r, ok := a.verify(w, r)
		if !ok {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// canSeeDrafts reports whether the caller may read unpublished pages.
func canSeeDrafts(ctx context.Context) bool {
	c := ClaimsFromContext(ctx)
	return c != nil && c.Role.CanEdit()
}
