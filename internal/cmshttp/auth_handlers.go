package cmshttp

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-cms/internal/auth"
	"github.com/keithlinneman/linnemanlabs-cms/internal/log"
	"github.com/keithlinneman/linnemanlabs-cms/internal/ratelimit"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type oauthResponse struct {
	URL string `json:"url"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req loginRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}

	key := auth.NormalizeEmail(req.Email)
	if lim := a.opts.LoginLimiter; lim != nil {
		if res := lim.Check(key); !res.Allowed {
			a.opts.Metrics.IncAuth("password", "throttled")
			ratelimit.WriteTooManyRequests(w, res.RetryAfter)
			return
		}
	}

	sess, err := a.opts.Auth.SignInWithPassword(ctx, req.Email, req.Password)
	if err != nil {
		outcome := "error"
		if errors.Is(err, auth.ErrInvalidCredentials) {
			outcome = "failure"
			log.FromContext(ctx).Info(ctx, "sign in rejected", "email", key)
		}
		a.opts.Metrics.IncAuth("password", outcome)
		fail(w, r, err)
		return
	}

	if lim := a.opts.LoginLimiter; lim != nil {
		lim.Reset(key)
	}
	a.opts.Metrics.IncAuth("password", "success")
	log.FromContext(ctx).Info(ctx, "signed in", "user_id", sess.User.ID)
	writeJSON(w, r, http.StatusOK, sess)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	tok, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}
	if err := a.opts.Auth.SignOut(r.Context(), tok); err != nil {
		fail(w, r, err)
		return
	}
	a.opts.Metrics.IncAuth("logout", "success")
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	sess, err := a.opts.Auth.RefreshSession(r.Context(), req.RefreshToken)
	if err != nil {
		a.opts.Metrics.IncAuth("refresh", "failure")
		fail(w, r, err)
		return
	}
	a.opts.Metrics.IncAuth("refresh", "success")
	writeJSON(w, r, http.StatusOK, sess)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	tok, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}
	u, err := a.opts.Auth.GetCurrentUser(r.Context(), tok)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, u)
}

func (a *API) handleOAuth(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	u, err := a.opts.Auth.SignInWithOAuth(r.Context(), provider, r.URL.Query().Get("redirect_to"))
	if err != nil {
		a.opts.Metrics.IncAuth("oauth", "failure")
		fail(w, r, err)
		return
	}
	a.opts.Metrics.IncAuth("oauth", "redirect")
	writeJSON(w, r, http.StatusOK, oauthResponse{URL: u})
}
