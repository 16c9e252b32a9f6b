package auth

import (
	"context"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/keithlinneman/linnemanlabs-cms/internal/xerrors"
)

// OAuthClient describes an authorization-code client for one provider.
type OAuthClient struct {
	ClientID     string
	AuthorizeURL string
	Scopes       []string
}

var oauthEndpoints = map[string]OAuthClient{
	"github": {
		AuthorizeURL: "https://github.com/login/oauth/authorize",
		Scopes:       []string{"read:user", "user:email"},
	},
	"google": {
		AuthorizeURL: "https://accounts.google.com/o/oauth2/v2/auth",
		Scopes:       []string{"openid", "email", "profile"},
	},
}

// NewOAuthClient returns the client for a known provider (github, google).
func NewOAuthClient(provider, clientID string) (OAuthClient, error) {
	c, ok := oauthEndpoints[strings.ToLower(provider)]
	if !ok {
		return OAuthClient{}, xerrors.Mark(ErrUnsupportedProvider, "%q", provider)
	}
	c.ClientID = clientID
	return c, nil
}

// SignInWithOAuth builds the authorize URL for provider. redirectTo defaults to
// the configured redirect URL and must share its host when one is configured.
func (s *Service) SignInWithOAuth(_ context.Context, provider, redirectTo string) (string, error) {
	c, ok := s.cfg.OAuth[strings.ToLower(provider)]
	if !ok || c.ClientID == "" {
		return "", xerrors.Mark(ErrUnsupportedProvider, "%q", provider)
	}

	if redirectTo == "" {
		redirectTo = s.cfg.OAuthRedirectURL
	}
	ru, err := url.Parse(redirectTo)
	if err != nil || (ru.Scheme != "https" && ru.Scheme != "http") || ru.Host == "" {
		return "", xerrors.Mark(xerrors.ErrInvalid, "redirect_to must be an absolute http(s) url")
	}
	if s.cfg.OAuthRedirectURL != "" {
		if def, err := url.Parse(s.cfg.OAuthRedirectURL); err == nil && !strings.EqualFold(def.Host, ru.Host) {
			return "", xerrors.Mark(xerrors.ErrInvalid, "redirect_to host %q is not allowed", ru.Host)
		}
	}

	au, err := url.Parse(c.AuthorizeURL)
	if err != nil {
		return "", xerrors.Wrapf(err, "parse authorize url for %s", provider)
	}
	q := au.Query()
	q.Set("client_id", c.ClientID)
	q.Set("redirect_uri", ru.String())
	q.Set("response_type", "code")
	q.Set("scope", strings.Join(c.Scopes, " "))
	q.Set("state", uuid.NewString())
	au.RawQuery = q.Encode()
	return au.String(), nil
}
