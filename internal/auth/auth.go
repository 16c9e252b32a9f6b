package auth

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrInvalidCredentials  = errors.New("invalid email or password")
	ErrInvalidToken        = errors.New("invalid or expired token")
	ErrSessionRevoked      = errors.New("session revoked")
	ErrUnsupportedProvider = errors.New("unsupported oauth provider")
)

// Provider is what the HTTP layer needs from an auth backend.
type Provider interface {
	// SignInWithOAuth returns the provider authorization URL to redirect the user to.
	SignInWithOAuth(ctx context.Context, provider, redirectTo string) (string, error)
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context, accessToken string) error
	VerifySession(ctx context.Context, accessToken string) (*Claims, error)
	RefreshSession(ctx context.Context, refreshToken string) (*Session, error)
	GetCurrentUser(ctx context.Context, accessToken string) (*User, error)
}

type Role string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleViewer, RoleEditor, RoleAdmin:
		return true
	}
	return false
}

// CanEdit reports whether the role may change content.
func (r Role) CanEdit() bool { return r == RoleEditor || r == RoleAdmin }

// User is the public view of an account.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Role  Role   `json:"role"`
}

// Account is a user as stored, including the bcrypt password hash.
type Account struct {
	User
	PasswordHash string
}

// Session is handed to the client after sign in or refresh.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         User      `json:"user"`
}

// SessionRecord is the server-side session state. RefreshHash is the
// SHA-256 hex of the current refresh token.
type SessionRecord struct {
	ID          string
	UserID      string
	RefreshHash string
	ExpiresAt   time.Time
	RevokedAt   *time.Time
	CreatedAt   time.Time
}

// Active reports whether the session is usable at now.
func (s *SessionRecord) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// UserStore looks up accounts. Lookups of unknown users return an error
// matching xerrors.ErrNotFound.
type UserStore interface {
	UserByEmail(ctx context.Context, email string) (*Account, error)
	UserByID(ctx context.Context, id string) (*Account, error)
}

// SessionStore persists sessions. Unknown ids or hashes return an error
// matching xerrors.ErrNotFound.
type SessionStore interface {
	CreateSession(ctx context.Context, s *SessionRecord) error
	SessionByID(ctx context.Context, id string) (*SessionRecord, error)
	SessionByRefreshHash(ctx context.Context, hash string) (*SessionRecord, error)
	// RotateRefresh swaps oldHash for newHash on session id. It fails with
	// xerrors.ErrConflict when oldHash is no longer current, so a refresh
	// token can be redeemed once.
	RotateRefresh(ctx context.Context, id, oldHash, newHash string, expiresAt time.Time) error
	RevokeSession(ctx context.Context, id string, at time.Time) error
}

// NormalizeEmail is the canonical form used for lookups and rate limit keys.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
