package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/keithlinneman/linnemanlabs-cms/internal/cryptoutil"
	"github.com/keithlinneman/linnemanlabs-cms/internal/xerrors"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 30 * 24 * time.Hour
	refreshTokenBytes = 32
	minSecretBytes    = 32
)

type Config struct {
	Secret     []byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// OAuth clients by provider name, see NewOAuthClient
	OAuth            map[string]OAuthClient
	OAuthRedirectURL string

	// BcryptCost is the cost of stored hashes, used to keep unknown-user
	// logins as slow as real ones. Defaults to bcrypt.DefaultCost.
	BcryptCost int
}

// Service implements Provider over a UserStore and a SessionStore.
type Service struct {
	cfg      Config
	users    UserStore
	sessions SessionStore
	now      func() time.Time

	dummyOnce sync.Once
	dummyHash []byte
}

var _ Provider = (*Service)(nil)

type Option func(*Service)

// WithNow sets the time source for token issue and expiry checks.
func WithNow(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(cfg Config, users UserStore, sessions SessionStore, opts ...Option) (*Service, error) {
	if len(cfg.Secret) < minSecretBytes {
		return nil, xerrors.Newf("auth: secret must be at least %d bytes", minSecretBytes)
	}
	if users == nil || sessions == nil {
		return nil, xerrors.New("auth: user and session stores are required")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = defaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = defaultRefreshTTL
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "linnemanlabs-cms"
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	s := &Service{cfg: cfg, users: users, sessions: sessions, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Claims are carried in access tokens. Subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
	Email     string `json:"email"`
	Role      Role   `json:"role"`
}

func (s *Service) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	acct, err := s.users.UserByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, xerrors.ErrNotFound) {
		s.burnCompare(password)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, xerrors.Wrap(err, "load user")
	}
	if acct.PasswordHash == "" || !checkPassword(acct.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	return s.startSession(ctx, acct.User)
}

// burnCompare spends one bcrypt comparison so unknown emails cost as much as wrong passwords.
func (s *Service) burnCompare(password string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), s.cfg.BcryptCost)
	})
	_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
}

func (s *Service) startSession(ctx context.Context, u User) (*Session, error) {
	refresh, err := cryptoutil.RandomToken(refreshTokenBytes)
	if err != nil {
		return nil, xerrors.Wrap(err, "generate refresh token")
	}
	now := s.now()
	rec := &SessionRecord{
		ID:          uuid.NewString(),
		UserID:      u.ID,
		RefreshHash: cryptoutil.TokenHash(refresh),
		ExpiresAt:   now.Add(s.cfg.RefreshTTL),
		CreatedAt:   now,
	}
	if err := s.sessions.CreateSession(ctx, rec); err != nil {
		return nil, xerrors.Wrap(err, "create session")
	}
	return s.issue(u, rec.ID, refresh, now)
}

func (s *Service) issue(u User, sessionID, refresh string, now time.Time) (*Session, error) {
	exp := now.Add(s.cfg.AccessTTL)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   u.ID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		SessionID: sessionID,
		Email:     u.Email,
		Role:      u.Role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.Secret)
	if err != nil {
		return nil, xerrors.Wrap(err, "sign access token")
	}
	return &Session{
		AccessToken:  signed,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresAt:    exp,
		User:         u,
	}, nil
}

// parse checks signature, issuer and expiry only, not the session.
func (s *Service) parse(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.cfg.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		// keep the jwt cause matchable, e.g. jwt.ErrTokenExpired
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.SessionID == "" || claims.Subject == "" {
		return nil, xerrors.Mark(ErrInvalidToken, "missing session or subject")
	}
	return claims, nil
}

func (s *Service) VerifySession(ctx context.Context, accessToken string) (*Claims, error) {
	claims, err := s.parse(accessToken)
	if err != nil {
		return nil, err
	}
	rec, err := s.sessions.SessionByID(ctx, claims.SessionID)
	if errors.Is(err, xerrors.ErrNotFound) {
		return nil, ErrSessionRevoked
	}
	if err != nil {
		return nil, xerrors.Wrap(err, "load session")
	}
	if !rec.Active(s.now()) {
		return nil, ErrSessionRevoked
	}
	return claims, nil
}

func (s *Service) RefreshSession(ctx context.Context, refreshToken string) (*Session, error) {
	if refreshToken == "" {
		return nil, ErrInvalidToken
	}
	oldHash := cryptoutil.TokenHash(refreshToken)
	rec, err := s.sessions.SessionByRefreshHash(ctx, oldHash)
	if errors.Is(err, xerrors.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, xerrors.Wrap(err, "load session")
	}
	now := s.now()
	if !rec.Active(now) {
		return nil, ErrSessionRevoked
	}

	// role or email may have changed since sign in
	acct, err := s.users.UserByID(ctx, rec.UserID)
	if errors.Is(err, xerrors.ErrNotFound) {
		_ = s.sessions.RevokeSession(ctx, rec.ID, now)
		return nil, ErrSessionRevoked
	}
	if err != nil {
		return nil, xerrors.Wrap(err, "load user")
	}

	next, err := cryptoutil.RandomToken(refreshTokenBytes)
	if err != nil {
		return nil, xerrors.Wrap(err, "generate refresh token")
	}
	err = s.sessions.RotateRefresh(ctx, rec.ID, oldHash, cryptoutil.TokenHash(next), now.Add(s.cfg.RefreshTTL))
	if errors.Is(err, xerrors.ErrConflict) || errors.Is(err, xerrors.ErrNotFound) {
		// lost a race with a concurrent refresh of the same token
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, xerrors.Wrap(err, "rotate refresh token")
	}
	return s.issue(acct.User, rec.ID, next, now)
}

// SignOut revokes the session behind accessToken. Expired but otherwise valid
// tokens are accepted so clients can always sign out.
func (s *Service) SignOut(ctx context.Context, accessToken string) error {
	claims, err := s.parse(accessToken)
	if errors.Is(err, ErrInvalidToken) && errors.Is(err, jwt.ErrTokenExpired) {
		claims, err = s.parseExpired(accessToken)
	}
	if err != nil {
		return err
	}
	if err := s.sessions.RevokeSession(ctx, claims.SessionID, s.now()); err != nil && !errors.Is(err, xerrors.ErrNotFound) {
		return xerrors.Wrap(err, "revoke session")
	}
	return nil
}

func (s *Service) parseExpired(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.cfg.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil || claims.SessionID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *Service) GetCurrentUser(ctx context.Context, accessToken string) (*User, error) {
	claims, err := s.VerifySession(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	acct, err := s.users.UserByID(ctx, claims.Subject)
	if errors.Is(err, xerrors.ErrNotFound) {
		return nil, ErrSessionRevoked
	}
	if err != nil {
		return nil, xerrors.Wrap(err, "load user")
	}
	u := acct.User
	return &u, nil
}
