package cfg

import (
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/keithlinneman/linnemanlabs-cms/internal/log"
)

// EnvPrefix is the prefix FillFromEnv uses in main.
const EnvPrefix = "LMCMS_"

// Session backends
const (
	SessionBackendDB    = "db"
	SessionBackendRedis = "redis"
)

type App struct {
	LogJSON         bool
	LogLevel        string
	StacktraceLevel string
	HTTPPort        int
	AdminPort       int
	EnablePprof     bool
	EnablePyroscope bool
	EnableTracing   bool
	PyroServer      string
	PyroTenantID    string
	OTLPEndpoint    string
	TraceSample     float64
	TrustedHops     int
	MaxBodyBytes    int64

	DBPath         string
	SeedFile       string
	SessionBackend string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int

	JWTSecret              string
	JWTSecretSSMParam      string
	JWTSecretKMSCiphertext string
	JWTSecretKMSKey        string
	JWTIssuer              string
	AccessTokenTTL         time.Duration
	RefreshTokenTTL        time.Duration

	OAuthRedirectURL   string
	GitHubClientID     string
	GoogleClientID     string
	MediaBucket        string
	MediaPrefix        string
	MediaPublicURL     string
	MediaMaxBytes      int64
	MediaUploadsPerSec float64

	AuthRateWindow  time.Duration
	AuthRateMax     int
	LoginRateWindow time.Duration
	LoginRateMax    int
	APIRateWindow   time.Duration
	APIRateMax      int
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 1, "number of trusted proxies in front of the server for X-Forwarded-For (0..8)")
	fs.Int64Var(&c.MaxBodyBytes, "max-body-bytes", 1<<20, "max request body size for JSON routes")

	fs.StringVar(&c.DBPath, "db-path", "cms.db", "sqlite database file")
	fs.StringVar(&c.SeedFile, "seed-file", "", "optional YAML seed file applied at startup")
	fs.StringVar(&c.SessionBackend, "session-backend", SessionBackendDB, "session store backend (db|redis)")
	fs.StringVar(&c.RedisAddr, "redis-addr", "localhost:6379", "redis address (host:port) when session-backend=redis")
	fs.StringVar(&c.RedisPassword, "redis-password", "", "redis password")
	fs.IntVar(&c.RedisDB, "redis-db", 0, "redis database number")

	fs.StringVar(&c.JWTSecret, "jwt-secret", "", "HMAC secret for access tokens (min 32 bytes)")
	fs.StringVar(&c.JWTSecretSSMParam, "jwt-secret-ssm-param", "", "ssm parameter holding the jwt secret (overrides -jwt-secret)")
	fs.StringVar(&c.JWTSecretKMSCiphertext, "jwt-secret-kms-ciphertext", "", "base64 KMS ciphertext of the jwt secret, decrypted at startup (overrides -jwt-secret)")
	fs.StringVar(&c.JWTSecretKMSKey, "jwt-secret-kms-key", "", "KMS key id or ARN the ciphertext must be encrypted under (optional)")
	fs.StringVar(&c.JWTIssuer, "jwt-issuer", "linnemanlabs-cms", "iss claim for access tokens")
	fs.DurationVar(&c.AccessTokenTTL, "access-token-ttl", 15*time.Minute, "access token lifetime")
	fs.DurationVar(&c.RefreshTokenTTL, "refresh-token-ttl", 30*24*time.Hour, "refresh token lifetime")

	fs.StringVar(&c.OAuthRedirectURL, "oauth-redirect-url", "", "default redirect url for oauth sign in")
	fs.StringVar(&c.GitHubClientID, "oauth-github-client-id", "", "github oauth client id (empty disables)")
	fs.StringVar(&c.GoogleClientID, "oauth-google-client-id", "", "google oauth client id (empty disables)")

	fs.StringVar(&c.MediaBucket, "media-bucket", "", "s3 bucket for uploaded media (empty disables uploads)")
	fs.StringVar(&c.MediaPrefix, "media-prefix", "media", "s3 key prefix for uploaded media")
	fs.StringVar(&c.MediaPublicURL, "media-public-url", "", "public base url for media (empty uses presigned urls)")
	fs.Int64Var(&c.MediaMaxBytes, "media-max-bytes", 10<<20, "max upload size")
	fs.Float64Var(&c.MediaUploadsPerSec, "media-uploads-per-sec", 5, "global upload rate to s3")

	fs.DurationVar(&c.AuthRateWindow, "auth-rate-window", 15*time.Minute, "sliding window for /api/auth per client ip")
	fs.IntVar(&c.AuthRateMax, "auth-rate-max", 20, "max /api/auth requests per client ip per window")
	fs.DurationVar(&c.LoginRateWindow, "login-rate-window", 15*time.Minute, "sliding window for password logins per account")
	fs.IntVar(&c.LoginRateMax, "login-rate-max", 5, "max password logins per account per window")
	fs.DurationVar(&c.APIRateWindow, "api-rate-window", time.Minute, "sliding window for /api per client ip")
	fs.IntVar(&c.APIRateMax, "api-rate-max", 120, "max /api requests per client ip per window")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := EnvKey(prefix, f.Name)
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// EnvKey maps flag "jwt-secret" with prefix "LMCMS_" to LMCMS_JWT_SECRET.
func EnvKey(prefix, flagName string) string {
	return prefix + strings.ReplaceAll(strings.ToUpper(flagName), "-", "_")
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}

	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	// OTLP tracing (grpc exporter wants host:port, no scheme)
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if err := validHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	if c.TrustedHops < 0 || c.TrustedHops > 8 {
		errs = append(errs, fmt.Errorf("TRUSTED_HOPS must be 0..8 (got %d)", c.TrustedHops))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("MAX_BODY_BYTES must be > 0 (got %d)", c.MaxBodyBytes))
	}

	if c.DBPath == "" {
		errs = append(errs, fmt.Errorf("DB_PATH is required"))
	}

	switch c.SessionBackend {
	case SessionBackendDB:
	case SessionBackendRedis:
		if err := validHostPort(c.RedisAddr); err != nil {
			errs = append(errs, fmt.Errorf("REDIS_ADDR must be host:port (got %q): %v", c.RedisAddr, err))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid SESSION_BACKEND %q (must be db|redis)", c.SessionBackend))
	}

	// the secret may arrive later from ssm or kms
	switch {
	case c.JWTSecretSSMParam != "" && c.JWTSecretKMSCiphertext != "":
		errs = append(errs, fmt.Errorf("JWT_SECRET_SSM_PARAM and JWT_SECRET_KMS_CIPHERTEXT are mutually exclusive"))
	case c.JWTSecretKMSCiphertext != "":
		if _, err := base64.StdEncoding.DecodeString(c.JWTSecretKMSCiphertext); err != nil {
			errs = append(errs, fmt.Errorf("JWT_SECRET_KMS_CIPHERTEXT must be base64: %v", err))
		}
	case c.JWTSecretSSMParam == "" && len(c.JWTSecret) < 32:
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least 32 bytes or JWT_SECRET_SSM_PARAM or JWT_SECRET_KMS_CIPHERTEXT set"))
	}
	if c.JWTSecretKMSKey != "" && c.JWTSecretKMSCiphertext == "" {
		errs = append(errs, fmt.Errorf("JWT_SECRET_KMS_KEY requires JWT_SECRET_KMS_CIPHERTEXT"))
	}
	if c.AccessTokenTTL <= 0 {
		errs = append(errs, fmt.Errorf("ACCESS_TOKEN_TTL must be > 0 (got %s)", c.AccessTokenTTL))
	}
	if c.RefreshTokenTTL <= c.AccessTokenTTL {
		errs = append(errs, fmt.Errorf("REFRESH_TOKEN_TTL (%s) must exceed ACCESS_TOKEN_TTL (%s)", c.RefreshTokenTTL, c.AccessTokenTTL))
	}

	if (c.GitHubClientID != "" || c.GoogleClientID != "") && c.OAuthRedirectURL != "" {
		if u, err := url.Parse(c.OAuthRedirectURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("OAUTH_REDIRECT_URL must be a URL (got %q)", c.OAuthRedirectURL))
		}
	}

	if c.MediaBucket != "" {
		if c.MediaMaxBytes <= 0 {
			errs = append(errs, fmt.Errorf("MEDIA_MAX_BYTES must be > 0 (got %d)", c.MediaMaxBytes))
		}
		if c.MediaUploadsPerSec <= 0 {
			errs = append(errs, fmt.Errorf("MEDIA_UPLOADS_PER_SEC must be > 0 (got %.2f)", c.MediaUploadsPerSec))
		}
		if c.MediaPublicURL != "" {
			if u, err := url.Parse(c.MediaPublicURL); err != nil || u.Scheme == "" || u.Host == "" {
				errs = append(errs, fmt.Errorf("MEDIA_PUBLIC_URL must be a URL (got %q)", c.MediaPublicURL))
			}
		}
	}

	// Rate limits
	for _, rl := range []struct {
		name   string
		window time.Duration
		max    int
	}{
		{"AUTH_RATE", c.AuthRateWindow, c.AuthRateMax},
		{"LOGIN_RATE", c.LoginRateWindow, c.LoginRateMax},
		{"API_RATE", c.APIRateWindow, c.APIRateMax},
	} {
		if rl.window <= 0 {
			errs = append(errs, fmt.Errorf("%s_WINDOW must be > 0 (got %s)", rl.name, rl.window))
		}
		if rl.max <= 0 {
			errs = append(errs, fmt.Errorf("%s_MAX must be > 0 (got %d)", rl.name, rl.max))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// validHostPort accepts host:port with a numeric port and no scheme.
func validHostPort(s string) error {
	if strings.Contains(s, "://") {
		return errors.New("scheme not allowed")
	}
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return err
	}
	if host == "" {
		return errors.New("missing host")
	}
	if n, err := strconv.Atoi(port); err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("invalid port %q", port)
	}
	return nil
}
