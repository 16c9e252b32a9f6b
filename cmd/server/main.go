package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/redis/go-redis/v9"

	"github.com/keithlinneman/linnemanlabs-cms/internal/auth"
	"github.com/keithlinneman/linnemanlabs-cms/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-cms/internal/cmshttp"
	"github.com/keithlinneman/linnemanlabs-cms/internal/cryptoutil"
	"github.com/keithlinneman/linnemanlabs-cms/internal/health"
	"github.com/keithlinneman/linnemanlabs-cms/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-cms/internal/httpserver"
	"github.com/keithlinneman/linnemanlabs-cms/internal/log"
	"github.com/keithlinneman/linnemanlabs-cms/internal/media"
	"github.com/keithlinneman/linnemanlabs-cms/internal/metrics"
	"github.com/keithlinneman/linnemanlabs-cms/internal/opshttp"
	"github.com/keithlinneman/linnemanlabs-cms/internal/otelx"
	"github.com/keithlinneman/linnemanlabs-cms/internal/prof"
	"github.com/keithlinneman/linnemanlabs-cms/internal/ratelimit"
	"github.com/keithlinneman/linnemanlabs-cms/internal/seed"
	"github.com/keithlinneman/linnemanlabs-cms/internal/store"
	v "github.com/keithlinneman/linnemanlabs-cms/internal/version"
	"github.com/keithlinneman/linnemanlabs-cms/internal/xerrors"
)

const (
	drainPeriod     = 30 * time.Second
	janitorInterval = time.Hour
	pingTimeout     = 2 * time.Second
	minSecretBytes  = 32
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// Parse config from flags and env
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(vi)
		os.Exit(0)
	}

	// cli flags win over LMCMS_ env vars, which win over defaults
	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Setup logging, levels were checked by Validate
	lvl, _ := log.ParseLevel(conf.LogLevel)
	stackLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	lg, err := log.New(log.Options{
		App:             v.AppName,
		Version:         vi.Version,
		Level:           lvl,
		StacktraceLevel: stackLvl,
		JSONFormat:      conf.LogJSON,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildID,
		"go_version", vi.GoVersion,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"db_path", conf.DBPath,
		"session_backend", conf.SessionBackend,
		"media_bucket", conf.MediaBucket,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"trusted_hops", conf.TrustedHops,
		"api_rate", fmt.Sprintf("%d/%s", conf.APIRateMax, conf.APIRateWindow),
		"auth_rate", fmt.Sprintf("%d/%s", conf.AuthRateMax, conf.AuthRateWindow),
		"login_rate", fmt.Sprintf("%d/%s", conf.LoginRateMax, conf.LoginRateWindow),
	)

	// Setup pyroscope profiling
	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"component": "server",
			"commit":    vi.Commit,
			"build_id":  vi.BuildID,
		},
	})

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", &vi)
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	} else {
		m.SetProfilingActive(conf.EnablePyroscope)
	}
	defer func() { stopProf() }()

	// Insecure because we only export to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	// AWS is only needed for the ssm or kms secret and media uploads
	var awsCfg aws.Config
	if conf.JWTSecretSSMParam != "" || conf.JWTSecretKMSCiphertext != "" || conf.MediaBucket != "" {
		awsCfg, err = config.LoadDefaultConfig(ctx)
		if err != nil {
			L.Error(ctx, err, "failed to load AWS config")
			os.Exit(1)
		}
	}

	secret := []byte(conf.JWTSecret)
	switch {
	case conf.JWTSecretSSMParam != "":
		secret, err = loadSecret(ctx, ssm.NewFromConfig(awsCfg), conf.JWTSecretSSMParam)
		if err != nil {
			L.Error(ctx, err, "failed to load jwt secret", "ssm_param", conf.JWTSecretSSMParam)
			os.Exit(1)
		}
	case conf.JWTSecretKMSCiphertext != "":
		dec := cryptoutil.NewKMSDecryptor(kms.NewFromConfig(awsCfg), conf.JWTSecretKMSKey)
		secret, err = dec.DecryptSecret(ctx, conf.JWTSecretKMSCiphertext, minSecretBytes)
		if err != nil {
			L.Error(ctx, err, "failed to decrypt jwt secret", "kms_key", conf.JWTSecretKMSKey)
			os.Exit(1)
		}
	}

	st, err := store.Open(ctx, conf.DBPath, store.Options{Logger: L.With("component", "store")})
	if err != nil {
		L.Error(ctx, err, "failed to open database", "db_path", conf.DBPath)
		os.Exit(1)
	}
	defer func() { _ = st.Close() }()

	if conf.SeedFile != "" {
		f, err := seed.Load(conf.SeedFile)
		if err != nil {
			L.Error(ctx, err, "failed to load seed file", "seed_file", conf.SeedFile)
			os.Exit(1)
		}
		res, err := seed.Apply(ctx, st, f, seed.Options{Logger: L.With("component", "seed")})
		if err != nil {
			L.Error(ctx, err, "failed to apply seed file", "seed_file", conf.SeedFile)
			os.Exit(1)
		}
		L.Info(ctx, "applied seed file",
			"seed_file", conf.SeedFile,
			"users_created", res.UsersCreated,
			"pages_created", res.PagesCreated,
			"navigation_seeded", res.NavigationSeeded,
		)
	}

	// readiness must pass the shutdown gate and every backing store
	var gate health.ShutdownGate
	probes := []health.Probe{gate.Probe(), health.Ping("database", st, pingTimeout)}

	var sessions auth.SessionStore = st
	if conf.SessionBackend == cfg.SessionBackendRedis {
		rdb := redis.NewClient(&redis.Options{
			Addr:     conf.RedisAddr,
			Password: conf.RedisPassword,
			DB:       conf.RedisDB,
		})
		defer func() { _ = rdb.Close() }()
		rs := auth.NewRedisSessions(rdb, "")
		sessions = rs
		probes = append(probes, health.Ping("redis", rs, pingTimeout))
	} else {
		go runSessionJanitor(ctx, L, st)
	}

	oauth := map[string]auth.OAuthClient{}
	for provider, id := range map[string]string{"github": conf.GitHubClientID, "google": conf.GoogleClientID} {
		if id == "" {
			continue
		}
		c, err := auth.NewOAuthClient(provider, id)
		if err != nil {
			L.Error(ctx, err, "invalid oauth provider", "provider", provider)
			os.Exit(1)
		}
		oauth[provider] = c
	}

	authSvc, err := auth.NewService(auth.Config{
		Secret:           secret,
		Issuer:           conf.JWTIssuer,
		AccessTTL:        conf.AccessTokenTTL,
		RefreshTTL:       conf.RefreshTokenTTL,
		OAuth:            oauth,
		OAuthRedirectURL: conf.OAuthRedirectURL,
	}, st, sessions)
	if err != nil {
		L.Error(ctx, err, "failed to create auth service")
		os.Exit(1)
	}

	var mediaStore cmshttp.MediaStore
	if conf.MediaBucket != "" {
		ms, err := media.NewFromConfig(awsCfg, media.Options{
			Bucket:        conf.MediaBucket,
			Prefix:        conf.MediaPrefix,
			PublicURL:     conf.MediaPublicURL,
			MaxBytes:      conf.MediaMaxBytes,
			UploadsPerSec: conf.MediaUploadsPerSec,
			Logger:        L,
		})
		if err != nil {
			L.Error(ctx, err, "failed to create media store")
			os.Exit(1)
		}
		mediaStore = ms
	} else {
		L.Info(ctx, "no media bucket configured, uploads are disabled")
	}

	apiLimiter, err := newLimiter(ctx, L, m, "api", conf.APIRateWindow, conf.APIRateMax)
	if err != nil {
		L.Error(ctx, err, "failed to create api rate limiter")
		os.Exit(1)
	}
	authLimiter, err := newLimiter(ctx, L, m, "auth", conf.AuthRateWindow, conf.AuthRateMax)
	if err != nil {
		L.Error(ctx, err, "failed to create auth rate limiter")
		os.Exit(1)
	}
	// keyed by normalized email in the login handler, never by request
	loginLimiter, err := newLimiter(ctx, L, m, "login", conf.LoginRateWindow, conf.LoginRateMax)
	if err != nil {
		L.Error(ctx, err, "failed to create login rate limiter")
		os.Exit(1)
	}

	api, err := cmshttp.New(cmshttp.Options{
		Auth:         authSvc,
		Content:      st,
		Media:        mediaStore,
		Metrics:      m,
		Logger:       L,
		APILimiter:   apiLimiter,
		AuthLimiter:  authLimiter,
		LoginLimiter: loginLimiter,
		MaxBodyBytes: conf.MaxBodyBytes,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create api")
		os.Exit(1)
	}

	readiness := health.All(probes...)

	appHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		APIRoutes:    api.RegisterRoutes,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},
	})
	if err != nil {
		L.Error(ctx, err, "failed to start app http listener")
		os.Exit(1)
	}
	defer func() { _ = appHTTPStop(context.Background()) }()

	// ops listener serves metrics, health, version and pprof. It rejects public peers
	// in middleware in case the security group is ever misconfigured.
	opsHTTPStop, err := opshttp.Start(ctx, L, opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		Version:      &vi,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	if err := notifySystemd(); err != nil {
		// worst case systemd kills the process after its start timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// wait for ctrl+c / sigterm
	<-ctx.Done()
	stop()

	bg := context.Background()
	L.Info(bg, "shutdown signal received")

	// fail readiness so the load balancer stops sending new requests
	gate.Set("draining")
	L.Info(bg, "shutdown gate closed, draining", "drain_period", drainPeriod)

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drainPeriod):
		L.Info(bg, "drain period complete")
	case <-forceCh:
		L.Warn(bg, "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(bg, httpserver.DefaultShutdownTimeout)
	defer cancel()

	if err := appHTTPStop(shutdownCtx); err != nil {
		L.Error(bg, err, "app http server shutdown")
	}
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(bg, err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(bg, err, "otel shutdown")
	}
	stopProf()

	L.Info(bg, "shutdown complete")
}

// newLimiter builds a named limiter with its metrics and first-denial logging wired.
func newLimiter(ctx context.Context, L log.Logger, m *metrics.ServerMetrics, name string, window time.Duration, maxRequests int) (*ratelimit.Limiter, error) {
	l, err := ratelimit.New(ctx,
		ratelimit.Config{Window: window, MaxRequests: maxRequests},
		ratelimit.WithName(name),
		ratelimit.WithOnDenied(func(string) { m.IncRateLimitDenied(name) }),
		// log once per key until it is evicted or reset
		ratelimit.WithOnFirstDenied(func(key string) {
			m.IncRateLimitBlocked(name)
			L.Warn(ctx, "rate limit triggered", "limiter", name, "key", key)
		}),
		ratelimit.WithOnEvict(func(string) { m.IncRateLimitEvicted(name) }),
	)
	if err != nil {
		return nil, xerrors.Wrapf(err, "%s limiter", name)
	}
	if err := m.RegisterRateLimiter(name, l.Len); err != nil {
		return nil, err
	}
	return l, nil
}

type parameterGetter interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// loadSecret reads a SecureString parameter.
func loadSecret(ctx context.Context, c parameterGetter, name string) ([]byte, error) {
	out, err := c.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return nil, xerrors.Wrapf(err, "get SSM parameter %s", name)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return nil, xerrors.Newf("SSM parameter %s has no value", name)
	}
	secret := strings.TrimSpace(*out.Parameter.Value)
	if len(secret) < minSecretBytes {
		return nil, xerrors.Newf("SSM parameter %s must hold at least %d bytes", name, minSecretBytes)
	}
	return []byte(secret), nil
}

// runSessionJanitor deletes expired SQL sessions until ctx is done.
func runSessionJanitor(ctx context.Context, L log.Logger, st *store.Store) {
	t := time.NewTicker(janitorInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := st.DeleteExpiredSessions(ctx, now)
			if err != nil {
				L.Error(ctx, err, "session cleanup failed")
				continue
			}
			if n > 0 {
				L.Info(ctx, "deleted expired sessions", "count", n)
			}
		}
	}
}

func notifySystemd() error {
	// systemd sets NOTIFY_SOCKET when started with Type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		_ = conn.Close()
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
