package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/linnemanlabs-cms/internal/version"
)

type ServerMetrics struct {
	reg            *prometheus.Registry
	handler        http.Handler
	inflight       prometheus.Gauge
	reqTotal       *prometheus.CounterVec
	reqDur         *prometheus.HistogramVec
	respBytes      *prometheus.HistogramVec
	errorsTotal    *prometheus.CounterVec
	httpPanicTotal prometheus.Counter
	buildInfo      *prometheus.GaugeVec

	profilingActive prometheus.Gauge

	// rate limiting, labelled by limiter name
	ratelimitDeniedTotal  *prometheus.CounterVec
	ratelimitBlockedTotal *prometheus.CounterVec
	ratelimitEvictedTotal *prometheus.CounterVec

	authTotal         *prometheus.CounterVec
	mediaUploadsTotal *prometheus.CounterVec
	mediaUploadBytes  prometheus.Histogram
}

// New returns a fresh registry + standard collectors + HTTP metrics
// safe labels only (method, route, code) to avoid path/cardinality explosions
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576},
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route (SLI)",
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered httpserver panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
		ratelimitDeniedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelimit_denied_total",
			Help: "Total requests rejected by a sliding window rate limiter",
		}, []string{"limiter"}),
		ratelimitBlockedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelimit_keys_blocked_total",
			Help: "Total number of keys that hit their limit (first denial per key lifetime)",
		}, []string{"limiter"}),
		ratelimitEvictedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelimit_keys_evicted_total",
			Help: "Total number of idle keys reclaimed by background eviction",
		}, []string{"limiter"}),
		authTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_attempts_total",
			Help: "Authentication attempts by method and outcome",
		}, []string{"method", "outcome"}),
		mediaUploadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "media_uploads_total",
			Help: "Media uploads by outcome",
		}, []string{"outcome"}),
		mediaUploadBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "media_upload_size_bytes",
			Help:    "Size of stored media uploads",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.errorsTotal,
		m.httpPanicTotal,
		m.buildInfo,
		m.profilingActive,
		m.ratelimitDeniedTotal,
		m.ratelimitBlockedTotal,
		m.ratelimitEvictedTotal,
		m.authTotal,
		m.mediaUploadsTotal,
		m.mediaUploadBytes,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

// Registry exposes the registry for tests and extra collectors.
func (m *ServerMetrics) Registry() *prometheus.Registry {
	return m.reg
}

func (m *ServerMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

// set once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi *version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildID,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
	} else {
		m.profilingActive.Set(0)
	}
}

// RegisterRateLimiter exports the live key count of a named limiter as
// ratelimit_active_keys{limiter=name}. keys is called on every scrape.
func (m *ServerMetrics) RegisterRateLimiter(name string, keys func() int) error {
	return m.reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "ratelimit_active_keys",
		Help:        "Keys currently tracked by a sliding window rate limiter",
		ConstLabels: prometheus.Labels{"limiter": name},
	}, func() float64 { return float64(keys()) }))
}

func (m *ServerMetrics) IncRateLimitDenied(limiter string) {
	m.ratelimitDeniedTotal.WithLabelValues(limiter).Inc()
}

func (m *ServerMetrics) IncRateLimitBlocked(limiter string) {
	m.ratelimitBlockedTotal.WithLabelValues(limiter).Inc()
}

func (m *ServerMetrics) IncRateLimitEvicted(limiter string) {
	m.ratelimitEvictedTotal.WithLabelValues(limiter).Inc()
}

// IncAuth counts an authentication attempt, e.g. ("password", "success").
func (m *ServerMetrics) IncAuth(method, outcome string) {
	m.authTotal.WithLabelValues(method, outcome).Inc()
}

func (m *ServerMetrics) ObserveMediaUpload(outcome string, size int64) {
	m.mediaUploadsTotal.WithLabelValues(outcome).Inc()
	if outcome == "success" {
		m.mediaUploadBytes.Observe(float64(size))
	}
}
