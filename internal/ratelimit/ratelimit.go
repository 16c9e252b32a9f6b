package ratelimit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/keithlinneman/linnemanlabs-cms/internal/xerrors"
)

// Config is fixed at construction.
type Config struct {
	// Window is the length of the trailing window admissions are counted in
	Window time.Duration
	// MaxRequests is the most admissions a key may have inside any Window
	MaxRequests int
}

// Validate rejects configs that would throttle incorrectly.
func (c Config) Validate() error {
	if c.Window <= 0 {
		return xerrors.Newf("ratelimit: window must be > 0 (got %s)", c.Window)
	}
	if c.MaxRequests <= 0 {
		return xerrors.Newf("ratelimit: max requests must be > 0 (got %d)", c.MaxRequests)
	}
	return nil
}

// Result is the outcome of a single Check.
type Result struct {
	Allowed bool
	// RetryAfter is whole seconds until the oldest admission in the window
	// expires. Only set when Allowed is false.
	RetryAfter int
}

// entry is the sliding window state for a single key
type entry struct {
	// admission times, oldest first
	timestamps []time.Time

	// evict is the pending eviction timer, gen identifies which scheduling it belongs to
	evict Timer
	gen   uint64

	// logged tracks whether OnFirstDenied already fired for this entry
	logged bool
}

// prune drops every timestamp at or before now-window. Timestamps are ordered
// so everything expired sits at the front.
func (e *entry) prune(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(e.timestamps) && !e.timestamps[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return
	}
	// copy down so the backing array does not keep growing from the front
	n := copy(e.timestamps, e.timestamps[i:])
	e.timestamps = e.timestamps[:n]
}

// Limiter is an exact sliding window limiter keyed by an opaque string.
type Limiter struct {
	name  string
	cfg   Config
	clock Clock

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool

	// hooks are fixed at New and read without the lock
	onFirstDenied func(key string)
	onDenied      func(key string)
	onEvict       func(key string)

	// keyFunc picks the key for Middleware
	keyFunc func(*http.Request) string
}

type Option func(*Limiter)

// WithClock replaces the system clock, used by tests.
func WithClock(c Clock) Option {
	return func(l *Limiter) {
		if c != nil {
			l.clock = c
		}
	}
}

// WithName labels the limiter for metrics and logs.
func WithName(name string) Option {
	return func(l *Limiter) {
		l.name = name
	}
}

// WithOnFirstDenied sets a callback for the first denial per entry, used for logging.
// Separate from WithOnDenied so we log once but count every denial.
func WithOnFirstDenied(fn func(key string)) Option {
	return func(l *Limiter) {
		l.onFirstDenied = fn
	}
}

// WithOnDenied sets a callback for every denied check.
func WithOnDenied(fn func(key string)) Option {
	return func(l *Limiter) {
		l.onDenied = fn
	}
}

// WithOnEvict sets a callback for keys removed by background eviction.
func WithOnEvict(fn func(key string)) Option {
	return func(l *Limiter) {
		l.onEvict = fn
	}
}

// WithKeyFunc sets how Middleware derives a key from the request.
func WithKeyFunc(fn func(*http.Request) string) Option {
	return func(l *Limiter) {
		if fn != nil {
			l.keyFunc = fn
		}
	}
}

// New validates cfg and returns a Limiter. The limiter is closed when ctx is
// cancelled, which stops every pending eviction timer.
func New(ctx context.Context, cfg Config, opts ...Option) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l := &Limiter{
		name:    "default",
		cfg:     cfg,
		clock:   systemClock{},
		entries: make(map[string]*entry),
		keyFunc: KeyByClientIP,
	}
	for _, o := range opts {
		o(l)
	}
	if ctx != nil {
		context.AfterFunc(ctx, l.Close)
	}
	return l, nil
}

// Name returns the limiter label.
func (l *Limiter) Name() string { return l.name }

// Config returns the limiter configuration.
func (l *Limiter) Config() Config { return l.cfg }

// Check decides whether a request for key is admitted now, recording it if so.
func (l *Limiter) Check(key string) Result {
	l.mu.Lock()
	now := l.clock.Now()

	e, ok := l.entries[key]
	if !ok {
		e = &entry{timestamps: make([]time.Time, 0, min(l.cfg.MaxRequests, 16))}
		l.entries[key] = e
	}

	// keep appends ordered if the clock ever steps backwards
	if n := len(e.timestamps); n > 0 && now.Before(e.timestamps[n-1]) {
		now = e.timestamps[n-1]
	}

	e.prune(now, l.cfg.Window)

	if len(e.timestamps) >= l.cfg.MaxRequests {
		res := Result{Allowed: false, RetryAfter: retryAfter(e.timestamps[0], l.cfg.Window, now)}
		first := !e.logged
		e.logged = true
		// release before calling hooks, they may do slow work
		l.mu.Unlock()

		if first && l.onFirstDenied != nil {
			l.onFirstDenied(key)
		}
		if l.onDenied != nil {
			l.onDenied(key)
		}
		return res
	}

	e.timestamps = append(e.timestamps, now)
	l.scheduleLocked(key, e)
	l.mu.Unlock()

	return Result{Allowed: true}
}

// Reset forgets key entirely and cancels its pending eviction.
// Resetting an unknown key is a no-op.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		return
	}
	if e.evict != nil {
		e.evict.Stop()
		e.evict = nil
	}
	delete(l.entries, key)
}

// Len returns the number of keys currently tracked.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Close stops all pending evictions. Checks keep working afterwards but no
// longer schedule eviction, so Close belongs to shutdown.
func (l *Limiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true
	for _, e := range l.entries {
		if e.evict != nil {
			e.evict.Stop()
			e.evict = nil
		}
		// invalidate anything already mid-fire
		e.gen++
	}
}

// scheduleLocked arms a one-shot eviction for key after one window, replacing
// any pending one. Caller holds l.mu.
func (l *Limiter) scheduleLocked(key string, e *entry) {
	if e.evict != nil {
		e.evict.Stop()
		e.evict = nil
	}
	e.gen++
	if l.closed {
		return
	}
	gen := e.gen
	e.evict = l.clock.AfterFunc(l.cfg.Window, func() { l.evict(key, e, gen) })
}

// evict runs from the eviction timer. A stopped timer can still be mid-flight
// when Stop is called, so it only acts if it still owns the entry.
func (l *Limiter) evict(key string, e *entry, gen uint64) {
	l.mu.Lock()
	cur, ok := l.entries[key]
	if !ok || cur != e || e.gen != gen {
		l.mu.Unlock()
		return
	}
	e.evict = nil

	e.prune(l.clock.Now(), l.cfg.Window)
	if len(e.timestamps) > 0 {
		l.scheduleLocked(key, e)
		l.mu.Unlock()
		return
	}

	delete(l.entries, key)
	l.mu.Unlock()

	if l.onEvict != nil {
		l.onEvict(key)
	}
}

// retryAfter is the whole seconds until oldest leaves the window, never less than 1.
func retryAfter(oldest time.Time, window time.Duration, now time.Time) int {
	d := oldest.Add(window).Sub(now)
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
