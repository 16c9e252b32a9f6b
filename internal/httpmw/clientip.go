package httpmw

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

type clientIPKey struct{}

// unknownClient is used when the peer address is missing. All such requests
// share one limiter bucket.
const unknownClient = "0.0.0.0"

// ClientIPOptions configures client IP extraction behavior.
type ClientIPOptions struct {
	// TrustedHops is the number of reverse proxies between the client and
	// this server. 0 ignores X-Forwarded-For, 1 takes the rightmost entry
	// (single ALB), 2 the second from the end (CDN + ALB), and so on.
	TrustedHops int
}

// ClientIPWithOptions resolves the client address once per request and stores
// it in the context. The rate limiters and request logger key on that value,
// so it is canonical: IPv4-mapped IPv6 is unmapped and zones are dropped.
func ClientIPWithOptions(opts ClientIPOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := extractRealClientAddr(r, opts.TrustedHops)
			next.ServeHTTP(w, r.WithContext(WithClientIP(r.Context(), ip)))
		})
	}
}

// extractRealClientAddr only consults X-Forwarded-For when the peer is on a
// private network and hops are configured. Otherwise forwarded headers are
// removed so nothing downstream trusts them.
func extractRealClientAddr(r *http.Request, trustedHops int) string {
	if r.RemoteAddr == "" {
		return unknownClient
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	peer, err := netip.ParseAddr(host)
	if err != nil {
		return unknownClient
	}
	peer = canonical(peer)

	if !peer.IsPrivate() || trustedHops <= 0 {
		stripForwarded(r)
		return peer.String()
	}

	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return peer.String()
	}
	client, ok := forwardedClient(xff, trustedHops)
	if !ok {
		// fewer entries than proxies: misconfigured or spoofed, fail closed
		stripForwarded(r)
		return peer.String()
	}
	if !client.IsValid() {
		return peer.String()
	}
	return client.String()
}

// forwardedClient picks the entry trustedHops from the end of an
// X-Forwarded-For list. ok is false when the list is too short; the returned
// address is invalid when the entry does not parse.
func forwardedClient(xff string, trustedHops int) (netip.Addr, bool) {
	parts := strings.Split(xff, ",")
	idx := len(parts) - trustedHops
	if idx < 0 {
		return netip.Addr{}, false
	}
	a, err := netip.ParseAddr(strings.TrimSpace(parts[idx]))
	if err != nil {
		return netip.Addr{}, true
	}
	return canonical(a), true
}

func canonical(a netip.Addr) netip.Addr {
	return a.Unmap().WithZone("")
}

func stripForwarded(r *http.Request) {
	r.Header.Del("X-Forwarded-For")
	r.Header.Del("X-Forwarded-Proto")
}

// ClientIPFromContext returns the address resolved by ClientIPWithOptions, or "".
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

// WithClientIP stores ip in ctx. An empty ip leaves ctx unchanged.
func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey{}, ip)
}
