// Package security provides SSRF protection for outbound HTTP requests made
// on behalf of tenants (webhook channels, crawls).
//
// Two layers are applied:
//   - Guard.CheckURL validates a target before every send: scheme, blocked
//     hostnames and suffixes, IP literals and every DNS-resolved address.
//   - SafeTransport re-validates at dial time, so a DNS answer that changes
//     between the check and the connection is still refused.
package security

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"seopulse/internal/types"
)

// dnsTimeout is the maximum time allowed for DNS resolution.
const dnsTimeout = 2 * time.Second

// ErrSSRFBlocked is returned when a request targets a blocked address or host.
var ErrSSRFBlocked = errors.New("ssrf: request to blocked address")

// ErrSSRFDNSTimeout is returned when DNS resolution exceeds the timeout.
var ErrSSRFDNSTimeout = errors.New("ssrf: DNS resolution timeout")

// ErrSSRFTooManyRedirects is returned when the redirect limit is exceeded.
var ErrSSRFTooManyRedirects = errors.New("ssrf: too many redirects")

// ErrSSRFDNSFailed is returned when DNS resolution fails entirely.
var ErrSSRFDNSFailed = errors.New("ssrf: DNS resolution failed")

var (
	blockedNets []*net.IPNet
	initOnce    sync.Once
	initErr     error
)

// initBlockedNets parses types.SSRFBlockedCIDRs once.
func initBlockedNets() error {
	initOnce.Do(func() {
		blockedNets = make([]*net.IPNet, 0, len(types.SSRFBlockedCIDRs))
		for _, cidr := range types.SSRFBlockedCIDRs {
			_, ipNet, err := net.ParseCIDR(cidr)
			if err != nil {
				initErr = fmt.Errorf("ssrf: failed to parse CIDR %q: %w", cidr, err)
				return
			}
			blockedNets = append(blockedNets, ipNet)
		}
	})
	return initErr
}

// IsBlockedIP reports whether ip falls within any blocked range. IPv4-mapped
// IPv6 addresses are unmapped first.
func IsBlockedIP(ip net.IP) bool {
	if err := initBlockedNets(); err != nil {
		return true
	}
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	if ip.IsUnspecified() || ip.IsLoopback() {
		return true
	}
	for _, ipNet := range blockedNets {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// IsBlockedHostname reports whether host is a well-known internal name.
func IsBlockedHostname(host string) bool {
	h := strings.TrimSuffix(strings.ToLower(host), ".")
	for _, blocked := range types.SSRFBlockedHostnames {
		if h == blocked {
			return true
		}
	}
	for _, suffix := range types.SSRFBlockedSuffixes {
		if strings.HasSuffix(h, suffix) {
			return true
		}
	}
	return false
}

// Resolver abstracts DNS resolution for testability.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Guard validates outbound targets. The zero value uses net.DefaultResolver.
type Guard struct {
	Resolver Resolver
}

// NewGuard creates a Guard. resolver may be nil.
func NewGuard(resolver Resolver) *Guard {
	return &Guard{Resolver: resolver}
}

func (g *Guard) resolver() Resolver {
	if g != nil && g.Resolver != nil {
		return g.Resolver
	}
	return net.DefaultResolver
}

// CheckURL validates rawURL for an outbound request. requireHTTPS rejects
// plain http targets. Every failure is wrapped in an AppError with code
// ssrf_rejected (or validation_invalid_url for malformed input) so callers
// can report it without retrying.
func (g *Guard) CheckURL(ctx context.Context, rawURL string, requireHTTPS bool) error {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Hostname() == "" {
		return types.NewAppError(types.ErrCodeValidationInvalidURL, "invalid target URL", err)
	}
	switch parsed.Scheme {
	case "https":
	case "http":
		if requireHTTPS {
			return types.NewAppError(types.ErrCodeSSRFRejected, "target must use HTTPS", ErrSSRFBlocked)
		}
	default:
		return types.NewAppError(types.ErrCodeSSRFRejected, fmt.Sprintf("scheme %q is not allowed", parsed.Scheme), ErrSSRFBlocked)
	}

	if err := g.CheckHost(ctx, parsed.Hostname()); err != nil {
		return types.NewAppErrorWithDetails(types.ErrCodeSSRFRejected, "target address is not allowed", err,
			map[string]any{"host": parsed.Hostname()})
	}
	return nil
}

// CheckHost validates a bare hostname or IP literal and returns the resolved
// addresses when all of them are allowed.
func (g *Guard) CheckHost(ctx context.Context, host string) error {
	_, err := g.resolveAllowed(ctx, host)
	return err
}

func (g *Guard) resolveAllowed(ctx context.Context, host string) ([]net.IP, error) {
	if err := initBlockedNets(); err != nil {
		return nil, err
	}

	if ip := net.ParseIP(strings.Trim(host, "[]")); ip != nil {
		if IsBlockedIP(ip) {
			return nil, fmt.Errorf("%w: %s", ErrSSRFBlocked, ip.String())
		}
		return []net.IP{ip}, nil
	}

	if IsBlockedHostname(host) {
		return nil, fmt.Errorf("%w: hostname %q", ErrSSRFBlocked, host)
	}

	dnsCtx, cancel := context.WithTimeout(ctx, dnsTimeout)
	defer cancel()

	addrs, err := g.resolver().LookupIPAddr(dnsCtx, host)
	if err != nil {
		if dnsCtx.Err() != nil {
			return nil, fmt.Errorf("%w: host %q", ErrSSRFDNSTimeout, host)
		}
		return nil, fmt.Errorf("%w: host %q: %v", ErrSSRFDNSFailed, host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: host %q resolved to no addresses", ErrSSRFDNSFailed, host)
	}

	// Every address must be allowed; one private answer mixed with public
	// ones is a rebinding attempt.
	ips := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		if IsBlockedIP(a.IP) {
			return nil, fmt.Errorf("%w: %s (resolved from %s)", ErrSSRFBlocked, a.IP.String(), host)
		}
		ips = append(ips, a.IP)
	}
	return ips, nil
}

// SafeTransport wraps http.Transport and validates every dial target.
type SafeTransport struct {
	Base  *http.Transport
	Guard *Guard
}

// NewSafeTransport creates a SafeTransport wrapping base (a default transport
// when nil) and overriding its DialContext.
func NewSafeTransport(base *http.Transport, guard *Guard) (*SafeTransport, error) {
	if err := initBlockedNets(); err != nil {
		return nil, fmt.Errorf("ssrf: initialization failed: %w", err)
	}
	if base == nil {
		base = &http.Transport{
			MaxIdleConns:        50,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 5 * time.Second,
		}
	}
	if guard == nil {
		guard = NewGuard(nil)
	}

	st := &SafeTransport{Base: base, Guard: guard}
	base.Proxy = nil // a proxy would bypass dial-time validation
	base.DialContext = st.safeDialContext
	return st, nil
}

// RoundTrip implements http.RoundTripper.
func (st *SafeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return st.Base.RoundTrip(req)
}

// safeDialContext resolves and validates the host, then dials the first
// allowed address directly so the connection uses the vetted IP.
func (st *SafeTransport) safeDialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("ssrf: invalid address %q: %w", addr, err)
	}

	ips, err := st.Guard.resolveAllowed(ctx, host)
	if err != nil {
		return nil, err
	}

	dialer := &net.Dialer{Timeout: 5 * time.Second}
	return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0].String(), port))
}

// CheckRedirect returns an http.Client CheckRedirect function that validates
// redirect targets and enforces maxRedirects.
func CheckRedirect(maxRedirects int, guard *Guard) func(req *http.Request, via []*http.Request) error {
	if guard == nil {
		guard = NewGuard(nil)
	}
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("%w: limit is %d", ErrSSRFTooManyRedirects, maxRedirects)
		}
		if req.URL.Hostname() == "" {
			return fmt.Errorf("%w: redirect URL has no host", ErrSSRFBlocked)
		}
		return guard.CheckHost(req.Context(), req.URL.Hostname())
	}
}

// NewSafeHTTPClient creates an http.Client with SafeTransport and SSRF-aware
// redirect checking. Used by the webhook sender and the crawler.
func NewSafeHTTPClient(timeout time.Duration, maxRedirects int, guard *Guard) (*http.Client, error) {
	if guard == nil {
		guard = NewGuard(nil)
	}
	transport, err := NewSafeTransport(nil, guard)
	if err != nil {
		return nil, err
	}
	return &http.Client{
		Transport:     transport,
		Timeout:       timeout,
		CheckRedirect: CheckRedirect(maxRedirects, guard),
	}, nil
}

// IsSSRFError reports whether err came from SSRF validation at any layer.
func IsSSRFError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrSSRFBlocked) ||
		errors.Is(err, ErrSSRFDNSTimeout) ||
		errors.Is(err, ErrSSRFDNSFailed) ||
		errors.Is(err, ErrSSRFTooManyRedirects) ||
		types.CodeOf(err) == types.ErrCodeSSRFRejected
}
