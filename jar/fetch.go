package jar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/sony/gobreaker/v2"
)

// blockedHostPrefixes enumerates the literal-prefix SSRF guard list from
// spec §4.1: loopback, private, link-local, and ULA address spaces plus
// internal-only DNS suffixes.
var blockedHostPrefixes = []string{
	"localhost", "127.", "10.", "172.16.", "172.17.", "172.18.", "172.19.",
	"172.20.", "172.21.", "172.22.", "172.23.", "172.24.", "172.25.",
	"172.26.", "172.27.", "172.28.", "172.29.", "172.30.", "172.31.",
	"192.168.", "169.254.", "0.", "::1", "fe80::", "fc00::", "fd00::",
}

var blockedHostSuffixes = []string{".local", ".internal"}

// IsBlockedHost reports whether host matches the SSRF denylist. Allowlist
// membership is checked separately by the caller.
func IsBlockedHost(host string) bool {
	h := strings.ToLower(host)
	for _, p := range blockedHostPrefixes {
		if strings.HasPrefix(h, p) {
			return true
		}
	}
	for _, s := range blockedHostSuffixes {
		if strings.HasSuffix(h, s) {
			return true
		}
	}
	return false
}

// FetcherConfig configures outbound HTTPS fetches for request_uri and
// jwks_uri resolution.
type FetcherConfig struct {
	// Enabled gates the whole feature; disabled by default per spec §4.1.
	Enabled bool
	// AllowedDomains is an explicit allowlist of hostnames (exact match)
	// permitted for request_uri fetches. jwks_uri fetches are not subject
	// to the allowlist since they target the client's own registered
	// metadata, but both obey the SSRF denylist and size/timeout limits.
	AllowedDomains []string
	Timeout        time.Duration
	MaxBytes       int64
}

// Fetcher performs guarded outbound HTTPS GETs, wrapped in a per-host
// circuit breaker so a single unreachable client endpoint degrades to fast
// failure instead of stalling every authorize call that references it.
type Fetcher struct {
	cfg    FetcherConfig
	client *http.Client

	breakersMu sync.Mutex
	breakers   map[string]*gobreaker.CircuitBreaker[[]byte]
}

// NewFetcher constructs a Fetcher. A zero-value FetcherConfig{} yields a
// disabled fetcher whose methods always error, matching the "disabled by
// default" requirement.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 100 * 1024
	}
	return &Fetcher{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return fmt.Errorf("redirects are not followed")
			},
		},
		breakers: make(map[string]*gobreaker.CircuitBreaker[[]byte]),
	}
}

func (f *Fetcher) breakerFor(host string) *gobreaker.CircuitBreaker[[]byte] {
	f.breakersMu.Lock()
	defer f.breakersMu.Unlock()
	if cb, ok := f.breakers[host]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    host,
		Timeout: 30 * time.Second,
	})
	f.breakers[host] = cb
	return cb
}

// FetchRequestURI performs the guarded HTTPS request_uri fetch described in
// spec §4.1: allowlist, SSRF denylist, bounded timeout, response-size cap
// enforced by both Content-Length and a streaming LimitReader, no redirect
// following.
func (f *Fetcher) FetchRequestURI(ctx context.Context, requestURI string) (string, error) {
	if !f.cfg.Enabled {
		return "", &ResolveError{Code: "request_uri_not_supported", Msg: "https request_uri fetching is disabled"}
	}

	u, host, err := parseAndGuard(requestURI)
	if err != nil {
		return "", &ResolveError{Code: "invalid_request_uri", Msg: err.Error()}
	}
	if !f.domainAllowed(host) {
		return "", &ResolveError{Code: "invalid_request_uri", Msg: fmt.Sprintf("domain %q not in allowlist", host)}
	}

	body, err := f.breakerFor(host).Execute(func() ([]byte, error) {
		return f.get(ctx, u.String())
	})
	if err != nil {
		return "", &ResolveError{Code: "invalid_request_uri", Msg: err.Error()}
	}
	return string(body), nil
}

// FetchJWKS fetches and parses a client's jwks_uri document.
func (f *Fetcher) FetchJWKS(ctx context.Context, jwksURI string) (*jose.JSONWebKeySet, error) {
	if !f.cfg.Enabled {
		return nil, fmt.Errorf("https jwks_uri fetching is disabled")
	}
	u, host, err := parseAndGuard(jwksURI)
	if err != nil {
		return nil, err
	}
	body, err := f.breakerFor(host).Execute(func() ([]byte, error) {
		return f.get(ctx, u.String())
	})
	if err != nil {
		return nil, err
	}
	var set jose.JSONWebKeySet
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("parse jwks document: %w", err)
	}
	return &set, nil
}

func (f *Fetcher) domainAllowed(host string) bool {
	for _, d := range f.cfg.AllowedDomains {
		if strings.EqualFold(d, host) {
			return true
		}
	}
	return false
}

func parseAndGuard(rawURL string) (u *url.URL, host string, err error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("parse url: %w", err)
	}
	if parsed.Scheme != "https" {
		return nil, "", fmt.Errorf("scheme must be https")
	}
	if IsBlockedHost(parsed.Hostname()) {
		return nil, "", fmt.Errorf("host %q is not permitted", parsed.Hostname())
	}
	return parsed, parsed.Hostname(), nil
}

func (f *Fetcher) get(ctx context.Context, target string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil && n > f.cfg.MaxBytes {
			return nil, fmt.Errorf("response exceeds size limit")
		}
	}

	limited := io.LimitReader(resp.Body, f.cfg.MaxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if int64(len(body)) > f.cfg.MaxBytes {
		return nil, fmt.Errorf("response exceeds size limit")
	}
	return body, nil
}
