package jar

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIsBlockedHost(t *testing.T) {
	blocked := []string{"localhost", "127.0.0.1", "10.0.0.5", "192.168.1.1", "169.254.169.254", "metadata.internal", "foo.local", "::1"}
	for _, h := range blocked {
		require.Truef(t, IsBlockedHost(h), "expected %q to be blocked", h)
	}
	require.False(t, IsBlockedHost("client.example.com"))
}

func TestFetchRequestURIDisabledByDefault(t *testing.T) {
	f := NewFetcher(FetcherConfig{})
	_, err := f.FetchRequestURI(context.Background(), "https://client.example.com/request")
	require.Error(t, err)
	var resolveErr *ResolveError
	require.ErrorAs(t, err, &resolveErr)
	require.Equal(t, "request_uri_not_supported", resolveErr.Code)
}

func TestFetchRequestURIRejectsNonHTTPS(t *testing.T) {
	f := NewFetcher(FetcherConfig{Enabled: true, AllowedDomains: []string{"client.example.com"}})
	_, err := f.FetchRequestURI(context.Background(), "http://client.example.com/request")
	require.Error(t, err)
}

func TestFetchRequestURIRejectsUnlistedDomain(t *testing.T) {
	f := NewFetcher(FetcherConfig{Enabled: true, AllowedDomains: []string{"allowed.example.com"}})
	_, err := f.FetchRequestURI(context.Background(), "https://not-allowed.example.com/request")
	require.Error(t, err)
	var resolveErr *ResolveError
	require.ErrorAs(t, err, &resolveErr)
	require.Equal(t, "invalid_request_uri", resolveErr.Code)
}

func TestFetchJWKSDisabledByDefault(t *testing.T) {
	f := NewFetcher(FetcherConfig{})
	_, err := f.FetchJWKS(context.Background(), "https://client.example.com/jwks.json")
	require.Error(t, err)
}

func TestNewFetcherDefaultsTimeoutAndMaxBytes(t *testing.T) {
	f := NewFetcher(FetcherConfig{Enabled: true})
	require.Equal(t, 5*time.Second, f.cfg.Timeout)
	require.Equal(t, int64(100*1024), f.cfg.MaxBytes)
}
