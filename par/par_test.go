package par

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dexidp/dex/storage"
	"github.com/dexidp/dex/storage/memory"
)

func TestPushAndResolve(t *testing.T) {
	store := memory.NewPARStore(4, time.Now)
	req := storage.AuthorizationRequest{ClientID: "client-a", RedirectURI: "https://app.example/cb"}

	urn, err := Push(context.Background(), store, nil, "client-a", req, time.Minute)
	require.NoError(t, err)
	require.True(t, IsPARURN(urn))

	resolved, err := Resolve(context.Background(), store, "client-a", urn)
	require.NoError(t, err)
	require.Equal(t, req.RedirectURI, resolved.RedirectURI)

	// A second resolve of the same URN fails: PAR records are single-use.
	_, err = Resolve(context.Background(), store, "client-a", urn)
	require.Error(t, err)
}

func TestResolveClientIDMismatch(t *testing.T) {
	store := memory.NewPARStore(4, time.Now)
	req := storage.AuthorizationRequest{ClientID: "client-a"}

	urn, err := Push(context.Background(), store, nil, "client-a", req, time.Minute)
	require.NoError(t, err)

	_, err = Resolve(context.Background(), store, "client-b", urn)
	require.Error(t, err)
}

func TestResolveNotAPARURN(t *testing.T) {
	store := memory.NewPARStore(4, time.Now)
	_, err := Resolve(context.Background(), store, "client-a", "https://example.com/not-a-urn")
	require.ErrorIs(t, err, ErrNotPAR)
}

func TestLimiterRejectsBurstOverflow(t *testing.T) {
	store := memory.NewPARStore(4, time.Now)
	limiter := NewLimiter(1, 2)
	req := storage.AuthorizationRequest{ClientID: "client-a"}

	for i := 0; i < 2; i++ {
		if _, err := Push(context.Background(), store, limiter, "client-a", req, time.Minute); err != nil {
			t.Fatalf("push %d within burst should succeed, got %v", i, err)
		}
	}

	_, err := Push(context.Background(), store, limiter, "client-a", req, time.Minute)
	require.ErrorIs(t, err, ErrRateLimited)
}

func TestLimiterIsPerClient(t *testing.T) {
	store := memory.NewPARStore(4, time.Now)
	limiter := NewLimiter(1, 1)
	req := storage.AuthorizationRequest{}

	_, err := Push(context.Background(), store, limiter, "client-a", req, time.Minute)
	require.NoError(t, err)
	_, err = Push(context.Background(), store, limiter, "client-a", req, time.Minute)
	require.ErrorIs(t, err, ErrRateLimited)

	// A different client has its own bucket and is unaffected.
	_, err = Push(context.Background(), store, limiter, "client-b", req, time.Minute)
	require.NoError(t, err)
}
