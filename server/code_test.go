package server

import (
	"log/slog"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dexidp/dex/storage"
	"github.com/dexidp/dex/storage/memory"
)

func newTestServerForCode(t *testing.T) *Server {
	t.Helper()
	issuer, err := url.Parse("https://issuer.example")
	require.NoError(t, err)
	return &Server{
		issuerURL: *issuer,
		codes:     memory.NewCodeStore(4, time.Now),
		dpopJTI:   memory.NewDPoPJtiStore(4, time.Now),
		codeTTL:   2 * time.Minute,
		now:       time.Now,
		logger:    slog.New(slog.NewTextHandler(discardCodeWriter{}, nil)),
	}
}

type discardCodeWriter struct{}

func (discardCodeWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestIssueCodeWithoutDPoPLeavesCodeUnbound(t *testing.T) {
	s := newTestServerForCode(t)
	r := httptest.NewRequest("GET", "/authorize", nil)

	req := storage.AuthorizationRequest{ClientID: "client-1", RedirectURI: "https://rp.example/cb", Scope: []string{"openid"}}
	sess := storage.Session{ID: "sess-1", UserID: "user-1"}

	code, err := s.issueCode(r, req, storage.ClientMetadata{ID: "client-1"}, sess)
	require.NoError(t, err)
	require.NotEmpty(t, code)

	rec, err := s.codes.ConsumeAuthorizationCode(r.Context(), code)
	require.NoError(t, err)
	require.Empty(t, rec.DPoPJKT)
	require.Equal(t, "user-1", rec.UserID)
}

func TestIssueCodeWithInvalidDPoPProofStillIssuesUnboundCode(t *testing.T) {
	s := newTestServerForCode(t)
	r := httptest.NewRequest("GET", "/authorize", nil)

	req := storage.AuthorizationRequest{ClientID: "client-1", RedirectURI: "https://rp.example/cb", DPoPProof: "not-a-jwt"}
	sess := storage.Session{ID: "sess-1", UserID: "user-1"}

	code, err := s.issueCode(r, req, storage.ClientMetadata{ID: "client-1"}, sess)
	require.NoError(t, err)

	rec, err := s.codes.ConsumeAuthorizationCode(r.Context(), code)
	require.NoError(t, err)
	require.Empty(t, rec.DPoPJKT)
}

func TestIssueCodeIsSingleUse(t *testing.T) {
	s := newTestServerForCode(t)
	r := httptest.NewRequest("GET", "/authorize", nil)

	req := storage.AuthorizationRequest{ClientID: "client-1", RedirectURI: "https://rp.example/cb"}
	sess := storage.Session{ID: "sess-1", UserID: "user-1"}

	code, err := s.issueCode(r, req, storage.ClientMetadata{ID: "client-1"}, sess)
	require.NoError(t, err)

	_, err = s.codes.ConsumeAuthorizationCode(r.Context(), code)
	require.NoError(t, err)

	_, err = s.codes.ConsumeAuthorizationCode(r.Context(), code)
	require.Error(t, err)
}
