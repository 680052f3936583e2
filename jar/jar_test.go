package jar

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"testing"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/require"

	"github.com/dexidp/dex/storage"
)

func signClaims(t *testing.T, jwk *jose.JSONWebKey, alg jose.SignatureAlgorithm, claims map[string]interface{}) string {
	t.Helper()
	payload, err := json.Marshal(claims)
	require.NoError(t, err)

	signer, err := jose.NewSigner(jose.SigningKey{Key: jwk, Algorithm: alg}, &jose.SignerOptions{
		ExtraHeaders: map[jose.HeaderKey]interface{}{"kid": jwk.KeyID},
	})
	require.NoError(t, err)
	sig, err := signer.Sign(payload)
	require.NoError(t, err)
	token, err := sig.CompactSerialize()
	require.NoError(t, err)
	return token
}

func newRSAJWK(t *testing.T, kid string) *jose.JSONWebKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return &jose.JSONWebKey{Key: key, KeyID: kid, Algorithm: string(jose.RS256), Use: "sig"}
}

func TestDetectFormat(t *testing.T) {
	require.Equal(t, FormatJWS, DetectFormat("a.b.c"))
	require.Equal(t, FormatJWE, DetectFormat("a.b.c.d.e"))
	require.Equal(t, FormatUnknown, DetectFormat("not-a-token"))
}

func TestResolveVerifiesAgainstInlineJWKS(t *testing.T) {
	jwk := newRSAJWK(t, "kid-1")
	pub := jwk.Public()
	token := signClaims(t, jwk, jose.RS256, map[string]interface{}{"client_id": "client-1", "scope": "openid"})

	resolver, err := New(Config{})
	require.NoError(t, err)

	client := storage.ClientMetadata{
		ID:   "client-1",
		JWKS: &jose.JSONWebKeySet{Keys: []jose.JSONWebKey{pub}},
	}
	claims, err := resolver.Resolve(context.Background(), token, client, nil)
	require.NoError(t, err)
	require.Equal(t, "client-1", claims["client_id"])
}

func TestResolveRejectsNoneAlgByDefault(t *testing.T) {
	signer, err := jose.NewSigner(jose.SigningKey{Key: nil, Algorithm: jose.NoSignatureAlgorithm}, nil)
	require.NoError(t, err)
	sig, err := signer.Sign([]byte(`{"client_id":"client-1"}`))
	require.NoError(t, err)
	token, err := sig.CompactSerialize()
	require.NoError(t, err)

	resolver, err := New(Config{})
	require.NoError(t, err)

	// A real verification key is present, so Resolve reaches signature
	// verification rather than short-circuiting on "no usable keys" —
	// it's the alg=none rejection that must fail this call.
	jwk := newRSAJWK(t, "kid-1")
	client := storage.ClientMetadata{ID: "client-1", JWKS: &jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk.Public()}}}
	_, err = resolver.Resolve(context.Background(), token, client, nil)
	require.Error(t, err)
	var resolveErr *ResolveError
	require.ErrorAs(t, err, &resolveErr)
}

func TestResolveFailsWithNoUsableKeys(t *testing.T) {
	jwk := newRSAJWK(t, "kid-1")
	token := signClaims(t, jwk, jose.RS256, map[string]interface{}{"client_id": "client-1"})

	resolver, err := New(Config{})
	require.NoError(t, err)

	client := storage.ClientMetadata{ID: "client-1"}
	_, err = resolver.Resolve(context.Background(), token, client, nil)
	require.Error(t, err)
}

func TestResolveFallsBackToServerKeysWhenAllowed(t *testing.T) {
	serverJWK := newRSAJWK(t, "server-kid")
	serverPub := serverJWK.Public()
	token := signClaims(t, serverJWK, jose.RS256, map[string]interface{}{"client_id": "client-1"})

	resolver, err := New(Config{
		AllowServerKeyFallback: true,
		ServerKeys: func(ctx context.Context) ([]*jose.JSONWebKey, error) {
			return []*jose.JSONWebKey{&serverPub}, nil
		},
	})
	require.NoError(t, err)

	client := storage.ClientMetadata{ID: "client-1"}
	claims, err := resolver.Resolve(context.Background(), token, client, nil)
	require.NoError(t, err)
	require.Equal(t, "client-1", claims["client_id"])
}

func TestClientKeysPrefersInlineJWKS(t *testing.T) {
	jwk := newRSAJWK(t, "kid-1")
	resolver, err := New(Config{})
	require.NoError(t, err)

	set := &jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk.Public()}}
	got, err := resolver.ClientKeys(context.Background(), storage.ClientMetadata{JWKS: set})
	require.NoError(t, err)
	require.Same(t, set, got)
}
