package dpop

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/require"

	"github.com/dexidp/dex/cryptoutil"
	"github.com/dexidp/dex/storage/memory"
)

func signProof(t *testing.T, claims Claims) (string, *jose.JSONWebKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	jwk := &jose.JSONWebKey{Key: key, Algorithm: string(jose.RS256), Use: "sig"}

	signer, err := jose.NewSigner(jose.SigningKey{Key: jwk, Algorithm: jose.RS256}, &jose.SignerOptions{
		EmbedJWK: true,
		ExtraHeaders: map[jose.HeaderKey]interface{}{
			"typ": "dpop+jwt",
		},
	})
	require.NoError(t, err)

	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	sig, err := signer.Sign(payload)
	require.NoError(t, err)
	compact, err := sig.CompactSerialize()
	require.NoError(t, err)
	return compact, jwk
}

func TestValidateAcceptsWellFormedProof(t *testing.T) {
	now := time.Now()
	claims := Claims{JTI: "jti-1", HTM: "POST", HTU: "https://as.example/authorize", IAT: now.Unix()}
	proof, jwk := signProof(t, claims)

	store := memory.NewDPoPJtiStore(4, func() time.Time { return now })
	jkt, err := Validate(context.Background(), proof, "POST", "https://as.example/authorize", store, now)
	require.NoError(t, err)
	require.NotEmpty(t, jkt)

	want, err := cryptoutil.JWKThumbprint(&jose.JSONWebKey{Key: jwk.Public().Key})
	require.NoError(t, err)
	require.Equal(t, want, jkt)
}

func TestValidateRejectsReplayedJTI(t *testing.T) {
	now := time.Now()
	claims := Claims{JTI: "jti-replay", HTM: "POST", HTU: "https://as.example/authorize", IAT: now.Unix()}
	proof, _ := signProof(t, claims)

	store := memory.NewDPoPJtiStore(4, func() time.Time { return now })
	_, err := Validate(context.Background(), proof, "POST", "https://as.example/authorize", store, now)
	require.NoError(t, err)

	_, err = Validate(context.Background(), proof, "POST", "https://as.example/authorize", store, now)
	require.Error(t, err)
}

func TestValidateRejectsMethodMismatch(t *testing.T) {
	now := time.Now()
	claims := Claims{JTI: "jti-2", HTM: "GET", HTU: "https://as.example/authorize", IAT: now.Unix()}
	proof, _ := signProof(t, claims)

	store := memory.NewDPoPJtiStore(4, func() time.Time { return now })
	_, err := Validate(context.Background(), proof, "POST", "https://as.example/authorize", store, now)
	require.Error(t, err)
}

func TestValidateRejectsStaleIAT(t *testing.T) {
	now := time.Now()
	claims := Claims{JTI: "jti-3", HTM: "POST", HTU: "https://as.example/authorize", IAT: now.Add(-time.Hour).Unix()}
	proof, _ := signProof(t, claims)

	store := memory.NewDPoPJtiStore(4, func() time.Time { return now })
	_, err := Validate(context.Background(), proof, "POST", "https://as.example/authorize", store, now)
	require.Error(t, err)
}
