package cryptoutil

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/require"
)

func newTestRSAKey(t *testing.T, kid string) *jose.JSONWebKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return &jose.JSONWebKey{Key: key, KeyID: kid, Algorithm: string(jose.RS256), Use: "sig"}
}

func TestSignatureAlgorithmRSA(t *testing.T) {
	jwk := newTestRSAKey(t, "kid-1")
	alg, err := SignatureAlgorithm(jwk)
	require.NoError(t, err)
	require.Equal(t, jose.RS256, alg)
}

func TestSignatureAlgorithmNoKey(t *testing.T) {
	_, err := SignatureAlgorithm(nil)
	require.Error(t, err)
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	jwk := newTestRSAKey(t, "kid-1")
	payload := []byte(`{"sub":"user-1"}`)

	token, err := SignPayload(jwk, jose.RS256, payload)
	require.NoError(t, err)

	pub := &jose.JSONWebKey{Key: jwk.Public().Key, KeyID: jwk.KeyID, Algorithm: jwk.Algorithm, Use: "sig"}
	verified, keyID, err := VerifyJWS(token, []*jose.JSONWebKey{pub}, false)
	require.NoError(t, err)
	require.Equal(t, payload, verified)
	require.Equal(t, "kid-1", keyID)
}

func TestVerifyJWSRejectsNoneByDefault(t *testing.T) {
	signer, err := jose.NewSigner(jose.SigningKey{Key: nil, Algorithm: jose.NoSignatureAlgorithm}, nil)
	require.NoError(t, err)
	sig, err := signer.Sign([]byte(`{}`))
	require.NoError(t, err)
	token, err := sig.CompactSerialize()
	require.NoError(t, err)

	_, _, err = VerifyJWS(token, nil, false)
	require.ErrorIs(t, err, ErrNoneAlgorithm)

	_, _, err = VerifyJWS(token, nil, true)
	require.NoError(t, err)
}

func TestLeftHash(t *testing.T) {
	h, err := LeftHash(jose.RS256, "some-code-value")
	require.NoError(t, err)
	require.NotEmpty(t, h)

	_, err = LeftHash("unsupported-alg", "x")
	require.Error(t, err)
}

func TestPKCEVerify(t *testing.T) {
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	challenge := "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
	require.True(t, PKCEVerify(challenge, verifier))
	require.False(t, PKCEVerify(challenge, "wrong-verifier"))
}

func TestJWKThumbprintStable(t *testing.T) {
	jwk := newTestRSAKey(t, "kid-1")
	t1, err := JWKThumbprint(jwk)
	require.NoError(t, err)
	t2, err := JWKThumbprint(jwk)
	require.NoError(t, err)
	require.Equal(t, t1, t2)
}

func TestIsJWECompact(t *testing.T) {
	require.False(t, IsJWECompact("a.b.c"))
	require.True(t, IsJWECompact("a.b.c.d.e"))
}

func TestSelectKeyByUse(t *testing.T) {
	sig := newTestRSAKey(t, "sig-key")
	enc := newTestRSAKey(t, "enc-key")
	enc.Use = "enc"
	set := &jose.JSONWebKeySet{Keys: []jose.JSONWebKey{*sig, *enc}}

	got := SelectKeyByUse(set, "enc")
	require.NotNil(t, got)
	require.Equal(t, "enc-key", got.KeyID)

	require.Nil(t, SelectKeyByUse(nil, "sig"))
}

func TestEncryptDecryptJWERoundTrip(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pub := &jose.JSONWebKey{Key: &key.PublicKey, KeyID: "enc-1", Algorithm: string(jose.RSA_OAEP_256), Use: "enc"}

	payload := []byte(`{"hello":"world"}`)
	token, err := EncryptJWE(payload, pub, jose.RSA_OAEP_256, jose.A128GCM)
	require.NoError(t, err)

	decrypted, err := DecryptJWE(token, key)
	require.NoError(t, err)
	require.Equal(t, payload, decrypted)
}
