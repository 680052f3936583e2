// Package dpop implements RFC 9449 proof-of-possession validation for the
// authorization code issuance path (spec §4.6): a DPoP proof binds a code
// to a client-held key by embedding its JWK thumbprint as dpop_jkt. An
// invalid proof never fails the authorize request — it just leaves the
// code unbound, per spec.
package dpop

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"

	"github.com/dexidp/dex/cryptoutil"
	"github.com/dexidp/dex/storage"
)

// Claims is the JWT claim set of a DPoP proof, RFC 9449 §4.2.
type Claims struct {
	JTI    string `json:"jti"`
	HTM    string `json:"htm"`
	HTU    string `json:"htu"`
	IAT    int64  `json:"iat"`
	ATHash string `json:"ath,omitempty"`
}

// Header carries the DPoP-specific JOSE header fields: typ must be "dpop+jwt"
// and jwk must embed the proof's own public key (proofs are self-certifying,
// never referencing a kid).
type Header struct {
	Type string           `json:"typ"`
	JWK  *jose.JSONWebKey `json:"jwk"`
}

// Skew bounds how far a proof's iat may drift from now.
const Skew = 5 * time.Minute

// Validate checks a DPoP proof per RFC 9449: header typ, signature against
// its own embedded jwk, htm/htu match, iat within skew, and jti not
// previously seen. On success it returns the RFC 7638 thumbprint of the
// proof's key to be stored as dpop_jkt.
func Validate(ctx context.Context, proof, method, url string, jtiStore storage.DPoPJtiStore, now time.Time) (jkt string, err error) {
	jws, err := jose.ParseSigned(proof, []jose.SignatureAlgorithm{
		jose.RS256, jose.ES256, jose.PS256,
	})
	if err != nil {
		return "", fmt.Errorf("parse dpop proof: %w", err)
	}
	if len(jws.Signatures) != 1 {
		return "", fmt.Errorf("dpop proof must have exactly one signature")
	}
	sig := jws.Signatures[0]

	if sig.Header.JSONWebKey == nil {
		return "", fmt.Errorf("dpop proof missing jwk header")
	}
	jwk := *sig.Header.JSONWebKey
	if typ, _ := sig.Header.ExtraHeaders[jose.HeaderKey("typ")].(string); typ != "dpop+jwt" {
		return "", fmt.Errorf("dpop proof has wrong typ %q", typ)
	}

	payload, err := jws.Verify(&jwk)
	if err != nil {
		return "", fmt.Errorf("verify dpop proof signature: %w", err)
	}

	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", fmt.Errorf("parse dpop claims: %w", err)
	}
	if claims.HTM != method {
		return "", fmt.Errorf("dpop htm mismatch")
	}
	if claims.HTU != url {
		return "", fmt.Errorf("dpop htu mismatch")
	}
	iat := time.Unix(claims.IAT, 0)
	if now.Sub(iat) > Skew || iat.Sub(now) > Skew {
		return "", fmt.Errorf("dpop iat outside skew window")
	}
	if claims.JTI == "" {
		return "", fmt.Errorf("dpop proof missing jti")
	}

	seen, err := jtiStore.MarkSeen(ctx, claims.JTI, 2*Skew)
	if err != nil {
		return "", fmt.Errorf("check dpop jti: %w", err)
	}
	if seen {
		return "", fmt.Errorf("dpop jti replay")
	}

	return cryptoutil.JWKThumbprint(&jwk)
}
