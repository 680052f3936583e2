package cryptoutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-jose/go-jose/v4"
)

// ErrNoneAlgorithm is returned by VerifyJWS when a token's header declares
// alg=none and the caller hasn't explicitly opted into allowing it.
var ErrNoneAlgorithm = errors.New("alg=none is not permitted")

// IsJWECompact reports whether a compact-serialized token is a JWE (5
// dot-separated parts) rather than a JWS (3 parts), per the format-sniffing
// rule in spec §4.1.
func IsJWECompact(token string) bool {
	return strings.Count(token, ".") == 4
}

// DecryptJWE decrypts a compact JWE with the AS's own private key, used when
// a JAR request or an id_token_hint was encrypted to the server.
func DecryptJWE(token string, key interface{}) ([]byte, error) {
	obj, err := jose.ParseEncrypted(token, []jose.KeyAlgorithm{
		jose.RSA_OAEP, jose.RSA_OAEP_256, jose.ECDH_ES, jose.ECDH_ES_A128KW, jose.ECDH_ES_A192KW, jose.ECDH_ES_A256KW,
	}, []jose.ContentEncryption{jose.A128GCM, jose.A192GCM, jose.A256GCM, jose.A128CBC_HS256, jose.A256CBC_HS512})
	if err != nil {
		return nil, fmt.Errorf("parse jwe: %w", err)
	}
	return obj.Decrypt(key)
}

// VerifyJWS verifies a compact JWS against one of the supplied candidate
// keys, selecting by kid when present and falling back to trying each key
// otherwise — the same strategy as dexidp/dex's storageKeySet.
// VerifyJWS rejects alg=none unless allowNone is true; when it is, an
// alg=none token's payload is returned unverified with an empty keyID.
func VerifyJWS(token string, keys []*jose.JSONWebKey, allowNone bool) (payload []byte, keyID string, err error) {
	algs := []jose.SignatureAlgorithm{
		jose.RS256, jose.RS384, jose.RS512, jose.ES256, jose.ES384, jose.ES512, jose.PS256, jose.PS384, jose.PS512,
		jose.NoSignatureAlgorithm,
	}
	jws, err := jose.ParseSigned(token, algs)
	if err != nil {
		return nil, "", fmt.Errorf("parse jws: %w", err)
	}

	wantKeyID := ""
	for _, sig := range jws.Signatures {
		wantKeyID = sig.Header.KeyID
		if sig.Header.Algorithm == string(jose.NoSignatureAlgorithm) {
			if !allowNone {
				return nil, "", ErrNoneAlgorithm
			}
			return jws.UnsafePayloadWithoutVerification(), "", nil
		}
		break
	}

	for _, key := range keys {
		if wantKeyID != "" && key.KeyID != wantKeyID {
			continue
		}
		if payload, err = jws.Verify(key); err == nil {
			return payload, key.KeyID, nil
		}
	}
	return nil, "", errors.New("no candidate key verified the signature")
}

// SelectKeyByUse returns the first key in set matching use ("sig" or
// "enc"), or a key with no Use set if none declares the target use
// explicitly, per spec §4.1's "use=sig or no use" rule.
func SelectKeyByUse(set *jose.JSONWebKeySet, use string) *jose.JSONWebKey {
	if set == nil {
		return nil
	}
	var fallback *jose.JSONWebKey
	for i := range set.Keys {
		k := &set.Keys[i]
		if k.Use == use {
			return k
		}
		if k.Use == "" && fallback == nil {
			fallback = k
		}
	}
	return fallback
}

// IDTokenHintClaims is the subset of an id_token_hint's claims spec §4.3
// consults as a session fallback.
type IDTokenHintClaims struct {
	Subject  string `json:"sub"`
	AuthTime int64  `json:"auth_time,omitempty"`
	ACR      string `json:"acr,omitempty"`
}

// VerifyIDTokenHint verifies an id_token_hint against the authorization
// server's own validation keys, selecting by kid per spec §4.3. alg=none is
// never accepted here regardless of server configuration, since a hint with
// no signature carries no assurance about who it names. Per OIDC Core
// 3.1.2.1, an expired hint is still an acceptable hint: only the signature
// is checked, not exp.
func VerifyIDTokenHint(token string, keys []*jose.JSONWebKey) (IDTokenHintClaims, error) {
	payload, _, err := VerifyJWS(token, keys, false)
	if err != nil {
		return IDTokenHintClaims{}, fmt.Errorf("verify id_token_hint: %w", err)
	}
	var claims IDTokenHintClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return IDTokenHintClaims{}, fmt.Errorf("parse id_token_hint claims: %w", err)
	}
	if claims.Subject == "" {
		return IDTokenHintClaims{}, errors.New("id_token_hint missing sub claim")
	}
	return claims, nil
}

// ParseJSONClaims unmarshals a raw JWT/JWE payload into a generic claim map,
// used when JAR carries an inner JSON object rather than a nested JWT.
func ParseJSONClaims(payload []byte) (map[string]interface{}, error) {
	var m map[string]interface{}
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("parse claims: %w", err)
	}
	return m, nil
}

// EncryptJWE encrypts payload to a recipient's public key with the given
// key-management and content-encryption algorithms, producing a compact JWE
// — used by JARM response encryption.
func EncryptJWE(payload []byte, recipient *jose.JSONWebKey, keyAlg jose.KeyAlgorithm, enc jose.ContentEncryption) (string, error) {
	encrypter, err := jose.NewEncrypter(enc, jose.Recipient{Algorithm: keyAlg, Key: recipient, KeyID: recipient.KeyID}, nil)
	if err != nil {
		return "", fmt.Errorf("new encrypter: %w", err)
	}
	obj, err := encrypter.Encrypt(payload)
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	return obj.CompactSerialize()
}
