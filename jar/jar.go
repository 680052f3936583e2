// Package jar implements JWT-Secured Authorization Request (RFC 9101)
// resolution: format detection, JWE decryption, signature verification
// against a client's inline or fetched JWKS, and field-by-field merge of
// the verified claims back onto the draft authorization request (spec
// §4.1, design note in spec §9: "JAR merge is a function (draft, jar) ->
// merged with explicit field-by-field precedence").
package jar

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-jose/go-jose/v4"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dexidp/dex/cryptoutil"
	"github.com/dexidp/dex/storage"
)

// Resolver resolves and verifies request/request_uri JAR tokens.
type Resolver struct {
	fetcher       *Fetcher
	jwksCache     *lru.Cache[string, *jose.JSONWebKeySet]
	serverKeys    func(ctx context.Context) ([]*jose.JSONWebKey, error)
	allowNoneAlg  bool
	allowServerKeyFallback bool
}

// Config configures a Resolver.
type Config struct {
	Fetcher                *Fetcher
	ServerKeys             func(ctx context.Context) ([]*jose.JSONWebKey, error)
	AllowNoneAlgorithm     bool
	AllowServerKeyFallback bool
	JWKSCacheSize          int
}

// New constructs a Resolver. jwksCacheSize defaults to 256 entries. The LRU
// caches parsed JWKS documents fetched via jwks_uri, keyed by URI; an entry
// stays until the cache evicts it for space, and has no time-based expiry.
func New(cfg Config) (*Resolver, error) {
	size := cfg.JWKSCacheSize
	if size <= 0 {
		size = 256
	}
	cache, err := lru.New[string, *jose.JSONWebKeySet](size)
	if err != nil {
		return nil, fmt.Errorf("create jwks cache: %w", err)
	}
	return &Resolver{
		fetcher:                cfg.Fetcher,
		jwksCache:              cache,
		serverKeys:             cfg.ServerKeys,
		allowNoneAlg:           cfg.AllowNoneAlgorithm,
		allowServerKeyFallback: cfg.AllowServerKeyFallback,
	}, nil
}

// Format describes what kind of token a `request` or fetched value is.
type Format int

const (
	FormatUnknown Format = iota
	FormatJWS
	FormatJWE
)

// DetectFormat counts dots to distinguish a compact JWS (2 dots) from a
// compact JWE (4 dots), per spec §4.1's "detect format by counting dots".
func DetectFormat(token string) Format {
	dots := 0
	for _, c := range token {
		if c == '.' {
			dots++
		}
	}
	switch dots {
	case 2:
		return FormatJWS
	case 4:
		return FormatJWE
	default:
		return FormatUnknown
	}
}

// ResolveError carries the specific RFC 9101 error code to surface.
type ResolveError struct {
	Code string
	Msg  string
}

func (e *ResolveError) Error() string { return e.Msg }

func invalidRequestObject(format string, a ...interface{}) error {
	return &ResolveError{Code: "invalid_request_object", Msg: fmt.Sprintf(format, a...)}
}

// Resolve verifies a `request` JWT (or JWE) against client's keys and
// returns the claim map to be merged onto the draft request. serverDecryptKey is
// used to decrypt a JWE addressed to the AS; client.JWKS/JWKSURI supply
// signature verification keys.
func (r *Resolver) Resolve(ctx context.Context, token string, client storage.ClientMetadata, serverDecryptKey interface{}) (map[string]interface{}, error) {
	payload := []byte(token)
	jws := token

	if DetectFormat(token) == FormatJWE {
		if serverDecryptKey == nil {
			return nil, &ResolveError{Code: "server_error", Msg: "no server decryption key configured"}
		}
		inner, err := cryptoutil.DecryptJWE(token, serverDecryptKey)
		if err != nil {
			return nil, invalidRequestObject("decrypt request object: %v", err)
		}
		payload = inner
		// The decrypted payload may itself be a signed JWT or bare JSON.
		if DetectFormat(string(inner)) == FormatJWS {
			jws = string(inner)
		} else {
			return cryptoutil.ParseJSONClaims(inner)
		}
	}

	keys, err := r.clientVerificationKeys(ctx, client)
	if err != nil {
		return nil, invalidRequestObject("resolve client keys: %v", err)
	}
	if len(keys) == 0 && r.allowServerKeyFallback && r.serverKeys != nil {
		keys, err = r.serverKeys(ctx)
		if err != nil {
			return nil, invalidRequestObject("resolve server keys: %v", err)
		}
	}
	if len(keys) == 0 {
		return nil, invalidRequestObject("client has no usable signature verification keys")
	}

	verified, _, err := cryptoutil.VerifyJWS(jws, keys, r.allowNoneAlg)
	if err != nil {
		return nil, invalidRequestObject("verify request object: %v", err)
	}

	var claims map[string]interface{}
	if err := json.Unmarshal(verified, &claims); err != nil {
		return nil, invalidRequestObject("parse request object claims: %v", err)
	}
	return claims, nil
}

func (r *Resolver) clientVerificationKeys(ctx context.Context, client storage.ClientMetadata) ([]*jose.JSONWebKey, error) {
	set, err := r.ClientKeys(ctx, client)
	if err != nil || set == nil {
		return nil, err
	}
	var sig []*jose.JSONWebKey
	for i := range set.Keys {
		k := &set.Keys[i]
		if k.Use == "sig" || k.Use == "" {
			sig = append(sig, k)
		}
	}
	return sig, nil
}

// ClientKeys resolves a client's full JWKS, inline or fetched (cached), with
// no use-based filtering — used both for JAR signature verification keys
// and, by the response formatter, for JARM encryption key selection.
func (r *Resolver) ClientKeys(ctx context.Context, client storage.ClientMetadata) (*jose.JSONWebKeySet, error) {
	switch {
	case client.JWKS != nil:
		return client.JWKS, nil
	case client.JWKSURI != "":
		if cached, ok := r.jwksCache.Get(client.JWKSURI); ok {
			return cached, nil
		}
		if r.fetcher == nil {
			return nil, fmt.Errorf("jwks_uri fetching disabled")
		}
		fetched, err := r.fetcher.FetchJWKS(ctx, client.JWKSURI)
		if err != nil {
			return nil, err
		}
		r.jwksCache.Add(client.JWKSURI, fetched)
		return fetched, nil
	default:
		return nil, nil
	}
}
