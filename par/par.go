// Package par implements Pushed Authorization Request (RFC 9126) URN
// handling for the authorization endpoint's parser: recognizing the URN
// prefix, and atomically resolving a URN against the PAR store partitioned
// by the client that pushed it (spec §4.1).
package par

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dexidp/dex/storage"
)

// URNPrefix is the RFC 9126 request_uri URN prefix this core recognizes.
const URNPrefix = "urn:ietf:params:oauth:request_uri:"

// ErrNotPAR is returned by Resolve when the supplied value isn't a
// recognized PAR URN at all, distinguishing "not a URN" from "unknown or
// expired URN" for the caller's error-code selection.
var ErrNotPAR = errors.New("not a pushed authorization request uri")

// ErrRateLimited is returned by Push when the pushing client has exceeded
// its token-bucket allowance.
var ErrRateLimited = errors.New("too many pushed authorization requests")

// Limiter enforces a per-client token bucket over Push, so a single
// misbehaving or compromised client can't exhaust the PAR store with a
// flood of short-lived records. The external push endpoint (out of this
// core's scope, per spec §1/§6) is expected to sit in front of Push and
// is the caller this Limiter is meant to protect.
type Limiter struct {
	rps   rate.Limit
	burst int

	mu        sync.Mutex
	perClient map[string]*rate.Limiter
}

// NewLimiter builds a Limiter allowing rps pushes per second per client,
// with the given burst.
func NewLimiter(rps float64, burst int) *Limiter {
	return &Limiter{
		rps:       rate.Limit(rps),
		burst:     burst,
		perClient: make(map[string]*rate.Limiter),
	}
}

func (l *Limiter) Allow(clientID string) bool {
	l.mu.Lock()
	lim, ok := l.perClient[clientID]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.perClient[clientID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// NewURN mints a fresh, unguessable request_uri URN.
func NewURN() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate request_uri: %w", err)
	}
	return URNPrefix + base64.RawURLEncoding.EncodeToString(b), nil
}

// IsPARURN reports whether v carries the RFC 9126 URN prefix.
func IsPARURN(v string) bool {
	return strings.HasPrefix(v, URNPrefix)
}

// Push stores a full AuthorizationRequest under a freshly-minted URN,
// partitioned by clientID, with the given TTL (default ~60s per spec §3).
// limiter may be nil, in which case pushes are unbounded.
func Push(ctx context.Context, store storage.PARStore, limiter *Limiter, clientID string, req storage.AuthorizationRequest, ttl time.Duration) (string, error) {
	if limiter != nil && !limiter.Allow(clientID) {
		return "", ErrRateLimited
	}

	urn, err := NewURN()
	if err != nil {
		return "", err
	}
	rec := storage.PARRecord{
		ClientID: clientID,
		Request:  req,
		Expiry:   time.Now().Add(ttl),
	}
	if err := store.PutPAR(ctx, urn, rec, ttl); err != nil {
		return "", fmt.Errorf("push par record: %w", err)
	}
	return urn, nil
}

// Resolve atomically consumes the PAR record referenced by requestURI,
// enforcing that it was pushed by queryClientID (spec §4.1: "if both the
// query client_id and the PAR record's client_id are present, they must
// match exactly").
func Resolve(ctx context.Context, store storage.PARStore, queryClientID, requestURI string) (storage.AuthorizationRequest, error) {
	if !IsPARURN(requestURI) {
		return storage.AuthorizationRequest{}, ErrNotPAR
	}
	rec, err := store.ConsumePAR(ctx, queryClientID, requestURI)
	if err != nil {
		return storage.AuthorizationRequest{}, err
	}
	if queryClientID != "" && rec.ClientID != queryClientID {
		return storage.AuthorizationRequest{}, fmt.Errorf("client_id mismatch between query and pushed request")
	}
	return rec.Request, nil
}
