// Package storage defines the data model and collaborator interfaces consumed
// by the authorization endpoint core. Concrete, process-local implementations
// live in storage/memory; production deployments are expected to supply their
// own backing stores that satisfy these same interfaces.
package storage

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	jose "github.com/go-jose/go-jose/v4"
)

var (
	// ErrNotFound is returned by collaborators when a resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when a create would collide with an
	// existing resource ID.
	ErrAlreadyExists = errors.New("ID already exists")

	// ErrAlreadyConsumed is available to single-use stores that can tell a
	// repeated consume apart from an unknown id. The storage/memory stores
	// delete on first consume and report any later attempt as ErrNotFound.
	ErrAlreadyConsumed = errors.New("already consumed")

	// ErrExpired is returned when a single-use record is found but its TTL
	// has elapsed.
	ErrExpired = errors.New("expired")
)

// NewID returns a random URL-safe string suitable for use as an opaque
// identifier (challenge ids, session ids, access token jti values).
func NewID() string {
	return randString(16)
}

// NewAuthorizationCode returns a 96-byte cryptographically random value,
// base64url encoded, per the authorization code issuance design.
func NewAuthorizationCode() string {
	return randString(96)
}

func randString(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// PKCE holds the data needed to perform Proof Key for Code Exchange
// (RFC 7636) verification at the token endpoint.
type PKCE struct {
	CodeChallenge       string
	CodeChallengeMethod string
}

// Claims is the subset of end-user identity data the core embeds into
// minted tokens. Populated by whatever login surface created the session;
// opaque to this core beyond field access.
type Claims struct {
	UserID            string
	Username          string
	PreferredUsername string
	Email             string
	EmailVerified     bool
	ACR               string
	Groups            []string
}

// AuthorizationRequest is the fully resolved, ephemeral request context
// carried through a single /authorize call. It is the merge of query
// parameters, PAR record (if any), and JAR claims (if any), plus the
// continuation hints threaded through challenge round-trips.
type AuthorizationRequest struct {
	ResponseType []string
	ClientID     string
	RedirectURI  string
	Scope        []string
	State        string
	Nonce        string

	CodeChallenge       string
	CodeChallengeMethod string

	Claims map[string]map[string]interface{} // "userinfo" / "id_token" sections

	ResponseMode string
	Prompt       []string
	MaxAge       *int64
	IDTokenHint  string
	ACRValues    string
	Display      string
	UILocales    string
	LoginHint    string

	// Extensions.
	OrgID    string
	ActingAs string

	// Continuation fields, restored across a challenge round-trip.
	Confirmed        bool
	AuthTime         time.Time
	SessionID        string
	ConsentConfirmed bool

	// DPoP proof presented alongside the request, if any (raw compact JWS).
	DPoPProof string
}

// ClientMetadata is the read-only client record consulted by the parser,
// validator, JAR verifier, and JARM response encryptor.
type ClientMetadata struct {
	ID               string
	ClientSecret     string
	ClientSecretHash []byte

	RedirectURIs []string
	IsTrusted    bool
	SkipConsent  bool
	Public       bool

	JWKS    *jose.JSONWebKeySet
	JWKSURI string

	AuthorizationSignedResponseAlg    string
	AuthorizationEncryptedResponseAlg string
	AuthorizationEncryptedResponseEnc string

	ClientName string
	LogoURI    string
	PolicyURI  string
	TOSURI     string
	ClientURI  string
}

// AuthorizationCode is the single-use binding record created at emission
// and destroyed on first consume at the (external) token endpoint.
type AuthorizationCode struct {
	ClientID            string
	RedirectURI         string
	UserID              string
	Scope               []string
	CodeChallenge       string
	CodeChallengeMethod string
	Nonce               string
	State               string
	Claims              Claims
	AuthTime            time.Time
	ACR                 string
	DPoPJKT             string
	SessionID           string
	Expiry              time.Time
}

// PARRecord is the full AuthorizationRequest parameter set held under a
// request_uri URN, partitioned by ClientID, until first /authorize call.
type PARRecord struct {
	ClientID string
	Request  AuthorizationRequest
	Expiry   time.Time
}

// ChallengeType enumerates the kinds of UI round-trip a Challenge requests.
type ChallengeType string

const (
	ChallengeLogin   ChallengeType = "login"
	ChallengeReauth  ChallengeType = "reauth"
	ChallengeConsent ChallengeType = "consent"
)

// Challenge is the single-use interaction context handed to a UI surface.
type Challenge struct {
	ID       string
	Type     ChallengeType
	UserID   string
	Request  AuthorizationRequest
	Expiry   time.Time
}

// Session is a logged-in end-user session, looked up by its sharded
// cookie-carried id. Claims carries whatever profile data the login surface
// collected, so hybrid/implicit token minting has a claims source without
// this core depending on a federated-identity connector of its own.
type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
	AuthTime  time.Time
	ClientID  string
	Claims    Claims
}

// ConsentRecord is consulted read-only; this core never writes one back,
// persistence is an external collaborator's responsibility.
type ConsentRecord struct {
	UserID    string
	ClientID  string
	Scope     []string
	GrantedAt time.Time
	ExpiresAt *time.Time
}

// VerificationKey is a rotated-out signing key retained only to validate
// signatures it already produced.
type VerificationKey struct {
	PublicKey *jose.JSONWebKey
	Expiry    time.Time
}

// Keys holds the active signing key pair plus any still-valid verification
// keys, and the next scheduled rotation time.
type Keys struct {
	SigningKey       *jose.JSONWebKey
	SigningKeyPub    *jose.JSONWebKey
	VerificationKeys []VerificationKey
	NextRotation     time.Time
}

// ClientStore resolves client metadata by id.
type ClientStore interface {
	GetClient(ctx context.Context, clientID string) (ClientMetadata, error)
}

// SessionStore looks sessions up by id and records new ones on login.
type SessionStore interface {
	GetSession(ctx context.Context, id string) (Session, error)
	PutSession(ctx context.Context, s Session, ttl time.Duration) error
}

// AuthorizationCodeStore owns authorization codes: atomic put at issuance,
// atomic consume at redemption. Consume is destructive and idempotent in
// its failure mode: a second consume of the same code always fails.
type AuthorizationCodeStore interface {
	PutAuthorizationCode(ctx context.Context, code string, rec AuthorizationCode) error
	ConsumeAuthorizationCode(ctx context.Context, code string) (AuthorizationCode, error)
}

// PARStore owns pushed authorization request records, partitioned by the
// client that pushed them.
type PARStore interface {
	PutPAR(ctx context.Context, uri string, rec PARRecord, ttl time.Duration) error
	ConsumePAR(ctx context.Context, clientID, uri string) (PARRecord, error)
}

// ChallengeStore owns interaction challenges.
type ChallengeStore interface {
	PutChallenge(ctx context.Context, c Challenge, ttl time.Duration) error
	ConsumeChallenge(ctx context.Context, id string, typ ChallengeType) (Challenge, error)
}

// ConsentStore is consulted read-only by the consent check component.
type ConsentStore interface {
	FindConsent(ctx context.Context, userID, clientID string) (ConsentRecord, error)
}

// ConsentWriter is an optional extension of ConsentStore. The consent
// component uses it, when the configured ConsentStore implements it, to
// auto-record consent for trusted clients and for a user's explicit grant
// at the confirm callback; a ConsentStore that only implements the
// read-only interface forces every authorization to reconfirm.
type ConsentWriter interface {
	PutConsent(ctx context.Context, r ConsentRecord) error
}

// DPoPJtiStore guards against DPoP proof replay by remembering jti values
// for the configured skew window.
type DPoPJtiStore interface {
	MarkSeen(ctx context.Context, jti string, ttl time.Duration) (alreadySeen bool, err error)
}

// KeyManager is the crypto service's view of the active signing key: read
// the current Keys, and replace them atomically through an updater (which
// is how the signer package rotates them).
type KeyManager interface {
	GetKeys(ctx context.Context) (Keys, error)
	UpdateKeys(ctx context.Context, updater func(old Keys) (Keys, error)) error
}
