package cryptoutil

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"

	"github.com/dexidp/dex/storage"
)

// IDTokenClaims is the JWT claim set minted for the hybrid/implicit flows.
// Field selection and naming follow dexidp/dex's idTokenClaims, trimmed of
// the federated-connector and cross-client-audience extensions this core
// doesn't carry, and extended with sid/acr per spec §4.7.
type IDTokenClaims struct {
	Issuer   string `json:"iss"`
	Subject  string `json:"sub"`
	Audience string `json:"aud"`
	Expiry   int64  `json:"exp"`
	IssuedAt int64  `json:"iat"`
	AuthTime int64  `json:"auth_time,omitempty"`
	Nonce    string `json:"nonce,omitempty"`
	SID      string `json:"sid,omitempty"`
	ACR      string `json:"acr,omitempty"`

	AccessTokenHash string `json:"at_hash,omitempty"`
	CodeHash        string `json:"c_hash,omitempty"`

	Email             string   `json:"email,omitempty"`
	EmailVerified     *bool    `json:"email_verified,omitempty"`
	Groups            []string `json:"groups,omitempty"`
	Name              string   `json:"name,omitempty"`
	PreferredUsername string   `json:"preferred_username,omitempty"`
	Phone             string   `json:"phone_number,omitempty"`
	Address           string   `json:"address,omitempty"`
}

// AccessTokenClaims is minted when response_type contains "token": the
// authorization endpoint itself is the resource server audience, per
// spec §4.7.
type AccessTokenClaims struct {
	Issuer   string   `json:"iss"`
	Subject  string   `json:"sub"`
	Audience string   `json:"aud"`
	Scope    string   `json:"scope,omitempty"`
	ClientID string   `json:"client_id,omitempty"`
	JTI      string   `json:"jti"`
	Expiry   int64    `json:"exp"`
	IssuedAt int64    `json:"iat"`
	Groups   []string `json:"groups,omitempty"`
}

// NewAccessToken signs a bearer access token for the hybrid/implicit flows.
// Default lifetime is one hour, per spec §4.7.
func NewAccessToken(signingKey *jose.JSONWebKey, alg jose.SignatureAlgorithm, issuer string, claims storage.Claims, scope []string, clientID string, now time.Time) (token string, expiry time.Time, err error) {
	expiry = now.Add(time.Hour)
	tok := AccessTokenClaims{
		Issuer:   issuer,
		Subject:  claims.UserID,
		Audience: issuer,
		Scope:    joinScope(scope),
		ClientID: clientID,
		JTI:      storage.NewID(),
		Expiry:   expiry.Unix(),
		IssuedAt: now.Unix(),
		Groups:   claims.Groups,
	}
	payload, err := json.Marshal(tok)
	if err != nil {
		return "", expiry, fmt.Errorf("marshal access token claims: %w", err)
	}
	token, err = SignPayload(signingKey, alg, payload)
	return token, expiry, err
}

// IDTokenParams bundles the inputs that vary per call to NewIDToken so the
// function signature stays tractable despite the large claim surface OIDC
// requires.
type IDTokenParams struct {
	Issuer        string
	ClientID      string
	Claims        storage.Claims
	Scope         []string
	Nonce         string
	AuthTime      time.Time
	SID           string
	Code          string // present -> c_hash populated
	AccessToken   string // present -> at_hash populated
	IDTokenClaims map[string]interface{} // explicit "id_token" claims request, embedded when no UserInfo call is possible
	ValidFor      time.Duration
}

// NewIDToken signs an ID token per spec §4.7, embedding c_hash/at_hash when
// a code/access token accompanies it and folding scope-implied claims
// directly into the token: email/email_verified for "email",
// name/preferred_username for "profile", groups for "groups". The phone and
// address scopes add nothing, since storage.Claims carries neither value.
// Of an explicit id_token claims request, only an "email" entry whose value
// is a string is used, and only when the email scope left Email empty.
func NewIDToken(signingKey *jose.JSONWebKey, alg jose.SignatureAlgorithm, p IDTokenParams, now time.Time) (string, time.Time, error) {
	validFor := p.ValidFor
	if validFor <= 0 {
		validFor = time.Hour
	}
	expiry := now.Add(validFor)

	tok := IDTokenClaims{
		Issuer:   p.Issuer,
		Subject:  p.Claims.UserID,
		Audience: p.ClientID,
		Expiry:   expiry.Unix(),
		IssuedAt: now.Unix(),
		Nonce:    p.Nonce,
		SID:      p.SID,
		ACR:      p.Claims.ACR,
	}
	if !p.AuthTime.IsZero() {
		tok.AuthTime = p.AuthTime.Unix()
	}

	if p.AccessToken != "" {
		h, err := LeftHash(alg, p.AccessToken)
		if err != nil {
			return "", expiry, fmt.Errorf("at_hash: %w", err)
		}
		tok.AccessTokenHash = h
	}
	if p.Code != "" {
		h, err := LeftHash(alg, p.Code)
		if err != nil {
			return "", expiry, fmt.Errorf("c_hash: %w", err)
		}
		tok.CodeHash = h
	}

	for _, scope := range p.Scope {
		switch scope {
		case "email":
			tok.Email = p.Claims.Email
			v := p.Claims.EmailVerified
			tok.EmailVerified = &v
		case "profile":
			tok.Name = p.Claims.Username
			tok.PreferredUsername = p.Claims.PreferredUsername
		case "groups":
			tok.Groups = p.Claims.Groups
		}
	}
	if v, ok := p.IDTokenClaims["email"]; ok && tok.Email == "" {
		if s, ok := v.(string); ok {
			tok.Email = s
		}
	}

	payload, err := json.Marshal(tok)
	if err != nil {
		return "", expiry, fmt.Errorf("marshal id token claims: %w", err)
	}
	idToken, err := SignPayload(signingKey, alg, payload)
	return idToken, expiry, err
}

func joinScope(scope []string) string {
	out := ""
	for i, s := range scope {
		if i > 0 {
			out += " "
		}
		out += s
	}
	return out
}

// SessionState computes the OIDC Session Management session_state value:
// base64url(SHA-256(client_id + ' ' + rp_origin + ' ' + session_id + ' ' +
// salt)) + '.' + salt.
func SessionState(clientID, rpOrigin, sessionID, salt string) string {
	sum := sha256.Sum256([]byte(clientID + " " + rpOrigin + " " + sessionID + " " + salt))
	return base64.RawURLEncoding.EncodeToString(sum[:]) + "." + salt
}
