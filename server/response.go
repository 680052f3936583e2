package server

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"time"

	"github.com/go-jose/go-jose/v4"

	"github.com/dexidp/dex/cryptoutil"
	"github.com/dexidp/dex/signer"
	"github.com/dexidp/dex/storage"
)

// responseVariant is the tagged variant spec §9 describes: the polymorphic
// authorization response is one of {query, fragment, form_post}, optionally
// wrapped in a JARM JWT/JWE regardless of which of the three carries it.
type responseVariant string

const (
	variantQuery    responseVariant = "query"
	variantFragment responseVariant = "fragment"
	variantFormPost responseVariant = "form_post"
)

// splitResponseMode validates response_mode against the set spec §4.2
// recognizes and splits it into its base variant and whether it requests
// JARM. An empty raw mode defers the base to the caller (response_type
// implied default); "jwt" alone defers the base the same way but always
// requests JARM.
func splitResponseMode(raw string) (base responseVariant, jarm bool, err error) {
	switch raw {
	case "":
		return "", false, nil
	case "query":
		return variantQuery, false, nil
	case "fragment":
		return variantFragment, false, nil
	case "form_post":
		return variantFormPost, false, nil
	case "query.jwt":
		return variantQuery, true, nil
	case "fragment.jwt":
		return variantFragment, true, nil
	case "form_post.jwt":
		return variantFormPost, true, nil
	case "jwt":
		return "", true, nil
	default:
		return "", false, fmt.Errorf("unsupported response_mode %q", raw)
	}
}

// defaultVariant implements spec §4.8: query for code-only, fragment for
// any flow that returns id_token or token directly.
func defaultVariant(responseTypes []string) responseVariant {
	for _, rt := range responseTypes {
		if rt == "id_token" || rt == "token" {
			return variantFragment
		}
	}
	return variantQuery
}

// resolveVariant combines splitResponseMode and defaultVariant into the
// final (variant, jarm) pair for a request.
func resolveVariant(responseMode string, responseTypes []string) (responseVariant, bool, error) {
	base, jarm, err := splitResponseMode(responseMode)
	if err != nil {
		return "", false, err
	}
	if base == "" {
		base = defaultVariant(responseTypes)
	}
	return base, jarm, nil
}

// emit renders the final authorization response per spec §4.8: plain
// query/fragment/form_post, or any of those carrying a single `response`
// JARM parameter instead of the raw param set.
func (s *Server) emit(ctx context.Context, w http.ResponseWriter, r *http.Request, client storage.ClientMetadata, redirectURI string, variant responseVariant, jarm bool, params url.Values) error {
	if jarm {
		jwt, err := s.buildJARM(ctx, client, params)
		if err != nil {
			return fmt.Errorf("build jarm response: %w", err)
		}
		params = url.Values{"response": {jwt}}
	} else {
		params.Set("iss", s.issuerURL.String()) // RFC 9207, JARM already carries iss inside the JWT.
	}

	switch variant {
	case variantQuery:
		return redirectWith(w, r, redirectURI, params, false)
	case variantFragment:
		return redirectWith(w, r, redirectURI, params, true)
	case variantFormPost:
		return s.renderFormPost(w, redirectURI, params)
	default:
		return fmt.Errorf("unknown response variant %q", variant)
	}
}

func redirectWith(w http.ResponseWriter, r *http.Request, redirectURI string, params url.Values, fragment bool) error {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return fmt.Errorf("parse redirect_uri: %w", err)
	}
	if fragment {
		u.Fragment = params.Encode()
	} else {
		q := u.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	http.Redirect(w, r, u.String(), http.StatusFound)
	return nil
}

const formPostTemplate = `<!DOCTYPE html>
<html>
<head><title>Submitting...</title>
<style nonce="{{.Nonce}}">body{font-family:sans-serif}</style>
</head>
<body onload="document.forms[0].submit()">
<form method="post" action="{{.Action}}">
{{range $k, $vs := .Params}}{{range $v := $vs}}<input type="hidden" name="{{$k}}" value="{{$v}}">
{{end}}{{end}}
<noscript><input type="submit" value="Continue"></noscript>
</form>
<script nonce="{{.Nonce}}">document.forms[0].submit();</script>
</body>
</html>`

var formPostTmpl = template.Must(template.New("form_post").Parse(formPostTemplate))

func (s *Server) renderFormPost(w http.ResponseWriter, action string, params url.Values) error {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate csp nonce: %w", err)
	}
	nonceB64 := base64.StdEncoding.EncodeToString(nonce)

	w.Header().Set("Content-Security-Policy", fmt.Sprintf("default-src 'none'; style-src 'nonce-%s'; script-src 'nonce-%s'", nonceB64, nonceB64))
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	data := struct {
		Nonce  string
		Action string
		Params url.Values
	}{nonceB64, action, params}
	return formPostTmpl.Execute(w, data)
}

// buildJARM signs (and, if the client requests it, nested-encrypts) the
// authorization response parameters as a JWT per spec §4.8: {iss, aud,
// exp=now+600, iat, ...params}.
func (s *Server) buildJARM(ctx context.Context, client storage.ClientMetadata, params url.Values) (string, error) {
	now := s.now()
	claims := map[string]interface{}{
		"iss": s.issuerURL.String(),
		"aud": client.ID,
		"exp": now.Add(10 * time.Minute).Unix(),
		"iat": now.Unix(),
	}
	for k := range params {
		claims[k] = params.Get(k)
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal jarm claims: %w", err)
	}

	key, alg, err := signer.ActivePrivateKey(ctx, s.signer)
	if err != nil {
		return "", fmt.Errorf("get active signing key: %w", err)
	}
	jwt, err := cryptoutil.SignPayload(key, alg, payload)
	if err != nil {
		return "", fmt.Errorf("sign jarm response: %w", err)
	}

	if client.AuthorizationEncryptedResponseAlg == "" || s.jar == nil {
		return jwt, nil
	}
	set, err := s.jar.ClientKeys(ctx, client)
	if err != nil {
		return "", fmt.Errorf("resolve client encryption keys: %w", err)
	}
	encKey := cryptoutil.SelectKeyByUse(set, "enc")
	if encKey == nil {
		return jwt, nil
	}
	enc := client.AuthorizationEncryptedResponseEnc
	if enc == "" {
		enc = string(jose.A128CBC_HS256)
	}
	nested, err := cryptoutil.EncryptJWE([]byte(jwt), encKey, jose.KeyAlgorithm(client.AuthorizationEncryptedResponseAlg), jose.ContentEncryption(enc))
	if err != nil {
		return "", fmt.Errorf("encrypt jarm response: %w", err)
	}
	return nested, nil
}

// sessionState computes the OIDC Session Management session_state value
// when an origin can be derived from redirectURI, per spec §4.8.
func sessionState(clientID, redirectURI, sessionID string) (string, bool) {
	u, err := url.Parse(redirectURI)
	if err != nil || u.Host == "" {
		return "", false
	}
	origin := u.Scheme + "://" + u.Host

	saltBytes := make([]byte, 16)
	if _, err := rand.Read(saltBytes); err != nil {
		return "", false
	}
	salt := base64.RawURLEncoding.EncodeToString(saltBytes)
	return cryptoutil.SessionState(clientID, origin, sessionID, salt), true
}
