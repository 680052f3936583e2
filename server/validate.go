package server

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/dexidp/dex/storage"
)

var validResponseTypeSets = map[string]bool{
	"code":                   true,
	"id_token":               true,
	"token":                  true,
	"id_token token":         true,
	"code id_token":          true,
	"code token":             true,
	"code id_token token":    true,
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func scopeSet(scopes []string) map[string]bool {
	m := make(map[string]bool, len(scopes))
	for _, s := range scopes {
		m[s] = true
	}
	return m
}

// normalizedResponseType canonicalizes response_type into the
// space-separated, sorted-by-convention key validResponseTypeSets expects,
// tolerant of the parameter arriving in any order.
func normalizedResponseType(rt []string) string {
	has := scopeSet(rt)
	var parts []string
	for _, want := range []string{"code", "id_token", "token"} {
		if has[want] {
			parts = append(parts, want)
		}
	}
	return strings.Join(parts, " ")
}

// validateAuthRequest implements the ordering spec §4.2 prescribes:
// client_id and redirect_uri are validated first, before any other error
// can be safely redirected back to the client, then the remaining checks
// produce redirectable errors.
func (s *Server) validateAuthRequest(ctx context.Context, req storage.AuthorizationRequest, client storage.ClientMetadata, clientFound, fromPAR bool) error {
	if req.ClientID == "" {
		return newDisplayedJSONErr(http.StatusBadRequest, errInvalidRequest, "%s", "client_id is required")
	}
	if !clientFound {
		return newDisplayedErr(http.StatusBadRequest, errInvalidClient, "%s", ErrMsgUnknownClient)
	}

	redirectURI, err := s.resolveRedirectURI(client, req.RedirectURI)
	if err != nil {
		return newDisplayedErr(http.StatusBadRequest, errInvalidRequest, "%s", ErrMsgBadRedirectURI)
	}
	req.RedirectURI = redirectURI

	newErr := func(code, format string, a ...interface{}) *redirectedAuthErr {
		return newRedirectedErr(client, req.RedirectURI, req.ResponseMode, req.ResponseType, req.State, code, format, a...)
	}

	if s.requirePAR && !fromPAR {
		return newErr(errInvalidRequest, "this server requires Pushed Authorization Requests")
	}
	if client.Public && !s.allowPublicClients {
		return newErr(errInvalidClient, "public clients are not permitted")
	}

	if len(req.ResponseType) == 0 {
		return newErr(errInvalidRequest, "response_type is required")
	}
	normalized := normalizedResponseType(req.ResponseType)
	if !validResponseTypeSets[normalized] {
		return newErr(errUnsupportedResponseType, "unsupported response_type %q", strings.Join(req.ResponseType, " "))
	}

	if _, _, err := resolveVariant(req.ResponseMode, req.ResponseType); err != nil {
		return newErr(errInvalidRequest, "%v", err)
	}
	if err := checkModeCompat(req.ResponseMode, req.ResponseType); err != nil {
		return newErr(errInvalidRequest, "%v", err)
	}

	issuesCode := contains(req.ResponseType, "code")

	if issuesCode {
		if req.CodeChallenge == "" && s.requirePAR {
			return newErr(errInvalidRequest, "code_challenge is required")
		}
		if req.CodeChallenge != "" && req.CodeChallengeMethod != "S256" {
			return newErr(errInvalidRequest, "code_challenge_method must be S256")
		}
	}
	if contains(req.ResponseType, "id_token") && req.Nonce == "" {
		return newErr(errInvalidRequest, "nonce is required when response_type includes id_token")
	}

	if len(req.Scope) == 0 {
		return newErr(errInvalidScope, "scope is required")
	}
	if !contains(req.Scope, "openid") {
		return newErr(errInvalidScope, "scope must include openid")
	}

	for _, p := range req.Prompt {
		switch p {
		case "none", "login", "consent", "select_account":
		default:
			return newErr(errInvalidRequest, "unsupported prompt value %q", p)
		}
	}
	if contains(req.Prompt, "none") && len(req.Prompt) > 1 {
		return newErr(errInvalidRequest, "prompt=none must not be combined with other prompt values")
	}

	return nil
}

// resolveRedirectURI implements spec §4.2's exact-match rule: the
// presented redirect_uri must be byte-identical to one of the client's
// registered URIs, except that AllowHTTPRedirect permits an http-scheme
// loopback URI to match on scheme+host+path alone (ephemeral port, per
// RFC 8252 native-app guidance). Without AllowHTTPRedirect, any http-scheme
// redirect_uri is rejected.
func (s *Server) resolveRedirectURI(client storage.ClientMetadata, presented string) (string, error) {
	if presented == "" {
		if len(client.RedirectURIs) != 1 {
			return "", fmt.Errorf("redirect_uri is required")
		}
		presented = client.RedirectURIs[0]
	}
	if !s.allowHTTPRedirect && strings.HasPrefix(strings.ToLower(presented), "http:") {
		return "", fmt.Errorf("http redirect_uri requires AllowHTTPRedirect")
	}
	for _, registered := range client.RedirectURIs {
		if presented == registered {
			return presented, nil
		}
	}
	if s.allowHTTPRedirect {
		if ok, err := loopbackMatch(client.RedirectURIs, presented); ok && err == nil {
			return presented, nil
		}
	}
	return "", fmt.Errorf("redirect_uri does not match any registered URI")
}

func loopbackMatch(registered []string, presented string) (bool, error) {
	p, err := url.Parse(presented)
	if err != nil {
		return false, err
	}
	host := p.Hostname()
	if host != "127.0.0.1" && host != "::1" && host != "localhost" {
		return false, nil
	}
	for _, reg := range registered {
		r, err := url.Parse(reg)
		if err != nil {
			continue
		}
		if r.Scheme == p.Scheme && r.Hostname() == p.Hostname() && r.Path == p.Path {
			return true, nil
		}
	}
	return false, nil
}

// checkModeCompat forbids the OAuth 2.0 Security BCP combination of a
// plain query response for a flow that returns a token directly in the
// redirect (implicit or hybrid), independent of JARM-wrapping.
func checkModeCompat(responseMode string, responseTypes []string) error {
	base, _, err := splitResponseMode(responseMode)
	if err != nil {
		return err
	}
	if base == "" {
		base = defaultVariant(responseTypes)
	}
	issuesToken := contains(responseTypes, "id_token") || contains(responseTypes, "token")
	if issuesToken && base == variantQuery {
		return fmt.Errorf("response_mode=query is not permitted when response_type returns a token")
	}
	return nil
}
