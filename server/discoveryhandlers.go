package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-jose/go-jose/v4"

	"github.com/dexidp/dex/pkg/otel/traces"
)

// discovery is the OpenID Provider Configuration document, grounded on
// dexidp/dex's own discovery type and trimmed of the federated-connector
// surface (userinfo_endpoint, device_authorization_endpoint) this core
// doesn't implement, and extended with the RFC 9126/9101/9449/JARM
// advertisement fields spec §5 calls for.
type discovery struct {
	Issuer                              string   `json:"issuer"`
	Authorization                       string   `json:"authorization_endpoint"`
	Keys                                string   `json:"jwks_uri"`
	PushedAuthorizationRequestEndpoint  string   `json:"pushed_authorization_request_endpoint"`
	RequirePushedAuthorizationRequests  bool     `json:"require_pushed_authorization_requests"`
	ResponseTypesSupported              []string `json:"response_types_supported"`
	ResponseModesSupported              []string `json:"response_modes_supported"`
	SubjectTypesSupported               []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported    []string `json:"id_token_signing_alg_values_supported"`
	CodeChallengeMethodsSupported       []string `json:"code_challenge_methods_supported"`
	ScopesSupported                     []string `json:"scopes_supported"`
	ClaimsSupported                     []string `json:"claims_supported"`
	RequestParameterSupported           bool     `json:"request_parameter_supported"`
	RequestURIParameterSupported        bool     `json:"request_uri_parameter_supported"`
	RequestObjectSigningAlgValuesSupported    []string `json:"request_object_signing_alg_values_supported"`
	RequestObjectEncryptionAlgValuesSupported []string `json:"request_object_encryption_alg_values_supported"`
	AuthorizationSigningAlgValuesSupported     []string `json:"authorization_signing_alg_values_supported"`
	AuthorizationEncryptionAlgValuesSupported  []string `json:"authorization_encryption_alg_values_supported"`
	DPoPSigningAlgValuesSupported       []string `json:"dpop_signing_alg_values_supported"`
	PromptValuesSupported               []string `json:"prompt_values_supported"`
	AuthorizationResponseIssParameterSupported bool `json:"authorization_response_iss_parameter_supported"`
}

func (s *Server) constructDiscovery() discovery {
	return discovery{
		Issuer:                              s.issuerURL.String(),
		Authorization:                       s.absURL("authorize"),
		Keys:                                s.absURL("keys"),
		PushedAuthorizationRequestEndpoint:  s.absURL("authorize"),
		RequirePushedAuthorizationRequests:  s.requirePAR,
		ResponseTypesSupported:              []string{"code", "id_token", "token", "id_token token", "code id_token", "code token", "code id_token token"},
		ResponseModesSupported:              []string{"query", "fragment", "form_post", "query.jwt", "fragment.jwt", "form_post.jwt", "jwt"},
		SubjectTypesSupported:               []string{"public"},
		IDTokenSigningAlgValuesSupported:    []string{string(jose.RS256), string(jose.ES256)},
		CodeChallengeMethodsSupported:       []string{"S256"},
		ScopesSupported:                     []string{"openid", "email", "profile", "groups", "offline_access"},
		ClaimsSupported: []string{
			"iss", "sub", "aud", "iat", "exp", "auth_time", "nonce", "acr", "sid",
			"email", "email_verified", "name", "preferred_username", "groups",
		},
		RequestParameterSupported:                 true,
		RequestURIParameterSupported:               true,
		RequestObjectSigningAlgValuesSupported:     []string{"RS256", "ES256", "PS256"},
		RequestObjectEncryptionAlgValuesSupported:  []string{"RSA-OAEP", "RSA-OAEP-256", "ECDH-ES"},
		AuthorizationSigningAlgValuesSupported:     []string{"RS256", "ES256", "PS256"},
		AuthorizationEncryptionAlgValuesSupported:  []string{"RSA-OAEP", "RSA-OAEP-256", "ECDH-ES"},
		DPoPSigningAlgValuesSupported:              []string{"RS256", "ES256", "PS256"},
		PromptValuesSupported:                      []string{"none", "login", "consent", "select_account"},
		AuthorizationResponseIssParameterSupported: true,
	}
}

func (s *Server) discoveryHandler() (http.HandlerFunc, error) {
	d := s.constructDiscovery()

	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal discovery data: %v", err)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, span := traces.InstrumentHandler(r)
		defer span.End()
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Write(data)
	}), nil
}
