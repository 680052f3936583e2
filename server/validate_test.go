package server

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dexidp/dex/storage"
)

func validClient() storage.ClientMetadata {
	return storage.ClientMetadata{ID: "client-1", RedirectURIs: []string{"https://rp.example/cb"}}
}

func validRequest() storage.AuthorizationRequest {
	return storage.AuthorizationRequest{
		ClientID:            "client-1",
		RedirectURI:         "https://rp.example/cb",
		ResponseType:        []string{"code"},
		Scope:               []string{"openid"},
		CodeChallenge:       "challenge",
		CodeChallengeMethod: "S256",
	}
}

func TestValidateAuthRequestAcceptsWellFormedCodeFlow(t *testing.T) {
	s := &Server{}
	err := s.validateAuthRequest(context.Background(), validRequest(), validClient(), true, false)
	require.NoError(t, err)
}

func TestValidateAuthRequestMissingClientID(t *testing.T) {
	s := &Server{}
	req := validRequest()
	req.ClientID = ""
	err := s.validateAuthRequest(context.Background(), req, validClient(), true, false)
	require.Error(t, err)
	var displayed *displayedAuthErr
	require.ErrorAs(t, err, &displayed)
	require.Equal(t, errInvalidRequest, displayed.Code)
}

func TestValidateAuthRequestUnknownClient(t *testing.T) {
	s := &Server{}
	err := s.validateAuthRequest(context.Background(), validRequest(), storage.ClientMetadata{}, false, false)
	require.Error(t, err)
	var displayed *displayedAuthErr
	require.ErrorAs(t, err, &displayed)
	require.Equal(t, errInvalidClient, displayed.Code)
}

func TestValidateAuthRequestBadRedirectURI(t *testing.T) {
	s := &Server{}
	req := validRequest()
	req.RedirectURI = "https://evil.example/cb"
	err := s.validateAuthRequest(context.Background(), req, validClient(), true, false)
	require.Error(t, err)
	var displayed *displayedAuthErr
	require.ErrorAs(t, err, &displayed)
	require.Equal(t, errInvalidRequest, displayed.Code)
}

func TestValidateAuthRequestRequiresPARWhenConfigured(t *testing.T) {
	s := &Server{requirePAR: true}
	err := s.validateAuthRequest(context.Background(), validRequest(), validClient(), true, false)
	require.Error(t, err)
	var redirected *redirectedAuthErr
	require.ErrorAs(t, err, &redirected)
	require.Equal(t, errInvalidRequest, redirected.Code)
}

func TestValidateAuthRequestAllowsPARWhenFromPAR(t *testing.T) {
	s := &Server{requirePAR: true}
	err := s.validateAuthRequest(context.Background(), validRequest(), validClient(), true, true)
	require.NoError(t, err)
}

func TestValidateAuthRequestRejectsPublicClientByDefault(t *testing.T) {
	s := &Server{}
	client := validClient()
	client.Public = true
	err := s.validateAuthRequest(context.Background(), validRequest(), client, true, false)
	require.Error(t, err)
	var redirected *redirectedAuthErr
	require.ErrorAs(t, err, &redirected)
	require.Equal(t, errInvalidClient, redirected.Code)
}

func TestValidateAuthRequestAllowsPublicClientWhenConfigured(t *testing.T) {
	s := &Server{allowPublicClients: true}
	client := validClient()
	client.Public = true
	err := s.validateAuthRequest(context.Background(), validRequest(), client, true, false)
	require.NoError(t, err)
}

func TestValidateAuthRequestUnsupportedResponseType(t *testing.T) {
	s := &Server{}
	req := validRequest()
	req.ResponseType = []string{"unsupported"}
	err := s.validateAuthRequest(context.Background(), req, validClient(), true, false)
	require.Error(t, err)
	var redirected *redirectedAuthErr
	require.ErrorAs(t, err, &redirected)
	require.Equal(t, errUnsupportedResponseType, redirected.Code)
}

func TestValidateAuthRequestCodeChallengeOptionalOutsideFAPIProfile(t *testing.T) {
	s := &Server{}
	req := validRequest()
	req.CodeChallenge = ""
	req.CodeChallengeMethod = ""
	err := s.validateAuthRequest(context.Background(), req, validClient(), true, false)
	require.NoError(t, err)
}

func TestValidateAuthRequestCodeChallengeRequiredUnderFAPIProfile(t *testing.T) {
	s := &Server{requirePAR: true}
	req := validRequest()
	req.CodeChallenge = ""
	req.CodeChallengeMethod = ""
	err := s.validateAuthRequest(context.Background(), req, validClient(), true, true)
	require.Error(t, err)
}

func TestValidateAuthRequestRejectsPlainCodeChallengeMethod(t *testing.T) {
	s := &Server{}
	req := validRequest()
	req.CodeChallengeMethod = "plain"
	err := s.validateAuthRequest(context.Background(), req, validClient(), true, false)
	require.Error(t, err)
}

func TestValidateAuthRequestNonceRequiredForIDToken(t *testing.T) {
	s := &Server{}
	req := validRequest()
	req.ResponseType = []string{"code", "id_token"}
	req.ResponseMode = "fragment"
	err := s.validateAuthRequest(context.Background(), req, validClient(), true, false)
	require.Error(t, err)

	req.Nonce = "abc"
	err = s.validateAuthRequest(context.Background(), req, validClient(), true, false)
	require.NoError(t, err)
}

func TestValidateAuthRequestScopeMustIncludeOpenID(t *testing.T) {
	s := &Server{}
	req := validRequest()
	req.Scope = []string{"profile"}
	err := s.validateAuthRequest(context.Background(), req, validClient(), true, false)
	require.Error(t, err)
}

func TestValidateAuthRequestRejectsPromptNoneCombination(t *testing.T) {
	s := &Server{}
	req := validRequest()
	req.Prompt = []string{"none", "login"}
	err := s.validateAuthRequest(context.Background(), req, validClient(), true, false)
	require.Error(t, err)
}

func TestValidateAuthRequestRejectsUnknownPrompt(t *testing.T) {
	s := &Server{}
	req := validRequest()
	req.Prompt = []string{"bogus"}
	err := s.validateAuthRequest(context.Background(), req, validClient(), true, false)
	require.Error(t, err)
}

func TestValidateAuthRequestRejectsQueryModeForTokenFlow(t *testing.T) {
	s := &Server{}
	req := validRequest()
	req.ResponseType = []string{"code", "token"}
	req.ResponseMode = "query"
	err := s.validateAuthRequest(context.Background(), req, validClient(), true, false)
	require.Error(t, err)
}

func TestResolveRedirectURIDefaultsToSoleRegisteredURI(t *testing.T) {
	s := &Server{}
	uri, err := s.resolveRedirectURI(validClient(), "")
	require.NoError(t, err)
	require.Equal(t, "https://rp.example/cb", uri)
}

func TestResolveRedirectURIRequiresPresentedWhenMultipleRegistered(t *testing.T) {
	s := &Server{}
	client := storage.ClientMetadata{RedirectURIs: []string{"https://a.example/cb", "https://b.example/cb"}}
	_, err := s.resolveRedirectURI(client, "")
	require.Error(t, err)
}

func TestResolveRedirectURIAllowsLoopbackWithAnyPort(t *testing.T) {
	s := &Server{allowHTTPRedirect: true}
	client := storage.ClientMetadata{RedirectURIs: []string{"http://127.0.0.1:9000/cb"}}
	uri, err := s.resolveRedirectURI(client, "http://127.0.0.1:54321/cb")
	require.NoError(t, err)
	require.Equal(t, "http://127.0.0.1:54321/cb", uri)
}

func TestResolveRedirectURILoopbackRejectedWithoutFlag(t *testing.T) {
	s := &Server{}
	client := storage.ClientMetadata{RedirectURIs: []string{"http://127.0.0.1:9000/cb"}}
	_, err := s.resolveRedirectURI(client, "http://127.0.0.1:54321/cb")
	require.Error(t, err)
}

func TestNormalizedResponseTypeToleratesOrder(t *testing.T) {
	require.Equal(t, "code id_token", normalizedResponseType([]string{"id_token", "code"}))
	require.Equal(t, "code id_token token", normalizedResponseType([]string{"token", "code", "id_token"}))
}
