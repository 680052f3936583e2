package server

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/dexidp/dex/cryptoutil"
	"github.com/dexidp/dex/signer"
	"github.com/dexidp/dex/storage"
)

// finishAuthorize implements spec §4.6/§4.7: mint whichever of
// code/access_token/id_token the response_type calls for, attach
// session_state when derivable, and dispatch through the response
// formatter. This is the terminal step once validation, session
// resolution, and consent have all cleared.
func (s *Server) finishAuthorize(ctx context.Context, w http.ResponseWriter, r *http.Request, req storage.AuthorizationRequest, client storage.ClientMetadata, sess storage.Session) error {
	s.autoRecordConsent(ctx, sess, client, req, s.now())

	variant, jarm, err := resolveVariant(req.ResponseMode, req.ResponseType)
	if err != nil {
		return newRedirectedErr(client, req.RedirectURI, req.ResponseMode, req.ResponseType, req.State, errInvalidRequest, "%v", err)
	}

	params := url.Values{}
	if req.State != "" {
		params.Set("state", req.State)
	}

	var code, accessToken string

	if contains(req.ResponseType, "code") {
		code, err = s.issueCode(r, req, client, sess)
		if err != nil {
			return fmt.Errorf("issue authorization code: %w", err)
		}
		params.Set("code", code)
	}

	if contains(req.ResponseType, "token") || contains(req.ResponseType, "id_token") {
		key, alg, err := signer.ActivePrivateKey(ctx, s.signer)
		if err != nil {
			return fmt.Errorf("get active signing key: %w", err)
		}

		if contains(req.ResponseType, "token") {
			accessToken, _, err = cryptoutil.NewAccessToken(key, alg, s.issuerURL.String(), sess.Claims, req.Scope, client.ID, s.now())
			if err != nil {
				return fmt.Errorf("mint access token: %w", err)
			}
			params.Set("access_token", accessToken)
			params.Set("token_type", "Bearer")
			params.Set("expires_in", strconv.Itoa(int(s.accessTokenValidFor.Seconds())))
		}

		if contains(req.ResponseType, "id_token") {
			idToken, _, err := cryptoutil.NewIDToken(key, alg, cryptoutil.IDTokenParams{
				Issuer:        s.issuerURL.String(),
				ClientID:      client.ID,
				Claims:        sess.Claims,
				Scope:         req.Scope,
				Nonce:         req.Nonce,
				AuthTime:      effectiveAuthTime(sess, req),
				SID:           sess.ID,
				Code:          code,
				AccessToken:   accessToken,
				IDTokenClaims: req.Claims["id_token"],
				ValidFor:      s.idTokenValidFor,
			}, s.now())
			if err != nil {
				return fmt.Errorf("mint id token: %w", err)
			}
			params.Set("id_token", idToken)
		}
	}

	if state, ok := sessionState(client.ID, req.RedirectURI, sess.ID); ok {
		params.Set("session_state", state)
	}

	if err := s.emit(ctx, w, r, client, req.RedirectURI, variant, jarm, params); err != nil {
		return fmt.Errorf("emit authorization response: %w", err)
	}
	return nil
}
