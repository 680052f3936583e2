package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dexidp/dex/jar"
	"github.com/dexidp/dex/par"
	"github.com/dexidp/dex/signer"
	"github.com/dexidp/dex/storage"
)

func splitSpace(v string) []string {
	if v == "" {
		return nil
	}
	return strings.Fields(v)
}

// parseDraftRequest assembles a draft AuthorizationRequest from whichever
// side of the call (GET query or POST form) a parameter appears on, per
// spec §4.1. Continuation fields (_confirmed, _auth_time, _session_id,
// _consent_confirmed) are restored here too, since the internal redirect
// issued by the challenge callbacks round-trips them as ordinary query
// parameters. _session_id carries a session ID for direct lookup.
func parseDraftRequest(values url.Values) (storage.AuthorizationRequest, error) {
	req := storage.AuthorizationRequest{
		ClientID:            values.Get("client_id"),
		RedirectURI:         values.Get("redirect_uri"),
		State:               values.Get("state"),
		Nonce:               values.Get("nonce"),
		CodeChallenge:       values.Get("code_challenge"),
		CodeChallengeMethod: values.Get("code_challenge_method"),
		ResponseMode:        values.Get("response_mode"),
		IDTokenHint:         values.Get("id_token_hint"),
		ACRValues:           values.Get("acr_values"),
		Display:             values.Get("display"),
		UILocales:           values.Get("ui_locales"),
		LoginHint:           values.Get("login_hint"),
		OrgID:               values.Get("org_id"),
		ActingAs:            values.Get("acting_as"),
	}
	if rt := values.Get("response_type"); rt != "" {
		req.ResponseType = splitSpace(rt)
	}
	if sc := values.Get("scope"); sc != "" {
		req.Scope = splitSpace(sc)
	}
	if p := values.Get("prompt"); p != "" {
		req.Prompt = splitSpace(p)
	}
	if ma := values.Get("max_age"); ma != "" {
		n, err := strconv.ParseInt(ma, 10, 64)
		if err != nil {
			return req, fmt.Errorf("invalid max_age: %w", err)
		}
		req.MaxAge = &n
	}
	if c := values.Get("claims"); c != "" {
		parsed, err := parseClaimsParam(c)
		if err != nil {
			return req, err
		}
		req.Claims = parsed
	}

	req.Confirmed = values.Get("_confirmed") == "true"
	if at := values.Get("_auth_time"); at != "" {
		if n, err := strconv.ParseInt(at, 10, 64); err == nil {
			req.AuthTime = time.Unix(n, 0)
		}
	}
	req.SessionID = values.Get("_session_id")
	req.ConsentConfirmed = values.Get("_consent_confirmed") == "true"
	return req, nil
}

// parseClaimsParam decodes the claims request parameter (spec §3): a JSON
// object whose recognized keys are "userinfo" and "id_token", each itself
// an object.
func parseClaimsParam(raw string) (map[string]map[string]interface{}, error) {
	var generic map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &generic); err != nil {
		return nil, fmt.Errorf("invalid claims parameter: %w", err)
	}
	out := make(map[string]map[string]interface{}, len(generic))
	for k, v := range generic {
		obj, ok := v.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("claims.%s must be an object", k)
		}
		out[k] = obj
	}
	return out, nil
}

// mergeJARClaims overlays claims (from a verified JAR request object) onto
// draft, field by field, per spec §4.1/§9: "JAR merge is a function
// (draft, jar) -> merged with explicit field-by-field precedence" — every
// field present in claims wins.
func mergeJARClaims(draft storage.AuthorizationRequest, claims map[string]interface{}) (storage.AuthorizationRequest, error) {
	str := func(k string) (string, bool) {
		v, ok := claims[k]
		if !ok {
			return "", false
		}
		s, ok := v.(string)
		return s, ok
	}

	if v, ok := str("client_id"); ok {
		draft.ClientID = v
	}
	if v, ok := str("redirect_uri"); ok {
		draft.RedirectURI = v
	}
	if v, ok := str("response_type"); ok {
		draft.ResponseType = splitSpace(v)
	}
	if v, ok := str("scope"); ok {
		draft.Scope = splitSpace(v)
	}
	if v, ok := str("state"); ok {
		draft.State = v
	}
	if v, ok := str("nonce"); ok {
		draft.Nonce = v
	}
	if v, ok := str("code_challenge"); ok {
		draft.CodeChallenge = v
	}
	if v, ok := str("code_challenge_method"); ok {
		draft.CodeChallengeMethod = v
	}
	if v, ok := str("response_mode"); ok {
		draft.ResponseMode = v
	}
	if v, ok := str("prompt"); ok {
		draft.Prompt = splitSpace(v)
	}
	if v, ok := str("id_token_hint"); ok {
		draft.IDTokenHint = v
	}
	if v, ok := str("acr_values"); ok {
		draft.ACRValues = v
	}
	if v, ok := str("display"); ok {
		draft.Display = v
	}
	if v, ok := str("ui_locales"); ok {
		draft.UILocales = v
	}
	if v, ok := str("login_hint"); ok {
		draft.LoginHint = v
	}
	if v, ok := str("org_id"); ok {
		draft.OrgID = v
	}
	if v, ok := str("acting_as"); ok {
		draft.ActingAs = v
	}
	if v, ok := claims["max_age"]; ok {
		switch n := v.(type) {
		case float64:
			i := int64(n)
			draft.MaxAge = &i
		case string:
			if i, err := strconv.ParseInt(n, 10, 64); err == nil {
				draft.MaxAge = &i
			}
		}
	}
	if v, ok := claims["claims"]; ok {
		obj, ok := v.(map[string]interface{})
		if !ok {
			return draft, fmt.Errorf("request object claims must be an object")
		}
		parsed := make(map[string]map[string]interface{}, len(obj))
		for k, vv := range obj {
			m, ok := vv.(map[string]interface{})
			if !ok {
				return draft, fmt.Errorf("request object claims.%s must be an object", k)
			}
			parsed[k] = m
		}
		draft.Claims = parsed
	}
	return draft, nil
}

// resolveRequest implements spec §4.1: it assembles the draft request and
// resolves PAR and/or JAR indirection, returning the fully merged request
// plus whatever ClientMetadata resolves for its client_id (possibly the
// zero value, if the client cannot be found — the validator reports that).
func (s *Server) resolveRequest(ctx context.Context, values url.Values) (req storage.AuthorizationRequest, client storage.ClientMetadata, clientFound, fromPAR bool, err error) {
	draft, perr := parseDraftRequest(values)
	if perr != nil {
		return draft, client, false, false, newDisplayedJSONErr(http.StatusBadRequest, errInvalidRequest, "%v", perr)
	}

	requestURI := values.Get("request_uri")
	inline := values.Get("request")

	switch {
	case requestURI != "" && par.IsPARURN(requestURI):
		resolved, rerr := par.Resolve(ctx, s.pars, draft.ClientID, requestURI)
		if rerr != nil {
			return draft, client, false, false, newDisplayedJSONErr(http.StatusBadRequest, errInvalidRequest, "request_uri: %v", rerr)
		}
		draft = resolved
		fromPAR = true

	case requestURI != "":
		// HTTPS request_uri: fetched body is processed as a JAR token, not
		// reinterpreted as a PAR record, per spec §9's open question.
		if s.fetcher == nil {
			return draft, client, false, false, newDisplayedJSONErr(http.StatusBadRequest, errRequestURINotSupported, "https request_uri is not supported")
		}
		body, ferr := s.fetcher.FetchRequestURI(ctx, requestURI)
		if ferr != nil {
			return draft, client, false, false, translateJARErr(ferr)
		}
		hintClient, _ := s.clients.GetClient(ctx, draft.ClientID)
		claims, rerr := s.jar.Resolve(ctx, body, hintClient, s.serverDecryptKey(ctx))
		if rerr != nil {
			return draft, client, false, false, translateJARErr(rerr)
		}
		merged, merr := mergeAndCheckJAR(draft, claims)
		if merr != nil {
			return draft, client, false, false, merr
		}
		draft = merged

	case inline != "":
		hintClient, _ := s.clients.GetClient(ctx, draft.ClientID)
		claims, rerr := s.jar.Resolve(ctx, inline, hintClient, s.serverDecryptKey(ctx))
		if rerr != nil {
			return draft, client, false, false, translateJARErr(rerr)
		}
		merged, merr := mergeAndCheckJAR(draft, claims)
		if merr != nil {
			return draft, client, false, false, merr
		}
		draft = merged
	}

	if draft.ClientID != "" {
		if c, cerr := s.clients.GetClient(ctx, draft.ClientID); cerr == nil {
			client = c
			clientFound = true
		}
	}
	return draft, client, clientFound, fromPAR, nil
}

// mergeAndCheckJAR merges JAR claims onto draft and enforces the two
// cross-checks spec §4.1 calls out: a request object must carry
// redirect_uri, and it must agree with any redirect_uri also present in
// the query.
func mergeAndCheckJAR(draft storage.AuthorizationRequest, claims map[string]interface{}) (storage.AuthorizationRequest, error) {
	queryRedirectURI := draft.RedirectURI
	merged, err := mergeJARClaims(draft, claims)
	if err != nil {
		return draft, newDisplayedJSONErr(http.StatusBadRequest, errInvalidRequestObject, "%v", err)
	}
	if merged.RedirectURI == "" {
		return draft, newDisplayedJSONErr(http.StatusBadRequest, errInvalidRequestObject, "request object is missing redirect_uri")
	}
	if queryRedirectURI != "" && queryRedirectURI != merged.RedirectURI {
		return draft, newDisplayedJSONErr(http.StatusBadRequest, errInvalidRequest, "redirect_uri in query does not match request object")
	}
	return merged, nil
}

// translateJARErr maps a *jar.ResolveError (or *ResolveError from the
// Fetcher, which shares the type) onto the JSON-400/500 surface spec §4.1
// prescribes for parser failures — redirect_uri has not been validated
// yet, so none of these can be redirected.
func translateJARErr(err error) error {
	var re *jar.ResolveError
	if errors.As(err, &re) {
		status := http.StatusBadRequest
		if re.Code == errServerError {
			status = http.StatusInternalServerError
		}
		return newDisplayedJSONErr(status, re.Code, "%s", re.Msg)
	}
	return newDisplayedJSONErr(http.StatusBadRequest, errInvalidRequestObject, "%v", err)
}

// serverDecryptKey returns the AS's own active private key, used to decrypt
// a JAR request object (or id_token_hint) that was encrypted to the
// server rather than merely signed.
func (s *Server) serverDecryptKey(ctx context.Context) interface{} {
	key, _, err := signer.ActivePrivateKey(ctx, s.signer)
	if err != nil {
		return nil
	}
	return key
}
