package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/dexidp/dex/pkg/otel/traces"
	"github.com/dexidp/dex/storage"
)

// handleAuthorize is the single entry point for both the plain OAuth2/OIDC
// authorization endpoint and its PAR-pushed continuation, per spec §4: it
// resolves and validates the request, resolves (or challenges for) the
// end-user session and consent, and on success mints the response.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	ctx, span := traces.InstrumentHandler(r)
	defer span.End()
	stripXRemoteHeaders(r)

	if err := r.ParseForm(); err != nil {
		s.writeError(ctx, w, r, newDisplayedJSONErr(http.StatusBadRequest, errInvalidRequest, "%v", err))
		return
	}

	req, client, clientFound, fromPAR, err := s.resolveRequest(ctx, r.Form)
	if err != nil {
		s.writeError(ctx, w, r, err)
		return
	}
	if req.DPoPProof == "" {
		req.DPoPProof = r.Header.Get("DPoP")
	}

	if err := s.validateAuthRequest(ctx, req, client, clientFound, fromPAR); err != nil {
		s.writeError(ctx, w, r, err)
		return
	}

	now := s.now()
	sess, haveSession := s.lookupSession(r, req)

	switch {
	case !haveSession:
		if contains(req.Prompt, "none") {
			s.writeError(ctx, w, r, newRedirectedErr(client, req.RedirectURI, req.ResponseMode, req.ResponseType, req.State, errLoginRequired, "no active session"))
			return
		}
		s.issueChallenge(ctx, w, r, storage.ChallengeLogin, "", req)
		return

	case needsReauth(sess, req, now):
		if contains(req.Prompt, "none") {
			s.writeError(ctx, w, r, newRedirectedErr(client, req.RedirectURI, req.ResponseMode, req.ResponseType, req.State, errLoginRequired, "session requires reauthentication"))
			return
		}
		s.issueChallenge(ctx, w, r, storage.ChallengeReauth, sess.UserID, req)
		return

	case contains(req.Prompt, "select_account") && !req.Confirmed:
		s.issueChallenge(ctx, w, r, storage.ChallengeLogin, sess.UserID, req)
		return

	case s.consentRequired(ctx, sess, client, req, now):
		if contains(req.Prompt, "none") {
			s.writeError(ctx, w, r, newRedirectedErr(client, req.RedirectURI, req.ResponseMode, req.ResponseType, req.State, errConsentRequired, "consent required"))
			return
		}
		s.issueChallenge(ctx, w, r, storage.ChallengeConsent, sess.UserID, req)
		return
	}

	if err := s.finishAuthorize(ctx, w, r, req, client, sess); err != nil {
		s.writeError(ctx, w, r, err)
	}
}

// issueChallenge implements spec §4.4: it stores a single-use Challenge
// carrying the fully resolved request, then hands the interaction off to
// either the configured external UI (redirect with ?challenge_id=) or, when
// none is configured, this core's own internal stub page.
func (s *Server) issueChallenge(ctx context.Context, w http.ResponseWriter, r *http.Request, typ storage.ChallengeType, userID string, req storage.AuthorizationRequest) {
	id := storage.NewID()
	ch := storage.Challenge{
		ID:      id,
		Type:    typ,
		UserID:  userID,
		Request: req,
		Expiry:  s.now().Add(s.challengeTTL),
	}
	if err := s.challenge.PutChallenge(ctx, ch, s.challengeTTL); err != nil {
		s.writeError(ctx, w, r, err)
		return
	}

	if s.uiURL != "" {
		u, err := url.Parse(s.uiURL)
		if err != nil {
			s.writeError(ctx, w, r, err)
			return
		}
		q := u.Query()
		q.Set("challenge_id", id)
		q.Set("type", string(typ))
		u.RawQuery = q.Encode()
		http.Redirect(w, r, u.String(), http.StatusFound)
		return
	}

	switch typ {
	case storage.ChallengeLogin:
		if err := s.templates.stubInteraction(w, "Sign in", s.absURL("authorize", "login"), id); err != nil {
			s.logger.ErrorContext(ctx, "render login stub", "err", err)
		}
	case storage.ChallengeReauth:
		if err := s.templates.stubConfirm(w, "Confirm it's you", "This client requires you to reauthenticate.", s.absURL("authorize", "confirm"), id, string(typ)); err != nil {
			s.logger.ErrorContext(ctx, "render reauth stub", "err", err)
		}
	case storage.ChallengeConsent:
		detail := "This client is requesting access to: " + strings.Join(req.Scope, ", ")
		if err := s.templates.stubConfirm(w, "Authorize access", detail, s.absURL("authorize", "confirm"), id, string(typ)); err != nil {
			s.logger.ErrorContext(ctx, "render consent stub", "err", err)
		}
	}
}

// handleLoginCallback consumes a login challenge and starts a new session
// for the authenticated user, then hands the flow back to handleAuthorize
// by redirecting to /authorize with the original request's parameters plus
// the continuation hints it needs to recognize the freshly created session.
func (s *Server) handleLoginCallback(w http.ResponseWriter, r *http.Request) {
	ctx, span := traces.InstrumentHandler(r)
	defer span.End()
	stripXRemoteHeaders(r)

	if err := r.ParseForm(); err != nil {
		s.writeError(ctx, w, r, newDisplayedJSONErr(http.StatusBadRequest, errInvalidRequest, "%v", err))
		return
	}

	challengeID := r.Form.Get("challenge_id")
	userID := r.Form.Get("user_id")
	if challengeID == "" || userID == "" {
		s.writeError(ctx, w, r, newDisplayedJSONErr(http.StatusBadRequest, errInvalidRequest, "challenge_id and user_id are required"))
		return
	}

	ch, err := s.challenge.ConsumeChallenge(ctx, challengeID, storage.ChallengeLogin)
	if err != nil {
		s.writeError(ctx, w, r, newDisplayedErr(http.StatusBadRequest, errInvalidRequest, "challenge is invalid, expired, or already used"))
		return
	}

	now := s.now()
	sess := storage.Session{
		ID:        storage.NewID(),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.sessionTTL),
		AuthTime:  now,
		ClientID:  ch.Request.ClientID,
		Claims:    claimsFromForm(userID, r.Form),
	}
	if err := s.sessions.PutSession(ctx, sess, s.sessionTTL); err != nil {
		s.writeError(ctx, w, r, err)
		return
	}
	s.setSessionCookie(w, sess)

	s.continueAuthorize(w, r, ch.Request, sess, true, ch.Request.ConsentConfirmed)
}

// handleConfirmCallback consumes a reauth or consent challenge — the
// caller echoes back the challenge's own type so the atomic, unconditional-
// delete-then-typecheck ConsumeChallenge can be invoked with the right
// expected type up front, never destroying the wrong challenge on a guess.
func (s *Server) handleConfirmCallback(w http.ResponseWriter, r *http.Request) {
	ctx, span := traces.InstrumentHandler(r)
	defer span.End()
	stripXRemoteHeaders(r)

	if err := r.ParseForm(); err != nil {
		s.writeError(ctx, w, r, newDisplayedJSONErr(http.StatusBadRequest, errInvalidRequest, "%v", err))
		return
	}

	challengeID := r.Form.Get("challenge_id")
	typ := storage.ChallengeType(r.Form.Get("type"))
	if challengeID == "" || (typ != storage.ChallengeReauth && typ != storage.ChallengeConsent) {
		s.writeError(ctx, w, r, newDisplayedJSONErr(http.StatusBadRequest, errInvalidRequest, "challenge_id and a valid type are required"))
		return
	}

	ch, err := s.challenge.ConsumeChallenge(ctx, challengeID, typ)
	if err != nil {
		s.writeError(ctx, w, r, newDisplayedErr(http.StatusBadRequest, errInvalidRequest, "challenge is invalid, expired, or already used"))
		return
	}

	action := r.Form.Get("action")
	if typ == storage.ChallengeConsent && action == "deny" {
		client, _ := s.clients.GetClient(ctx, ch.Request.ClientID)
		s.writeError(ctx, w, r, newRedirectedErr(client, ch.Request.RedirectURI, ch.Request.ResponseMode, ch.Request.ResponseType, ch.Request.State, errAccessDenied, "user denied consent"))
		return
	}

	sess, ok := s.lookupSession(r, ch.Request)
	if !ok {
		s.writeError(ctx, w, r, newDisplayedErr(http.StatusBadRequest, errLoginRequired, "session no longer active"))
		return
	}

	consentConfirmed := ch.Request.ConsentConfirmed
	if typ == storage.ChallengeReauth {
		now := s.now()
		sess.AuthTime = now
		if err := s.sessions.PutSession(ctx, sess, s.sessionTTL); err != nil {
			s.writeError(ctx, w, r, err)
			return
		}
		s.setSessionCookie(w, sess)
	} else {
		consentConfirmed = true
	}

	s.continueAuthorize(w, r, ch.Request, sess, typ == storage.ChallengeReauth || ch.Request.Confirmed, consentConfirmed)
}

// continueAuthorize redirects back to /authorize carrying the resolved
// request's parameters as plain query values plus the continuation hints
// (spec §4.4): the challenge round-trip never re-enters PAR/JAR resolution,
// since req is already the fully merged request.
func (s *Server) continueAuthorize(w http.ResponseWriter, r *http.Request, req storage.AuthorizationRequest, sess storage.Session, confirmed, consentConfirmed bool) {
	req.Confirmed = confirmed
	req.ConsentConfirmed = consentConfirmed
	req.SessionID = sess.ID
	req.AuthTime = sess.AuthTime

	values := continuationValues(req)
	target := s.absURL("authorize") + "?" + values.Encode()
	http.Redirect(w, r, target, http.StatusFound)
}

func continuationValues(req storage.AuthorizationRequest) url.Values {
	v := url.Values{}
	v.Set("client_id", req.ClientID)
	v.Set("redirect_uri", req.RedirectURI)
	v.Set("response_type", strings.Join(req.ResponseType, " "))
	v.Set("scope", strings.Join(req.Scope, " "))
	if req.State != "" {
		v.Set("state", req.State)
	}
	if req.Nonce != "" {
		v.Set("nonce", req.Nonce)
	}
	if req.CodeChallenge != "" {
		v.Set("code_challenge", req.CodeChallenge)
		v.Set("code_challenge_method", req.CodeChallengeMethod)
	}
	if req.ResponseMode != "" {
		v.Set("response_mode", req.ResponseMode)
	}
	if len(req.Prompt) > 0 {
		v.Set("prompt", strings.Join(req.Prompt, " "))
	}
	if req.MaxAge != nil {
		v.Set("max_age", strconv.FormatInt(*req.MaxAge, 10))
	}
	if req.IDTokenHint != "" {
		v.Set("id_token_hint", req.IDTokenHint)
	}
	if req.ACRValues != "" {
		v.Set("acr_values", req.ACRValues)
	}
	if req.Display != "" {
		v.Set("display", req.Display)
	}
	if req.UILocales != "" {
		v.Set("ui_locales", req.UILocales)
	}
	if req.LoginHint != "" {
		v.Set("login_hint", req.LoginHint)
	}
	if req.OrgID != "" {
		v.Set("org_id", req.OrgID)
	}
	if req.ActingAs != "" {
		v.Set("acting_as", req.ActingAs)
	}
	if len(req.Claims) > 0 {
		if b, err := json.Marshal(req.Claims); err == nil {
			v.Set("claims", string(b))
		}
	}

	v.Set("_confirmed", strconv.FormatBool(req.Confirmed))
	v.Set("_consent_confirmed", strconv.FormatBool(req.ConsentConfirmed))
	v.Set("_session_id", req.SessionID)
	if !req.AuthTime.IsZero() {
		v.Set("_auth_time", strconv.FormatInt(req.AuthTime.Unix(), 10))
	}
	return v
}

// claimsFromForm builds the Claims embedded in a freshly created session
// from whatever profile fields the login surface posted alongside user_id.
// This core has no federated-identity connector of its own; a production
// deployment's login UI is expected to populate these from wherever it
// authenticates the user.
func claimsFromForm(userID string, form url.Values) storage.Claims {
	c := storage.Claims{UserID: userID}
	c.Username = form.Get("username")
	c.PreferredUsername = form.Get("preferred_username")
	c.Email = form.Get("email")
	c.EmailVerified = form.Get("email_verified") == "true"
	c.ACR = form.Get("acr")
	if groups := form.Get("groups"); groups != "" {
		c.Groups = strings.Split(groups, ",")
	}
	return c
}
