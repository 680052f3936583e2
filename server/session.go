package server

import (
	"context"
	"net/http"
	"time"

	"github.com/dexidp/dex/cryptoutil"
	"github.com/dexidp/dex/storage"
)

const sessionCookieName = "authzcore_session"

// lookupSession resolves the end-user session for a request, preferring the
// explicit continuation hint (_session_id, set on the internal redirect a
// login challenge callback issues back to /authorize) over the session
// cookie, so a request that just finished a login challenge doesn't depend
// on the cookie having round-tripped through the browser yet. id_token_hint
// is consulted last, per spec §4.3, as a fallback source of userId/authTime/
// acr when neither yields a live session.
func (s *Server) lookupSession(r *http.Request, req storage.AuthorizationRequest) (storage.Session, bool) {
	ctx := r.Context()
	if req.SessionID != "" {
		if sess, err := s.sessions.GetSession(ctx, req.SessionID); err == nil {
			return sess, true
		}
	}
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		if sess, err := s.sessions.GetSession(ctx, cookie.Value); err == nil {
			return sess, true
		}
	}
	if req.IDTokenHint != "" {
		if sess, ok := s.sessionFromIDTokenHint(ctx, req.IDTokenHint); ok {
			return sess, true
		}
	}
	return storage.Session{}, false
}

// sessionFromIDTokenHint implements spec §4.3's id_token_hint fallback: a
// previously issued ID token naming this authorization server as issuer can
// still supply userId/authTime/acr, verified against this server's own
// signing keys selected by kid. It never fabricates a session ID, since the
// hint proves only who the user previously was, not that a live session for
// them still exists.
func (s *Server) sessionFromIDTokenHint(ctx context.Context, hint string) (storage.Session, bool) {
	if s.signer == nil {
		return storage.Session{}, false
	}
	keys, err := s.signer.ValidationKeys(ctx)
	if err != nil || len(keys) == 0 {
		return storage.Session{}, false
	}
	claims, err := cryptoutil.VerifyIDTokenHint(hint, keys)
	if err != nil {
		s.logger.WarnContext(ctx, "rejecting unverifiable id_token_hint", "err", err)
		return storage.Session{}, false
	}
	sess := storage.Session{
		UserID: claims.Subject,
		Claims: storage.Claims{UserID: claims.Subject, ACR: claims.ACR},
	}
	if claims.AuthTime > 0 {
		sess.AuthTime = time.Unix(claims.AuthTime, 0)
	}
	return sess, true
}

// effectiveAuthTime reports the auth_time to embed in tokens: the session's
// recorded AuthTime, unless the request carries a fresher continuation
// AuthTime from a reauth challenge that just completed.
func effectiveAuthTime(sess storage.Session, req storage.AuthorizationRequest) time.Time {
	if !req.AuthTime.IsZero() && req.AuthTime.After(sess.AuthTime) {
		return req.AuthTime
	}
	return sess.AuthTime
}

// needsReauth implements spec §4.3's max_age and prompt=login checks: a
// session authenticates a request only if prompt didn't demand fresh
// authentication and, when max_age is set, the session's auth_time is
// still within that window.
func needsReauth(sess storage.Session, req storage.AuthorizationRequest, now time.Time) bool {
	if contains(req.Prompt, "login") && !req.Confirmed {
		return true
	}
	if req.MaxAge != nil {
		authTime := effectiveAuthTime(sess, req)
		if authTime.IsZero() || now.Sub(authTime) > time.Duration(*req.MaxAge)*time.Second {
			return true
		}
	}
	return false
}

func (s *Server) setSessionCookie(w http.ResponseWriter, sess storage.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sess.ID,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}
