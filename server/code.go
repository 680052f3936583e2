package server

import (
	"net/http"

	"github.com/dexidp/dex/dpop"
	"github.com/dexidp/dex/storage"
)

// issueCode mints and stores a single-use authorization code per spec §4.6.
// A DPoP proof presented alongside the request binds the code to the
// client's key (dpop_jkt); an invalid or absent proof never fails the
// request, it just leaves the code unbound for a later bearer-style
// exchange, as the spec's DPoP section requires.
func (s *Server) issueCode(r *http.Request, req storage.AuthorizationRequest, client storage.ClientMetadata, sess storage.Session) (string, error) {
	ctx := r.Context()
	now := s.now()

	var jkt string
	if req.DPoPProof != "" {
		if thumb, err := dpop.Validate(ctx, req.DPoPProof, r.Method, s.absURL("authorize"), s.dpopJTI, now); err == nil {
			jkt = thumb
		} else {
			s.logger.WarnContext(ctx, "dropping invalid dpop proof, issuing unbound code", "err", err)
		}
	}

	code := storage.NewAuthorizationCode()
	rec := storage.AuthorizationCode{
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		UserID:              sess.UserID,
		Scope:               req.Scope,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		Nonce:               req.Nonce,
		State:               req.State,
		Claims:              sess.Claims,
		AuthTime:            effectiveAuthTime(sess, req),
		ACR:                 sess.Claims.ACR,
		DPoPJKT:             jkt,
		SessionID:           sess.ID,
		Expiry:              now.Add(s.codeTTL),
	}
	if err := s.codes.PutAuthorizationCode(ctx, code, rec); err != nil {
		return "", err
	}
	return code, nil
}
