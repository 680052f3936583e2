package server

import (
	"context"
	"time"

	"github.com/dexidp/dex/storage"
)

// consentRequired implements spec §4.4's consent gate: clients that are
// both trusted and marked to skip consent, and requests that already
// carry a matching prior grant, never prompt; prompt=consent always
// does, independent of any prior grant; otherwise a grant is required
// only once per (user, client, scope superset).
func (s *Server) consentRequired(ctx context.Context, sess storage.Session, client storage.ClientMetadata, req storage.AuthorizationRequest, now time.Time) bool {
	if req.ConsentConfirmed {
		return false
	}
	if contains(req.Prompt, "consent") {
		return true
	}
	if client.IsTrusted && client.SkipConsent {
		return false
	}
	rec, err := s.consent.FindConsent(ctx, sess.UserID, client.ID)
	if err != nil {
		return true
	}
	if rec.ExpiresAt != nil && now.After(*rec.ExpiresAt) {
		return true
	}
	granted := scopeSet(rec.Scope)
	for _, sc := range req.Scope {
		if !granted[sc] {
			return true
		}
	}
	return false
}

// autoRecordConsent persists a grant for trusted clients and for consent the
// user just gave explicitly, when the configured ConsentStore supports
// writes. A ConsentStore that doesn't implement ConsentWriter simply never
// gets an automatic record and every authorization reconfirms.
func (s *Server) autoRecordConsent(ctx context.Context, sess storage.Session, client storage.ClientMetadata, req storage.AuthorizationRequest, now time.Time) {
	writer, ok := s.consent.(storage.ConsentWriter)
	if !ok {
		return
	}
	rec := storage.ConsentRecord{
		UserID:    sess.UserID,
		ClientID:  client.ID,
		Scope:     req.Scope,
		GrantedAt: now,
	}
	_ = writer.PutConsent(ctx, rec)
}
