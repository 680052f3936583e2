package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dexidp/dex/storage"
	"github.com/dexidp/dex/storage/memory"
)

func TestConsentNotRequiredWhenAlreadyConfirmedOnContinuation(t *testing.T) {
	s := &Server{consent: memory.NewConsentStore()}
	req := storage.AuthorizationRequest{ConsentConfirmed: true}
	require.False(t, s.consentRequired(context.Background(), storage.Session{}, storage.ClientMetadata{}, req, time.Now()))
}

func TestConsentRequiredWhenPromptConsentRequested(t *testing.T) {
	store := memory.NewConsentStore()
	require.NoError(t, store.PutConsent(context.Background(), storage.ConsentRecord{
		UserID: "user-1", ClientID: "client-1", Scope: []string{"openid"}, GrantedAt: time.Now(),
	}))
	s := &Server{consent: store}
	req := storage.AuthorizationRequest{Prompt: []string{"consent"}, Scope: []string{"openid"}}
	sess := storage.Session{UserID: "user-1"}
	client := storage.ClientMetadata{ID: "client-1"}
	require.True(t, s.consentRequired(context.Background(), sess, client, req, time.Now()))
}

func TestConsentNotRequiredWhenTrustedAndSkipConsentBothSet(t *testing.T) {
	s := &Server{consent: memory.NewConsentStore()}
	client := storage.ClientMetadata{ID: "client-1", IsTrusted: true, SkipConsent: true}
	req := storage.AuthorizationRequest{Scope: []string{"openid"}}
	require.False(t, s.consentRequired(context.Background(), storage.Session{}, client, req, time.Now()))
}

func TestConsentRequiredWhenOnlyTrustedSet(t *testing.T) {
	s := &Server{consent: memory.NewConsentStore()}
	client := storage.ClientMetadata{ID: "client-1", IsTrusted: true}
	sess := storage.Session{UserID: "user-1"}
	req := storage.AuthorizationRequest{Scope: []string{"openid"}}
	require.True(t, s.consentRequired(context.Background(), sess, client, req, time.Now()))
}

func TestConsentRequiredWhenOnlySkipConsentSet(t *testing.T) {
	s := &Server{consent: memory.NewConsentStore()}
	client := storage.ClientMetadata{ID: "client-1", SkipConsent: true}
	sess := storage.Session{UserID: "user-1"}
	req := storage.AuthorizationRequest{Scope: []string{"openid"}}
	require.True(t, s.consentRequired(context.Background(), sess, client, req, time.Now()))
}

func TestConsentRequiredWhenNoPriorGrant(t *testing.T) {
	s := &Server{consent: memory.NewConsentStore()}
	client := storage.ClientMetadata{ID: "client-1"}
	sess := storage.Session{UserID: "user-1"}
	req := storage.AuthorizationRequest{Scope: []string{"openid"}}
	require.True(t, s.consentRequired(context.Background(), sess, client, req, time.Now()))
}

func TestConsentNotRequiredWhenPriorGrantCoversScope(t *testing.T) {
	store := memory.NewConsentStore()
	now := time.Now()
	require.NoError(t, store.PutConsent(context.Background(), storage.ConsentRecord{
		UserID: "user-1", ClientID: "client-1", Scope: []string{"openid", "profile"}, GrantedAt: now,
	}))
	s := &Server{consent: store}
	client := storage.ClientMetadata{ID: "client-1"}
	sess := storage.Session{UserID: "user-1"}
	req := storage.AuthorizationRequest{Scope: []string{"openid"}}
	require.False(t, s.consentRequired(context.Background(), sess, client, req, now))
}

func TestConsentRequiredWhenRequestedScopeExceedsGrant(t *testing.T) {
	store := memory.NewConsentStore()
	now := time.Now()
	require.NoError(t, store.PutConsent(context.Background(), storage.ConsentRecord{
		UserID: "user-1", ClientID: "client-1", Scope: []string{"openid"}, GrantedAt: now,
	}))
	s := &Server{consent: store}
	client := storage.ClientMetadata{ID: "client-1"}
	sess := storage.Session{UserID: "user-1"}
	req := storage.AuthorizationRequest{Scope: []string{"openid", "profile"}}
	require.True(t, s.consentRequired(context.Background(), sess, client, req, now))
}

func TestConsentRequiredWhenGrantExpired(t *testing.T) {
	store := memory.NewConsentStore()
	now := time.Now()
	past := now.Add(-time.Hour)
	require.NoError(t, store.PutConsent(context.Background(), storage.ConsentRecord{
		UserID: "user-1", ClientID: "client-1", Scope: []string{"openid"}, GrantedAt: past.Add(-time.Hour), ExpiresAt: &past,
	}))
	s := &Server{consent: store}
	client := storage.ClientMetadata{ID: "client-1"}
	sess := storage.Session{UserID: "user-1"}
	req := storage.AuthorizationRequest{Scope: []string{"openid"}}
	require.True(t, s.consentRequired(context.Background(), sess, client, req, now))
}

func TestAutoRecordConsentPersistsWhenWriterAvailable(t *testing.T) {
	store := memory.NewConsentStore()
	s := &Server{consent: store}
	sess := storage.Session{UserID: "user-1"}
	client := storage.ClientMetadata{ID: "client-1"}
	req := storage.AuthorizationRequest{Scope: []string{"openid"}}
	now := time.Now()

	s.autoRecordConsent(context.Background(), sess, client, req, now)

	rec, err := store.FindConsent(context.Background(), "user-1", "client-1")
	require.NoError(t, err)
	require.Equal(t, []string{"openid"}, rec.Scope)
}
