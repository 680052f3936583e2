package storage

import (
	"context"

	"golang.org/x/crypto/bcrypt"
)

// staticClientStore is a read-only ClientStore backed by a fixed, in-memory
// set of clients, typically loaded once from a config file at startup.
type staticClientStore struct {
	byID map[string]ClientMetadata
}

// WithStaticClients returns a ClientStore that only ever resolves the given
// set of clients. There is no write path; a deployment that needs dynamic
// client registration must supply its own ClientStore.
func WithStaticClients(clients []ClientMetadata) ClientStore {
	byID := make(map[string]ClientMetadata, len(clients))
	for _, c := range clients {
		byID[c.ID] = c
	}
	return staticClientStore{byID: byID}
}

func (s staticClientStore) GetClient(_ context.Context, clientID string) (ClientMetadata, error) {
	c, ok := s.byID[clientID]
	if !ok {
		return ClientMetadata{}, ErrNotFound
	}
	return c, nil
}

// VerifyClientSecret checks a presented secret against whichever form the
// client's metadata carries: a bcrypt hash takes precedence over a plaintext
// secret so production configs can avoid storing secrets in the clear.
func VerifyClientSecret(c ClientMetadata, presented string) bool {
	if len(c.ClientSecretHash) > 0 {
		return bcrypt.CompareHashAndPassword(c.ClientSecretHash, []byte(presented)) == nil
	}
	return c.ClientSecret != "" && c.ClientSecret == presented
}
