package memory

import (
	"context"
	"sync"

	"github.com/dexidp/dex/storage"
)

// ConsentStore is a minimal read/write-through in-memory stand-in for the
// external, persistent consent database. This core only ever reads through
// storage.ConsentStore; the write method here exists so tests and the
// reference cmd/authzcore wiring can seed and auto-record consent without
// standing up a real database, mirroring how dex's staticPasswordsStorage
// offers a throwaway backing store for a collaborator it doesn't own.
type ConsentStore struct {
	mu      sync.Mutex
	records map[string]storage.ConsentRecord
}

var (
	_ storage.ConsentStore  = (*ConsentStore)(nil)
	_ storage.ConsentWriter = (*ConsentStore)(nil)
)

func NewConsentStore() *ConsentStore {
	return &ConsentStore{records: make(map[string]storage.ConsentRecord)}
}

func consentKey(userID, clientID string) string { return userID + "\x00" + clientID }

func (c *ConsentStore) FindConsent(_ context.Context, userID, clientID string) (storage.ConsentRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.records[consentKey(userID, clientID)]
	if !ok {
		return storage.ConsentRecord{}, storage.ErrNotFound
	}
	return r, nil
}

func (c *ConsentStore) PutConsent(_ context.Context, r storage.ConsentRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[consentKey(r.UserID, r.ClientID)] = r
	return nil
}
