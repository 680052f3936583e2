package memory

import (
	"context"
	"sync"

	"github.com/dexidp/dex/storage"
)

// KeyManager is the process-local, mutex-guarded holder of the active
// signing key pair and retained verification keys. It backs the signer
// package's rotation logic the same way dexidp/dex's memStorage backs
// server/rotation.go, but exposes only the narrow KeyManager interface this
// core needs rather than the full legacy Storage surface.
type KeyManager struct {
	mu   sync.Mutex
	keys storage.Keys
}

var _ storage.KeyManager = (*KeyManager)(nil)

func NewKeyManager() *KeyManager {
	return &KeyManager{}
}

func (k *KeyManager) GetKeys(_ context.Context) (storage.Keys, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.keys, nil
}

func (k *KeyManager) UpdateKeys(_ context.Context, updater func(old storage.Keys) (storage.Keys, error)) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	keys, err := updater(k.keys)
	if err != nil {
		return err
	}
	k.keys = keys
	return nil
}
