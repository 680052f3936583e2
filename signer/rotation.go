package signer

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/go-jose/go-jose/v4"

	"github.com/dexidp/dex/storage"
)

var errAlreadyRotated = errors.New("keys already rotated by another server instance")

// rotationStrategy describes how often to generate a new signing key and
// how long a rotated-out key remains valid for signature verification.
type rotationStrategy struct {
	rotationFrequency time.Duration
	idTokenValidFor   time.Duration
	key               func() (*rsa.PrivateKey, error)
}

// defaultRotationStrategy rotates RSA-2048 keys every rotationFrequency,
// retaining rotated-out public keys for idTokenValidFor.
func defaultRotationStrategy(rotationFrequency, idTokenValidFor time.Duration) rotationStrategy {
	return rotationStrategy{
		rotationFrequency: rotationFrequency,
		idTokenValidFor:   idTokenValidFor,
		key: func() (*rsa.PrivateKey, error) {
			return rsa.GenerateKey(rand.Reader, 2048)
		},
	}
}

// staticRotationStrategy never rotates, useful for tests pinning a fixed key.
func staticRotationStrategy(key *rsa.PrivateKey) rotationStrategy {
	return rotationStrategy{
		rotationFrequency: time.Hour * 8760 * 100,
		idTokenValidFor:   time.Hour * 8760 * 100,
		key:               func() (*rsa.PrivateKey, error) { return key, nil },
	}
}

// keyRotator rotates the signing key held by a storage.KeyManager once the
// current key's NextRotation has elapsed.
type keyRotator struct {
	manager  storage.KeyManager
	strategy rotationStrategy
	now      func() time.Time
	logger   *slog.Logger
}

func (k keyRotator) rotate(ctx context.Context) error {
	keys, err := k.manager.GetKeys(ctx)
	if err != nil {
		return fmt.Errorf("get keys: %w", err)
	}
	if k.now().Before(keys.NextRotation) {
		return nil
	}
	k.logger.Info("signing keys expired, rotating")

	key, err := k.strategy.key()
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	b := make([]byte, 20)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return fmt.Errorf("generate key id: %w", err)
	}
	keyID := hex.EncodeToString(b)

	priv := &jose.JSONWebKey{Key: key, KeyID: keyID, Algorithm: "RS256", Use: "sig"}
	pub := &jose.JSONWebKey{Key: key.Public(), KeyID: keyID, Algorithm: "RS256", Use: "sig"}

	var nextRotation time.Time
	err = k.manager.UpdateKeys(ctx, func(keys storage.Keys) (storage.Keys, error) {
		tNow := k.now()
		if tNow.Before(keys.NextRotation) {
			return storage.Keys{}, errAlreadyRotated
		}

		n := 0
		for _, vk := range keys.VerificationKeys {
			if !tNow.After(vk.Expiry) {
				keys.VerificationKeys[n] = vk
				n++
			}
		}
		keys.VerificationKeys = keys.VerificationKeys[:n]

		if keys.SigningKeyPub != nil {
			keys.VerificationKeys = append(keys.VerificationKeys, storage.VerificationKey{
				PublicKey: keys.SigningKeyPub,
				Expiry:    tNow.Add(k.strategy.idTokenValidFor),
			})
		}

		nextRotation = tNow.Add(k.strategy.rotationFrequency)
		keys.SigningKey = priv
		keys.SigningKeyPub = pub
		keys.NextRotation = nextRotation
		return keys, nil
	})
	if err != nil {
		return err
	}
	k.logger.Info("signing keys rotated", "next_rotation", nextRotation)
	return nil
}
