package signer

import (
	"context"
	"crypto/rsa"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-jose/go-jose/v4"

	"github.com/dexidp/dex/cryptoutil"
	"github.com/dexidp/dex/storage"
)

// LocalConfig configures the process-local signer: an RSA key pair held in
// a storage.KeyManager and rotated on a fixed schedule, exactly the model
// dexidp/dex's localSigner uses, generalized to depend on the narrower
// KeyManager collaborator interface instead of the full storage.Storage.
type LocalConfig struct {
	// KeysRotationPeriod is a time.ParseDuration string, e.g. "6h".
	KeysRotationPeriod string
}

// Open constructs a Signer backed by manager, rotating keys every
// KeysRotationPeriod and retaining rotated-out keys for idTokenValidFor.
func (c *LocalConfig) Open(manager storage.KeyManager, idTokenValidFor time.Duration, now func() time.Time, logger *slog.Logger) (Signer, error) {
	period := c.KeysRotationPeriod
	if period == "" {
		period = "6h"
	}
	rotateAfter, err := time.ParseDuration(period)
	if err != nil {
		return nil, fmt.Errorf("invalid keys rotation period %q: %w", period, err)
	}
	if now == nil {
		now = time.Now
	}
	strategy := defaultRotationStrategy(rotateAfter, idTokenValidFor)
	return &localSigner{
		manager:  manager,
		rotator:  keyRotator{manager, strategy, now, logger},
		logger:   logger,
	}, nil
}

// OpenStatic returns a Signer pinned to a fixed RSA key, never rotating. It
// is meant for tests that need a stable kid/key across assertions.
func OpenStatic(manager storage.KeyManager, key *rsa.PrivateKey, now func() time.Time, logger *slog.Logger) Signer {
	if now == nil {
		now = time.Now
	}
	return &localSigner{
		manager: manager,
		rotator: keyRotator{manager, staticRotationStrategy(key), now, logger},
		logger:  logger,
	}
}

// localSigner signs payloads using the key currently held by manager,
// rotating it on a timer.
type localSigner struct {
	manager storage.KeyManager
	rotator keyRotator
	logger  *slog.Logger
}

// Start rotates immediately (so a fresh manager has keys before Sign is
// ever called) then every 30 seconds thereafter, matching the cadence
// dexidp/dex polls rotation at regardless of the configured period.
func (l *localSigner) Start(ctx context.Context) {
	if err := l.rotator.rotate(ctx); err != nil {
		if err == errAlreadyRotated {
			l.logger.Info("key rotation not needed", "err", err)
		} else {
			l.logger.Error("failed to rotate signing keys", "err", err)
		}
	}

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := l.rotator.rotate(ctx); err != nil && err != errAlreadyRotated {
					l.logger.Error("failed to rotate signing keys", "err", err)
				}
			}
		}
	}()
}

func (l *localSigner) Sign(ctx context.Context, payload []byte) (string, error) {
	keys, err := l.manager.GetKeys(ctx)
	if err != nil {
		return "", fmt.Errorf("get keys: %w", err)
	}
	if keys.SigningKey == nil {
		return "", fmt.Errorf("no key to sign payload with")
	}
	alg, err := cryptoutil.SignatureAlgorithm(keys.SigningKey)
	if err != nil {
		return "", err
	}
	return cryptoutil.SignPayload(keys.SigningKey, alg, payload)
}

func (l *localSigner) ValidationKeys(ctx context.Context) ([]*jose.JSONWebKey, error) {
	keys, err := l.manager.GetKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("get keys: %w", err)
	}
	if keys.SigningKeyPub == nil {
		return nil, fmt.Errorf("no public keys found")
	}
	jwks := make([]*jose.JSONWebKey, 0, len(keys.VerificationKeys)+1)
	jwks = append(jwks, keys.SigningKeyPub)
	for _, vk := range keys.VerificationKeys {
		jwks = append(jwks, vk.PublicKey)
	}
	return jwks, nil
}

func (l *localSigner) Algorithm(ctx context.Context) (jose.SignatureAlgorithm, error) {
	keys, err := l.manager.GetKeys(ctx)
	if err != nil {
		return "", fmt.Errorf("get keys: %w", err)
	}
	if keys.SigningKey == nil {
		return "", fmt.Errorf("no signing key found")
	}
	return cryptoutil.SignatureAlgorithm(keys.SigningKey)
}

// ActivePrivateKey returns the current signing key directly, used by
// components (JARM response signing, DPoP-bound code issuance) that need
// the *jose.JSONWebKey rather than just a Sign() call, per the
// KeyManager.activeWithPrivate collaborator interface in spec §6.
func ActivePrivateKey(ctx context.Context, s Signer) (*jose.JSONWebKey, jose.SignatureAlgorithm, error) {
	ls, ok := s.(*localSigner)
	if !ok {
		return nil, "", fmt.Errorf("signer does not expose raw key material")
	}
	keys, err := ls.manager.GetKeys(ctx)
	if err != nil {
		return nil, "", err
	}
	if keys.SigningKey == nil {
		return nil, "", fmt.Errorf("no signing key found")
	}
	alg, err := cryptoutil.SignatureAlgorithm(keys.SigningKey)
	return keys.SigningKey, alg, err
}
