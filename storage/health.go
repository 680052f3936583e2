package storage

import (
	"context"
	"fmt"
	"time"
)

// NewChallengeStoreHealthCheckFunc returns a go-sundheit health check that
// round-trips a disposable challenge through the given ChallengeStore,
// proving both the put and consume paths are live.
func NewChallengeStoreHealthCheckFunc(s ChallengeStore, now func() time.Time) func(context.Context) (interface{}, error) {
	return func(ctx context.Context) (interface{}, error) {
		c := Challenge{
			ID:     NewID(),
			Type:   ChallengeLogin,
			Expiry: now().Add(time.Minute),
		}
		if err := s.PutChallenge(ctx, c, time.Minute); err != nil {
			return nil, fmt.Errorf("put challenge: %w", err)
		}
		if _, err := s.ConsumeChallenge(ctx, c.ID, ChallengeLogin); err != nil {
			return nil, fmt.Errorf("consume challenge: %w", err)
		}
		return nil, nil
	}
}
