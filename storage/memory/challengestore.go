package memory

import (
	"context"
	"time"

	"github.com/dexidp/dex/storage"
)

// ChallengeStore holds interaction challenges (login, reauth, consent).
type ChallengeStore struct {
	shards *Sharded[storage.Challenge]
}

var _ storage.ChallengeStore = (*ChallengeStore)(nil)

func NewChallengeStore(shardCount int, now func() time.Time) *ChallengeStore {
	return &ChallengeStore{shards: NewSharded[storage.Challenge](shardCount, now)}
}

func (c *ChallengeStore) PutChallenge(_ context.Context, ch storage.Challenge, ttl time.Duration) error {
	return c.shards.Put(ch.ID, ch, ttl)
}

// ConsumeChallenge consumes the challenge unconditionally (to make replay
// detection unambiguous) then asserts its type; a type mismatch is reported
// as storage.ErrNotFound since the challenge id, as presented, is not a
// valid challenge of the requested type.
func (c *ChallengeStore) ConsumeChallenge(_ context.Context, id string, typ storage.ChallengeType) (storage.Challenge, error) {
	ch, err := c.shards.Consume(id)
	if err != nil {
		return storage.Challenge{}, err
	}
	if ch.Type != typ {
		return storage.Challenge{}, storage.ErrNotFound
	}
	return ch, nil
}

func (c *ChallengeStore) Sweep() int { return c.shards.Sweep() }
