package memory

import (
	"context"
	"time"

	"github.com/dexidp/dex/storage"
)

// DPoPJtiStore remembers DPoP proof jti values for the configured replay
// window. MarkSeen is a Put that reports AlreadySeen instead of failing,
// since a DPoP replay is not an error for the caller to propagate as a
// store fault — it's the very condition being tested for.
type DPoPJtiStore struct {
	shards *Sharded[struct{}]
}

var _ storage.DPoPJtiStore = (*DPoPJtiStore)(nil)

func NewDPoPJtiStore(shardCount int, now func() time.Time) *DPoPJtiStore {
	return &DPoPJtiStore{shards: NewSharded[struct{}](shardCount, now)}
}

func (d *DPoPJtiStore) MarkSeen(_ context.Context, jti string, ttl time.Duration) (bool, error) {
	if err := d.shards.Put(jti, struct{}{}, ttl); err != nil {
		if err == storage.ErrAlreadyExists {
			return true, nil
		}
		return false, err
	}
	return false, nil
}

func (d *DPoPJtiStore) Sweep() int { return d.shards.Sweep() }
