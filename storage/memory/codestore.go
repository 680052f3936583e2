package memory

import (
	"context"
	"time"

	"github.com/dexidp/dex/storage"
)

// CodeStore is the authorization code store: single-use, short-TTL,
// sharded by a stable hash of the code value itself.
type CodeStore struct {
	shards *Sharded[storage.AuthorizationCode]
}

var _ storage.AuthorizationCodeStore = (*CodeStore)(nil)

// NewCodeStore returns a CodeStore partitioned across shardCount shards.
func NewCodeStore(shardCount int, now func() time.Time) *CodeStore {
	return &CodeStore{shards: NewSharded[storage.AuthorizationCode](shardCount, now)}
}

func (c *CodeStore) PutAuthorizationCode(_ context.Context, code string, rec storage.AuthorizationCode) error {
	ttl := time.Until(rec.Expiry)
	if ttl <= 0 {
		ttl = time.Second
	}
	return c.shards.Put(code, rec, ttl)
}

func (c *CodeStore) ConsumeAuthorizationCode(_ context.Context, code string) (storage.AuthorizationCode, error) {
	return c.shards.Consume(code)
}

// Sweep evicts expired codes; callers run this periodically.
func (c *CodeStore) Sweep() int { return c.shards.Sweep() }
