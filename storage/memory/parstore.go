package memory

import (
	"context"
	"time"

	"github.com/dexidp/dex/storage"
)

// PARStore holds pushed authorization request records. The key space is
// partitioned per client by prefixing the storage key with the client id
// that pushed the record, so ConsumePAR rejects a URN presented by any
// client other than the one that created it even if the URN itself
// collided (astronomically unlikely given the generator, but cheap to
// enforce).
type PARStore struct {
	shards *Sharded[storage.PARRecord]
}

var _ storage.PARStore = (*PARStore)(nil)

func NewPARStore(shardCount int, now func() time.Time) *PARStore {
	return &PARStore{shards: NewSharded[storage.PARRecord](shardCount, now)}
}

func partitionKey(clientID, uri string) string {
	return clientID + "\x00" + uri
}

func (p *PARStore) PutPAR(_ context.Context, uri string, rec storage.PARRecord, ttl time.Duration) error {
	return p.shards.Put(partitionKey(rec.ClientID, uri), rec, ttl)
}

func (p *PARStore) ConsumePAR(_ context.Context, clientID, uri string) (storage.PARRecord, error) {
	return p.shards.Consume(partitionKey(clientID, uri))
}

func (p *PARStore) Sweep() int { return p.shards.Sweep() }
