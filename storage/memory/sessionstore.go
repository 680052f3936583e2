package memory

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dexidp/dex/storage"
)

// SessionStore holds logged-in sessions. Unlike the single-use stores,
// sessions are looked up repeatedly for their lifetime, so Get does not
// consume. Session ids are minted in the sharded form
// "<shardIdx>_session_<random id>", where shardIdx is the shard the user id
// hashes to. The store itself places each session in the shard its full id
// hashes to, so the encoded index does not name the shard holding it.
type SessionStore struct {
	shards *Sharded[storage.Session]
}

var _ storage.SessionStore = (*SessionStore)(nil)

func NewSessionStore(shardCount int, now func() time.Time) *SessionStore {
	return &SessionStore{shards: NewSharded[storage.Session](shardCount, now)}
}

// NewSessionID mints a sharded session id for a freshly-authenticated user,
// choosing the shard by hashing userID so a given user's sessions tend to
// land on the same shard.
func (s *SessionStore) NewSessionID(userID string) string {
	idx := s.shards.ShardIndex(userID)
	return fmt.Sprintf("%d_session_%s", idx, storage.NewID())
}

// ShardIndexOf parses the shard index encoded in a session id. ok is false
// if id isn't in the expected sharded form.
func ShardIndexOf(id string) (idx int, ok bool) {
	parts := strings.SplitN(id, "_session_", 2)
	if len(parts) != 2 {
		return 0, false
	}
	n, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, false
	}
	return n, true
}

func (s *SessionStore) GetSession(_ context.Context, id string) (storage.Session, error) {
	return s.shards.Get(id)
}

func (s *SessionStore) PutSession(_ context.Context, sess storage.Session, ttl time.Duration) error {
	sh := s.shards.shardFor(sess.ID)
	sh.mu.Lock()
	sh.items[sess.ID] = entry[storage.Session]{value: sess, expiry: s.shards.now().Add(ttl)}
	sh.mu.Unlock()
	return nil
}

func (s *SessionStore) DeleteSession(id string) { s.shards.Delete(id) }

func (s *SessionStore) Sweep() int { return s.shards.Sweep() }
