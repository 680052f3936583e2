package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dexidp/dex/storage"
)

func TestSessionStorePutGetRoundTrip(t *testing.T) {
	store := NewSessionStore(4, time.Now)
	id := store.NewSessionID("user-1")

	sess := storage.Session{ID: id, UserID: "user-1"}
	require.NoError(t, store.PutSession(context.Background(), sess, time.Minute))

	got, err := store.GetSession(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, "user-1", got.UserID)

	// Get does not consume: a second lookup still succeeds.
	_, err = store.GetSession(context.Background(), id)
	require.NoError(t, err)
}

func TestSessionStoreDeleteSession(t *testing.T) {
	store := NewSessionStore(4, time.Now)
	id := store.NewSessionID("user-1")
	require.NoError(t, store.PutSession(context.Background(), storage.Session{ID: id}, time.Minute))

	store.DeleteSession(id)
	_, err := store.GetSession(context.Background(), id)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSessionIDEncodesShardIndex(t *testing.T) {
	store := NewSessionStore(8, time.Now)
	id := store.NewSessionID("user-1")

	idx, ok := ShardIndexOf(id)
	require.True(t, ok)
	require.Equal(t, store.shards.ShardIndex("user-1"), idx)
}

func TestShardIndexOfRejectsMalformedID(t *testing.T) {
	_, ok := ShardIndexOf("not-a-sharded-id")
	require.False(t, ok)
}
