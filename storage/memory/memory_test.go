package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dexidp/dex/storage"
)

func TestShardedPutConsumeIsSingleUse(t *testing.T) {
	now := time.Now()
	s := NewSharded[string](4, func() time.Time { return now })

	require.NoError(t, s.Put("key-1", "value-1", time.Minute))

	v, err := s.Consume("key-1")
	require.NoError(t, err)
	require.Equal(t, "value-1", v)

	_, err = s.Consume("key-1")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestShardedPutRejectsCollisionWhileUnexpired(t *testing.T) {
	now := time.Now()
	s := NewSharded[string](4, func() time.Time { return now })

	require.NoError(t, s.Put("key-1", "value-1", time.Minute))
	err := s.Put("key-1", "value-2", time.Minute)
	require.ErrorIs(t, err, storage.ErrAlreadyExists)
}

func TestShardedPutOverwritesExpiredEntry(t *testing.T) {
	current := time.Now()
	s := NewSharded[string](4, func() time.Time { return current })

	require.NoError(t, s.Put("key-1", "value-1", time.Second))
	current = current.Add(2 * time.Second)

	require.NoError(t, s.Put("key-1", "value-2", time.Minute))
	v, err := s.Get("key-1")
	require.NoError(t, err)
	require.Equal(t, "value-2", v)
}

func TestShardedGetDoesNotConsume(t *testing.T) {
	now := time.Now()
	s := NewSharded[string](4, func() time.Time { return now })
	require.NoError(t, s.Put("key-1", "value-1", time.Minute))

	_, err := s.Get("key-1")
	require.NoError(t, err)
	v, err := s.Get("key-1")
	require.NoError(t, err)
	require.Equal(t, "value-1", v)
}

func TestShardedGetExpired(t *testing.T) {
	current := time.Now()
	s := NewSharded[string](4, func() time.Time { return current })
	require.NoError(t, s.Put("key-1", "value-1", time.Second))
	current = current.Add(2 * time.Second)

	_, err := s.Get("key-1")
	require.ErrorIs(t, err, storage.ErrExpired)

	// the expired entry was evicted, so a subsequent lookup is NotFound.
	_, err = s.Get("key-1")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestShardedDelete(t *testing.T) {
	now := time.Now()
	s := NewSharded[string](4, func() time.Time { return now })
	require.NoError(t, s.Put("key-1", "value-1", time.Minute))
	s.Delete("key-1")
	_, err := s.Get("key-1")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestShardedSweepRemovesOnlyExpired(t *testing.T) {
	current := time.Now()
	s := NewSharded[string](4, func() time.Time { return current })
	require.NoError(t, s.Put("expires-soon", "v1", time.Second))
	require.NoError(t, s.Put("lives-on", "v2", time.Hour))

	current = current.Add(2 * time.Second)
	removed := s.Sweep()
	require.Equal(t, 1, removed)

	_, err := s.Get("lives-on")
	require.NoError(t, err)
}

func TestShardedShardIndexStable(t *testing.T) {
	s := NewSharded[string](8, time.Now)
	i1 := s.ShardIndex("some-key")
	i2 := s.ShardIndex("some-key")
	require.Equal(t, i1, i2)
	require.GreaterOrEqual(t, i1, 0)
	require.Less(t, i1, s.ShardCount())
}

func TestNewShardedClampsShardCount(t *testing.T) {
	s := NewSharded[string](0, time.Now)
	require.Equal(t, 1, s.ShardCount())
}
