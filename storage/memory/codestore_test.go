package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dexidp/dex/storage"
)

func TestCodeStorePutConsumeIsSingleUse(t *testing.T) {
	store := NewCodeStore(4, time.Now)
	rec := storage.AuthorizationCode{ClientID: "client-1", UserID: "user-1", Expiry: time.Now().Add(time.Minute)}

	require.NoError(t, store.PutAuthorizationCode(context.Background(), "code-1", rec))

	got, err := store.ConsumeAuthorizationCode(context.Background(), "code-1")
	require.NoError(t, err)
	require.Equal(t, "user-1", got.UserID)

	_, err = store.ConsumeAuthorizationCode(context.Background(), "code-1")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCodeStorePutWithPastExpiryClampsTTL(t *testing.T) {
	store := NewCodeStore(4, time.Now)
	rec := storage.AuthorizationCode{ClientID: "client-1", UserID: "user-1", Expiry: time.Now().Add(-time.Minute)}

	// A code whose Expiry has already passed still gets a minimum
	// insertable TTL rather than failing outright.
	require.NoError(t, store.PutAuthorizationCode(context.Background(), "code-1", rec))
	got, err := store.ConsumeAuthorizationCode(context.Background(), "code-1")
	require.NoError(t, err)
	require.Equal(t, "user-1", got.UserID)
}
