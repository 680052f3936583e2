package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestWithStaticClientsGetClient(t *testing.T) {
	store := WithStaticClients([]ClientMetadata{
		{ID: "client-1", ClientSecret: "s3cr3t"},
	})

	c, err := store.GetClient(context.Background(), "client-1")
	require.NoError(t, err)
	require.Equal(t, "client-1", c.ID)

	_, err = store.GetClient(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestVerifyClientSecretPlaintext(t *testing.T) {
	c := ClientMetadata{ClientSecret: "s3cr3t"}
	require.True(t, VerifyClientSecret(c, "s3cr3t"))
	require.False(t, VerifyClientSecret(c, "wrong"))
}

func TestVerifyClientSecretPrefersBcryptHash(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cr3t"), bcrypt.DefaultCost)
	require.NoError(t, err)

	c := ClientMetadata{ClientSecret: "ignored-because-hash-present", ClientSecretHash: hash}
	require.True(t, VerifyClientSecret(c, "s3cr3t"))
	require.False(t, VerifyClientSecret(c, "ignored-because-hash-present"))
}
