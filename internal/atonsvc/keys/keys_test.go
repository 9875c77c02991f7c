package keys

import (
	"context"
	"crypto/ed25519"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpen(t *testing.T) {
	sealed, err := Seal([]byte("secret"), "pw")
	require.NoError(t, err)

	plain, err := Open(sealed, "pw")
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), plain)

	_, err = Open(sealed, "wrong")
	assert.Error(t, err)

	_, err = Open(sealed[:10], "pw")
	assert.Error(t, err)

	_, err = Seal(nil, "pw")
	assert.Error(t, err)
}

func TestManagerCreatesThenReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "signing.json")
	ctx := context.Background()

	first, err := NewManager(path, "pw").GetActiveKey(ctx)
	require.Nil(t, err)
	require.Len(t, first.PrivateKey, ed25519.PrivateKeySize)

	second, err := NewManager(path, "pw").GetActiveKey(ctx)
	require.Nil(t, err)
	assert.Equal(t, first.KeyID, second.KeyID)
	assert.Equal(t, first.PublicKey, second.PublicKey)

	pub, rerr := ReadPublicKey(path)
	require.NoError(t, rerr)
	assert.Equal(t, first.PublicKey, pub)

	_, err = NewManager(path, "other").GetActiveKey(ctx)
	require.NotNil(t, err)
	assert.ErrorIs(t, err, ErrSealed)
}
