package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClearlogHQ/clearlog/internal/hash"
)

func testBlobStore(t *testing.T, s BlobStore) {
	ctx := context.Background()

	t.Run("PutAndGet", func(t *testing.T) {
		data := []byte("Hello, World!")
		digest := hash.New(data)

		require.NoError(t, s.Put(ctx, digest, data))

		exists, err := s.Has(ctx, digest)
		require.NoError(t, err)
		assert.True(t, exists)

		retrieved, err := s.Get(ctx, digest)
		require.NoError(t, err)
		assert.Equal(t, data, retrieved)

		stats := s.Stats()
		assert.Equal(t, int64(1), stats.TotalBlobs)
		assert.True(t, stats.TotalBytes > 0)
	})

	t.Run("DuplicatePut", func(t *testing.T) {
		data := []byte("duplicate content")
		digest := hash.New(data)

		require.NoError(t, s.Put(ctx, digest, data))
		require.NoError(t, s.Put(ctx, digest, data))

		exists, err := s.Has(ctx, digest)
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("DigestMismatch", func(t *testing.T) {
		err := s.Put(ctx, hash.New([]byte("claimed")), []byte("actual"))
		assert.ErrorIs(t, err, ErrDigestMismatch)
	})

	t.Run("Missing", func(t *testing.T) {
		missing := hash.New([]byte("never stored"))

		exists, err := s.Has(ctx, missing)
		require.NoError(t, err)
		assert.False(t, exists)

		_, err = s.Get(ctx, missing)
		assert.True(t, IsNotFound(err))
	})
}

func TestMemoryBlobStore(t *testing.T) {
	s := NewMemoryBlobStore(nil)
	defer s.Close()

	testBlobStore(t, s)
}

func TestFilesystemBlobStore(t *testing.T) {
	config := DefaultConfig()
	config.FSPath = t.TempDir()

	s, err := NewFilesystemBlobStore(config)
	require.NoError(t, err)
	defer s.Close()

	testBlobStore(t, s)

	t.Run("PersistsAcrossReopen", func(t *testing.T) {
		data := []byte("durable blob")
		digest := hash.New(data)
		require.NoError(t, s.Put(context.Background(), digest, data))
		require.NoError(t, s.Close())

		reopened, err := NewFilesystemBlobStore(config)
		require.NoError(t, err)
		defer reopened.Close()

		retrieved, err := reopened.Get(context.Background(), digest)
		require.NoError(t, err)
		assert.Equal(t, data, retrieved)
	})
}

func TestBlobSizeLimit(t *testing.T) {
	config := DefaultConfig()
	config.MaxBlobSize = 8

	s := NewMemoryBlobStore(config)
	defer s.Close()

	data := []byte("this blob is larger than eight bytes")
	err := s.Put(context.Background(), hash.New(data), data)
	assert.ErrorIs(t, err, ErrTooLarge)
}
