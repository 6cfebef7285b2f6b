package store

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docfinder/internal/index"
	"github.com/Adithya-Monish-Kumar-K/docfinder/internal/segment"
	"github.com/Adithya-Monish-Kumar-K/docfinder/pkg/config"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// skipIfNoMinio skips the test when MinIO is unavailable and otherwise
// returns a sink writing under a prefix no other test uses.
func skipIfNoMinio(t *testing.T, keep int) (*Blob, *minio.Client, string) {
	t.Helper()
	cfg := config.BlobConfig{
		Endpoint:  envOrDefault("TEST_MINIO_ENDPOINT", "localhost:9000"),
		AccessKey: envOrDefault("TEST_MINIO_ACCESS_KEY", "minioadmin"),
		SecretKey: envOrDefault("TEST_MINIO_SECRET_KEY", "minioadmin"),
		Bucket:    envOrDefault("TEST_MINIO_BUCKET", "docfinder-test"),
	}
	client, err := NewMinioClient(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := client.BucketExists(ctx, cfg.Bucket); err != nil {
		t.Skipf("skipping blob test: minio unavailable: %v", err)
	}

	prefix := "test-" + uuid.NewString() + "/"
	b := NewBlob(client, cfg.Bucket, prefix, keep)
	require.NoError(t, b.EnsureBucket(context.Background()))
	t.Cleanup(func() {
		for obj := range client.ListObjects(context.Background(), cfg.Bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
			if obj.Err == nil {
				_ = client.RemoveObject(context.Background(), cfg.Bucket, obj.Key, minio.RemoveObjectOptions{})
			}
		}
	})
	return b, client, cfg.Bucket
}

func blobState(generation uint64, content string) index.State {
	return index.State{
		Generation: generation,
		NoiseWords: []string{"the"},
		Documents:  []index.StoredDocument{{Name: "a", Content: content}},
	}
}

func TestNewMinioClientRejectsBadEndpoint(t *testing.T) {
	_, err := NewMinioClient(config.BlobConfig{Endpoint: "localhost:9000/snapshots"})
	assert.ErrorContains(t, err, "creating minio client")
}

func TestBlobEmptyPrefixHasNoSnapshot(t *testing.T) {
	b, _, _ := skipIfNoMinio(t, 2)
	state, err := b.Latest(context.Background())
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestBlobSaveLatestPrune(t *testing.T) {
	b, _, _ := skipIfNoMinio(t, 2)
	ctx := context.Background()

	for gen, content := range []string{"cat", "cat dog", "cat dog bird"} {
		name, err := b.Save(ctx, blobState(uint64(gen+1), content))
		require.NoError(t, err)
		assert.Contains(t, name, segment.FileExt)
	}

	names, err := b.list(ctx)
	require.NoError(t, err)
	require.Len(t, names, 2, "older snapshots are pruned")

	latest, err := b.Latest(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, uint64(3), latest.Generation)
	assert.Equal(t, "cat dog bird", latest.Documents[0].Content)
}

func TestBlobLatestSkipsUnreadableObject(t *testing.T) {
	b, client, bucket := skipIfNoMinio(t, 0)
	ctx := context.Background()

	_, err := b.Save(ctx, blobState(1, "cat"))
	require.NoError(t, err)

	junk := []byte("not a snapshot")
	_, err = client.PutObject(ctx, bucket, b.key(segment.FileName(9, time.Now())), bytes.NewReader(junk), int64(len(junk)), minio.PutObjectOptions{})
	require.NoError(t, err)

	latest, err := b.Latest(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, uint64(1), latest.Generation)
}
