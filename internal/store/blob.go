package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docfinder/internal/index"
	"github.com/Adithya-Monish-Kumar-K/docfinder/internal/segment"
	"github.com/Adithya-Monish-Kumar-K/docfinder/pkg/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Blob archives snapshots in a MinIO or other S3-compatible bucket using the
// same encoding as the on-disk .dfs files.
type Blob struct {
	client *minio.Client
	bucket string
	prefix string
	keep   int
	logger *slog.Logger
}

// NewMinioClient connects to the endpoint in cfg.
func NewMinioClient(cfg config.BlobConfig) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client: %w", err)
	}
	return client, nil
}

// NewBlob returns a snapshot sink writing under prefix in bucket. keep <= 0
// retains every snapshot.
func NewBlob(client *minio.Client, bucket, prefix string, keep int) *Blob {
	return &Blob{
		client: client,
		bucket: bucket,
		prefix: prefix,
		keep:   keep,
		logger: slog.Default().With("component", "blob-store"),
	}
}

// EnsureBucket creates the bucket if it does not exist yet.
func (b *Blob) EnsureBucket(ctx context.Context) error {
	exists, err := b.client.BucketExists(ctx, b.bucket)
	if err != nil {
		return fmt.Errorf("checking bucket %s: %w", b.bucket, err)
	}
	if exists {
		return nil
	}
	if err := b.client.MakeBucket(ctx, b.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("creating bucket %s: %w", b.bucket, err)
	}
	b.logger.Info("bucket created", "bucket", b.bucket)
	return nil
}

func (b *Blob) key(name string) string {
	return path.Join(b.prefix, name)
}

// Save uploads state as a new snapshot object and returns its name.
func (b *Blob) Save(ctx context.Context, state index.State) (string, error) {
	now := time.Now()
	data, err := segment.Encode(state, now)
	if err != nil {
		return "", err
	}
	name := segment.FileName(state.Generation, now)
	_, err = b.client.PutObject(ctx, b.bucket, b.key(name), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return "", fmt.Errorf("uploading snapshot %s: %w", name, err)
	}
	b.prune(ctx)
	return name, nil
}

// Latest downloads and decodes the newest readable snapshot. It returns nil
// when the bucket holds none.
func (b *Blob) Latest(ctx context.Context) (*index.State, error) {
	names, err := b.list(ctx)
	if err != nil {
		return nil, err
	}
	for i := len(names) - 1; i >= 0; i-- {
		state, err := b.fetch(ctx, names[i])
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			b.logger.Error("failed to read snapshot object, skipping",
				"snapshot", names[i],
				"error", err,
			)
			continue
		}
		b.logger.Info("loaded snapshot",
			"snapshot", names[i],
			"docs", len(state.Documents),
		)
		return state, nil
	}
	return nil, nil
}

func (b *Blob) fetch(ctx context.Context, name string) (*index.State, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, b.key(name), minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, err
	}
	state, _, err := segment.Decode(data)
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (b *Blob) list(ctx context.Context) ([]string, error) {
	var names []string
	for obj := range b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{
		Prefix:    b.prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("listing snapshots: %w", obj.Err)
		}
		name := strings.TrimPrefix(strings.TrimPrefix(obj.Key, b.prefix), "/")
		if strings.HasSuffix(name, segment.FileExt) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (b *Blob) prune(ctx context.Context) {
	if b.keep <= 0 {
		return
	}
	names, err := b.list(ctx)
	if err != nil {
		b.logger.Error("listing snapshots for pruning", "error", err)
		return
	}
	for len(names) > b.keep {
		err := b.client.RemoveObject(ctx, b.bucket, b.key(names[0]), minio.RemoveObjectOptions{})
		if err != nil {
			resp := minio.ToErrorResponse(err)
			if resp.Code != "NoSuchKey" && resp.Code != "NotFound" {
				b.logger.Error("removing old snapshot", "snapshot", names[0], "error", err)
			}
		}
		names = names[1:]
	}
}
