package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// snapshotEntry is the on-disk (on-object) representation of a single
// key-value pair. Values are stored as base64 via encoding/json's []byte
// handling, which is enough fidelity for the binary blobs shards hold.
type snapshotEntry struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// Snapshotter persists a Store's contents to an S3-compatible bucket and
// restores it back on node startup, giving shards durability the
// in-memory backend otherwise lacks.
type Snapshotter struct {
	client *s3.Client
	bucket string
}

// SnapshotterConfig configures the S3-compatible endpoint a Snapshotter
// writes to. Endpoint is optional; leave it empty to talk to real AWS
// S3, or set it to point at a local/self-hosted S3-compatible service.
type SnapshotterConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// NewSnapshotter builds an S3 client from cfg and returns a Snapshotter
// bound to cfg.Bucket.
func NewSnapshotter(ctx context.Context, cfg SnapshotterConfig) (*Snapshotter, error) {
	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Snapshotter{client: client, bucket: cfg.Bucket}, nil
}

func snapshotKey(shardID int) string {
	return fmt.Sprintf("shards/%d/snapshot.json", shardID)
}

// Save serializes every key in store and uploads it as a single object
// named for shardID. Callers typically run this on a ticker and again
// on graceful shutdown.
func (s *Snapshotter) Save(ctx context.Context, shardID int, store Store) error {
	keys := store.List()
	entries := make([]snapshotEntry, 0, len(keys))
	for _, key := range keys {
		value, err := store.Get(key)
		if err != nil {
			if err == ErrKeyNotFound {
				// Raced with a concurrent delete; skip rather than fail
				// the whole snapshot.
				continue
			}
			return fmt.Errorf("storage: snapshot read %q: %w", key, err)
		}
		entries = append(entries, snapshotEntry{Key: key, Value: value})
	}

	body, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("storage: snapshot encode: %w", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(snapshotKey(shardID)),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return fmt.Errorf("storage: snapshot upload shard %d: %w", shardID, err)
	}
	return nil
}

// Restore downloads the most recent snapshot for shardID and replays it
// into store. A missing object is not an error — it just means the
// shard has never been snapshotted, which is the normal case for a
// freshly created shard.
func (s *Snapshotter) Restore(ctx context.Context, shardID int, store Store) error {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(snapshotKey(shardID)),
	})
	if err != nil {
		var notFound *types.NoSuchKey
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("storage: snapshot download shard %d: %w", shardID, err)
	}
	defer out.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(out.Body); err != nil {
		return fmt.Errorf("storage: snapshot read body shard %d: %w", shardID, err)
	}

	var entries []snapshotEntry
	if err := json.Unmarshal(buf.Bytes(), &entries); err != nil {
		return fmt.Errorf("storage: snapshot decode shard %d: %w", shardID, err)
	}

	for _, entry := range entries {
		if err := store.Put(entry.Key, entry.Value); err != nil {
			return fmt.Errorf("storage: snapshot restore key %q: %w", entry.Key, err)
		}
	}
	return nil
}

// RunPeriodicSnapshots saves store's contents to S3 every interval until
// ctx is canceled, then takes one final snapshot before returning. Meant
// to be run in its own goroutine from a node's main loop.
func (s *Snapshotter) RunPeriodicSnapshots(ctx context.Context, shardID int, store Store, interval time.Duration, onError func(error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := s.Save(context.Background(), shardID, store); err != nil && onError != nil {
				onError(err)
			}
			return
		case <-ticker.C:
			if err := s.Save(ctx, shardID, store); err != nil && onError != nil {
				onError(err)
			}
		}
	}
}
