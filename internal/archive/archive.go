// Package archive implements the node's snapshot export: a periodic or
// on-demand dump of every record currently in the Record Store to
// object storage, for operators who want durable backups independent
// of Postgres. It is a supplemental feature, not part of the
// reconciliation core; nothing in internal/orchestrator depends on it.
//
// Grounded on the reference server's internal/storage.Service minio-go client
// setup (endpoint/credentials from env, bucket-exists-or-create), cut
// down from a general-purpose attachment store to a single
// put-snapshot/list-snapshots operation.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/kindlyrobotics/meshsync/internal/record"
)

// Config names the object-storage endpoint and bucket a node exports
// snapshots to.
type Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Region          string
	UseSSL          bool
}

// Archiver writes point-in-time snapshots of the Record Store to an
// S3-compatible bucket.
type Archiver struct {
	client *minio.Client
	bucket string
}

// New connects to the configured object store and ensures the target
// bucket exists.
func New(ctx context.Context, cfg Config) (*Archiver, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("archive: create object store client: %w", err)
	}

	a := &Archiver{client: client, bucket: cfg.Bucket}
	if err := a.ensureBucket(ctx, cfg.Region); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Archiver) ensureBucket(ctx context.Context, region string) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("archive: check bucket %s: %w", a.bucket, err)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("archive: create bucket %s: %w", a.bucket, err)
	}
	return nil
}

// snapshotKey names the object a snapshot taken at t is stored under.
func snapshotKey(t time.Time) string {
	return fmt.Sprintf("snapshots/%s.json", t.UTC().Format("20060102T150405.000Z"))
}

// PutSnapshot serializes every record in the given map as a single
// JSON object and uploads it, returning the object key it was stored
// under. Callers typically pass the output of recordstore.Store.GetAll.
func (a *Archiver) PutSnapshot(ctx context.Context, at time.Time, records map[string]record.Record) (string, error) {
	body, err := json.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("archive: marshal snapshot: %w", err)
	}

	key := snapshotKey(at)
	_, err = a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("archive: upload snapshot %s: %w", key, err)
	}
	return key, nil
}

// ListSnapshots returns the object keys of every snapshot stored under
// the snapshots/ prefix, oldest first by virtue of the lexicographic
// (and therefore chronological) key format.
func (a *Archiver) ListSnapshots(ctx context.Context) ([]string, error) {
	var keys []string
	for obj := range a.client.ListObjects(ctx, a.bucket, minio.ListObjectsOptions{Prefix: "snapshots/"}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("archive: list snapshots: %w", obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}
