package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/alexanderramin/blueprint/internal/domain"
)

// ErrNotFound is returned by Fetch when no archive exists for a session.
var ErrNotFound = errors.New("archive not found")

// S3Config configures an S3-compatible archive bucket.
type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

// S3Archiver writes snapshots as JSON objects through minio-go.
type S3Archiver struct {
	client *minio.Client
	bucket string
	region string
	prefix string

	initOnce sync.Once
	initErr  error
}

// NewS3Archiver validates cfg and builds the client. The bucket is created
// on first use.
func NewS3Archiver(cfg S3Config) (*S3Archiver, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("s3 access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	return &S3Archiver{
		client: client,
		bucket: bucket,
		region: region,
		prefix: normalizePrefix(cfg.Prefix),
	}, nil
}

func (a *S3Archiver) ensureBucket(ctx context.Context) error {
	a.initOnce.Do(func() {
		exists, err := a.client.BucketExists(ctx, a.bucket)
		if err != nil {
			a.initErr = err
			return
		}
		if exists {
			return
		}
		a.initErr = a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{Region: a.region})
	})
	return a.initErr
}

// Archive uploads snap, overwriting an earlier archive of the same session.
func (a *S3Archiver) Archive(ctx context.Context, snap domain.Snapshot) error {
	if snap.ID == "" {
		return fmt.Errorf("archiving snapshot: missing session id")
	}
	if err := a.ensureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	meta := map[string]string{
		"session-id":       snap.ID,
		"snapshot-version": fmt.Sprint(snap.Version),
	}
	_, err = a.client.PutObject(ctx, a.bucket, a.Key(snap.ID), bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType:  "application/json",
		UserMetadata: meta,
	})
	if err != nil {
		return fmt.Errorf("uploading snapshot %s: %w", snap.ID, err)
	}
	return nil
}

// Fetch downloads the archived snapshot for id.
func (a *S3Archiver) Fetch(ctx context.Context, id string) (domain.Snapshot, error) {
	obj, err := a.client.GetObject(ctx, a.bucket, a.Key(id), minio.GetObjectOptions{})
	if err != nil {
		return domain.Snapshot{}, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" || errResp.Code == "NoSuchBucket" {
			return domain.Snapshot{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return domain.Snapshot{}, err
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.Snapshot{}, fmt.Errorf("%w: archive %s: %v", domain.ErrCorruptSnapshot, id, err)
	}
	return snap, nil
}

// Key is the object key a session is archived under.
func (a *S3Archiver) Key(id string) string {
	return a.prefix + strings.TrimSpace(id) + ".json"
}

func normalizePrefix(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return ""
	}
	return p + "/"
}
