package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/ritwikmohanty/aegis-audit-sub001/internal/domain"
)

type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
	UseSSL    bool
}

func (o MinioOptions) validate() error {
	if strings.TrimSpace(o.Endpoint) == "" {
		return fmt.Errorf("minio endpoint is required")
	}
	if strings.Contains(o.Endpoint, "://") {
		return fmt.Errorf("minio endpoint must not include scheme: %q", o.Endpoint)
	}
	if strings.TrimSpace(o.AccessKey) == "" || strings.TrimSpace(o.SecretKey) == "" {
		return fmt.Errorf("minio credentials are required")
	}
	if strings.TrimSpace(o.Bucket) == "" {
		return fmt.Errorf("minio bucket is required")
	}
	return nil
}

type MinioStore struct {
	client *minio.Client
	bucket string
}

func NewMinioStore(opts MinioOptions) (*MinioStore, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &MinioStore{client: client, bucket: opts.Bucket}, nil
}

func NewMinioStoreWithClient(client *minio.Client, bucket string) (*MinioStore, error) {
	if client == nil {
		return nil, fmt.Errorf("minio client is required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("minio bucket is required")
	}
	return &MinioStore{client: client, bucket: bucket}, nil
}

func (s *MinioStore) EnsureBucket(ctx context.Context, region string) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("make bucket: %w", err)
	}
	return nil
}

func (s *MinioStore) Put(ctx context.Context, runID, stage string, body []byte) (domain.ArtifactRef, error) {
	if err := validateKey(runID, stage); err != nil {
		return domain.ArtifactRef{}, err
	}
	key := objectKey(runID, stage)
	sum := hashHex(body)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType:  "application/json",
		UserMetadata: map[string]string{"sha256": sum},
	})
	if err != nil {
		return domain.ArtifactRef{}, fmt.Errorf("put object %s: %w", key, err)
	}
	return domain.ArtifactRef{
		RunID:     runID,
		Stage:     stage,
		Location:  fmt.Sprintf("s3://%s/%s", s.bucket, key),
		SHA256:    sum,
		SizeBytes: int64(len(body)),
	}, nil
}

func (s *MinioStore) Get(ctx context.Context, runID, stage string) ([]byte, error) {
	if err := validateKey(runID, stage); err != nil {
		return nil, err
	}
	key := objectKey(runID, stage)
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	defer obj.Close()
	body, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("artifact %s/%s: %w", runID, stage, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return body, nil
}

func objectKey(runID, stage string) string {
	return fmt.Sprintf("runs/%s/%s.json", runID, stage)
}
