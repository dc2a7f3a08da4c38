package storagesvc

import (
	"context"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"

	"github.com/flare-portal/flare/core"
	"github.com/flare-portal/flare/core/experiment"
)

type minioStore struct {
	client     *minio.Client
	bucket     string
	presignTTL time.Duration
}

var _ experiment.AssetStore = (*minioStore)(nil)

// NewMinioStore connects to the S3 compatible server at conf.Storage.Endpoint and creates the bucket if needed.
func NewMinioStore(ctx context.Context, conf *core.Config) (experiment.AssetStore, error) {
	sc := conf.Storage
	client, err := minio.New(sc.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(sc.AccessKey, sc.SecretKey, ""),
		Secure: sc.UseSSL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating minio client")
	}

	exists, err := client.BucketExists(ctx, sc.Bucket)
	if err != nil {
		return nil, errors.Wrapf(err, "checking bucket %s", sc.Bucket)
	}
	if !exists {
		if err = client.MakeBucket(ctx, sc.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, errors.Wrapf(err, "creating bucket %s", sc.Bucket)
		}
	}
	return &minioStore{client: client, bucket: sc.Bucket, presignTTL: sc.PresignTTL}, nil
}

func (s *minioStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	return errors.Wrapf(err, "uploading %s", key)
}

func (s *minioStore) URL(ctx context.Context, key string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.presignTTL, make(url.Values))
	if err != nil {
		return "", errors.Wrapf(err, "presigning %s", key)
	}
	return u.String(), nil
}

func (s *minioStore) Delete(ctx context.Context, key string) error {
	return errors.Wrapf(s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}), "removing %s", key)
}

// ErrNotConfigured is returned by the store used when no storage endpoint is set.
var ErrNotConfigured = errors.New("asset storage is not configured")

type disabledStore struct{}

// NewDisabledStore returns a store that rejects every operation.
func NewDisabledStore() experiment.AssetStore { return disabledStore{} }

func (disabledStore) Put(context.Context, string, io.Reader, int64, string) error {
	return ErrNotConfigured
}
func (disabledStore) URL(context.Context, string) (string, error) { return "", ErrNotConfigured }
func (disabledStore) Delete(context.Context, string) error        { return ErrNotConfigured }
