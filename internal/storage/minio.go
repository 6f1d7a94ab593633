package storage

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/kiranshivaraju/findoc/internal/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStore keeps uploads as objects in one bucket. References are object names.
type MinioStore struct {
	client *minio.Client
	bucket string
}

func NewMinioStore(ctx context.Context, cfg config.MinioConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	s := &MinioStore{client: client, bucket: cfg.Bucket}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MinioStore) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
	}
	return nil
}

func (s *MinioStore) Save(ctx context.Context, r io.Reader) (string, error) {
	name := NewFileName()
	_, err := s.client.PutObject(ctx, s.bucket, name, r, -1, minio.PutObjectOptions{
		ContentType: "application/pdf",
	})
	if err != nil {
		return "", fmt.Errorf("put upload: %w", err)
	}
	return name, nil
}

func (s *MinioStore) Open(ctx context.Context, ref string) (File, int64, error) {
	if !isUploadName(ref) {
		return nil, 0, fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	obj, err := s.client.GetObject(ctx, s.bucket, ref, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, fmt.Errorf("get upload: %w", err)
	}
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("stat upload: %w", err)
	}
	return obj, info.Size, nil
}

// Remove deletes the object. S3 semantics make deleting a missing key a success.
func (s *MinioStore) Remove(ctx context.Context, ref string) error {
	if !isUploadName(ref) {
		return fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	if err := s.client.RemoveObject(ctx, s.bucket, ref, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete upload: %w", err)
	}
	return nil
}

func (s *MinioStore) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}

func (s *MinioStore) Sweep(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	stale := make(chan minio.ObjectInfo)
	var sent atomic.Int64

	go func() {
		defer close(stale)
		for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: filePrefix}) {
			if obj.Err != nil || !isUploadName(obj.Key) || obj.LastModified.After(cutoff) {
				continue
			}
			select {
			case stale <- obj:
				sent.Add(1)
			case <-ctx.Done():
				return
			}
		}
	}()

	// RemoveObjects reports failures only.
	var firstErr error
	failed := 0
	for rerr := range s.client.RemoveObjects(ctx, s.bucket, stale, minio.RemoveObjectsOptions{}) {
		if rerr.Err != nil {
			failed++
			if firstErr == nil {
				firstErr = fmt.Errorf("delete %s: %w", rerr.ObjectName, rerr.Err)
			}
		}
	}
	return int(sent.Load()) - failed, firstErr
}
