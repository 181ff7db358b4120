package objectstore

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Object storage interface for snapshot archival
type ObjectStorageClient interface {
	Connect(string, string, string, bool) error
	Upload(ctx context.Context, bucketName, objectName string, content io.Reader, size int64, contentType string) (string, error)
}

// ObjectStorage holds the object storage client instance
type ObjectStorage struct {
	Conn *minio.Client
}

// NewObjectStorage initialization
func NewObjectStorage() ObjectStorageClient {
	return &ObjectStorage{}
}

// Connect establishes the object storage connection using client
func (o *ObjectStorage) Connect(endpoint string, accessKeyID string, secretAccessKey string, useSSL bool) error {
	var err error
	o.Conn, err = minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKeyID, secretAccessKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return fmt.Errorf("Failed to create minio client, %v", err)
	}

	// Check connection by listing buckets
	ctx := context.Background()
	_, err = o.Conn.ListBuckets(ctx)
	if err != nil {
		return fmt.Errorf("Failed to establish minio connection, %v", err)
	}

	return nil
}

// Upload stores one object, creating the bucket if necessary, and returns
// the object key it was stored under.
func (o *ObjectStorage) Upload(ctx context.Context, bucketName, objectName string, content io.Reader, size int64, contentType string) (string, error) {
	err := o.Conn.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{})
	if err != nil {
		exists, errBucketExists := o.Conn.BucketExists(ctx, bucketName)
		if !(errBucketExists == nil && exists) {
			return "", fmt.Errorf("Failed to create bucket. %v", err)
		}
	}

	info, err := o.Conn.PutObject(ctx, bucketName, objectName, content, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", err
	}

	return info.Key, nil
}
