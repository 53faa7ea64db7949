package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStoreConfig locates an S3-compatible bucket.
type ObjectStoreConfig struct {
	Endpoint  string
	Bucket    string
	Key       string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// ObjectSink uploads the document to an S3-compatible bucket.
type ObjectSink struct {
	client *minio.Client
	bucket string
	key    string
	region string
}

// NewObjectSink connects to the configured endpoint.
func NewObjectSink(cfg ObjectStoreConfig) (*ObjectSink, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("object store endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}
	key := cfg.Key
	if key == "" {
		key = "abis.json"
	}
	return &ObjectSink{client: client, bucket: cfg.Bucket, key: key, region: cfg.Region}, nil
}

// Name identifies the sink in logs.
func (s *ObjectSink) Name() string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, s.key)
}

// Write overwrites the object, creating the bucket if needed.
func (s *ObjectSink) Write(ctx context.Context, data []byte) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("bucket exists: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("make bucket: %w", err)
		}
	}

	_, err = s.client.PutObject(ctx, s.bucket, s.key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
}
