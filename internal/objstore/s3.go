package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/net/http/httpproxy"
)

const defaultS3Endpoint = "https://s3.amazonaws.com"

// Bucket reads objects from an object store.
type Bucket interface {
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	IsNotFound(err error) bool
}

// S3Config holds connection settings for an S3-compatible endpoint.
type S3Config struct {
	EndpointURL        string
	Region             string
	AccessKeyID        string
	SecretAccessKey    string
	SessionToken       string
	MetadataServiceURL string

	// Proxy settings, taken from the environment snapshot.
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// S3Bucket is a Bucket backed by minio-go.
type S3Bucket struct {
	client *minio.Client
}

// NewS3Bucket creates an S3 client. Static credentials are used when an
// access key is configured; otherwise credentials come from the instance
// metadata service.
func NewS3Bucket(cfg S3Config) (*S3Bucket, error) {
	endpoint := cfg.EndpointURL
	if endpoint == "" {
		endpoint = defaultS3Endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid S3 endpoint URL %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid S3 endpoint URL %q: missing host", endpoint)
	}
	secure := u.Scheme != "http"

	var creds *credentials.Credentials
	if cfg.AccessKeyID != "" {
		creds = credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)
	} else {
		creds = credentials.NewIAM(cfg.MetadataServiceURL)
	}

	transport, err := minio.DefaultTransport(secure)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 transport: %w", err)
	}
	transport.Proxy = proxyFunc(cfg)

	client, err := minio.New(u.Host, &minio.Options{
		Creds:        creds,
		Secure:       secure,
		Region:       cfg.Region,
		Transport:    transport,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	return &S3Bucket{client: client}, nil
}

func proxyFunc(cfg S3Config) func(*http.Request) (*url.URL, error) {
	pc := &httpproxy.Config{
		HTTPProxy:  cfg.HTTPProxy,
		HTTPSProxy: cfg.HTTPSProxy,
		NoProxy:    cfg.NoProxy,
	}
	fn := pc.ProxyFunc()
	return func(req *http.Request) (*url.URL, error) {
		return fn(req.URL)
	}
}

// Get opens the object for reading. minio-go defers errors to the first
// read, so the object is stat'ed up front to surface missing keys here.
func (b *S3Bucket) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := b.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, err
	}
	return obj, nil
}

// IsNotFound reports whether err means the bucket or key does not exist.
func (b *S3Bucket) IsNotFound(err error) bool {
	var resp minio.ErrorResponse
	if !errors.As(err, &resp) {
		return false
	}
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket":
		return true
	}
	return resp.StatusCode == http.StatusNotFound
}
