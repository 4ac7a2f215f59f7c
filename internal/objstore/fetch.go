// Package objstore fetches configuration objects from an S3-compatible
// store and materializes them under the configuration directory.
package objstore

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/zeebo/blake3"

	"github.com/szibis/thanos-entrypoint/internal/logging"
)

var (
	fetchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "thanos_entrypoint_fetches_total",
		Help: "Object fetches by result (success, not_found, error)",
	}, []string{"result"})

	fetchBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "thanos_entrypoint_fetch_bytes_total",
		Help: "Bytes read from the object store",
	})

	fetchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "thanos_entrypoint_fetch_duration_seconds",
		Help:    "Time spent fetching a single object",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})
)

func init() {
	prometheus.MustRegister(fetchesTotal)
	prometheus.MustRegister(fetchBytesTotal)
	prometheus.MustRegister(fetchDuration)

	for _, r := range []string{"success", "not_found", "error"} {
		fetchesTotal.WithLabelValues(r).Add(0)
	}
}

// FetchError reports a failed object fetch.
type FetchError struct {
	URI      string
	NotFound bool
	Err      error
}

func (e *FetchError) Error() string {
	if e.NotFound {
		return fmt.Sprintf("fetch %s: object not found: %v", e.URI, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URI, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// File describes a materialized file.
type File struct {
	Path   string `yaml:"path"`
	Source string `yaml:"source"`
	Size   int64  `yaml:"size"`
	Digest string `yaml:"blake3"`
}

// Fetcher downloads objects through a Bucket.
type Fetcher struct {
	bucket Bucket
}

// NewFetcher creates a Fetcher over the given bucket.
func NewFetcher(bucket Bucket) *Fetcher {
	return &Fetcher{bucket: bucket}
}

// Fetch downloads uri into destDir/name, or destDir/<basename> when name is
// empty. The object is streamed to a temporary file in destDir which is
// renamed into place only after a successful write, so a failed fetch never
// leaves a partial file at the destination. An existing file is replaced.
func (f *Fetcher) Fetch(ctx context.Context, uri URI, destDir, name string) (File, error) {
	if name == "" {
		name = uri.Basename()
	}
	start := time.Now()
	defer func() { fetchDuration.Observe(time.Since(start).Seconds()) }()

	rc, err := f.bucket.Get(ctx, uri.Bucket, uri.Key)
	if err != nil {
		return File{}, f.fail(uri, err)
	}
	defer rc.Close()

	file, err := WriteFile(filepath.Join(destDir, name), rc)
	if err != nil {
		fetchesTotal.WithLabelValues("error").Inc()
		return File{}, &FetchError{URI: uri.String(), Err: err}
	}
	file.Source = uri.String()

	fetchesTotal.WithLabelValues("success").Inc()
	fetchBytesTotal.Add(float64(file.Size))
	logging.Info("fetched object", logging.F(
		"uri", file.Source,
		"path", file.Path,
		"bytes", file.Size,
		"blake3", file.Digest,
		"duration_ms", time.Since(start).Milliseconds(),
	))
	return file, nil
}

// Read returns the object's bytes without writing them to disk.
func (f *Fetcher) Read(ctx context.Context, uri URI) ([]byte, error) {
	start := time.Now()
	defer func() { fetchDuration.Observe(time.Since(start).Seconds()) }()

	rc, err := f.bucket.Get(ctx, uri.Bucket, uri.Key)
	if err != nil {
		return nil, f.fail(uri, err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rc); err != nil {
		fetchesTotal.WithLabelValues("error").Inc()
		return nil, &FetchError{URI: uri.String(), Err: err}
	}

	fetchesTotal.WithLabelValues("success").Inc()
	fetchBytesTotal.Add(float64(buf.Len()))
	logging.Debug("read object", logging.F("uri", uri.String(), "bytes", buf.Len()))
	return buf.Bytes(), nil
}

func (f *Fetcher) fail(uri URI, err error) error {
	notFound := f.bucket.IsNotFound(err)
	if notFound {
		fetchesTotal.WithLabelValues("not_found").Inc()
	} else {
		fetchesTotal.WithLabelValues("error").Inc()
	}
	return &FetchError{URI: uri.String(), NotFound: notFound, Err: err}
}

// WriteFile atomically writes r to path, creating parent directories.
// The file is created with mode 0600 and its BLAKE3 digest is returned.
func WriteFile(path string, r io.Reader) (File, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return File{}, fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return File{}, fmt.Errorf("creating temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	h := blake3.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err != nil {
		return File{}, fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		return File{}, fmt.Errorf("syncing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return File{}, fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return File{}, fmt.Errorf("renaming into %s: %w", path, err)
	}
	committed = true

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}

	return File{Path: path, Size: n, Digest: hex.EncodeToString(h.Sum(nil))}, nil
}
