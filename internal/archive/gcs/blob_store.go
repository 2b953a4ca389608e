// Package gcs archives raw provider payloads in Google Cloud Storage.
package gcs

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// Config selects the bucket and object encoding.
type Config struct {
	Bucket string
	// Gzip stores payloads compressed with Content-Encoding: gzip. Clients
	// reading through the storage API receive the decoded body.
	Gzip bool
}

// BlobStore uploads archive objects in a single request each.
type BlobStore struct {
	client *storage.Client
	cfg    Config
}

// New creates a GCS-backed archive store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{client: client, cfg: cfg}, nil
}

// PutObject uploads the payload to path and returns its gs:// URI. Objects
// are tagged with the archive path segments so a bucket listing can be
// filtered without downloading bodies.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	path = strings.TrimLeft(strings.TrimSpace(path), "/")
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	if r == nil {
		return "", fmt.Errorf("payload is required")
	}

	w := s.client.Bucket(s.cfg.Bucket).Object(path).NewWriter(ctx)
	// Archive payloads are small; skip resumable sessions.
	w.ChunkSize = 0
	w.ContentType = contentType
	w.Metadata = objectMetadata(path)

	var dst io.Writer = w
	var gz *gzip.Writer
	if s.cfg.Gzip {
		w.ContentEncoding = "gzip"
		gz = gzip.NewWriter(w)
		dst = gz
	}

	if _, err := io.Copy(dst, r); err != nil {
		_ = w.CloseWithError(err)
		return "", fmt.Errorf("upload %s: %w", path, err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			_ = w.CloseWithError(err)
			return "", fmt.Errorf("compress %s: %w", path, err)
		}
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize %s: %w", path, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.cfg.Bucket, path), nil
}

// objectMetadata derives dataset, code and window labels from an archive
// path of the form [prefix/]<dataset>/<code>/<start>-<end>.json.
func objectMetadata(path string) map[string]string {
	parts := strings.Split(path, "/")
	if len(parts) < 3 {
		return nil
	}
	n := len(parts)
	return map[string]string{
		"dataset": parts[n-3],
		"code":    parts[n-2],
		"window":  strings.TrimSuffix(parts[n-1], ".json"),
	}
}
