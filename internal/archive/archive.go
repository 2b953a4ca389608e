// Package archive stores raw provider payloads next to the relational store
// so a sync can be audited or replayed.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/JakeFAU/stocksync/internal/dataset"
	"github.com/JakeFAU/stocksync/internal/stock"
)

// ContentType is the media type of archived payloads.
const ContentType = "application/json"

// BlobStore persists one object and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Archiver writes fetched row sets under a common prefix.
type Archiver struct {
	blobs  BlobStore
	prefix string
}

// New returns an Archiver writing into blobs under prefix.
func New(blobs BlobStore, prefix string) *Archiver {
	return &Archiver{blobs: blobs, prefix: strings.Trim(prefix, "/")}
}

// ObjectPath returns <prefix>/<kind>/<code>/<start>-<end>.json.
func (a *Archiver) ObjectPath(kind stock.Kind, code string, w stock.SyncWindow) string {
	name := fmt.Sprintf("%s/%s/%s.json", kind, code, w)
	if a.prefix == "" {
		return name
	}
	return path.Join(a.prefix, name)
}

// Put archives rows fetched for (kind, code, window).
func (a *Archiver) Put(ctx context.Context, kind stock.Kind, code string, w stock.SyncWindow, rows dataset.RowSet) (string, error) {
	if a == nil || a.blobs == nil {
		return "", nil
	}
	body, err := json.Marshal(rows)
	if err != nil {
		return "", fmt.Errorf("marshal rows: %w", err)
	}
	uri, err := a.blobs.PutObject(ctx, a.ObjectPath(kind, code, w), ContentType, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return uri, nil
}
