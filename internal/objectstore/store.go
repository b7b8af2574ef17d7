// Package objectstore implements the Cloud Object Store Adapter (C3): a
// uniform, vendor-neutral capability over a keyed bucket, used by the
// Workspace Store (C4) as the source of truth for user workspaces.
//
// Grounded structurally on the teacher's internal/docker/client.go — a
// thin wrapper struct holding a real SDK client, exposing context-scoped
// methods that translate SDK errors into the manager's own vocabulary.
// Backed by github.com/minio/minio-go/v7, which speaks the S3 API shared
// by MinIO, AWS S3, and the S3-compatible gateways most commonly put in
// front of Azure Blob/GCS — one client implements the provider selector in
// spec.md §6 (minio|s3|azure|gcs).
package objectstore

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned by Head/Get when the key does not exist —
// callers map this to a null metadata result (spec.md §4.3).
var ErrNotFound = errors.New("object not found")

// ObjectInfo describes a single object returned by List.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified int64 // unix seconds
}

// ListResult is one page of a List call.
type ListResult struct {
	Objects         []ObjectInfo
	CommonPrefixes  []string
	ContinuationKey string // empty when there are no further pages
}

// Store is the vendor-neutral capability every higher layer depends on.
// Content over 50 MiB is skipped by callers (Workspace Store), not here —
// the adapter itself places no size limit on what it will transfer.
type Store interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Head(ctx context.Context, key string) (*ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	Copy(ctx context.Context, srcKey, dstKey string) error
	List(ctx context.Context, prefix string, delimiter string, continuationKey string) (*ListResult, error)
	// ListAll paginates List to completion and returns every key under prefix.
	ListAll(ctx context.Context, prefix string) ([]ObjectInfo, error)
	// DeletePrefix removes every object under prefix, paginating as needed.
	DeletePrefix(ctx context.Context, prefix string) error
	UploadDir(ctx context.Context, localDir, prefix string, maxFileBytes int64) (uploaded int, skipped int, err error)
	DownloadDir(ctx context.Context, prefix, localDir string, maxFileBytes int64) (downloaded int, err error)
}

// MaxMirroredFileBytes is the spec's 50 MiB ceiling above which a file is
// "never mirrored either direction" (spec.md §3 Workspace invariants).
const MaxMirroredFileBytes = 50 * 1024 * 1024

// joinKey builds a bucket key from a prefix and a relative file path, always
// using '/' as the hierarchical separator (spec.md §4.3).
func joinKey(prefix, rel string) string {
	rel = filepath.ToSlash(rel)
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return rel
	}
	return prefix + "/" + rel
}

// keyToLocalPath maps a bucket key back to a path under localDir, stripping
// the given prefix.
func keyToLocalPath(key, prefix, localDir string) (string, bool) {
	prefix = strings.TrimSuffix(prefix, "/") + "/"
	if !strings.HasPrefix(key, prefix) {
		return "", false
	}
	rel := strings.TrimPrefix(key, prefix)
	if rel == "" {
		return "", false
	}
	return filepath.Join(localDir, filepath.FromSlash(rel)), true
}

func ensureParentDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0755)
}
