package objectstore

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

// Provider names the backing object store flavour (spec.md §6).
type Provider string

const (
	ProviderMinio Provider = "minio"
	ProviderS3    Provider = "s3"
	ProviderAzure Provider = "azure"
	ProviderGCS   Provider = "gcs"
)

// Options configures a minio-backed Store for one of the four providers.
type Options struct {
	Provider  Provider
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// MinioStore is the single client implementation of Store, speaking the S3
// API that minio, AWS S3, and the common Azure/GCS S3-compatibility
// gateways all share.
type MinioStore struct {
	client *minio.Client
	bucket string
	logger zerolog.Logger
}

// New constructs a MinioStore for the given provider and credentials.
// Azure and GCS are expected to be fronted by an S3-compatible endpoint
// (Azure Blob via its S3 gateway, GCS via its XML/S3 interoperability API
// with HMAC keys) — the client code path is identical across all four;
// only endpoint/region/signature defaults differ.
func New(opts Options, logger zerolog.Logger) (*MinioStore, error) {
	region := opts.Region
	if region == "" && opts.Provider == ProviderS3 {
		region = "us-east-1"
	}

	cli, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("objectstore: construct client for provider %s: %w", opts.Provider, err)
	}

	return &MinioStore{client: cli, bucket: opts.Bucket, logger: logger.With().Str("component", "objectstore").Logger()}, nil
}

func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("objectstore: check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("objectstore: create bucket %s: %w", s.bucket, err)
	}
	s.logger.Info().Str("bucket", s.bucket).Msg("bucket created")
	return nil
}

func (s *MinioStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("objectstore: put %s: %w", key, err)
	}
	return nil
}

func (s *MinioStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("objectstore: get %s: %w", key, err)
	}
	// minio-go defers the actual request until first Stat/Read; probe now
	// so a missing key surfaces here rather than on the caller's first read.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("objectstore: stat %s: %w", key, err)
	}
	return obj, nil
}

func (s *MinioStore) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("objectstore: head %s: %w", key, err)
	}
	return &ObjectInfo{Key: key, Size: info.Size, ETag: info.ETag, LastModified: info.LastModified.Unix()}, nil
}

func (s *MinioStore) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("objectstore: delete %s: %w", key, err)
	}
	return nil
}

func (s *MinioStore) Copy(ctx context.Context, srcKey, dstKey string) error {
	src := minio.CopySrcOptions{Bucket: s.bucket, Object: srcKey}
	dst := minio.CopyDestOptions{Bucket: s.bucket, Object: dstKey}
	if _, err := s.client.CopyObject(ctx, dst, src); err != nil {
		return fmt.Errorf("objectstore: copy %s -> %s: %w", srcKey, dstKey, err)
	}
	return nil
}

func (s *MinioStore) List(ctx context.Context, prefix string, delimiter string, continuationKey string) (*ListResult, error) {
	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	res := &ListResult{}
	seenPrefixes := make(map[string]bool)
	for obj := range s.client.ListObjects(listCtx, s.bucket, minio.ListObjectsOptions{
		Prefix:       prefix,
		Recursive:    delimiter == "",
		StartAfter:   continuationKey,
		WithMetadata: false,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("objectstore: list prefix %s: %w", prefix, obj.Err)
		}
		if delimiter != "" && obj.Key == "" && obj.Prefix != "" {
			if !seenPrefixes[obj.Prefix] {
				seenPrefixes[obj.Prefix] = true
				res.CommonPrefixes = append(res.CommonPrefixes, obj.Prefix)
			}
			continue
		}
		res.Objects = append(res.Objects, ObjectInfo{
			Key:          obj.Key,
			Size:         obj.Size,
			ETag:         obj.ETag,
			LastModified: obj.LastModified.Unix(),
		})
	}
	return res, nil
}

func (s *MinioStore) ListAll(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var all []ObjectInfo
	cursor := ""
	for {
		page, err := s.List(ctx, prefix, "", cursor)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Objects...)
		if page.ContinuationKey == "" {
			break
		}
		cursor = page.ContinuationKey
	}
	return all, nil
}

func (s *MinioStore) DeletePrefix(ctx context.Context, prefix string) error {
	objs, err := s.ListAll(ctx, prefix)
	if err != nil {
		return err
	}
	objCh := make(chan minio.ObjectInfo, len(objs))
	for _, o := range objs {
		objCh <- minio.ObjectInfo{Key: o.Key}
	}
	close(objCh)

	for result := range s.client.RemoveObjects(ctx, s.bucket, objCh, minio.RemoveObjectsOptions{}) {
		if result.Err != nil {
			return fmt.Errorf("objectstore: delete prefix %s: %w", prefix, result.Err)
		}
	}
	return nil
}

// UploadDir mirrors localDir into the bucket under prefix, skipping any
// file above maxFileBytes (spec.md §3: files over the mirror ceiling are
// never synced in either direction).
func (s *MinioStore) UploadDir(ctx context.Context, localDir, prefix string, maxFileBytes int64) (int, int, error) {
	uploaded, skipped := 0, 0
	err := filepath.WalkDir(localDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if maxFileBytes > 0 && info.Size() > maxFileBytes {
			skipped++
			return nil
		}
		rel, err := filepath.Rel(localDir, path)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		key := joinKey(prefix, rel)
		if err := s.Put(ctx, key, f, info.Size(), ""); err != nil {
			return err
		}
		uploaded++
		return nil
	})
	if err != nil {
		return uploaded, skipped, fmt.Errorf("objectstore: upload dir %s: %w", localDir, err)
	}
	return uploaded, skipped, nil
}

// DownloadDir mirrors everything under prefix down into localDir, skipping
// any object above maxFileBytes.
func (s *MinioStore) DownloadDir(ctx context.Context, prefix, localDir string, maxFileBytes int64) (int, error) {
	objs, err := s.ListAll(ctx, prefix)
	if err != nil {
		return 0, err
	}

	downloaded := 0
	for _, obj := range objs {
		if maxFileBytes > 0 && obj.Size > maxFileBytes {
			continue
		}
		localPath, ok := keyToLocalPath(obj.Key, prefix, localDir)
		if !ok {
			continue
		}
		if err := ensureParentDir(localPath); err != nil {
			return downloaded, fmt.Errorf("objectstore: prepare %s: %w", localPath, err)
		}
		rc, err := s.Get(ctx, obj.Key)
		if err != nil {
			return downloaded, fmt.Errorf("objectstore: fetch %s: %w", obj.Key, err)
		}
		if err := writeFile(localPath, rc); err != nil {
			rc.Close()
			return downloaded, err
		}
		rc.Close()
		downloaded++
	}
	return downloaded, nil
}

func writeFile(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("objectstore: create %s: %w", path, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("objectstore: write %s: %w", path, err)
	}
	return nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchObject" || resp.Code == "NotFound"
}
