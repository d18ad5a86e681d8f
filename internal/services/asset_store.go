package services

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// AssetStore is where materialized images end up.
type AssetStore interface {
	// Prepare makes sure the destination exists.
	Prepare(ctx context.Context) error
	// Put stores the file at sourcePath under name, replacing any existing asset.
	Put(ctx context.Context, name, sourcePath string) error
	// Location describes the destination for log output.
	Location() string
}

type localAssetStore struct {
	dir string
}

// NewLocalAssetStore copies assets into dir.
func NewLocalAssetStore(dir string) AssetStore {
	return &localAssetStore{dir: dir}
}

func (s *localAssetStore) Prepare(ctx context.Context) error {
	return os.MkdirAll(s.dir, 0755)
}

// Put copies the file and keeps its modification time.
func (s *localAssetStore) Put(ctx context.Context, name, sourcePath string) error {
	src, err := os.Open(sourcePath)
	if err != nil {
		return err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return err
	}

	target := filepath.Join(s.dir, name)
	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return os.Chtimes(target, info.ModTime(), info.ModTime())
}

func (s *localAssetStore) Location() string {
	return s.dir
}

type minioAssetStore struct {
	minio        MinioService
	bucket       string
	objectPrefix string
}

// NewMinioAssetStore uploads assets to bucket under objectPrefix.
func NewMinioAssetStore(minio MinioService, bucket, objectPrefix string) AssetStore {
	return &minioAssetStore{
		minio:        minio,
		bucket:       bucket,
		objectPrefix: strings.Trim(objectPrefix, "/"),
	}
}

func (s *minioAssetStore) Prepare(ctx context.Context) error {
	return s.minio.EnsureBucketExists(ctx, s.bucket)
}

func (s *minioAssetStore) Put(ctx context.Context, name, sourcePath string) error {
	f, err := os.Open(sourcePath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	return s.minio.UploadImage(ctx, s.bucket, s.objectName(name), f, info.Size(), contentTypeFor(name))
}

func (s *minioAssetStore) Location() string {
	return fmt.Sprintf("minio://%s/%s", s.bucket, s.objectPrefix)
}

func (s *minioAssetStore) objectName(name string) string {
	if s.objectPrefix == "" {
		return name
	}
	return path.Join(s.objectPrefix, name)
}

func contentTypeFor(name string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
