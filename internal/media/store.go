// Package media stores post images in S3-compatible object storage.
package media

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	_ "golang.org/x/image/webp"

	"picwall/api/internal/util"
)

var (
	ErrUnsupportedType = errors.New("unsupported image type")
	ErrTooLarge        = errors.New("image exceeds upload limit")
	ErrEmpty           = errors.New("image is empty")
)

var extensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
	"image/gif":  "gif",
}

// Image describes a stored upload.
type Image struct {
	Ref         string `json:"imageRef"`
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Size        int64  `json:"size"`
}

// objectClient is the subset of *minio.Client the store needs.
type objectClient interface {
	PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucket, key string, opts minio.RemoveObjectOptions) error
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
}

type Config struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	UseSSL        bool
	PublicBaseURL string
	MaxBytes      int64
}

type Store struct {
	client   objectClient
	bucket   string
	baseURL  string
	maxBytes int64
}

func NewStore(cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return newStore(client, cfg), nil
}

func newStore(client objectClient, cfg Config) *Store {
	return &Store{
		client:   client,
		bucket:   cfg.Bucket,
		baseURL:  strings.TrimRight(cfg.PublicBaseURL, "/"),
		maxBytes: cfg.MaxBytes,
	}
}

func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Upload validates and stores an image owned by owner. The declared content
// type must agree with the sniffed one. size may be -1 when unknown.
func (s *Store) Upload(ctx context.Context, owner, contentType string, size int64, r io.Reader) (Image, error) {
	if s.maxBytes > 0 && size > s.maxBytes {
		return Image{}, ErrTooLarge
	}
	declared := normalizeContentType(contentType)
	ext, ok := extensions[declared]
	if !ok {
		return Image{}, fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}

	limit := s.maxBytes
	if limit <= 0 {
		limit = 32 << 20
	}
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return Image{}, fmt.Errorf("read upload: %w", err)
	}
	if len(body) == 0 {
		return Image{}, ErrEmpty
	}
	if int64(len(body)) > limit {
		return Image{}, ErrTooLarge
	}
	if sniffed := normalizeContentType(http.DetectContentType(body)); sniffed != declared {
		return Image{}, fmt.Errorf("%w: declared %s, got %s", ErrUnsupportedType, declared, sniffed)
	}

	cfg, _, err := image.DecodeConfig(bufio.NewReader(bytes.NewReader(body)))
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrUnsupportedType, err)
	}

	key := ObjectKey(owner, ext)
	if _, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType:  declared,
		CacheControl: "public, max-age=31536000, immutable",
	}); err != nil {
		return Image{}, fmt.Errorf("put object %s: %w", key, err)
	}

	return Image{
		Ref:         key,
		URL:         s.URL(key),
		ContentType: declared,
		Width:       cfg.Width,
		Height:      cfg.Height,
		Size:        int64(len(body)),
	}, nil
}

// Delete removes a stored image. Refs outside the posts/ prefix are ignored.
func (s *Store) Delete(ctx context.Context, ref string) error {
	if !strings.HasPrefix(ref, "posts/") {
		return nil
	}
	if err := s.client.RemoveObject(ctx, s.bucket, ref, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", ref, err)
	}
	return nil
}

func (s *Store) URL(ref string) string {
	if ref == "" {
		return ""
	}
	return s.baseURL + "/" + strings.TrimLeft(ref, "/")
}

// OwnsRef reports whether ref was uploaded by owner.
func OwnsRef(owner, ref string) bool {
	return owner != "" && strings.HasPrefix(ref, "posts/"+owner+"/")
}

func ObjectKey(owner, ext string) string {
	return fmt.Sprintf("posts/%s/%s.%s", owner, util.NewID("img"), ext)
}

func normalizeContentType(value string) string {
	value, _, _ = strings.Cut(value, ";")
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "image/jpg" {
		return "image/jpeg"
	}
	return value
}
