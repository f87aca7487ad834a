package media

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"
)

type putCall struct {
	bucket, key, contentType string
	size                     int64
	body                     []byte
}

type fakeObjects struct {
	puts    []putCall
	removed []string
	exists  bool
	made    []string
	putErr  error
}

func (f *fakeObjects) PutObject(_ context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.putErr != nil {
		return minio.UploadInfo{}, f.putErr
	}
	body, _ := io.ReadAll(r)
	f.puts = append(f.puts, putCall{bucket: bucket, key: key, contentType: opts.ContentType, size: size, body: body})
	return minio.UploadInfo{Bucket: bucket, Key: key, Size: size}, nil
}

func (f *fakeObjects) RemoveObject(_ context.Context, _ string, key string, _ minio.RemoveObjectOptions) error {
	f.removed = append(f.removed, key)
	return nil
}

func (f *fakeObjects) BucketExists(context.Context, string) (bool, error) {
	return f.exists, nil
}

func (f *fakeObjects) MakeBucket(_ context.Context, bucket string, _ minio.MakeBucketOptions) error {
	f.made = append(f.made, bucket)
	return nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func newTestStore(objects *fakeObjects, maxBytes int64) *Store {
	return newStore(objects, Config{Bucket: "picwall-images", PublicBaseURL: "http://cdn.test/picwall-images/", MaxBytes: maxBytes})
}

func TestUploadStoresImage(t *testing.T) {
	objects := &fakeObjects{}
	store := newTestStore(objects, 1<<20)
	body := pngBytes(t, 4, 3)

	img, err := store.Upload(context.Background(), "usr_1", "image/png", int64(len(body)), bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if !strings.HasPrefix(img.Ref, "posts/usr_1/img_") || !strings.HasSuffix(img.Ref, ".png") {
		t.Fatalf("unexpected ref %q", img.Ref)
	}
	if img.Width != 4 || img.Height != 3 {
		t.Fatalf("unexpected dimensions %dx%d", img.Width, img.Height)
	}
	if img.URL != "http://cdn.test/picwall-images/"+img.Ref {
		t.Fatalf("unexpected url %q", img.URL)
	}
	if len(objects.puts) != 1 {
		t.Fatalf("expected one put, got %d", len(objects.puts))
	}
	put := objects.puts[0]
	if put.bucket != "picwall-images" || put.contentType != "image/png" || !bytes.Equal(put.body, body) {
		t.Fatalf("unexpected put %+v", put)
	}
	if !OwnsRef("usr_1", img.Ref) || OwnsRef("usr_2", img.Ref) {
		t.Fatal("OwnsRef mismatch")
	}
}

func TestUploadRejects(t *testing.T) {
	body := pngBytes(t, 2, 2)
	cases := []struct {
		name        string
		contentType string
		size        int64
		body        []byte
		maxBytes    int64
		want        error
	}{
		{"declared too large", "image/png", 10 << 20, body, 1 << 20, ErrTooLarge},
		{"body too large", "image/png", -1, body, 16, ErrTooLarge},
		{"text", "text/plain", int64(len(body)), body, 1 << 20, ErrUnsupportedType},
		{"mismatched type", "image/jpeg", int64(len(body)), body, 1 << 20, ErrUnsupportedType},
		{"empty", "image/png", 0, nil, 1 << 20, ErrEmpty},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			objects := &fakeObjects{}
			_, err := newTestStore(objects, tc.maxBytes).Upload(context.Background(), "usr_1", tc.contentType, tc.size, bytes.NewReader(tc.body))
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if len(objects.puts) != 0 {
				t.Fatal("rejected upload must not reach storage")
			}
		})
	}
}

func TestUploadSurfacesStorageError(t *testing.T) {
	objects := &fakeObjects{putErr: errors.New("bucket gone")}
	body := pngBytes(t, 1, 1)
	_, err := newTestStore(objects, 0).Upload(context.Background(), "usr_1", "image/png; charset=binary", int64(len(body)), bytes.NewReader(body))
	if err == nil || !strings.Contains(err.Error(), "bucket gone") {
		t.Fatalf("expected storage error, got %v", err)
	}
}

func TestEnsureBucket(t *testing.T) {
	objects := &fakeObjects{}
	if err := newTestStore(objects, 0).EnsureBucket(context.Background()); err != nil {
		t.Fatalf("EnsureBucket() error = %v", err)
	}
	if len(objects.made) != 1 || objects.made[0] != "picwall-images" {
		t.Fatalf("expected bucket creation, got %v", objects.made)
	}

	objects = &fakeObjects{exists: true}
	if err := newTestStore(objects, 0).EnsureBucket(context.Background()); err != nil {
		t.Fatalf("EnsureBucket() error = %v", err)
	}
	if len(objects.made) != 0 {
		t.Fatal("existing bucket must not be recreated")
	}
}

func TestDeleteIgnoresForeignRefs(t *testing.T) {
	objects := &fakeObjects{}
	store := newTestStore(objects, 0)
	if err := store.Delete(context.Background(), "https://elsewhere/x.png"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := store.Delete(context.Background(), "posts/usr_1/a.png"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if len(objects.removed) != 1 || objects.removed[0] != "posts/usr_1/a.png" {
		t.Fatalf("unexpected removals %v", objects.removed)
	}
	if store.URL("") != "" {
		t.Fatal("empty ref should have empty url")
	}
}
