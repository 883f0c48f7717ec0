package storage

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBucket struct {
	mu       sync.Mutex
	requests []string
	objects  map[string]bool
}

func (b *fakeBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.requests = append(b.requests, r.Method+" "+r.URL.Path)
	switch r.Method {
	case http.MethodPut:
		b.objects[r.URL.Path] = true
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodHead:
		if b.objects[r.URL.Path] {
			w.Header().Set("Content-Type", "image/png")
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	case http.MethodDelete:
		delete(b.objects, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestClient(t *testing.T) (*s3Client, *fakeBucket) {
	t.Helper()

	bucket := &fakeBucket{objects: make(map[string]bool)}
	srv := httptest.NewServer(bucket)
	t.Cleanup(srv.Close)

	c, err := newS3Client(context.Background(), ServiceConfig{
		S3BucketName:      "cards",
		S3Endpoint:        srv.URL,
		S3AccessKeyID:     "key",
		S3SecretAccessKey: "secret",
		S3Region:          "us-east-1",
	})
	require.NoError(t, err)
	return c, bucket
}

func TestNewS3ClientRequiresSettings(t *testing.T) {
	_, err := newS3Client(context.Background(), ServiceConfig{S3BucketName: "cards"})
	assert.Error(t, err)
	assert.False(t, ServiceConfig{}.Enabled())
}

func TestPresignDownload(t *testing.T) {
	c, _ := newTestClient(t)

	url, err := c.PresignDownload(context.Background(), "challenges/abc.png", 15*time.Minute)
	require.NoError(t, err)

	assert.Contains(t, url, "/cards/challenges/abc.png")
	assert.Contains(t, url, "X-Amz-Signature=")
	assert.Contains(t, url, "X-Amz-Expires=900")
}

func TestUploadExistsDelete(t *testing.T) {
	c, bucket := newTestClient(t)
	ctx := context.Background()

	ok, err := c.Exists(ctx, "challenges/abc.png")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Upload(ctx, "challenges/abc.png", "image/png", bytes.NewReader([]byte("png"))))

	ok, err = c.Exists(ctx, "challenges/abc.png")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.Delete(ctx, "challenges/abc.png"))

	ok, err = c.Exists(ctx, "challenges/abc.png")
	require.NoError(t, err)
	assert.False(t, ok)

	bucket.mu.Lock()
	defer bucket.mu.Unlock()
	var methods []string
	for _, r := range bucket.requests {
		methods = append(methods, strings.Fields(r)[0])
	}
	assert.Equal(t, []string{"HEAD", "PUT", "HEAD", "DELETE", "HEAD"}, methods)
}
