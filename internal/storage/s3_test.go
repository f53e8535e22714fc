package storage

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeObjectServer speaks just enough of the S3 REST protocol, with
// path-style addressing, to exercise the client end to end.
type fakeObjectServer struct {
	mu      sync.Mutex
	buckets map[string]bool
	objects map[string][]byte
}

func newFakeObjectServer() *fakeObjectServer {
	return &fakeObjectServer{buckets: map[string]bool{}, objects: map[string][]byte{}}
}

func (f *fakeObjectServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	trimmed := strings.Trim(r.URL.Path, "/")
	bucket, key, hasKey := strings.Cut(trimmed, "/")

	switch {
	case !hasKey && r.Method == http.MethodHead:
		if f.buckets[bucket] {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusNotFound)
		}
	case !hasKey && r.Method == http.MethodPut:
		f.buckets[bucket] = true
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[bucket+"/"+key] = body
		w.Header().Set("ETag", `"fake"`)
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodHead:
		if data, ok := f.objects[bucket+"/"+key]; ok {
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusNotFound)
		}
	case r.Method == http.MethodGet:
		if data, ok := f.objects[bucket+"/"+key]; ok {
			w.Write(data)
		} else {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`<Error><Code>NoSuchKey</Code></Error>`))
		}
	case r.Method == http.MethodDelete:
		delete(f.objects, bucket+"/"+key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestS3(t *testing.T) (*S3, *fakeObjectServer) {
	t.Helper()
	fake := newFakeObjectServer()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	store, err := NewS3(Config{
		Endpoint:  server.URL,
		AccessKey: "test-access",
		SecretKey: "test-secret",
		Bucket:    "artifacts",
	})
	require.NoError(t, err)
	return store, fake
}

func TestObjectLifecycle(t *testing.T) {
	store, _ := newTestS3(t)
	ctx := context.Background()
	payload := []byte("parquet bytes")
	key := "ai/DB1/forecast/clientes.parquet"

	require.NoError(t, store.Upload(ctx, key, bytes.NewReader(payload), int64(len(payload)), parquetContentType))

	found, err := store.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)

	body, err := store.Download(ctx, key)
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	require.NoError(t, store.Delete(ctx, key))

	found, err = store.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestExistsMissingObject(t *testing.T) {
	store, _ := newTestS3(t)

	found, err := store.Exists(context.Background(), "nowhere.parquet")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDownloadMissingObject(t *testing.T) {
	store, _ := newTestS3(t)

	_, err := store.Download(context.Background(), "nowhere.parquet")
	require.Error(t, err)
}

func TestEnsureBucket(t *testing.T) {
	store, fake := newTestS3(t)
	ctx := context.Background()

	require.NoError(t, store.EnsureBucket(ctx))
	assert.True(t, fake.buckets["artifacts"])

	// Second call is a no-op against the existing bucket.
	require.NoError(t, store.EnsureBucket(ctx))
}

func TestNormalizeEndpoint(t *testing.T) {
	cases := map[string]string{
		"http://minio:9000":          "minio:9000",
		"https://s3.example.com/":    "s3.example.com",
		"https://host:9000/path/sub": "host:9000",
		"plain-host":                 "plain-host",
	}
	for input, want := range cases {
		assert.Equal(t, want, normalizeEndpoint(input), "input %q", input)
	}
}

type recordingStore struct {
	key         string
	size        int64
	contentType string
	data        []byte
}

func (r *recordingStore) Upload(_ context.Context, key string, reader io.Reader, size int64, contentType string) error {
	r.key, r.size, r.contentType = key, size, contentType
	data, err := io.ReadAll(reader)
	r.data = data
	return err
}

func (r *recordingStore) Download(context.Context, string) (io.ReadCloser, error) { return nil, nil }
func (r *recordingStore) Delete(context.Context, string) error                    { return nil }
func (r *recordingStore) Exists(context.Context, string) (bool, error)            { return false, nil }

func TestUploadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clientes.parquet")
	require.NoError(t, os.WriteFile(path, []byte("column data"), 0o644))

	store := &recordingStore{}
	require.NoError(t, UploadFile(context.Background(), store, "ai/DB1/clientes.parquet", path))

	assert.Equal(t, "ai/DB1/clientes.parquet", store.key)
	assert.Equal(t, int64(len("column data")), store.size)
	assert.Equal(t, parquetContentType, store.contentType)
	assert.Equal(t, []byte("column data"), store.data)
}

func TestUploadFileMissingFile(t *testing.T) {
	err := UploadFile(context.Background(), &recordingStore{}, "key", filepath.Join(t.TempDir(), "absent.parquet"))
	require.Error(t, err)
}
