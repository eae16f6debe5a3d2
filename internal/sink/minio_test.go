package sink

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-recovery/internal/types"
)

// s3Stub answers the HEAD and PUT object requests the sink makes
type s3Stub struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (s *s3Stub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/")
	s.mu.Lock()
	defer s.mu.Unlock()

	switch r.Method {
	case http.MethodHead:
		data, ok := s.objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Header().Set("ETag", `"stub"`)
		w.Header().Set("Last-Modified", "Mon, 02 Jan 2006 15:04:05 GMT")
		w.WriteHeader(http.StatusOK)
	case http.MethodPut:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		s.objects[key] = data
		w.Header().Set("ETag", `"stub"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodDelete:
		delete(s.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func newStubSink(t *testing.T) (*MinioSink, *s3Stub) {
	t.Helper()
	stub := &s3Stub{objects: make(map[string][]byte)}
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)

	s, err := NewMinioSink(context.Background(), S3Config{
		Endpoint: strings.TrimPrefix(srv.URL, "http://"),
		Bucket:   "recovered",
		Region:   "us-east-1",
		Prefix:   "case-42/",
	})
	require.NoError(t, err)
	return s, stub
}

func TestS3ConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     S3Config
		wantErr string
	}{
		{name: "valid", cfg: S3Config{Endpoint: "localhost:9000", Bucket: "b"}},
		{name: "no bucket", cfg: S3Config{Endpoint: "localhost:9000"}, wantErr: "bucket is required"},
		{name: "no endpoint", cfg: S3Config{Bucket: "b"}, wantErr: "endpoint is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestMinioSinkUpload(t *testing.T) {
	s, stub := newStubSink(t)

	h, err := s.Create("carved/carved_4096.jpg", 10)
	require.NoError(t, err)
	require.NoError(t, h.Append([]byte("01234")))
	require.NoError(t, h.Append([]byte("56789")))
	require.NoError(t, h.Close())

	stub.mu.Lock()
	got := stub.objects["recovered/case-42/carved/carved_4096.jpg"]
	stub.mu.Unlock()
	assert.Equal(t, "0123456789", string(got))
	assert.Equal(t, "s3://recovered/case-42/carved/carved_4096.jpg", s.Location("carved/carved_4096.jpg"))

	_, err = s.Create("carved/carved_4096.jpg", 10)
	assert.ErrorIs(t, err, types.ErrNameCollision)
}

func TestMinioSinkOpenUploadCollides(t *testing.T) {
	s, _ := newStubSink(t)

	h, err := s.Create("a.bin", 2)
	require.NoError(t, err)
	_, err = s.Create("a.bin", 2)
	assert.ErrorIs(t, err, types.ErrNameCollision)

	require.NoError(t, h.Append([]byte("ab")))
	require.NoError(t, h.Close())
}

func TestMinioSinkRemove(t *testing.T) {
	s, stub := newStubSink(t)

	h, err := s.Create("docs/a.txt", 3)
	require.NoError(t, err)
	require.NoError(t, h.Append([]byte("abc")))
	require.NoError(t, h.Close())

	require.NoError(t, s.Remove("docs/a.txt"))
	require.NoError(t, s.Remove("docs/missing.txt"))

	stub.mu.Lock()
	_, ok := stub.objects["recovered/case-42/docs/a.txt"]
	stub.mu.Unlock()
	assert.False(t, ok)
}
