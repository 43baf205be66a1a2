package objectstore_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/niksmo/product-intake/internal/adapter/objectstore"
	"github.com/niksmo/product-intake/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 answers the subset of the S3 API the store uses.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func (s *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch r.Method {
	case http.MethodHead:
		w.WriteHeader(http.StatusOK)
	case http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		s.objects[r.URL.Path] = data
		s.types[r.URL.Path] = r.Header.Get("Content-Type")
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newS3(t *testing.T, publicBaseURL string) (*objectstore.S3Store, *fakeS3) {
	t.Helper()
	fake := &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	store, err := objectstore.NewS3Store(t.Context(), objectstore.S3Config{
		Endpoint:      strings.TrimPrefix(srv.URL, "http://"),
		AccessKey:     "access",
		SecretKey:     "secret",
		Bucket:        "products",
		Region:        "us-east-1",
		PublicBaseURL: publicBaseURL,
	})
	require.NoError(t, err)
	return store, fake
}

func TestS3Store(t *testing.T) {
	t.Run("Put", func(t *testing.T) {
		store, fake := newS3(t, "")

		h, err := store.Put(t.Context(), "products/images/a", []byte("jpeg"), "image/jpeg")
		require.NoError(t, err)
		assert.Equal(t, "products/images/a", h.Key)

		fake.mu.Lock()
		defer fake.mu.Unlock()
		require.Contains(t, fake.objects, "/products/products/images/a")
		assert.Contains(t, string(fake.objects["/products/products/images/a"]), "jpeg")
		assert.Equal(t, "image/jpeg", fake.types["/products/products/images/a"])
	})

	t.Run("PresignedURL", func(t *testing.T) {
		store, _ := newS3(t, "")

		url, err := store.PublicURL(t.Context(), domain.ObjectHandle{Key: "products/images/a"})
		require.NoError(t, err)
		assert.Contains(t, url, "/products/products/images/a?")
		assert.Contains(t, url, "X-Amz-Signature=")
	})

	t.Run("PublicBaseURL", func(t *testing.T) {
		store, _ := newS3(t, "https://cdn.example.com/")

		url, err := store.PublicURL(t.Context(), domain.ObjectHandle{Key: "products/images/a b"})
		require.NoError(t, err)
		assert.Equal(t, "https://cdn.example.com/products/products/images/a%20b", url)
	})
}

func TestGridFSStorePublicURL(t *testing.T) {
	store := objectstore.NewGridFSStore(nil, "images", "http://localhost:8080/")

	url, err := store.PublicURL(t.Context(), domain.ObjectHandle{Key: "products/images/a"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/v1/images/products/images/a", url)
}
