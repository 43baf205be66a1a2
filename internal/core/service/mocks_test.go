package service_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/niksmo/product-intake/internal/core/domain"
	"github.com/stretchr/testify/mock"
)

var (
	errTransport = errors.New("transport failure")
	errDecode    = errors.New("image: unknown format")
)

type MockDocumentStore struct {
	mock.Mock
}

func (m *MockDocumentStore) AddDocument(
	ctx context.Context, collection string, p domain.Product,
) (string, error) {
	args := m.Called(ctx, collection, p)
	return args.String(0), args.Error(1)
}

func (m *MockDocumentStore) FindDocument(
	ctx context.Context, collection string, productID string,
) (domain.Product, error) {
	args := m.Called(ctx, collection, productID)
	return args.Get(0).(domain.Product), args.Error(1)
}

// fakeObjectStore keeps objects in memory and sleeps a random time on every
// Put, so uploads settle in arbitrary order.
type fakeObjectStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	failPut  func(key string) bool
	maxDelay time.Duration
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{
		objects:  make(map[string][]byte),
		maxDelay: 5 * time.Millisecond,
	}
}

func (s *fakeObjectStore) Put(
	ctx context.Context, key string, data []byte, contentType string,
) (domain.ObjectHandle, error) {
	if s.maxDelay > 0 {
		time.Sleep(rand.N(s.maxDelay))
	}
	if s.failPut != nil && s.failPut(key) {
		return domain.ObjectHandle{}, errTransport
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return domain.ObjectHandle{Key: key, Size: int64(len(data))}, nil
}

func (s *fakeObjectStore) PublicURL(
	ctx context.Context, h domain.ObjectHandle,
) (string, error) {
	return "https://objects.test/" + h.Key, nil
}

func (s *fakeObjectStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

func (s *fakeObjectStore) urls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	urls := make([]string, 0, len(s.objects))
	for k := range s.objects {
		urls = append(urls, "https://objects.test/"+k)
	}
	return urls
}

// fakeResolver returns the ref itself as image bytes unless the ref is
// listed as broken.
type fakeResolver struct {
	broken map[domain.ImageRef]bool
	panics map[domain.ImageRef]bool
	gate   chan struct{}
}

func (r *fakeResolver) Resolve(
	ctx context.Context, ref domain.ImageRef,
) ([]byte, error) {
	if r.gate != nil {
		<-r.gate
	}
	if r.panics[ref] {
		panic("resolver exploded")
	}
	if r.broken[ref] {
		return nil, errDecode
	}
	return []byte(ref), nil
}

type passthroughEncoder struct{}

func (passthroughEncoder) Encode(src []byte) ([]byte, error) {
	return src, nil
}

func (passthroughEncoder) ContentType() string {
	return "image/jpeg"
}

type sequence struct {
	n atomic.Int64
}

func (s *sequence) next() string {
	return fmt.Sprintf("id-%d", s.n.Add(1))
}

func refs(n int) []domain.ImageRef {
	rs := make([]domain.ImageRef, n)
	for i := range rs {
		rs[i] = domain.ImageRef(fmt.Sprintf("file:///tmp/img-%02d.png", i))
	}
	return rs
}
