package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/niksmo/product-intake/internal/core/domain"
	"github.com/niksmo/product-intake/internal/core/port"
	"github.com/sony/gobreaker/v2"
)

var _ port.ImageResolver = (*Remote)(nil)

// A Remote downloads images over HTTP behind a circuit breaker, so a dead
// image host fails fast for the rest of the batch.
type Remote struct {
	client  *http.Client
	cb      *gobreaker.CircuitBreaker[[]byte]
	maxSize int64
}

func NewRemote(timeout time.Duration, maxSize int64) *Remote {
	return NewRemoteWithClient(&http.Client{Timeout: timeout}, maxSize)
}

func NewRemoteWithClient(client *http.Client, maxSize int64) *Remote {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Remote{
		client:  client,
		cb:      newBreaker("remote-images"),
		maxSize: maxSize,
	}
}

func newBreaker(name string) *gobreaker.CircuitBreaker[[]byte] {
	var st gobreaker.Settings
	st.Name = name
	st.Timeout = 30 * time.Second
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
		return counts.Requests >= 3 && failureRatio >= 0.6
	}
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		slog.Warn(
			"circuit breaker state changed",
			"op", "Remote.breaker", "name", name,
			"from", from.String(), "to", to.String(),
		)
	}
	return gobreaker.NewCircuitBreaker[[]byte](st)
}

func (r *Remote) Resolve(
	ctx context.Context, ref domain.ImageRef,
) ([]byte, error) {
	const op = "Remote.Resolve"

	data, err := r.cb.Execute(func() ([]byte, error) {
		return r.fetch(ctx, string(ref))
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return data, nil
}

func (r *Remote) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	res, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %q", res.Status)
	}
	return readLimited(res.Body, r.maxSize)
}
