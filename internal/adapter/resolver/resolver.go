package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/niksmo/product-intake/internal/core/domain"
	"github.com/niksmo/product-intake/internal/core/port"
)

// DefaultMaxSize limits the number of bytes read for a single image.
const DefaultMaxSize = 20 << 20

var (
	ErrUnsupportedRef = errors.New("unsupported image reference")
	ErrTooLarge       = errors.New("image exceeds size limit")
)

var _ port.ImageResolver = (*Resolver)(nil)

// A Resolver dispatches an image reference by its scheme: "file" or a bare
// path goes to the file resolver, "http" and "https" to the remote one.
// A nil resolver disables its schemes.
type Resolver struct {
	file   *File
	remote *Remote
}

func New(file *File, remote *Remote) *Resolver {
	return &Resolver{file, remote}
}

func (r *Resolver) Resolve(
	ctx context.Context, ref domain.ImageRef,
) ([]byte, error) {
	const op = "Resolver.Resolve"

	scheme := refScheme(ref)
	switch {
	case scheme == "file" && r.file != nil:
		return r.file.Resolve(ctx, ref)
	case (scheme == "http" || scheme == "https") && r.remote != nil:
		return r.remote.Resolve(ctx, ref)
	}
	return nil, fmt.Errorf("%s: %w: %q", op, ErrUnsupportedRef, ref)
}

func refScheme(ref domain.ImageRef) string {
	s := string(ref)
	if strings.HasPrefix(s, "/") {
		return "file"
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" {
		return "file"
	}
	return strings.ToLower(u.Scheme)
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ErrTooLarge
	}
	return data, nil
}
