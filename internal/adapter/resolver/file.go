package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/niksmo/product-intake/internal/core/domain"
	"github.com/niksmo/product-intake/internal/core/port"
)

var ErrOutsideRoot = errors.New("path is outside of the images root")

var _ port.ImageResolver = (*File)(nil)

// A File reads images from the local filesystem, confined to a root
// directory.
type File struct {
	dir     string
	root    *os.Root
	maxSize int64
}

func NewFile(dir string, maxSize int64) (*File, error) {
	const op = "resolver.NewFile"

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	root, err := os.OpenRoot(abs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &File{dir: abs, root: root, maxSize: maxSize}, nil
}

func (f *File) Close() error {
	return f.root.Close()
}

func (f *File) Resolve(
	ctx context.Context, ref domain.ImageRef,
) ([]byte, error) {
	const op = "File.Resolve"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	name, err := f.relPath(ref)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	file, err := f.root.Open(name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer file.Close()

	data, err := readLimited(file, f.maxSize)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return data, nil
}

func (f *File) relPath(ref domain.ImageRef) (string, error) {
	p := string(ref)
	if strings.HasPrefix(p, "file:") {
		u, err := url.Parse(p)
		if err != nil {
			return "", err
		}
		p = u.Path
	}

	if !filepath.IsAbs(p) {
		p = filepath.Join(f.dir, p)
	}

	rel, err := filepath.Rel(f.dir, filepath.Clean(p))
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrOutsideRoot
	}
	return rel, nil
}
