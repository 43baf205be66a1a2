package httphandler

import (
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/niksmo/product-intake/internal/core/domain"
)

// A Stager writes uploaded multipart files to disk so the image resolver
// can read them back as "file://" references.
//
// The stager dir must lie inside the file resolver root.
type Stager struct {
	dir string
}

func NewStager(dir string) (*Stager, error) {
	const op = "NewStager"

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Stager{abs}, nil
}

// Stage copies files into a fresh directory and returns their references
// in the given order. The cleanup func removes the directory.
func (s *Stager) Stage(
	files []*multipart.FileHeader,
) (refs []domain.ImageRef, cleanup func(), err error) {
	const op = "Stager.Stage"

	tmp, err := os.MkdirTemp(s.dir, "upload-*")
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	cleanup = func() {
		if err := os.RemoveAll(tmp); err != nil {
			slog.Warn(
				"failed to remove staged files",
				"op", op, "dir", tmp, "err", err,
			)
		}
	}

	refs = make([]domain.ImageRef, 0, len(files))
	for i, fh := range files {
		name := filepath.Join(tmp, stagedName(i, fh.Filename))
		if err := stageFile(fh, name); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		u := url.URL{Scheme: "file", Path: filepath.ToSlash(name)}
		refs = append(refs, domain.ImageRef(u.String()))
	}
	return refs, cleanup, nil
}

func stagedName(i int, filename string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if len(ext) > 8 || strings.ContainsAny(ext, `/\`) {
		ext = ""
	}
	return fmt.Sprintf("%03d%s", i, ext)
}

func stageFile(fh *multipart.FileHeader, name string) error {
	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}
