package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/niksmo/product-intake/internal/core/domain"
	"github.com/niksmo/product-intake/internal/core/port"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ImagesPath is the http route prefix GridFS objects are served under.
const ImagesPath = "/v1/images/"

var ErrObjectNotFound = fmt.Errorf("object %w", domain.ErrNotFound)

var _ port.ObjectStore = (*GridFSStore)(nil)

// A GridFSStore keeps objects in a mongo GridFS bucket. Objects are public
// through the service's own images route.
type GridFSStore struct {
	db      *mongo.Database
	bucket  string
	baseURL string
}

func NewGridFSStore(db *mongo.Database, bucket, baseURL string) *GridFSStore {
	return &GridFSStore{
		db:      db,
		bucket:  bucket,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// A [gridfs.Bucket] keeps per-operation deadlines, every call gets its own.
func (s *GridFSStore) newBucket() (*gridfs.Bucket, error) {
	return gridfs.NewBucket(s.db, options.GridFSBucket().SetName(s.bucket))
}

func (s *GridFSStore) Put(
	ctx context.Context, key string, data []byte, contentType string,
) (domain.ObjectHandle, error) {
	const op = "GridFSStore.Put"

	b, err := s.newBucket()
	if err != nil {
		return domain.ObjectHandle{}, fmt.Errorf("%s: %w", op, err)
	}
	if err := setDeadline(ctx, b.SetWriteDeadline); err != nil {
		return domain.ObjectHandle{}, fmt.Errorf("%s: %w", op, err)
	}

	opts := options.GridFSUpload().SetMetadata(bson.D{
		{Key: "contentType", Value: contentType},
	})
	id, err := b.UploadFromStream(key, bytes.NewReader(data), opts)
	if err != nil {
		return domain.ObjectHandle{}, fmt.Errorf("%s: %w", op, err)
	}

	return domain.ObjectHandle{
		Key:  key,
		Size: int64(len(data)),
		ETag: id.Hex(),
	}, nil
}

func (s *GridFSStore) PublicURL(
	ctx context.Context, h domain.ObjectHandle,
) (string, error) {
	return publicURL(s.baseURL+strings.TrimSuffix(ImagesPath, "/"), h.Key), nil
}

// Open returns a reader of the latest revision of key and its content type.
func (s *GridFSStore) Open(
	ctx context.Context, key string,
) (io.ReadCloser, string, error) {
	const op = "GridFSStore.Open"

	b, err := s.newBucket()
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}
	if err := setDeadline(ctx, b.SetReadDeadline); err != nil {
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}

	ds, err := b.OpenDownloadStreamByName(key)
	if err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return nil, "", fmt.Errorf("%s: %w", op, ErrObjectNotFound)
		}
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}

	contentType := "application/octet-stream"
	var meta struct {
		ContentType string `bson:"contentType"`
	}
	if raw := ds.GetFile().Metadata; raw != nil {
		if err := bson.Unmarshal(raw, &meta); err == nil && meta.ContentType != "" {
			contentType = meta.ContentType
		}
	}
	return ds, contentType, nil
}

func setDeadline(ctx context.Context, set func(time.Time) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d, ok := ctx.Deadline(); ok {
		return set(d)
	}
	return nil
}
