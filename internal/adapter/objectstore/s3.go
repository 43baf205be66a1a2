package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/niksmo/product-intake/internal/core/domain"
	"github.com/niksmo/product-intake/internal/core/port"
)

var _ port.ObjectStore = (*S3Store)(nil)

// An S3Config is used for setup [S3Store].
//
// PublicBaseURL is optional: when set, public urls are built from it,
// otherwise they are presigned for PresignExpiry.
type S3Config struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	Region        string
	Secure        bool
	PublicBaseURL string
	PresignExpiry time.Duration
}

type S3Store struct {
	cl            *minio.Client
	bucket        string
	publicBaseURL string
	presignExpiry time.Duration
}

func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	const op = "NewS3Store"
	log := slog.With("op", op, "bucket", cfg.Bucket)

	cl, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	exists, err := cl.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("%s: object store is unavailable: %w", op, err)
	}
	if !exists {
		err := cl.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		log.Info("bucket created")
	}

	expiry := cfg.PresignExpiry
	if expiry <= 0 {
		expiry = 7 * 24 * time.Hour
	}

	log.Info("object store is available")
	return &S3Store{
		cl:            cl,
		bucket:        cfg.Bucket,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		presignExpiry: expiry,
	}, nil
}

func (s *S3Store) Put(
	ctx context.Context, key string, data []byte, contentType string,
) (domain.ObjectHandle, error) {
	const op = "S3Store.Put"

	info, err := s.cl.PutObject(
		ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType},
	)
	if err != nil {
		return domain.ObjectHandle{}, fmt.Errorf("%s: %w", op, err)
	}

	return domain.ObjectHandle{
		Key:  info.Key,
		Size: info.Size,
		ETag: info.ETag,
	}, nil
}

func (s *S3Store) PublicURL(
	ctx context.Context, h domain.ObjectHandle,
) (string, error) {
	const op = "S3Store.PublicURL"

	if s.publicBaseURL != "" {
		return publicURL(s.publicBaseURL, s.bucket, h.Key), nil
	}

	u, err := s.cl.PresignedGetObject(ctx, s.bucket, h.Key, s.presignExpiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return u.String(), nil
}

func publicURL(base string, elems ...string) string {
	for i, e := range elems {
		elems[i] = escapePath(e)
	}
	return base + "/" + strings.Join(elems, "/")
}

// escapePath escapes every segment of p and keeps the slashes.
func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}
