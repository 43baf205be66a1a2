package port

import (
	"context"

	"github.com/niksmo/product-intake/internal/core/domain"
	"github.com/niksmo/product-intake/pkg/future"
)

type ObjectStore interface {
	Put(
		ctx context.Context, key string, data []byte, contentType string,
	) (domain.ObjectHandle, error)
	PublicURL(context.Context, domain.ObjectHandle) (string, error)
}

type DocumentStore interface {
	AddDocument(
		ctx context.Context, collection string, p domain.Product,
	) (docID string, err error)
	FindDocument(
		ctx context.Context, collection string, productID string,
	) (domain.Product, error)
}

// An ImageResolver returns decodable bytes for a local resource handle.
type ImageResolver interface {
	Resolve(context.Context, domain.ImageRef) ([]byte, error)
}

// An ImageEncoder re-encodes source image bytes for upload.
type ImageEncoder interface {
	Encode(src []byte) ([]byte, error)
	ContentType() string
}

type Submitter interface {
	Submit(context.Context, domain.Draft) *future.Future[domain.Outcome]
}

type ProductReader interface {
	Product(ctx context.Context, id string) (domain.Product, error)
}

type OutcomeReporter interface {
	ReportOutcome(
		ctx context.Context,
		submissionID string,
		in domain.DraftInput,
		o domain.Outcome,
	) error
}

// A SubmissionGuard reports whether a submission id is seen for the
// first time. Release forgets an id whose outcome was not reported, so the
// redelivered draft is processed again.
type SubmissionGuard interface {
	Acquire(ctx context.Context, submissionID string) (bool, error)
	Release(ctx context.Context, submissionID string) error
}

type StatsReader interface {
	CategoryStats(ctx context.Context, category string) (domain.CategoryStats, error)
}
