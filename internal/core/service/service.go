package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/niksmo/product-intake/internal/core/domain"
	"github.com/niksmo/product-intake/internal/core/port"
	"github.com/niksmo/product-intake/pkg/future"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/niksmo/product-intake/internal/core/service"

var _ port.Submitter = (*Service)(nil)
var _ port.ProductReader = (*Service)(nil)

var errNonPositivePrice = errors.New("price must be positive")

type Opt func(*options) error

type options struct {
	collection string
	keyPrefix  string
	limit      int
	newID      func() string
	tp         trace.TracerProvider
}

func CollectionOpt(name string) Opt {
	return func(o *options) error {
		if name == "" {
			return errors.New("collection name is empty string")
		}
		o.collection = name
		return nil
	}
}

func KeyPrefixOpt(prefix string) Opt {
	return func(o *options) error {
		o.keyPrefix = prefix
		return nil
	}
}

// ConcurrencyOpt bounds the number of images of a single submission
// uploaded at once. Zero means one goroutine per image.
func ConcurrencyOpt(n int) Opt {
	return func(o *options) error {
		if n < 0 {
			return fmt.Errorf("negative concurrency limit %d", n)
		}
		o.limit = n
		return nil
	}
}

// IDGeneratorOpt replaces the UUID generator used for product ids and
// object keys. fn must be safe for concurrent use.
func IDGeneratorOpt(fn func() string) Opt {
	return func(o *options) error {
		if fn == nil {
			return errors.New("id generator is nil")
		}
		o.newID = fn
		return nil
	}
}

// TracerProviderOpt replaces the global tracer provider.
func TracerProviderOpt(tp trace.TracerProvider) Opt {
	return func(o *options) error {
		if tp == nil {
			return errors.New("tracer provider is nil")
		}
		o.tp = tp
		return nil
	}
}

// A Service runs the product submission pipeline: concurrent image upload,
// record assembly once every upload settles, a single document write.
type Service struct {
	objects  port.ObjectStore
	docs     port.DocumentStore
	resolver port.ImageResolver
	encoder  port.ImageEncoder
	opts     options
	tracer   trace.Tracer

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func New(
	objects port.ObjectStore,
	docs port.DocumentStore,
	resolver port.ImageResolver,
	encoder port.ImageEncoder,
	opts ...Opt,
) (*Service, error) {
	const op = "service.New"

	if objects == nil || docs == nil || resolver == nil || encoder == nil {
		return nil, fmt.Errorf("%s: nil collaborator", op)
	}

	o := options{
		collection: domain.ProductsCollection,
		keyPrefix:  domain.ImagesKeyPrefix,
		newID:      uuid.NewString,
		tp:         otel.GetTracerProvider(),
	}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	return &Service{
		objects:  objects,
		docs:     docs,
		resolver: resolver,
		encoder:  encoder,
		opts:     o,
		tracer:   o.tp.Tracer(tracerName),
	}, nil
}

// Submit starts the pipeline for d and returns immediately.
//
// The pipeline is detached from ctx cancellation: once submitted it runs
// to completion. The returned future resolves exactly once.
func (s *Service) Submit(
	ctx context.Context, d domain.Draft,
) *future.Future[domain.Outcome] {
	const op = "Service.Submit"

	f := future.New[domain.Outcome]()

	if !s.track() {
		f.Resolve(domain.Outcome{
			Requested: len(d.ImageRefs),
			Err:       fmt.Errorf("%s: %w", op, domain.ErrClosed),
		})
		return f
	}

	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("pipeline panicked", "op", op, "panic", r)
				f.Resolve(domain.Outcome{
					Requested: len(d.ImageRefs),
					Err:       fmt.Errorf("%s: panic: %v", op, r),
				})
			}
		}()
		f.Resolve(s.run(context.WithoutCancel(ctx), d))
	}()

	return f
}

// Close rejects new submissions and waits for in-flight ones.
func (s *Service) Close(ctx context.Context) error {
	const op = "Service.Close"

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
}

func (s *Service) Product(ctx context.Context, id string) (domain.Product, error) {
	const op = "Service.Product"

	p, err := s.docs.FindDocument(ctx, s.opts.collection, id)
	if err != nil {
		return domain.Product{}, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

func (s *Service) track() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Service) run(ctx context.Context, d domain.Draft) domain.Outcome {
	const op = "Service.run"

	productID := s.opts.newID()
	log := slog.With("op", op, "productID", productID)

	ctx, span := s.tracer.Start(ctx, "Service.Submit", trace.WithAttributes(
		attribute.String("product.id", productID),
		attribute.String("product.category", d.Category),
		attribute.Int("images.requested", len(d.ImageRefs)),
	))
	defer span.End()

	outcome := domain.Outcome{Requested: len(d.ImageRefs)}

	results := s.uploadImages(ctx, d.ImageRefs)

	urls := make([]string, 0, len(results))
	for _, r := range results {
		if !r.OK() {
			log.Warn("image dropped", "err", r.Err)
			continue
		}
		urls = append(urls, r.URL)
	}
	span.SetAttributes(attribute.Int("images.uploaded", len(urls)))

	p, err := assemble(productID, d, urls)
	if err != nil {
		s.logOrphans(log, results)
		outcome.Err = fmt.Errorf("%s: %w", op, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "assembly failed")
		return outcome
	}

	docID, err := s.docs.AddDocument(ctx, s.opts.collection, p)
	if err != nil {
		s.logOrphans(log, results)
		outcome.Err = fmt.Errorf("%s: %w: %w", op, domain.ErrPersistence, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "persistence failed")
		return outcome
	}

	outcome.Product = p
	outcome.DocumentID = docID
	log.Info(
		"product persisted",
		"documentID", docID,
		"images", len(urls),
		"dropped", outcome.Dropped(),
	)
	return outcome
}

// uploadImages fans out one task per reference and returns once every task
// has settled. Each task owns the slot of its reference, so results keep
// submission order.
func (s *Service) uploadImages(
	ctx context.Context, refs []domain.ImageRef,
) []domain.UploadResult {
	results := make([]domain.UploadResult, len(refs))

	var g errgroup.Group
	if s.opts.limit > 0 {
		g.SetLimit(s.opts.limit)
	}

	for i, ref := range refs {
		g.Go(func() error {
			results[i] = s.uploadImage(ctx, ref)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (s *Service) uploadImage(
	ctx context.Context, ref domain.ImageRef,
) (res domain.UploadResult) {
	res.Ref = ref

	defer func() {
		if r := recover(); r != nil {
			res.URL = ""
			res.Err = &domain.AssetUploadError{
				Ref: ref, Err: fmt.Errorf("panic: %v", r),
			}
		}
	}()

	res.Key = s.opts.keyPrefix + s.opts.newID()

	ctx, span := s.tracer.Start(ctx, "Service.uploadImage", trace.WithAttributes(
		attribute.String("image.ref", string(ref)),
		attribute.String("image.key", res.Key),
	))
	defer span.End()

	url, err := s.storeImage(ctx, res.Key, ref)
	if err != nil {
		res.Err = &domain.AssetUploadError{Ref: ref, Err: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, "upload failed")
		return res
	}

	res.URL = url
	return res
}

func (s *Service) storeImage(
	ctx context.Context, key string, ref domain.ImageRef,
) (string, error) {
	src, err := s.resolver.Resolve(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("resolve: %w", err)
	}

	data, err := s.encoder.Encode(src)
	if err != nil {
		return "", fmt.Errorf("encode: %w", err)
	}

	h, err := s.objects.Put(ctx, key, data, s.encoder.ContentType())
	if err != nil {
		return "", fmt.Errorf("put: %w", err)
	}

	url, err := s.objects.PublicURL(ctx, h)
	if err != nil {
		return "", fmt.Errorf("public url: %w", err)
	}
	return url, nil
}

// logOrphans reports uploaded objects left behind by a failed submission.
// They are not removed.
func (s *Service) logOrphans(log *slog.Logger, results []domain.UploadResult) {
	var keys []string
	for _, r := range results {
		if r.OK() {
			keys = append(keys, r.Key)
		}
	}
	if len(keys) != 0 {
		log.Warn("uploaded images orphaned", "keys", keys)
	}
}

func assemble(id string, d domain.Draft, urls []string) (domain.Product, error) {
	price, err := decimal.NewFromString(d.Price)
	if err != nil {
		return domain.Product{}, &domain.ParseError{
			Field: "price", Value: d.Price, Err: err,
		}
	}
	if !price.IsPositive() {
		return domain.Product{}, &domain.ParseError{
			Field: "price", Value: d.Price, Err: errNonPositivePrice,
		}
	}

	p := domain.Product{
		ID:       id,
		Name:     d.Name,
		Category: d.Category,
		Price:    price,
		Images:   urls,
	}

	if d.OfferPercentage != "" {
		offer, err := decimal.NewFromString(d.OfferPercentage)
		if err != nil {
			return domain.Product{}, &domain.ParseError{
				Field: "offerPercentage", Value: d.OfferPercentage, Err: err,
			}
		}
		p.OfferPercentage = &offer
	}

	if d.Description != "" {
		desc := d.Description
		p.Description = &desc
	}

	if len(d.Sizes) != 0 {
		p.Sizes = append([]string(nil), d.Sizes...)
	}

	if len(d.Colors) != 0 {
		p.Colors = append([]domain.Color(nil), d.Colors...)
	}

	return p, nil
}
