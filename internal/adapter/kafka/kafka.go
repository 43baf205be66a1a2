package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/lovoo/goka"
	"github.com/niksmo/product-intake/internal/core/domain"
	"github.com/niksmo/product-intake/pkg/schema"
	"github.com/twmb/franz-go/pkg/kgo"
)

var (
	ErrTooFewOpts       = errors.New("too few options")
	ErrInvalidValueType = errors.New("invalid value type")
)

type ProducerOpt func(*producerOpts) error

type producerOpts struct {
	cl      ProducerClient
	encoder Encoder
}

func ProducerClientOpt(
	ctx context.Context, seedBrokers []string, topic string, sec Security,
) ProducerOpt {
	return func(opts *producerOpts) error {
		kgoOpts := append([]kgo.Opt{
			kgo.SeedBrokers(seedBrokers...),
			kgo.DefaultProduceTopicAlways(),
			kgo.DefaultProduceTopic(topic),
			kgo.RequiredAcks(kgo.AllISRAcks()),
			kgo.AllowAutoTopicCreation(),
		}, sec.KgoOpts()...)

		cl, err := kgo.NewClient(kgoOpts...)
		if err != nil {
			return err
		}

		if err := cl.Ping(ctx); err != nil {
			cl.Close()
			return err
		}
		opts.cl = cl
		return nil
	}
}

func ProducerEncoderOpt(encoder Encoder) ProducerOpt {
	return func(opts *producerOpts) error {
		if encoder == nil {
			return errors.New("encoder is nil")
		}
		opts.encoder = encoder
		return nil
	}
}

type ProducerClient interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

type ConsumerClient interface {
	PollFetches(context.Context) kgo.Fetches
	CommitUncommittedOffsets(context.Context) error
	Close()
}

type Encoder interface {
	Encode(v any) ([]byte, error)
}

type Decoder interface {
	Decode(b []byte, v any) error
}

type Serde interface {
	Encoder
	Decoder
}

func withNonlogProcOpt() goka.ProcessorOption {
	return goka.WithLogger(log.New(io.Discard, "", 0))
}

func makeOp(s ...string) string {
	return strings.Join(s, ".")
}

func opErr(err error, op ...string) error {
	return fmt.Errorf("%s: %w", makeOp(op...), err)
}

func schemaV1ToDraftInput(s schema.DraftV1) (v domain.DraftInput) {
	v.Name = s.Name
	v.Category = s.Category
	v.Price = s.Price
	v.OfferPercentage = s.OfferPercentage
	v.Description = s.Description
	v.Sizes = s.Sizes

	if len(s.Colors) != 0 {
		v.Colors = make([]domain.Color, len(s.Colors))
		for i, c := range s.Colors {
			v.Colors[i] = domain.Color(uint32(c))
		}
	}

	v.ImageRefs = make([]domain.ImageRef, len(s.ImageRefs))
	for i, ref := range s.ImageRefs {
		v.ImageRefs[i] = domain.ImageRef(ref)
	}
	return
}

func outcomeToSchemaV1(
	submissionID string, in domain.DraftInput, o domain.Outcome,
) (s schema.OutcomeV1) {
	s.SubmissionID = submissionID
	s.Category = strings.TrimSpace(in.Category)
	s.ImagesRequested = o.Requested
	s.Images = []string{}

	if !o.Success() {
		s.Error = o.Err.Error()
		return
	}

	s.Success = true
	s.ProductID = o.Product.ID
	s.DocumentID = o.DocumentID
	s.Category = o.Product.Category
	if o.Product.Images != nil {
		s.Images = o.Product.Images
	}
	return
}

// schemaV1ToOutcome restores the parts of an outcome the stats need.
func schemaV1ToOutcome(s schema.OutcomeV1) domain.Outcome {
	o := domain.Outcome{
		Requested:  s.ImagesRequested,
		DocumentID: s.DocumentID,
		Product: domain.Product{
			ID:       s.ProductID,
			Category: s.Category,
			Images:   s.Images,
		},
	}
	if !s.Success {
		o.Err = errors.New(s.Error)
	}
	return o
}

func statsToSchemaV1(v domain.CategoryStats) schema.CategoryStatsV1 {
	return schema.CategoryStatsV1{
		Category:        v.Category,
		Submitted:       v.Submitted,
		Succeeded:       v.Succeeded,
		Failed:          v.Failed,
		ImagesRequested: v.ImagesRequested,
		ImagesUploaded:  v.ImagesUploaded,
	}
}

func schemaV1ToStats(s schema.CategoryStatsV1) domain.CategoryStats {
	return domain.CategoryStats{
		Category:        s.Category,
		Submitted:       s.Submitted,
		Succeeded:       s.Succeeded,
		Failed:          s.Failed,
		ImagesRequested: s.ImagesRequested,
		ImagesUploaded:  s.ImagesUploaded,
	}
}
