package kafka

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/niksmo/product-intake/internal/core/domain"
	"github.com/niksmo/product-intake/internal/core/port"
	"github.com/niksmo/product-intake/pkg/retry"
	"github.com/niksmo/product-intake/pkg/schema"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

var _ port.OutcomeReporter = OutcomesProducer{}

// A producer is used for composition.
//
// Producing records to kafka broker and closing underlying [kgo.Client].
type producer struct {
	opPrefix string
	cl       ProducerClient
}

func (p producer) close() {
	const op = "close"
	log := slog.With("op", makeOp(p.opPrefix, op))
	log.Info("closing producer...")
	p.cl.Close()
	log.Info("producer is closed")
}

func (p producer) produce(
	ctx context.Context, rs ...*kgo.Record,
) error {
	const op = "produce"
	res := p.cl.ProduceSync(ctx, rs...)
	if err := res.FirstErr(); err != nil {
		return opErr(err, p.opPrefix, op)
	}
	return nil
}

func defaultProduceRetry() retry.RetryConfig {
	return retry.RetryConfig{
		MaxAttempts: 5,
		Backoff:     retry.ExponentialBackoff(50 * time.Millisecond),
		ShouldRetry: isRetriable,
	}
}

func isRetriable(err error) bool {
	return kerr.IsRetriable(err) || errors.Is(err, kgo.ErrRecordTimeout)
}

// An OutcomesProducer publishes submission outcomes keyed by category.
type OutcomesProducer struct {
	producer producer
	encoder  Encoder
	retryCfg retry.RetryConfig
	opPrefix string
}

func NewOutcomesProducer(opts ...ProducerOpt) (OutcomesProducer, error) {
	const op = "NewOutcomesProducer"

	if len(opts) != 2 {
		panic(opErr(ErrTooFewOpts, op)) // develop mistake
	}

	var options producerOpts
	for _, opt := range opts {
		if err := opt(&options); err != nil {
			return OutcomesProducer{}, opErr(err, op)
		}
	}

	opPrefix := "OutcomesProducer"
	p := producer{
		opPrefix: opPrefix,
		cl:       options.cl,
	}

	return OutcomesProducer{
		producer: p,
		encoder:  options.encoder,
		retryCfg: defaultProduceRetry(),
		opPrefix: opPrefix,
	}, nil
}

func (p OutcomesProducer) Close() {
	p.producer.close()
}

func (p OutcomesProducer) ReportOutcome(
	ctx context.Context,
	submissionID string,
	in domain.DraftInput,
	o domain.Outcome,
) error {
	const op = "ReportOutcome"

	if err := ctx.Err(); err != nil {
		return opErr(err, p.opPrefix, op)
	}

	r, err := p.createRecord(submissionID, in, o)
	if err != nil {
		return opErr(err, p.opPrefix, op)
	}

	err = retry.Do(ctx, p.retryCfg, func() error {
		return p.producer.produce(ctx, r)
	})
	if err != nil {
		return opErr(err, p.opPrefix, op)
	}
	return nil
}

func (p OutcomesProducer) createRecord(
	submissionID string, in domain.DraftInput, o domain.Outcome,
) (*kgo.Record, error) {
	const op = "createRecord"

	s := p.toSchema(submissionID, in, o)
	b, err := p.encoder.Encode(s)
	if err != nil {
		return nil, opErr(err, p.opPrefix, op)
	}
	return &kgo.Record{Key: []byte(s.Category), Value: b}, nil
}

func (OutcomesProducer) toSchema(
	submissionID string, in domain.DraftInput, o domain.Outcome,
) schema.OutcomeV1 {
	return outcomeToSchemaV1(submissionID, in, o)
}
