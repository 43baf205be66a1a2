package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/niksmo/product-intake/internal/core/domain"
	"github.com/niksmo/product-intake/internal/core/port"
	"github.com/niksmo/product-intake/pkg/future"
	"github.com/niksmo/product-intake/pkg/schema"
	"github.com/twmb/franz-go/pkg/kgo"
)

type ConsumerOpt func(*consumerOpts) error

func ConsumerClientOpt(
	seedBrokers []string, topic, group string, sec Security,
) ConsumerOpt {
	return func(co *consumerOpts) error {
		kgoOpts := append([]kgo.Opt{
			kgo.SeedBrokers(seedBrokers...),
			kgo.ConsumeTopics(topic),
			kgo.ConsumerGroup(group),
			kgo.DisableAutoCommit(),
		}, sec.KgoOpts()...)

		cl, err := kgo.NewClient(kgoOpts...)
		if err != nil {
			return err
		}
		co.cl = cl
		return nil
	}
}

func ConsumerDecoderOpt(decoder Decoder) ConsumerOpt {
	return func(co *consumerOpts) error {
		if decoder == nil {
			return errors.New("decoder is nil")
		}
		co.decoder = decoder
		return nil
	}
}

func DraftsConsumerSubmitterOpt(s port.Submitter) ConsumerOpt {
	return func(co *consumerOpts) error {
		if s == nil {
			return errors.New("submitter is nil")
		}
		co.submitter = s
		return nil
	}
}

func DraftsConsumerReporterOpt(r port.OutcomeReporter) ConsumerOpt {
	return func(co *consumerOpts) error {
		if r == nil {
			return errors.New("outcome reporter is nil")
		}
		co.reporter = r
		return nil
	}
}

// DraftsConsumerGuardOpt is optional, without it every record is submitted.
func DraftsConsumerGuardOpt(g port.SubmissionGuard) ConsumerOpt {
	return func(co *consumerOpts) error {
		if g == nil {
			return errors.New("submission guard is nil")
		}
		co.guard = g
		return nil
	}
}

type consumerOpts struct {
	cl        ConsumerClient
	decoder   Decoder
	submitter port.Submitter
	reporter  port.OutcomeReporter
	guard     port.SubmissionGuard
}

func (co *consumerOpts) apply(opts ...ConsumerOpt) error {
	for _, opt := range opts {
		if err := opt(co); err != nil {
			return err
		}
	}
	return nil
}

type consumerParent interface {
	processFetches(context.Context, kgo.Fetches) error
}

// A consumer polls fetches for its parent and commits them once the parent
// has processed them.
type consumer struct {
	opPrefix      string
	parent        consumerParent
	cl            ConsumerClient
	slowDownTimer *time.Timer
}

func (c consumer) run(ctx context.Context) {
	const op = "run"
	log := slog.With("op", makeOp(c.opPrefix, op))

	log.Info("running")

	for {
		select {
		case <-ctx.Done():
			return
		default:
			err := c.consume(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					continue
				}
				log.Error("failed to consume", "err", err)
				c.slowDown()
			}
		}
	}
}

func (c consumer) consume(ctx context.Context) error {
	const op = "consume"

	fetches, err := c.pollFetches(ctx)
	if err != nil {
		return opErr(err, c.opPrefix, op)
	}

	if fetches.Empty() {
		return nil
	}

	err = c.parent.processFetches(ctx, fetches)
	if err != nil {
		return opErr(err, c.opPrefix, op)
	}

	err = c.commit(ctx)
	if err != nil {
		return opErr(err, c.opPrefix, op)
	}
	return nil
}

func (c consumer) pollFetches(ctx context.Context) (kgo.Fetches, error) {
	const op = "pollFetches"

	fetches := c.cl.PollFetches(ctx)
	if err := fetches.Err0(); err != nil {
		return nil, opErr(err, c.opPrefix, op)
	}

	err := c.handleFetchesErrs(fetches)
	if err != nil {
		return nil, opErr(err, c.opPrefix, op)
	}

	return fetches, nil
}

func (c consumer) handleFetchesErrs(fetches kgo.Fetches) error {
	var errsMessages []string
	fetches.EachError(func(t string, p int32, err error) {
		if err != nil {
			errMsg := fmt.Sprintf(
				"topic %q partition %d: %q", t, p, err,
			)
			errsMessages = append(errsMessages, errMsg)
		}
	})

	if len(errsMessages) != 0 {
		return errors.New(strings.Join(errsMessages, "; "))
	}
	return nil
}

func (c consumer) slowDown() {
	c.slowDownTimer.Reset(1 * time.Second)
	<-c.slowDownTimer.C
}

func (c consumer) commit(ctx context.Context) error {
	const op = "commit"

	err := ctx.Err()
	if err != nil {
		return opErr(err, c.opPrefix, op)
	}

	err = c.cl.CommitUncommittedOffsets(ctx)
	if err != nil {
		return opErr(err, c.opPrefix, op)
	}
	return nil
}

func (c consumer) close() {
	const op = "close"
	log := slog.With("op", makeOp(c.opPrefix, op))

	c.slowDownTimer.Stop()

	log.Info("closing consumer...")
	c.cl.Close()
	log.Info("consumer is closed")
}

// A DraftsConsumer consumes product drafts, runs them through the
// validation gate and submits them to the core service.
//
// Offsets are committed once every outcome of a fetch is reported.
type DraftsConsumer struct {
	opPrefix  string
	consumer  consumer
	submitter port.Submitter
	reporter  port.OutcomeReporter
	guard     port.SubmissionGuard
	decoder   Decoder
}

func NewDraftsConsumer(opts ...ConsumerOpt) (dc DraftsConsumer, err error) {
	const op = "NewDraftsConsumer"

	var options consumerOpts
	if err := options.apply(opts...); err != nil {
		return dc, opErr(err, op)
	}

	if options.cl == nil || options.decoder == nil ||
		options.submitter == nil || options.reporter == nil {
		return dc, opErr(ErrTooFewOpts, op)
	}

	opPrefix := "DraftsConsumer"

	dc.opPrefix = opPrefix
	dc.submitter = options.submitter
	dc.reporter = options.reporter
	dc.guard = options.guard
	dc.decoder = options.decoder

	dc.consumer = consumer{
		opPrefix:      opPrefix,
		parent:        dc,
		cl:            options.cl,
		slowDownTimer: time.NewTimer(0),
	}

	return dc, nil
}

func (c DraftsConsumer) Run(ctx context.Context) {
	c.consumer.run(ctx)
}

func (c DraftsConsumer) Close() {
	c.consumer.close()
}

type submission struct {
	id     string
	in     domain.DraftInput
	result *future.Future[domain.Outcome]
}

func (c DraftsConsumer) processFetches(
	ctx context.Context, fetches kgo.Fetches,
) error {
	const op = "processFetches"
	log := slog.With("op", makeOp(c.opPrefix, op))

	var subs []submission
	fetches.EachRecord(func(r *kgo.Record) {
		s, err := c.decodeRecValue(r)
		if err != nil {
			log.Error(
				"failed to decode value",
				"err", opErr(err, c.opPrefix, op),
			)
			return
		}

		if !c.acquire(ctx, s.SubmissionID) {
			log.Info("skip redelivered draft", "submissionID", s.SubmissionID)
			return
		}

		sub := submission{id: s.SubmissionID, in: schemaV1ToDraftInput(s)}

		d, err := domain.NewDraft(sub.in)
		if err != nil {
			sub.result = future.Resolved(domain.Outcome{
				Requested: len(sub.in.ImageRefs),
				Err:       err,
			})
		} else {
			sub.result = c.submitter.Submit(ctx, d)
		}
		subs = append(subs, sub)
	})

	for i, sub := range subs {
		err := c.report(ctx, sub)
		if err != nil {
			c.release(ctx, subs[i:])
			return opErr(err, c.opPrefix, op)
		}
	}
	return nil
}

func (c DraftsConsumer) report(ctx context.Context, sub submission) error {
	o, err := sub.result.Wait(ctx)
	if err != nil {
		return err
	}
	return c.reporter.ReportOutcome(ctx, sub.id, sub.in, o)
}

// release forgets unreported submissions, the uncommitted fetch is
// redelivered and they must pass the guard again.
func (c DraftsConsumer) release(ctx context.Context, subs []submission) {
	const op = "release"

	if c.guard == nil {
		return
	}

	ctx = context.WithoutCancel(ctx)
	for _, sub := range subs {
		if err := c.guard.Release(ctx, sub.id); err != nil {
			slog.Warn(
				"failed to release submission",
				"op", makeOp(c.opPrefix, op),
				"submissionID", sub.id,
				"err", err,
			)
		}
	}
}

// acquire fails open: an unavailable guard must not stop intake.
func (c DraftsConsumer) acquire(ctx context.Context, submissionID string) bool {
	const op = "acquire"

	if c.guard == nil {
		return true
	}

	ok, err := c.guard.Acquire(ctx, submissionID)
	if err != nil {
		slog.Warn(
			"submission guard is unavailable",
			"op", makeOp(c.opPrefix, op),
			"submissionID", submissionID,
			"err", err,
		)
		return true
	}
	return ok
}

func (c DraftsConsumer) decodeRecValue(r *kgo.Record) (schema.DraftV1, error) {
	var s schema.DraftV1
	err := c.decoder.Decode(r.Value, &s)
	if err != nil {
		return schema.DraftV1{}, err
	}
	if s.SubmissionID == "" {
		s.SubmissionID = fmt.Sprintf("%s-%d-%d", r.Topic, r.Partition, r.Offset)
	}
	return s, nil
}
