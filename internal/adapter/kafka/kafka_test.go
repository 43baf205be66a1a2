package kafka

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lovoo/goka"
	"github.com/lovoo/goka/tester"
	"github.com/niksmo/product-intake/internal/core/domain"
	"github.com/niksmo/product-intake/pkg/future"
	"github.com/niksmo/product-intake/pkg/retry"
	"github.com/niksmo/product-intake/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

type jsonSerde struct{}

func (jsonSerde) Encode(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonSerde) Decode(b []byte, v any) error { return json.Unmarshal(b, v) }

type fakeConsumerClient struct {
	fetches kgo.Fetches
	commits int
	closed  bool
}

func (c *fakeConsumerClient) PollFetches(context.Context) kgo.Fetches {
	return c.fetches
}

func (c *fakeConsumerClient) CommitUncommittedOffsets(context.Context) error {
	c.commits++
	return nil
}

func (c *fakeConsumerClient) Close() { c.closed = true }

type fakeSubmitter struct {
	mu     sync.Mutex
	drafts []domain.Draft
	err    error
}

func (s *fakeSubmitter) Submit(
	_ context.Context, d domain.Draft,
) *future.Future[domain.Outcome] {
	s.mu.Lock()
	s.drafts = append(s.drafts, d)
	s.mu.Unlock()

	if s.err != nil {
		return future.Resolved(domain.Outcome{Requested: len(d.ImageRefs), Err: s.err})
	}
	images := make([]string, len(d.ImageRefs))
	for i, ref := range d.ImageRefs {
		images[i] = "https://objects.test/" + string(ref)
	}
	return future.Resolved(domain.Outcome{
		Product: domain.Product{
			ID:       "p-" + d.Name,
			Name:     d.Name,
			Category: d.Category,
			Images:   images,
		},
		DocumentID: "doc-" + d.Name,
		Requested:  len(d.ImageRefs),
	})
}

type reported struct {
	submissionID string
	in           domain.DraftInput
	outcome      domain.Outcome
}

type fakeReporter struct {
	calls []reported
	err   error
}

func (r *fakeReporter) ReportOutcome(
	_ context.Context, id string, in domain.DraftInput, o domain.Outcome,
) error {
	if r.err != nil {
		return r.err
	}
	r.calls = append(r.calls, reported{id, in, o})
	return nil
}

type fakeGuard struct {
	seen map[string]bool
	err  error
}

func (g *fakeGuard) Acquire(_ context.Context, id string) (bool, error) {
	if g.err != nil {
		return false, g.err
	}
	if g.seen[id] {
		return false, nil
	}
	g.seen[id] = true
	return true, nil
}

func (g *fakeGuard) Release(_ context.Context, id string) error {
	delete(g.seen, id)
	return nil
}

func withConsumerClient(cl ConsumerClient) ConsumerOpt {
	return func(co *consumerOpts) error {
		co.cl = cl
		return nil
	}
}

func draftRecord(t *testing.T, offset int64, d schema.DraftV1) *kgo.Record {
	t.Helper()
	b, err := json.Marshal(d)
	require.NoError(t, err)
	return &kgo.Record{Topic: "drafts", Partition: 0, Offset: offset, Value: b}
}

func makeFetches(rs ...*kgo.Record) kgo.Fetches {
	return kgo.Fetches{{
		Topics: []kgo.FetchTopic{{
			Topic: "drafts",
			Partitions: []kgo.FetchPartition{{
				Partition: 0,
				Records:   rs,
			}},
		}},
	}}
}

func validDraft(id, name string) schema.DraftV1 {
	return schema.DraftV1{
		SubmissionID: id,
		Name:         name,
		Category:     "shoes",
		Price:        "10.50",
		Sizes:        "S, M",
		Colors:       []int64{0xff112233},
		ImageRefs:    []string{"a.png", "b.png"},
	}
}

func TestDraftsConsumer(t *testing.T) {
	newConsumer := func(
		t *testing.T, cl ConsumerClient, s *fakeSubmitter, r *fakeReporter, opts ...ConsumerOpt,
	) DraftsConsumer {
		t.Helper()
		opts = append([]ConsumerOpt{
			withConsumerClient(cl),
			ConsumerDecoderOpt(jsonSerde{}),
			DraftsConsumerSubmitterOpt(s),
			DraftsConsumerReporterOpt(r),
		}, opts...)
		dc, err := NewDraftsConsumer(opts...)
		require.NoError(t, err)
		return dc
	}

	t.Run("TooFewOpts", func(t *testing.T) {
		_, err := NewDraftsConsumer(ConsumerDecoderOpt(jsonSerde{}))
		require.ErrorIs(t, err, ErrTooFewOpts)
	})

	t.Run("SubmitsAndReports", func(t *testing.T) {
		cl := &fakeConsumerClient{fetches: makeFetches(
			draftRecord(t, 0, validDraft("s-1", "boot")),
			draftRecord(t, 1, validDraft("s-2", "sandal")),
		)}
		s := &fakeSubmitter{}
		r := &fakeReporter{}
		dc := newConsumer(t, cl, s, r)

		err := dc.consumer.consume(t.Context())
		require.NoError(t, err)

		require.Len(t, s.drafts, 2)
		assert.Equal(t, []string{"S", "M"}, s.drafts[0].Sizes)
		assert.Equal(t, []domain.Color{0xff112233}, s.drafts[0].Colors)

		require.Len(t, r.calls, 2)
		assert.Equal(t, "s-1", r.calls[0].submissionID)
		assert.Equal(t, "s-2", r.calls[1].submissionID)
		assert.True(t, r.calls[0].outcome.Success())
		assert.Len(t, r.calls[0].outcome.Product.Images, 2)
		assert.Equal(t, 1, cl.commits)
	})

	t.Run("InvalidDraftReportedWithoutSubmit", func(t *testing.T) {
		d := validDraft("s-1", "")
		cl := &fakeConsumerClient{fetches: makeFetches(draftRecord(t, 0, d))}
		s := &fakeSubmitter{}
		r := &fakeReporter{}
		dc := newConsumer(t, cl, s, r)

		require.NoError(t, dc.consumer.consume(t.Context()))

		assert.Empty(t, s.drafts)
		require.Len(t, r.calls, 1)
		assert.ErrorIs(t, r.calls[0].outcome.Err, domain.ErrValidation)
		assert.Equal(t, 2, r.calls[0].outcome.Requested)
	})

	t.Run("UndecodableRecordSkipped", func(t *testing.T) {
		bad := &kgo.Record{Topic: "drafts", Offset: 0, Value: []byte("{")}
		cl := &fakeConsumerClient{fetches: makeFetches(
			bad, draftRecord(t, 1, validDraft("s-2", "boot")),
		)}
		s := &fakeSubmitter{}
		r := &fakeReporter{}
		dc := newConsumer(t, cl, s, r)

		require.NoError(t, dc.consumer.consume(t.Context()))
		require.Len(t, r.calls, 1)
		assert.Equal(t, "s-2", r.calls[0].submissionID)
	})

	t.Run("MissingSubmissionIDFromOffset", func(t *testing.T) {
		cl := &fakeConsumerClient{fetches: makeFetches(
			draftRecord(t, 7, validDraft("", "boot")),
		)}
		r := &fakeReporter{}
		dc := newConsumer(t, cl, &fakeSubmitter{}, r)

		require.NoError(t, dc.consumer.consume(t.Context()))
		require.Len(t, r.calls, 1)
		assert.Equal(t, "drafts-0-7", r.calls[0].submissionID)
	})

	t.Run("GuardSkipsRedelivery", func(t *testing.T) {
		cl := &fakeConsumerClient{fetches: makeFetches(
			draftRecord(t, 0, validDraft("s-1", "boot")),
			draftRecord(t, 1, validDraft("s-1", "boot")),
		)}
		s := &fakeSubmitter{}
		r := &fakeReporter{}
		g := &fakeGuard{seen: map[string]bool{}}
		dc := newConsumer(t, cl, s, r, DraftsConsumerGuardOpt(g))

		require.NoError(t, dc.consumer.consume(t.Context()))
		assert.Len(t, s.drafts, 1)
		assert.Len(t, r.calls, 1)
	})

	t.Run("GuardUnavailableFailsOpen", func(t *testing.T) {
		cl := &fakeConsumerClient{fetches: makeFetches(
			draftRecord(t, 0, validDraft("s-1", "boot")),
		)}
		s := &fakeSubmitter{}
		r := &fakeReporter{}
		g := &fakeGuard{err: errors.New("connection refused")}
		dc := newConsumer(t, cl, s, r, DraftsConsumerGuardOpt(g))

		require.NoError(t, dc.consumer.consume(t.Context()))
		assert.Len(t, s.drafts, 1)
	})

	t.Run("ReportFailureSkipsCommit", func(t *testing.T) {
		cl := &fakeConsumerClient{fetches: makeFetches(
			draftRecord(t, 0, validDraft("s-1", "boot")),
		)}
		r := &fakeReporter{err: errors.New("broker down")}
		dc := newConsumer(t, cl, &fakeSubmitter{}, r)

		err := dc.consumer.consume(t.Context())
		require.Error(t, err)
		assert.Zero(t, cl.commits)
	})

	t.Run("RedeliveredAfterReportFailure", func(t *testing.T) {
		cl := &fakeConsumerClient{fetches: makeFetches(
			draftRecord(t, 0, validDraft("s-1", "boot")),
		)}
		s := &fakeSubmitter{}
		r := &fakeReporter{err: errors.New("broker down")}
		g := &fakeGuard{seen: map[string]bool{}}
		dc := newConsumer(t, cl, s, r, DraftsConsumerGuardOpt(g))

		require.Error(t, dc.consumer.consume(t.Context()))
		assert.Zero(t, cl.commits)
		assert.NotContains(t, g.seen, "s-1")

		r.err = nil
		require.NoError(t, dc.consumer.consume(t.Context()))

		assert.Len(t, s.drafts, 2)
		require.Len(t, r.calls, 1)
		assert.Equal(t, "s-1", r.calls[0].submissionID)
		assert.True(t, r.calls[0].outcome.Success())
		assert.Equal(t, 1, cl.commits)
		assert.Contains(t, g.seen, "s-1")
	})

	t.Run("EmptyFetches", func(t *testing.T) {
		cl := &fakeConsumerClient{}
		r := &fakeReporter{}
		dc := newConsumer(t, cl, &fakeSubmitter{}, r)

		require.NoError(t, dc.consumer.consume(t.Context()))
		assert.Zero(t, cl.commits)
	})

	t.Run("Close", func(t *testing.T) {
		cl := &fakeConsumerClient{}
		dc := newConsumer(t, cl, &fakeSubmitter{}, &fakeReporter{})
		dc.Close()
		assert.True(t, cl.closed)
	})
}

type fakeProducerClient struct {
	errs    []error
	records []*kgo.Record
	calls   int
}

func (c *fakeProducerClient) ProduceSync(
	_ context.Context, rs ...*kgo.Record,
) kgo.ProduceResults {
	var err error
	if c.calls < len(c.errs) {
		err = c.errs[c.calls]
	}
	c.calls++

	var res kgo.ProduceResults
	for _, r := range rs {
		if err == nil {
			c.records = append(c.records, r)
		}
		res = append(res, kgo.ProduceResult{Record: r, Err: err})
	}
	return res
}

func (c *fakeProducerClient) Close() {}

func newTestOutcomesProducer(cl ProducerClient) OutcomesProducer {
	p := OutcomesProducer{
		producer: producer{opPrefix: "OutcomesProducer", cl: cl},
		encoder:  jsonSerde{},
		opPrefix: "OutcomesProducer",
		retryCfg: defaultProduceRetry(),
	}
	p.retryCfg.Backoff = retry.LinearBackoff(time.Millisecond)
	return p
}

func TestOutcomesProducer(t *testing.T) {
	in := domain.DraftInput{Name: "boot", Category: " shoes ", Price: "10"}

	t.Run("WrongOptsCount", func(t *testing.T) {
		assert.Panics(t, func() {
			_, _ = NewOutcomesProducer(ProducerEncoderOpt(jsonSerde{}))
		})
	})

	t.Run("Success", func(t *testing.T) {
		cl := &fakeProducerClient{}
		p := newTestOutcomesProducer(cl)

		o := domain.Outcome{
			Product: domain.Product{
				ID: "p-1", Category: "shoes", Images: []string{"https://x/1"},
			},
			DocumentID: "d-1",
			Requested:  2,
		}
		require.NoError(t, p.ReportOutcome(t.Context(), "s-1", in, o))

		require.Len(t, cl.records, 1)
		assert.Equal(t, []byte("shoes"), cl.records[0].Key)

		var got schema.OutcomeV1
		require.NoError(t, json.Unmarshal(cl.records[0].Value, &got))
		assert.Equal(t, schema.OutcomeV1{
			SubmissionID:    "s-1",
			ProductID:       "p-1",
			DocumentID:      "d-1",
			Category:        "shoes",
			Success:         true,
			ImagesRequested: 2,
			Images:          []string{"https://x/1"},
		}, got)
	})

	t.Run("Failure", func(t *testing.T) {
		cl := &fakeProducerClient{}
		p := newTestOutcomesProducer(cl)

		o := domain.Outcome{Requested: 1, Err: domain.ErrPersistence}
		require.NoError(t, p.ReportOutcome(t.Context(), "s-1", in, o))

		var got schema.OutcomeV1
		require.NoError(t, json.Unmarshal(cl.records[0].Value, &got))
		assert.False(t, got.Success)
		assert.Equal(t, "shoes", got.Category)
		assert.Equal(t, domain.ErrPersistence.Error(), got.Error)
		assert.Equal(t, []string{}, got.Images)
	})

	t.Run("RetriesRetriable", func(t *testing.T) {
		cl := &fakeProducerClient{errs: []error{
			kerr.LeaderNotAvailable, kerr.NotLeaderForPartition,
		}}
		p := newTestOutcomesProducer(cl)

		require.NoError(t, p.ReportOutcome(t.Context(), "s-1", in, domain.Outcome{}))
		assert.Equal(t, 3, cl.calls)
		assert.Len(t, cl.records, 1)
	})

	t.Run("NonRetriableStops", func(t *testing.T) {
		cl := &fakeProducerClient{errs: []error{kerr.MessageTooLarge}}
		p := newTestOutcomesProducer(cl)

		err := p.ReportOutcome(t.Context(), "s-1", in, domain.Outcome{})
		require.ErrorIs(t, err, kerr.MessageTooLarge)
		assert.Equal(t, 1, cl.calls)
	})

	t.Run("CanceledContext", func(t *testing.T) {
		cl := &fakeProducerClient{}
		p := newTestOutcomesProducer(cl)

		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		err := p.ReportOutcome(ctx, "s-1", in, domain.Outcome{})
		require.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, cl.calls)
	})
}

func TestStatsProcessor(t *testing.T) {
	const (
		outcomes = "outcomes"
		group    = "intake-stats"
	)

	tt := tester.New(t)
	p, err := NewStatsProcessor(
		nil, outcomes, group, jsonSerde{}, jsonSerde{}, goka.WithTester(tt),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.proc.gp.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	tt.Consume(outcomes, "shoes", schema.OutcomeV1{
		SubmissionID: "s-1", Category: "shoes", Success: true,
		ImagesRequested: 3, Images: []string{"a", "b"},
	})
	tt.Consume(outcomes, "shoes", schema.OutcomeV1{
		SubmissionID: "s-2", Category: "shoes", Error: "boom",
		ImagesRequested: 1, Images: []string{},
	})
	tt.Consume(outcomes, "hats", schema.OutcomeV1{
		SubmissionID: "s-3", Category: "hats", Success: true, Images: []string{},
	})

	got := tt.TableValue(goka.GroupTable(goka.Group(group)), "shoes")
	assert.Equal(t, schema.CategoryStatsV1{
		Category:        "shoes",
		Submitted:       2,
		Succeeded:       1,
		Failed:          1,
		ImagesRequested: 4,
		ImagesUploaded:  2,
	}, got)

	got = tt.TableValue(goka.GroupTable(goka.Group(group)), "hats")
	assert.Equal(t, schema.CategoryStatsV1{
		Category: "hats", Submitted: 1, Succeeded: 1,
	}, got)
}

func TestStatsFromValue(t *testing.T) {
	t.Run("Absent", func(t *testing.T) {
		got, err := statsFromValue("shoes", nil)
		require.NoError(t, err)
		assert.Equal(t, domain.CategoryStats{Category: "shoes"}, got)
	})

	t.Run("Present", func(t *testing.T) {
		got, err := statsFromValue("shoes", schema.CategoryStatsV1{
			Category: "shoes", Submitted: 3, Succeeded: 2, Failed: 1,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(3), got.Submitted)
		assert.Equal(t, int64(1), got.Failed)
	})

	t.Run("WrongType", func(t *testing.T) {
		_, err := statsFromValue("shoes", "garbage")
		require.ErrorIs(t, err, ErrInvalidValueType)
	})
}

func TestCodecs(t *testing.T) {
	oc := newOutcomeEventCodec(jsonSerde{})
	_, err := oc.Encode(schema.CategoryStatsV1{})
	require.ErrorIs(t, err, ErrInvalidValueType)

	b, err := oc.Encode(schema.OutcomeV1{SubmissionID: "s-1"})
	require.NoError(t, err)
	v, err := oc.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, "s-1", v.(schema.OutcomeV1).SubmissionID)

	sc := newStatsValueCodec(jsonSerde{})
	_, err = sc.Encode(schema.OutcomeV1{})
	require.ErrorIs(t, err, ErrInvalidValueType)
}

func TestSecurityKgoOpts(t *testing.T) {
	assert.Empty(t, Security{}.KgoOpts())

	sec := Security{TLSConfig: &tls.Config{}, User: "intake", Pass: "secret"}
	assert.Len(t, sec.KgoOpts(), 2)
}
