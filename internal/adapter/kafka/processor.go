package kafka

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/lovoo/goka"
	"github.com/niksmo/product-intake/pkg/schema"
)

// A processor is used for composition.
//
// Running and closing the underlying [goka.Processor]
type processor struct {
	opPrefix string
	gp       *goka.Processor
}

func (p *processor) run(
	ctx context.Context, stopFn context.CancelFunc, wg *sync.WaitGroup,
) {
	const op = "run"
	log := slog.With("op", makeOp(p.opPrefix, op))

	defer wg.Done()

	go p.runProc(ctx, stopFn)

	log.Info("preparing...")
	p.waitForReady(ctx)
	log.Info("running")
}

func (p *processor) runProc(ctx context.Context, stopFn context.CancelFunc) {
	const op = "run"
	log := slog.With("op", makeOp(p.opPrefix, op))

	defer stopFn()

	err := p.gp.Run(ctx)
	if err != nil {
		log.Error("stopped", "err", err)
		return
	}
	log.Info("stopped")
}

func (p *processor) waitForReady(ctx context.Context) {
	const op = "waitForReady"
	log := slog.With("op", makeOp(p.opPrefix, op))

	err := p.gp.WaitForReadyContext(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		log.Error("fall down while preparing", "err", err)
		return
	}
}

func (p *processor) close() {
	const op = "close"
	log := slog.With("op", makeOp(p.opPrefix, op))

	log.Info("closing processor...")
	p.gp.Stop()
	log.Info("processor is closed")
}

// An outcomeEventCodec used for serde [schema.OutcomeV1]
type outcomeEventCodec struct {
	serde Serde
}

func newOutcomeEventCodec(s Serde) outcomeEventCodec {
	return outcomeEventCodec{s}
}

func (c outcomeEventCodec) Encode(v any) ([]byte, error) {
	const op = "outcomeEventCodec.Encode"
	if _, ok := v.(schema.OutcomeV1); !ok {
		return nil, opErr(ErrInvalidValueType, op)
	}
	return c.serde.Encode(v)
}

func (c outcomeEventCodec) Decode(data []byte) (any, error) {
	const op = "outcomeEventCodec.Decode"
	var s schema.OutcomeV1
	err := c.serde.Decode(data, &s)
	if err != nil {
		return nil, opErr(err, op)
	}
	return s, nil
}

// A statsValueCodec used for serde [schema.CategoryStatsV1]
type statsValueCodec struct {
	serde Serde
}

func newStatsValueCodec(s Serde) statsValueCodec {
	return statsValueCodec{s}
}

func (c statsValueCodec) Encode(v any) ([]byte, error) {
	const op = "statsValueCodec.Encode"
	if _, ok := v.(schema.CategoryStatsV1); !ok {
		return nil, opErr(ErrInvalidValueType, op)
	}
	return c.serde.Encode(v)
}

func (c statsValueCodec) Decode(data []byte) (any, error) {
	const op = "statsValueCodec.Decode"
	var s schema.CategoryStatsV1
	err := c.serde.Decode(data, &s)
	if err != nil {
		return nil, opErr(err, op)
	}
	return s, nil
}

// A StatsProcessor folds submission outcomes from the outcomes stream into
// per-category stats kept in the group table.
type StatsProcessor struct {
	opPrefix string
	proc     processor
}

func NewStatsProcessor(
	seedBrokers []string,
	outcomesStream string,
	group string,
	outcomeSerde Serde,
	statsSerde Serde,
	opts ...goka.ProcessorOption,
) (*StatsProcessor, error) {
	const op = "NewStatsProcessor"

	p := StatsProcessor{opPrefix: "StatsProcessor"}

	gg := goka.DefineGroup(goka.Group(group),
		goka.Input(
			goka.Stream(outcomesStream),
			newOutcomeEventCodec(outcomeSerde),
			p.processFn,
		),
		goka.Persist(newStatsValueCodec(statsSerde)),
	)

	opts = append([]goka.ProcessorOption{withNonlogProcOpt()}, opts...)
	gp, err := goka.NewProcessor(seedBrokers, gg, opts...)
	if err != nil {
		return nil, opErr(err, op)
	}

	p.proc = processor{
		opPrefix: p.opPrefix,
		gp:       gp,
	}

	return &p, nil
}

func (p *StatsProcessor) Run(
	ctx context.Context, stopFn context.CancelFunc, wg *sync.WaitGroup,
) {
	p.proc.run(ctx, stopFn, wg)
}

func (p *StatsProcessor) Close() {
	p.proc.close()
}

func (p *StatsProcessor) processFn(ctx goka.Context, msg any) {
	const op = "processFn"

	event, _ := msg.(schema.OutcomeV1)
	log := slog.With(
		"op", makeOp(p.opPrefix, op), "category", ctx.Key(),
	)

	current, _ := ctx.Value().(schema.CategoryStatsV1)
	stats := schemaV1ToStats(current)
	stats.Category = ctx.Key()
	stats = stats.Apply(schemaV1ToOutcome(event))

	ctx.SetValue(statsToSchemaV1(stats))

	dropped := event.ImagesRequested - len(event.Images)
	if event.Success && dropped > 0 {
		log.Warn(
			"submission persisted with dropped images",
			"submissionID", event.SubmissionID,
			"dropped", dropped,
		)
	}
}
