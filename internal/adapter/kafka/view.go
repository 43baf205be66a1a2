package kafka

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lovoo/goka"
	"github.com/niksmo/product-intake/internal/core/domain"
	"github.com/niksmo/product-intake/internal/core/port"
	"github.com/niksmo/product-intake/pkg/schema"
)

var _ port.StatsReader = (*StatsView)(nil)

// A StatsView serves the group table of [StatsProcessor].
type StatsView struct {
	gv *goka.View
}

func NewStatsView(
	seedBrokers []string, group string, statsSerde Serde, opts ...goka.ViewOption,
) (*StatsView, error) {
	const op = "NewStatsView"

	gv, err := goka.NewView(
		seedBrokers,
		goka.GroupTable(goka.Group(group)),
		newStatsValueCodec(statsSerde),
		opts...,
	)
	if err != nil {
		return nil, opErr(err, op)
	}

	return &StatsView{gv}, nil
}

func (v *StatsView) Run(ctx context.Context) {
	const op = "StatsView.Run"
	log := slog.With("op", op)

	err := v.gv.Run(ctx)
	if err != nil {
		log.Error("unexpected fail on run", "err", err)
	}
}

// CategoryStats returns zero stats for a category that has no outcomes yet.
func (v *StatsView) CategoryStats(
	ctx context.Context, category string,
) (domain.CategoryStats, error) {
	const op = "StatsView.CategoryStats"

	if err := ctx.Err(); err != nil {
		return domain.CategoryStats{}, opErr(err, op)
	}

	value, err := v.gv.Get(category)
	if err != nil {
		return domain.CategoryStats{}, opErr(err, op)
	}

	return statsFromValue(category, value)
}

func statsFromValue(category string, value any) (domain.CategoryStats, error) {
	const op = "statsFromValue"

	if value == nil {
		return domain.CategoryStats{Category: category}, nil
	}

	s, ok := value.(schema.CategoryStatsV1)
	if !ok {
		return domain.CategoryStats{}, opErr(
			fmt.Errorf("%w: %T", ErrInvalidValueType, value), op,
		)
	}
	return schemaV1ToStats(s), nil
}
