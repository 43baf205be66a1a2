package service_test

import (
	"testing"

	"github.com/niksmo/product-intake/internal/core/domain"
	"github.com/niksmo/product-intake/internal/core/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSubmitSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	f := newFixture(t, service.TracerProviderOpt(tp))
	d := draft(3)
	f.resolver.broken = map[domain.ImageRef]bool{d.ImageRefs[2]: true}
	f.docs.On("AddDocument", mock.Anything, "products", mock.Anything).
		Return("doc-1", nil)

	o := wait(t, f.service, d)
	require.True(t, o.Success())

	spans := recorder.Ended()
	require.Len(t, spans, 4)

	var (
		submit  sdktrace.ReadOnlySpan
		uploads []sdktrace.ReadOnlySpan
	)
	for _, s := range spans {
		switch s.Name() {
		case "Service.Submit":
			submit = s
		case "Service.uploadImage":
			uploads = append(uploads, s)
		}
	}
	require.NotNil(t, submit)
	require.Len(t, uploads, 3)

	failed := 0
	for _, u := range uploads {
		assert.Equal(t, submit.SpanContext().SpanID(), u.Parent().SpanID())
		if u.Status().Code == codes.Error {
			failed++
		}
	}
	assert.Equal(t, 1, failed)
	assert.NotEqual(t, codes.Error, submit.Status().Code)
}

func TestSubmitSpanOnPersistenceFailure(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	f := newFixture(t, service.TracerProviderOpt(tp))
	f.docs.On("AddDocument", mock.Anything, "products", mock.Anything).
		Return("", assert.AnError)

	o := wait(t, f.service, draft(1))
	require.ErrorIs(t, o.Err, domain.ErrPersistence)

	var submit sdktrace.ReadOnlySpan
	for _, s := range recorder.Ended() {
		if s.Name() == "Service.Submit" {
			submit = s
		}
	}
	require.NotNil(t, submit)
	assert.Equal(t, codes.Error, submit.Status().Code)
}
