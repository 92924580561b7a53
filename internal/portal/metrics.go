package portal

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/openkcm/common-sdk/pkg/otlp"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	slogctx "github.com/veqryn/slog-context"

	"github.com/stockway/portal/internal/config"
	"github.com/stockway/portal/internal/guard"
	"github.com/stockway/portal/internal/middleware/responsewriter"
)

type meters struct {
	app commoncfg.Application

	requests      metric.Int64Counter
	duration      metric.Int64Histogram
	decisions     metric.Int64Counter
	invalidations metric.Int64Counter
}

func newMeters(ctx context.Context, cfg *config.Config) (*meters, error) {
	meter := otel.Meter(
		"stockway/"+cfg.Application.Name,
		metric.WithInstrumentationVersion(otel.Version()),
		metric.WithInstrumentationAttributes(otlp.CreateAttributesFrom(cfg.Application)...),
	)

	m := &meters{app: cfg.Application}

	var err error

	m.requests, err = meter.Int64Counter(
		"http.request_count",
		metric.WithDescription("Incoming request count"),
		metric.WithUnit("request"),
	)
	if err != nil {
		return nil, oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "creating request_count meter")
	}

	m.duration, err = meter.Int64Histogram(
		"http.duration",
		metric.WithDescription("Incoming end to end duration"),
		metric.WithUnit("milliseconds"),
	)
	if err != nil {
		return nil, oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "creating duration meter")
	}

	m.decisions, err = meter.Int64Counter(
		"portal.guard_decisions",
		metric.WithDescription("Navigation guard decisions by outcome"),
		metric.WithUnit("decision"),
	)
	if err != nil {
		return nil, oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "creating guard_decisions meter")
	}

	m.invalidations, err = meter.Int64Counter(
		"portal.session_invalidations",
		metric.WithDescription("Forced logouts after the backend rejected the token"),
		metric.WithUnit("logout"),
	)
	if err != nil {
		return nil, oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "creating session_invalidations meter")
	}

	return m, nil
}

func (m *meters) observeDecision(ctx context.Context, d guard.Decision) {
	m.decisions.Add(ctx, 1, metric.WithAttributes(
		otlp.CreateAttributesFrom(m.app,
			attribute.String("decision", d.String()),
		)...,
	))
}

func (m *meters) observeInvalidation(ctx context.Context, _ string) {
	m.invalidations.Add(ctx, 1, metric.WithAttributes(otlp.CreateAttributesFrom(m.app)...))
}

// instrument covers a route with a span, the operation name in the context
// logger and the request meters.
func (m *meters) instrument(operation string, next http.Handler) http.Handler {
	traceAttrs := otlp.CreateAttributesFrom(m.app, attribute.String(commoncfg.AttrOperation, operation))
	tracer := otel.Tracer(operation, trace.WithInstrumentationAttributes(traceAttrs...))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := slogctx.With(r.Context(), commoncfg.AttrOperation, operation)

		parentCtx := otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(r.Header))

		ctx, span := tracer.Start(parentCtx, operation+"-span", trace.WithAttributes(traceAttrs...))
		defer span.End()

		rec := responsewriter.Wrap(w)
		requestStartTime := time.Now()

		defer func() {
			elapsedTime := time.Since(requestStartTime)

			attrs := metric.WithAttributes(
				otlp.CreateAttributesFrom(m.app,
					attribute.String("userAgent", r.UserAgent()),
					attribute.String(commoncfg.AttrOperation, operation),
					attribute.String("status", strconv.Itoa(rec.Status())),
				)...,
			)

			m.requests.Add(ctx, 1, attrs)
			m.duration.Record(ctx, elapsedTime.Milliseconds(), attrs)
		}()

		slogctx.Debug(ctx, fmt.Sprintf("Processing %s request", operation), "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(rec, r.WithContext(ctx))
		slogctx.Debug(ctx, fmt.Sprintf("Finished %s request", operation), "status", rec.Status())
	})
}
