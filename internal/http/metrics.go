package http

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const httpInstrumentationName = "github.com/Mantoine56/spec-bot/internal/http"

// HTTPMetrics records API traffic as OpenTelemetry instruments.
//
//   - specbot.http.requests_total{method,route,status_class}
//   - specbot.http.request_duration_seconds{method,route}
//   - specbot.http.in_flight
//   - specbot.http.errors_total{route,status}: 4xx and 5xx responses
type HTTPMetrics struct {
	logger   *zap.Logger
	requests metric.Int64Counter
	duration metric.Float64Histogram
	inFlight metric.Int64UpDownCounter
	errors   metric.Int64Counter
}

// NewHTTPMetrics creates HTTPMetrics on the global meter provider.
func NewHTTPMetrics(logger *zap.Logger) *HTTPMetrics {
	return newHTTPMetrics(otel.Meter(httpInstrumentationName), logger)
}

func newHTTPMetrics(meter metric.Meter, logger *zap.Logger) *HTTPMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &HTTPMetrics{logger: logger}

	var err error
	if m.requests, err = meter.Int64Counter("specbot.http.requests_total",
		metric.WithDescription("API requests by method, route and status class"),
		metric.WithUnit("{request}"),
	); err != nil {
		m.warn("requests_total", err)
	}
	// Handlers never wait on the model; generation runs on the queue.
	if m.duration, err = meter.Float64Histogram("specbot.http.request_duration_seconds",
		metric.WithDescription("API request latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1),
	); err != nil {
		m.warn("request_duration_seconds", err)
	}
	if m.inFlight, err = meter.Int64UpDownCounter("specbot.http.in_flight",
		metric.WithDescription("API requests currently being served"),
		metric.WithUnit("{request}"),
	); err != nil {
		m.warn("in_flight", err)
	}
	if m.errors, err = meter.Int64Counter("specbot.http.errors_total",
		metric.WithDescription("API responses with a 4xx or 5xx status"),
		metric.WithUnit("{response}"),
	); err != nil {
		m.warn("errors_total", err)
	}
	return m
}

func (m *HTTPMetrics) warn(name string, err error) {
	m.logger.Warn("failed to create http instrument", zap.String("instrument", name), zap.Error(err))
}

// Middleware records every request. It must run outside any middleware
// that turns handler errors into responses so the final status is seen.
func (m *HTTPMetrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			ctx := c.Request().Context()
			if m.inFlight != nil {
				m.inFlight.Add(ctx, 1)
			}

			err := next(c)

			if m.inFlight != nil {
				m.inFlight.Add(ctx, -1)
			}
			method := c.Request().Method
			route := normalizePath(c.Path())
			status := c.Response().Status

			if m.requests != nil {
				m.requests.Add(ctx, 1, metric.WithAttributes(
					attribute.String("method", method),
					attribute.String("route", route),
					attribute.String("status_class", statusClass(status)),
				))
			}
			if m.duration != nil {
				m.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
					attribute.String("method", method),
					attribute.String("route", route),
				))
			}
			if m.errors != nil && status >= 400 {
				m.errors.Add(ctx, 1, metric.WithAttributes(
					attribute.String("route", route),
					attribute.Int("status", status),
				))
			}
			return err
		}
	}
}

// normalizePath keeps metric cardinality bounded. Echo reports the route
// pattern (/api/spec/status/:id), never the concrete id; requests that
// match no route share one label.
func normalizePath(path string) string {
	if path == "" {
		return "/unmatched"
	}
	return path
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}
