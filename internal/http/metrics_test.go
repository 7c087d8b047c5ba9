package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func TestHTTPMetrics_Middleware(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := newHTTPMetrics(mp.Meter(httpInstrumentationName), zap.NewNop())

	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/api/spec/status/:id", func(c echo.Context) error {
		if c.Param("id") == "missing" {
			return c.JSON(http.StatusNotFound, map[string]string{"message": "not found"})
		}
		return c.JSON(http.StatusOK, map[string]string{"workflow_id": c.Param("id")})
	})
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	for _, path := range []string{"/api/spec/status/a", "/api/spec/status/missing", "/health"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	data := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			data[md.Name] = md.Data
		}
	}

	requests, ok := data["specbot.http.requests_total"].(metricdata.Sum[int64])
	require.True(t, ok)
	routes := map[string]int64{}
	classes := map[string]int64{}
	for _, dp := range requests.DataPoints {
		r, _ := dp.Attributes.Value(attribute.Key("route"))
		c, _ := dp.Attributes.Value(attribute.Key("status_class"))
		routes[r.AsString()] += dp.Value
		classes[c.AsString()] += dp.Value
	}
	assert.Equal(t, map[string]int64{"/api/spec/status/:id": 2, "/health": 1}, routes, "ids collapse into the route pattern")
	assert.Equal(t, map[string]int64{"2xx": 2, "4xx": 1}, classes)

	hist, ok := data["specbot.http.request_duration_seconds"].(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.EqualValues(t, 3, count)

	errs, ok := data["specbot.http.errors_total"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, errs.DataPoints, 1)
	status, _ := errs.DataPoints[0].Attributes.Value(attribute.Key("status"))
	assert.EqualValues(t, http.StatusNotFound, status.AsInt64())

	inFlight, ok := data["specbot.http.in_flight"].(metricdata.Sum[int64])
	require.True(t, ok)
	for _, dp := range inFlight.DataPoints {
		assert.Zero(t, dp.Value)
	}
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "/unmatched", normalizePath(""))
	assert.Equal(t, "/health", normalizePath("/health"))
	assert.Equal(t, "/api/spec/status/:id", normalizePath("/api/spec/status/:id"))
}

func TestStatusClass(t *testing.T) {
	tests := map[int]string{
		200: "2xx",
		202: "2xx",
		404: "4xx",
		503: "5xx",
		0:   "unknown",
	}
	for status, want := range tests {
		assert.Equal(t, want, statusClass(status), "status %d", status)
	}
}
