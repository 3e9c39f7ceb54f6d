package metrics

import (
	"context"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type Metrics struct {
	HTTPRequests         metric.Int64Counter
	HTTPDuration         metric.Float64Histogram
	StorePersists        metric.Int64Counter
	StorePersistFailures metric.Int64Counter
	StorePersistDuration metric.Float64Histogram
	StoreImageBytes      metric.Int64Histogram
	ActiveConnections    metric.Int64UpDownCounter
}

// Setup builds the meters on a private Prometheus registry and returns the
// handler serving it.
func Setup(serviceName string) (*Metrics, http.Handler, error) {
	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	m := &Metrics{}

	m.HTTPRequests, err = meter.Int64Counter(
		"fs_http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPDuration, err = meter.Float64Histogram(
		"fs_http_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.StorePersists, err = meter.Int64Counter(
		"fs_store_persists_total",
		metric.WithDescription("Total number of database image writes"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.StorePersistFailures, err = meter.Int64Counter(
		"fs_store_persist_failures_total",
		metric.WithDescription("Total number of failed database image writes"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.StorePersistDuration, err = meter.Float64Histogram(
		"fs_store_persist_duration_seconds",
		metric.WithDescription("Time to snapshot and store the database image"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.StoreImageBytes, err = meter.Int64Histogram(
		"fs_store_image_bytes",
		metric.WithDescription("Size of the persisted database image"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ActiveConnections, err = meter.Int64UpDownCounter(
		"fs_websocket_connections",
		metric.WithDescription("Number of active WebSocket connections"),
	)
	if err != nil {
		return nil, nil, err
	}

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m, handler, nil
}

func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	labels := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", status),
	)

	m.HTTPRequests.Add(ctx, 1, labels)
	m.HTTPDuration.Record(ctx, duration.Seconds(), labels)
}

// RecordPersist records one database image write.
func (m *Metrics) RecordPersist(ctx context.Context, size int, duration time.Duration, err error) {
	m.StorePersists.Add(ctx, 1)
	m.StorePersistDuration.Record(ctx, duration.Seconds())
	if err != nil {
		m.StorePersistFailures.Add(ctx, 1)
		return
	}
	m.StoreImageBytes.Record(ctx, int64(size))
}

func (m *Metrics) IncrementConnections(ctx context.Context) {
	m.ActiveConnections.Add(ctx, 1)
}

func (m *Metrics) DecrementConnections(ctx context.Context) {
	m.ActiveConnections.Add(ctx, -1)
}
