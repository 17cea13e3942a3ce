package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// MeterName is the instrumentation scope of every instrument below
const MeterName = "login-management-go"

// Metrics holds the drain and partner API instruments
type Metrics struct {
	drainCount       metric.Int64Counter
	drainDuration    metric.Float64Histogram
	itemCount        metric.Int64Counter
	partnerCallCount metric.Int64Counter
	tokenRefresh     metric.Int64Counter
}

// NewMetrics creates the instruments on mp. A nil provider yields no-op instruments.
func NewMetrics(mp metric.MeterProvider) *Metrics {
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	meter := mp.Meter(MeterName)
	m := &Metrics{}

	// instrument creation only fails on invalid names; fall back to the bare name
	var err error

	m.drainCount, err = meter.Int64Counter(
		"login_management.drain.count",
		metric.WithDescription("Number of completed queue drains"),
		metric.WithUnit("{drain}"),
	)
	if err != nil {
		m.drainCount, _ = meter.Int64Counter("login_management.drain.count")
	}

	m.drainDuration, err = meter.Float64Histogram(
		"login_management.drain.duration",
		metric.WithDescription("Duration of a queue drain in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		m.drainDuration, _ = meter.Float64Histogram("login_management.drain.duration")
	}

	m.itemCount, err = meter.Int64Counter(
		"login_management.item.count",
		metric.WithDescription("Queue items brought to a terminal status"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		m.itemCount, _ = meter.Int64Counter("login_management.item.count")
	}

	m.partnerCallCount, err = meter.Int64Counter(
		"login_management.partner.call.count",
		metric.WithDescription("Calls made to the partner API"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		m.partnerCallCount, _ = meter.Int64Counter("login_management.partner.call.count")
	}

	m.tokenRefresh, err = meter.Int64Counter(
		"login_management.token.refresh.count",
		metric.WithDescription("Access token exchanges"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		m.tokenRefresh, _ = meter.Int64Counter("login_management.token.refresh.count")
	}

	return m
}

// Noop returns metrics that record nothing
func Noop() *Metrics {
	return NewMetrics(nil)
}

// RecordDrain records a finished drain
func (m *Metrics) RecordDrain(ctx context.Context, interrupted bool, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.Bool("drain.interrupted", interrupted))
	m.drainCount.Add(ctx, 1, attrs)
	m.drainDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordItem records one terminal transition
func (m *Metrics) RecordItem(ctx context.Context, managementType, status string) {
	m.itemCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("item.type", managementType),
		attribute.String("item.status", status),
	))
}

// RecordPartnerCall records one partner API call. statusCode is 0 when no response was received.
func (m *Metrics) RecordPartnerCall(ctx context.Context, operation string, statusCode int, success bool) {
	m.partnerCallCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("partner.operation", operation),
		attribute.Int("http.status_code", statusCode),
		attribute.Bool("partner.success", success),
	))
}

// RecordTokenRefresh records one token exchange
func (m *Metrics) RecordTokenRefresh(ctx context.Context, success bool) {
	m.tokenRefresh.Add(ctx, 1, metric.WithAttributes(attribute.Bool("token.success", success)))
}
