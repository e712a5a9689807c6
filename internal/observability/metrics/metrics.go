package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Grant outcomes recorded on the grant outcome counter.
const (
	OutcomeGranted      = "granted"
	OutcomeZeroPoints   = "zero_points"
	OutcomeInvalidInput = "invalid_input"
	OutcomeUnauthorized = "unauthorized"
	OutcomeNoAccount    = "account_not_found"
	OutcomeTxFailed     = "transaction_failed"
)

// Metrics exposes the loyalty domain instruments.
type Metrics struct {
	pointsGranted   metric.Int64Counter
	grantOutcomes   metric.Int64Counter
	ledgerEntries   metric.Int64Counter
	txRetries       metric.Int64Counter
	rateLimitDenied metric.Int64Counter
}

// NewProvider configures and registers the meter provider. A disabled config installs a noop provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New creates the domain instruments on provider.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "alicia-loyalty"
	}
	if provider == nil {
		provider = noop.NewMeterProvider()
	}
	meter := provider.Meter(name)

	pointsGranted, err := meter.Int64Counter("loyalty_points_granted_total",
		metric.WithDescription("Points credited to reader accounts."))
	if err != nil {
		return nil, err
	}
	grantOutcomes, err := meter.Int64Counter("loyalty_grant_requests_total",
		metric.WithDescription("Grant requests by outcome."))
	if err != nil {
		return nil, err
	}
	ledgerEntries, err := meter.Int64Counter("loyalty_ledger_entries_total",
		metric.WithDescription("Ledger entries appended."))
	if err != nil {
		return nil, err
	}
	txRetries, err := meter.Int64Counter("loyalty_grant_tx_retries_total",
		metric.WithDescription("Grant transactions re-run after a write conflict."))
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("loyalty_rate_limit_denied_total",
		metric.WithDescription("Requests rejected by a rate limiter."))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		pointsGranted:   pointsGranted,
		grantOutcomes:   grantOutcomes,
		ledgerEntries:   ledgerEntries,
		txRetries:       txRetries,
		rateLimitDenied: rateLimitDenied,
	}, nil
}

// RecordGrant counts a committed grant and the ledger entry it appended.
func (m *Metrics) RecordGrant(ctx context.Context, tenantID string, points int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(FilterAttributes(attribute.String("tenant_id", strings.TrimSpace(tenantID)))...)
	m.pointsGranted.Add(ctx, points, attrs)
	m.ledgerEntries.Add(ctx, 1, attrs)
}

func (m *Metrics) RecordGrantOutcome(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.grantOutcomes.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordTxRetry(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("reason", strings.TrimSpace(reason)))
	m.txRetries.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// User ids and key ids are unbounded, so they never become labels.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"tenant_id":   {},
	"outcome":     {},
	"endpoint":    {},
	"status_code": {},
	"reason":      {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
