// Package observability wires the meter provider and rating instruments.
package observability

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/quentel/ratecore/internal/config"
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

// Metrics exposes application-level instruments.
type Metrics struct {
	recordsRated metric.Int64Counter
	ratingErrors metric.Int64Counter
	counterMoves metric.Int64Counter
	authRequests metric.Int64Counter
	chargedValue metric.Float64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Metrics.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.Metrics.Exporter, cfg.Metrics.Endpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Info("shutting down meter provider")
			return provider.Shutdown(ctx)
		},
	})

	return provider, nil
}

// New configures the rating instruments.
func New(cfg config.Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.AppName)
	if name == "" {
		name = "ratecore"
	}
	meter := provider.Meter(name)

	recordsRated, err := meter.Int64Counter("ratecore_records_rated_total")
	if err != nil {
		return nil, err
	}
	ratingErrors, err := meter.Int64Counter("ratecore_rating_errors_total")
	if err != nil {
		return nil, err
	}
	counterMoves, err := meter.Int64Counter("ratecore_counter_moves_total")
	if err != nil {
		return nil, err
	}
	authRequests, err := meter.Int64Counter("ratecore_authorization_requests_total")
	if err != nil {
		return nil, err
	}
	chargedValue, err := meter.Float64Counter("ratecore_charged_value_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		recordsRated: recordsRated,
		ratingErrors: ratingErrors,
		counterMoves: counterMoves,
		authRequests: authRequests,
		chargedValue: chargedValue,
	}, nil
}

// RecordRated counts one rated record and its charged value.
func (m *Metrics) RecordRated(ctx context.Context, charged float64) {
	if m == nil {
		return
	}
	m.recordsRated.Add(ctx, 1)
	m.chargedValue.Add(ctx, charged)
}

// RecordRatingError counts a per-record rating fault by kind.
func (m *Metrics) RecordRatingError(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.ratingErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordCounterMove counts a counter movement by outcome.
func (m *Metrics) RecordCounterMove(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.counterMoves.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordAuthorization counts an authorization request by mode.
func (m *Metrics) RecordAuthorization(ctx context.Context, mode string) {
	if m == nil {
		return
	}
	m.authRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
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

// Module wires the meter provider and instruments.
var Module = fx.Module("observability",
	fx.Provide(NewProvider),
	fx.Provide(New),
)
