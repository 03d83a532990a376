package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// MeterName 本服务使用的 meter 名称
const MeterName = "github.com/langchou/garagebook"

// NewProvider 使用给定 reader 创建 MeterProvider
func NewProvider(serviceName string, reader sdkmetric.Reader) *sdkmetric.MeterProvider {
	res := resource.NewSchemaless(attribute.String("service.name", serviceName))
	if merged, err := resource.Merge(resource.Default(), res); err == nil {
		res = merged
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)
}

// NewOTLPProvider 按 interval 周期推送到 OTLP collector
// endpoint 可为 host:port（明文）或完整 URL
func NewOTLPProvider(ctx context.Context, serviceName, endpoint string, interval time.Duration) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(endpoint), otlpmetricgrpc.WithInsecure()}
	if strings.Contains(endpoint, "://") {
		opts = []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpointURL(endpoint)}
	}

	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("otlp metric exporter: %w", err)
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return NewProvider(serviceName, sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))), nil
}
