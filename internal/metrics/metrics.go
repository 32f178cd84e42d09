// Package metrics 基于 OpenTelemetry 记录拦截、缓存写入与预热计数，并通过 Prometheus 导出。
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "github.com/any-hub/swcache"

// Recorder 记录代理运行指标。实现必须并发安全且不得 panic。
type Recorder interface {
	// RecordFetch 记录一次 fetch 事件的分类与响应来源。
	RecordFetch(ctx context.Context, class, source string)
	// RecordCacheWrite 记录一次后台缓存写入，err 非空时计入错误数。
	RecordCacheWrite(ctx context.Context, err error)
	// RecordSeed 记录一次缓存预热的结果。
	RecordSeed(ctx context.Context, version string, entries int, err error)
}

type otelRecorder struct {
	fetchTotal  metric.Int64Counter
	writeTotal  metric.Int64Counter
	writeErrors metric.Int64Counter
	seedTotal   metric.Int64Counter
	seedEntries metric.Int64Counter
}

// NewRecorder 在给定 meter 上创建计数器。
func NewRecorder(meter metric.Meter) (Recorder, error) {
	fetchTotal, err := meter.Int64Counter(
		"swcache.fetch.total",
		metric.WithDescription("Intercepted fetch events by class and response source"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	writeTotal, err := meter.Int64Counter(
		"swcache.cache.write.total",
		metric.WithDescription("Background cache writes"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, err
	}

	writeErrors, err := meter.Int64Counter(
		"swcache.cache.write.errors",
		metric.WithDescription("Background cache writes that failed"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	seedTotal, err := meter.Int64Counter(
		"swcache.seed.total",
		metric.WithDescription("Cache seed attempts by outcome"),
		metric.WithUnit("{seed}"),
	)
	if err != nil {
		return nil, err
	}

	seedEntries, err := meter.Int64Counter(
		"swcache.seed.entries",
		metric.WithDescription("Manifest entries stored by successful seeds"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, err
	}

	return &otelRecorder{
		fetchTotal:  fetchTotal,
		writeTotal:  writeTotal,
		writeErrors: writeErrors,
		seedTotal:   seedTotal,
		seedEntries: seedEntries,
	}, nil
}

func (r *otelRecorder) RecordFetch(ctx context.Context, class, source string) {
	r.fetchTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("class", class),
		attribute.String("source", source),
	))
}

func (r *otelRecorder) RecordCacheWrite(ctx context.Context, err error) {
	r.writeTotal.Add(ctx, 1)
	if err != nil {
		r.writeErrors.Add(ctx, 1)
	}
}

func (r *otelRecorder) RecordSeed(ctx context.Context, version string, entries int, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	opt := metric.WithAttributes(
		attribute.String("version", version),
		attribute.String("outcome", outcome),
	)
	r.seedTotal.Add(ctx, 1, opt)
	if err == nil && entries > 0 {
		r.seedEntries.Add(ctx, int64(entries), metric.WithAttributes(attribute.String("version", version)))
	}
}

type noopRecorder struct{}

// Noop 返回丢弃所有记录的 Recorder。
func Noop() Recorder { return noopRecorder{} }

func (noopRecorder) RecordFetch(context.Context, string, string)    {}
func (noopRecorder) RecordCacheWrite(context.Context, error)        {}
func (noopRecorder) RecordSeed(context.Context, string, int, error) {}

// Provider 持有 MeterProvider 与 Prometheus 注册表。
type Provider struct {
	Recorder Recorder

	meterProvider *sdkmetric.MeterProvider
	registry      *prometheus.Registry
}

// NewPrometheusProvider 创建以 Prometheus exporter 作为 reader 的 MeterProvider，
// 指标写入独立注册表，避免与全局默认注册表冲突。
func NewPrometheusProvider() (*Provider, error) {
	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))

	recorder, err := NewRecorder(mp.Meter(meterName))
	if err != nil {
		_ = mp.Shutdown(context.Background())
		return nil, err
	}
	return &Provider{Recorder: recorder, meterProvider: mp, registry: registry}, nil
}

// Handler 返回 Prometheus 文本格式的 HTTP handler。
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Shutdown 刷新并关闭 MeterProvider。
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.meterProvider == nil {
		return nil
	}
	return p.meterProvider.Shutdown(ctx)
}
