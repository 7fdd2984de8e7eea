package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 封装了基于 Prometheus 的指标采集注册表及预定义的标准监控指标。
type Metrics struct {
	registry *prometheus.Registry // 内部独立的 Prometheus 注册中心

	// 预定义的内核标准指标，减少各业务模块的样板代码
	ValuationRequestsTotal  *prometheus.CounterVec   // 估值请求总量 (维度: operation, status)
	ValuationDuration       *prometheus.HistogramVec // 估值请求耗时分布 (维度: operation)
	SegmentationFallback    *prometheus.CounterVec   // 分段模型退化到兜底分层的次数 (维度: from_tier, to_tier)
	ModelReloadsTotal       *prometheus.CounterVec   // 模型 artifact 重新加载次数 (维度: status)
	BuildInfo               *prometheus.GaugeVec     // 构建信息 (维度: service, version)
}

// NewMetrics 初始化并返回一个新的指标采集器。
// 它会自动注册 Go 运行时指标和进程指标。
func NewMetrics(serviceName string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{registry: reg}

	m.ValuationRequestsTotal = m.NewCounterVec(prometheus.CounterOpts{
		Name: "valuation_requests_total",
		Help: "Total number of valuation kernel operations",
	}, []string{"operation", "status"})

	m.ValuationDuration = m.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "valuation_request_duration_seconds",
		Help:    "Valuation kernel operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	m.SegmentationFallback = m.NewCounterVec(prometheus.CounterOpts{
		Name: "segmentation_fallback_total",
		Help: "Number of loans that fell back to a lower-priority segmentation tier",
	}, []string{"from_tier", "to_tier"})

	m.ModelReloadsTotal = m.NewCounterVec(prometheus.CounterOpts{
		Name: "model_registry_reloads_total",
		Help: "Total number of model registry reload attempts",
	}, []string{"status"})

	slog.Info("unified metrics registry initialized", "service", serviceName)
	return m
}

// NewCounterVec 创建并注册一个新的计数器指标。
func (m *Metrics) NewCounterVec(opts prometheus.CounterOpts, labelNames []string) *prometheus.CounterVec {
	cv := prometheus.NewCounterVec(opts, labelNames)
	m.registry.MustRegister(cv)
	return cv
}

// NewGaugeVec 创建并注册一个新的仪表盘指标。
func (m *Metrics) NewGaugeVec(opts prometheus.GaugeOpts, labelNames []string) *prometheus.GaugeVec {
	gv := prometheus.NewGaugeVec(opts, labelNames)
	m.registry.MustRegister(gv)
	return gv
}

// NewHistogramVec 创建并注册一个新的直方图指标。
func (m *Metrics) NewHistogramVec(opts prometheus.HistogramOpts, labelNames []string) *prometheus.HistogramVec {
	hv := prometheus.NewHistogramVec(opts, labelNames)
	m.registry.MustRegister(hv)
	return hv
}

// Handler 返回用于暴露指标的 HTTP 处理器。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ExposeHttp 在指定端口启动一个独立的 HTTP 服务器用于暴露指标数据。
// 返回一个清理函数用于优雅关闭该服务器。
func (m *Metrics) ExposeHttp(port string) func() {
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: m.Handler(),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown metrics server", "error", err)
		}
	}
}
